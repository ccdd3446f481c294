package main

import (
	"campaign-targeting/internal/app/server"
	"campaign-targeting/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)
	server.Run(cfg)
}
