package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"campaign-targeting/internal/observability"
)

const (
	DefaultAPIURL      = "https://api.openai.com/v1/chat/completions"
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
	DefaultMinInterval = 2 * time.Second

	systemPrompt = "You are a marketing expert that helps create engaging campaign messages."
)

var fallbackMessages = map[string]string{
	"general":     "Thank you for choosing our service! We're excited to help you achieve your goals.",
	"promotional": "Limited time offer! Don't miss out on this exclusive opportunity.",
}

// Request describes the campaign a message is written for. Audience is a
// text rendering of the targeting predicate.
type Request struct {
	Name        string
	Description string
	Audience    string
}

// Message is generated copy. Fallback marks canned text returned because
// the completion API was rate limited.
type Message struct {
	Text     string `json:"message"`
	Fallback bool   `json:"fallback"`
}

type Config struct {
	APIURL      string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// MinInterval is the minimum spacing between two completion calls.
	MinInterval time.Duration
	// Fallback enables canned messages when the API answers 429.
	Fallback bool
}

// Client calls a chat-completions API. Its rate limiter belongs to the
// client value, so separate clients (and tests) never share pacing state.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config, hc *http.Client) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Client{cfg: cfg, http: hc, limiter: rate.NewLimiter(limit, 1)}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate writes a campaign message. It waits for the client's rate limiter
// first; a 429 from the API yields a canned message when Fallback is set.
func (c *Client) Generate(ctx context.Context, req Request) (Message, error) {
	if c.cfg.APIKey == "" {
		return Message{}, c.fail(&Error{Reason: ErrInvalidCredentials, Detail: "no API key configured"})
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Message{}, err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt(req)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	log.Debug().Str("campaign", req.Name).Msg("generating campaign message")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, c.fail(&Error{Reason: ErrServiceUnavailable, Detail: err.Error()})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error().Int("status", resp.StatusCode).Bytes("body", detail).Msg("completion API error")
		gerr := &Error{Reason: classify(resp.StatusCode), Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
		if errors.Is(gerr, ErrRateLimited) && c.cfg.Fallback {
			observability.GenerationsTotal.WithLabelValues("fallback").Inc()
			return Message{Text: fallbackFor(req.Description), Fallback: true}, nil
		}
		return Message{}, c.fail(gerr)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, c.fail(&Error{Reason: ErrUnknown, Status: resp.StatusCode, Detail: "invalid response: " + err.Error()})
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Message{}, c.fail(&Error{Reason: ErrUnknown, Status: resp.StatusCode, Detail: "empty completion"})
	}
	observability.GenerationsTotal.WithLabelValues("ok").Inc()
	return Message{Text: strings.TrimSpace(out.Choices[0].Message.Content)}, nil
}

func (c *Client) fail(err *Error) error {
	observability.GenerationsTotal.WithLabelValues(err.Reason.Error()).Inc()
	return err
}

func prompt(req Request) string {
	desc := req.Description
	if desc == "" {
		desc = "N/A"
	}
	audience := req.Audience
	if audience == "" {
		audience = "General audience"
	}
	return fmt.Sprintf(`Create a compelling marketing message for a campaign with the following details:
Name: %s
Description: %s
Target Audience: %s

The message should be concise, engaging, and tailored to the target audience.
Keep the message under 200 words.`, req.Name, desc, audience)
}

func fallbackFor(description string) string {
	if strings.Contains(strings.ToLower(description), "promotion") {
		return fallbackMessages["promotional"]
	}
	return fallbackMessages["general"]
}
