package listener

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Refresher reloads whatever the notifications invalidate.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Refreshers fans one refresh out to several snapshots. Every member is
// refreshed even if an earlier one fails.
type Refreshers []Refresher

func (rs Refreshers) Refresh(ctx context.Context) error {
	var errs []error
	for _, r := range rs {
		if err := r.Refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultDebounce is how long a burst of notifications is coalesced into
// one refresh.
const DefaultDebounce = 200 * time.Millisecond

// ListenAndRefresh LISTENs on channel and refreshes r once per burst of
// notifications. A lost connection is re-acquired after a jittered backoff.
// It returns when ctx is done.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, baseBackoff time.Duration) {
	for {
		err := listen(ctx, pool, r, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("notify wait error")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, listenSQL(channel)); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")

	// Changes may have landed while no connection was listening.
	if err := r.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("refresh snapshot error")
	}

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		n := 1 + drain(ctx, conn, DefaultDebounce)
		log.Info().Str("channel", ntf.Channel).Int("notifications", n).Msg("db change; refreshing snapshot")
		if err := r.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh snapshot error")
		}
	}
}

// listenSQL quotes channel as an identifier; it comes from config.
func listenSQL(channel string) string {
	return "LISTEN " + pgx.Identifier{channel}.Sanitize()
}

// drain swallows notifications arriving within window of each other and
// returns how many it consumed.
func drain(ctx context.Context, conn *pgxpool.Conn, window time.Duration) int {
	n := 0
	for {
		wctx, cancel := context.WithTimeout(ctx, window)
		_, err := conn.Conn().WaitForNotification(wctx)
		cancel()
		if err != nil {
			return n
		}
		n++
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
