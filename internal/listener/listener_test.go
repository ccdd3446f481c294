package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterBounds(t *testing.T) {
	tests := []struct {
		name string
		base time.Duration
		lo   time.Duration
		hi   time.Duration
	}{
		{"configured base", 4 * time.Second, 2 * time.Second, 6 * time.Second},
		{"zero base falls back to a second", 0, 500 * time.Millisecond, 1500 * time.Millisecond},
		{"negative base falls back to a second", -time.Second, 500 * time.Millisecond, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				d := jitter(tt.base)
				assert.GreaterOrEqual(t, d, tt.lo)
				assert.LessOrEqual(t, d, tt.hi)
			}
		})
	}
}

type countingRefresher struct {
	calls int
	err   error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.calls++
	return c.err
}

func TestRefreshers(t *testing.T) {
	failing := &countingRefresher{err: errors.New("db down")}
	ok := &countingRefresher{}

	err := Refreshers{failing, ok}.Refresh(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "later members still refresh")

	assert.NoError(t, Refreshers{ok}.Refresh(context.Background()))
}

func TestListenSQL(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"tg_population_change", `LISTEN "tg_population_change"`},
		{"Mixed Case", `LISTEN "Mixed Case"`},
		{`x"; DROP TABLE customers; --`, `LISTEN "x""; DROP TABLE customers; --"`},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.want, listenSQL(tt.channel))
		})
	}
}
