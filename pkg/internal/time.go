package internal

import (
	"context"
	"time"

	"github.com/jlrickert/cli-toolkit/clock"
)

type clockKey struct{}

// WithClock returns a copy of ctx that carries c.
func WithClock(ctx context.Context, c clock.Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, c)
}

// ClockFromContext returns the clock carried on ctx, or the process default.
func ClockFromContext(ctx context.Context) clock.Clock {
	c, _ := ctx.Value(clockKey{}).(clock.Clock)
	return clock.OrDefault(c)
}

// Now returns the current time from the clock carried on ctx.
func Now(ctx context.Context) time.Time {
	return ClockFromContext(ctx).Now()
}

// ISO8601 formats the context clock's current time in UTC as RFC 3339.
func ISO8601(ctx context.Context) string {
	return Now(ctx).UTC().Format(time.RFC3339)
}
