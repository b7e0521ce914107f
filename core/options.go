package orchestration

import (
	"time"

	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/core/intents"
	"github.com/koscakluka/booking-core/core/sessions"
)

type EngineOption func(*Engine)

// WithIntentResolver sets the resolver that maps utterances to
// structured intents. Required.
func WithIntentResolver(resolver intents.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = resolver }
}

// WithCalendarGateway sets the calendar backend. Required.
func WithCalendarGateway(gateway calendars.Gateway) EngineOption {
	return func(e *Engine) { e.calendar = gateway }
}

// WithSessionStore overrides the default in-memory session store.
func WithSessionStore(store sessions.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithTimezone sets the default timezone for sessions that have not
// resolved one of their own.
func WithTimezone(loc *time.Location) EngineOption {
	return func(e *Engine) { e.timezone = loc }
}

// WithConfidenceThreshold overrides the minimum per-field confidence;
// extracted fields below it are treated as absent.
func WithConfidenceThreshold(threshold float64) EngineOption {
	return func(e *Engine) { e.confidenceThreshold = threshold }
}

// WithConfirmationTTL overrides how long a proposed mutation may await
// confirmation before it is discarded.
func WithConfirmationTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.confirmationTTL = ttl }
}

// WithHistoryLimit overrides how many turns of history are kept per
// session.
func WithHistoryLimit(limit int) EngineOption {
	return func(e *Engine) { e.historyLimit = limit }
}

// WithResolverTimeout bounds each intent resolver call.
func WithResolverTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) { e.resolverTimeout = timeout }
}

// WithGatewayTimeout bounds each calendar gateway call.
func WithGatewayTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) { e.gatewayTimeout = timeout }
}

// WithConflictOptions forwards options to the engine's conflict
// resolver.
func WithConflictOptions(opts ...ConflictResolverOption) EngineOption {
	return func(e *Engine) { e.conflictOpts = append(e.conflictOpts, opts...) }
}
