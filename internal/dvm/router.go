package dvm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// PaymentRequester announces the payment requirement for an accepted job.
type PaymentRequester interface {
	RequestPayment(ctx context.Context, job *Job) error
}

// PaymentMatcher correlates an unwrapped DM payload to a pending job.
type PaymentMatcher interface {
	Match(ctx context.Context, sender, plaintext string) error
}

// Router dispatches inbound relay events to the job intake path or the
// payment DM path. Every event id is recorded in the dedup ledger before
// processing starts, so a crashing handler can never cause a reprocessing
// loop. The ledger lives for the process lifetime.
type Router struct {
	agentKey string
	intake   *Intake
	payments PaymentRequester
	matcher  PaymentMatcher
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewRouter creates an event router.
func NewRouter(agentKey string, intake *Intake, payments PaymentRequester, matcher PaymentMatcher, logger *slog.Logger) *Router {
	return &Router{
		agentKey: agentKey,
		intake:   intake,
		payments: payments,
		matcher:  matcher,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

// Handle processes one inbound event. Duplicates are a no-op: multi-relay
// subscriptions are expected to overlap. Errors from either path are logged
// and never propagate; one bad event must not take the router down.
func (r *Router) Handle(ctx context.Context, ev *nostr.Event) {
	if ev == nil {
		return
	}
	if !r.markSeen(ev.ID) {
		return
	}

	var err error
	switch ev.Kind {
	case KindJobRequest:
		err = r.handleRequest(ctx, ev)
	case KindGiftWrap:
		err = r.handleEnvelope(ctx, ev)
	default:
		r.logger.Debug("Ignoring event of unexpected kind",
			slog.String("event_id", ev.ID),
			slog.Int("kind", ev.Kind),
		)
	}

	if err != nil {
		r.logger.Warn("Skipped event",
			slog.String("event_id", ev.ID),
			slog.Int("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) handleRequest(ctx context.Context, ev *nostr.Event) error {
	request, wasEncrypted, err := EnsureDecrypted(ev, r.agentKey)
	if err != nil {
		return err
	}

	job, err := r.intake.Accept(request, wasEncrypted)
	if err != nil {
		// Rejection policy: log only, no network-visible event.
		r.logger.Info("Job rejected",
			slog.String("event_id", ev.ID),
			slog.String("reason", err.Error()),
		)
		return nil
	}

	return r.payments.RequestPayment(ctx, job)
}

func (r *Router) handleEnvelope(ctx context.Context, ev *nostr.Event) error {
	sender, plaintext, err := Unwrap(ev, r.agentKey)
	if err != nil {
		return err
	}
	return r.matcher.Match(ctx, sender, plaintext)
}

// markSeen inserts the id into the dedup ledger, returning false when it was
// already present.
func (r *Router) markSeen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	return true
}

// SeenCount reports the dedup ledger size.
func (r *Router) SeenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
