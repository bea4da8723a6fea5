package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/varchive/dvm/internal/cashu"
	"github.com/varchive/dvm/internal/dvm"
	"github.com/varchive/dvm/internal/tokenstore"
)

// Executor receives a paid job for execution. Implementations must not
// block the matcher.
type Executor interface {
	Execute(job *dvm.Job)
}

// Matcher correlates unwrapped DM payloads to pending jobs, validates and
// redeems the payment, persists both token forms, and hands the job off for
// execution. Every failure leaves the job pending for a later valid payment
// and surfaces nothing to the network.
type Matcher struct {
	pending    *PendingSet
	redeemer   cashu.Redeemer
	tokens     *tokenstore.Store
	publisher  *dvm.Publisher
	executor   Executor
	amountSats uint64
	logger     *slog.Logger
}

// NewMatcher creates a payment matcher.
func NewMatcher(pending *PendingSet, redeemer cashu.Redeemer, tokens *tokenstore.Store, publisher *dvm.Publisher, executor Executor, amountSats uint64, logger *slog.Logger) *Matcher {
	return &Matcher{
		pending:    pending,
		redeemer:   redeemer,
		tokens:     tokens,
		publisher:  publisher,
		executor:   executor,
		amountSats: amountSats,
		logger:     logger,
	}
}

// Match processes one decrypted DM plaintext from sender. Payloads that do
// not parse, do not reference a pending job, or do not cover the price are
// discarded with a log line only.
func (m *Matcher) Match(ctx context.Context, sender, plaintext string) error {
	var payload cashu.PaymentPayload
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return fmt.Errorf("failed to parse message for ecash: %w", err)
	}

	entry, ok := m.pending.Take(payload.ID)
	if !ok {
		m.logger.Debug("Payment references no pending job",
			slog.String("sender", sender),
			slog.String("job_ref", payload.ID),
		)
		return nil
	}
	job := entry.Job

	if payload.Unit != cashu.UnitSat {
		m.pending.Restore(entry)
		return fmt.Errorf("unsupported payment unit %q for job %s", payload.Unit, job.ID())
	}
	if got := payload.Amount(); got < m.amountSats {
		m.pending.Restore(entry)
		return fmt.Errorf("insufficient payment for job %s: got %d sat, want %d", job.ID(), got, m.amountSats)
	}

	received, err := cashu.EncodeTokenV4(payload.Token())
	if err != nil {
		m.pending.Restore(entry)
		return fmt.Errorf("failed to encode received token: %w", err)
	}
	if err := m.tokens.Append(tokenstore.ReceivedLedger, sender, received); err != nil {
		m.pending.Restore(entry)
		return err
	}

	redeemedProofs, err := m.redeemer.Redeem(ctx, payload)
	if err != nil {
		m.pending.Restore(entry)
		return fmt.Errorf("failed to redeem payment for job %s: %w", job.ID(), err)
	}

	redeemed, err := cashu.EncodeTokenV4(cashu.Token{
		Mint:   payload.Mint,
		Unit:   payload.Unit,
		Proofs: redeemedProofs,
	})
	if err != nil {
		m.pending.Restore(entry)
		return fmt.Errorf("failed to encode redeemed token: %w", err)
	}
	if err := m.tokens.Append(tokenstore.RedeemedLedger, sender, redeemed); err != nil {
		m.pending.Restore(entry)
		return err
	}

	if err := job.Transition(dvm.StatePaymentReceived); err != nil {
		return err
	}

	m.logger.Info("Payment received",
		slog.String("job_id", job.ID()),
		slog.String("sender", sender),
		slog.Uint64("amount_sats", payload.Amount()),
	)

	if err := m.publisher.Status(ctx, job, dvm.StatusProcessing, "Payment received"); err != nil {
		m.logger.Warn("Failed to publish payment-received status",
			slog.String("job_id", job.ID()),
			slog.String("error", err.Error()),
		)
	}

	m.executor.Execute(job)
	return nil
}
