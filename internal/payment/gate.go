package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/varchive/dvm/internal/cashu"
	"github.com/varchive/dvm/internal/dvm"
)

// requestMemo describes the service on outgoing payment requests.
const requestMemo = "Payment for video archive job"

// Gate announces the payment requirement for accepted jobs and records them
// as pending. It never blocks on the payment arriving.
type Gate struct {
	publisher  *dvm.Publisher
	pending    *PendingSet
	mintURL    string
	amountSats uint64
	profile    string
	logger     *slog.Logger
}

// NewGate creates a payment gate. The agent's nprofile, with its relays
// embedded, becomes the payment transport target so that confirmations can
// arrive as gift-wrapped DMs.
func NewGate(publisher *dvm.Publisher, pending *PendingSet, mintURL string, amountSats uint64, relays []string, logger *slog.Logger) (*Gate, error) {
	profile, err := nip19.EncodeProfile(publisher.PublicKey(), relays)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent profile: %w", err)
	}

	return &Gate{
		publisher:  publisher,
		pending:    pending,
		mintURL:    mintURL,
		amountSats: amountSats,
		profile:    profile,
		logger:     logger,
	}, nil
}

// RequestPayment publishes a payment-required status event carrying the
// encoded payment request and inserts the job into the pending set.
func (g *Gate) RequestPayment(ctx context.Context, job *dvm.Job) error {
	request := cashu.PaymentRequest{
		ID:          job.ID(),
		Amount:      g.amountSats,
		Unit:        cashu.UnitSat,
		SingleUse:   true,
		Mints:       []string{g.mintURL},
		Description: requestMemo,
		Transports: []cashu.Transport{
			{
				Type:   cashu.TransportNostr,
				Target: g.profile,
				Tags:   [][]string{{"n", "17"}},
			},
		},
	}

	encoded, err := request.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode payment request: %w", err)
	}

	// The amount tag is denominated in millisats.
	amountTag := nostr.Tag{"amount", strconv.FormatUint(g.amountSats*1000, 10), encoded}
	if err := g.publisher.Status(ctx, job, dvm.StatusPaymentRequired, "", amountTag); err != nil {
		return fmt.Errorf("failed to publish payment request: %w", err)
	}

	g.pending.Add(job)
	g.logger.Info("Payment requested",
		slog.String("job_id", job.ID()),
		slog.Uint64("amount_sats", g.amountSats),
	)

	return nil
}
