package dvm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// Broadcaster delivers a signed event to a set of relay endpoints,
// best-effort: individual endpoint failures are logged by the
// implementation, never surfaced.
type Broadcaster interface {
	Broadcast(ctx context.Context, urls []string, ev nostr.Event)
}

// routingTags stay in the clear on confidential responses so relays can
// still index and deliver them.
var routingTags = map[string]bool{
	"e":      true,
	"p":      true,
	"status": true,
	"amount": true,
}

// Publisher signs and broadcasts status and result events for a job. Events
// are addressed with routing tags referencing the originating request and
// requester, and go to the union of the requester's preferred relays and the
// agent's configured relays.
type Publisher struct {
	privateKey string
	publicKey  string
	relays     []string
	pool       Broadcaster
	logger     *slog.Logger
}

// NewPublisher creates a publisher signing with the agent's key.
func NewPublisher(privateKey string, relays []string, pool Broadcaster, logger *slog.Logger) (*Publisher, error) {
	pub, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return &Publisher{
		privateKey: privateKey,
		publicKey:  pub,
		relays:     relays,
		pool:       pool,
		logger:     logger,
	}, nil
}

// PublicKey returns the agent's identity.
func (p *Publisher) PublicKey() string { return p.publicKey }

// Status publishes a kind 7000 progress event for the job.
func (p *Publisher) Status(ctx context.Context, job *Job, status, message string, extra ...nostr.Tag) error {
	tags := nostr.Tags{
		{"status", status},
		{"e", job.ID()},
		{"p", job.Requester()},
	}
	tags = append(tags, extra...)

	return p.publish(ctx, job, KindJobStatus, tags, message)
}

// Result publishes the kind 6205 final-output event. The content carries the
// assembled video event; the tags echo the originating request.
func (p *Publisher) Result(ctx context.Context, job *Job, content string) error {
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	tags := nostr.Tags{
		{"request", string(requestJSON)},
		{"e", job.ID()},
		{"p", job.Requester()},
	}
	if input := InputTag(&job.Request); input != nil {
		tags = append(tags, input)
	}

	return p.publish(ctx, job, KindJobResult, tags, content)
}

func (p *Publisher) publish(ctx context.Context, job *Job, kind int, tags nostr.Tags, content string) error {
	ev := nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}

	if job.Encrypted {
		wrapped, err := p.ensureEncrypted(ev, job.Requester())
		if err != nil {
			return err
		}
		ev = wrapped
	}

	if err := ev.Sign(p.privateKey); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}

	urls := UnionRelays(PreferredRelays(&job.Request), p.relays)
	p.logger.Debug("Publishing event",
		slog.String("job_id", job.ID()),
		slog.Int("kind", kind),
		slog.Int("relays", len(urls)),
	)
	p.pool.Broadcast(ctx, urls, ev)

	return nil
}

// ensureEncrypted serializes every non-routing tag (plus the original
// content, if any) and nip04-encrypts them to the recipient. Routing tags
// stay in the clear and an "encrypted" sentinel tag marks the event.
func (p *Publisher) ensureEncrypted(ev nostr.Event, recipient string) (nostr.Event, error) {
	var keep, wrap nostr.Tags
	for _, tag := range ev.Tags {
		if len(tag) > 0 && routingTags[tag[0]] {
			keep = append(keep, tag)
		} else {
			wrap = append(wrap, tag)
		}
	}
	if ev.Content != "" {
		wrap = append(wrap, nostr.Tag{"content", ev.Content})
	}

	payload, err := json.Marshal(wrap)
	if err != nil {
		return ev, fmt.Errorf("failed to serialize confidential tags: %w", err)
	}

	shared, err := nip04.ComputeSharedSecret(recipient, p.privateKey)
	if err != nil {
		return ev, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	encrypted, err := nip04.Encrypt(string(payload), shared)
	if err != nil {
		return ev, fmt.Errorf("failed to encrypt tags: %w", err)
	}

	ev.Tags = append(keep, nostr.Tag{"encrypted"})
	ev.Content = encrypted
	return ev, nil
}
