package dvm

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	jobs []*Job
	err  error
}

func (f *fakeGate) RequestPayment(_ context.Context, job *Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeMatcher struct {
	senders    []string
	plaintexts []string
}

func (f *fakeMatcher) Match(_ context.Context, sender, plaintext string) error {
	f.senders = append(f.senders, sender)
	f.plaintexts = append(f.plaintexts, plaintext)
	return nil
}

func TestRouter_RoutesJobRequest(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	gate := &fakeGate{}
	router := NewRouter(agentKey, NewIntake(discard), gate, &fakeMatcher{}, discard)

	router.Handle(context.Background(), requestEvent(nostr.Tags{
		{"i", "https://example.com/v", "url"},
	}))

	require.Len(t, gate.jobs, 1)
	assert.Equal(t, "req1", gate.jobs[0].ID())
	assert.Equal(t, StatePaymentRequired, gate.jobs[0].State)
}

func TestRouter_DeduplicatesAcrossRelays(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	gate := &fakeGate{}
	router := NewRouter(agentKey, NewIntake(discard), gate, &fakeMatcher{}, discard)

	ev := requestEvent(nostr.Tags{{"i", "https://example.com/v", "url"}})
	router.Handle(context.Background(), ev)
	router.Handle(context.Background(), ev)
	router.Handle(context.Background(), ev)

	assert.Len(t, gate.jobs, 1)
	assert.Equal(t, 1, router.SeenCount())
}

func TestRouter_RejectedRequestStaysSilent(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	gate := &fakeGate{}
	router := NewRouter(agentKey, NewIntake(discard), gate, &fakeMatcher{}, discard)

	// No input tag: rejected at intake, no payment request goes out.
	router.Handle(context.Background(), requestEvent(nostr.Tags{}))

	assert.Empty(t, gate.jobs)
	// The event still counts as seen; a retry will not reprocess it.
	assert.Equal(t, 1, router.SeenCount())
}

func TestRouter_RoutesGiftWrapToMatcher(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	agentPub, err := nostr.GetPublicKey(agentKey)
	require.NoError(t, err)

	senderKey := nostr.GeneratePrivateKey()
	senderPub, err := nostr.GetPublicKey(senderKey)
	require.NoError(t, err)

	matcher := &fakeMatcher{}
	router := NewRouter(agentKey, NewIntake(discard), &fakeGate{}, matcher, discard)

	wrap := giftWrap(t, senderKey, agentPub, `{"id":"J1"}`)
	router.Handle(context.Background(), wrap)

	require.Len(t, matcher.senders, 1)
	assert.Equal(t, senderPub, matcher.senders[0])
	assert.Equal(t, `{"id":"J1"}`, matcher.plaintexts[0])
}

func TestRouter_UndecryptableWrapDoesNotPanic(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	matcher := &fakeMatcher{}
	router := NewRouter(agentKey, NewIntake(discard), &fakeGate{}, matcher, discard)

	senderPub, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	router.Handle(context.Background(), &nostr.Event{
		ID:      "garbage",
		PubKey:  senderPub,
		Kind:    KindGiftWrap,
		Content: "not-ciphertext",
	})

	assert.Empty(t, matcher.senders)
}

func TestRouter_IgnoresUnexpectedKinds(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	gate := &fakeGate{}
	matcher := &fakeMatcher{}
	router := NewRouter(agentKey, NewIntake(discard), gate, matcher, discard)

	router.Handle(context.Background(), &nostr.Event{ID: "note", Kind: 1})
	router.Handle(context.Background(), nil)

	assert.Empty(t, gate.jobs)
	assert.Empty(t, matcher.senders)
}

func TestRouter_GateFailureIsContained(t *testing.T) {
	agentKey := nostr.GeneratePrivateKey()
	gate := &fakeGate{err: errors.New("relay unreachable")}
	router := NewRouter(agentKey, NewIntake(discard), gate, &fakeMatcher{}, discard)

	// Must not panic or propagate.
	router.Handle(context.Background(), requestEvent(nostr.Tags{
		{"i", "https://example.com/v", "url"},
	}))
	assert.Equal(t, 1, router.SeenCount())
}
