package dvm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	urls   [][]string
	events []nostr.Event
}

func (c *captureBroadcaster) Broadcast(_ context.Context, urls []string, ev nostr.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, urls)
	c.events = append(c.events, ev)
}

func publisherJob(requesterKey string, tags nostr.Tags, encrypted bool) *Job {
	pub, _ := nostr.GetPublicKey(requesterKey)
	return &Job{
		Request: nostr.Event{
			ID:     "req1",
			PubKey: pub,
			Kind:   KindJobRequest,
			Tags:   tags,
		},
		URL:       "https://example.com/v",
		Encrypted: encrypted,
		State:     StatePaymentRequired,
	}
}

func TestPublisher_Status(t *testing.T) {
	sink := &captureBroadcaster{}
	agentKey := nostr.GeneratePrivateKey()
	publisher, err := NewPublisher(agentKey, []string{"wss://agent.example"}, sink, discard)
	require.NoError(t, err)

	requesterKey := nostr.GeneratePrivateKey()
	job := publisherJob(requesterKey, nostr.Tags{
		{"i", "https://example.com/v", "url"},
	}, false)

	require.NoError(t, publisher.Status(context.Background(), job, StatusProcessing, "Starting video download"))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]

	assert.Equal(t, KindJobStatus, ev.Kind)
	assert.Equal(t, publisher.PublicKey(), ev.PubKey)
	assert.Equal(t, "Starting video download", ev.Content)
	assert.Equal(t, nostr.Tag{"status", "processing"}, ev.Tags.Find("status"))
	assert.Equal(t, nostr.Tag{"e", "req1"}, ev.Tags.Find("e"))
	assert.Equal(t, nostr.Tag{"p", job.Requester()}, ev.Tags.Find("p"))

	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublisher_BroadcastsToRequesterRelaysToo(t *testing.T) {
	sink := &captureBroadcaster{}
	agentKey := nostr.GeneratePrivateKey()
	publisher, err := NewPublisher(agentKey, []string{"wss://agent.example", "wss://shared.example"}, sink, discard)
	require.NoError(t, err)

	job := publisherJob(nostr.GeneratePrivateKey(), nostr.Tags{
		{"relays", "wss://requester.example", "wss://shared.example"},
	}, false)

	require.NoError(t, publisher.Status(context.Background(), job, StatusProcessing, ""))

	require.Len(t, sink.urls, 1)
	assert.Equal(t, []string{"wss://requester.example", "wss://shared.example", "wss://agent.example"}, sink.urls[0])
}

func TestPublisher_Result(t *testing.T) {
	sink := &captureBroadcaster{}
	agentKey := nostr.GeneratePrivateKey()
	publisher, err := NewPublisher(agentKey, []string{"wss://agent.example"}, sink, discard)
	require.NoError(t, err)

	job := publisherJob(nostr.GeneratePrivateKey(), nostr.Tags{
		{"i", "https://example.com/v", "url"},
	}, false)

	require.NoError(t, publisher.Result(context.Background(), job, `{"kind":34235}`))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]

	assert.Equal(t, KindJobResult, ev.Kind)
	assert.Equal(t, `{"kind":34235}`, ev.Content)
	assert.Equal(t, nostr.Tag{"e", "req1"}, ev.Tags.Find("e"))
	assert.Equal(t, nostr.Tag{"i", "https://example.com/v", "url"}, ev.Tags.Find("i"))

	// The request tag carries the full originating event.
	requestTag := ev.Tags.Find("request")
	require.NotNil(t, requestTag)
	var original nostr.Event
	require.NoError(t, json.Unmarshal([]byte(requestTag[1]), &original))
	assert.Equal(t, "req1", original.ID)
}

func TestPublisher_EncryptedJobWrapsResponse(t *testing.T) {
	sink := &captureBroadcaster{}
	agentKey := nostr.GeneratePrivateKey()
	publisher, err := NewPublisher(agentKey, []string{"wss://agent.example"}, sink, discard)
	require.NoError(t, err)

	requesterKey := nostr.GeneratePrivateKey()
	job := publisherJob(requesterKey, nostr.Tags{
		{"i", "https://example.com/v", "url"},
	}, true)

	require.NoError(t, publisher.Result(context.Background(), job, `{"kind":34235}`))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]

	// Routing tags stay in the clear, everything else is gone.
	assert.NotNil(t, ev.Tags.Find("e"))
	assert.NotNil(t, ev.Tags.Find("p"))
	assert.NotNil(t, ev.Tags.GetFirst(nostr.Tag{"encrypted"}))
	assert.Nil(t, ev.Tags.Find("request"))
	assert.Nil(t, ev.Tags.Find("i"))
	assert.NotEqual(t, `{"kind":34235}`, ev.Content)

	// The requester can recover the confidential tags and the content.
	shared, err := nip04.ComputeSharedSecret(publisher.PublicKey(), requesterKey)
	require.NoError(t, err)
	plain, err := nip04.Decrypt(ev.Content, shared)
	require.NoError(t, err)

	var hidden nostr.Tags
	require.NoError(t, json.Unmarshal([]byte(plain), &hidden))
	assert.NotNil(t, hidden.Find("request"))
	assert.NotNil(t, hidden.Find("i"))
	assert.Equal(t, nostr.Tag{"content", `{"kind":34235}`}, hidden.Find("content"))
}

func TestPublisher_EncryptedStatusKeepsAmountClear(t *testing.T) {
	sink := &captureBroadcaster{}
	agentKey := nostr.GeneratePrivateKey()
	publisher, err := NewPublisher(agentKey, []string{"wss://agent.example"}, sink, discard)
	require.NoError(t, err)

	job := publisherJob(nostr.GeneratePrivateKey(), nil, true)
	amountTag := nostr.Tag{"amount", "1000", "creqA..."}

	require.NoError(t, publisher.Status(context.Background(), job, StatusPaymentRequired, "", amountTag))

	ev := sink.events[0]
	// Payment routing needs the amount visible even on confidential jobs.
	assert.Equal(t, amountTag, ev.Tags.Find("amount"))
	assert.Equal(t, nostr.Tag{"status", "payment-required"}, ev.Tags.Find("status"))
	assert.NotNil(t, ev.Tags.GetFirst(nostr.Tag{"encrypted"}))
}
