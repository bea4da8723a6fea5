package dvm

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobState
		to      JobState
		wantErr bool
	}{
		{name: "payment required to received", from: StatePaymentRequired, to: StatePaymentReceived},
		{name: "payment received to executing", from: StatePaymentReceived, to: StateExecuting},
		{name: "executing to completed", from: StateExecuting, to: StateCompleted},
		{name: "executing to failed", from: StateExecuting, to: StateFailed},
		{name: "skipping payment", from: StatePaymentRequired, to: StateExecuting, wantErr: true},
		{name: "completing unpaid job", from: StatePaymentRequired, to: StateCompleted, wantErr: true},
		{name: "completed is terminal", from: StateCompleted, to: StateExecuting, wantErr: true},
		{name: "failed is terminal", from: StateFailed, to: StateExecuting, wantErr: true},
		{name: "rejected is terminal", from: StateIntakeRejected, to: StatePaymentRequired, wantErr: true},
		{name: "no re-entry", from: StateExecuting, to: StateExecuting, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{State: tt.from}
			err := job.Transition(tt.to)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, job.State)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, job.State)
		})
	}
}

func TestJob_Identity(t *testing.T) {
	job := &Job{Request: nostr.Event{ID: "abc", PubKey: "def"}}
	assert.Equal(t, "abc", job.ID())
	assert.Equal(t, "def", job.Requester())
}

func TestUnionRelays(t *testing.T) {
	got := UnionRelays(
		[]string{"wss://a", "wss://b", ""},
		[]string{"wss://b", "wss://c"},
	)
	assert.Equal(t, []string{"wss://a", "wss://b", "wss://c"}, got)
}

func TestPreferredRelays(t *testing.T) {
	ev := &nostr.Event{Tags: nostr.Tags{
		{"i", "https://example.com/v", "url"},
		{"relays", "wss://a", "wss://b"},
	}}
	assert.Equal(t, []string{"wss://a", "wss://b"}, PreferredRelays(ev))

	assert.Nil(t, PreferredRelays(&nostr.Event{}))
}

func TestRequestParam(t *testing.T) {
	ev := &nostr.Event{Tags: nostr.Tags{
		{"param", "thumbnailCount", "5"},
	}}
	assert.Equal(t, "5", RequestParam(ev, "thumbnailCount", "3"))
	assert.Equal(t, "3", RequestParam(ev, "missing", "3"))
}
