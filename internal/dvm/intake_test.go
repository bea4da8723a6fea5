package dvm

import (
	"log/slog"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

func requestEvent(tags nostr.Tags) *nostr.Event {
	return &nostr.Event{
		ID:     "req1",
		PubKey: "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		Kind:   KindJobRequest,
		Tags:   tags,
	}
}

func TestIntake_Accept(t *testing.T) {
	intake := NewIntake(discard)

	job, err := intake.Accept(requestEvent(nostr.Tags{
		{"i", "https://youtube.com/watch?v=abc", "url"},
	}), false)
	require.NoError(t, err)

	assert.Equal(t, "req1", job.ID())
	assert.Equal(t, "https://youtube.com/watch?v=abc", job.URL)
	assert.Equal(t, StatePaymentRequired, job.State)
	assert.Equal(t, DefaultThumbnailCount, job.ThumbnailCount)
	assert.False(t, job.Encrypted)
}

func TestIntake_EncryptedFlagIsInherited(t *testing.T) {
	intake := NewIntake(discard)

	job, err := intake.Accept(requestEvent(nostr.Tags{
		{"i", "https://example.com/v", "url"},
	}), true)
	require.NoError(t, err)
	assert.True(t, job.Encrypted)
}

func TestIntake_ThumbnailCountParam(t *testing.T) {
	intake := NewIntake(discard)

	job, err := intake.Accept(requestEvent(nostr.Tags{
		{"i", "https://example.com/v", "url"},
		{"param", "thumbnailCount", "7"},
	}), false)
	require.NoError(t, err)
	assert.Equal(t, 7, job.ThumbnailCount)
}

func TestIntake_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		tags    nostr.Tags
		wantErr error
	}{
		{
			name:    "no input",
			tags:    nostr.Tags{{"param", "thumbnailCount", "3"}},
			wantErr: ErrNoInput,
		},
		{
			name:    "unknown input type",
			tags:    nostr.Tags{{"i", "deadbeef", "event"}},
			wantErr: ErrUnknownInputType,
		},
		{
			name: "thumbnail count too small",
			tags: nostr.Tags{
				{"i", "https://example.com/v", "url"},
				{"param", "thumbnailCount", "0"},
			},
			wantErr: ErrInvalidThumbnailCount,
		},
		{
			name: "thumbnail count too large",
			tags: nostr.Tags{
				{"i", "https://example.com/v", "url"},
				{"param", "thumbnailCount", "11"},
			},
			wantErr: ErrInvalidThumbnailCount,
		},
		{
			name: "thumbnail count not a number",
			tags: nostr.Tags{
				{"i", "https://example.com/v", "url"},
				{"param", "thumbnailCount", "many"},
			},
			wantErr: ErrInvalidThumbnailCount,
		},
	}

	intake := NewIntake(discard)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := intake.Accept(requestEvent(tt.tags), false)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
