package blossom

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

// KindAuth is the Blossom authorization event kind.
const KindAuth = 24242

// authTTL bounds how long a signed authorization stays valid.
const authTTL = 10 * time.Minute

// authToken builds, signs and base64-encodes a Blossom authorization event
// for the given verb ("upload", "list", "delete"). A non-empty hash is bound
// into the event via the x tag.
func authToken(privateKey, verb, hash string, now time.Time) (string, error) {
	expiration := now.Add(authTTL).Unix()

	tags := nostr.Tags{
		{"t", verb},
		{"name", uuid.NewString()},
		{"expiration", strconv.FormatInt(expiration, 10)},
	}
	if hash != "" {
		tags = append(tags, nostr.Tag{"x", hash})
	}

	ev := nostr.Event{
		Kind:      KindAuth,
		CreatedAt: nostr.Timestamp(now.Unix()),
		Tags:      tags,
		Content:   fmt.Sprintf("Authorize %s", verb),
	}
	if err := ev.Sign(privateKey); err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to serialize authorization: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
