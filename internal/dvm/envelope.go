package dvm

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Unwrap peels a three-layer gift-wrapped direct message into the inner
// plaintext plus the sender's identity. Each layer is decrypted with a
// conversation key derived from the agent's private key and that layer's
// declared sender. Pure function: no shared state.
func Unwrap(wrap *nostr.Event, agentKey string) (sender string, plaintext string, err error) {
	if wrap.Kind != KindGiftWrap {
		return "", "", fmt.Errorf("unexpected wrap kind %d", wrap.Kind)
	}

	wrapKey, err := nip44.GenerateConversationKey(wrap.PubKey, agentKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to derive wrap key: %w", err)
	}
	sealJSON, err := nip44.Decrypt(wrap.Content, wrapKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt wrap: %w", err)
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return "", "", fmt.Errorf("failed to parse seal: %w", err)
	}
	if seal.Kind != KindSeal {
		return "", "", fmt.Errorf("unexpected seal kind %d", seal.Kind)
	}

	sealKey, err := nip44.GenerateConversationKey(seal.PubKey, agentKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to derive seal key: %w", err)
	}
	dmJSON, err := nip44.Decrypt(seal.Content, sealKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt seal: %w", err)
	}

	var dm nostr.Event
	if err := json.Unmarshal([]byte(dmJSON), &dm); err != nil {
		return "", "", fmt.Errorf("failed to parse inner message: %w", err)
	}

	return dm.PubKey, dm.Content, nil
}

// EnsureDecrypted resolves a request that may have its payload tags
// encrypted to the agent. When the event carries an "encrypted" sentinel
// tag, the content is nip04-decrypted with the sender and the recovered tags
// replace the sentinel. Returns the readable event and whether decryption
// took place; the flag is inherited by every response to the job.
func EnsureDecrypted(ev *nostr.Event, agentKey string) (*nostr.Event, bool, error) {
	encrypted := false
	for _, tag := range ev.Tags {
		if len(tag) > 0 && tag[0] == "encrypted" {
			encrypted = true
			break
		}
	}
	if !encrypted {
		return ev, false, nil
	}

	shared, err := nip04.ComputeSharedSecret(ev.PubKey, agentKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	plain, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decrypt request tags: %w", err)
	}

	var hidden nostr.Tags
	if err := json.Unmarshal([]byte(plain), &hidden); err != nil {
		return nil, false, fmt.Errorf("failed to parse decrypted tags: %w", err)
	}

	decrypted := *ev
	decrypted.Tags = nil
	for _, tag := range ev.Tags {
		if len(tag) > 0 && tag[0] == "encrypted" {
			continue
		}
		decrypted.Tags = append(decrypted.Tags, tag)
	}
	decrypted.Tags = append(decrypted.Tags, hidden...)

	return &decrypted, true, nil
}
