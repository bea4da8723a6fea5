package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// tokenV4Prefix marks the CBOR token serialization (NUT-00 V4).
const tokenV4Prefix = "cashuB"

type tokenV4 struct {
	Mint    string         `cbor:"m"`
	Unit    string         `cbor:"u"`
	Memo    string         `cbor:"d,omitempty"`
	Entries []tokenV4Entry `cbor:"t"`
}

type tokenV4Entry struct {
	KeysetID []byte         `cbor:"i"`
	Proofs   []tokenV4Proof `cbor:"p"`
}

type tokenV4Proof struct {
	Amount uint64 `cbor:"a"`
	Secret string `cbor:"s"`
	C      []byte `cbor:"c"`
}

// EncodeTokenV4 serializes the token to its "cashuB" string form: proofs
// grouped by keyset, CBOR-encoded, base64url without padding.
func EncodeTokenV4(t Token) (string, error) {
	wire := tokenV4{
		Mint: t.Mint,
		Unit: t.Unit,
		Memo: t.Memo,
	}

	index := make(map[string]int)
	for _, proof := range t.Proofs {
		keysetID, err := hex.DecodeString(proof.ID)
		if err != nil {
			return "", fmt.Errorf("invalid keyset id %q: %w", proof.ID, err)
		}
		c, err := hex.DecodeString(proof.C)
		if err != nil {
			return "", fmt.Errorf("invalid proof signature: %w", err)
		}

		wireProof := tokenV4Proof{Amount: proof.Amount, Secret: proof.Secret, C: c}

		pos, ok := index[proof.ID]
		if !ok {
			pos = len(wire.Entries)
			index[proof.ID] = pos
			wire.Entries = append(wire.Entries, tokenV4Entry{KeysetID: keysetID})
		}
		wire.Entries[pos].Proofs = append(wire.Entries[pos].Proofs, wireProof)
	}

	data, err := cbor.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}

	return tokenV4Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeTokenV4 parses a "cashuB" token string.
func DecodeTokenV4(s string) (Token, error) {
	if !strings.HasPrefix(s, tokenV4Prefix) {
		return Token{}, fmt.Errorf("not a v4 token: missing %q prefix", tokenV4Prefix)
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s[len(tokenV4Prefix):], "="))
	if err != nil {
		return Token{}, fmt.Errorf("invalid token encoding: %w", err)
	}

	var wire tokenV4
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return Token{}, fmt.Errorf("failed to decode token: %w", err)
	}

	token := Token{
		Mint: wire.Mint,
		Unit: wire.Unit,
		Memo: wire.Memo,
	}
	for _, entry := range wire.Entries {
		for _, proof := range entry.Proofs {
			token.Proofs = append(token.Proofs, Proof{
				Amount: proof.Amount,
				ID:     hex.EncodeToString(entry.KeysetID),
				Secret: proof.Secret,
				C:      hex.EncodeToString(proof.C),
			})
		}
	}

	return token, nil
}
