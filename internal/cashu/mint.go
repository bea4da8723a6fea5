package cashu

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Redeemer exchanges a payment payload for a redeemed proof set with the
// payload's mint.
type Redeemer interface {
	Redeem(ctx context.Context, payload PaymentPayload) ([]Proof, error)
}

// proofStateUnspent is the mint's state for a proof that has not been spent.
const proofStateUnspent = "UNSPENT"

// hashToCurveDomain is the NUT-00 domain separator for mapping proof
// secrets onto curve points.
var hashToCurveDomain = []byte("Secp256k1_HashToCurve_Cashu_")

// MintClient talks to a mint over its REST API. Redemption validates the
// proofs' spend state (NUT-07) and accepts them as the redeemed set; a full
// blind-signature swap stays behind the Redeemer interface.
type MintClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewMintClient creates a mint client.
func NewMintClient(logger *slog.Logger) *MintClient {
	return &MintClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type checkStateRequest struct {
	Ys []string `json:"Ys"`
}

type checkStateResponse struct {
	States []struct {
		Y     string `json:"Y"`
		State string `json:"state"`
	} `json:"states"`
}

// Redeem validates the payload's proofs with its mint and returns the
// redeemed proof set. Any spent or unknown proof fails the whole payload.
func (c *MintClient) Redeem(ctx context.Context, payload PaymentPayload) ([]Proof, error) {
	if len(payload.Proofs) == 0 {
		return nil, fmt.Errorf("payment payload carries no proofs")
	}

	req := checkStateRequest{Ys: make([]string, 0, len(payload.Proofs))}
	for _, proof := range payload.Proofs {
		y, err := hashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, fmt.Errorf("failed to derive proof point: %w", err)
		}
		req.Ys = append(req.Ys, y)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state check: %w", err)
	}

	url := strings.TrimRight(payload.Mint, "/") + "/v1/checkstate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build state check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mint state check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mint state check failed: status %d", resp.StatusCode)
	}

	var states checkStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("failed to decode state check response: %w", err)
	}
	if len(states.States) != len(payload.Proofs) {
		return nil, fmt.Errorf("mint returned %d states for %d proofs", len(states.States), len(payload.Proofs))
	}

	for i, state := range states.States {
		if state.State != proofStateUnspent {
			return nil, fmt.Errorf("proof %d is %s", i, state.State)
		}
	}

	c.logger.Debug("Proofs validated with mint",
		slog.String("mint", payload.Mint),
		slog.Int("proofs", len(payload.Proofs)),
		slog.Uint64("amount", payload.Amount()),
	)

	return payload.Proofs, nil
}

// hashToCurve maps a proof secret to a compressed secp256k1 point, the key
// the mint tracks spend state under.
func hashToCurve(message []byte) (string, error) {
	msgHash := sha256.Sum256(append(hashToCurveDomain, message...))

	counter := make([]byte, 4)
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter, i)

		attempt := sha256.Sum256(append(msgHash[:], counter...))
		candidate := append([]byte{0x02}, attempt[:]...)
		if pub, err := btcec.ParsePubKey(candidate); err == nil {
			return hex.EncodeToString(pub.SerializeCompressed()), nil
		}
	}

	return "", fmt.Errorf("no curve point found for secret")
}
