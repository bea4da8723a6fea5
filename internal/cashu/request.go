package cashu

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// paymentRequestPrefix marks the CBOR payment-request serialization (NUT-18).
const paymentRequestPrefix = "creqA"

// TransportNostr asks the payer to deliver the payment as a gift-wrapped
// direct message (NIP-17) to the target profile.
const TransportNostr = "nostr"

// Transport describes one way the payment can reach the requester.
type Transport struct {
	Type   string     `cbor:"t"`
	Target string     `cbor:"a"`
	Tags   [][]string `cbor:"g,omitempty"`
}

// PaymentRequest describes how to pay a fixed amount via a given transport
// and mint. The ID references the job the payment settles.
type PaymentRequest struct {
	ID          string      `cbor:"i"`
	Amount      uint64      `cbor:"a"`
	Unit        string      `cbor:"u"`
	SingleUse   bool        `cbor:"s"`
	Mints       []string    `cbor:"m"`
	Description string      `cbor:"d,omitempty"`
	Transports  []Transport `cbor:"t"`
}

// Encode serializes the request to its "creqA" string form.
func (r PaymentRequest) Encode() (string, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment request: %w", err)
	}
	return paymentRequestPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodePaymentRequest parses a "creqA" payment request string.
func DecodePaymentRequest(s string) (PaymentRequest, error) {
	if !strings.HasPrefix(s, paymentRequestPrefix) {
		return PaymentRequest{}, fmt.Errorf("not a payment request: missing %q prefix", paymentRequestPrefix)
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s[len(paymentRequestPrefix):], "="))
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("invalid payment request encoding: %w", err)
	}

	var r PaymentRequest
	if err := cbor.Unmarshal(data, &r); err != nil {
		return PaymentRequest{}, fmt.Errorf("failed to decode payment request: %w", err)
	}
	return r, nil
}
