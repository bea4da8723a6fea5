// Package cashu models the e-cash side of the payment gate: proofs, token
// and payment-request wire encodings, and the mint redemption collaborator.
package cashu

// UnitSat is the only currency unit the agent accepts.
const UnitSat = "sat"

// Proof is a unit of redeemable value issued by a mint.
type Proof struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// Token is a set of proofs bound to a mint, suitable for encoding.
type Token struct {
	Mint   string
	Unit   string
	Memo   string
	Proofs []Proof
}

// Amount sums the token's proof values.
func (t Token) Amount() uint64 {
	var total uint64
	for _, p := range t.Proofs {
		total += p.Amount
	}
	return total
}

// PaymentPayload is the JSON document a payer sends in answer to a payment
// request: a job reference, a memo, the proofs, and their mint and unit.
type PaymentPayload struct {
	ID     string  `json:"id"`
	Memo   string  `json:"memo"`
	Proofs []Proof `json:"proofs"`
	Mint   string  `json:"mint"`
	Unit   string  `json:"unit"`
}

// Amount sums the payload's proof values.
func (p PaymentPayload) Amount() uint64 {
	var total uint64
	for _, proof := range p.Proofs {
		total += proof.Amount
	}
	return total
}

// Token converts the payload into an encodable token.
func (p PaymentPayload) Token() Token {
	return Token{
		Mint:   p.Mint,
		Unit:   p.Unit,
		Proofs: p.Proofs,
	}
}
