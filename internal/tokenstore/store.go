// Package tokenstore appends payment tokens to plain-text ledgers under the
// agent's data directory.
package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Ledger file names.
const (
	ReceivedLedger = "tokens-received.txt"
	RedeemedLedger = "tokens-redeemed.txt"
)

// Store appends token records to append-only ledgers. Each record is a
// timestamp line, a counterparty line, the encoded token line, and a blank
// separator line.
type Store struct {
	dir string

	now func() time.Time
}

// New creates a store rooted at dir, creating it when absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create token store directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Append writes one token record to the named ledger.
func (s *Store) Append(ledger, counterparty, token string) error {
	path := filepath.Join(s.dir, ledger)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open ledger %s: %w", ledger, err)
	}

	record := fmt.Sprintf("%s\n%s\n%s\n\n", s.now().Format(time.DateTime), counterparty, token)
	if _, err := f.WriteString(record); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to ledger %s: %w", ledger, err)
	}

	return f.Close()
}
