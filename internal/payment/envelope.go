// Package payment validates and settles signed transfer envelopes against
// the ledger before an attack is allowed to resolve.
package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeVersion is the only wire version currently accepted.
const EnvelopeVersion = 1

// Transfer is one value movement declared by the envelope.
type Transfer struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// TransferEnvelope is the client-signed payment instruction. The raw
// transaction carries the actual signatures; the declared fields exist so
// the verifier can check intent before submitting anything.
type TransferEnvelope struct {
	Version         int        `json:"version"`
	Network         uint32     `json:"network"`
	Sender          string     `json:"sender"`
	ValidUntilBlock uint64     `json:"valid_until_block"`
	Transfers       []Transfer `json:"transfers"`
	RawTx           string     `json:"raw_tx"`
}

// DecodeEnvelope parses and structurally validates a serialized envelope.
func DecodeEnvelope(data []byte) (TransferEnvelope, error) {
	var env TransferEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TransferEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return TransferEnvelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Sender == "" {
		return TransferEnvelope{}, errors.New("envelope missing sender")
	}
	if len(env.Transfers) == 0 {
		return TransferEnvelope{}, errors.New("envelope declares no transfers")
	}
	if env.RawTx == "" {
		return TransferEnvelope{}, errors.New("envelope missing raw transaction")
	}
	if _, err := hex.DecodeString(env.RawTx); err != nil {
		return TransferEnvelope{}, fmt.Errorf("raw transaction is not hex: %w", err)
	}
	return env, nil
}

// TxHash derives the transaction hash from the signed raw transaction
// bytes. It is stable for a given envelope, which makes it usable as an
// idempotency key before submission.
func (e TransferEnvelope) TxHash() (string, error) {
	raw, err := hex.DecodeString(e.RawTx)
	if err != nil {
		return "", fmt.Errorf("raw transaction is not hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// TransferTo returns the first declared transfer of the given asset, or
// false if the envelope declares none.
func (e TransferEnvelope) TransferTo(asset string) (Transfer, bool) {
	for _, t := range e.Transfers {
		if t.Asset == asset {
			return t, true
		}
	}
	return Transfer{}, false
}
