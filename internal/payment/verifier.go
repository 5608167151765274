package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-forge/conquest/internal/chain"
	"github.com/r3e-forge/conquest/internal/conquest"
	"github.com/r3e-forge/conquest/pkg/logger"
)

// LedgerClient is the subset of the chain client the verifier needs.
type LedgerClient interface {
	GetBlockCount(ctx context.Context) (uint64, error)
	GetRawTransaction(ctx context.Context, txHash string) (*chain.Transaction, error)
	SendRawTransaction(ctx context.Context, txHex string) (string, error)
	WaitForApplicationLog(ctx context.Context, txHash string, pollInterval time.Duration) (*chain.ApplicationLog, error)
}

// Cost is the fee contract for one attack mode: the exact amount of a
// specific asset, payable to the treasury address.
type Cost struct {
	Asset    string
	Amount   int64
	Treasury string
}

// RetryConfig bounds the settlement wait after submission: a fixed poll
// interval, an overall timeout, and an optional attempt cap that further
// tightens the timeout.
type RetryConfig struct {
	PollInterval time.Duration
	WaitTimeout  time.Duration
	MaxAttempts  int
}

// DefaultRetryConfig matches the ledger's block cadence.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		PollInterval: chain.DefaultPollInterval,
		WaitTimeout:  chain.DefaultTxWaitTimeout,
	}
}

// waitBudget is the effective settlement deadline.
func (rc RetryConfig) waitBudget() time.Duration {
	budget := rc.WaitTimeout
	if rc.MaxAttempts > 0 {
		if capped := rc.PollInterval * time.Duration(rc.MaxAttempts); capped < budget {
			budget = capped
		}
	}
	return budget
}

// Verifier checks a signed transfer envelope against a cost contract and
// settles it on the ledger. Every mismatch before submission is a plain
// rejection; only post-submission uncertainty yields an UNKNOWN status.
type Verifier struct {
	ledger  LedgerClient
	network uint32
	costs   map[conquest.AttackMode]Cost
	retry   RetryConfig
	log     *logger.Logger
	observe func(time.Duration)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRetry overrides the settlement wait policy.
func WithRetry(rc RetryConfig) Option {
	return func(v *Verifier) {
		if rc.PollInterval > 0 {
			v.retry.PollInterval = rc.PollInterval
		}
		if rc.WaitTimeout > 0 {
			v.retry.WaitTimeout = rc.WaitTimeout
		}
		if rc.MaxAttempts > 0 {
			v.retry.MaxAttempts = rc.MaxAttempts
		}
	}
}

// WithSettlementObserver registers a callback for the time each confirmed
// payment spent waiting on the ledger.
func WithSettlementObserver(fn func(time.Duration)) Option {
	return func(v *Verifier) { v.observe = fn }
}

// NewVerifier creates a Verifier for the given network and cost contracts.
func NewVerifier(ledger LedgerClient, network uint32, costs map[conquest.AttackMode]Cost, log *logger.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		ledger:  ledger,
		network: network,
		costs:   costs,
		retry:   DefaultRetryConfig(),
		log:     log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Reference decodes the instruction and returns its transaction hash
// without submitting anything.
func (v *Verifier) Reference(instruction []byte) (string, error) {
	env, err := DecodeEnvelope(instruction)
	if err != nil {
		return "", err
	}
	return env.TxHash()
}

func rejected(reason string) (conquest.PaymentResult, error) {
	return conquest.PaymentResult{Status: conquest.PaymentRejected, Reason: reason}, nil
}

// Verify runs the full check-and-settle flow. No state is submitted to
// the ledger until every declared field matches the cost contract.
func (v *Verifier) Verify(ctx context.Context, req conquest.PaymentRequest) (conquest.PaymentResult, error) {
	env, err := DecodeEnvelope(req.Instruction)
	if err != nil {
		return rejected(err.Error())
	}
	txHash, err := env.TxHash()
	if err != nil {
		return rejected(err.Error())
	}

	if env.Network != v.network {
		return rejected(fmt.Sprintf("envelope network %d, expected %d", env.Network, v.network))
	}
	if env.Sender != req.Payer {
		return rejected("envelope sender does not match payer")
	}

	cost, ok := v.costs[req.Mode]
	if !ok {
		return rejected(fmt.Sprintf("no cost contract for mode %s", req.Mode))
	}
	transfer, ok := env.TransferTo(cost.Asset)
	if !ok {
		return rejected(fmt.Sprintf("no transfer of asset %s declared", cost.Asset))
	}
	if transfer.Amount != cost.Amount {
		return rejected(fmt.Sprintf("transfer amount %d, expected %d", transfer.Amount, cost.Amount))
	}
	if transfer.From != req.Payer {
		return rejected("transfer sender does not match payer")
	}
	if transfer.To != cost.Treasury {
		return rejected("transfer recipient is not the treasury")
	}

	height, err := v.ledger.GetBlockCount(ctx)
	if err != nil {
		// Nothing has been submitted; the caller can retry the same
		// instruction once the ledger is reachable again.
		return conquest.PaymentResult{}, fmt.Errorf("read ledger height: %w", err)
	}
	if env.ValidUntilBlock <= height {
		return rejected(fmt.Sprintf("envelope expired at block %d, ledger at %d", env.ValidUntilBlock, height))
	}

	start := time.Now()
	if _, err := v.ledger.SendRawTransaction(ctx, env.RawTx); err != nil {
		// An earlier attempt whose outcome was left unknown may have
		// landed this transaction already; the node then refuses the
		// resubmission even though the payment settled.
		if _, lookupErr := v.ledger.GetRawTransaction(ctx, txHash); lookupErr != nil {
			return rejected(fmt.Sprintf("ledger rejected transaction: %v", err))
		}
		v.log.WithField("tx_hash", txHash).
			Info("transaction already on ledger; resolving earlier submission")
	}

	return v.awaitSettlement(ctx, txHash, req.Payer, cost, start)
}

// awaitSettlement polls for the application log and checks that the
// settled execution actually carried the treasury transfer it declared.
func (v *Verifier) awaitSettlement(ctx context.Context, txHash, payer string, cost Cost, start time.Time) (conquest.PaymentResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, v.retry.waitBudget())
	defer cancel()
	appLog, err := v.ledger.WaitForApplicationLog(waitCtx, txHash, v.retry.PollInterval)
	if err != nil {
		v.log.WithField("tx_hash", txHash).WithError(err).
			Warn("payment submitted but settlement not confirmed")
		return conquest.PaymentResult{Status: conquest.PaymentUnknown, TxHash: txHash},
			fmt.Errorf("await settlement: %w", err)
	}
	if !appLog.Halted() {
		return rejected("transaction execution faulted")
	}
	if !transferSettled(appLog, cost) {
		return rejected("settled transaction carries no matching treasury transfer")
	}

	wait := time.Since(start)
	if v.observe != nil {
		v.observe(wait)
	}
	v.log.WithField("tx_hash", txHash).
		WithField("payer", payer).
		WithField("amount", cost.Amount).
		WithField("wait", wait.String()).
		Info("payment settled")

	return conquest.PaymentResult{
		Valid:  true,
		Status: conquest.PaymentConfirmed,
		TxHash: txHash,
		Amount: cost.Amount,
	}, nil
}

// transferSettled scans the execution's Transfer notifications for the
// exact asset, treasury, and amount the cost contract demands.
func transferSettled(appLog *chain.ApplicationLog, cost Cost) bool {
	for _, ev := range chain.TransferEvents(appLog.Raw) {
		if ev.Asset == cost.Asset && ev.To == cost.Treasury && ev.Amount == cost.Amount {
			return true
		}
	}
	return false
}
