package chain

import (
	"context"
	"time"
)

// DefaultTxWaitTimeout is the default timeout for waiting for settlement.
const DefaultTxWaitTimeout = 90 * time.Second

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = 2 * time.Second

// WaitForApplicationLog polls for a transaction application log until it is
// available or the context is done. A missing transaction is treated as
// transient and retried until the context deadline expires.
func (c *Client) WaitForApplicationLog(ctx context.Context, txHash string, pollInterval time.Duration) (*ApplicationLog, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			log, err := c.GetApplicationLog(ctx, txHash)
			if err != nil {
				if isNotFoundError(err) {
					continue
				}
				return nil, err
			}
			return log, nil
		}
	}
}
