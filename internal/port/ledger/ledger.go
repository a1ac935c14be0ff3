// Package ledger defines the claim store that makes fulfillment exactly-once per run stage.
package ledger

import "context"

// Ledger records claimed keys. Claim returns true only for the first caller of a key.
type Ledger interface {
	Claim(ctx context.Context, key string) (bool, error)
}
