package sheets

import (
	"context"

	"registro/internal/core"
)

// TransactionWriter is the outbound port the mirror worker writes through.
type TransactionWriter interface {
	Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
}
