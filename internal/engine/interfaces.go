package engine

import (
	"context"

	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"
)

// txStorage is the slice of the storage contract the statistics recompute
// needs; satisfied by both service.Storage and service.Transaction.
type txStorage interface {
	GetItemTotals(ctx context.Context, reconciliationID string) (*service.ItemTotals, error)
	UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error
}
