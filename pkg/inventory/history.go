package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListMovements returns ledger entries matching filter, newest first
// 条件に一致する移動履歴を新しい順に取得
func (e *Engine) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	defer e.metrics.observe("list_movements", time.Now())

	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	if filter.Limit == 0 {
		filter.Limit = e.config.DefaultHistoryLimit
	}

	movements, err := e.storage.ListMovements(ctx, filter)
	if err != nil {
		return nil, asStorageError(err, "list_movements", "移動履歴取得に失敗しました")
	}
	return movements, nil
}

// HasMovements reports whether any ledger entry references the lot.
// Callers use it to refuse deleting a lot that has history.
// ロットに移動履歴があるかを確認
func (e *Engine) HasMovements(ctx context.Context, supplyLotID int64) (bool, error) {
	ok, err := e.storage.HasMovements(ctx, supplyLotID)
	if err != nil {
		return false, asStorageError(err, "has_movements", "移動履歴の確認に失敗しました")
	}
	return ok, nil
}

// Reconcile compares the balance snapshot of key with the sum of its ledger
// 残高と台帳合計を照合
func (e *Engine) Reconcile(ctx context.Context, key BalanceKey) (*ReconcileReport, error) {
	defer e.metrics.observe("reconcile", time.Now())

	balance := decimal.Zero
	snapshot, err := e.storage.GetBalance(ctx, key)
	switch {
	case err == nil:
		balance = snapshot.Quantity
	case errors.Is(err, ErrBalanceNotFound):
	default:
		return nil, asStorageError(err, "get_balance", "在庫残高取得に失敗しました")
	}

	sum, err := e.storage.SumMovements(ctx, key)
	if err != nil {
		return nil, asStorageError(err, "sum_movements", "台帳合計の取得に失敗しました")
	}

	report := &ReconcileReport{
		Key:        key,
		Balance:    balance,
		LedgerSum:  sum,
		Consistent: balance.Equal(sum),
	}
	if !report.Consistent {
		e.logger.Error("在庫残高と台帳が一致しません",
			zap.Int64("supply_lot_id", key.SupplyLotID),
			zap.Int64("warehouse_id", key.WarehouseID),
			zap.Int64("location_id", key.LocationKey()),
			zap.String("balance", balance.String()),
			zap.String("ledger_sum", sum.String()),
		)
	}
	return report, nil
}
