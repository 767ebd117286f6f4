package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/farmcore/pkg/coreerr"
)

// Engine implements the BalanceEngine interface
// BalanceEngineインターフェースの実装
type Engine struct {
	storage Storage     // ストレージ層
	metrics *Metrics    // メトリクス
	logger  *zap.Logger // ログ
	config  *Config     // 設定
	now     func() time.Time
}

var _ BalanceEngine = (*Engine)(nil)

// Config holds configuration for the balance engine
// 在庫エンジンの設定を保持
type Config struct {
	AuditZeroAdjustments bool `yaml:"audit_zero_adjustments"` // 数量0の調整も台帳に記録
	MaxNoteLength        int  `yaml:"max_note_length"`        // メモの最大文字数
	DefaultHistoryLimit  int  `yaml:"default_history_limit"`  // 履歴取得のデフォルト件数
}

// DefaultConfig returns the configuration used when none is given
// デフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		AuditZeroAdjustments: true,
		MaxNoteLength:        1000,
		DefaultHistoryLimit:  100,
	}
}

type contextKey string

// UserIDKey is the context key carrying the acting user's id
const UserIDKey contextKey = "user_id"

// NewEngine creates a new balance engine
// 新しい在庫エンジンを作成
func NewEngine(storage Storage, metrics *Metrics, logger *zap.Logger, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		storage: storage,
		metrics: metrics,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// RecordMovement validates and applies one stock movement.
// The balance change and the ledger append commit together or not at all.
// 在庫移動を検証し、残高更新と台帳記録を同一トランザクションで適用
func (e *Engine) RecordMovement(ctx context.Context, req MovementRequest) (*StockMovement, error) {
	defer e.metrics.observe("record_movement", time.Now())

	movementType, err := e.validateMovement(ctx, req)
	if err != nil {
		e.reject(req, err)
		return nil, err
	}

	movement := &StockMovement{
		ID:           NewMovementID(),
		SupplyLotID:  req.SupplyLotID,
		WarehouseID:  req.WarehouseID,
		LocationID:   req.LocationID,
		SeasonID:     req.SeasonID,
		TaskID:       req.TaskID,
		MovementType: movementType,
		Quantity:     req.Quantity,
		MovementDate: e.now(),
		Note:         req.Note,
		CreatedBy:    e.getUserFromContext(ctx),
	}

	// 数量0の調整は残高を変更しない
	if movementType == MovementTypeAdjust && req.Quantity.IsZero() && !e.config.AuditZeroAdjustments {
		e.logger.Info("数量0の調整をスキップしました",
			zap.Int64("supply_lot_id", req.SupplyLotID),
			zap.Int64("warehouse_id", req.WarehouseID),
		)
		movement.ID = ""
		return movement, nil
	}

	var newQuantity decimal.Decimal
	err = e.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		newQuantity, err = e.applyBalance(ctx, tx, req.Key(), movementType, req.Quantity)
		if err != nil {
			return err
		}
		return tx.AppendMovement(ctx, movement)
	})
	if err != nil {
		err = asStorageError(err, "record_movement", "在庫移動の記録に失敗しました")
		e.reject(req, err)
		return nil, err
	}

	e.metrics.movementRecorded(movementType)
	e.logger.Info("在庫移動記録完了",
		zap.String("movement_id", movement.ID),
		zap.String("movement_type", string(movementType)),
		zap.String("quantity", req.Quantity.String()),
		zap.String("balance", newQuantity.String()),
		zap.Int64("supply_lot_id", req.SupplyLotID),
		zap.Int64("warehouse_id", req.WarehouseID),
	)

	return movement, nil
}

// GetOnHandQuantity returns the current snapshot, zero when no balance row exists
// 現在の在庫数量を取得（残高行がなければ0）
func (e *Engine) GetOnHandQuantity(ctx context.Context, supplyLotID, warehouseID int64, locationID *int64) (decimal.Decimal, error) {
	defer e.metrics.observe("get_on_hand_quantity", time.Now())

	if _, err := e.storage.GetSupplyLot(ctx, supplyLotID); err != nil {
		return decimal.Zero, asStorageError(err, "get_supply_lot", "供給ロット取得に失敗しました")
	}
	if _, err := e.storage.GetWarehouse(ctx, warehouseID); err != nil {
		return decimal.Zero, asStorageError(err, "get_warehouse", "倉庫取得に失敗しました")
	}
	if locationID != nil {
		if _, err := e.storage.GetStockLocation(ctx, *locationID); err != nil {
			return decimal.Zero, asStorageError(err, "get_location", "保管場所取得に失敗しました")
		}
	}

	key := BalanceKey{SupplyLotID: supplyLotID, WarehouseID: warehouseID, LocationID: locationID}
	balance, err := e.storage.GetBalance(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, asStorageError(err, "get_balance", "在庫残高取得に失敗しました")
	}
	return balance.Quantity, nil
}

// ヘルパーメソッド

// validateMovement runs every check that must pass before any mutation
// 更新前に必要なすべての検証を実行
func (e *Engine) validateMovement(ctx context.Context, req MovementRequest) (MovementType, error) {
	warehouse, err := e.storage.GetWarehouse(ctx, req.WarehouseID)
	if err != nil {
		return "", asStorageError(err, "get_warehouse", "倉庫取得に失敗しました")
	}

	if _, err := e.storage.GetSupplyLot(ctx, req.SupplyLotID); err != nil {
		return "", asStorageError(err, "get_supply_lot", "供給ロット取得に失敗しました")
	}

	if req.LocationID != nil {
		location, err := e.storage.GetStockLocation(ctx, *req.LocationID)
		if err != nil {
			return "", asStorageError(err, "get_location", "保管場所取得に失敗しました")
		}
		if err := ValidateLocationInWarehouse(location, warehouse); err != nil {
			return "", err
		}
	}

	if req.SeasonID != nil {
		season, err := e.storage.GetSeason(ctx, *req.SeasonID)
		if err != nil {
			return "", asStorageError(err, "get_season", "作期取得に失敗しました")
		}
		if err := ValidateSeasonFarm(season, warehouse); err != nil {
			return "", err
		}
	}

	movementType, err := ParseMovementType(req.MovementType)
	if err != nil {
		return "", err
	}
	if err := ValidateQuantity(movementType, req.Quantity); err != nil {
		return "", err
	}
	if err := ValidateNote(req.Note, e.config.MaxNoteLength); err != nil {
		return "", err
	}
	return movementType, nil
}

// applyBalance translates a movement into an add or a guarded deduct
// 移動を残高の加算または条件付き減算に変換
func (e *Engine) applyBalance(ctx context.Context, tx Tx, key BalanceKey, movementType MovementType, quantity decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case movementType == MovementTypeIn:
		return tx.AddBalance(ctx, key, quantity)
	case movementType == MovementTypeOut:
		return tx.DeductBalance(ctx, key, quantity)
	case quantity.IsPositive():
		return tx.AddBalance(ctx, key, quantity)
	case quantity.IsNegative():
		return tx.DeductBalance(ctx, key, quantity.Abs())
	default:
		return decimal.Zero, nil
	}
}

func (e *Engine) reject(req MovementRequest, err error) {
	code := coreerr.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
	}
	e.metrics.movementRejected(code)

	fields := []zap.Field{
		zap.Int64("supply_lot_id", req.SupplyLotID),
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.String("movement_type", req.MovementType),
		zap.String("quantity", req.Quantity.String()),
		zap.Error(err),
	}
	if coreerr.IsKind(err, coreerr.KindStorage) {
		e.logger.Error("在庫移動に失敗しました", fields...)
		return
	}
	e.logger.Warn("在庫移動を拒否しました", fields...)
}

// getUserFromContext extracts user ID from context
// コンテキストからユーザーIDを取得
func (e *Engine) getUserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		return userID
	}
	return "system"
}

// asStorageError passes typed errors through and wraps anything else as a storage failure
func asStorageError(err error, operation, message string) error {
	if coreerr.KindOf(err) != "" {
		return err
	}
	return coreerr.NewStorageError(operation, message, fmt.Errorf("%s: %w", operation, err))
}
