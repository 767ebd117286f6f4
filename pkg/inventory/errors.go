package inventory

import (
	"github.com/nemonet1337/farmcore/pkg/coreerr"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrWarehouseNotFound is returned when a warehouse doesn't exist
	// 倉庫が存在しない場合のエラー
	ErrWarehouseNotFound = coreerr.New(coreerr.KindNotFound, "WAREHOUSE_NOT_FOUND", "倉庫が見つかりません")

	// ErrSupplyLotNotFound is returned when a supply lot doesn't exist
	// 供給ロットが存在しない場合のエラー
	ErrSupplyLotNotFound = coreerr.New(coreerr.KindNotFound, "SUPPLY_LOT_NOT_FOUND", "供給ロットが見つかりません")

	// ErrLocationNotFound is returned when a stock location doesn't exist
	// 保管場所が存在しない場合のエラー
	ErrLocationNotFound = coreerr.New(coreerr.KindNotFound, "LOCATION_NOT_FOUND", "保管場所が見つかりません")

	// ErrSeasonNotFound is returned when a season doesn't exist
	// 作期が存在しない場合のエラー
	ErrSeasonNotFound = coreerr.New(coreerr.KindNotFound, "SEASON_NOT_FOUND", "作期が見つかりません")

	// ErrLocationWarehouseMismatch is returned when the location belongs to another warehouse
	// 保管場所が指定倉庫に属していない場合のエラー
	ErrLocationWarehouseMismatch = coreerr.New(coreerr.KindValidation, "LOCATION_WAREHOUSE_MISMATCH", "保管場所が倉庫に属していません")

	// ErrWarehouseSeasonFarmMismatch is returned when warehouse and season belong to different farms
	// 倉庫と作期の農場が一致しない場合のエラー
	ErrWarehouseSeasonFarmMismatch = coreerr.New(coreerr.KindValidation, "WAREHOUSE_SEASON_FARM_MISMATCH", "倉庫と作期の農場が一致しません")

	// ErrInvalidMovementType is returned for an unrecognized movement type
	// 未知の移動タイプの場合のエラー
	ErrInvalidMovementType = coreerr.New(coreerr.KindValidation, "INVALID_MOVEMENT_TYPE", "無効な移動タイプです")

	// ErrInvalidQuantity is returned when IN/OUT quantity is not strictly positive
	// 入出庫数量が正でない場合のエラー
	ErrInvalidQuantity = coreerr.New(coreerr.KindValidation, "INVALID_QUANTITY", "数量は正の値である必要があります")

	// ErrInvalidNote is returned when the note is too long
	ErrInvalidNote = coreerr.New(coreerr.KindValidation, "INVALID_NOTE", "メモが長すぎます")

	// ErrBalanceNotFound is returned by storage when no balance row exists for a key
	// 残高行が存在しない場合のエラー（エンジンは0として扱う）
	ErrBalanceNotFound = coreerr.New(coreerr.KindNotFound, "BALANCE_NOT_FOUND", "在庫残高が見つかりません")

	// ErrInsufficientStock is returned when a movement would drive the balance below zero
	// 在庫不足の場合のエラー
	ErrInsufficientStock = coreerr.New(coreerr.KindInsufficientStock, "INSUFFICIENT_STOCK", "在庫が不足しています")
)
