package inventory

import (
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/farmcore/pkg/coreerr"
)

const (
	// quantityScale は NUMERIC(18,4) の小数桁数
	quantityScale = 4
)

// maxQuantity は NUMERIC(18,4) に格納できる絶対値の上限
var maxQuantity = decimal.New(1, 14)

// ValidateQuantity 移動タイプに応じて数量をバリデーション
func ValidateQuantity(movementType MovementType, quantity decimal.Decimal) error {
	if movementType != MovementTypeAdjust && !quantity.IsPositive() {
		return ErrInvalidQuantity.WithField("quantity", quantity.String())
	}
	if quantity.Abs().GreaterThanOrEqual(maxQuantity) {
		return coreerr.NewValidationError(ErrInvalidQuantity.Code, "quantity", "数量が有効範囲を超えています", quantity.String())
	}
	if -quantity.Exponent() > quantityScale && !quantity.Equal(quantity.Round(quantityScale)) {
		return coreerr.NewValidationError(ErrInvalidQuantity.Code, "quantity", fmt.Sprintf("数量の小数桁は%d桁までです", quantityScale), quantity.String())
	}
	return nil
}

// ValidateNote メモの長さをバリデーション
func ValidateNote(note string, maxLength int) error {
	if note == "" || maxLength <= 0 {
		return nil // メモは任意
	}
	if utf8.RuneCountInString(note) > maxLength {
		return ErrInvalidNote.WithField("note", fmt.Sprintf("%d文字", utf8.RuneCountInString(note)))
	}
	return nil
}

// ValidateLocationInWarehouse 保管場所が倉庫に属しているかをバリデーション
func ValidateLocationInWarehouse(location *StockLocation, warehouse *Warehouse) error {
	if location.WarehouseID != warehouse.ID {
		return ErrLocationWarehouseMismatch.WithField("location_id", fmt.Sprintf("%d", location.ID))
	}
	return nil
}

// ValidateSeasonFarm 作期と倉庫が同じ農場に属しているかをバリデーション
func ValidateSeasonFarm(season *Season, warehouse *Warehouse) error {
	// 圃場に農場が紐付いていない作期も不一致として扱う
	if season.FarmID == nil || *season.FarmID != warehouse.FarmID {
		return ErrWarehouseSeasonFarmMismatch.WithField("season_id", fmt.Sprintf("%d", season.ID))
	}
	return nil
}

// ValidateFilter 履歴検索条件をバリデーション
func ValidateFilter(filter MovementFilter) error {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return coreerr.NewValidationError("INVALID_DATE_RANGE", "date_range", "開始日が終了日より後になっています",
			fmt.Sprintf("%s > %s", filter.From.Format("2006-01-02"), filter.To.Format("2006-01-02")))
	}
	if filter.Limit < 0 {
		return coreerr.NewValidationError("INVALID_LIMIT", "limit", "件数は0以上である必要があります", fmt.Sprintf("%d", filter.Limit))
	}
	return nil
}
