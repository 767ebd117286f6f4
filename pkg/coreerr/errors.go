// Package coreerr defines the error kinds shared by the inventory and incident engines
package coreerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the caller is expected to react
// 呼び出し側の対応方法でエラーを分類
type Kind string

const (
	KindNotFound           Kind = "not_found"           // 対象が存在しない
	KindValidation         Kind = "validation"          // 入力不正
	KindInsufficientStock  Kind = "insufficient_stock"  // 在庫不足
	KindInvalidTransition  Kind = "invalid_transition"  // 不正な状態遷移
	KindOptimisticConflict Kind = "optimistic_conflict" // 楽観的ロック競合
	KindStorage            Kind = "storage"             // ストレージ障害
)

// Error is the typed error returned by every engine operation
// すべてのエンジン操作が返す型付きエラー
type Error struct {
	Kind    Kind   `json:"kind"`            // エラー種別
	Code    string `json:"code"`            // 安定したエラーコード
	Message string `json:"message"`         // エラーメッセージ
	Field   string `json:"field,omitempty"` // エラーフィールド
	Value   string `json:"value,omitempty"` // 無効な値
	Cause   error  `json:"-"`               // 原因エラー
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (フィールド: %s, 値: %s)", msg, e.Field, e.Value)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (原因: %v)", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind and code, so sentinels survive copying
// 同じ種別・コードの*Errorと一致させる
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New creates a new error of the given kind
// 指定種別の新しいエラーを作成
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithField returns a copy annotated with the offending field and value
// 問題のフィールドと値を付与したコピーを返す
func (e *Error) WithField(field, value string) *Error {
	cp := *e
	cp.Field = field
	cp.Value = value
	return &cp
}

// Wrap returns a copy carrying cause
// 原因エラーを保持したコピーを返す
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// NewValidationError creates a validation error with field details
// 詳細付きバリデーションエラーを作成
func NewValidationError(code, field, message, value string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// NewStorageError wraps a persistence failure
// ストレージ層のエラーをラップ
func NewStorageError(operation, message string, cause error) *Error {
	return &Error{
		Kind:    KindStorage,
		Code:    "STORAGE_" + operation,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code used by the HTTP adapter
// HTTPアダプタで使用するステータスコードに変換
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientStock, KindInvalidTransition, KindOptimisticConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
