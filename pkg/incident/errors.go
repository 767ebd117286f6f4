package incident

import (
	"github.com/nemonet1337/farmcore/pkg/coreerr"
)

// インシデントのエラー定義

var (
	// ErrIncidentNotFound is returned when an incident doesn't exist
	// インシデントが存在しない場合のエラー
	ErrIncidentNotFound = coreerr.New(coreerr.KindNotFound, "INCIDENT_NOT_FOUND", "インシデントが見つかりません")

	// ErrUserNotFound is returned when an assignee or resolver doesn't exist
	// ユーザーが存在しない場合のエラー
	ErrUserNotFound = coreerr.New(coreerr.KindNotFound, "USER_NOT_FOUND", "ユーザーが見つかりません")

	// ErrInvalidTransition is returned for a transition outside the allowed table
	// 許可されていない状態遷移の場合のエラー
	ErrInvalidTransition = coreerr.New(coreerr.KindInvalidTransition, "INVALID_INCIDENT_STATUS_TRANSITION", "許可されていないステータス遷移です")

	// ErrOptimisticConflict is returned when another writer advanced the version first
	// 楽観的ロック競合の場合のエラー
	ErrOptimisticConflict = coreerr.New(coreerr.KindOptimisticConflict, "OPTIMISTIC_LOCK_ERROR", "他の更新と競合しました。再読み込みしてください")

	ErrInvalidDeadline = coreerr.New(coreerr.KindValidation, "INVALID_DEADLINE", "期限に過去の日付は指定できません")
	ErrInvalidSeverity = coreerr.New(coreerr.KindValidation, "INVALID_SEVERITY", "無効な重大度です")
	ErrInvalidStatus   = coreerr.New(coreerr.KindValidation, "INVALID_STATUS", "無効なステータスです")
	ErrInvalidFilter   = coreerr.New(coreerr.KindValidation, "INVALID_FILTER", "検索条件が不正です")
)
