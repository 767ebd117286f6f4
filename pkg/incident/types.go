// Package incident provides the field incident lifecycle engine
package incident

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an incident
// インシデントのステータス
type Status string

const (
	StatusOpen       Status = "OPEN"        // 受付
	StatusInProgress Status = "IN_PROGRESS" // 対応中
	StatusResolved   Status = "RESOLVED"    // 解決済み（終端）
	StatusCancelled  Status = "CANCELLED"   // 取消（終端）
)

// ParseStatus parses a status code, ignoring case and surrounding spaces
// ステータスコードを解析
func ParseStatus(code string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(code))); s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusCancelled:
		return s, nil
	}
	return "", ErrInvalidStatus.WithField("status", code)
}

// Severity grades how urgent an incident is
// 重大度
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity parses a severity code, ignoring case and surrounding spaces
// 重大度コードを解析
func ParseSeverity(code string) (Severity, error) {
	switch s := Severity(strings.ToUpper(strings.TrimSpace(code))); s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s, nil
	}
	return "", ErrInvalidSeverity.WithField("severity", code)
}

// Incident represents a reported field problem
// 圃場で報告された問題を表現
type Incident struct {
	ID                 int64      `json:"id" db:"id"`                                   // インシデントID
	SeasonID           int64      `json:"season_id" db:"season_id"`                     // 作期ID
	ReportedBy         *int64     `json:"reported_by" db:"reported_by"`                 // 報告者
	IncidentType       string     `json:"incident_type" db:"incident_type"`             // 種別
	Severity           Severity   `json:"severity" db:"severity"`                       // 重大度
	Description        string     `json:"description" db:"description"`                 // 説明
	Status             Status     `json:"status" db:"status"`                           // ステータス
	Deadline           *time.Time `json:"deadline" db:"deadline"`                       // 対応期限（日付）
	AssigneeID         *int64     `json:"assignee_id" db:"assignee_id"`                 // 担当者
	ResolvedAt         *time.Time `json:"resolved_at" db:"resolved_at"`                 // 解決日時
	ResolvedBy         *int64     `json:"resolved_by" db:"resolved_by"`                 // 解決者
	ResolutionNote     *string    `json:"resolution_note" db:"resolution_note"`         // 解決メモ
	CancellationReason *string    `json:"cancellation_reason" db:"cancellation_reason"` // 取消理由
	Version            int64      `json:"version" db:"version"`                         // 楽観的ロック用バージョン
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// User is the read-only view of an assignee or resolver
// 担当者・解決者の参照用ユーザー
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	FullName string `json:"full_name" db:"full_name"`
}

// TriageRequest is the payload of Triage
// トリアージのリクエスト
type TriageRequest struct {
	Severity   string     `json:"severity"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	AssigneeID *int64     `json:"assignee_id,omitempty"`
}

// Filter narrows incident listings
// インシデント一覧の検索条件
type Filter struct {
	Status   *Status
	Severity *Severity
	Type     string
	Limit    int
	Offset   int
}
