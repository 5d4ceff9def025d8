package model

import "time"

// AuditAction — действие администратора.
type AuditAction string

const (
	AuditApprove AuditAction = "approve"
	AuditLabel   AuditAction = "label"
)

// AuditEntry — запись журнала действий администратора. Только добавляется.
type AuditEntry struct {
	ID            string      `json:"id"`
	FeedbackID    string      `json:"feedback_id"`
	Action        AuditAction `json:"action"`
	AdminUser     string      `json:"admin_user"`
	OriginalLabel string      `json:"original_label"`
	FinalLabel    string      `json:"final_label"`
	Override      bool        `json:"override"`
	Reason        string      `json:"reason,omitempty"`
	Timestamp     time.Time   `json:"ts"`
}

// AuditDocument — документ ресурса "audit".
type AuditDocument struct {
	Entries []AuditEntry `json:"entries"`
}
