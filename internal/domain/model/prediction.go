package model

import (
	"fmt"
	"time"
)

// Result — ответ классификатора: метка и уверенность.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Validate проверяет, что результат является корректной парой метка/уверенность.
func (r Result) Validate() error {
	if r.Label == "" {
		return fmt.Errorf("пустая метка")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("уверенность %v вне диапазона [0, 1]", r.Confidence)
	}
	return nil
}

// Choice — оценка результата пользователем.
type Choice string

const (
	ChoicePerfect Choice = "perfect"
	ChoiceOkay    Choice = "okay"
	ChoiceWrong   Choice = "wrong"
)

// ParseChoice преобразует строку в Choice.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoicePerfect, ChoiceOkay, ChoiceWrong:
		return Choice(s), nil
	default:
		return "", fmt.Errorf("недопустимая оценка: %q, допустимые: perfect, okay, wrong", s)
	}
}

// PredictionRecord — запись о классификации и её жизненном цикле.
// Архив записей хранится в ресурсе "feedback".
type PredictionRecord struct {
	ID               string `json:"id"`
	User             string `json:"user"`
	MediaRef         string `json:"media_ref"`
	PrimaryResult    Result `json:"primary_result"`
	SecondaryResult  Result `json:"secondary_result"`
	SecondaryModelID string `json:"secondary_model_id"`
	Disagreement     bool   `json:"disagreement"`

	CorrectLabel   string     `json:"correct_label,omitempty"`
	Chosen         Choice     `json:"chosen,omitempty"`
	SuggestedLabel string     `json:"suggested_label,omitempty"`
	UserFeedbackAt *time.Time `json:"user_feedback_at,omitempty"`

	AdminApproved    bool       `json:"admin_approved"`
	AdminReviewed    bool       `json:"admin_reviewed"`
	ApprovalDeadline *time.Time `json:"approval_deadline,omitempty"`
	AdminApprovedAt  *time.Time `json:"admin_approved_at,omitempty"`
	AdminUser        string     `json:"admin_user,omitempty"`
	OverrideLabel    string     `json:"override_label,omitempty"`
	OverrideReason   string     `json:"override_reason,omitempty"`
	AutoApproved     bool       `json:"auto_approved"`
	AutoApprovedAt   *time.Time `json:"auto_approved_at,omitempty"`

	// FinalLabel — метка сектора, определённая при одобрении
	FinalLabel string     `json:"final_label,omitempty"`
	SectoredAt *time.Time `json:"sectored_at,omitempty"`

	AdminLabeled   bool       `json:"admin_labeled"`
	AdminLabeledAt *time.Time `json:"admin_labeled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FeedbackDocument — документ ресурса "feedback" (архив записей).
type FeedbackDocument struct {
	Records []PredictionRecord `json:"records"`
}

// Find возвращает указатель на запись по идентификатору или nil.
func (d *FeedbackDocument) Find(id string) *PredictionRecord {
	for i := range d.Records {
		if d.Records[i].ID == id {
			return &d.Records[i]
		}
	}
	return nil
}

// ComparisonRecord — сравнение двух классификаторов для офлайн-анализа.
type ComparisonRecord struct {
	ID                  string    `json:"id"`
	RecordID            string    `json:"record_id"`
	MediaRef            string    `json:"media_ref"`
	PrimaryLabel        string    `json:"primary_label"`
	PrimaryConfidence   float64   `json:"primary_confidence"`
	SecondaryLabel      string    `json:"secondary_label"`
	SecondaryConfidence float64   `json:"secondary_confidence"`
	SecondaryModelID    string    `json:"secondary_model_id"`
	Disagreement        bool      `json:"disagreement"`
	Timestamp           time.Time `json:"ts"`
}

// ComparisonsDocument — документ ресурса "comparisons".
type ComparisonsDocument struct {
	Comparisons []ComparisonRecord `json:"comparisons"`
}

// PriorityReview — артефакт приоритетной проверки записи с расхождением.
type PriorityReview struct {
	Record    PredictionRecord `json:"record"`
	FlaggedAt time.Time        `json:"flagged_at"`
}
