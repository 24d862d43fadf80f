package crf

import (
	"time"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
)

// Submission maps to the form_submission table: one keyed source record for
// a form (or form+panel for requisitions) at one visit instance. The
// payload is stored as JSONB so rule predicates can read clinical fields
// without a per-form schema.
type Submission struct {
	ID uuid.UUID `db:"id" json:"id"`
	metadata.VisitKey
	Form           schedule.FormRef       `json:"form"`
	PanelName      string                 `db:"panel_name" json:"panel_name,omitempty"`
	Data           map[string]interface{} `db:"data" json:"data"`
	ReportDatetime time.Time              `db:"report_datetime" json:"report_datetime"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// Field returns a payload value.
func (s *Submission) Field(name string) (interface{}, bool) {
	v, ok := s.Data[name]
	return v, ok
}
