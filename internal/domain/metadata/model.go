package metadata

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/domain/schedule"
)

// EntryStatus is the requirement status of one form at one visit instance.
type EntryStatus string

const (
	StatusRequired    EntryStatus = "REQUIRED"
	StatusNotRequired EntryStatus = "NOT_REQUIRED"
	StatusKeyed       EntryStatus = "KEYED"
	StatusMissed      EntryStatus = "MISSED"
)

// Valid reports whether s is one of the four entry statuses.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusRequired, StatusNotRequired, StatusKeyed, StatusMissed:
		return true
	}
	return false
}

// DefaultStatus maps a schedule required-flag to its entry status.
func DefaultStatus(required bool) EntryStatus {
	if required {
		return StatusRequired
	}
	return StatusNotRequired
}

// VisitKey identifies one visit instance of one subject. Sequence 0 is the
// originally scheduled visit; >0 is an unscheduled repeat of the same code.
type VisitKey struct {
	SubjectID         string `db:"subject_id" json:"subject_id"`
	VisitScheduleName string `db:"visit_schedule_name" json:"visit_schedule_name"`
	ScheduleName      string `db:"schedule_name" json:"schedule_name"`
	VisitCode         string `db:"visit_code" json:"visit_code"`
	VisitCodeSequence int    `db:"visit_code_sequence" json:"visit_code_sequence"`
}

func (k VisitKey) String() string {
	return fmt.Sprintf("%s@%s.%s.%s.%d",
		k.SubjectID, k.VisitScheduleName, k.ScheduleName, k.VisitCode, k.VisitCodeSequence)
}

// CrfMetadata maps to the crf_metadata table. Uniqueness is enforced on the
// natural key (VisitKey + form).
type CrfMetadata struct {
	ID uuid.UUID `db:"id" json:"id"`
	VisitKey
	Form           schedule.FormRef `json:"form"`
	EntryStatus    EntryStatus      `db:"entry_status" json:"entry_status"`
	ShowOrder      int              `db:"show_order" json:"show_order"`
	DueDatetime    *time.Time       `db:"due_datetime" json:"due_datetime,omitempty"`
	ReportDatetime *time.Time       `db:"report_datetime" json:"report_datetime,omitempty"`
	CloseDatetime  *time.Time       `db:"close_datetime" json:"close_datetime,omitempty"`
	FillDatetime   *time.Time       `db:"fill_datetime" json:"fill_datetime,omitempty"`
	Comment        *string          `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// IsKeyed reports whether a source record currently backs this metadata.
func (m *CrfMetadata) IsKeyed() bool { return m.EntryStatus == StatusKeyed }

// RequisitionMetadata maps to the requisition_metadata table. The natural
// key additionally includes the panel name.
type RequisitionMetadata struct {
	ID uuid.UUID `db:"id" json:"id"`
	VisitKey
	Form           schedule.FormRef `json:"form"`
	PanelName      string           `db:"panel_name" json:"panel_name"`
	EntryStatus    EntryStatus      `db:"entry_status" json:"entry_status"`
	ShowOrder      int              `db:"show_order" json:"show_order"`
	DueDatetime    *time.Time       `db:"due_datetime" json:"due_datetime,omitempty"`
	ReportDatetime *time.Time       `db:"report_datetime" json:"report_datetime,omitempty"`
	CloseDatetime  *time.Time       `db:"close_datetime" json:"close_datetime,omitempty"`
	FillDatetime   *time.Time       `db:"fill_datetime" json:"fill_datetime,omitempty"`
	Comment        *string          `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

func (m *RequisitionMetadata) IsKeyed() bool { return m.EntryStatus == StatusKeyed }
