package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/domain/metadata"
)

// Reason classifies a visit instance and selects create-vs-delete semantics
// for its metadata.
type Reason string

const (
	ReasonScheduled       Reason = "SCHEDULED"
	ReasonUnscheduled     Reason = "UNSCHEDULED"
	ReasonMissed          Reason = "MISSED"
	ReasonLostToFollowup  Reason = "LOST_TO_FOLLOWUP"
)

// Valid reports whether r is a known visit reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonScheduled, ReasonUnscheduled, ReasonMissed, ReasonLostToFollowup:
		return true
	}
	return false
}

// CreatesMetadata reports whether a visit with this reason provisions
// metadata records. Lost-to-followup visits tear metadata down instead.
func (r Reason) CreatesMetadata() bool {
	switch r {
	case ReasonScheduled, ReasonUnscheduled, ReasonMissed:
		return true
	}
	return false
}

// Visit maps to the subject_visit table: one visit instance of one subject.
type Visit struct {
	ID uuid.UUID `db:"id" json:"id"`
	metadata.VisitKey
	Reason         Reason    `db:"reason" json:"reason"`
	ReportDatetime time.Time `db:"report_datetime" json:"report_datetime"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Key returns the visit instance's natural key.
func (v *Visit) Key() metadata.VisitKey { return v.VisitKey }

// IsMissed reports whether the visit itself was missed.
func (v *Visit) IsMissed() bool { return v.Reason == ReasonMissed }
