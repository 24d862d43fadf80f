package schedule

import (
	"fmt"
	"strings"
)

// FormRef identifies a data-collection form by namespace and name, e.g.
// {"demo", "crfone"}. Bindings from a FormRef to a concrete accessor are
// registered explicitly at startup; nothing is resolved by reflection.
type FormRef struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (r FormRef) String() string {
	return r.Namespace + "." + r.Name
}

// IsZero reports whether the reference is empty.
func (r FormRef) IsZero() bool {
	return r.Namespace == "" && r.Name == ""
}

// ParseFormRef parses a dotted "namespace.name" identifier.
func ParseFormRef(s string) (FormRef, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return FormRef{}, fmt.Errorf("invalid form reference %q, expected namespace.name", s)
	}
	return FormRef{Namespace: parts[0], Name: parts[1]}, nil
}

// CrfDef declares one CRF collected at a visit.
type CrfDef struct {
	Form      FormRef `json:"form"`
	Required  bool    `json:"required"`
	ShowOrder int     `json:"show_order"`
}

// RequisitionDef declares one lab panel requested at a visit.
type RequisitionDef struct {
	Form      FormRef `json:"form"`
	PanelName string  `json:"panel_name"`
	Required  bool    `json:"required"`
	ShowOrder int     `json:"show_order"`
}

// VisitDef declares the forms and requisition panels configured for one
// visit code. MissedCrfs is the reduced set collected when the visit itself
// is missed; the Unscheduled sets apply when visit-code-sequence > 0.
type VisitDef struct {
	Code                    string           `json:"code"`
	Title                   string           `json:"title"`
	Crfs                    []CrfDef         `json:"crfs"`
	Requisitions            []RequisitionDef `json:"requisitions"`
	MissedCrfs              []CrfDef         `json:"missed_crfs,omitempty"`
	UnscheduledCrfs         []CrfDef         `json:"unscheduled_crfs,omitempty"`
	UnscheduledRequisitions []RequisitionDef `json:"unscheduled_requisitions,omitempty"`
}

// CrfDef returns the scheduled-collection declaration for a form, if any.
func (v *VisitDef) CrfDef(form FormRef) (CrfDef, bool) {
	for _, d := range v.Crfs {
		if d.Form == form {
			return d, true
		}
	}
	return CrfDef{}, false
}

// RequisitionDef returns the declaration for a panel, if any.
func (v *VisitDef) RequisitionDef(form FormRef, panel string) (RequisitionDef, bool) {
	for _, d := range v.Requisitions {
		if d.Form == form && d.PanelName == panel {
			return d, true
		}
	}
	return RequisitionDef{}, false
}

// Schedule is one named visit schedule within a visit-schedule app.
type Schedule struct {
	Name              string     `json:"name"`
	VisitScheduleName string     `json:"visit_schedule_name"`
	Visits            []VisitDef `json:"visits"`
}

// Visit returns the definition for a visit code.
func (s *Schedule) Visit(code string) (*VisitDef, bool) {
	for i := range s.Visits {
		if s.Visits[i].Code == code {
			return &s.Visits[i], true
		}
	}
	return nil, false
}
