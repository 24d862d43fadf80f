package schedule

import (
	"fmt"
	"sync"
)

// Lookup is the read-only visit-schedule lookup consumed by the metadata
// engine. Implementations must be side-effect free.
type Lookup interface {
	GetVisit(scheduleName, visitCode string) (*VisitDef, error)
	GetSchedule(scheduleName string) (*Schedule, error)
}

var (
	ErrScheduleNotFound = fmt.Errorf("schedule not found")
	ErrVisitNotFound    = fmt.Errorf("visit not found")
)

// Registry holds the visit schedules known to the process. It is built once
// at startup and passed by reference into the engine components; tests
// construct a fresh registry per case.
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{schedules: make(map[string]*Schedule)}
}

// Register adds a schedule. Registering the same name twice, or a schedule
// with duplicate visit codes or empty form references, is a configuration
// error.
func (r *Registry) Register(s *Schedule) error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if s.VisitScheduleName == "" {
		return fmt.Errorf("schedule %s: visit_schedule_name is required", s.Name)
	}
	seen := make(map[string]bool, len(s.Visits))
	for _, v := range s.Visits {
		if v.Code == "" {
			return fmt.Errorf("schedule %s: visit code is required", s.Name)
		}
		if seen[v.Code] {
			return fmt.Errorf("schedule %s: duplicate visit code %s", s.Name, v.Code)
		}
		seen[v.Code] = true
		for _, d := range v.Crfs {
			if d.Form.IsZero() {
				return fmt.Errorf("schedule %s visit %s: crf with empty form reference", s.Name, v.Code)
			}
		}
		for _, d := range v.Requisitions {
			if d.Form.IsZero() || d.PanelName == "" {
				return fmt.Errorf("schedule %s visit %s: requisition needs form and panel", s.Name, v.Code)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.Name]; ok {
		return fmt.Errorf("schedule %s already registered", s.Name)
	}
	r.schedules[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

func (r *Registry) GetSchedule(scheduleName string) (*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[scheduleName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleName)
	}
	return s, nil
}

func (r *Registry) GetVisit(scheduleName, visitCode string) (*VisitDef, error) {
	s, err := r.GetSchedule(scheduleName)
	if err != nil {
		return nil, err
	}
	v, ok := s.Visit(visitCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrVisitNotFound, scheduleName, visitCode)
	}
	return v, nil
}

// Schedules returns all registered schedules in registration order.
func (r *Registry) Schedules() []*Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schedule, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.schedules[name])
	}
	return out
}
