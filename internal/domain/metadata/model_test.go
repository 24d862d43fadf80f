package metadata

import "testing"

func TestEntryStatusValid(t *testing.T) {
	for _, s := range []EntryStatus{StatusRequired, StatusNotRequired, StatusKeyed, StatusMissed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []EntryStatus{"", "required", "DONE"} {
		if s.Valid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}

func TestDefaultStatus(t *testing.T) {
	if DefaultStatus(true) != StatusRequired {
		t.Error("required forms should default to REQUIRED")
	}
	if DefaultStatus(false) != StatusNotRequired {
		t.Error("optional forms should default to NOT_REQUIRED")
	}
}

func TestVisitKeyString(t *testing.T) {
	k := VisitKey{
		SubjectID:         "S-001",
		VisitScheduleName: "vs",
		ScheduleName:      "sched",
		VisitCode:         "1000",
		VisitCodeSequence: 1,
	}
	want := "S-001@vs.sched.1000.1"
	if got := k.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
