package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeDirectory struct {
	patients     map[string]Patient // keyed by name
	doctors      map[string][]Doctor
	appointments map[string]string // slot key -> appointment id
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients: map[string]Patient{
			"Jane Doe": {ID: "p-1", Name: "Jane Doe", DateOfBirth: "1985-04-12"},
		},
		doctors: map[string][]Doctor{
			"Cardiology":      {{ID: "d-1", Name: "Dr. Osei", Specialty: "Cardiology"}},
			FallbackSpecialty: {{ID: "d-9", Name: "Dr. Laine", Specialty: FallbackSpecialty}},
		},
		appointments: make(map[string]string),
	}
}

func (f *fakeDirectory) FindPatient(_ context.Context, name, _ string) (*Patient, error) {
	if p, ok := f.patients[name]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakeDirectory) DoctorsBySpecialty(_ context.Context, specialty string) ([]Doctor, error) {
	return f.doctors[specialty], nil
}

func (f *fakeDirectory) CreateAppointment(_ context.Context, appt Appointment) (string, error) {
	key := appt.DoctorID + "|" + appt.StartsAt.Format(time.RFC3339)
	if _, taken := f.appointments[key]; taken {
		return "", ErrSlotTaken
	}
	f.appointments[key] = "appt-1"
	return "appt-1", nil
}

type staticSearcher struct{ text string }

func (s staticSearcher) Search(context.Context, string) (string, error) { return s.text, nil }

func TestVerifyPatient_KnownPatient(t *testing.T) {
	h := VerifyPatient{Dir: newFakeDirectory()}

	content, err := h.Execute(context.Background(), "MZ1", map[string]any{
		"patient_name":  "Jane Doe",
		"date_of_birth": "1985-04-12",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if ok, _ := content["verified"].(bool); !ok {
		t.Fatalf("content = %v, want verified", content)
	}
	if onFile, _ := content["on_file"].(bool); !onFile {
		t.Fatalf("content = %v, want on_file", content)
	}
	next, _ := content["next_action"].(string)
	if !strings.Contains(next, "match_and_find_doctor") {
		t.Fatalf("next_action = %q, want follow-up directive naming the next tool", next)
	}
}

func TestVerifyPatient_UnknownCallerStillSucceeds(t *testing.T) {
	h := VerifyPatient{Dir: newFakeDirectory()}

	content, err := h.Execute(context.Background(), "MZ1", map[string]any{"patient_name": "Nobody"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if ok, _ := content["verified"].(bool); !ok {
		t.Fatalf("content = %v, want deterministic verified success", content)
	}
	if onFile, _ := content["on_file"].(bool); onFile {
		t.Fatalf("content = %v, want on_file=false", content)
	}
}

func TestMatchDoctor_DirectMatch(t *testing.T) {
	h := MatchDoctor{Dir: newFakeDirectory()}

	content, err := h.Execute(context.Background(), "MZ1", map[string]any{"specialty": "Cardiology"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fb, _ := content["is_fallback"].(bool); fb {
		t.Fatalf("content = %v, want is_fallback=false", content)
	}
	if content["doctor_name"] != "Dr. Osei" {
		t.Fatalf("doctor_name = %v", content["doctor_name"])
	}
}

func TestMatchDoctor_FallbackOnZeroMatches(t *testing.T) {
	h := MatchDoctor{Dir: newFakeDirectory()}

	content, err := h.Execute(context.Background(), "MZ1", map[string]any{"specialty": "Dermatology"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fb, _ := content["is_fallback"].(bool); !fb {
		t.Fatalf("content = %v, want is_fallback=true", content)
	}
	if content["doctor_name"] != "Dr. Laine" {
		t.Fatalf("doctor_name = %v, want fallback doctor", content["doctor_name"])
	}
	if content["specialty"] != FallbackSpecialty {
		t.Fatalf("specialty = %v, want %q", content["specialty"], FallbackSpecialty)
	}
}

func TestBookAppointment_ConflictIsStructuredFailure(t *testing.T) {
	dir := newFakeDirectory()
	h := BookAppointment{Dir: dir}
	args := map[string]any{
		"patient_name": "Jane Doe",
		"doctor_id":    "d-1",
		"doctor_name":  "Dr. Osei",
		"slot":         "2026-09-01T10:00:00Z",
	}

	first, err := h.Execute(context.Background(), "MZ1", args)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if ok, _ := first["success"].(bool); !ok {
		t.Fatalf("first booking = %v, want success", first)
	}
	if first["appointment_id"] != "appt-1" {
		t.Fatalf("appointment_id = %v", first["appointment_id"])
	}

	second, err := h.Execute(context.Background(), "MZ1", args)
	if err != nil {
		t.Fatalf("second Execute() error = %v, conflicts must not be errors", err)
	}
	if ok, _ := second["success"].(bool); ok {
		t.Fatalf("second booking = %v, want structured failure", second)
	}
	if msg, _ := second["error"].(string); msg == "" {
		t.Fatalf("second booking = %v, want diagnostic message", second)
	}
}

func TestBookAppointment_RejectsUnparseableSlot(t *testing.T) {
	h := BookAppointment{Dir: newFakeDirectory()}

	content, err := h.Execute(context.Background(), "MZ1", map[string]any{"slot": "tomorrowish"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if ok, _ := content["success"].(bool); ok {
		t.Fatalf("content = %v, want failure for bad slot", content)
	}
}

func TestSearchKnowledge_WrapsCollaboratorText(t *testing.T) {
	h := SearchKnowledge{Searcher: staticSearcher{text: "Leave Policy: annual, sick, unpaid."}}

	content, err := h.Execute(context.Background(), "MZ1", map[string]any{"query": "leave policy"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if content["results"] != "Leave Policy: annual, sick, unpaid." {
		t.Fatalf("results = %v", content["results"])
	}
}
