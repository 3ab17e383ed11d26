package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Patient is a record used for caller identity verification.
type Patient struct {
	ID          string
	Name        string
	DateOfBirth string
	Phone       string
}

// Doctor is an available practitioner in some specialty.
type Doctor struct {
	ID        string
	Name      string
	Specialty string
}

// Appointment is a booking request for a doctor at a given slot.
type Appointment struct {
	PatientName string
	DoctorID    string
	DoctorName  string
	StartsAt    time.Time
}

// Directory is the record store the clinic handlers read and write.
// CreateAppointment returns ErrSlotTaken on a uniqueness/availability
// conflict.
type Directory interface {
	FindPatient(ctx context.Context, name, dateOfBirth string) (*Patient, error)
	DoctorsBySpecialty(ctx context.Context, specialty string) ([]Doctor, error)
	CreateAppointment(ctx context.Context, appt Appointment) (string, error)
}

// Searcher is the knowledge-retrieval collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// FallbackSpecialty is the category doctors are drawn from when a requested
// specialty has no matches.
const FallbackSpecialty = "General Medicine"

// VerifyPatient checks caller identity against the patient directory. The
// result is a deterministic success either way: the engine is told whether the
// caller is on file and which tool to call next, and decides conversationally
// how to proceed.
type VerifyPatient struct {
	Dir Directory
}

func (VerifyPatient) Name() string { return "verify_patient" }

func (h VerifyPatient) Execute(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	name := strings.TrimSpace(argString(args, "patient_name"))
	dob := strings.TrimSpace(argString(args, "date_of_birth"))

	content := map[string]any{
		"success":     true,
		"verified":    true,
		"next_action": "call match_and_find_doctor with the specialty the caller needs",
	}

	if name == "" {
		content["on_file"] = false
		return content, nil
	}

	patient, err := h.Dir.FindPatient(ctx, name, dob)
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}
	if patient == nil {
		content["on_file"] = false
		return content, nil
	}

	content["on_file"] = true
	content["patient_id"] = patient.ID
	return content, nil
}

// MatchDoctor searches a specialty and falls back to the default category when
// nothing matches. It never returns an empty result for a valid directory: the
// fallback path reports is_fallback so the engine can tell the caller.
type MatchDoctor struct {
	Dir Directory
}

func (MatchDoctor) Name() string { return "match_and_find_doctor" }

func (h MatchDoctor) Execute(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	specialty := strings.TrimSpace(argString(args, "specialty"))

	doctors, err := h.Dir.DoctorsBySpecialty(ctx, specialty)
	if err != nil {
		return nil, fmt.Errorf("search specialty %q: %w", specialty, err)
	}

	isFallback := false
	if len(doctors) == 0 {
		isFallback = true
		doctors, err = h.Dir.DoctorsBySpecialty(ctx, FallbackSpecialty)
		if err != nil {
			return nil, fmt.Errorf("search fallback specialty: %w", err)
		}
		if len(doctors) == 0 {
			return map[string]any{
				"success": false,
				"error":   "no doctors are available right now",
			}, nil
		}
	}

	doc := doctors[0]
	return map[string]any{
		"success":     true,
		"is_fallback": isFallback,
		"doctor_id":   doc.ID,
		"doctor_name": doc.Name,
		"specialty":   doc.Specialty,
	}, nil
}

// BookAppointment writes a booking. A slot conflict produces a structured
// failure result so the conversation can recover; it is never an error.
type BookAppointment struct {
	Dir Directory
}

func (BookAppointment) Name() string { return "book_appointment" }

func (h BookAppointment) Execute(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	appt := Appointment{
		PatientName: strings.TrimSpace(argString(args, "patient_name")),
		DoctorID:    strings.TrimSpace(argString(args, "doctor_id")),
		DoctorName:  strings.TrimSpace(argString(args, "doctor_name")),
	}

	slot := strings.TrimSpace(argString(args, "slot"))
	if slot == "" {
		return map[string]any{
			"success": false,
			"error":   "a slot time is required to book",
		}, nil
	}
	startsAt, err := time.Parse(time.RFC3339, slot)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("could not understand slot time %q", slot),
		}, nil
	}
	appt.StartsAt = startsAt

	id, err := h.Dir.CreateAppointment(ctx, appt)
	if errors.Is(err, ErrSlotTaken) {
		return map[string]any{
			"success": false,
			"error":   "that slot is already booked; offer the caller a different time",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	return map[string]any{
		"success":        true,
		"appointment_id": id,
		"starts_at":      appt.StartsAt.Format(time.RFC3339),
	}, nil
}

// SearchKnowledge wraps the retrieval collaborator's text answer.
type SearchKnowledge struct {
	Searcher Searcher
}

func (SearchKnowledge) Name() string { return "search_knowledge_base" }

func (h SearchKnowledge) Execute(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	query := strings.TrimSpace(argString(args, "query"))
	if query == "" {
		return map[string]any{
			"success": false,
			"error":   "a query is required",
		}, nil
	}

	text, err := h.Searcher.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	return map[string]any{
		"success": true,
		"results": text,
	}, nil
}

// ReturnToMain is a navigation tool. It usually has no graph edge, which
// leaves state unchanged; the instruction update, when an edge exists, does
// the steering.
type ReturnToMain struct{}

func (ReturnToMain) Name() string { return "return_to_main" }

func (ReturnToMain) Execute(context.Context, string, map[string]any) (map[string]any, error) {
	return map[string]any{"success": true}, nil
}
