// Package store is the Postgres persistence layer: durable call sessions, the
// conversation graph, advertised tool definitions, and the clinic records the
// tool handlers read and write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink-ai/voicebridge/pkg/convo"
	"github.com/carelink-ai/voicebridge/pkg/tools"
)

const pgUniqueViolation = "23505"

// Postgres implements the session, graph, directory, and knowledge interfaces
// over one shared connection pool. The pool is constructed once at process
// start and injected; nothing here reaches for a global handle.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Connect opens a pool against databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, logger), nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// GetOrCreateSession inserts the session row for a newly started stream. The
// insert is idempotent: an existing row is left untouched, including its
// current state.
func (p *Postgres) GetOrCreateSession(ctx context.Context, streamSID, callSID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO call_sessions (stream_sid, call_sid, current_state)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_sid) DO NOTHING`,
		streamSID, callSID, convo.StartState)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", streamSID, err)
	}
	return nil
}

// CurrentState reads the session's durable state label.
func (p *Postgres) CurrentState(ctx context.Context, streamSID string) (string, error) {
	var state string
	err := p.pool.QueryRow(ctx,
		`SELECT current_state FROM call_sessions WHERE stream_sid = $1`,
		streamSID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return convo.StartState, nil
	}
	if err != nil {
		return "", fmt.Errorf("read state for %s: %w", streamSID, err)
	}
	return state, nil
}

// ApplyTransition performs the graph edge lookup and the state write as one
// statement, so two concurrent tool calls cannot both observe the old state
// and both transition. No matching edge updates nothing and returns nil.
func (p *Postgres) ApplyTransition(ctx context.Context, streamSID, toolName string) (*convo.Transition, error) {
	var tr convo.Transition
	err := p.pool.QueryRow(ctx, `
		WITH edge AS (
			SELECT g.to_state, g.instruction_update
			FROM conversation_graph g
			JOIN call_sessions s ON s.current_state = g.from_state
			WHERE s.stream_sid = $1 AND g.trigger_tool = $2
			LIMIT 1
		)
		UPDATE call_sessions s
		SET current_state = edge.to_state, updated_at = now()
		FROM edge
		WHERE s.stream_sid = $1
		RETURNING edge.to_state, edge.instruction_update`,
		streamSID, toolName).Scan(&tr.ToState, &tr.InstructionUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transition %s via %s: %w", streamSID, toolName, err)
	}
	return &tr, nil
}

// ToolDefinitions loads the tool schemas advertised to the engine. Malformed
// rows are dropped with a warning; they never fail session setup.
func (p *Postgres) ToolDefinitions(ctx context.Context) ([]tools.Definition, error) {
	rows, err := p.pool.Query(ctx, `SELECT name, definition FROM tool_definitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load tool definitions: %w", err)
	}
	defer rows.Close()

	var defs []tools.Definition
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan tool definition: %w", err)
		}
		def, err := ParseToolDefinition(name, raw)
		if err != nil {
			p.logger.Warn("dropping malformed tool definition", "tool", name, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool definitions: %w", err)
	}
	return defs, nil
}

// ParseToolDefinition validates one stored schema document.
func ParseToolDefinition(name string, raw []byte) (tools.Definition, error) {
	var def tools.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return tools.Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	if def.Name == "" {
		def.Name = name
	}
	if strings.TrimSpace(def.Name) == "" {
		return tools.Definition{}, errors.New("definition has no name")
	}
	return def, nil
}

// RecordCall stores call metadata best-effort; callers log and continue on
// failure.
func (p *Postgres) RecordCall(ctx context.Context, callSID, fromNumber, toNumber, status string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO calls (call_sid, from_number, to_number, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_sid) DO UPDATE SET status = EXCLUDED.status`,
		callSID, fromNumber, toNumber, status)
	if err != nil {
		return fmt.Errorf("record call %s: %w", callSID, err)
	}
	return nil
}

// FindPatient looks up a patient by name, optionally narrowed by date of
// birth. A missing record is (nil, nil), not an error.
func (p *Postgres) FindPatient(ctx context.Context, name, dateOfBirth string) (*tools.Patient, error) {
	query := `SELECT id, name, date_of_birth, phone FROM patients WHERE lower(name) = lower($1)`
	args := []any{name}
	if strings.TrimSpace(dateOfBirth) != "" {
		query += ` AND date_of_birth = $2`
		args = append(args, dateOfBirth)
	}

	var patient tools.Patient
	err := p.pool.QueryRow(ctx, query, args...).Scan(
		&patient.ID, &patient.Name, &patient.DateOfBirth, &patient.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}
	return &patient, nil
}

// DoctorsBySpecialty lists doctors for a specialty, case-insensitively.
func (p *Postgres) DoctorsBySpecialty(ctx context.Context, specialty string) ([]tools.Doctor, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, specialty FROM doctors WHERE lower(specialty) = lower($1) ORDER BY name`,
		specialty)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var doctors []tools.Doctor
	for rows.Next() {
		var d tools.Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		doctors = append(doctors, d)
	}
	return doctors, rows.Err()
}

// CreateAppointment books a slot. A collision on (doctor, starts_at) maps to
// tools.ErrSlotTaken.
func (p *Postgres) CreateAppointment(ctx context.Context, appt tools.Appointment) (string, error) {
	id := uuid.NewString()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO appointments (id, patient_name, doctor_id, doctor_name, starts_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, appt.PatientName, appt.DoctorID, appt.DoctorName, appt.StartsAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", tools.ErrSlotTaken
		}
		return "", fmt.Errorf("insert appointment: %w", err)
	}
	return id, nil
}

// NearestChunks returns the knowledge chunks closest to the query embedding by
// cosine distance.
func (p *Postgres) NearestChunks(ctx context.Context, embedding []float32, limit int) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT content FROM knowledge_base
		ORDER BY embedding <=> $1::vector
		LIMIT $2`,
		VectorLiteral(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var chunks []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, content)
	}
	return chunks, rows.Err()
}

// VectorLiteral renders an embedding in pgvector's input syntax.
func VectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
