// Package rag answers free-text knowledge queries for the voice agent. Queries
// are embedded and matched against the knowledge base by vector distance; when
// embeddings are unavailable the search degrades to a static policy digest so
// the call can continue.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore returns the knowledge chunks nearest to a query vector.
type ChunkStore interface {
	NearestChunks(ctx context.Context, embedding []float32, limit int) ([]string, error)
}

const defaultLimit = 3

// Retriever is the knowledge-retrieval collaborator: one query in, one text
// answer out.
type Retriever struct {
	embedder Embedder
	chunks   ChunkStore
	logger   *slog.Logger
}

// NewRetriever builds a retriever. Either dependency may be nil; the retriever
// then always serves the static digest.
func NewRetriever(embedder Embedder, chunks ChunkStore, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, chunks: chunks, logger: logger}
}

// Search embeds the query, pulls the nearest knowledge chunks, and joins them
// into one answer. Failures degrade to the digest rather than surfacing to the
// caller.
func (r *Retriever) Search(ctx context.Context, query string) (string, error) {
	if r.embedder == nil || r.chunks == nil {
		return policyDigest, nil
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, serving digest", "error", err)
		return policyDigest, nil
	}

	rows, err := r.chunks.NearestChunks(ctx, embedding, defaultLimit)
	if err != nil {
		return "", fmt.Errorf("nearest chunks: %w", err)
	}
	if len(rows) == 0 {
		return policyDigest, nil
	}
	return strings.Join(rows, "\n---\n"), nil
}

// policyDigest summarizes the knowledge base for when vector search is not
// available.
const policyDigest = `Code of Conduct: expected behavior, professionalism, ethics, and workplace standards.
Anti-Discrimination and Harassment: prohibits discrimination, harassment, bullying, and retaliation.
Attendance and Punctuality: work hours, tardiness rules, and absence reporting.
Leave: annual, sick, maternity/paternity, unpaid leave, and public holidays.
Remote Work: eligibility, expectations, communication standards, and equipment.
Compensation and Payroll: salary structure, payment schedule, overtime, and deductions.
Performance Evaluation: review process, appraisal timelines, and promotions.
Health and Safety: safe work environment and emergency procedures.
Data Protection and Privacy: handling, storage, and protection of company and customer data.`
