// Package vecstore is the optional vector-backed index for the Remediation
// Store: it embeds each resolution action's text and supports a
// cosine-similarity KNN search, filtered by connector and minimum age, so
// Stage B can find semantically similar past resolutions that the lexical
// comparison in internal/similarity would miss. Its absence is never fatal
// — callers treat a nil Store, or any Store method error, as "no
// historical matches available" and fall back to the file-backed lexical
// comparison alone.
package vecstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Dimension is the embedding width this store expects, matching the
// all-MiniLM-L6-v2 sentence embedding model used historically.
const Dimension = 384

// SimilarityFloor is the minimum cosine score a search result must clear
// to be returned at all.
const SimilarityFloor = 0.5

// Embedder turns text into a Dimension-length vector. Implementations may
// call out to a local model or a remote embedding API; vecstore only
// consumes the result.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Record is one indexed resolution action.
type Record struct {
	ID           string
	ResolutionID string
	ConnectorID  string
	Target       string
	Title        string
	Description  string
	Rationale    string
	CreatedAt    time.Time
}

// Match is a search hit: a Record plus its similarity score.
type Match struct {
	Record
	Score float32
}

// Store is a lazily-initialized, pure-Go (modernc.org/sqlite, no CGO)
// embedding index. Opening the database is deferred to the first call that
// needs it, so a process that never reaches Stage B's vector search never
// pays the cost of creating the file.
type Store struct {
	path     string
	embedder Embedder
	db       *sql.DB
}

// New returns a Store that will lazily open dbPath on first use.
func New(dbPath string, embedder Embedder) *Store {
	return &Store{path: dbPath, embedder: embedder}
}

func (s *Store) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("vecstore: open %s: %w", s.path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS resolution_actions (
			id TEXT PRIMARY KEY,
			resolution_id TEXT,
			connector_id TEXT,
			target TEXT,
			title TEXT,
			description TEXT,
			rationale TEXT,
			embedding BLOB,
			created_at DATETIME
		)
	`); err != nil {
		db.Close()
		return fmt.Errorf("vecstore: create table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_resolution_actions_connector ON resolution_actions(connector_id)"); err != nil {
		db.Close()
		return fmt.Errorf("vecstore: create index: %w", err)
	}
	s.db = db
	return nil
}

// Index embeds and stores one resolution action's searchable text. A Store
// with no configured Embedder (embeddings disabled) is a no-op rather than
// a panic, consistent with the package's "absence is never fatal" contract.
func (s *Store) Index(ctx context.Context, resolutionID, connectorID, target, title, description, rationale string, createdAt time.Time) error {
	if s.embedder == nil {
		return nil
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	text := indexText(target, title, description, rationale)
	if text == "" {
		return nil
	}
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("vecstore: embed: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO resolution_actions
		(id, resolution_id, connector_id, target, title, description, rationale, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), resolutionID, connectorID, target, title, description, rationale, encodeEmbedding(embedding), createdAt)
	if err != nil {
		return fmt.Errorf("vecstore: insert: %w", err)
	}
	return nil
}

func indexText(target, title, description, rationale string) string {
	parts := make([]string, 0, 4)
	if target != "" {
		parts = append(parts, "Target: "+target)
	}
	if title != "" {
		parts = append(parts, "Title: "+title)
	}
	if description != "" {
		parts = append(parts, "Description: "+description)
	}
	if rationale != "" {
		parts = append(parts, "Rationale: "+rationale)
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// Search finds the k most similar resolution actions to queryText, only
// considering records older than minAge and (if connectorID is non-empty)
// matching that connector, and discarding anything below SimilarityFloor.
func (s *Store) Search(ctx context.Context, queryText string, k int, minAge time.Duration, connectorID string) ([]Match, error) {
	if s.embedder == nil {
		return nil, nil
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	queryEmbedding, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("vecstore: embed query: %w", err)
	}

	cutoff := time.Now().Add(-minAge)
	query := `SELECT id, resolution_id, connector_id, target, title, description, rationale, embedding, created_at
	          FROM resolution_actions WHERE created_at <= ?`
	args := []any{cutoff}
	if connectorID != "" {
		query += " AND connector_id = ?"
		args = append(args, connectorID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vecstore: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var rec Record
		var embeddingBlob []byte
		if err := rows.Scan(&rec.ID, &rec.ResolutionID, &rec.ConnectorID, &rec.Target,
			&rec.Title, &rec.Description, &rec.Rationale, &embeddingBlob, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("vecstore: scan: %w", err)
		}
		score := cosineSimilarity(queryEmbedding, decodeEmbedding(embeddingBlob))
		if score < SimilarityFloor {
			continue
		}
		matches = append(matches, Match{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Close releases the underlying database handle, if one was ever opened.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeEmbedding(v []float32) []byte {
	data := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
