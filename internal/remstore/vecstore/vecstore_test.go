package vecstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns the vector configured for the exact input text (a
// zero vector for any other text), or an error if configured to, for
// exercising the similarity math without a real embedding model.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, Dimension), nil
}

func newDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "vectors.db")
}

func TestStore_NilEmbedder_IndexAndSearchAreNoOps(t *testing.T) {
	store := New(newDBPath(t), nil)

	err := store.Index(context.Background(), "res-1", "claude-code", "note.md", "title", "desc", "rationale", time.Now())
	require.NoError(t, err)

	matches, err := store.Search(context.Background(), "anything", 5, 0, "")
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestStore_IndexThenSearch_FindsSimilarRecordAboveFloor(t *testing.T) {
	text := indexText("note.md", "dark mode preference", "remember the user wants dark mode", "asked repeatedly")
	embedder := &stubEmbedder{vectors: map[string][]float32{
		text:              unitVector(0),
		"dark mode query": unitVector(0),
	}}
	store := New(newDBPath(t), embedder)

	createdAt := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Index(context.Background(), "res-1", "claude-code", "note.md", "dark mode preference", "remember the user wants dark mode", "asked repeatedly", createdAt))

	matches, err := store.Search(context.Background(), "dark mode query", 5, time.Hour, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "note.md", matches[0].Target)
	assert.GreaterOrEqual(t, matches[0].Score, float32(SimilarityFloor))
}

func TestStore_Search_ExcludesRecordsNewerThanMinAge(t *testing.T) {
	text := indexText("note.md", "t", "d", "r")
	embedder := &stubEmbedder{vectors: map[string][]float32{text: unitVector(0), "q": unitVector(0)}}
	store := New(newDBPath(t), embedder)

	require.NoError(t, store.Index(context.Background(), "res-1", "claude-code", "note.md", "t", "d", "r", time.Now()))

	matches, err := store.Search(context.Background(), "q", 5, 24*time.Hour, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_Search_FiltersByConnector(t *testing.T) {
	text := indexText("note.md", "t", "d", "r")
	embedder := &stubEmbedder{vectors: map[string][]float32{text: unitVector(0), "q": unitVector(0)}}
	store := New(newDBPath(t), embedder)

	createdAt := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Index(context.Background(), "res-1", "vscode", "note.md", "t", "d", "r", createdAt))

	matches, err := store.Search(context.Background(), "q", 5, time.Hour, "claude-code")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func unitVector(axis int) []float32 {
	v := make([]float32, Dimension)
	v[axis] = 1
	return v
}
