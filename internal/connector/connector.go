// Package connector implements the Conversation Store: reading past Claude
// Code session logs off disk and turning them into model.Conversation
// batches the dreaming pipeline can analyze.
package connector

import (
	"context"
	"time"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// Source extracts conversations from one origin (e.g. the local Claude Code
// projects directory) and tracks how far it has already been processed.
type Source interface {
	Name() string
	Extract(ctx context.Context, since time.Time, cursor string, limit int) (*model.Batch, error)
	LastProcessed(ctx context.Context) (time.Time, error)
	SetLastProcessed(ctx context.Context, t time.Time) error
}
