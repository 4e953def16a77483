package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Note is a titled rich text document paired with a GIF.
type Note struct {
	ID        int64
	CreatedAt time.Time
	Title     string
	// Content is the editor's serialized document tree. It is stored and
	// returned as is.
	Content json.RawMessage
	GifID   string
}

// NoteRepository defines persistence operations for notes.
type NoteRepository interface {
	// Create caches gif and inserts note referencing it, atomically.
	Create(ctx context.Context, note *Note, gif *Gif) error
	GetByID(ctx context.Context, id int64) (*Note, error)
	// List returns notes whose title contains query, newest first. Content
	// is not loaded.
	List(ctx context.Context, query string) ([]Note, error)
	Delete(ctx context.Context, id int64) error
}
