package handler

import (
	"encoding/json"
	"time"

	"github.com/msomdec/minddump/internal/domain"
)

// NoteDTO is the JSON representation of a note. Content is omitted in
// listings.
type NoteDTO struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	CreatedAt string          `json:"createdAt"`
	GifID     string          `json:"gifId"`
	Content   json.RawMessage `json:"content,omitempty"`
	Gif       json.RawMessage `json:"gif,omitempty"`
}

func toNoteDTO(n *domain.Note) NoteDTO {
	return NoteDTO{
		ID:        n.ID,
		Title:     n.Title,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		GifID:     n.GifID,
		Content:   n.Content,
	}
}

// CreateNoteRequest is the body of POST /api/notes.
type CreateNoteRequest struct {
	Gif     json.RawMessage `json:"gif"`
	Content json.RawMessage `json:"content"`
}
