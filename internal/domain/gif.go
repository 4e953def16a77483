package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Gif is cached metadata for a GIF from the media provider. JSON is the
// provider's document, kept verbatim.
type Gif struct {
	ID    string
	Title string
	JSON  json.RawMessage
}

// ParseGif reads the id and title out of a provider document.
func ParseGif(raw json.RawMessage) (*Gif, error) {
	var doc struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: gif: %v", ErrInvalidInput, err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: gif id is required", ErrInvalidInput)
	}
	return &Gif{ID: doc.ID, Title: doc.Title, JSON: raw}, nil
}

// GifRepository caches provider metadata keyed by provider id.
type GifRepository interface {
	// Save inserts or replaces the cached document.
	Save(ctx context.Context, gif *Gif) error
	GetByID(ctx context.Context, id string) (*Gif, error)
}

// GifPage is one page of provider search results.
type GifPage struct {
	Gifs       []Gif
	Offset     int
	Count      int
	TotalCount int
}

// NextOffset returns the offset of the page after p for the given page size,
// or false when p is the last page.
func (p GifPage) NextOffset(limit int) (int, bool) {
	if p.Count+p.Offset+limit > p.TotalCount {
		return 0, false
	}
	return p.Offset + limit, true
}

// GifSearcher is the external media search provider. An empty query lists
// trending GIFs.
type GifSearcher interface {
	Search(ctx context.Context, query string, offset, limit int) (GifPage, error)
}
