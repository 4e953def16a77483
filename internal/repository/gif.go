package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/msomdec/minddump/internal/domain"
)

// GifRepository implements domain.GifRepository.
type GifRepository struct {
	db Acquirer
}

// NewGifRepository creates a GifRepository on db.
func NewGifRepository(db Acquirer) *GifRepository {
	return &GifRepository{db: db}
}

func (r *GifRepository) Save(ctx context.Context, gif *domain.Gif) error {
	tok, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire database: %w", err)
	}
	defer tok.Release()

	return saveGif(ctx, tok.Value, gif)
}

func (r *GifRepository) GetByID(ctx context.Context, id string) (*domain.Gif, error) {
	tok, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database: %w", err)
	}
	defer tok.Release()

	rows, err := tok.Value.Execute(ctx, `SELECT json FROM giphy WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query gif by id: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}

	var raw json.RawMessage
	if err := scanRow(rows[0], &raw); err != nil {
		return nil, fmt.Errorf("query gif by id: %w", err)
	}

	gif := &domain.Gif{ID: id, JSON: raw}
	if parsed, err := domain.ParseGif(raw); err == nil {
		gif.Title = parsed.Title
	}
	return gif, nil
}
