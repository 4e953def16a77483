package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/msomdec/minddump/internal/bridge"
	"github.com/msomdec/minddump/internal/domain"
)

// NoteRepository implements domain.NoteRepository.
type NoteRepository struct {
	db     Acquirer
	logger *slog.Logger
}

// NewNoteRepository creates a NoteRepository on db.
func NewNoteRepository(db Acquirer, opts ...Option) *NoteRepository {
	o := buildOptions(opts)
	return &NoteRepository{db: db, logger: o.logger}
}

func (r *NoteRepository) Create(ctx context.Context, note *domain.Note, gif *domain.Gif) error {
	tok, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire database: %w", err)
	}
	defer tok.Release()
	p := tok.Value

	return inTx(ctx, p, r.logger, func() error {
		if err := saveGif(ctx, p, gif); err != nil {
			return err
		}

		rows, err := p.Execute(ctx,
			`INSERT INTO notes (title, content, giphy_id) VALUES (?, ?, ?)
			 RETURNING id, created_at`,
			note.Title, string(note.Content), gif.ID,
		)
		if err != nil {
			return fmt.Errorf("insert note: %w", mapError(err))
		}
		if len(rows) != 1 {
			return fmt.Errorf("insert note: expected 1 row, got %d", len(rows))
		}
		if err := scanRow(rows[0], &note.ID, &note.CreatedAt); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		note.GifID = gif.ID
		return nil
	})
}

func (r *NoteRepository) GetByID(ctx context.Context, id int64) (*domain.Note, error) {
	tok, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database: %w", err)
	}
	defer tok.Release()

	rows, err := tok.Value.Execute(ctx,
		`SELECT id, created_at, title, content, giphy_id FROM notes WHERE id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query note by id: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}

	note := &domain.Note{}
	if err := scanRow(rows[0], &note.ID, &note.CreatedAt, &note.Title, &note.Content, &note.GifID); err != nil {
		return nil, fmt.Errorf("query note by id: %w", err)
	}
	return note, nil
}

func (r *NoteRepository) List(ctx context.Context, query string) ([]domain.Note, error) {
	tok, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database: %w", err)
	}
	defer tok.Release()

	rows, err := tok.Value.Execute(ctx,
		`SELECT id, created_at, title, giphy_id FROM notes
		 WHERE title LIKE ? ESCAPE '\'
		 ORDER BY id DESC`,
		likePattern(query),
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	notes := make([]domain.Note, 0, len(rows))
	for _, row := range rows {
		var n domain.Note
		if err := scanRow(row, &n.ID, &n.CreatedAt, &n.Title, &n.GifID); err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func (r *NoteRepository) Delete(ctx context.Context, id int64) error {
	tok, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire database: %w", err)
	}
	defer tok.Release()

	rows, err := tok.Value.Execute(ctx, `DELETE FROM notes WHERE id = ? RETURNING id`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", mapError(err))
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// saveGif upserts the cached document. It updates in place rather than
// replacing the row so notes referencing it stay valid.
func saveGif(ctx context.Context, p *bridge.Proxy, gif *domain.Gif) error {
	_, err := p.Execute(ctx,
		`INSERT INTO giphy (id, json) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET json = excluded.json`,
		gif.ID, string(gif.JSON),
	)
	if err != nil {
		return fmt.Errorf("save gif: %w", mapError(err))
	}
	return nil
}
