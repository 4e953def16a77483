package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/msomdec/minddump/internal/domain"
)

const (
	maxContentBytes = 1 << 20
	maxTitleLength  = 200
	maxQueryLength  = 200
)

// gifSuffix matches the " GIF" or " GIF by <author>" tail providers append to
// titles.
var gifSuffix = regexp.MustCompile(`\s+GIF(\s+by.*)?$`)

// NoteService handles note operations.
type NoteService struct {
	notes domain.NoteRepository
	gifs  domain.GifRepository
}

// NewNoteService creates a new NoteService.
func NewNoteService(notes domain.NoteRepository, gifs domain.GifRepository) *NoteService {
	return &NoteService{notes: notes, gifs: gifs}
}

// TitleFromGif derives a note title from a provider GIF title.
func TitleFromGif(gifTitle string) string {
	title := strings.TrimSpace(gifSuffix.ReplaceAllString(gifTitle, ""))
	if title == "" {
		return "Untitled"
	}
	if len(title) > maxTitleLength {
		n := maxTitleLength
		for n > 0 && !utf8.RuneStart(title[n]) {
			n--
		}
		title = title[:n]
	}
	return title
}

// Create stores a note for the picked GIF. gifJSON is the provider document
// for the GIF and content the editor's serialized document.
func (s *NoteService) Create(ctx context.Context, gifJSON, content json.RawMessage) (*domain.Note, error) {
	gif, err := domain.ParseGif(gifJSON)
	if err != nil {
		return nil, err
	}

	if len(content) == 0 || !json.Valid(content) {
		return nil, fmt.Errorf("%w: content must be a JSON document", domain.ErrInvalidInput)
	}
	if len(content) > maxContentBytes {
		return nil, fmt.Errorf("%w: content must be 1MB or smaller", domain.ErrInvalidInput)
	}

	note := &domain.Note{
		Title:   TitleFromGif(gif.Title),
		Content: content,
	}
	if err := s.notes.Create(ctx, note, gif); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

// Get returns a note together with its cached GIF.
func (s *NoteService) Get(ctx context.Context, id int64) (*domain.Note, *domain.Gif, error) {
	note, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	gif, err := s.gifs.GetByID(ctx, note.GifID)
	if err != nil {
		return nil, nil, fmt.Errorf("get gif %s: %w", note.GifID, err)
	}
	return note, gif, nil
}

// List returns notes whose title contains query, newest first.
func (s *NoteService) List(ctx context.Context, query string) ([]domain.Note, error) {
	query = strings.TrimSpace(query)
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("%w: query must be %d characters or fewer", domain.ErrInvalidInput, maxQueryLength)
	}
	return s.notes.List(ctx, query)
}

// Delete removes a note. The cached GIF stays for other notes.
func (s *NoteService) Delete(ctx context.Context, id int64) error {
	return s.notes.Delete(ctx, id)
}

// GetGif returns a cached GIF document.
func (s *NoteService) GetGif(ctx context.Context, id string) (*domain.Gif, error) {
	return s.gifs.GetByID(ctx, id)
}
