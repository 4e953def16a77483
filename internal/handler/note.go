package handler

import (
	"net/http"
	"strconv"

	"github.com/msomdec/minddump/internal/domain"
	"github.com/msomdec/minddump/internal/service"
)

// NoteHandler serves the notes API.
type NoteHandler struct {
	notes *service.NoteService
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(notes *service.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

// HandleList returns notes whose title contains the q parameter.
func (h *NoteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeDomainError(w, r, "list notes", err)
		return
	}

	out := make([]NoteDTO, 0, len(notes))
	for i := range notes {
		out = append(out, toNoteDTO(&notes[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreate stores a note for the posted GIF and editor content.
func (h *NoteHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	note, err := h.notes.Create(r.Context(), req.Gif, req.Content)
	if err != nil {
		writeDomainError(w, r, "create note", err)
		return
	}

	w.Header().Set("Location", "/api/notes/"+strconv.FormatInt(note.ID, 10))
	writeJSON(w, http.StatusCreated, toNoteDTO(note))
}

// HandleGet returns a note with its content and cached GIF document.
func (h *NoteHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	note, gif, err := h.notes.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "get note", err)
		return
	}

	dto := toNoteDTO(note)
	dto.Gif = gif.JSON
	writeJSON(w, http.StatusOK, dto)
}

// HandleDelete removes a note.
func (h *NoteHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	if err := h.notes.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetGif returns a cached GIF document verbatim.
func (h *NoteHandler) HandleGetGif(w http.ResponseWriter, r *http.Request) {
	gif, err := h.notes.GetGif(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "get gif", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(gif.JSON)
}

func noteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDomainError(w, r, "parse note id", domain.ErrNotFound)
		return 0, false
	}
	return id, true
}
