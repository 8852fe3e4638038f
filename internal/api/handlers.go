package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/editor"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// noteIdentity extracts the note identity from the URL (everything after
// /api/notes/). Supports encoded slashes from OpenAPI clients
// (e.g. projects%2Falpha).
func noteIdentity(r *http.Request) models.Identity {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return models.Identity(raw)
	}
	return models.Identity(decoded)
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note by identity
//	@Tags			notes
//	@Produce		json
//	@Param			identity	path		string	true	"Note identity"
//	@Success		200			{object}	NoteDetail
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{identity} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := noteIdentity(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identity is required"))
		return
	}
	note, err := h.svc.Read(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// PutNote handles PUT /api/notes/*. The note is created when absent.
//
//	@Summary		Create or replace a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			identity	path		string				true	"Note identity"
//	@Param			body		body		WriteNoteRequest	true	"Note content"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		503			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{identity} [put]
func (h *Handler) PutNote(w http.ResponseWriter, r *http.Request) {
	id := noteIdentity(r)
	if !id.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid identity"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req WriteNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	note, err := h.svc.Write(r.Context(), id, req.Title, req.Body)
	if err != nil {
		writeError(w, "write note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/*.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			identity	path	string	true	"Note identity"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{identity} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := noteIdentity(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identity is required"))
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameNote handles POST /api/rename.
//
//	@Summary		Move a note to a new identity
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenameNoteRequest	true	"Source and target identities"
//	@Success		200		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rename [post]
func (h *Handler) RenameNote(w http.ResponseWriter, r *http.Request) {
	var req RenameNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	from, to := models.Identity(req.From), models.Identity(req.To)
	if !from.Valid() || !to.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to must be valid identities"))
		return
	}
	note, err := h.svc.Rename(r.Context(), from, to)
	if err != nil {
		writeError(w, "rename note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// OpenBuffer handles GET /api/buffers/*.
//
//	@Summary		Open a note as a saved editor buffer
//	@Tags			editor
//	@Produce		json
//	@Param			identity	path		string	true	"Note identity"
//	@Success		200			{object}	editor.Buffer
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/buffers/{identity} [get]
func (h *Handler) OpenBuffer(w http.ResponseWriter, r *http.Request) {
	id := noteIdentity(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identity is required"))
		return
	}
	buf, err := h.svc.Open(r.Context(), id)
	if err != nil {
		writeError(w, "open buffer", err)
		return
	}
	writeJSON(w, http.StatusOK, buf)
}

// Autosave handles POST /api/autosave.
//
//	@Summary		Persist an editor buffer unless it is already saved
//	@Tags			editor
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AutosaveRequest	true	"Buffer and trigger"
//	@Success		200		{object}	AutosaveResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/autosave [post]
func (h *Handler) Autosave(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req AutosaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	if !req.Buffer.Identity.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("buffer identity is invalid"))
		return
	}
	trigger := editor.TriggerTimer
	if req.Trigger != "" {
		var ok bool
		if trigger, ok = editor.ParseTrigger(req.Trigger); !ok {
			writeJSON(w, http.StatusBadRequest, errorBody("unknown trigger"))
			return
		}
	}
	buf, wrote, err := h.svc.Autosave(r.Context(), req.Buffer, trigger)
	if err != nil {
		writeError(w, "autosave", err)
		return
	}
	writeJSON(w, http.StatusOK, AutosaveResponse{Buffer: buf, Wrote: wrote})
}

// Navigate handles POST /api/navigate.
//
//	@Summary		Switch the editor to another note, saving the outgoing buffer
//	@Tags			editor
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NavigateRequest	true	"Current buffer and next identity"
//	@Success		200		{object}	NavigateResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/navigate [post]
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	next := models.Identity(req.Next)
	if !next.Valid() || (!req.Buffer.Empty() && !req.Buffer.Identity.Valid()) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid identity"))
		return
	}
	buf, outcome, err := h.svc.Navigate(r.Context(), req.Buffer, next)
	if err != nil {
		writeError(w, "navigate", err)
		return
	}
	writeJSON(w, http.StatusOK, NavigateResponse{Buffer: buf, Outcome: outcome})
}

// RecentNotes handles GET /api/recent.
//
//	@Summary		List the most recently modified notes
//	@Tags			notes
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum results"
//	@Success		200		{object}	RecentResponse
//	@Security		BearerAuth
//	@Router			/recent [get]
func (h *Handler) RecentNotes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, "recent notes", err)
		return
	}
	if notes == nil {
		notes = []index.Match{}
	}
	writeJSON(w, http.StatusOK, RecentResponse{Notes: notes})
}

// Search handles GET /api/search?q=...
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	false	"Search query"
//	@Param			limit	query		int		false	"Maximum results"
//	@Success		200		{object}	SearchResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Suggestions handles GET /api/suggestions?q=...
//
//	@Summary		Ordered search suggestions for the omnibox
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	false	"Partial query"
//	@Success		200	{object}	SuggestionsResponse
//	@Security		BearerAuth
//	@Router			/suggestions [get]
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SearchSuggestions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: res})
}

// RenameSuggestions handles GET /api/rename-suggestions?q=...&current=...
//
//	@Summary		Rename targets for a note
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Proposed name"
//	@Param			current	query		string	true	"Identity of the note being renamed"
//	@Success		200		{object}	SuggestionsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rename-suggestions [get]
func (h *Handler) RenameSuggestions(w http.ResponseWriter, r *http.Request) {
	current := models.Identity(r.URL.Query().Get("current"))
	if !current.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("current must be a valid identity"))
		return
	}
	res, err := h.svc.RenameSuggestions(r.Context(), r.URL.Query().Get("q"), current)
	if err != nil {
		writeError(w, "rename suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: res})
}

// Sync handles POST /api/sync.
//
//	@Summary		Run a full reconciliation pass
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	SyncResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.Sync(r.Context())
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(cs))
}

// IndexState handles GET /api/index/state.
//
//	@Summary		Report the index migration state
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/index/state [get]
func (h *Handler) IndexState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{State: h.svc.State().String()})
}

// Migrate handles POST /api/index/migrate.
//
//	@Summary		Bring the index schema up to date
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	MigrationResponse
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/migrate [post]
func (h *Handler) Migrate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Migrate(r.Context())
	if err != nil {
		writeError(w, "migrate", err)
		return
	}
	writeJSON(w, http.StatusOK, migrationResponse(h.svc.State(), res))
}

// Rebuild handles POST /api/index/rebuild.
//
//	@Summary		Recreate the index and repopulate it from the vault
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	MigrationResponse
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Rebuild(r.Context())
	if err != nil {
		writeError(w, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, migrationResponse(h.svc.State(), res))
}
