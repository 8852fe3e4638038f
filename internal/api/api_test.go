package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/editor"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/noteservice"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/testutil"
)

// testEnv sets up a temp vault, migrated SQLite DB, service, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*storage.FS, http.Handler) {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	svc := noteservice.NewService(store, db, index.NewSyncer(db, store))
	return store, NewRouter(svc, authToken != "", authToken, nil)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestPutAndGetNote(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/notes/projects/alpha", WriteNoteRequest{Title: "Alpha", Body: "first draft\n"})
	if w.Code != http.StatusOK {
		t.Fatalf("put = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/notes/projects/alpha", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	got := decode[NoteDetail](t, w)
	if got.Title != "Alpha" || got.Body != "first draft\n" {
		t.Errorf("got title=%q body=%q", got.Title, got.Body)
	}
	if got.Fingerprint.Identity != "projects/alpha" {
		t.Errorf("fingerprint identity = %q", got.Fingerprint.Identity)
	}
}

func TestGetNote_EncodedSlash(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/a/b", WriteNoteRequest{Body: "nested"})

	w := do(t, router, http.MethodGet, "/notes/a%2Fb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get encoded = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[NoteDetail](t, w); got.Identity != "a/b" {
		t.Errorf("identity = %q, want a/b", got.Identity)
	}
}

func TestPutNote_InvalidIdentity(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/notes/..%2Fescape", WriteNoteRequest{Body: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("put traversal = %d, want 400", w.Code)
	}
}

func TestPutNote_InvalidJSON(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPut, "/notes/x", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/notes/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note = %d, want 404", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/bye", WriteNoteRequest{Body: "gone"})

	w := do(t, router, http.MethodDelete, "/notes/bye", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}

	w = do(t, router, http.MethodGet, "/notes/bye", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodDelete, "/notes/bye", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestRenameNote(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/draft", WriteNoteRequest{Title: "Draft", Body: "body"})
	do(t, router, http.MethodPut, "/notes/taken", WriteNoteRequest{Body: "other"})

	w := do(t, router, http.MethodPost, "/rename", RenameNoteRequest{From: "draft", To: "final/essay"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[NoteDetail](t, w); got.Identity != "final/essay" || got.Title != "Draft" {
		t.Errorf("renamed = %q %q", got.Identity, got.Title)
	}

	w = do(t, router, http.MethodPost, "/rename", RenameNoteRequest{From: "final/essay", To: "taken"})
	if w.Code != http.StatusConflict {
		t.Errorf("rename onto existing = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPost, "/rename", RenameNoteRequest{From: "ghost", To: "elsewhere"})
	if w.Code != http.StatusNotFound {
		t.Errorf("rename missing = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodPost, "/rename", RenameNoteRequest{From: "draft"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("rename without target = %d, want 400", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/find", WriteNoteRequest{Body: "uniquetoken here"})

	w := do(t, router, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[SearchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].Identity != "find" {
		t.Errorf("search results = %+v", resp.Results)
	}
}

func TestSearchBlankQuery(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("blank search = %d", w.Code)
	}
	if resp := decode[SearchResponse](t, w); resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("blank search results = %#v, want empty list", resp.Results)
	}
}

func TestSuggestionsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/garden-plan", WriteNoteRequest{Title: "Garden Plan", Body: "tomatoes"})

	w := do(t, router, http.MethodGet, "/suggestions?q=garden", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("suggestions = %d", w.Code)
	}
	resp := decode[SuggestionsResponse](t, w)
	if len(resp.Suggestions) < 2 {
		t.Fatalf("suggestions = %+v", resp.Suggestions)
	}
	if resp.Suggestions[0].Kind != index.SuggestSearch {
		t.Errorf("first kind = %q, want search", resp.Suggestions[0].Kind)
	}
	if last := resp.Suggestions[len(resp.Suggestions)-1]; last.Kind != index.SuggestCreate || last.Identity != "garden" {
		t.Errorf("last suggestion = %+v, want create garden", last)
	}
}

func TestRenameSuggestionsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/garden-plan", WriteNoteRequest{Title: "Garden Plan", Body: "tomatoes"})

	w := do(t, router, http.MethodGet, "/rename-suggestions?q=Garden+Notes&current=garden-plan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rename suggestions = %d", w.Code)
	}
	resp := decode[SuggestionsResponse](t, w)
	if len(resp.Suggestions) == 0 || resp.Suggestions[0].Identity != "garden-notes" {
		t.Errorf("rename suggestions = %+v", resp.Suggestions)
	}

	w = do(t, router, http.MethodGet, "/rename-suggestions?q=x", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing current = %d, want 400", w.Code)
	}
}

func TestRecentEndpoint(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.WriteNote(t, store, "old", "old", time.Unix(1_000, 0))
	testutil.WriteNote(t, store, "new", "new", time.Unix(2_000, 0))
	do(t, router, http.MethodPost, "/sync", nil)

	w := do(t, router, http.MethodGet, "/recent?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recent = %d", w.Code)
	}
	resp := decode[RecentResponse](t, w)
	if len(resp.Notes) != 1 || resp.Notes[0].Identity != "new" {
		t.Errorf("recent = %+v", resp.Notes)
	}
}

func TestSyncEndpoint(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.WriteNote(t, store, "idea-one", "first idea\n", time.Unix(1_700_000_000, 0))

	w := do(t, router, http.MethodPost, "/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	counts := resp["counts"].(map[string]any)
	if counts["left_only"] != float64(1) {
		t.Errorf("counts = %v", counts)
	}
	changes := resp["changes"].([]any)
	if len(changes) != 1 || changes[0].(map[string]any)["status"] != "left_only" {
		t.Errorf("changes = %v", changes)
	}

	w = do(t, router, http.MethodPost, "/sync", nil)
	resp = decode[map[string]any](t, w)
	if n := len(resp["changes"].([]any)); n != 0 {
		t.Errorf("second pass changes = %d, want 0", n)
	}

	w = do(t, router, http.MethodGet, "/notes/idea-one", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get synced note = %d", w.Code)
	}
}

func TestIndexLifecycle(t *testing.T) {
	_, store := testutil.TestVault(t)
	db, err := index.Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	svc := noteservice.NewService(store, db, index.NewSyncer(db, store))
	router := NewRouter(svc, false, "", nil)
	testutil.WriteNote(t, store, "kept", "kept", time.Unix(1_000, 0))

	w := do(t, router, http.MethodGet, "/search?q=kept", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("search before migrate = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("503 should carry Retry-After")
	}
	if st := decode[StateResponse](t, do(t, router, http.MethodGet, "/index/state", nil)); st.State != "unknown" {
		t.Errorf("state = %q, want unknown", st.State)
	}

	w = do(t, router, http.MethodPost, "/index/migrate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("migrate = %d, body = %s", w.Code, w.Body.String())
	}
	mr := decode[MigrationResponse](t, w)
	if mr.State != "ready" || mr.ToVersion != index.LatestVersion(index.Migrations) {
		t.Errorf("migrate = %+v", mr)
	}

	w = do(t, router, http.MethodPost, "/index/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/search?q=kept", nil)
	if resp := decode[SearchResponse](t, w); len(resp.Results) != 1 {
		t.Errorf("search after rebuild = %+v", resp.Results)
	}
}

func TestEditorFlow(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/notes/one", WriteNoteRequest{Title: "One", Body: "first"})
	do(t, router, http.MethodPut, "/notes/two", WriteNoteRequest{Title: "Two", Body: "second"})

	w := do(t, router, http.MethodGet, "/buffers/one", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("open = %d, body = %s", w.Code, w.Body.String())
	}
	buf := decode[editor.Buffer](t, w)
	if buf.State != editor.Saved || buf.Text != "first" {
		t.Fatalf("opened buffer = %+v", buf)
	}

	edited := buf.Edit("first, edited", buf.Modified.Add(time.Minute))
	w = do(t, router, http.MethodPost, "/autosave", AutosaveRequest{Buffer: edited, Trigger: "blur"})
	if w.Code != http.StatusOK {
		t.Fatalf("autosave = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode[map[string]any](t, w); resp["wrote"] != true {
		t.Errorf("autosave response = %v", resp)
	}

	edited = edited.Edit("first, edited again", edited.Modified.Add(time.Minute))
	w = do(t, router, http.MethodPost, "/navigate", NavigateRequest{Buffer: edited, Next: "two"})
	if w.Code != http.StatusOK {
		t.Fatalf("navigate = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	if resp["outcome"] != "switched" {
		t.Errorf("outcome = %v", resp["outcome"])
	}

	w = do(t, router, http.MethodGet, "/notes/one", nil)
	if got := decode[NoteDetail](t, w); got.Body != "first, edited again" {
		t.Errorf("outgoing buffer not saved: %q", got.Body)
	}
}

func TestAutosave_BadRequests(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/autosave", AutosaveRequest{Buffer: editor.Buffer{Identity: "n", Text: "x"}, Trigger: "shake"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown trigger = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/autosave", AutosaveRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty buffer = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/navigate", NavigateRequest{Next: "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("navigate to missing = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(WriteNoteRequest{Body: "test"})
	req := httptest.NewRequest(http.MethodPut, "/notes/auth", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed put = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/recent", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/recent", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_ChallengeAndMessages(t *testing.T) {
	_, router := testEnv(t, "secret123")

	cases := []struct {
		header string
		want   string
	}{
		{"", "missing bearer token"},
		{"Basic c2VjcmV0MTIz", "missing bearer token"},
		{"Bearer ", "missing bearer token"},
		{"Bearer secret1234", "invalid bearer token"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/recent", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%q: status = %d, want 401", tc.header, w.Code)
			continue
		}
		if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="ansuz"` {
			t.Errorf("%q: WWW-Authenticate = %q", tc.header, got)
		}
		if body := decode[errResponse](t, w); body.Error != tc.want {
			t.Errorf("%q: error = %q, want %q", tc.header, body.Error, tc.want)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/recent", nil)
	req.Header.Set("Authorization", "bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("lower-case scheme = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/recent", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// testEnvWithSSE creates a router with a dummy SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	svc := noteservice.NewService(store, db, index.NewSyncer(db, store))

	// Minimal SSE handler stub; writes headers and blocks until context done.
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})

	return NewRouter(svc, authEnabled, token, sseHandler)
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret")

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	router := testEnvWithSSE(t, false, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
