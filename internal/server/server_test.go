package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetscribe/internal/chat"
	"meetscribe/pkg/domain"
	"meetscribe/pkg/queue"
	"meetscribe/pkg/store"
)

type fakeQueue struct {
	jobs     map[string]queue.JobStatus
	enqueued []queue.ProcessJob
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]queue.JobStatus)}
}

func (f *fakeQueue) Enqueue(ctx context.Context, job queue.ProcessJob) (queue.JobStatus, error) {
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(f.enqueued)+1)
	}
	f.enqueued = append(f.enqueued, job)
	status := queue.JobStatus{
		ID:          job.ID,
		MediaPath:   job.MediaPath,
		DisplayName: job.DisplayName,
		OwnerID:     job.OwnerID,
		Status:      queue.StatusQueued,
	}
	f.jobs[job.ID] = status
	return status, nil
}

func (f *fakeQueue) GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	status, ok := f.jobs[jobID]
	return status, ok, nil
}

type echoGenerator struct{}

func (echoGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return "grounded answer", nil
}

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	queue  *fakeQueue
	tokens *TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	q := newFakeQueue()
	tokens, err := NewTokenIssuer("test-secret", "meetscribe", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	uploads, err := NewUploadStore(t.TempDir())
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	engine := chat.NewEngine(echoGenerator{}, mem)
	return &testEnv{
		server: New(mem, q, engine, tokens, uploads, nil),
		store:  mem,
		queue:  q,
		tokens: tokens,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, e *testEnv) (string, domain.User) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     "Dana",
		"email":    "dana@example.com",
		"password": "Sup3r-secret-pw!",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Token, resp.User
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token, user := registerUser(t, env)
	if token == "" || user.ID == "" {
		t.Fatalf("register returned empty token or user: %q %+v", token, user)
	}

	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "dana@example.com",
		"password": "Sup3r-secret-pw!",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "dana@example.com") {
		t.Fatalf("me response missing email: %s", rec.Body)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Dana", "email": "dana@example.com", "password": "short1!A",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)
	rec := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Other", "email": "dana@example.com", "password": "Sup3r-secret-pw!",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)
	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "dana@example.com", "password": "Wrong-password-1!",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUploadEnqueuesJobWithOwner(t *testing.T) {
	env := newTestEnv(t)
	token, user := registerUser(t, env)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", "standup.mp4")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("fake media bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	if len(env.queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(env.queue.enqueued))
	}
	job := env.queue.enqueued[0]
	if job.OwnerID != user.ID {
		t.Fatalf("job owner = %q, want %q", job.OwnerID, user.ID)
	}
	if job.DisplayName != "standup.mp4" {
		t.Fatalf("job display name = %q", job.DisplayName)
	}
	if job.MediaPath == "" || !strings.HasSuffix(job.MediaPath, "standup.mp4") {
		t.Fatalf("job media path = %q", job.MediaPath)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/jobs/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionVisibilityScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	token, user := registerUser(t, env)

	mine, _ := env.store.SaveSession(domain.Session{OwnerID: user.ID, Title: "mine", Transcript: "t"})
	theirs, _ := env.store.SaveSession(domain.Session{OwnerID: "someone-else", Title: "theirs", Transcript: "t"})

	rec := env.do(t, http.MethodGet, "/sessions/"+mine, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own session: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/sessions/"+theirs, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign session: status %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/sessions/"+mine, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status %d, want 401", rec.Code)
	}
}

func TestListSessionsReturnsOnlyOwn(t *testing.T) {
	env := newTestEnv(t)
	token, user := registerUser(t, env)

	env.store.SaveSession(domain.Session{OwnerID: user.ID, Title: "a", Transcript: "t"})
	env.store.SaveSession(domain.Session{OwnerID: "other", Title: "b", Transcript: "t"})

	rec := env.do(t, http.MethodGet, "/sessions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Sessions []domain.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Title != "a" {
		t.Fatalf("sessions = %+v", resp.Sessions)
	}
}

func TestChatPersistsHistoryForOwner(t *testing.T) {
	env := newTestEnv(t)
	token, user := registerUser(t, env)
	id, _ := env.store.SaveSession(domain.Session{OwnerID: user.ID, Title: "standup", Transcript: "we shipped"})

	rec := env.do(t, http.MethodPost, "/chats", token, map[string]string{
		"sessionId": id, "query": "what shipped?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var reply domain.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Content != "grounded answer" || reply.Role != domain.RoleAssistant {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.SessionID != id {
		t.Fatalf("reply session = %q, want %q", reply.SessionID, id)
	}
	msgs, _ := env.store.ListChatMessages(id, 10)
	if len(msgs) != 2 {
		t.Fatalf("expected persisted turns, got %d", len(msgs))
	}
}

func TestChatWithoutSessionUsesDefaultContext(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chats", "", map[string]string{"query": "hello there"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var reply domain.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Content != "grounded answer" || reply.SessionID != "" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestChatUnknownSessionStillNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chats", "", map[string]string{
		"sessionId": "no-such-session", "query": "hi",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatAnonymousOnOwnerlessSession(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.store.SaveSession(domain.Session{Title: "Live Recording", Transcript: "hello"})

	rec := env.do(t, http.MethodPost, "/chats", "", map[string]string{
		"sessionId": id, "query": "what was said?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	msgs, _ := env.store.ListChatMessages(id, 10)
	if len(msgs) != 0 {
		t.Fatalf("anonymous chat must not persist history, got %d", len(msgs))
	}
}

func TestChatRejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chats", "", map[string]string{"sessionId": "x", "query": " "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type presignStore struct{}

func (presignStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return nil
}
func (presignStore) PutFile(ctx context.Context, key, path string) error { return nil }
func (presignStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.local/" + key + "?sig=abc", nil
}
func (presignStore) Delete(ctx context.Context, key string) error { return nil }

func TestGetSessionPresignsObjectVisuals(t *testing.T) {
	env := newTestEnv(t)
	env.server.objects = presignStore{}
	token, user := registerUser(t, env)

	id, _ := env.store.SaveSession(domain.Session{
		OwnerID:    user.ID,
		Title:      "standup",
		Transcript: "t",
		VisualRefs: []string{"visuals/u1/frame_0001.png", "/tmp/local/frame_0002.png"},
	})

	rec := env.do(t, http.MethodGet, "/sessions/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var got domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.VisualRefs) != 2 {
		t.Fatalf("visual refs = %+v", got.VisualRefs)
	}
	if !strings.HasPrefix(got.VisualRefs[0], "https://objects.local/visuals/") {
		t.Fatalf("object key not presigned: %q", got.VisualRefs[0])
	}
	// A local path is not an object key and passes through untouched.
	if got.VisualRefs[1] != "/tmp/local/frame_0002.png" {
		t.Fatalf("local ref changed: %q", got.VisualRefs[1])
	}
}

func TestTokenVerifyRejectsTampering(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret-a", "meetscribe", time.Hour)
	other, _ := NewTokenIssuer("secret-b", "meetscribe", time.Hour)

	token, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got, err := issuer.Verify(token); err != nil || got != "u1" {
		t.Fatalf("verify = %q, %v", got, err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected verification failure across secrets")
	}
}
