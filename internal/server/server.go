package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"meetscribe/internal/chat"
	"meetscribe/internal/util"
	"meetscribe/pkg/domain"
	"meetscribe/pkg/queue"
	"meetscribe/pkg/storage"
	"meetscribe/pkg/store"
)

const maxUploadBytes = 2 << 30 // 2 GiB

const visualURLExpiry = 15 * time.Minute

// JobQueue is the queue surface the API needs: submit work, read status.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.ProcessJob) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Server exposes the HTTP API for uploads, job status, sessions, and chat.
// objects is optional; when set, object-key visual refs are served as
// pre-signed URLs.
type Server struct {
	store   store.Store
	queue   JobQueue
	chat    *chat.Engine
	tokens  *TokenIssuer
	uploads *UploadStore
	objects storage.ObjectStore
}

func New(st store.Store, q JobQueue, chatEngine *chat.Engine, tokens *TokenIssuer, uploads *UploadStore, objects storage.ObjectStore) *Server {
	return &Server{
		store:   st,
		queue:   q,
		chat:    chatEngine,
		tokens:  tokens,
		uploads: uploads,
		objects: objects,
	}
}

// Handler builds the routed handler with the shared middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /uploads", s.handleUpload)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /chats", s.handleChat)
	return util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts multipart media, stores it, and enqueues processing.
// Authentication is optional: an anonymous upload produces an ownerless
// session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := s.userFromRequest(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("media")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'media' required")
		return
	}
	defer file.Close()

	path, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		slog.Error("store upload", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	status, err := s.queue.Enqueue(r.Context(), queue.ProcessJob{
		MediaPath:   path,
		DisplayName: header.Filename,
		OwnerID:     ownerID,
	})
	if err != nil {
		slog.Error("enqueue job", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue processing")
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	status, ok, err := s.queue.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("job status", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := s.store.ListSessionsByOwner(ownerID)
	if err != nil {
		slog.Error("list sessions", "owner_id", ownerID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	for i := range sessions {
		sessions[i] = s.resolveVisuals(r.Context(), sessions[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	session, ok, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		slog.Error("get session", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	// An owned session is invisible to everyone but its owner.
	if !ok || (session.OwnerID != "" && session.OwnerID != ownerID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.resolveVisuals(r.Context(), session))
}

// resolveVisuals swaps object-key visual refs for pre-signed URLs so API
// clients can fetch the keyframes directly. Local paths and presign
// failures pass through unchanged.
func (s *Server) resolveVisuals(ctx context.Context, session domain.Session) domain.Session {
	if s.objects == nil {
		return session
	}
	refs := make([]string, len(session.VisualRefs))
	for i, ref := range session.VisualRefs {
		refs[i] = ref
		if !strings.HasPrefix(ref, "visuals/") {
			continue
		}
		url, err := s.objects.PresignGet(ctx, ref, visualURLExpiry)
		if err != nil {
			slog.Warn("presign visual", "key", ref, "err", err)
			continue
		}
		refs[i] = url
	}
	session.VisualRefs = refs
	return session
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	session, ok, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		slog.Error("get session", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !ok || (session.OwnerID != "" && session.OwnerID != ownerID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs, err := s.store.ListChatMessages(session.ID, 100)
	if err != nil {
		slog.Error("list messages", "session_id", session.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

// handleChat answers one turn. An omitted sessionId grounds the turn on the
// engine's ephemeral default context instead of a transcript.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	// Anonymous chat is allowed; it just skips history persistence.
	ownerID, _ := s.userFromRequest(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	var session *domain.Session
	if strings.TrimSpace(req.SessionID) != "" {
		found, ok, err := s.store.GetSession(req.SessionID)
		if err != nil {
			slog.Error("get session", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if !ok || (found.OwnerID != "" && found.OwnerID != ownerID) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		session = &found
	}
	reply, err := s.chat.Respond(r.Context(), chat.Request{
		Query:   req.Query,
		Session: session,
		OwnerID: ownerID,
	})
	if err != nil {
		slog.Error("chat respond", "session_id", req.SessionID, "err", err)
		writeError(w, http.StatusBadGateway, "failed to generate answer")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// userFromRequest resolves the bearer token to a user ID. Missing or invalid
// credentials return an error and an empty ID.
func (s *Server) userFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	return s.tokens.Verify(strings.TrimSpace(header[len(prefix):]))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
