// Package api exposes the HTTP surface: auth, upload, and the file CRUD
// routes. All pipeline behavior lives in the ingest and worker packages; the
// handlers here only parse requests and map errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/auth"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/config"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/ingest"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/repository"
)

// UserStore is the account repository slice the auth handlers need.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// Pinger reports backend connectivity for the health endpoint.
type Pinger func(ctx context.Context) error

// Server hosts the HTTP handlers.
type Server struct {
	cfg     *config.Config
	ingest  *ingest.Service
	users   UserStore
	auth    *auth.Service
	pingers map[string]Pinger
	logger  *zap.Logger
	server  *http.Server
}

// New constructs a Server. pingers maps backend names (db, redis) to
// connectivity checks surfaced by /healthz.
func New(cfg *config.Config, svc *ingest.Service, users UserStore, authSvc *auth.Service, pingers map[string]Pinger, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		ingest:  svc,
		users:   users,
		auth:    authSvc,
		pingers: pingers,
		logger:  logger.Named("api"),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/upload", s.handleUpload)
		r.Post("/create", s.handleCreate)
		r.Get("/files", s.handleList)
		r.Get("/read/{filename}", s.handleRead)
		r.Put("/update/{filename}", s.handleUpdate)
		r.Delete("/delete/{filename}", s.handleDelete)
	})
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	for name, ping := range s.pingers {
		if err := ping(r.Context()); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "unhealthy",
				"failed": name,
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password required")
		return
	}
	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	user := &model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		s.logger.Error("create user failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": user.ID, "username": user.Username})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !s.auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// uploadResponse is the caller-visible slice of a fresh record.
type uploadResponse struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalname"`
	Status       string `json:"status"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer part.Close()

	// One byte past the limit is enough for the service to reject, without
	// buffering an arbitrarily large body.
	content, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxFileSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	mimeType := part.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(content)
	}

	rec, err := s.ingest.Ingest(r.Context(), ownerID, ingest.Upload{
		OriginalName: part.FileName(),
		MimeType:     mimeType,
		Content:      content,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrEmptyFile),
			errors.Is(err, ingest.ErrInvalidType),
			errors.Is(err, ingest.ErrFileTooLarge):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("upload failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "file upload failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, uploadResponse{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		Status:       string(rec.Status),
	})
}

type createRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// handleCreate accepts a JSON body instead of a multipart form. The file
// enters the same ingestion pipeline as an upload, as text/plain.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		respondError(w, http.StatusBadRequest, "filename and content required")
		return
	}
	rec, err := s.ingest.Ingest(r.Context(), ownerID, ingest.Upload{
		OriginalName: req.Filename,
		MimeType:     "text/plain",
		Content:      []byte(req.Content),
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrEmptyFile),
			errors.Is(err, ingest.ErrInvalidType),
			errors.Is(err, ingest.ErrFileTooLarge):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("create file failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "file creation failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, uploadResponse{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		Status:       string(rec.Status),
	})
}

// listItem is one entry of the GET /files response.
type listItem struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimetype"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerFromContext(r.Context())
	files, err := s.ingest.List(r.Context(), ownerID)
	if err != nil {
		s.logger.Error("list files failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	out := make([]listItem, 0, len(files))
	for _, rec := range files {
		out = append(out, listItem{
			Filename:   rec.OriginalName,
			Size:       rec.SizeBytes,
			MimeType:   rec.MimeType,
			UploadedAt: rec.UploadedAt,
			Status:     string(rec.Status),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerFromContext(r.Context())
	name := chi.URLParam(r, "filename")
	rec, content, err := s.ingest.Read(r.Context(), ownerID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("read file failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"filename": rec.OriginalName,
		"content":  string(content),
		"metadata": rec,
	})
}

type updateRequest struct {
	NewFilename string  `json:"newFilename"`
	Content     *string `json:"content,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerFromContext(r.Context())
	name := chi.URLParam(r, "filename")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewFilename == "" {
		respondError(w, http.StatusBadRequest, "newFilename required")
		return
	}
	var content []byte
	if req.Content != nil {
		content = []byte(*req.Content)
	}
	rec, err := s.ingest.Update(r.Context(), ownerID, name, req.NewFilename, content)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("update file failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update file")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerFromContext(r.Context())
	name := chi.URLParam(r, "filename")
	if err := s.ingest.Delete(r.Context(), ownerID, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("delete file failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "file deleted"})
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
