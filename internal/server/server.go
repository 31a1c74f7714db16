package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"worksheethub/internal/auth"
	"worksheethub/internal/util"
	"worksheethub/pkg/catalog"
	"worksheethub/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Service        *catalog.Service
	Verifier       *auth.Verifier
	MaxUploadBytes int64
}

// Server exposes the catalog over HTTP.
type Server struct {
	service        *catalog.Service
	verifier       *auth.Verifier
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("server requires the catalog service")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server requires a token verifier")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		service:        cfg.Service,
		verifier:       cfg.Verifier,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/contact", s.handleContact)

	s.mux.Handle("/worksheets", s.withPrincipal(s.handleWorksheets))
	s.mux.Handle("/worksheets/", s.withPrincipal(s.handleWorksheetPath))
	s.mux.Handle("/notifications", s.withPrincipal(s.handleNotifications))
	s.mux.Handle("/notifications/", s.withPrincipal(s.handleNotificationPath))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type principalHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (s *Server) withPrincipal(next principalHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		principal, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, principal)
	})
}

func (s *Server) handleWorksheets(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.handleCreateWorksheet(w, r, principal)
}

// /worksheets/standard/{standard}, /worksheets/{id},
// /worksheets/{id}/download
func (s *Server) handleWorksheetPath(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	path := strings.TrimPrefix(r.URL.Path, "/worksheets/")
	parts := strings.SplitN(path, "/", 2)
	head := parts[0]
	if head == "" {
		notFound(w, "not found")
		return
	}

	if head == "standard" {
		if len(parts) != 2 || parts[1] == "" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleSearch(w, r, principal, parts[1])
		return
	}

	id := head
	if len(parts) == 2 {
		if parts[1] != "download" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleDownload(w, principal, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry, err := s.service.Get(principal, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPatch:
		s.handleEditWorksheet(w, r, principal, id)
	case http.MethodDelete:
		if err := s.service.Delete(principal, id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateWorksheet(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "worksheet file is required (field: file)")
		return
	}
	defer file.Close()

	tags, err := parseTags(r.FormValue("tags"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "tags must be a JSON array of strings")
		return
	}
	entry, err := s.service.Create(principal, catalog.CreateInput{
		Title:       r.FormValue("title"),
		Subject:     r.FormValue("subject"),
		Standard:    r.FormValue("standard"),
		Topic:       r.FormValue("topic"),
		Subtopic:    r.FormValue("subtopic"),
		Description: r.FormValue("description"),
		Tags:        tags,
		File: catalog.FileUpload{
			Filename: header.Filename,
			Reader:   file,
			Size:     header.Size,
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleEditWorksheet(w http.ResponseWriter, r *http.Request, principal domain.Principal, id string) {
	input, err := s.parseEditInput(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.service.Edit(principal, id, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// parseEditInput accepts either a multipart form (for file replacement)
// or a JSON body for metadata-only edits. Absent fields stay nil so the
// service keeps their current values.
func (s *Server) parseEditInput(w http.ResponseWriter, r *http.Request) (catalog.EditInput, error) {
	var input catalog.EditInput
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if s.maxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return input, errors.New("invalid form data")
		}
		form := r.MultipartForm
		input.Title = formField(form.Value, "title")
		input.Subject = formField(form.Value, "subject")
		input.Standard = formField(form.Value, "standard")
		input.Topic = formField(form.Value, "topic")
		input.Subtopic = formField(form.Value, "subtopic")
		input.Description = formField(form.Value, "description")
		if raw := formField(form.Value, "tags"); raw != nil {
			tags, err := parseTags(*raw)
			if err != nil {
				return input, errors.New("tags must be a JSON array of strings")
			}
			input.Tags = &tags
		}
		if file, header, err := r.FormFile("file"); err == nil {
			input.File = &catalog.FileUpload{
				Filename: header.Filename,
				Reader:   file,
				Size:     header.Size,
			}
		}
		return input, nil
	}

	var body struct {
		Title       *string   `json:"title"`
		Subject     *string   `json:"subject"`
		Standard    *string   `json:"standard"`
		Topic       *string   `json:"topic"`
		Subtopic    *string   `json:"subtopic"`
		Description *string   `json:"description"`
		Tags        *[]string `json:"tags"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return input, errors.New("invalid JSON body")
	}
	input.Title = body.Title
	input.Subject = body.Subject
	input.Standard = body.Standard
	input.Topic = body.Topic
	input.Subtopic = body.Subtopic
	input.Description = body.Description
	input.Tags = body.Tags
	return input, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, principal domain.Principal, standard string) {
	query := r.URL.Query()
	pageSize := 0
	if raw := query.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "pageSize must be a positive integer")
			return
		}
		pageSize = n
	}
	result, err := s.service.Search(principal, catalog.SearchInput{
		Standard: standard,
		Query:    query.Get("query"),
		PageSize: pageSize,
		Cursor:   query.Get("cursor"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownload(w http.ResponseWriter, principal domain.Principal, id string) {
	url, filename, err := s.service.DownloadURL(principal, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"filename": filename,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	notifications, err := s.service.ListNotifications(principal, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
	})
}

// /notifications/{id}/read
func (s *Server) handleNotificationPath(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	path := strings.TrimPrefix(r.URL.Path, "/notifications/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "read" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.service.MarkNotificationRead(principal, parts[0]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		PhoneNumber string `json:"phoneNumber"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	contact, err := s.service.SubmitContact(catalog.ContactInput{
		Name:        body.Name,
		Email:       body.Email,
		PhoneNumber: body.PhoneNumber,
		Description: body.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":    "submitted",
		"contactId": contact.ID,
	})
}

func parseTags(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func formField(values map[string][]string, name string) *string {
	v, ok := values[name]
	if !ok || len(v) == 0 {
		return nil
	}
	return &v[0]
}

func writeServiceError(w http.ResponseWriter, err error) {
	var validation *catalog.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, catalog.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, catalog.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "WORKSHEET_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "WORKSHEET_FORBIDDEN"
	case http.StatusNotFound:
		return "WORKSHEET_NOT_FOUND"
	case http.StatusConflict:
		return "WORKSHEET_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
