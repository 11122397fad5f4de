package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tillbook/api/internal/auth"
	"tillbook/api/internal/generate"
	"tillbook/api/internal/logger"
	"tillbook/api/internal/media"
	"tillbook/api/internal/search"
	"tillbook/api/internal/store"
)

const (
	sessionCookie   = "session"
	maxBodyBytes    = 1 << 20
	maxBackupBytes  = 32 << 20
	maxUploadMemory = 12 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.service.metrics != nil {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.URL.Path == "/api/session" {
		s.handleSession(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ctx := logger.WithContext(r.Context(), logger.FromContext(r.Context(), s.logger).With(zap.String("user_id", sess.UserID)))
	r = r.WithContext(ctx)

	switch parts[1] {
	case "collections":
		s.handleCollections(w, r, sess, parts[2:])
	case "sync":
		s.handleSync(w, r, sess, parts[2:])
	case "seed":
		if r.Method != http.MethodPost || len(parts) != 2 {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		snapshot, err := s.service.Seed(ctx, sess.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"seeded": true, "counts": collectionCounts(snapshot)})
	case "restore":
		s.handleRestore(w, r, sess)
	case "backup":
		s.handleBackup(w, r, sess)
	case "backups":
		s.handleBackups(w, r, sess, parts[2:])
	case "export":
		s.handleExport(w, r, sess, parts[2:])
	case "invoices":
		s.handleInvoice(w, r, sess, parts[2:])
	case "search":
		s.handleSearch(w, r, sess)
	case "uploads":
		s.handleUpload(w, r, sess)
	case "generate":
		s.handleGenerate(w, r, sess, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		token := sessionToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, sessionBody(sess, false))

	case http.MethodPost:
		var body struct {
			IDToken string `json:"idToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.IDToken) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "idToken is required", nil)
			return
		}
		sess, err := s.service.Login(r.Context(), body.IDToken)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.Token,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, sessionBody(sess, true))

	case http.MethodDelete:
		if token := sessionToken(r); token != "" {
			if sess, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				if err := s.service.Logout(r.Context(), sess); err != nil {
					s.writeServiceError(w, r, err)
					return
				}
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func sessionBody(sess Session, withToken bool) map[string]any {
	body := map[string]any{
		"authenticated": true,
		"userId":        sess.UserID,
		"name":          sess.Name,
		"email":         sess.Email,
		"expiresAt":     sess.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if withToken {
		body["token"] = sess.Token
	}
	return body
}

func (s *HTTPServer) handleCollections(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		docs, err := s.service.List(ctx, sess.UserID, parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body store.Document
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err := s.service.Add(ctx, sess.UserID, parts[0], body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": record, "syncStatus": "pending"})

	case len(parts) == 2 && r.Method == http.MethodGet:
		doc, err := s.service.Get(ctx, sess.UserID, parts[0], parts[1])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": doc})

	case len(parts) == 2 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		var body store.Document
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		record, err := s.service.Update(ctx, sess.UserID, parts[0], parts[1], body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": record, "syncStatus": "pending"})

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.service.Remove(ctx, sess.UserID, parts[0], parts[1]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "syncStatus": "pending"})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		status, err := s.service.SyncStatus(r.Context(), sess.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case len(parts) == 1 && parts[0] == "flush" && r.Method == http.MethodPost:
		result, err := s.service.Flush(r.Context(), sess.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request, sess Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBackupBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
		return
	}
	if len(raw) > maxBackupBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "BACKUP_TOO_LARGE", "Backup is too large", nil)
		return
	}

	result, err := s.service.Restore(r.Context(), sess.UserID, raw, confirmed)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restored":           true,
		"counts":             collectionCounts(result.Payload.Snapshot()),
		"danglingReferences": result.Dangling,
	})
}

func (s *HTTPServer) handleBackup(w http.ResponseWriter, r *http.Request, sess Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	data, err := s.service.Backup(r.Context(), sess.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	name := "tillbook-backup-" + time.Now().UTC().Format("2006-01-02") + ".json"
	writeFile(w, "application/json", name, data)
}

func (s *HTTPServer) handleBackups(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	switch len(parts) {
	case 0:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.BackupHistory(sess.UserID, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
	case 1:
		payload, err := s.service.ArchivedBackup(sess.UserID, parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 || !strings.HasSuffix(parts[0], ".csv") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	result, err := s.service.ExportCSV(r.Context(), sess.UserID, strings.TrimSuffix(parts[0], ".csv"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeFile(w, result.MimeType, result.Filename, result.Data)
}

func (s *HTTPServer) handleInvoice(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 2 && parts[1] == "pdf" && r.Method == http.MethodGet:
		result, err := s.service.InvoicePDF(r.Context(), sess.UserID, parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeFile(w, result.MimeType, result.Filename, result.Data)
	case len(parts) == 2 && parts[1] == "email" && r.Method == http.MethodPost:
		to, err := s.service.EmailInvoice(r.Context(), sess.UserID, parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sent": true, "to": to})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	query := r.URL.Query()
	q := search.Query{UserID: sess.UserID, Text: strings.TrimSpace(query.Get("q"))}
	if raw := query.Get("type"); raw != "" {
		rt, ok := search.ParseResultType(raw)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be product, customer or invoice", nil)
			return
		}
		q.FilterType = rt
	}
	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	q.Offset, _ = strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, sess Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadMemory)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload is too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	kind, ok := media.ParseKind(r.FormValue("kind"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_UPLOAD", "kind must be logo or material", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_UPLOAD", "file is required", nil)
		return
	}
	defer file.Close()

	upload, err := s.service.Upload(r.Context(), sess.UserID, kind, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	gen := s.service.generator
	if gen == nil {
		writeError(w, http.StatusServiceUnavailable, "GENERATION_UNAVAILABLE", "Content generation is not configured", nil)
		return
	}
	ctx := r.Context()

	switch parts[0] {
	case generate.OpCategories:
		var brief generate.StoreBrief
		if !decodeOrReject(w, r, &brief) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": gen.Categories(ctx, brief)})
	case generate.OpProduct:
		var brief generate.ProductBrief
		if !decodeOrReject(w, r, &brief) {
			return
		}
		writeJSON(w, http.StatusOK, gen.Product(ctx, brief))
	case generate.OpLogo:
		var brief generate.StoreBrief
		if !decodeOrReject(w, r, &brief) {
			return
		}
		writeJSON(w, http.StatusOK, gen.Logo(ctx, brief))
	case generate.OpMaterials:
		r.Body = http.MaxBytesReader(w, r.Body, media.MaxBytes(media.KindMaterial)*2)
		var req generate.MaterialsRequest
		if !decodeOrReject(w, r, &req) {
			return
		}
		result, err := s.service.ExtractMaterials(ctx, sess.UserID, req)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case generate.OpDiscount:
		var req generate.DiscountRequest
		if !decodeOrReject(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusOK, gen.SuggestDiscount(ctx, req))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown generation operation", nil)
	}
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func collectionCounts(snapshot store.Snapshot) map[store.Collection]int {
	counts := make(map[store.Collection]int, len(store.AllCollections))
	for _, c := range store.AllCollections {
		counts[c] = len(snapshot[c])
	}
	return counts
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), s.logger).Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.writeServiceError(w, r, fmt.Errorf("session lookup: %w", err))
		return Session{}, false
	}
	return sess, true
}

// sessionToken reads the bearer token, then the session cookie.
func sessionToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		reqLogger := s.logger.With(zap.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLogger))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), writer.status, elapsed)
		reqLogger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

// routeLabel collapses ids out of the path so metric labels stay bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) < 2 || parts[0] != "api" {
		if path == "/metrics" {
			return path
		}
		return "other"
	}
	switch parts[1] {
	case "collections":
		switch len(parts) {
		case 3:
			return "/api/collections/" + parts[2]
		case 4:
			return "/api/collections/" + parts[2] + "/{id}"
		}
	case "invoices":
		if len(parts) == 4 {
			return "/api/invoices/{id}/" + parts[3]
		}
		return "/api/invoices/{id}"
	case "backups":
		if len(parts) > 2 {
			return "/api/backups/{hash}"
		}
	case "export":
		return "/api/export/{file}"
	case "generate":
		if len(parts) == 3 {
			return "/api/generate/" + parts[2]
		}
	}
	return "/" + strings.Join(parts[:min(len(parts), 3)], "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes*16))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
