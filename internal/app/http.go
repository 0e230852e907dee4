package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"slidesync/api/internal/assets"
	"slidesync/api/internal/mutation"
	"slidesync/api/internal/search"
)

const displayNameHeader = "X-Display-Name"

type HTTPServer struct {
	service    *Service
	realtime   *Realtime
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, realtime *Realtime, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		realtime:   realtime,
		corsOrigin: corsOrigin,
		log:        log.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "Route not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	if s.realtime != nil {
		router.Handle("/ws", s.realtime).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET", "HEAD")
	api.HandleFunc("/ready", s.handleReady).Methods("GET", "HEAD")

	api.HandleFunc("/presentations", s.handleListPresentations).Methods("GET")
	api.HandleFunc("/presentations", s.handleCreatePresentation).Methods("POST")
	api.HandleFunc("/presentations/{id}", s.handleGetPresentation).Methods("GET")
	api.HandleFunc("/presentations/{id}", s.handleUpdatePresentation).Methods("PUT")
	api.HandleFunc("/presentations/{id}", s.handleDeletePresentation).Methods("DELETE")

	api.HandleFunc("/presentations/{id}/pages", s.handleListPages).Methods("GET")
	api.HandleFunc("/presentations/{id}/pages", s.handleAddPage).Methods("POST")
	api.HandleFunc("/presentations/{id}/pages/order", s.handleReorderPages).Methods("PUT")
	api.HandleFunc("/pages/{pageId}", s.handleSavePage).Methods("PUT")
	api.HandleFunc("/pages/{pageId}", s.handleDeletePage).Methods("DELETE")
	api.HandleFunc("/pages/{pageId}/duplicate", s.handleDuplicatePage).Methods("POST")

	api.HandleFunc("/pages/{pageId}/elements", s.handleCreateElement).Methods("POST")
	api.HandleFunc("/elements/{elementId}", s.handleUpdateElement).Methods("PUT")
	api.HandleFunc("/elements/{elementId}", s.handleDeleteElement).Methods("DELETE")
	api.HandleFunc("/elements/{elementId}/changes", s.handleElementChanges).Methods("GET")

	api.HandleFunc("/presentations/{id}/participants", s.handleListParticipants).Methods("GET")
	api.HandleFunc("/presentations/{id}/participants/{name}/role", s.handleChangeRole).Methods("PUT")

	api.HandleFunc("/presentations/{id}/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/presentations/{id}/history/{hash}/pages/{pageId}", s.handlePageSnapshot).Methods("GET")

	api.HandleFunc("/search", s.handleSearch).Methods("GET")
	api.HandleFunc("/assets", s.handleUploadAsset).Methods("POST")
	return router
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListPresentations(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListPresentations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presentations": items})
}

func (s *HTTPServer) handleCreatePresentation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title           string `json:"title"`
		CreatorNickname string `json:"creatorNickname"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	doc, err := s.service.CreatePresentation(r.Context(), body.Title, body.CreatorNickname)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *HTTPServer) handleGetPresentation(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetPresentation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleUpdatePresentation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	doc, err := s.service.UpdatePresentation(r.Context(), mux.Vars(r)["id"], r.Header.Get(displayNameHeader), body.Title)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleDeletePresentation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePresentation(r.Context(), mux.Vars(r)["id"], r.Header.Get(displayNameHeader)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.service.ListPages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *HTTPServer) handleAddPage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position   *int   `json:"position"`
		Background string `json:"background"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	page, err := s.service.AddPage(r.Context(), mux.Vars(r)["id"], r.Header.Get(displayNameHeader), body.Position, body.Background)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *HTTPServer) handleReorderPages(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PageIDs []string `json:"pageIds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	pages, err := s.service.ReorderPages(r.Context(), mux.Vars(r)["id"], r.Header.Get(displayNameHeader), body.PageIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *HTTPServer) handleSavePage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Elements []mutation.ElementInput `json:"elements"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	elements, err := s.service.SavePage(r.Context(), mux.Vars(r)["pageId"], r.Header.Get(displayNameHeader), body.Elements)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"elements": elements})
}

func (s *HTTPServer) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePage(r.Context(), mux.Vars(r)["pageId"], r.Header.Get(displayNameHeader)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleDuplicatePage(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.DuplicatePage(r.Context(), mux.Vars(r)["pageId"], r.Header.Get(displayNameHeader))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *HTTPServer) handleCreateElement(w http.ResponseWriter, r *http.Request) {
	var in mutation.ElementInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	element, err := s.service.CreateElement(r.Context(), mux.Vars(r)["pageId"], r.Header.Get(displayNameHeader), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, element)
}

func (s *HTTPServer) handleUpdateElement(w http.ResponseWriter, r *http.Request) {
	var in mutation.ElementInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	element, err := s.service.UpdateElement(r.Context(), mux.Vars(r)["elementId"], r.Header.Get(displayNameHeader), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, element)
}

func (s *HTTPServer) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteElement(r.Context(), mux.Vars(r)["elementId"], r.Header.Get(displayNameHeader)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleElementChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.service.ElementChanges(r.Context(), mux.Vars(r)["elementId"], queryInt(r.URL.Query(), "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *HTTPServer) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.service.ListParticipants(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (s *HTTPServer) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	participant, err := s.service.ChangeRole(r.Context(), vars["id"], r.Header.Get(displayNameHeader), vars["name"], body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	commits, err := s.service.History(r.Context(), mux.Vars(r)["id"], queryInt(r.URL.Query(), "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": commits})
}

func (s *HTTPServer) handlePageSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snapshot, err := s.service.PageSnapshot(r.Context(), vars["id"], vars["hash"], vars["pageId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp := s.service.Search(r.Context(), search.Query{
		Text:             strings.TrimSpace(query.Get("q")),
		FilterType:       search.ResultType(query.Get("type")),
		FilterDocumentID: query.Get("documentId"),
		Limit:            queryInt(query, "limit", 20),
		Offset:           queryInt(query, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, assets.MaxImageBytes+1<<20)
	if err := r.ParseMultipartForm(assets.MaxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, "file is required", nil)
		return
	}
	defer file.Close()
	if header.Size > assets.MaxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, codeValidation, "image is too large", nil)
		return
	}

	asset, err := s.service.UploadImage(r.Context(),
		r.FormValue("documentId"),
		r.Header.Get(displayNameHeader),
		header.Header.Get("Content-Type"),
		file,
		header.Size,
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Display-Name, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
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
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(values url.Values, key string, fallback int) int {
	raw := values.Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
