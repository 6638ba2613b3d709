// Package httpserver exposes the local control API a menu UI drives.
package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/app/menucache"
	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/observability"
)

const (
	maxJSONBodyBytes int64 = 64 << 10

	categoriesPath       = "/categories"
	categoryDetailPrefix = categoriesPath + "/"

	ratingsPrefix = "/ratings/"

	statePath  = "/state"
	healthPath = "/healthz"
)

// Session is the menu session surface served over HTTP.
type Session interface {
	LoadCategories(ctx context.Context) ([]menu.Category, error)
	SelectCategory(ctx context.Context, categoryID menu.CategoryID) (menu.CategorySnapshot, error)
	RefreshCategory(ctx context.Context, categoryID menu.CategoryID) (menu.CategorySnapshot, error)
	SelectRating(itemID menu.ItemID, stars int) (int, error)
	SubmitRating(ctx context.Context, itemID menu.ItemID) (menucache.SubmitResult, error)
	View() menucache.View
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	session Session
	logger  observability.Logger
}

// NewHandler builds the control API router.
func NewHandler(session Session, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Log()
	}
	server := &httpServer{session: session, logger: logger}
	mux := http.NewServeMux()

	mux.Handle(categoriesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listCategories,
	}))
	mux.Handle(categoryDetailPrefix, http.HandlerFunc(server.handleCategory))
	mux.Handle(ratingsPrefix, http.HandlerFunc(server.handleRating))
	mux.Handle(statePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getState,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		},
	}))
	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.session.LoadCategories(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *httpServer) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.View())
}

// handleCategory serves /categories/{id}/menu and /categories/{id}/refresh.
func (s *httpServer) handleCategory(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, categoryDetailPrefix), "/")
	id, action, hasAction := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" || !hasAction {
		writeError(w, http.StatusNotFound, "category resource not found")
		return
	}

	switch strings.TrimSpace(action) {
	case "menu":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		refresh, err := parseBoolQuery(r, "refresh")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var snap menu.CategorySnapshot
		if refresh {
			snap, err = s.session.RefreshCategory(r.Context(), menu.CategoryID(id))
		} else {
			snap, err = s.session.SelectCategory(r.Context(), menu.CategoryID(id))
		}
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case "refresh":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		snap, err := s.session.RefreshCategory(r.Context(), menu.CategoryID(id))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

type selectionPayload struct {
	Stars *int `json:"stars"`
}

type submitResponse struct {
	Item      menu.ItemID           `json:"item"`
	Outcome   menucache.Outcome     `json:"outcome"`
	Aggregate *menu.RatingAggregate `json:"aggregate,omitempty"`
	Reconcile string                `json:"reconcile,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// handleRating serves PUT /ratings/{itemId}/selection and POST /ratings/{itemId}.
func (s *httpServer) handleRating(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, ratingsPrefix), "/")
	id, action, hasAction := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusNotFound, "item id required")
		return
	}
	itemID := menu.ItemID(id)

	if !hasAction {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.submitRating(w, r, itemID)
		return
	}
	if strings.TrimSpace(action) != "selection" {
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}

	limitRequestBody(w, r)
	var payload selectionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if payload.Stars == nil {
		writeError(w, http.StatusBadRequest, "stars required")
		return
	}
	stars, err := s.session.SelectRating(itemID, *payload.Stars)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": itemID, "stars": stars})
}

func (s *httpServer) submitRating(w http.ResponseWriter, r *http.Request, itemID menu.ItemID) {
	res, err := s.session.SubmitRating(r.Context(), itemID)
	view := s.session.View()
	body := submitResponse{
		Item:      itemID,
		Outcome:   res.Outcome,
		Reconcile: res.Reconcile,
		Message:   view.Messages[itemID],
	}
	switch res.Outcome {
	case menucache.Submitted:
		agg := res.Aggregate
		body.Aggregate = &agg
		writeJSON(w, http.StatusCreated, body)
	case menucache.AlreadyRatedToday:
		writeJSON(w, http.StatusConflict, body)
	case menucache.NoSelection:
		writeJSON(w, http.StatusOK, body)
	default:
		s.logger.Warn("rating submission failed",
			observability.F("item", string(itemID)),
			observability.F("error", err))
		writeJSON(w, statusForError(err), body)
	}
}

func (s *httpServer) writeDomainError(w http.ResponseWriter, err error) {
	message := errs.UserMessage(err)
	if message == "" {
		message = err.Error()
	}
	writeError(w, statusForError(err), message)
}

func statusForError(err error) int {
	var e *errs.E
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch {
	case e.Code == errs.CodeInvalid:
		return http.StatusBadRequest
	case e.Code == errs.CodeNotFound:
		return http.StatusNotFound
	case errs.IsCanonical(err, errs.CanonicalListFetchFailed), errs.IsCanonical(err, errs.CanonicalSubmissionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseBoolQuery(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return value, nil
}

func decodeJSON(r *http.Request, out any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	buf, _ := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","error":"encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
