package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/funai-studio/runtime-agent/internal/agent/mongo"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
	"github.com/funai-studio/runtime-agent/internal/agent/store"
)

type cleanupResponse struct {
	RunID            string            `json:"runId,omitempty"`
	CleanedDatabases int               `json:"cleanedDatabases"`
	Message          string            `json:"message"`
	DryRun           bool              `json:"dryRun"`
	Candidates       []string          `json:"candidates"`
	Errors           map[string]string `json:"errors"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cleaner == nil {
		writeError(w, http.StatusServiceUnavailable, "not-configured", "orphan cleanup is not configured on this node")
		return
	}
	// A request body (older callers post existingAppIds) is ignored: the
	// reconciler always fetches the live set itself.
	rep, err := s.opts.Cleaner.RunOnce(r.Context())
	if errors.Is(err, orphans.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "busy", err.Error())
		return
	}

	resp := cleanupResponse{
		RunID:            rep.RunID,
		CleanedDatabases: rep.DeletedCount(),
		Message:          "success",
		DryRun:           rep.DryRun,
		Candidates:       rep.Candidates,
		Errors:           map[string]string{},
	}
	if resp.Candidates == nil {
		resp.Candidates = []string{}
	}
	for _, de := range rep.Errors {
		resp.Errors[de.Database] = de.Err.Error()
	}
	if err != nil {
		resp.Message = "error: " + err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	if len(rep.Errors) > 0 {
		resp.Message = fmt.Sprintf("partial: %d database(s) could not be dropped", len(rep.Errors))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCleanupRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "not-configured", "audit log is not configured on this node")
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	runs, err := s.opts.Audit.ListCleanupRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list cleanup runs failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read cleanup runs")
		return
	}
	if runs == nil {
		runs = []store.CleanupRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.opts.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "not-configured", "audit log is not configured on this node")
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	entries, err := s.opts.Audit.GetAuditLog(r.Context(), store.AuditFilter{
		AppID: r.URL.Query().Get("appId"),
		Limit: limit,
	})
	if err != nil {
		slog.Error("read audit log failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read audit log")
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type findRequest struct {
	UserID     string `json:"userId"`
	Collection string `json:"collection"`
	Filter     string `json:"filter"`
	Projection string `json:"projection"`
	Sort       string `json:"sort"`
	Limit      int    `json:"limit"`
	Skip       int    `json:"skip"`
}

type findResponse struct {
	DBName     string            `json:"dbName"`
	Collection string            `json:"collection"`
	Limit      int               `json:"limit"`
	Skip       int               `json:"skip"`
	Items      []json.RawMessage `json:"items"`
}

// appScope validates the path appId and the caller-supplied userId that
// together select the app's database.
func appScope(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	appID := r.PathValue("appId")
	if err := runtime.ValidateAppID(appID); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", err.Error())
		return "", false
	}
	if err := runtime.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", err.Error())
		return "", false
	}
	return appID, true
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if s.opts.Explorer == nil {
		writeError(w, http.StatusServiceUnavailable, "not-configured", "database explorer is not configured on this node")
		return
	}
	userID := r.URL.Query().Get("userId")
	appID, ok := appScope(w, r, userID)
	if !ok {
		return
	}
	names, err := s.opts.Explorer.ListCollections(r.Context(), userID, appID)
	if err != nil {
		writeExplorerError(w, appID, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dbName":      orphans.DatabaseName(userID, appID),
		"collections": names,
	})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	if s.opts.Explorer == nil {
		writeError(w, http.StatusServiceUnavailable, "not-configured", "database explorer is not configured on this node")
		return
	}
	var req findRequest
	if !decodeBody(w, r, &req) {
		return
	}
	appID, ok := appScope(w, r, req.UserID)
	if !ok {
		return
	}
	res, err := s.opts.Explorer.Find(r.Context(), req.UserID, appID, mongo.FindQuery{
		Collection: req.Collection,
		Filter:     req.Filter,
		Projection: req.Projection,
		Sort:       req.Sort,
		Limit:      req.Limit,
		Skip:       req.Skip,
	})
	if err != nil {
		writeExplorerError(w, appID, err)
		return
	}
	items := res.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, findResponse{
		DBName:     res.Database,
		Collection: res.Collection,
		Limit:      res.Limit,
		Skip:       res.Skip,
		Items:      items,
	})
}

func (s *Server) handleFindByID(w http.ResponseWriter, r *http.Request) {
	if s.opts.Explorer == nil {
		writeError(w, http.StatusServiceUnavailable, "not-configured", "database explorer is not configured on this node")
		return
	}
	q := r.URL.Query()
	userID := q.Get("userId")
	appID, ok := appScope(w, r, userID)
	if !ok {
		return
	}
	id := q.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad-request", "id is required")
		return
	}
	doc, err := s.opts.Explorer.FindByID(r.Context(), userID, appID, q.Get("collection"), id)
	if err != nil {
		writeExplorerError(w, appID, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "not-found", "document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc": doc})
}

func writeExplorerError(w http.ResponseWriter, appID string, err error) {
	switch {
	case errors.Is(err, mongo.ErrForbiddenCollection):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, mongo.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "bad-request", err.Error())
	default:
		slog.Error("database explorer failed", "app_id", appID, "err", err)
		writeError(w, http.StatusBadGateway, "database-error", "database query failed")
	}
}

// intParam parses an optional non-negative integer query parameter; zero
// means unset.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "bad-request", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
