package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/launcher"
	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/internal/monitor"
	"github.com/gamelaunch/gamelaunch/internal/scripts"
)

const maxBodyBytes = 1 << 20

// Host is the set of launcher operations served over HTTP.
type Host interface {
	IsRoot(ctx context.Context) bool
	InstalledApps(ctx context.Context) ([]launcher.App, error)
	LaunchApp(ctx context.Context, id string) (launcher.Launched, error)
	StopSession()
	AreScriptsExtracted() bool
	ExtractScripts(set scripts.ScriptSet) error
	ExecuteScript(ctx context.Context, name string) error
	AddWhitelistedPackage(id string) bool
	Whitelist() []string
	Session() monitor.SessionState
	Subscribe(fn func(monitor.SessionEnd)) func()
}

// ReportGenerator builds play-time reports.
type ReportGenerator interface {
	GenerateReport(periodType string) (*models.Report, error)
}

type Handler struct {
	host    Host
	reports ReportGenerator
	events  *Broadcaster
	logger  *slog.Logger
	games   launcher.Relevance
}

func NewHandler(host Host, reports ReportGenerator, events *Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		host:    host,
		reports: reports,
		events:  events,
		logger:  logger.With("component", "web"),
		games:   launcher.GamesOnly,
	}
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/apps", h.handleApps)
	mux.HandleFunc("/api/launch", h.handleLaunch)
	mux.HandleFunc("/api/root", h.handleRoot)
	mux.HandleFunc("/api/scripts", h.handleScripts)
	mux.HandleFunc("/api/scripts/extract", h.handleExtract)
	mux.HandleFunc("/api/scripts/execute", h.handleExecute)
	mux.HandleFunc("/api/whitelist", h.handleWhitelist)
	mux.HandleFunc("/api/session", h.handleSession)
	mux.HandleFunc("/api/session/stop", h.handleStopSession)
	mux.HandleFunc("/api/report", h.handleReport)

	mux.HandleFunc("/health", h.handleHealth)

	if h.events != nil {
		mux.HandleFunc("/ws", h.events.ServeWS)
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind   apperr.Kind `json:"kind"`
	Detail string      `json:"detail"`
}

type LaunchRequest struct {
	ID string `json:"id"`
}

type ExecuteRequest struct {
	Name string `json:"name"`
}

type WhitelistRequest struct {
	ID string `json:"id"`
}

type WhitelistResponse struct {
	Added     bool     `json:"added"`
	Whitelist []string `json:"whitelist"`
}

type ScriptsStatus struct {
	Extracted bool     `json:"extracted"`
	Names     []string `json:"names"`
}

func (h *Handler) handleApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	apps, err := h.host.InstalledApps(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	if games := r.URL.Query().Get("games"); games == "1" || games == "true" {
		filtered := apps[:0:0]
		for _, app := range apps {
			if h.games(app) {
				filtered = append(filtered, app)
			}
		}
		apps = filtered
	}
	if apps == nil {
		apps = []launcher.App{}
	}

	respondJSON(w, apps)
}

func (h *Handler) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req LaunchRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	launched, err := h.host.LaunchApp(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, launched)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	respondJSON(w, map[string]bool{"root": h.host.IsRoot(r.Context())})
}

func (h *Handler) handleScripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	respondJSON(w, ScriptsStatus{
		Extracted: h.host.AreScriptsExtracted(),
		Names:     scripts.Names,
	})
}

func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var set scripts.ScriptSet
	if err := decodeBody(w, r, &set); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.host.ExtractScripts(set); err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, ScriptsStatus{Extracted: true, Names: scripts.Names})
}

// handleExecute blocks until the script exits.
func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.host.ExecuteScript(r.Context(), req.Name); err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, map[string]bool{"ok": true})
}

func (h *Handler) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, WhitelistResponse{Whitelist: h.host.Whitelist()})

	case http.MethodPost:
		var req WhitelistRequest
		if err := decodeBody(w, r, &req); err != nil {
			h.respondError(w, err)
			return
		}
		if strings.TrimSpace(req.ID) == "" {
			h.respondError(w, apperr.New(apperr.InvalidArgument, "package id is empty"))
			return
		}
		added := h.host.AddWhitelistedPackage(req.ID)
		respondJSON(w, WhitelistResponse{Added: added, Whitelist: h.host.Whitelist()})

	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	respondJSON(w, h.host.Session())
}

func (h *Handler) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	h.host.StopSession()
	respondJSON(w, h.host.Session())
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.reports == nil {
		h.respondError(w, apperr.New(apperr.Internal, "reports are not available"))
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reports.GenerateReport(periodType)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, report)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "invalid request body")
	}
	return nil
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.AppNotFound, apperr.ScriptMissing:
		return http.StatusNotFound
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "kind", kind, "err", err)
	} else {
		h.logger.Debug("request rejected", "kind", kind, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Kind: kind, Detail: apperr.Detail(err)})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
