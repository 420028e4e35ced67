package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/grace/internal/capability"
	"github.com/kalambet/grace/internal/companion"
	"github.com/kalambet/grace/internal/home"
	"github.com/kalambet/grace/internal/pipeline"
	"github.com/kalambet/grace/internal/storage"
)

const (
	maxRequestBodySize       = 64 << 10
	defaultConversationLimit = 10
	maxConversationLimit     = 100
)

// Runner is a monitor the API can trigger and report on.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
	Status() pipeline.MonitorStatus
}

// MemoryStore is the read side of the store the API exposes.
type MemoryStore interface {
	ListMemories(category string) ([]storage.Memory, error)
	Count() (int, error)
	RecentConversations(limit int) ([]storage.Conversation, error)
}

// Chatter answers a chat message.
type Chatter interface {
	Chat(ctx context.Context, msg string) (string, error)
}

// WeatherService produces a weather suggestion.
type WeatherService interface {
	Suggest(ctx context.Context) (home.Suggestion, error)
}

// LightService controls smart lights.
type LightService interface {
	TurnOn(ctx context.Context, location string) (json.RawMessage, error)
	TurnOff(ctx context.Context, location string) (json.RawMessage, error)
	GameTime(ctx context.Context) (home.Scene, error)
	Status() home.LightsStatus
}

// MonitorEntry names a monitor that may be unconfigured.
type MonitorEntry struct {
	Name     string
	Monitor  capability.Optional[Runner]
	Interval time.Duration
}

// Deps holds everything the HTTP and MCP surfaces call into.
type Deps struct {
	Store     MemoryStore
	Monitors  []MonitorEntry
	Simulate  Runner // camera pipeline over simulated events; nil disables the route
	Companion Chatter
	Weather   capability.Optional[WeatherService]
	Lights    capability.Optional[LightService]
	Token     string
	Logger    *slog.Logger
	now       func() time.Time
}

func (d Deps) monitor(name string) (MonitorEntry, bool) {
	for _, m := range d.Monitors {
		if m.Name == name {
			return m, true
		}
	}
	return MonitorEntry{}, false
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// NewHandler returns the HTTP surface. GET /health is open; every other
// route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Post("/trigger/{source}", handleTrigger(deps))
		r.Post("/trigger/wyze/simulate", handleSimulate(deps))
		r.Post("/trigger/weather", handleWeather(deps, true))
		r.Post("/chat", handleChat(deps))
		r.Get("/memory", handleMemory(deps))
		r.Get("/conversations", handleConversations(deps))
		r.Get("/weather", handleWeather(deps, false))
		r.Get("/lights/status", handleLightsStatus(deps))
		r.Post("/lights/{action}", handleLights(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// MonitorReport is one monitor's entry in the status response.
type MonitorReport struct {
	pipeline.MonitorStatus
	Configured bool   `json:"configured"`
	Interval   string `json:"interval,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status      string          `json:"status"`
	MemoryCount int             `json:"memory_count"`
	Monitors    []MonitorReport `json:"monitors"`
	Timestamp   time.Time       `json:"timestamp"`
}

func buildStatus(deps Deps) (StatusResponse, error) {
	n, err := deps.Store.Count()
	if err != nil {
		return StatusResponse{}, err
	}
	resp := StatusResponse{
		Status:      "running",
		MemoryCount: n,
		Monitors:    make([]MonitorReport, 0, len(deps.Monitors)),
		Timestamp:   deps.clock().UTC(),
	}
	for _, e := range deps.Monitors {
		rep := MonitorReport{MonitorStatus: pipeline.MonitorStatus{Source: e.Name}}
		if m, ok := e.Monitor.Get(); ok {
			rep.MonitorStatus = m.Status()
			rep.Configured = true
			if e.Interval > 0 {
				rep.Interval = e.Interval.String()
			}
		}
		resp.Monitors = append(resp.Monitors, rep)
	}
	return resp, nil
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := buildStatus(deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "persistence_error", "reading status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// TriggerResponse is the body of a successful trigger.
type TriggerResponse struct {
	Success bool             `json:"success"`
	Result  pipeline.Summary `json:"result"`
}

func handleTrigger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "source")
		entry, ok := deps.monitor(name)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown source %q", name)
			return
		}
		m, ok := entry.Monitor.Get()
		if !ok {
			writeJSON(w, http.StatusOK, entry.Monitor.NotConfigured())
			return
		}
		runMonitor(w, r, deps, m)
	}
}

func handleSimulate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Simulate == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "motion simulation is disabled")
			return
		}
		runMonitor(w, r, deps, deps.Simulate)
	}
}

func runMonitor(w http.ResponseWriter, r *http.Request, deps Deps, m Runner) {
	sum, err := m.Run(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrInterrupted) {
			deps.logger().Info("triggered run interrupted", "source", sum.Source, "run_id", sum.RunID)
			httpError(w, http.StatusServiceUnavailable, "interrupted_error", "run failed: %v", err)
			return
		}
		deps.logger().Error("triggered run failed", "source", sum.Source, "run_id", sum.RunID, "error", err)
		errType := "api_error"
		var pe *storage.PersistenceError
		if errors.As(err, &pe) {
			errType = "persistence_error"
		}
		httpError(w, http.StatusInternalServerError, errType, "run failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, TriggerResponse{Success: true, Result: sum})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Companion.Chat(r.Context(), req.Message)
		if errors.Is(err, companion.ErrEmptyMessage) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if err != nil {
			deps.logger().Error("chat failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "chat failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Success: true, Response: reply})
	}
}

func handleMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memories, err := deps.Store.ListMemories(r.URL.Query().Get("category"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "persistence_error", "listing memories: %v", err)
			return
		}
		if memories == nil {
			memories = []storage.Memory{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
	}
}

func handleConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultConversationLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxConversationLimit)
		}

		turns, err := deps.Store.RecentConversations(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "persistence_error", "reading conversations: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.Conversation{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": turns})
	}
}

// WeatherResponse is the trigger-style envelope around a suggestion.
type WeatherResponse struct {
	Success bool            `json:"success"`
	Result  home.Suggestion `json:"result"`
}

// handleWeather serves the suggestion bare, or inside WeatherResponse when
// wrapped is set.
func handleWeather(deps Deps, wrapped bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := deps.Weather.Get()
		if !ok {
			writeJSON(w, http.StatusOK, deps.Weather.NotConfigured())
			return
		}
		s, err := ws.Suggest(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "weather lookup failed: %v", err)
			return
		}
		if wrapped {
			writeJSON(w, http.StatusOK, WeatherResponse{Success: true, Result: s})
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleLightsStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, ok := deps.Lights.Get()
		if !ok {
			writeJSON(w, http.StatusOK, deps.Lights.NotConfigured())
			return
		}
		writeJSON(w, http.StatusOK, ls.Status())
	}
}

func handleLights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, ok := deps.Lights.Get()
		if !ok {
			writeJSON(w, http.StatusOK, deps.Lights.NotConfigured())
			return
		}

		location := r.URL.Query().Get("location")
		if location == "" {
			location = home.DefaultLocation
		}

		var (
			result any
			err    error
		)
		switch action := chi.URLParam(r, "action"); action {
		case "on":
			result, err = ls.TurnOn(r.Context(), location)
		case "off":
			result, err = ls.TurnOff(r.Context(), location)
		case "game_time":
			result, err = ls.GameTime(r.Context())
		default:
			httpError(w, http.StatusNotFound, "not_found_error", "unknown light action %q", action)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "light control failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
