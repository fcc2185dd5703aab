package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vmccharlie/opbutler/internal/engine"
	"github.com/vmccharlie/opbutler/internal/logger"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the engine's read surface plus plan previews over HTTP.
type WebServer struct {
	router *mux.Router
	engine *engine.Engine
	port   string
	start  time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(eng *engine.Engine, port string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		engine: eng,
		port:   port,
		start:  time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/positions/{account}", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/strategies", ws.handleGetStrategies).Methods("GET")
	api.HandleFunc("/snapshots/{account}", ws.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/plan/preview", ws.handlePlanPreview).Methods("POST")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server process health
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.start).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "opbutler-leveraged-position-engine",
			"version": "1.0.0",
		},
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPositions returns the live health snapshot for one account
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if account == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Account is required")
		return
	}

	snapshot, err := ws.engine.CheckHealth(r.Context(), account)
	if err != nil {
		webLogger.Error().Err(err).Str("account", account).Msg("Failed to compute health")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute account health")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// handleGetStrategies returns all open strategy records
func (ws *WebServer) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := ws.engine.Strategies()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list strategies")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve strategies")
		return
	}

	response := map[string]interface{}{
		"strategies": strategies,
		"count":      len(strategies),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns recent persisted health snapshots for an account
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if account == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Account is required")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := ws.engine.SnapshotHistory(account, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("account", account).Msg("Failed to list snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handlePlanPreview plans and simulates a loop without executing it
func (ws *WebServer) handlePlanPreview(w http.ResponseWriter, r *http.Request) {
	var req engine.OpenLoopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := ws.engine.PreviewLoop(r.Context(), req)
	if err != nil {
		webLogger.Error().Err(err).
			Str("protocol", string(req.Protocol)).
			Float64("leverage", req.Leverage).
			Msg("Plan preview failed")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, result)
}

// handleGetParameters returns the active engine parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"parameters": ws.engine.Params(),
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
