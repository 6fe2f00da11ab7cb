package telemetry

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const maxCommandBody = 1 << 10

// commandRoutes maps the public command paths to actuators
var commandRoutes = map[string]ActuatorID{
	"/api/bomba": PrimaryPump,
	"/api/relev": RelayV,
}

// Server exposes the telemetry state, actuator commands and the viewer
// socket over HTTP. It is safe to use concurrently.
type Server struct {
	config    *Config
	store     *Store
	hub       *Hub
	commander *Commander
	gatherer  prometheus.Gatherer
	upgrader  websocket.Upgrader
	logger    *zap.SugaredLogger
	mux       *http.ServeMux
}

// NewServer constructs a Server with all routes registered. A nil gatherer
// disables /metrics.
func NewServer(config *Config, store *Store, hub *Hub, commander *Commander, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *Server {
	s := &Server{
		config:    config,
		store:     store,
		hub:       hub,
		commander: commander,
		gatherer:  gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	for path, id := range commandRoutes {
		s.mux.HandleFunc(path, s.handleCommand(id))
	}
	s.mux.HandleFunc("/ws", s.handleViewer)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStatus serves GET /api/status with the latest telemetry payload,
// empty before the first cycle.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	latest, ok := s.store.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, NewTelemetryPayload(nil))
		return
	}
	writeJSON(w, http.StatusOK, NewTelemetryPayload(&latest))
}

// handleHistory serves GET /api/history with the history window as
// telemetry payloads, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	points := s.store.History()
	out := make([]TelemetryPayload, len(points))
	for i := range points {
		out[i] = NewTelemetryPayload(&points[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type configResponse struct {
	SensorAliases   []SensorID `json:"sensor_aliases"`
	Threshold       *float64   `json:"umbral"`
	IntervalSeconds float64    `json:"interval_seconds"`
	HistoryCapacity int        `json:"history_capacity"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, configResponse{
		SensorAliases:   s.config.SensorIDs(),
		Threshold:       s.config.Threshold,
		IntervalSeconds: s.config.IntervalSeconds,
		HistoryCapacity: s.store.Capacity(),
	})
}

type commandRequest struct {
	Action string `json:"action"`
}

type commandResponse struct {
	Success bool         `json:"success"`
	GPIO    *GPIOPayload `json:"gpio,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// handleCommand serves POST /api/bomba and POST /api/relev with a body of
// {"action": "on"} or {"action": "off"}.
func (s *Server) handleCommand(id ActuatorID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req commandRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, commandResponse{Error: "invalid request body"})
			return
		}

		res, err := s.commander.Handle(r.Context(), string(id), req.Action)
		if err != nil {
			var fault *ActuatorFault
			switch {
			case errors.Is(err, ErrInvalidCommand):
				writeJSON(w, http.StatusBadRequest, commandResponse{Error: err.Error()})
			case errors.As(err, &fault):
				writeJSON(w, http.StatusBadGateway, commandResponse{Error: err.Error()})
			default:
				writeJSON(w, http.StatusInternalServerError, commandResponse{Error: err.Error()})
			}
			return
		}

		gpio := NewGPIOPayload(res.Actuators, res.Trigger)
		writeJSON(w, http.StatusOK, commandResponse{Success: true, GPIO: &gpio})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
