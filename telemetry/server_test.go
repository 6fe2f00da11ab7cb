package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

type serverFixture struct {
	server *Server
	store  *Store
	hub    *Hub
	gw     *fakeGateway
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	c, err := ParseConfig([]byte("env: dev\nthreshold_c: 23.5\nsensors: [{alias: a}, {alias: b}, {alias: c}]\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	logger := zap.NewNop().Sugar()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	fx := &serverFixture{
		store: NewStore(c.HistoryCapacity),
		hub:   NewHub(4, logger, metrics),
		gw:    &fakeGateway{},
	}
	cmd := NewCommander(fx.gw, NewActuatorTable(), logger, metrics)
	fx.server = NewServer(c, fx.store, fx.hub, cmd, reg, logger)

	return fx
}

func (fx *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.server.ServeHTTP(rec, req)
	return rec
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	want := `{"ts":null,"temps":{},"avg":null,"gpio":{"bomba":null,"relay_v":null,"trigger":null}}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStatusAndHistory(t *testing.T) {
	fx := newServerFixture(t)
	fx.store.Record(snapshotAt(1))
	fx.store.Record(NewSnapshot(
		time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC),
		testSensors,
		map[SensorID]*float64{"a": fp(21.5), "c": fp(19)},
		UnknownPins(),
	))

	var status TelemetryPayload
	rec := fx.do(http.MethodGet, "/api/status", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Avg == nil || *status.Avg != 20.25 {
		t.Fatalf("unexpected status %s", rec.Body.String())
	}
	if status.Timestamp == nil || *status.Timestamp != "2024-01-01 00:00:02" {
		t.Fatalf("unexpected ts %v", status.Timestamp)
	}

	var history []TelemetryPayload
	rec = fx.do(http.MethodGet, "/api/history", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 2 || *history[0].Timestamp != "2024-01-01 00:00:01" {
		t.Fatalf("unexpected history %s", rec.Body.String())
	}
}

func TestConfigEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	var got configResponse
	rec := fx.do(http.MethodGet, "/api/config", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(got.SensorAliases) != 3 || got.SensorAliases[0] != "a" {
		t.Fatalf("unexpected aliases %v", got.SensorAliases)
	}
	if got.Threshold == nil || *got.Threshold != 23.5 {
		t.Fatalf("unexpected umbral %v", got.Threshold)
	}
	if got.IntervalSeconds != 2 || got.HistoryCapacity != 300 {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestCommandEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(http.MethodPost, "/api/bomba", `{"action":"on"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	want := `{"success":true,"gpio":{"bomba":1,"relay_v":null,"trigger":null}}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if len(fx.gw.sets) != 1 || fx.gw.sets[0].id != PrimaryPump {
		t.Fatalf("unexpected writes %+v", fx.gw.sets)
	}

	rec = fx.do(http.MethodPost, "/api/relev", `{"action":"off"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"relay_v":0`) {
		t.Fatalf("unexpected relay response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCommandEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		setErr error
		want   int
	}{
		{"invalid action", http.MethodPost, `{"action":"sideways"}`, nil, http.StatusBadRequest},
		{"missing action", http.MethodPost, `{}`, nil, http.StatusBadRequest},
		{"bad body", http.MethodPost, `not json`, nil, http.StatusBadRequest},
		{"actuator fault", http.MethodPost, `{"action":"on"}`, errors.New("pin stuck"), http.StatusBadGateway},
		{"wrong method", http.MethodGet, "", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newServerFixture(t)
			fx.gw.setErr = tt.setErr

			rec := fx.do(tt.method, "/api/bomba", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.method == http.MethodPost && !strings.Contains(rec.Body.String(), `"success":false`) {
				t.Fatalf("expected success false, got %s", rec.Body.String())
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health %d %q", rec.Code, rec.Body.String())
	}

	fx.do(http.MethodPost, "/api/bomba", `{"action":"on"}`)
	rec = fx.do(http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `telemetry_hub_actuator_commands_total{actuator="primary-pump",result="ok"} 1`) {
		t.Fatalf("command metric missing from exposition:\n%s", rec.Body.String())
	}
}

func dialViewer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	return env.Type, env.Payload
}

func TestViewerReceivesSeedThenLiveEvents(t *testing.T) {
	fx := newServerFixture(t)
	srv := httptest.NewServer(fx.server)
	defer srv.Close()

	fx.hub.Publish(telemetryAt(1))

	conn := dialViewer(t, srv)
	defer conn.Close()

	typ, payload := readEnvelope(t, conn)
	if typ != "telemetry" || payload["ts"] != snapshotAt(1).Timestamp {
		t.Fatalf("expected seeded telemetry, got %s %v", typ, payload)
	}

	fx.hub.Publish(NewErrorEvent(errBusGone))
	typ, payload = readEnvelope(t, conn)
	if typ != "telemetry_error" || payload["error"] != "bus gone" {
		t.Fatalf("expected error event, got %s %v", typ, payload)
	}
}

func TestViewerDisconnectUnregistersSession(t *testing.T) {
	fx := newServerFixture(t)
	srv := httptest.NewServer(fx.server)
	defer srv.Close()

	conn := dialViewer(t, srv)
	waitFor(t, func() bool { return fx.hub.Len() == 1 })

	conn.Close()
	waitFor(t, func() bool { return fx.hub.Len() == 0 })
}

func TestViewerClosedOnHubClose(t *testing.T) {
	fx := newServerFixture(t)
	srv := httptest.NewServer(fx.server)
	defer srv.Close()

	conn := dialViewer(t, srv)
	defer conn.Close()
	waitFor(t, func() bool { return fx.hub.Len() == 1 })

	fx.hub.Close()

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}
