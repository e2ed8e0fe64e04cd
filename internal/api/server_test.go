package api

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/stopline/internal/config"
	"github.com/banshee-data/stopline/internal/db"
	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/serialmux"
	"github.com/banshee-data/stopline/internal/stopline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

type staticSource struct {
	snap stopline.Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context) (stopline.Snapshot, error) { return s.snap, s.err }

func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// redLightSnapshot drives a loop until a red light four points ahead of the
// car is confirmed.
func redLightSnapshot(t *testing.T) stopline.Snapshot {
	t.Helper()
	pts := make([]r3.Vec, 10)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / 10
		pts[i] = r3.Vec{X: 10 * math.Cos(theta), Y: 10 * math.Sin(theta)}
	}
	stop := r2.Vec{X: pts[4].X, Y: pts[4].Y}
	l := stopline.NewLoop(stopline.LoopConfig{StopLines: []r2.Vec{stop}, StateCountThreshold: 3})
	require.NoError(t, l.HandlePath(pts))
	l.HandlePose(pts[0])
	for i := 0; i < 3; i++ {
		l.HandleLights([]stopline.LightObservation{{Position: stop, Color: stopline.Red}})
		l.HandleFrame(stopline.Frame{})
	}
	return l.Snapshot()
}

func newTestDB(t *testing.T) (*db.DB, string) {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "stopline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	run := &db.Run{StopLines: 1, StateCountThreshold: 3, Source: "test"}
	require.NoError(t, d.StartRun(context.Background(), run))
	return d, run.ID
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestShowSignal(t *testing.T) {
	muteLogs(t)
	s := NewServer(Options{Source: staticSource{snap: redLightSnapshot(t)}})

	w := get(t, s.ServeMux(), "/api/signal")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var sig stopline.Signal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, 4, sig.StopIndex)
	assert.Equal(t, stopline.Red, sig.ConfirmedColor)
	assert.Equal(t, uint64(3), sig.Tick)
}

func TestShowSignalFromDispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	disp := stopline.NewDispatcher(stopline.NewLoop(stopline.LoopConfig{}), 4)
	go disp.Run(ctx)

	s := NewServer(Options{Source: disp})
	w := get(t, s.ServeMux(), "/api/signal")
	require.Equal(t, http.StatusOK, w.Code)

	var sig stopline.Signal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, stopline.NoStop, sig.StopIndex)
	assert.Equal(t, stopline.Unknown, sig.RawColor)
}

func TestSnapshotErrors(t *testing.T) {
	tests := []struct {
		name   string
		source SnapshotSource
	}{
		{"no source", nil},
		{"source fails", staticSource{err: errors.New("loop stopped")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{Source: tt.source})
			for _, path := range []string{"/api/signal", "/api/snapshot", "/api/associations", "/api/path.png"} {
				w := get(t, s.ServeMux(), path)
				assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
				assert.Contains(t, w.Body.String(), `"error"`, path)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(Options{Source: staticSource{}})
	for _, path := range []string{"/api/signal", "/api/snapshot", "/api/associations", "/api/signals", "/api/runs", "/api/config", "/api/chart", "/api/path.png"} {
		w := httptest.NewRecorder()
		s.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
	}

	w := get(t, s.ServeMux(), "/command")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListAssociations(t *testing.T) {
	muteLogs(t)
	s := NewServer(Options{Source: staticSource{snap: redLightSnapshot(t)}})

	w := get(t, s.ServeMux(), "/api/associations")
	require.Equal(t, http.StatusOK, w.Code)

	var got []struct {
		StopLine  int                 `json:"stop_line"`
		PathIndex int                 `json:"path_index"`
		LastColor stopline.LightColor `json:"last_color"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].StopLine)
	assert.Equal(t, 4, got[0].PathIndex)
	assert.Equal(t, stopline.Red, got[0].LastColor)

	empty := NewServer(Options{Source: staticSource{}})
	w = get(t, empty.ServeMux(), "/api/associations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestShowSnapshot(t *testing.T) {
	muteLogs(t)
	s := NewServer(Options{Source: staticSource{snap: redLightSnapshot(t)}})

	w := get(t, s.ServeMux(), "/api/snapshot")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 10, got["path_len"])
	assert.EqualValues(t, 3, got["frames"])
	assert.NotContains(t, got, "path")
	assert.Contains(t, got, "pose")
}

func TestListSignals(t *testing.T) {
	muteLogs(t)
	d, runID := newTestDB(t)
	rec := db.NewRecorder(d, runID)
	base := time.Unix(1000, 0)
	rec.Publish(stopline.Signal{Tick: 1, Time: base, StopIndex: stopline.NoStop, LightIndex: 4, RawColor: stopline.Red})
	rec.Publish(stopline.Signal{Tick: 3, Time: base.Add(time.Second), StopIndex: 4, LightIndex: 4, RawColor: stopline.Red, ConfirmedColor: stopline.Red, Confirmed: true})

	other := &db.Run{Source: "other"}
	require.NoError(t, d.StartRun(context.Background(), other))
	require.NoError(t, d.RecordSignal(context.Background(), other.ID, stopline.Signal{Tick: 9, Time: base, StopIndex: stopline.NoStop}))

	s := NewServer(Options{Source: staticSource{}, DB: d, RunID: runID})

	w := get(t, s.ServeMux(), "/api/signals")
	require.Equal(t, http.StatusOK, w.Code)
	var got []db.SignalRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Tick)
	assert.Equal(t, 4, got[0].StopIndex)

	w = get(t, s.ServeMux(), "/api/signals?limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	w = get(t, s.ServeMux(), "/api/signals?run=all")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 3)

	w = get(t, s.ServeMux(), "/api/signals?run="+other.ID)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(9), got[0].Tick)

	w = get(t, s.ServeMux(), "/api/signals?run=missing")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, bad := range []string{"0", "-3", "abc"} {
		w = get(t, s.ServeMux(), "/api/signals?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestListRuns(t *testing.T) {
	d, runID := newTestDB(t)
	s := NewServer(Options{DB: d, RunID: runID})

	w := get(t, s.ServeMux(), "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []db.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "test", runs[0].Source)
}

func TestNoDatabase(t *testing.T) {
	s := NewServer(Options{Source: staticSource{}})
	for _, path := range []string{"/api/signals", "/api/runs", "/api/chart"} {
		w := get(t, s.ServeMux(), path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestShowConfig(t *testing.T) {
	threshold := 5
	s := NewServer(Options{
		RunID:  "run-1",
		Config: &config.Config{StateCountThreshold: &threshold, StopLinePositions: [][2]float64{{1, 2}}},
	})

	w := get(t, s.ServeMux(), "/api/config")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.EqualValues(t, 5, got["state_count_threshold"])
	assert.EqualValues(t, 0.01, got["light_key_tolerance"])
	assert.EqualValues(t, 6200, got["udp_event_port"])
	assert.Len(t, got["stop_lines"], 1)
}

func TestShowChart(t *testing.T) {
	muteLogs(t)
	d, runID := newTestDB(t)
	rec := db.NewRecorder(d, runID)
	rec.Publish(stopline.Signal{Tick: 1, StopIndex: stopline.NoStop, LightIndex: 4, RawColor: stopline.Red})
	rec.Publish(stopline.Signal{Tick: 3, StopIndex: 4, LightIndex: 4, RawColor: stopline.Red, ConfirmedColor: stopline.Red, Confirmed: true})

	s := NewServer(Options{DB: d, RunID: runID})
	w := get(t, s.ServeMux(), "/api/chart")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "stop index")
	assert.Contains(t, body, "light index")
	assert.Contains(t, body, "echarts")
}

func TestStopIndexChartOrder(t *testing.T) {
	records := []db.SignalRecord{
		{Tick: 1, StopIndex: -1, LightIndex: 4},
		{Tick: 3, StopIndex: 4, LightIndex: 4},
	}
	line := stopIndexChart("", records)
	require.Len(t, line.MultiSeries, 2)
	assert.Equal(t, "stop index", line.MultiSeries[0].Name)
	assert.Len(t, line.MultiSeries[0].Data, 2)
}

func TestShowPathPlot(t *testing.T) {
	muteLogs(t)
	s := NewServer(Options{Source: staticSource{snap: redLightSnapshot(t)}})

	w := get(t, s.ServeMux(), "/api/path.png?inches=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	cfg, err := png.DecodeConfig(w.Body)
	require.NoError(t, err)
	assert.Greater(t, cfg.Width, 0)

	for _, bad := range []string{"0", "abc", "100"} {
		w = get(t, s.ServeMux(), "/api/path.png?inches="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestSendCommand(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	s := NewServer(Options{Mux: serialmux.NewSerialMux(port)})

	form := url.Values{"command": {"reset"}}
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Command sent successfully", w.Body.String())
	assert.Equal(t, "reset\n", string(port.GetWrittenData()))

	req = httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendCommandFailures(t *testing.T) {
	noMux := NewServer(Options{})
	w := httptest.NewRecorder()
	noMux.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/command?command=x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	port := serialmux.NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	s := NewServer(Options{Mux: serialmux.NewSerialMux(port)})
	w = httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/command?command=x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?y=1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "101", statusCodeColor(101))
}
