package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/stopline/internal/config"
	"github.com/banshee-data/stopline/internal/db"
	"github.com/banshee-data/stopline/internal/httputil"
	"github.com/banshee-data/stopline/internal/pathplot"
	"github.com/banshee-data/stopline/internal/serialmux"
	"github.com/banshee-data/stopline/internal/stopline"
	"gonum.org/v1/plot/vg"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// snapshotTimeout bounds how long a handler waits for the loop goroutine.
const snapshotTimeout = 2 * time.Second

// SnapshotSource yields a consistent copy of the loop state.
// *stopline.Dispatcher implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (stopline.Snapshot, error)
}

// Options holds the collaborators of a Server. Only Source is required.
type Options struct {
	Source SnapshotSource
	DB     *db.DB
	RunID  string
	Mux    serialmux.SerialMuxInterface
	Config *config.Config
}

type Server struct {
	source SnapshotSource
	db     *db.DB
	runID  string
	m      serialmux.SerialMuxInterface
	cfg    *config.Config
}

func NewServer(o Options) *Server {
	cfg := o.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Server{
		source: o.Source,
		db:     o.DB,
		runID:  o.RunID,
		m:      o.Mux,
		cfg:    cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/signal", s.showSignal)
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/associations", s.listAssociations)
	mux.HandleFunc("/api/signals", s.listSignals)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/path.png", s.showPathPlot)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.m == nil {
		http.Error(w, "No serial link", http.StatusServiceUnavailable)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing 'command'", http.StatusBadRequest)
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// snapshot fetches the loop state, writing an error response on failure.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (stopline.Snapshot, bool) {
	if s.source == nil {
		httputil.ServiceUnavailable(w, "Perception loop not running")
		return stopline.Snapshot{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		httputil.ServiceUnavailable(w, fmt.Sprintf("Failed to read loop state: %v", err))
		return stopline.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) showSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, snap.Signal)
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) listAssociations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	assocs := snap.Associations
	if assocs == nil {
		assocs = []stopline.Association{}
	}
	httputil.WriteJSONOK(w, assocs)
}

// limitParam parses the optional 'limit' query parameter, defaulting to
// the configured history limit.
func (s *Server) limitParam(r *http.Request) (int, error) {
	limit := s.cfg.GetHistoryLimit()
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return 0, fmt.Errorf("invalid 'limit' parameter")
		}
		limit = parsed
	}
	return limit, nil
}

// runParam returns the run to query: the current run unless 'run' is set.
// run=all selects every run.
func (s *Server) runParam(r *http.Request) string {
	switch run := r.URL.Query().Get("run"); run {
	case "":
		return s.runID
	case "all":
		return ""
	default:
		return run
	}
}

func (s *Server) listSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "No database configured")
		return
	}
	limit, err := s.limitParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.db.Signals(r.Context(), s.runParam(r), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve signals: %v", err))
		return
	}
	if records == nil {
		records = []db.SignalRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "No database configured")
		return
	}
	limit, err := s.limitParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	runs, err := s.db.Runs(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cfg := map[string]interface{}{
		"run_id":                s.runID,
		"stop_lines":            s.cfg.GetStopLines(),
		"state_count_threshold": s.cfg.GetStateCountThreshold(),
		"light_key_tolerance":   s.cfg.GetLightKeyTolerance(),
		"udp_event_port":        s.cfg.GetUDPEventPort(),
		"history_limit":         s.cfg.GetHistoryLimit(),
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) showPathPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	size := pathplot.DefaultSize
	if v := r.URL.Query().Get("inches"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 1 || parsed > 40 {
			httputil.BadRequest(w, "Invalid 'inches' parameter")
			return
		}
		size = pathplot.Size{Width: vg.Length(parsed) * vg.Inch, Height: vg.Length(parsed) * vg.Inch}
	}

	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := pathplot.WritePNG(&buf, snap, size); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}
