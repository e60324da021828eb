package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/visibility.report/internal/config"
	"github.com/banshee-data/visibility.report/internal/db"
	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
	"github.com/banshee-data/visibility.report/internal/interferometer/runner"
	sqlite "github.com/banshee-data/visibility.report/internal/interferometer/storage/sqlite"
	"github.com/banshee-data/visibility.report/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// maxRecordPage bounds the records returned by one list request.
const maxRecordPage = 500

// Server exposes captures, correlation runs and their records over HTTP.
type Server struct {
	db       *db.DB
	captures *sqlite.CaptureStore
	runs     *sqlite.RunStore
	records  *sqlite.RecordStore
	manager  *runner.Manager
}

// NewServer creates a Server backed by d.
func NewServer(d *db.DB) *Server {
	return &Server{
		db:       d,
		captures: sqlite.NewCaptureStore(d.DB),
		runs:     sqlite.NewRunStore(d.DB),
		records:  sqlite.NewRecordStore(d.DB),
		manager:  runner.NewManager(d.DB, 0),
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

// ServeMux returns the API routes together with the database admin routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/captures", s.listCaptures)
	mux.HandleFunc("GET /api/captures/{capture}", s.showCapture)
	mux.HandleFunc("GET /api/captures/{capture}/runs", s.listRuns)
	mux.HandleFunc("POST /api/captures/{capture}/runs", s.startRun)
	mux.HandleFunc("GET /api/runs/{run}", s.showRun)
	mux.HandleFunc("GET /api/runs/{run}/records", s.listRecords)
	mux.HandleFunc("GET /api/runs/{run}/records/{index}", s.showRecord)
	mux.HandleFunc("GET /charts/runs/{run}/records/{index}", s.handleSpectrumChart)
	s.db.AttachAdminRoutes(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	captures, err := s.captures.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if captures == nil {
		captures = []*sqlite.Capture{}
	}
	writeJSON(w, http.StatusOK, captures)
}

func (s *Server) showCapture(w http.ResponseWriter, r *http.Request) {
	c, err := s.captures.Get(r.Context(), r.PathValue("capture"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListByCapture(r.Context(), r.PathValue("capture"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []*sqlite.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// startRun correlates a capture synchronously. The optional body is a
// correlator config; geometry defaults to the capture's own.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	captureID := r.PathValue("capture")
	c, err := s.captures.Get(r.Context(), captureID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	cfg := &config.CorrelatorConfig{}
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid config: %v", err))
			return
		}
	}
	if cfg.Channels == nil {
		cfg.Channels = &c.Channels
	}
	if cfg.Bins == nil {
		cfg.Bins = &c.Bins
	}
	if cfg.GainsFile != nil {
		writeJSONError(w, http.StatusBadRequest, "gains_file is not accepted over HTTP")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, sum, err := s.manager.Execute(context.WithoutCancel(r.Context()), captureID, cfg.PipelineConfig(nil), cfg)
	switch {
	case errors.Is(err, runner.ErrRunActive):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrGeometryMismatch):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case run == nil && err != nil:
		writeStoreError(w, err)
	default:
		status := http.StatusCreated
		if err != nil {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{"run": run, "summary": sum})
	}
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("run"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// recordJSON is the wire form of a record. Complex values are [re, im]
// pairs; products are only included when asked for.
type recordJSON struct {
	Index              int           `json:"index"`
	StartSequenceIndex int64         `json:"start_sequence_index"`
	StartTimestamp     string        `json:"start_timestamp"`
	Depth              int           `json:"depth"`
	Partial            bool          `json:"partial"`
	FrameNumbers       []uint32      `json:"frame_numbers"`
	SequenceIndices    []int64       `json:"sequence_indices"`
	Products           []productJSON `json:"products,omitempty"`
}

type productJSON struct {
	Pair   string       `json:"pair"`
	I      int          `json:"i"`
	J      int          `json:"j"`
	Values [][2]float64 `json:"values"`
}

func toRecordJSON(index int, rec *l4accumulate.Record, withProducts bool) recordJSON {
	out := recordJSON{
		Index:              index,
		StartSequenceIndex: rec.StartSequenceIndex,
		StartTimestamp:     rec.StartTimestamp,
		Depth:              rec.Depth(),
		Partial:            rec.Partial,
		FrameNumbers:       rec.FrameNumbers,
		SequenceIndices:    rec.SequenceIndices,
	}
	if !withProducts {
		return out
	}
	channels := channelsFor(rec.Products.Products())
	for k, pair := range l3correlate.Pairs(channels) {
		values := make([][2]float64, len(rec.Products[k]))
		for b, v := range rec.Products[k] {
			values[b] = [2]float64{real(v), imag(v)}
		}
		out.Products = append(out.Products, productJSON{Pair: pair.String(), I: pair.I, J: pair.J, Values: values})
	}
	return out
}

// channelsFor inverts NumProducts.
func channelsFor(products int) int {
	c := int((math.Sqrt(float64(8*products+1)) - 1) / 2)
	for l3correlate.NumProducts(c) < products {
		c++
	}
	return c
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return n, nil
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run")
	from, err := intParam(r, "from", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxRecordPage {
		limit = maxRecordPage
	}
	if _, err := s.runs.Get(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}

	recs, err := s.records.List(r.Context(), runID, from, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	withProducts := r.URL.Query().Get("products") == "true"
	out := make([]recordJSON, len(recs))
	for i, rec := range recs {
		out[i] = toRecordJSON(from+i, rec, withProducts)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recordFromPath(w http.ResponseWriter, r *http.Request) (int, *l4accumulate.Record, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid record index")
		return 0, nil, false
	}
	rec, err := s.records.Get(r.Context(), r.PathValue("run"), index)
	if err != nil {
		writeStoreError(w, err)
		return 0, nil, false
	}
	return index, rec, true
}

func (s *Server) showRecord(w http.ResponseWriter, r *http.Request) {
	index, rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(index, rec, true))
}

// amplitude returns |v| for every bin.
func amplitude(values []complex128) []float64 {
	out := make([]float64, len(values))
	for b, v := range values {
		out[b] = cmplx.Abs(v)
	}
	return out
}
