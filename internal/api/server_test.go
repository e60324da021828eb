package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/visibility.report/internal/db"
	"github.com/banshee-data/visibility.report/internal/interferometer/pipeline"
	sqlite "github.com/banshee-data/visibility.report/internal/interferometer/storage/sqlite"
	"github.com/banshee-data/visibility.report/internal/testutil"
)

type fixture struct {
	server  *Server
	mux     http.Handler
	capture *sqlite.Capture
	run     *sqlite.Run
}

func setupTestServer(t *testing.T) *fixture {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx := context.Background()
	c := &sqlite.Capture{Label: "roof", Channels: 2, Bins: 3}
	testutil.AssertNoError(t, sqlite.NewCaptureStore(d.DB).Create(ctx, c))
	testutil.AssertNoError(t, sqlite.NewPacketStore(d.DB).Append(ctx, c.CaptureID, testutil.OrderedStream(2, 3, 4, 1)))

	s := NewServer(d)
	run, _, err := s.manager.Execute(ctx, c.CaptureID, pipeline.Config{Channels: 2, Bins: 3, Depth: 2}, nil)
	testutil.AssertNoError(t, err)

	return &fixture{server: s, mux: s.ServeMux(), capture: c, run: run}
}

func (f *fixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewTestRequest(method, path)
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:12345"
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestListCaptures(t *testing.T) {
	f := setupTestServer(t)
	w := f.do(t, http.MethodGet, "/api/captures", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got []sqlite.Capture
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].CaptureID != f.capture.CaptureID {
		t.Errorf("captures = %+v", got)
	}
}

func TestShowCapture_NotFound(t *testing.T) {
	f := setupTestServer(t)
	w := f.do(t, http.MethodGet, "/api/captures/nope", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestListRunsAndShowRun(t *testing.T) {
	f := setupTestServer(t)

	w := f.do(t, http.MethodGet, "/api/captures/"+f.capture.CaptureID+"/runs", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var runs []sqlite.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != sqlite.RunStatusCompleted {
		t.Fatalf("runs = %+v", runs)
	}

	w = f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID, "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), `"accumulations":"2"`) {
		t.Errorf("run body missing accumulations attribute: %s", w.Body.String())
	}
}

func TestListRecords(t *testing.T) {
	f := setupTestServer(t)

	w := f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID+"/records", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var recs []recordJSON
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[1].Index != 1 || recs[1].StartSequenceIndex != 2 || recs[1].Depth != 2 {
		t.Errorf("record 1 = %+v", recs[1])
	}
	if recs[0].Products != nil {
		t.Error("products included without products=true")
	}

	w = f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID+"/records?from=1&products=true", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	recs = nil
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || len(recs[0].Products) != 3 {
		t.Fatalf("records = %+v", recs)
	}

	w = f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID+"/records?limit=x", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = f.do(t, http.MethodGet, "/api/runs/missing/records", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestShowRecord(t *testing.T) {
	f := setupTestServer(t)
	w := f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID+"/records/0", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var rec recordJSON
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Channel a is filled with a+1 in both re and im: V(1,0) = (2+2i)(1-1i) = 4.
	// Two frames per record.
	cross := rec.Products[1]
	if cross.Pair != "1×0*" || cross.Values[0] != [2]float64{8, 0} {
		t.Errorf("cross product = %+v", cross)
	}
	auto := rec.Products[2]
	if auto.Values[0] != [2]float64{16, 0} {
		t.Errorf("auto product 1 = %+v, want |2+2i|²·2 = 16", auto)
	}

	w = f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID+"/records/9", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	w = f.do(t, http.MethodGet, "/api/runs/"+f.run.RunID+"/records/-1", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestStartRun(t *testing.T) {
	f := setupTestServer(t)
	path := "/api/captures/" + f.capture.CaptureID + "/runs"

	w := f.do(t, http.MethodPost, path, `{"accumulation_depth": 1, "partial_cycle": "emit"}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	var resp struct {
		Run     sqlite.Run       `json:"run"`
		Summary pipeline.Summary `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.RecordsWritten != 4 || resp.Run.Status != sqlite.RunStatusCompleted {
		t.Errorf("response = %+v", resp)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"accumulation_depth": `, http.StatusBadRequest},
		{"unknown field", `{"depth": 2}`, http.StatusBadRequest},
		{"invalid value", `{"accumulation_depth": 0}`, http.StatusBadRequest},
		{"geometry mismatch", `{"channels": 3}`, http.StatusBadRequest},
		{"gains file", `{"gains_file": "/etc/passwd"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, path, tt.body)
			testutil.AssertStatusCode(t, w.Code, tt.want)
		})
	}

	w = f.do(t, http.MethodPost, "/api/captures/missing/runs", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestSpectrumChart(t *testing.T) {
	f := setupTestServer(t)
	base := "/charts/runs/" + f.run.RunID + "/records/0"

	w := f.do(t, http.MethodGet, base, "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Amplitude") {
		t.Error("chart page missing amplitude chart")
	}

	w = f.do(t, http.MethodGet, base+"?pairs=cross", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	w = f.do(t, http.MethodGet, base+"?pairs=bogus", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestAdminRoutesMounted(t *testing.T) {
	f := setupTestServer(t)
	w := f.do(t, http.MethodGet, "/debug/db-stats", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}

func TestVersion(t *testing.T) {
	f := setupTestServer(t)
	w := f.do(t, http.MethodGet, "/api/version", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), `"version"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestChannelsFor(t *testing.T) {
	for c := 1; c <= 16; c++ {
		if got := channelsFor(c * (c + 1) / 2); got != c {
			t.Errorf("channelsFor(%d) = %d, want %d", c*(c+1)/2, got, c)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/x"))
	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)
	if got := statusCodeColor(http.StatusTeapot); !strings.Contains(got, "418") {
		t.Errorf("statusCodeColor = %q", got)
	}
}
