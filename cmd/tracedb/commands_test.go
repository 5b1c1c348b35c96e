package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/config"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
	"github.com/dd0wney/cluso-tracedb/pkg/tracedb"
)

func records(ts ...uint64) []*event.Record {
	out := make([]*event.Record, len(ts))
	for i, t := range ts {
		out[i] = &event.Record{Timestamp: t, Thread: uint16(i % 2), Payload: &event.LocalWrite{Variable: 1}}
	}
	return out
}

func TestCollectWindow(t *testing.T) {
	recs := records(1, 2, 3, 4, 5)

	got := collectWindow(bidi.FromSlice(recs), 3, false)
	if len(got) != 3 || got[0].Timestamp != 1 || got[2].Timestamp != 3 {
		t.Fatalf("forward window = %v", got)
	}

	got = collectWindow(bidi.FromSliceAt(recs, 4), 3, true)
	if len(got) != 3 || got[0].Timestamp != 2 || got[2].Timestamp != 4 {
		t.Fatalf("backward window = %v", got)
	}
}

func TestParseCondition_Empty(t *testing.T) {
	if _, err := parseCondition("  "); err != errNoCondition {
		t.Fatalf("err = %v, want errNoCondition", err)
	}
}

func testServer(t *testing.T) *server {
	t.Helper()
	m := metrics.NewRegistry()
	db, err := tracedb.Open(config.Memory(), tracedb.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	for _, rec := range records(10, 20, 30, 40) {
		if _, err := db.Append(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RegisterClass(objectstore.Class{ID: 3, Name: "[J"}); err != nil {
		t.Fatal(err)
	}
	if err := db.StoreObject(7, []byte{1, 2, 3}, 20); err != nil {
		t.Fatal(err)
	}
	if err := db.RegisterObjectRef(7, 20, 3); err != nil {
		t.Fatal(err)
	}
	return &server{db: db, metrics: m, logger: logging.NewNopLogger()}
}

func TestHandleQuery(t *testing.T) {
	s := testServer(t)

	rr := httptest.NewRecorder()
	s.handleQuery(rr, httptest.NewRequest(http.MethodGet, "/query?cond=thread=1&limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}
	var body struct {
		Events []eventView `json:"events"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 2 || body.Events[0].Timestamp != 20 || body.Events[1].Timestamp != 40 {
		t.Errorf("events = %+v", body.Events)
	}

	for _, target := range []string{"/query", "/query?cond=nope=1", "/query?cond=thread=1&limit=0"} {
		rr := httptest.NewRecorder()
		s.handleQuery(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rr.Code)
		}
	}
}

func TestHandleStats(t *testing.T) {
	s := testServer(t)
	rr := httptest.NewRecorder()
	s.handleStats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["events"] != float64(4) {
		t.Errorf("events = %v, want 4", body["events"])
	}

	rr = httptest.NewRecorder()
	s.handleStats(rr, httptest.NewRequest(http.MethodPost, "/stats", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rr.Code)
	}
}

func TestHandleObject(t *testing.T) {
	s := testServer(t)

	rr := httptest.NewRecorder()
	s.handleObject(rr, httptest.NewRequest(http.MethodGet, "/object?id=7", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body)
	}
	var body struct {
		ID    uint64 `json:"id"`
		State []byte `json:"state"`
		Class string `json:"class"`
		Array bool   `json:"array"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.ID != 7 || !bytes.Equal(body.State, []byte{1, 2, 3}) || body.Class != "[J" || !body.Array {
		t.Errorf("body = %+v", body)
	}

	for target, want := range map[string]int{
		"/object?id=8":   http.StatusNotFound,
		"/object?id=abc": http.StatusBadRequest,
		"/object":        http.StatusBadRequest,
	} {
		rr := httptest.NewRecorder()
		s.handleObject(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != want {
			t.Errorf("%s: status = %d, want %d", target, rr.Code, want)
		}
	}
}

func TestHealthChecker(t *testing.T) {
	s := testServer(t)
	hc := s.healthChecker(0)

	rr := httptest.NewRecorder()
	hc.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body %s", rr.Code, rr.Body)
	}

	s.db.Close()
	rr = httptest.NewRecorder()
	hc.LivenessHandler()(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("live status after close = %d, want 503", rr.Code)
	}
}
