package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/health"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/tracedb"
)

type server struct {
	db      *tracedb.DB
	metrics *metrics.Registry
	logger  logging.Logger
	started time.Time
}

// eventView is the JSON form of one query result.
type eventView struct {
	Timestamp uint64 `json:"timestamp"`
	Thread    uint16 `json:"thread"`
	Depth     uint16 `json:"depth"`
	Kind      string `json:"kind"`
	Event     string `json:"event"`
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	df := addDBFlags(fs)
	addr := fs.String("addr", "", "Listen address (default: metrics.listen_addr from the config)")
	readOnly := fs.Bool("read-only", false, "Open the page file read-only through mmap")
	fs.Parse(args)

	m := metrics.NewRegistry()
	cfg, err := df.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).With(logging.Component("serve"))

	var db *tracedb.DB
	if *readOnly {
		db, err = tracedb.OpenReadOnly(*df.data, tracedb.WithLogger(logger), tracedb.WithMetrics(m))
	} else {
		db, _, err = open(df, m)
	}
	if err != nil {
		return err
	}
	defer db.Close()

	listen := *addr
	if listen == "" {
		listen = cfg.Metrics.ListenAddr
	}
	s := &server{db: db, metrics: m, logger: logger, started: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/object", s.handleObject)
	hc := s.healthChecker(cfg.ReorderWindow)
	mux.HandleFunc("/health", hc.Handler())
	mux.HandleFunc("/health/ready", hc.ReadinessHandler())
	mux.HandleFunc("/health/live", hc.LivenessHandler())
	httpServer := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go s.refreshSystemMetrics(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", logging.String("addr", listen), logging.Bool("read_only", db.ReadOnly()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", logging.Error(err))
		}
	}
	return nil
}

func (s *server) healthChecker(window int) *health.Checker {
	hc := health.NewChecker()
	ping := health.DatabaseCheck(s.db.Ping)
	hc.Register("database", ping)
	hc.RegisterReadiness("database", ping)
	hc.RegisterLiveness("database", ping)
	hc.Register("ingest", health.IngestCheck(func() health.IngestState {
		st := s.db.Stats()
		return health.IngestState{Buffered: st.Buffered, Window: window, OutOfOrder: st.OutOfOrder, Dropped: st.Dropped}
	}))
	hc.Register("page_capacity", health.PageCapacityCheck(func() uint32 { return s.db.Stats().Pages }))
	hc.Register("memory", health.MemoryCheck(func() (uint64, uint64) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ms.HeapAlloc, ms.Sys
	}))
	return hc
}

func (s *server) refreshSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		s.metrics.UpdateSystem(s.started)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	st := s.db.Stats()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"events":         st.Events,
		"pages":          st.Pages,
		"page_size":      st.PageSize,
		"avg_event_bits": st.AvgEventBits,
		"indexes":        st.Indexes,
		"tuples":         st.Tuples,
		"probes":         st.Probes,
		"buffered":       st.Buffered,
		"out_of_order":   st.OutOfOrder,
		"dropped":        st.Dropped,
		"last_timestamp": st.LastTimestamp,
		"objects":        st.Objects.States,
		"object_refs":    st.Objects.Refs,
		"classes":        st.Objects.Classes,
		"uptime":         st.Uptime.String(),
	})
}

// handleObject serves GET /object?id=... with the latest stored state of
// an object and its class, when known.
func (s *server) handleObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	data, ok, err := s.db.LoadObject(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "object not found")
		return
	}
	body := map[string]any{"id": id, "state": data}
	if c, ok := s.db.ObjectClass(id); ok {
		body["class"] = c.Name
		body["array"] = c.IsArray()
	}
	s.respondJSON(w, http.StatusOK, body)
}

// handleQuery serves GET /query?cond=...&seek=...&limit=...&backward=true.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()
	c, err := parseCondition(q.Get("cond"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	seek, limit := uint64(0), 50
	if v := q.Get("seek"); v != "" {
		if seek, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid seek")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 10000 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	res, err := s.db.Evaluate(c, seek)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs := collectWindow(res, limit, q.Get("backward") == "true")
	res.Close()
	if err := res.Err(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"condition": c.String(),
		"events":    views(recs),
		"scanned":   res.Scanned(),
	})
}

func views(recs []*event.Record) []eventView {
	out := make([]eventView, len(recs))
	for i, rec := range recs {
		out[i] = eventView{
			Timestamp: rec.Timestamp,
			Thread:    rec.Thread,
			Depth:     rec.Depth,
			Kind:      rec.Kind().String(),
			Event:     rec.String(),
		}
	}
	return out
}
