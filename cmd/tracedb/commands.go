package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/condition"
	"github.com/dd0wney/cluso-tracedb/pkg/config"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/eventgen"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/tracedb"
)

// ConfigFile is the name of the config written by init.
const ConfigFile = "tracedb.yaml"

// dbFlags are shared by every command that opens a database.
type dbFlags struct {
	config *string
	data   *string
}

func addDBFlags(fs *flag.FlagSet) dbFlags {
	return dbFlags{
		config: fs.String("config", "", "Config file (default: <data>/"+ConfigFile+" when present)"),
		data:   fs.String("data", "./data", "Data directory"),
	}
}

// load resolves the configuration: an explicit file, the file inside the
// data directory, or the defaults.
func (f dbFlags) load() (config.Config, error) {
	path := *f.config
	if path == "" {
		candidate := filepath.Join(*f.data, ConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path == "" {
		cfg := config.Default()
		cfg.DataDir = *f.data
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newLogger(cfg config.Config) logging.Logger {
	return logging.NewJSONLogger(os.Stderr, cfg.Level())
}

func open(f dbFlags, m *metrics.Registry) (*tracedb.DB, config.Config, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, cfg, err
	}
	opts := []tracedb.Option{tracedb.WithLogger(newLogger(cfg))}
	if m != nil {
		opts = append(opts, tracedb.WithMetrics(m))
	}
	db, err := tracedb.Open(cfg, opts...)
	return db, cfg, err
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	data := fs.String("data", "./data", "Data directory")
	pageSize := fs.Int("page-size", 4096, "Page size in bytes (power of two)")
	fanout := fs.Int("fanout", 0, "Maximum tuples per index page (0 fills pages)")
	window := fs.Int("reorder-window", 0, "Events held back to restore timestamp order")
	fs.Parse(args)

	cfg := config.Default()
	cfg.DataDir = *data
	cfg.PageSize = *pageSize
	cfg.IndexFanout = *fanout
	cfg.ReorderWindow = *window
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := filepath.Join(*data, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	db, err := tracedb.Open(cfg, tracedb.WithLogger(newLogger(cfg)))
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("✓ Database created in %s\n", *data)
	fmt.Printf("  Config: %s\n", path)
	return nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	df := addDBFlags(fs)
	n := fs.Int("n", 100000, "Number of events")
	seed := fs.Int64("seed", time.Now().UnixNano(), "Random seed")
	threads := fs.Int("threads", eventgen.DefaultRanges.Threads, "Number of distinct threads")
	objects := fs.Int("objects", 0, "Number of object states to store")
	classes := fs.Int("classes", 20, "Number of classes for generated objects")
	fs.Parse(args)

	db, _, err := open(df, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	ranges := eventgen.DefaultRanges
	ranges.Threads = *threads
	g := eventgen.New(*seed, ranges)
	if err := g.RegisterProbes(db.Probes()); err != nil {
		return err
	}

	// Continue after whatever the database already holds.
	offset := db.Stats().LastTimestamp
	start := time.Now()
	for i := 0; i < *n; i++ {
		rec := g.Next()
		rec.Timestamp += offset
		rec.ParentTimestamp += offset
		if err := db.Push(rec); err != nil {
			return err
		}
	}
	if *objects > 0 {
		if err := generateObjects(db, g, *objects, *classes, offset); err != nil {
			return err
		}
	}
	if err := db.FlushBuffer(); err != nil {
		return err
	}
	if err := db.Flush(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	st := db.Stats()
	fmt.Printf("✓ Appended %d events in %s (%.0f events/s)\n", *n, elapsed.Round(time.Millisecond), float64(*n)/elapsed.Seconds())
	fmt.Printf("  Total: %d events, %d pages, %d indexes\n", st.Events, st.Pages, st.Indexes)
	if *objects > 0 {
		fmt.Printf("  Objects: %d states, %d classes\n", st.Objects.States, st.Objects.Classes)
	}
	return nil
}

// generateObjects stores n object states with their class references,
// after the objects the database already holds.
func generateObjects(db *tracedb.DB, g *eventgen.Generator, n, classes int, ts uint64) error {
	if classes < 1 {
		classes = 1
	}
	for _, c := range g.Classes(classes) {
		if err := db.RegisterClass(c); err != nil {
			return err
		}
	}
	base, _ := db.LastObjectID()
	for i := 1; i <= n; i++ {
		id := base + uint64(i)
		if err := db.StoreObject(id, g.ObjectState(), ts); err != nil {
			return err
		}
		if err := db.RegisterObjectRef(id, ts, id%uint64(classes)+1); err != nil {
			return err
		}
	}
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	df := addDBFlags(fs)
	expr := fs.String("cond", "", "Condition, e.g. \"and(thread=1, field=4)\"")
	seek := fs.Uint64("seek", 0, "Start at the first event with timestamp >= seek")
	limit := fs.Int("limit", 20, "Maximum number of events to print")
	backward := fs.Bool("backward", false, "Walk back from the seek position")
	fs.Parse(args)

	c, err := parseCondition(*expr)
	if err != nil {
		return err
	}
	db, _, err := open(df, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Evaluate(c, *seek)
	if err != nil {
		return err
	}
	out := collectWindow(res, *limit, *backward)
	res.Close()
	if err := res.Err(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTHREAD\tDEPTH\tKIND\tEVENT")
	for _, rec := range out {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", rec.Timestamp, rec.Thread, rec.Depth, rec.Kind(), rec)
	}
	w.Flush()
	fmt.Printf("\n%d events shown (%d index tuples read)\n", len(out), res.Scanned())
	return nil
}

func runCount(args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	df := addDBFlags(fs)
	expr := fs.String("cond", "", "Condition")
	from := fs.Uint64("from", 0, "Range start (inclusive)")
	to := fs.Uint64("to", 0, "Range end (exclusive, default: after the last event)")
	buckets := fs.Int("buckets", 10, "Number of buckets")
	fs.Parse(args)

	c, err := parseCondition(*expr)
	if err != nil {
		return err
	}
	db, _, err := open(df, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	end := *to
	if end == 0 {
		end = db.Stats().LastTimestamp + 1
	}
	counts, err := db.CountInRange(c, *from, end, *buckets)
	if err != nil {
		return err
	}
	var peak uint64
	for _, n := range counts {
		peak = max(peak, n)
	}
	width := float64(end-*from) / float64(len(counts))
	for i, n := range counts {
		bar := 0
		if peak > 0 {
			bar = int(40 * n / peak)
		}
		fmt.Printf("%12d  %8d  %s\n", *from+uint64(float64(i)*width), n, strings.Repeat("█", bar))
	}
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	df := addDBFlags(fs)
	readOnly := fs.Bool("read-only", false, "Open the page file read-only through mmap")
	fs.Parse(args)

	var (
		db  *tracedb.DB
		err error
	)
	if *readOnly {
		db, err = tracedb.OpenReadOnly(*df.data)
	} else {
		db, _, err = open(df, nil)
	}
	if err != nil {
		return err
	}
	defer db.Close()
	printStats(db.Stats())
	return nil
}

func printStats(st tracedb.Stats) {
	fmt.Println("=== Database Statistics ===")
	fmt.Printf("Events:         %d\n", st.Events)
	fmt.Printf("Last timestamp: %d\n", st.LastTimestamp)
	fmt.Printf("Pages:          %d x %d bytes\n", st.Pages, st.PageSize)
	fmt.Printf("Avg event size: %.1f bits\n", st.AvgEventBits)
	fmt.Printf("Indexes:        %d (%d tuples)\n", st.Indexes, st.Tuples)
	fmt.Printf("Probes:         %d\n", st.Probes)
	if o := st.Objects; o.States > 0 || o.Classes > 0 {
		fmt.Printf("Objects:        %d states, %d refs, %d classes (%d -> %d bytes)\n",
			o.States, o.Refs, o.Classes, o.StoredBytes, o.EncodedBytes)
	}
	if len(st.Dimensions) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIMENSION\tINDEXES\tTUPLES")
	for _, d := range st.Dimensions {
		fmt.Fprintf(w, "%s\t%d\t%d\n", d.Dimension, d.Indexes, d.Tuples)
	}
	w.Flush()
}

// collectWindow takes up to n events from it and returns them in timestamp
// order.
func collectWindow(it bidi.Iterator[*event.Record], n int, backward bool) []*event.Record {
	var out []*event.Record
	for len(out) < n {
		var (
			rec *event.Record
			ok  bool
		)
		if backward {
			rec, ok = it.Previous()
		} else {
			rec, ok = it.Next()
		}
		if !ok {
			break
		}
		out = append(out, rec)
	}
	if backward {
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	}
	return out
}

var errNoCondition = errors.New("no condition given, use -cond")

func parseCondition(expr string) (condition.Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errNoCondition
	}
	return condition.Parse(expr)
}
