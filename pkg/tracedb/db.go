// Package tracedb is the database facade: it owns one page store shared by
// the event store and every attribute index, ingests events in timestamp
// order and answers condition queries.
package tracedb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-tracedb/pkg/condition"
	"github.com/dd0wney/cluso-tracedb/pkg/config"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/eventstore"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

// File names inside a data directory.
const (
	PagesFile   = "pages.db"
	CatalogFile = "catalog.bin"
)

// DB is a trace event database. Appends are serialized; queries may run
// concurrently with them and with each other.
type DB struct {
	writeMu sync.Mutex
	closed  atomic.Bool
	failure atomic.Pointer[DBError]

	cfg      config.Config
	readOnly bool
	id       uuid.UUID
	pages    pagestore.Store
	store    *eventstore.Store
	reg      *registry.Registry
	probes   *registry.ProbeTable
	engine   *condition.Engine
	objects  *objectstore.Store
	logger   logging.Logger
	metrics  *metrics.Registry
	started  time.Time

	// writer state, guarded by writeMu
	buffer     *reorderBuffer[*event.Record]
	lastKey    uint64
	hasLast    bool
	outOfOrder uint64
	dropped    uint64
	objBuffer  *reorderBuffer[objectState]
	refBuffer  *reorderBuffer[objectRef]
	objCount   objectCounters
}

// Open opens the database described by cfg. A file-backed database is
// created when its directory is empty and reattached to its catalog
// otherwise.
func Open(cfg config.Config, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &DBError{Op: "open", Cause: err}
	}
	o := buildOptions(opts)

	if cfg.InMemory {
		pages, err := pagestore.NewMemoryStore(cfg.PageSize)
		if err != nil {
			return nil, &DBError{Op: "open", Cause: err}
		}
		db, err := newDB(cfg, pages, uuid.New(), nil, o)
		if err != nil {
			return nil, err
		}
		db.logger.Info("database opened", logging.Bool("in_memory", true))
		return db, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, &DBError{Op: "open", Path: cfg.DataDir, Cause: err}
	}
	pages, err := pagestore.OpenFile(filepath.Join(cfg.DataDir, PagesFile), cfg.PageSize)
	if err != nil {
		return nil, &DBError{Op: "open", Path: cfg.DataDir, Cause: err}
	}
	cat, err := loadCatalog(cfg.DataDir, pages)
	if err != nil {
		_ = pages.Close()
		return nil, err
	}
	db, err := newDB(cfg, pages, pages.ID(), cat, o)
	if err != nil {
		_ = pages.Close()
		return nil, err
	}
	if cat == nil {
		// A fresh directory gets its catalog right away, so the page file
		// is never left without one.
		if err := db.writeCatalog(); err != nil {
			_ = pages.Close()
			return nil, err
		}
	}
	db.logger.Info("database opened",
		logging.Path(cfg.DataDir),
		logging.Count(db.store.Count()),
		logging.Int("page_size", pages.PageSize()))
	return db, nil
}

// OpenReadOnly maps the page file in dir and serves queries from it.
func OpenReadOnly(dir string, opts ...Option) (*DB, error) {
	o := buildOptions(opts)
	pages, err := pagestore.OpenMapped(filepath.Join(dir, PagesFile))
	if err != nil {
		return nil, &DBError{Op: "open read-only", Path: dir, Cause: err}
	}
	cat, err := loadCatalog(dir, pages)
	if err == nil && cat == nil {
		err = &DBError{Op: "open read-only", Path: dir, Cause: ErrMissingCatalog}
	}
	if err != nil {
		_ = pages.Close()
		return nil, err
	}

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.PageSize = pages.PageSize()
	cfg.ReorderWindow = 0
	db, err := newDB(cfg, pages, pages.ID(), cat, o)
	if err != nil {
		_ = pages.Close()
		return nil, err
	}
	db.readOnly = true
	db.logger.Info("database opened read-only", logging.Path(dir), logging.Count(db.store.Count()))
	return db, nil
}

// loadCatalog reads the catalog of dir and checks it against pages. A
// missing catalog is fine only while the page file is empty.
func loadCatalog(dir string, pages interface {
	pagestore.Store
	ID() uuid.UUID
}) (*catalog, error) {
	path := filepath.Join(dir, CatalogFile)
	cat, err := readCatalog(path)
	if errors.Is(err, os.ErrNotExist) {
		if pages.PageCount() > 0 {
			return nil, &DBError{Op: "open", Path: path, Cause: ErrMissingCatalog}
		}
		return nil, nil
	}
	if err != nil {
		return nil, &DBError{Op: "open", Path: path, Cause: err}
	}

	switch {
	case cat.PageFile != pages.ID():
		err = fmt.Errorf("%w: page file %s, catalog %s", ErrCatalogMismatch, pages.ID(), cat.PageFile)
	case cat.PageSize != pages.PageSize():
		err = fmt.Errorf("%w: page size %d, catalog %d", ErrCatalogMismatch, pages.PageSize(), cat.PageSize)
	case cat.PageCount > pages.PageCount():
		err = fmt.Errorf("%w: %d pages, catalog expects %d", ErrCatalogMismatch, pages.PageCount(), cat.PageCount)
	}
	if err != nil {
		return nil, &DBError{Op: "open", Path: path, Cause: err}
	}
	return cat, nil
}

func newDB(cfg config.Config, pages pagestore.Store, id uuid.UUID, cat *catalog, o options) (*DB, error) {
	logger := o.logger.With(logging.Component("tracedb"))

	fanout, objectParts, arrayParts := cfg.IndexFanout, cfg.ObjectIndexParts, cfg.ArrayIndexParts
	if cat != nil {
		// Existing indexes keep the layout they were built with.
		if cat.Fanout != fanout || !slices.Equal(cat.ObjectParts, objectParts) || !slices.Equal(cat.ArrayParts, arrayParts) {
			logger.Warn("configured index layout differs from the stored one, keeping the stored layout")
		}
		fanout, objectParts, arrayParts = cat.Fanout, cat.ObjectParts, cat.ArrayParts
	}

	reg, err := registry.New(pages, registry.Options{
		Fanout:      fanout,
		ObjectParts: objectParts,
		ArrayParts:  arrayParts,
		Logger:      logger,
		Metrics:     o.metrics,
	})
	if err != nil {
		return nil, &DBError{Op: "open", Cause: err}
	}
	cfg.IndexFanout = fanout
	cfg.ObjectIndexParts = reg.Parts(registry.DimObject)
	cfg.ArrayIndexParts = reg.Parts(registry.DimArrayIndex)

	objects, err := objectstore.New(pages, objectstore.Options{Fanout: fanout})
	if err != nil {
		return nil, &DBError{Op: "open", Cause: err}
	}

	store := eventstore.New(pages)
	db := &DB{
		cfg:       cfg,
		id:        id,
		pages:     pages,
		store:     store,
		reg:       reg,
		probes:    o.probes,
		logger:    logger,
		metrics:   o.metrics,
		started:   time.Now(),
		objects:   objects,
		buffer:    newReorderBuffer(cfg.ReorderWindow, timestampOf),
		objBuffer: newReorderBuffer(cfg.ReorderWindow, stateID),
		refBuffer: newReorderBuffer(cfg.ReorderWindow, refID),
		engine: condition.NewEngine(reg, store, o.probes, condition.Options{
			Logger:     logger,
			Metrics:    o.metrics,
			FastCounts: cfg.FastCounts,
		}),
	}
	if cat != nil {
		if err := db.restore(cat); err != nil {
			return nil, &DBError{Op: "open", Cause: err}
		}
	}
	db.updateGauges()
	return db, nil
}

func (db *DB) restore(cat *catalog) error {
	if err := db.store.Restore(cat.Store); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}
	if err := db.reg.Restore(cat.Registry); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}
	for _, p := range cat.Probes {
		if err := db.probes.Register(p.ID, p.Info); err != nil {
			return fmt.Errorf("%w: probe %d: %v", ErrCatalogCorrupt, p.ID, err)
		}
	}
	if err := db.objects.Restore(cat.Objects); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}
	db.lastKey, db.hasLast = cat.LastKey, cat.HasLast
	return nil
}

func (db *DB) snapshot() *catalog {
	return &catalog{
		PageFile:    db.id,
		PageSize:    db.pages.PageSize(),
		PageCount:   db.pages.PageCount(),
		Fanout:      db.cfg.IndexFanout,
		ObjectParts: db.cfg.ObjectIndexParts,
		ArrayParts:  db.cfg.ArrayIndexParts,
		LastKey:     db.lastKey,
		HasLast:     db.hasLast,
		Store:       db.store.State(),
		Registry:    db.reg.State(),
		Probes:      db.probes.All(),
		Objects:     db.objects.State(),
	}
}

func (db *DB) writeCatalog() error {
	path := filepath.Join(db.cfg.DataDir, CatalogFile)
	if err := writeCatalog(path, db.snapshot()); err != nil {
		return &DBError{Op: "write catalog", Path: path, Cause: err}
	}
	return nil
}

func (db *DB) checkWritable() error {
	if db.closed.Load() {
		return ErrClosed
	}
	if db.readOnly {
		return ErrReadOnly
	}
	if f := db.failure.Load(); f != nil {
		return fmt.Errorf("%w: %w", ErrFailed, f)
	}
	return nil
}

// Failure returns the error that put the database in the failed state, or
// nil. A failed database still answers queries but refuses writes, and
// does not overwrite its catalog on Close.
func (db *DB) Failure() error {
	if f := db.failure.Load(); f != nil {
		return f
	}
	return nil
}

// Append stores rec and indexes it. Timestamps must not decrease; a record
// that cannot be indexed is rejected before anything is written.
func (db *DB) Append(rec *event.Record) (eventstore.Pointer, error) {
	if rec == nil {
		return 0, ErrNilRecord
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return 0, err
	}
	ptr, err := db.appendLocked(rec)
	db.updateGauges()
	return ptr, err
}

func (db *DB) appendLocked(rec *event.Record) (eventstore.Pointer, error) {
	if f := db.failure.Load(); f != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailed, f)
	}
	if db.hasLast && rec.Timestamp < db.lastKey {
		return 0, &DBError{Op: "append", Timestamp: rec.Timestamp, Cause: ErrOutOfOrder}
	}
	attrs := registry.Attributes(rec, db.probes)
	if err := db.reg.Check(attrs); err != nil {
		return 0, &DBError{Op: "append", Timestamp: rec.Timestamp, Cause: err}
	}
	ptr, err := db.store.Append(rec)
	if err != nil {
		return 0, &DBError{Op: "append", Timestamp: rec.Timestamp, Cause: err}
	}
	db.lastKey, db.hasLast = rec.Timestamp, true

	tuples, err := db.reg.IndexAttributes(attrs, rec.Timestamp, uint64(ptr))
	if err != nil {
		// The record is stored but only partly indexed: stop writing so the
		// last catalog stays the consistent one.
		failure := &DBError{Op: "index", Timestamp: rec.Timestamp, Cause: err}
		db.failure.Store(failure)
		db.logger.Error("indexing failed, database is now read-only",
			logging.Pointer(ptr), logging.Timestamp(rec.Timestamp), logging.Error(err))
		return ptr, failure
	}
	if db.metrics != nil {
		db.metrics.RecordAppend(tuples)
	}
	if db.logger.Enabled(logging.DebugLevel) {
		db.logger.Debug("event appended",
			logging.Pointer(ptr),
			logging.Timestamp(rec.Timestamp),
			logging.String("kind", rec.Kind().String()))
	}
	return ptr, nil
}

// Push ingests rec through the reorder buffer. Up to ReorderWindow events
// are held back and released in timestamp order. An event older than one
// already released is dropped with ErrLateEvent.
func (db *DB) Push(rec *event.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}
	defer db.updateGauges()

	if db.hasLast && rec.Timestamp < db.lastKey {
		db.dropped++
		db.outOfOrder++
		if db.metrics != nil {
			db.metrics.RecordOutOfOrder()
		}
		db.logger.Warn("late event dropped", logging.Timestamp(rec.Timestamp), logging.Uint64("last", db.lastKey))
		return &DBError{Op: "push", Timestamp: rec.Timestamp, Cause: ErrLateEvent}
	}
	if db.buffer.add(rec) {
		db.outOfOrder++
		if db.metrics != nil {
			db.metrics.RecordOutOfOrder()
		}
	}
	for {
		next, ok := db.buffer.overflow()
		if !ok {
			return nil
		}
		if _, err := db.appendLocked(next); err != nil {
			return err
		}
	}
}

// FlushBuffer appends every buffered event and stores every buffered
// object state and reference.
func (db *DB) FlushBuffer() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}
	defer db.updateGauges()
	return db.flushBufferLocked()
}

func (db *DB) flushBufferLocked() error {
	var errs []error
	for _, rec := range db.buffer.drain() {
		if _, err := db.appendLocked(rec); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, db.flushObjectsLocked())
	return errors.Join(errs...)
}

// Flush makes appended events durable: dirty pages first, then the
// catalog that references them. Buffered events stay buffered.
func (db *DB) Flush() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.flushLocked()
}

func (db *DB) flushLocked() error {
	timer := logging.StartTimer(db.logger, "flush")
	if err := db.pages.Flush(); err != nil {
		timer.EndError(err)
		return &DBError{Op: "flush", Cause: err}
	}
	if !db.cfg.InMemory {
		if err := db.writeCatalog(); err != nil {
			timer.EndError(err)
			return err
		}
	}
	timer.End(logging.Uint64("pages", uint64(db.pages.PageCount())))
	return nil
}

// Clear drops every event, index, object and buffered item. Registered
// probes are kept. Results obtained from Evaluate before the clear stop with
// condition.ErrStaleResults; scans and tuple iterators opened before it
// must not be used afterwards, since their pages are reused.
func (db *DB) Clear() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}
	db.engine.Invalidate()
	db.buffer.reset()
	db.objBuffer.reset()
	db.refBuffer.reset()
	db.store.Reset()
	db.reg.Reset()
	db.objects.Reset()
	if err := db.pages.Clear(); err != nil {
		return &DBError{Op: "clear", Cause: err}
	}
	db.lastKey, db.hasLast = 0, false
	db.outOfOrder, db.dropped = 0, 0
	db.objCount = objectCounters{}
	db.updateGauges()
	db.logger.Info("database cleared")
	if db.cfg.InMemory {
		return nil
	}
	return db.writeCatalog()
}

// Close drains the reorder buffer, persists everything and releases the
// page store. Closing twice is a no-op.
func (db *DB) Close() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed.Swap(true) {
		return nil
	}
	var errs []error
	if !db.readOnly && db.failure.Load() == nil {
		errs = append(errs, db.flushBufferLocked())
		// a failure while draining leaves the previous catalog in place
		if db.failure.Load() == nil {
			errs = append(errs, db.flushLocked())
		}
	}
	errs = append(errs, db.pages.Close())
	err := errors.Join(errs...)
	if err != nil {
		db.logger.Error("close failed", logging.Error(err))
	} else {
		db.logger.Info("database closed", logging.Count(db.store.Count()))
	}
	return err
}

// Evaluate returns the events matching c, positioned before the first
// event with timestamp >= seek.
func (db *DB) Evaluate(c condition.Condition, seek uint64) (*condition.Results, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.engine.Evaluate(c, seek)
}

// CountInRange splits [t1, t2) into n buckets and counts the events
// matching c in each.
func (db *DB) CountInRange(c condition.Condition, t1, t2 uint64, n int) ([]uint64, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.engine.CountInRange(c, t1, t2, n)
}

// Match reports whether rec satisfies c, without using the indexes.
func (db *DB) Match(c condition.Condition, rec *event.Record) bool {
	return db.engine.Match(c, rec)
}

// Get loads the event stored at ptr.
func (db *DB) Get(ptr eventstore.Pointer) (*event.Record, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.store.Get(ptr)
}

// Scan iterates every stored event in append order.
func (db *DB) Scan() (*eventstore.Iterator, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.store.Iterator(), nil
}

// RegisterProbe records the static information of a probe. Events
// referencing it must be appended after registration to be indexed by
// location, behavior and advice source.
func (db *DB) RegisterProbe(id uint32, info registry.ProbeInfo) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.probes.Register(id, info)
}

// Probes returns the probe table of the database.
func (db *DB) Probes() *registry.ProbeTable { return db.probes }

// ID returns the identity of the page file.
func (db *DB) ID() uuid.UUID { return db.id }

// Config returns the effective configuration.
func (db *DB) Config() config.Config { return db.cfg }

// Ping reports whether the database can serve requests.
func (db *DB) Ping() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ReadOnly reports whether the database was opened with OpenReadOnly.
func (db *DB) ReadOnly() bool { return db.readOnly }

// Stats describes the database.
type Stats struct {
	Events        uint64
	Pages         uint32
	PageSize      int
	EncodedBits   uint64
	AvgEventBits  float64
	Indexes       int
	Tuples        uint64
	Dimensions    []registry.DimensionStats
	Probes        int
	Buffered      int
	OutOfOrder    uint64
	Dropped       uint64
	LastTimestamp uint64
	Objects       ObjectStats
	Uptime        time.Duration
}

// ObjectStats describes the stored object states and classes.
type ObjectStats struct {
	States       uint64
	Refs         uint64
	Classes      int
	Pages        int
	StoredBytes  uint64
	EncodedBytes uint64
	Buffered     int
	OutOfOrder   uint64
	Dropped      uint64
}

// Stats returns a snapshot of the database statistics.
func (db *DB) Stats() Stats {
	es := db.store.Stats()
	rs := db.reg.Stats()
	db.writeMu.Lock()
	buffered, outOfOrder, dropped, last := db.buffer.len(), db.outOfOrder, db.dropped, db.lastKey
	objBuffered, objCount := db.objBuffer.len()+db.refBuffer.len(), db.objCount
	db.writeMu.Unlock()
	objs := db.objects.Stats()
	return Stats{
		Events:        es.Records,
		Pages:         db.pages.PageCount(),
		PageSize:      db.pages.PageSize(),
		EncodedBits:   es.EncodedBits,
		AvgEventBits:  es.AvgBits,
		Indexes:       rs.Indexes,
		Tuples:        rs.Tuples,
		Dimensions:    rs.Dimensions,
		Probes:        db.probes.Len(),
		Buffered:      buffered,
		OutOfOrder:    outOfOrder,
		Dropped:       dropped,
		LastTimestamp: last,
		Objects: ObjectStats{
			States:       objs.Objects,
			Refs:         objs.Refs,
			Classes:      objs.Classes,
			Pages:        objs.Pages,
			StoredBytes:  objs.StoredBytes,
			EncodedBytes: objs.EncodedBytes,
			Buffered:     objBuffered,
			OutOfOrder:   objCount.outOfOrder,
			Dropped:      objCount.dropped,
		},
		Uptime: time.Since(db.started),
	}
}

func (db *DB) updateGauges() {
	if db.metrics == nil {
		return
	}
	es := db.store.Stats()
	db.metrics.UpdateStorage(int(db.pages.PageCount()), es.EncodedBits, db.buffer.len())
}
