package tracedb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
)

// objectState is a buffered object state.
type objectState struct {
	id   uint64
	ts   uint64
	data []byte
}

// objectRef is a buffered object class reference.
type objectRef struct {
	id      uint64
	ts      uint64
	classID uint64
}

func stateID(s objectState) uint64 { return s.id }

func refID(r objectRef) uint64 { return r.id }

// objectCounters tracks object ingestion; guarded by writeMu.
type objectCounters struct {
	outOfOrder uint64
	dropped    uint64
}

// StoreObject records the serialized state of object id, captured at
// timestamp ts. States go through their own reorder buffer, ordered by
// object id. A state whose id is below one already stored is dropped with
// ErrLateObject. data is copied.
func (db *DB) StoreObject(id uint64, data []byte, ts uint64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}

	if last, ok := db.objects.LastID(); ok && id < last {
		db.objectDropped("store object", id, ts, last)
		return &DBError{Op: "store object", Timestamp: ts, Cause: fmt.Errorf("%w: object %d", ErrLateObject, id)}
	}
	if db.objBuffer.add(objectState{id: id, ts: ts, data: bytes.Clone(data)}) {
		db.objCount.outOfOrder++
	}
	for {
		next, ok := db.objBuffer.overflow()
		if !ok {
			return nil
		}
		if err := db.putObjectLocked(next); err != nil {
			return err
		}
	}
}

func (db *DB) putObjectLocked(s objectState) error {
	if err := db.objects.Put(s.id, s.data); err != nil {
		return &DBError{Op: "store object", Timestamp: s.ts, Cause: err}
	}
	if db.metrics != nil {
		db.metrics.RecordObject(len(s.data))
	}
	return nil
}

// RegisterObjectRef records that object id, first seen at timestamp ts,
// is an instance of class classID. References are reordered by object id
// like object states.
func (db *DB) RegisterObjectRef(id, ts, classID uint64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.checkWritable(); err != nil {
		return err
	}

	if last, ok := db.objects.LastRefID(); ok && id < last {
		db.objectDropped("register object ref", id, ts, last)
		return &DBError{Op: "register object ref", Timestamp: ts, Cause: fmt.Errorf("%w: object %d", ErrLateObject, id)}
	}
	if db.refBuffer.add(objectRef{id: id, ts: ts, classID: classID}) {
		db.objCount.outOfOrder++
	}
	for {
		next, ok := db.refBuffer.overflow()
		if !ok {
			return nil
		}
		if err := db.putRefLocked(next); err != nil {
			return err
		}
	}
}

func (db *DB) putRefLocked(r objectRef) error {
	if err := db.objects.RegisterRef(r.id, r.classID); err != nil {
		return &DBError{Op: "register object ref", Timestamp: r.ts, Cause: err}
	}
	if db.metrics != nil {
		db.metrics.RecordObjectRef()
	}
	return nil
}

func (db *DB) objectDropped(op string, id, ts, last uint64) {
	db.objCount.dropped++
	db.objCount.outOfOrder++
	if db.metrics != nil {
		db.metrics.RecordObjectDropped()
	}
	db.logger.Warn("late object dropped",
		logging.String("op", op),
		logging.Uint64("object", id),
		logging.Timestamp(ts),
		logging.Uint64("last", last))
}

// flushObjectsLocked stores every buffered object state and reference.
func (db *DB) flushObjectsLocked() error {
	var errs []error
	for _, s := range db.objBuffer.drain() {
		errs = append(errs, db.putObjectLocked(s))
	}
	for _, r := range db.refBuffer.drain() {
		errs = append(errs, db.putRefLocked(r))
	}
	return errors.Join(errs...)
}

// RegisterClass records a class loaded by the traced program.
func (db *DB) RegisterClass(c objectstore.Class) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.objects.RegisterClass(c)
}

// LoadObject returns the latest stored state of object id. Buffered
// states are not visible until released or flushed.
func (db *DB) LoadObject(id uint64) ([]byte, bool, error) {
	if db.closed.Load() {
		return nil, false, ErrClosed
	}
	return db.objects.Get(id)
}

// ObjectClass returns the class of object id, when both its reference and
// the class were registered.
func (db *DB) ObjectClass(id uint64) (objectstore.Class, bool) {
	return db.objects.ClassOf(id)
}

// LastObjectID returns the highest object id stored so far, buffered
// states excluded.
func (db *DB) LastObjectID() (uint64, bool) {
	return db.objects.LastID()
}

// Class returns the class registered under classID.
func (db *DB) Class(classID uint64) (objectstore.Class, bool) {
	return db.objects.Class(classID)
}
