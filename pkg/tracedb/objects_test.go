package tracedb

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-tracedb/pkg/condition"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
)

// objectData returns the serialized state of id; every third state is
// random so that some of them stay uncompressed.
func objectData(rng *rand.Rand, id uint64) []byte {
	n := int(id*37) % 700
	if id%3 == 0 {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}
	return bytes.Repeat([]byte{byte(id), byte(id >> 8), 0x2a}, n/3)
}

func requireObjects(t *testing.T, db *DB, want map[uint64][]byte) {
	t.Helper()
	for id, data := range want {
		got, ok, err := db.LoadObject(id)
		require.NoError(t, err)
		require.Truef(t, ok, "object %d not found", id)
		require.Truef(t, bytes.Equal(data, got), "object %d: got %d bytes, want %d", id, len(got), len(data))
	}
}

var testClasses = []objectstore.Class{
	{ID: 1, LoaderID: 0, Name: "java.lang.String"},
	{ID: 2, LoaderID: 0, Name: "[Ljava.lang.Object;"},
	{ID: 3, LoaderID: 7, Name: "com.example.Account"},
}

func TestStoreObject_Reorders(t *testing.T) {
	cfg := memoryConfig()
	cfg.ReorderWindow = 8
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	const n = 200
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	rng := rand.New(rand.NewSource(9))
	for i := 0; i+4 < len(ids); i += 4 {
		j := i + rng.Intn(4)
		ids[i], ids[j] = ids[j], ids[i]
	}

	want := make(map[uint64][]byte)
	events := fill(t, db, 21, 100)
	for k, id := range ids {
		data := objectData(rng, id)
		want[id] = data
		require.NoError(t, db.StoreObject(id, data, events[k%len(events)].Timestamp))
		require.NoError(t, db.RegisterObjectRef(id, uint64(k), id%3+1))
	}
	assert.Equal(t, 16, db.Stats().Objects.Buffered)
	require.NoError(t, db.FlushBuffer())
	for _, c := range testClasses {
		require.NoError(t, db.RegisterClass(c))
	}

	requireObjects(t, db, want)
	st := db.Stats().Objects
	assert.Equal(t, uint64(n), st.States)
	assert.Equal(t, uint64(n), st.Refs)
	assert.Equal(t, 3, st.Classes)
	assert.Zero(t, st.Buffered)
	assert.NotZero(t, st.OutOfOrder)
	assert.Zero(t, st.Dropped)
	assert.Less(t, st.EncodedBytes, st.StoredBytes)

	c, ok := db.ObjectClass(5)
	require.True(t, ok)
	assert.Equal(t, testClasses[2], c)
	assert.False(t, c.IsArray())
	c, ok = db.ObjectClass(4)
	require.True(t, ok)
	assert.True(t, c.IsArray())

	// events are unaffected by the object pages in between
	thread := condition.Thread(1)
	requireSameEvents(t, matching(db, thread, events), evaluateAll(t, db, thread), "thread 1")

	err = db.StoreObject(10, []byte("late"), 0)
	require.ErrorIs(t, err, ErrLateObject)
	err = db.RegisterObjectRef(10, 0, 1)
	require.ErrorIs(t, err, ErrLateObject)
	assert.Equal(t, uint64(2), db.Stats().Objects.Dropped)

	// storing a known id again replaces its state
	require.NoError(t, db.StoreObject(n, []byte("replaced"), 0))
	require.NoError(t, db.FlushBuffer())
	got, ok, err := db.LoadObject(n)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("replaced"), got)

	_, ok, err = db.LoadObject(n + 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreObject_CopiesData(t *testing.T) {
	cfg := memoryConfig()
	cfg.ReorderWindow = 4
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	buf := []byte("first")
	require.NoError(t, db.StoreObject(1, buf, 0))
	copy(buf, "XXXXX")
	require.NoError(t, db.FlushBuffer())
	got, _, err := db.LoadObject(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestObjects_Reopen(t *testing.T) {
	dir := t.TempDir()
	cfg := fileConfig(dir)
	cfg.IndexFanout = 4
	cfg.ReorderWindow = 16

	db, err := Open(cfg)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	want := make(map[uint64][]byte)
	events := fill(t, db, 8, 400)
	for id := uint64(1); id <= 150; id++ {
		want[id] = objectData(rng, id)
		require.NoError(t, db.StoreObject(id, want[id], id))
		require.NoError(t, db.RegisterObjectRef(id, id, id%3+1))
	}
	for _, c := range testClasses {
		require.NoError(t, db.RegisterClass(c))
	}
	before := db.Stats().Objects
	assert.NotZero(t, before.Buffered)
	// Close stores the buffered states
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	requireObjects(t, db, want)
	st := db.Stats().Objects
	assert.Equal(t, uint64(150), st.States)
	assert.Equal(t, uint64(150), st.Refs)
	assert.Greater(t, st.StoredBytes, before.StoredBytes)
	c, ok := db.ObjectClass(6)
	require.True(t, ok)
	assert.Equal(t, testClasses[0], c)
	assert.Equal(t, uint64(len(events)), db.Stats().Events)

	// ids continue after the restored ones
	err = db.StoreObject(149, []byte("late"), 0)
	require.ErrorIs(t, err, ErrLateObject)
	want[151] = []byte("after reopen")
	require.NoError(t, db.StoreObject(151, want[151], 0))
	require.NoError(t, db.Close())

	ro, err := OpenReadOnly(dir)
	require.NoError(t, err)
	defer ro.Close()
	requireObjects(t, ro, want)
	cls, ok := ro.Class(2)
	require.True(t, ok)
	assert.Equal(t, testClasses[1], cls)
	assert.ErrorIs(t, ro.StoreObject(200, nil, 0), ErrReadOnly)
	assert.ErrorIs(t, ro.RegisterClass(objectstore.Class{ID: 9, Name: "X"}), ErrReadOnly)
}

func TestClear_DropsObjects(t *testing.T) {
	db, err := Open(memoryConfig())
	require.NoError(t, err)
	defer db.Close()

	rng := rand.New(rand.NewSource(5))
	for id := uint64(1); id <= 40; id++ {
		require.NoError(t, db.StoreObject(id, objectData(rng, id), id))
	}
	require.NoError(t, db.RegisterClass(testClasses[0]))
	require.NoError(t, db.RegisterObjectRef(3, 3, 1))
	require.NoError(t, db.Clear())

	_, ok, err := db.LoadObject(3)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = db.ObjectClass(3)
	assert.False(t, ok)
	assert.Equal(t, ObjectStats{}, db.Stats().Objects)

	// low ids are accepted again
	require.NoError(t, db.StoreObject(1, []byte("again"), 0))
	got, ok, err := db.LoadObject(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("again"), got)
}
