package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain field helpers

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n uint64) Field {
	return Uint64("count", n)
}

func Path(p string) Field {
	return String("path", p)
}

// Pointer logs an event pointer as page:offset
func Pointer(p interface{ String() string }) Field {
	return String("pointer", p.String())
}

func PageID(id uint32) Field {
	return Uint64("page_id", uint64(id))
}

func Dimension(name string) Field {
	return String("dimension", name)
}

func Timestamp(ts uint64) Field {
	return Uint64("timestamp", ts)
}

func Condition(c interface{ String() string }) Field {
	return String("condition", c.String())
}
