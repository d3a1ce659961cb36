// Package obslog is the module's logging surface: a non-blocking
// trace channel for hot-path frame/dispatch tracing (adapted from the
// teacher's debuglog, unchanged in spirit -- drop-when-saturated so a
// stalled writer never backs up a connection goroutine), plus a
// zap-backed structured logger for handler, store, and replication
// events.
package obslog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const queueSize = 2048

type traceLogger struct {
	once sync.Once
	ch   chan string
}

var (
	global  traceLogger
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func traceEnabled() bool {
	return os.Getenv("PROFILESERVER_TRACE") == "1"
}

func (l *traceLogger) start() {
	l.once.Do(func() {
		l.ch = make(chan string, queueSize)
		go func() {
			for msg := range l.ch {
				_, _ = os.Stderr.WriteString(msg)
			}
		}()
	})
}

// Tracef writes a hot-path trace line. When tracing is disabled it is
// still written to stderr synchronously (cheap, and keeps error paths
// visible without opting in); when enabled the queue absorbs bursts
// and drops on saturation rather than block the caller.
func Tracef(format string, args ...any) {
	msg := fmt.Sprintf(format+"\n", args...)
	if !traceEnabled() {
		_, _ = os.Stderr.WriteString(msg)
		return
	}
	global.start()
	select {
	case global.ch <- msg:
	default:
		// Drop when saturated to keep network goroutines non-blocking.
	}
}

// RateLimitedTracef emits at most once per interval per key, useful
// for the keepalive sweeper and the replication worker's retry loop.
func RateLimitedTracef(key string, interval time.Duration, format string, args ...any) {
	if key == "" {
		return
	}
	now := time.Now()
	rlMu.Lock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		rlMu.Unlock()
		return
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	Tracef(format, args...)
}
