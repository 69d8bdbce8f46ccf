package download

import (
	"sync"
	"time"
)

// ProgressEvent is emitted at a throttled rate while a download runs.
type ProgressEvent struct {
	// Percent is transferred/total, 0-100.
	Percent float64
	// BytesPerSecond is the average rate since the download started.
	BytesPerSecond int64
	// Transferred counts bytes written to the destination so far, whether
	// copied locally or fetched remotely.
	Transferred int64
	// Total is the destination file's final size.
	Total int64
	// Delta is the number of bytes written since the previous event.
	Delta int64
}

// ProgressFunc receives progress events. It is called from the downloader's
// goroutines; implementations must be quick and must not block.
type ProgressFunc func(ProgressEvent)

// defaultProgressInterval throttles events so handlers are not called on
// every buffer write.
const defaultProgressInterval = 500 * time.Millisecond

// progressTracker accumulates transferred bytes and emits throttled events.
// Safe for concurrent use by range-request workers.
type progressTracker struct {
	fn       ProgressFunc
	total    int64
	interval time.Duration

	mu          sync.Mutex
	transferred int64
	reported    int64
	started     time.Time
	lastEmit    time.Time
}

func newProgressTracker(fn ProgressFunc, total int64, interval time.Duration) *progressTracker {
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	now := time.Now()
	return &progressTracker{fn: fn, total: total, interval: interval, started: now, lastEmit: now}
}

// add records n written bytes and emits an event when the throttle interval
// has elapsed or the download just completed.
func (t *progressTracker) add(n int64) {
	if t == nil || t.fn == nil {
		return
	}
	t.mu.Lock()
	t.transferred += n
	now := time.Now()
	done := t.total > 0 && t.transferred >= t.total
	if !done && now.Sub(t.lastEmit) < t.interval {
		t.mu.Unlock()
		return
	}
	ev := t.snapshotLocked(now)
	t.lastEmit = now
	t.reported = t.transferred
	t.mu.Unlock()
	t.fn(ev)
}

func (t *progressTracker) snapshotLocked(now time.Time) ProgressEvent {
	ev := ProgressEvent{
		Transferred: t.transferred,
		Total:       t.total,
		Delta:       t.transferred - t.reported,
	}
	if t.total > 0 {
		ev.Percent = float64(t.transferred) / float64(t.total) * 100
	}
	if elapsed := now.Sub(t.started).Seconds(); elapsed > 0 {
		ev.BytesPerSecond = int64(float64(t.transferred) / elapsed)
	}
	return ev
}
