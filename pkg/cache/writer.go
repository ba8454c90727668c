package cache

import (
	"log/slog"
	"sync"

	"github.com/mholloway/tideline/pkg/util"
)

// Saver is the slice of the store the writer needs.
type Saver interface {
	Save(feedKey string, record Record) error
}

// Writer coalesces snapshot saves. Enqueue never blocks the caller;
// when saves are requested faster than the store can absorb them only
// the latest record per key is written (last-write-wins). Failures are
// logged and dropped: a lost save costs a slightly staler cold start.
type Writer struct {
	store Saver

	mu      sync.Mutex
	pending map[string]Record

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

func NewWriter(store Saver) *Writer {
	w := &Writer{
		store:   store,
		pending: make(map[string]Record),
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules a save of record under feedKey, superseding any
// not-yet-written record for the same key.
func (w *Writer) Enqueue(feedKey string, record Record) {
	w.mu.Lock()
	w.pending[feedKey] = record
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Close flushes pending saves and stops the writer.
func (w *Writer) Close() {
	close(w.quit)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.kick:
			w.drain()
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		w.mu.Lock()
		var key string
		var record Record
		found := false
		for k, r := range w.pending {
			key, record, found = k, r, true
			break
		}
		if found {
			delete(w.pending, key)
		}
		w.mu.Unlock()

		if !found {
			return
		}
		if err := w.store.Save(key, record); err != nil {
			slog.Warn(util.WrapErr("failed to save feed snapshot", err).Error(), "feed_key", key)
		}
	}
}
