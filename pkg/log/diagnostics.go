package log

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/posebridge/posebridge-go/pkg/fault"
)

// DefaultDiagnosticsLimit bounds the number of distinct entries held
// between flushes.
const DefaultDiagnosticsLimit = 256

// DefaultSummaryWindow is how long a flushed entry suppresses identical
// reports in later batches. Suppressed reports are counted and written as
// one summary entry once the window has passed.
const DefaultSummaryWindow = 30 * time.Second

// Diagnostic is one queued warning.
type Diagnostic struct {
	Time    time.Time
	Level   slog.Level
	Class   fault.Class
	Layer   Layer
	Message string

	// Count is the number of identical reports collapsed into this entry.
	Count int
}

// Text returns the message with the repeat suffix applied.
func (d Diagnostic) Text() string {
	if d.Count > 1 {
		return fmt.Sprintf("%s (repeated %d times)", d.Message, d.Count)
	}
	return d.Message
}

type diagKey struct {
	level   slog.Level
	class   fault.Class
	layer   Layer
	message string
}

// held tracks a flushed key across later batches.
type held struct {
	since time.Time
	count int
}

// Diagnostics queues warnings raised on the tick path and writes them in
// batches. Identical reports within one batch collapse into a single entry.
// A key that was already written is held back in later batches until the
// summary window passes; a different message is written immediately.
// It is safe for concurrent use; the session read loop reports into it.
type Diagnostics struct {
	logger  *slog.Logger
	capture Logger
	now     func() time.Time
	limit   int
	window  time.Duration

	mu      sync.Mutex
	pending []Diagnostic
	index   map[diagKey]int
	seen    map[diagKey]*held
	dropped int
}

// NewDiagnostics creates a queue writing to logger and, optionally, to a
// protocol capture. A nil logger discards slog output.
func NewDiagnostics(logger *slog.Logger, capture Logger) *Diagnostics {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Diagnostics{
		logger:  logger,
		capture: OrNoop(capture),
		now:     time.Now,
		limit:   DefaultDiagnosticsLimit,
		window:  DefaultSummaryWindow,
		index:   make(map[diagKey]int),
		seen:    make(map[diagKey]*held),
	}
}

// SetClock overrides the time source. Used by tests.
func (d *Diagnostics) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// SetSummaryWindow overrides DefaultSummaryWindow. Zero or negative
// disables suppression across batches.
func (d *Diagnostics) SetSummaryWindow(w time.Duration) {
	d.mu.Lock()
	d.window = w
	d.mu.Unlock()
}

// Report queues a diagnostic.
func (d *Diagnostics) Report(level slog.Level, class fault.Class, layer Layer, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := diagKey{level: level, class: class, layer: layer, message: msg}
	if i, ok := d.index[k]; ok {
		d.pending[i].Count++
		return
	}
	now := d.now()
	count := 1
	if h, ok := d.seen[k]; ok {
		if now.Sub(h.since) < d.window {
			h.count++
			return
		}
		count += h.count
		delete(d.seen, k)
	}
	if len(d.pending) >= d.limit {
		d.dropped++
		return
	}
	d.index[k] = len(d.pending)
	d.pending = append(d.pending, Diagnostic{
		Time:    now,
		Level:   level,
		Class:   class,
		Layer:   layer,
		Message: msg,
		Count:   count,
	})
}

// Warn queues a warning for err, classified by fault.ClassOf.
func (d *Diagnostics) Warn(layer Layer, context string, err error) {
	msg := err.Error()
	if context != "" {
		msg = context + ": " + msg
	}
	d.Report(slog.LevelWarn, fault.ClassOf(err), layer, msg)
}

// Infof queues an informational entry.
func (d *Diagnostics) Infof(layer Layer, format string, args ...any) {
	d.Report(slog.LevelInfo, fault.Unknown, layer, fmt.Sprintf(format, args...))
}

// Len returns the number of distinct queued entries.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush writes every queued entry in first-seen order, followed by
// summaries of held-back keys whose window has passed, and empties the
// queue. It returns the entries written.
func (d *Diagnostics) Flush() []Diagnostic {
	d.mu.Lock()
	now := d.now()
	batch := d.pending
	var summaries []Diagnostic
	for k, h := range d.seen {
		if now.Sub(h.since) < d.window {
			continue
		}
		if h.count == 0 {
			delete(d.seen, k)
			continue
		}
		summaries = append(summaries, Diagnostic{
			Time:    now,
			Level:   k.level,
			Class:   k.class,
			Layer:   k.layer,
			Message: k.message,
			Count:   h.count,
		})
		h.since = now
		h.count = 0
	}
	slices.SortFunc(summaries, func(a, b Diagnostic) int { return cmp.Compare(a.Message, b.Message) })
	batch = append(batch, summaries...)
	if d.window > 0 {
		for _, e := range d.pending {
			if len(d.seen) >= d.limit {
				break
			}
			d.seen[diagKey{level: e.Level, class: e.Class, layer: e.Layer, message: e.Message}] = &held{since: now}
		}
	}
	dropped := d.dropped
	d.pending = nil
	d.dropped = 0
	clear(d.index)
	d.mu.Unlock()

	ctx := context.Background()
	for _, e := range batch {
		attrs := []slog.Attr{
			slog.String("class", e.Class.String()),
			slog.String("layer", e.Layer.String()),
		}
		d.logger.LogAttrs(ctx, e.Level, e.Text(), attrs...)

		if e.Level >= slog.LevelWarn {
			d.capture.Log(Event{
				Timestamp: e.Time,
				Layer:     e.Layer,
				Category:  CategoryError,
				Error: &ErrorEventData{
					Layer:    e.Layer,
					Message:  e.Message,
					Class:    e.Class.String(),
					Repeated: e.Count,
				},
			})
		}
	}
	if dropped > 0 {
		d.logger.Warn("diagnostics queue full", slog.Int("dropped", dropped))
	}
	return batch
}
