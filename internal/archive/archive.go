// Package archive implements the best-effort archival pipeline: an
// in-memory queue of processed messages and downloaded media, drained
// on a fixed cadence into append-only per-day logs and a
// content-addressed media store. Enqueueing never blocks or fails the
// routing path; failed items are retried a bounded number of times
// and then dropped with a counted metric.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lbento/warden/internal/database"
	"github.com/lbento/warden/internal/transport"
)

// Direction marks whether an archived message was received or sent.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Entry is one archived message, written as a JSON line to the
// per-day log. Entries are append-only and identified by MessageID.
type Entry struct {
	MessageID    string    `json:"message_id"`
	Conversation string    `json:"conversation_id"`
	Sender       string    `json:"sender"`
	Timestamp    time.Time `json:"timestamp"`
	Body         string    `json:"body"`
	Kind         string    `json:"kind"`
	Direction    Direction `json:"direction"`
	HasMedia     bool      `json:"has_media"`
	MediaRef     string    `json:"media_ref,omitempty"`
}

// Config holds the archiver settings.
type Config struct {
	// Dir is the root of the per-day message logs.
	Dir string
	// MediaDir is the root of the content-addressed media store.
	MediaDir string
	// BatchSize bounds how many items one drain persists.
	BatchSize int
	// MaxQueueLength bounds queue memory; zero means unbounded. At
	// the bound the oldest item is evicted and counted.
	MaxQueueLength int
	// MaxRetries bounds how often a failed item is re-queued before
	// being dropped.
	MaxRetries int
}

// Stats are the archiver's counters, surfaced by the stats command.
type Stats struct {
	Enqueued     uint64
	Archived     uint64
	MediaStored  uint64
	MediaDeduped uint64
	Retried      uint64
	Dropped      uint64
	Evicted      uint64
	QueueLength  int
}

type item struct {
	entry   *Entry
	media   *mediaItem
	retries int
}

type mediaItem struct {
	data         []byte
	mimeType     string
	fileName     string
	messageID    string
	conversation string

	// stored and deduped track progress across retries: once the
	// object is on disk and in the store, a retry resumes at the
	// back-reference step instead of re-classifying the item.
	stored  bool
	deduped bool
}

// Archiver is the single logical queue plus its drain logic. Enqueue
// methods are safe for concurrent use; drains are serialized so log
// append order matches drain order.
type Archiver struct {
	logger *slog.Logger
	store  database.Store
	cfg    Config

	mu    sync.Mutex
	queue []item
	stats Stats

	drainMu sync.Mutex
}

// New creates an archiver and its storage directories.
func New(logger *slog.Logger, store database.Store, cfg Config) (*Archiver, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	for _, dir := range []string{cfg.Dir, cfg.MediaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
		}
	}

	return &Archiver{
		logger: logger.With("component", "archiver"),
		store:  store,
		cfg:    cfg,
	}, nil
}

// EnqueueMessage queues one message for archival. Fire-and-forget:
// it never blocks and never returns an error.
func (a *Archiver) EnqueueMessage(msg *transport.Message, direction Direction) {
	entry := &Entry{
		MessageID:    msg.ID,
		Conversation: msg.Conversation,
		Sender:       msg.Sender,
		Timestamp:    msg.Timestamp.UTC(),
		Body:         msg.Text,
		Kind:         msg.Kind,
		Direction:    direction,
		HasMedia:     msg.HasMedia(),
	}
	if msg.HasMedia() {
		entry.MediaRef = ContentHash(msg.Media.Data)
	}
	a.enqueue(item{entry: entry})
}

// EnqueueMedia queues a message's media payload for content-addressed
// storage. Fire-and-forget.
func (a *Archiver) EnqueueMedia(msg *transport.Message) {
	if !msg.HasMedia() {
		return
	}
	a.enqueue(item{media: &mediaItem{
		data:         msg.Media.Data,
		mimeType:     msg.Media.MimeType,
		fileName:     msg.Media.FileName,
		messageID:    msg.ID,
		conversation: msg.Conversation,
	}})
}

func (a *Archiver) enqueue(it item) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.MaxQueueLength > 0 && len(a.queue) >= a.cfg.MaxQueueLength {
		// Oldest-first eviction keeps memory bounded under sustained
		// overload, trading the oldest pending item for the newest.
		a.queue = a.queue[1:]
		a.stats.Evicted++
		a.stats.Dropped++
	}

	a.queue = append(a.queue, it)
	a.stats.Enqueued++
}

// Drain pops one bounded batch and persists each item. Failed items
// are re-queued up to MaxRetries times, then dropped. Drains are
// serialized; the scheduler runs this on a fixed interval regardless
// of arrival rate.
func (a *Archiver) Drain(ctx context.Context) error {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	batch := a.pop(a.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	for _, it := range batch {
		if err := a.persist(ctx, it); err != nil {
			a.requeue(it, err)
		} else {
			a.mu.Lock()
			if it.entry != nil {
				a.stats.Archived++
			}
			a.mu.Unlock()
		}
	}
	return nil
}

// Flush drains the queue to empty. Used on shutdown; items that still
// fail are dropped through the usual retry accounting.
func (a *Archiver) Flush(ctx context.Context) {
	for {
		a.mu.Lock()
		remaining := len(a.queue)
		a.mu.Unlock()
		if remaining == 0 {
			return
		}
		if err := a.Drain(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stats returns a snapshot of the archiver's counters.
func (a *Archiver) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := a.stats
	stats.QueueLength = len(a.queue)
	return stats
}

func (a *Archiver) pop(n int) []item {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n > len(a.queue) {
		n = len(a.queue)
	}
	batch := make([]item, n)
	copy(batch, a.queue[:n])
	a.queue = a.queue[n:]
	return batch
}

func (a *Archiver) requeue(it item, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	it.retries++
	if it.retries > a.cfg.MaxRetries {
		a.stats.Dropped++
		a.logger.Error("Dropping archive item after retries",
			"retries", it.retries-1, "error", cause)
		return
	}

	a.stats.Retried++
	a.queue = append(a.queue, it)
	a.logger.Warn("Archive item failed, re-queued",
		"attempt", it.retries, "error", cause)
}

func (a *Archiver) persist(ctx context.Context, it item) error {
	switch {
	case it.entry != nil:
		return a.appendEntry(it.entry)
	case it.media != nil:
		return a.storeMedia(ctx, it.media)
	default:
		return nil
	}
}
