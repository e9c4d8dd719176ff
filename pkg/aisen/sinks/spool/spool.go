// Package spool provides a durable sink that queues events on disk until an
// inner sink accepts them. Events survive process restarts and are retried
// by Replay (and by Flush).
package spool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

const (
	keyPrefix   = "event:"
	sequenceKey = "!seq"
	seqLease    = 128
)

// ErrClosed is returned by Write, Replay and Flush after Close.
var ErrClosed = errors.New("spool sink is closed")

// SpoolOption configures the spool sink.
type SpoolOption func(*spoolConfig)

type spoolConfig struct {
	inMemory    bool
	maxMemMB    int
	concurrency int
	maxAttempts int
	logger      *log.Logger
}

// WithInMemory keeps the queue in memory only. Nothing survives a restart;
// useful for tests and short-lived processes.
func WithInMemory() SpoolOption {
	return func(c *spoolConfig) {
		c.inMemory = true
	}
}

// WithMaxMemMB bounds the memory badger may use for tables and caches
// (default: 64).
func WithMaxMemMB(mb int) SpoolOption {
	return func(c *spoolConfig) {
		if mb > 0 {
			c.maxMemMB = mb
		}
	}
}

// WithReplayConcurrency sets how many queued events Replay delivers at once
// (default: 4).
func WithReplayConcurrency(n int) SpoolOption {
	return func(c *spoolConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxAttempts drops a queued event after n failed deliveries. Zero keeps
// events until delivered (default: 5).
func WithMaxAttempts(n int) SpoolOption {
	return func(c *spoolConfig) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// WithLogger logs deferred deliveries and dropped records.
func WithLogger(logger *log.Logger) SpoolOption {
	return func(c *spoolConfig) {
		c.logger = logger
	}
}

// record is the stored form of a queued event.
type record struct {
	Event     aisen.Event `msgpack:"event"`
	Attempts  int         `msgpack:"attempts"`
	SpooledAt time.Time   `msgpack:"spooled_at"`
	LastError string      `msgpack:"last_error,omitempty"`
}

// Stats reports queue activity since Open.
type Stats struct {
	Pending    int
	Delivered  uint64
	Deferred   uint64
	Dropped    uint64
	BlockCache CacheStats
	IndexCache CacheStats
}

// CacheStats summarizes one badger cache.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Ratio  float64
}

// Spool is a sink backed by a badger queue.
type Spool struct {
	db          *badger.DB
	seq         *badger.Sequence
	inner       aisen.Sink
	concurrency int
	maxAttempts int
	logger      *log.Logger

	replayMu sync.Mutex
	closeMu  sync.RWMutex
	closed   bool

	delivered atomic.Uint64
	deferred  atomic.Uint64
	dropped   atomic.Uint64
}

// Open opens (or creates) a spool at path in front of inner. Records left
// from a previous process are kept for the next Replay.
func Open(path string, inner aisen.Sink, opts ...SpoolOption) (*Spool, error) {
	if inner == nil {
		return nil, errors.New("spool: inner sink is required")
	}
	cfg := &spoolConfig{
		maxMemMB:    64,
		concurrency: 4,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.inMemory {
		path = ""
	} else if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	clamp := func(val, lo, high int64) int64 {
		return min(max(val, lo), high)
	}
	memTableSize := clamp(int64(cfg.maxMemMB/4), 8, 64) << 20
	bopts := badger.DefaultOptions(path).
		WithInMemory(cfg.inMemory).
		WithCompression(options.ZSTD).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithBlockCacheSize(clamp(int64(cfg.maxMemMB/8), 2, 128) << 20).
		WithIndexCacheSize(clamp(int64(cfg.maxMemMB/4), 4, 128) << 20).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open spool db: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), seqLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open spool sequence: %w", err)
	}

	return &Spool{
		db:          db,
		seq:         seq,
		inner:       inner,
		concurrency: cfg.concurrency,
		maxAttempts: cfg.maxAttempts,
		logger:      cfg.logger,
	}, nil
}

// Write queues the event durably, then tries the inner sink once. A failed
// delivery leaves the event queued and is not reported as an error.
func (s *Spool) Write(ctx context.Context, event aisen.Event) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	key, err := s.enqueue(record{Event: event, SpooledAt: time.Now()})
	if err != nil {
		return aisen.MarkOwnRequest(fmt.Errorf("spool event %s: %w", event.EventID, err))
	}

	if err := s.inner.Write(ctx, event); err != nil {
		s.deferred.Add(1)
		s.logf("spool: delivery of %s deferred: %v", event.EventID, err)
		return nil
	}
	s.delivered.Add(1)
	if err := s.delete(key); err != nil {
		return aisen.MarkOwnRequest(fmt.Errorf("dequeue event %s: %w", event.EventID, err))
	}
	return nil
}

// Replay delivers every queued event to the inner sink and returns how many
// were delivered. Failed events stay queued until they exceed the attempt
// limit.
func (s *Spool) Replay(ctx context.Context) (int, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.replay(ctx)
}

func (s *Spool) replay(ctx context.Context) (int, error) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	keys, err := s.keys()
	if err != nil {
		return 0, aisen.MarkOwnRequest(fmt.Errorf("list spooled events: %w", err))
	}

	var delivered atomic.Int64
	var errMu sync.Mutex
	var errs []error
	var grp errgroup.Group
	grp.SetLimit(s.concurrency)
	for _, key := range keys {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := s.deliver(ctx, key)
			if ok {
				delivered.Add(1)
			}
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("replay interrupted: %w", err))
	}
	return int(delivered.Load()), aisen.MarkOwnRequest(errors.Join(errs...))
}

// deliver sends one queued record. Delivery failures only count toward the
// record's attempt limit; the returned error reports storage faults.
func (s *Spool) deliver(ctx context.Context, key []byte) (bool, error) {
	rec, found, err := s.load(key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	} else if !found {
		return false, nil
	}

	writeErr := s.inner.Write(ctx, rec.Event)
	if writeErr == nil {
		s.delivered.Add(1)
		return true, s.delete(key)
	}

	rec.Attempts++
	rec.LastError = writeErr.Error()
	if s.maxAttempts > 0 && rec.Attempts >= s.maxAttempts {
		s.dropped.Add(1)
		s.logf("spool: dropping %s after %d attempts: %v", rec.Event.EventID, rec.Attempts, writeErr)
		return false, s.delete(key)
	}
	s.deferred.Add(1)
	return false, s.store(key, rec)
}

// Flush replays queued events and flushes the inner sink.
func (s *Spool) Flush(ctx context.Context) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.replay(ctx)
	return errors.Join(err, s.inner.Flush(ctx))
}

// Close releases the queue and closes the inner sink. Queued events stay on
// disk for the next Open.
func (s *Spool) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.logger != nil {
		logMetrics := func(name string, metrics *ristretto.Metrics) {
			if metrics != nil && (metrics.Hits() != 0 || metrics.Misses() != 0) {
				s.logger.Println("spool " + name + " cache: " + metrics.String())
			}
		}
		logMetrics("block", s.db.BlockCacheMetrics())
		logMetrics("index", s.db.IndexCacheMetrics())
	}

	return errors.Join(s.seq.Release(), s.db.Close(), s.inner.Close())
}

// Pending returns the number of queued events.
func (s *Spool) Pending() (int, error) {
	keys, err := s.keys()
	return len(keys), err
}

// Stats returns queue counters and badger cache metrics.
func (s *Spool) Stats() Stats {
	pending, _ := s.Pending()
	return Stats{
		Pending:    pending,
		Delivered:  s.delivered.Load(),
		Deferred:   s.deferred.Load(),
		Dropped:    s.dropped.Load(),
		BlockCache: cacheStats(s.db.BlockCacheMetrics()),
		IndexCache: cacheStats(s.db.IndexCacheMetrics()),
	}
}

func cacheStats(metrics *ristretto.Metrics) CacheStats {
	if metrics == nil {
		return CacheStats{}
	}
	return CacheStats{
		Hits:   metrics.Hits(),
		Misses: metrics.Misses(),
		Ratio:  metrics.Ratio(),
	}
}

func (s *Spool) enqueue(rec record) ([]byte, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}
	// zero padded so iteration order is enqueue order
	key := []byte(fmt.Sprintf("%s%020d", keyPrefix, n))
	return key, s.store(key, rec)
}

func (s *Spool) store(key []byte, rec record) error {
	blob, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, blob)
	})
}

func (s *Spool) load(key []byte) (record, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil || raw == nil {
		return record{}, false, err
	}
	rec, err := decodeRecord(raw)
	return rec, err == nil, err
}

func (s *Spool) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *Spool) keys() ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (s *Spool) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func encodeRecord(rec record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)
	if err := enc.Encode(&rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(blob []byte) (record, error) {
	var rec record
	if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
