// Package store emulates a small multi-writer database on top of a
// single-document compare-and-swap backend: a freshness-window cache, a
// serialized write queue, and conflict handling that keeps the
// in-process view linearizable while durability trails behind.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sirco-team/talky/internal/backend"
	"github.com/sirco-team/talky/internal/config"
	"github.com/sirco-team/talky/internal/errs"
	"github.com/sirco-team/talky/internal/model"
)

// MutateFunc is applied to a deep copy of the current document. It
// returns an error to reject the mutation before anything is queued.
type MutateFunc func(*model.Document) error

// Store is the facade every other component goes through.
type Store struct {
	backend backend.ContentBackend
	path    string
	log     *slog.Logger

	freshness time.Duration

	mu        sync.Mutex
	doc       *model.Document
	fetchedAt time.Time
	version   string
	seq       uint64 // bumped per mutation
	flushed   uint64 // highest seq confirmed written
	closed    bool

	jobs chan writeJob
	wg   sync.WaitGroup

	stats statsCounters
}

type writeJob struct {
	doc *model.Document
	seq uint64
}

// New creates a store over the given backend and starts the write
// consumer. Callers must Close to drain queued writes.
func New(cfg *config.Config, b backend.ContentBackend, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		backend:   b,
		path:      cfg.DataPath,
		log:       log,
		freshness: cfg.CacheFreshness,
		jobs:      make(chan writeJob, cfg.WriteQueueSize),
	}
	s.stats.retryBase = cfg.WriteRetryBaseDelay
	s.stats.retryMax = cfg.WriteRetryMaxDelay
	s.stats.maxRetries = cfg.WriteMaxRetries

	s.wg.Add(1)
	go s.consume()
	return s
}

// Load returns a deep copy of the current document, fetching from the
// backend only when the cached copy has aged out and no local mutations
// are still waiting to land.
func (s *Store) Load(ctx context.Context) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Mutate applies fn to a copy of the current document, installs the
// result in the cache synchronously (read-your-writes within this
// process), and queues it for a backend write without waiting.
func (s *Store) Mutate(ctx context.Context, fn MutateFunc) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.currentLocked(ctx)
	if err != nil {
		return nil, err
	}

	next := doc.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.seq++
	s.doc = next
	s.fetchedAt = time.Now()

	if !s.closed {
		select {
		case s.jobs <- writeJob{doc: next.Clone(), seq: s.seq}:
		default:
			s.stats.droppedFull.Add(1)
			s.log.Warn("write queue full, dropping job", "seq", s.seq)
		}
	}

	return next.Clone(), nil
}

// Close stops accepting mutations, drains the write queue, and returns
// once the consumer has finished.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.jobs)
	s.wg.Wait()
}

// currentLocked returns the cached document, refreshing it from the
// backend when stale. Callers hold s.mu.
func (s *Store) currentLocked(ctx context.Context) (*model.Document, error) {
	dirty := s.seq > s.flushed
	if s.doc != nil && (dirty || time.Since(s.fetchedAt) < s.freshness) {
		return s.doc, nil
	}

	content, err := s.backend.Read(ctx, s.path)
	switch {
	case err == nil:
		doc, decodeErr := decode(content)
		if decodeErr != nil {
			if s.doc != nil {
				s.log.Error("failed to decode backend content, serving cached document", "error", decodeErr)
				return s.doc, nil
			}
			// Corrupt content with no cache to fall back on reads the
			// same to callers as an unreachable backend: retryable.
			return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, decodeErr)
		}
		s.doc = doc
		s.version = content.Version
		s.fetchedAt = time.Now()
		return s.doc, nil

	case errors.Is(err, errs.ErrNotFound):
		// First ever start: seed an empty document and queue its creation.
		doc := model.NewDocument(time.Now())
		s.doc = doc
		s.version = ""
		s.fetchedAt = time.Now()
		s.seq++
		if !s.closed {
			select {
			case s.jobs <- writeJob{doc: doc.Clone(), seq: s.seq}:
			default:
				s.stats.droppedFull.Add(1)
			}
		}
		s.log.Info("document not found on backend, seeded empty document", "path", s.path)
		return s.doc, nil

	default:
		if s.doc != nil {
			// Serve stale rather than fail a read the cache can answer.
			s.log.Warn("backend read failed, serving cached document", "error", err)
			return s.doc, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
}

func decode(c backend.Content) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(c.Data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Messages == nil {
		doc.Messages = map[string][]model.Message{}
	}
	if doc.Signals == nil {
		doc.Signals = map[string][]model.SignalingEvent{}
	}
	doc.Version = c.Version
	return &doc, nil
}

func encode(doc *model.Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
