package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sirco-team/talky/internal/errs"
)

// Stats reports write-side health, in the spirit of a health monitor's
// status snapshot.
type Stats struct {
	Writes           int64     `json:"writes"`
	ConflictsDropped int64     `json:"conflicts_dropped"`
	Retries          int64     `json:"retries"`
	DroppedQueueFull int64     `json:"dropped_queue_full"`
	QueueDepth       int       `json:"queue_depth"`
	LastWriteAt      time.Time `json:"last_write_at"`
}

type statsCounters struct {
	writes      atomic.Int64
	conflicts   atomic.Int64
	retries     atomic.Int64
	droppedFull atomic.Int64
	lastWrite   atomic.Int64 // unix nanos

	retryBase  time.Duration
	retryMax   time.Duration
	maxRetries int
}

// Stats returns a snapshot of serializer counters.
func (s *Store) Stats() Stats {
	return Stats{
		Writes:           s.stats.writes.Load(),
		ConflictsDropped: s.stats.conflicts.Load(),
		Retries:          s.stats.retries.Load(),
		DroppedQueueFull: s.stats.droppedFull.Load(),
		QueueDepth:       len(s.jobs),
		LastWriteAt:      time.Unix(0, s.stats.lastWrite.Load()),
	}
}

// consume drains the write queue one job at a time. Jobs never run
// concurrently; that single-consumer discipline is what makes the CAS
// backend look linearizable from inside the process.
func (s *Store) consume() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.processJob(job)
	}
}

func (s *Store) processJob(job writeJob) {
	data, err := encode(job.doc)
	if err != nil {
		s.log.Error("failed to encode document, dropping job", "seq", job.seq, "error", err)
		return
	}

	// Use the freshest version the process knows, not the one captured at
	// enqueue time: earlier queued writes have already advanced it.
	s.mu.Lock()
	expected := s.version
	s.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.stats.retryBase
	bo.MaxInterval = s.stats.retryMax
	bo.MaxElapsedTime = 0

	var newVersion string
	op := func() error {
		v, werr := s.backend.Write(context.Background(), s.path, data, expected)
		if werr != nil {
			if errors.Is(werr, errs.ErrConflict) {
				return backoff.Permanent(werr)
			}
			s.stats.retries.Add(1)
			return werr
		}
		newVersion = v
		return nil
	}

	err = backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(s.stats.maxRetries)))
	switch {
	case err == nil:
		s.stats.writes.Add(1)
		s.stats.lastWrite.Store(time.Now().UnixNano())
		s.mu.Lock()
		s.version = newVersion
		if job.seq > s.flushed {
			s.flushed = job.seq
		}
		s.mu.Unlock()

	case errors.Is(err, errs.ErrConflict):
		// Another writer raced ahead. The cache already reflects the
		// intended end state and the next natural write carries it
		// forward, so drop this job and refresh the version token.
		s.stats.conflicts.Add(1)
		s.log.Warn("backend write conflict, dropping job", "seq", job.seq)
		s.refreshVersion()

	default:
		s.log.Error("backend write failed after retries, dropping job", "seq", job.seq, "error", err)
	}
}

// refreshVersion re-reads the backend so the next queued write carries
// the now-current version token. The cached document is left alone: it
// holds mutations that have not landed yet.
func (s *Store) refreshVersion() {
	content, err := s.backend.Read(context.Background(), s.path)
	if err != nil {
		s.log.Warn("failed to refresh version after conflict", "error", err)
		return
	}
	s.mu.Lock()
	s.version = content.Version
	s.mu.Unlock()
}
