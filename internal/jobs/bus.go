// Package jobs owns the ingestion work queue: the durable job records, the
// priority queue with visibility timeouts, the per-job ordered progress bus,
// and the worker pool that drives the pipeline.
package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"citegraph/internal/persistence/databases"
	"citegraph/internal/provenance"
)

// Bus assigns strictly increasing sequence numbers per job and fans each
// event out to durable storage, the cache pub/sub topic, and every attached
// subscriber. Percent is clamped non-decreasing; delivery to live
// subscribers is at-least-once with seq as the idempotency key.
type Bus struct {
	store databases.JobStore
	cache databases.Cache

	mu      sync.Mutex
	nextSeq map[string]int64
	lastPct map[string]int
	subs    map[string][]*busSub
}

type busSub struct {
	ch   chan provenance.ProgressEvent
	done bool
}

// NewBus builds a bus over the durable store and optional cache.
func NewBus(store databases.JobStore, cache databases.Cache) *Bus {
	return &Bus{
		store:   store,
		cache:   cache,
		nextSeq: make(map[string]int64),
		lastPct: make(map[string]int),
		subs:    make(map[string][]*busSub),
	}
}

// Topic names the cache pub/sub channel for one job.
func Topic(jobID string) string { return "job:" + jobID }

// Emit appends one event to the job's stream. A negative percent keeps the
// last reported value (used by terminal ERROR events to freeze progress).
func (b *Bus) Emit(ctx context.Context, jobID string, stage provenance.Stage, percent int, message string, counters map[string]int) (provenance.ProgressEvent, error) {
	b.mu.Lock()
	seq, ok := b.nextSeq[jobID]
	if !ok {
		// A daemon restart resumes the sequence from the durable log.
		if evs, err := b.store.ListEvents(ctx, jobID, 0); err == nil && len(evs) > 0 {
			seq = evs[len(evs)-1].Seq + 1
			b.lastPct[jobID] = evs[len(evs)-1].Percent
		}
	}
	last := b.lastPct[jobID]
	if percent < last {
		percent = last
	}
	if percent > 100 {
		percent = 100
	}
	ev := provenance.ProgressEvent{
		JobID:     jobID,
		Seq:       seq,
		EmittedAt: time.Now().UTC(),
		Stage:     stage,
		Percent:   percent,
		Message:   message,
		Counters:  counters,
	}
	b.nextSeq[jobID] = seq + 1
	b.lastPct[jobID] = percent
	subs := append([]*busSub(nil), b.subs[jobID]...)
	if ev.Stage.Terminal() {
		delete(b.subs, jobID)
	}
	b.mu.Unlock()

	if err := b.store.AppendEvent(ctx, ev); err != nil {
		return provenance.ProgressEvent{}, err
	}
	if b.cache != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if err := b.cache.Publish(ctx, Topic(jobID), payload); err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Msg("progress_publish_failed")
			}
		}
	}
	for _, s := range subs {
		s.deliver(ev)
	}
	return ev, nil
}

func (s *busSub) deliver(ev provenance.ProgressEvent) {
	if s.done {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Slow subscriber: the durable log and seq-based replay cover the
		// gap; at-least-once, not lossless push.
	}
	if ev.Stage.Terminal() {
		s.done = true
		close(s.ch)
	}
}

// Subscribe returns events with seq >= fromSeq in order, then live events
// until a terminal event closes the stream. Multiple subscribers are
// independent.
func (b *Bus) Subscribe(ctx context.Context, jobID string, fromSeq int64) (<-chan provenance.ProgressEvent, func(), error) {
	live := &busSub{ch: make(chan provenance.ProgressEvent, 64)}
	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], live)
	b.mu.Unlock()

	replay, err := b.store.ListEvents(ctx, jobID, fromSeq)
	if err != nil {
		b.removeSub(jobID, live)
		return nil, nil, err
	}

	out := make(chan provenance.ProgressEvent, 64)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			b.removeSub(jobID, live)
		})
	}

	go func() {
		defer close(out)
		next := fromSeq
		send := func(ev provenance.ProgressEvent) bool {
			if ev.Seq < next {
				return true // duplicate across the replay/live seam
			}
			select {
			case out <- ev:
				next = ev.Seq + 1
				return !ev.Stage.Terminal()
			case <-stop:
				return false
			case <-ctx.Done():
				return false
			}
		}
		for _, ev := range replay {
			if !send(ev) {
				return
			}
		}
		for {
			select {
			case ev, ok := <-live.ch:
				if !ok || ev.Seq > next {
					// A full live channel drops events; Emit logs every event
					// before live delivery, so the log fills the gap.
					missed, _ := b.store.ListEvents(ctx, jobID, next)
					for _, m := range missed {
						if (ok && m.Seq >= ev.Seq) || !send(m) {
							break
						}
					}
				}
				if !ok {
					return
				}
				if !send(ev) {
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func (b *Bus) removeSub(jobID string, target *busSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[jobID]
	for i, s := range subs {
		if s == target {
			b.subs[jobID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
