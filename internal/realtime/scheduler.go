package realtime

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when a session already has the maximum number of
// pending turns.
var ErrQueueFull = errors.New("session queue is full")

// ErrSchedulerClosed is returned after Close.
var ErrSchedulerClosed = errors.New("scheduler closed")

// Job is one unit of per-session work.
type Job func(ctx context.Context)

// Scheduler runs jobs one at a time per session, in submission order. Each
// session gets its own bounded list so a burst on one session cannot delay
// or evict work belonging to another. A worker goroutine exists only while a
// session has work.
type Scheduler struct {
	mu     sync.Mutex
	queues map[string]*list.List
	depth  int
	ctx    context.Context
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler allowing depth pending jobs per session.
// Jobs receive ctx.
func NewScheduler(ctx context.Context, depth int) *Scheduler {
	if depth <= 0 {
		depth = 8
	}
	return &Scheduler{queues: make(map[string]*list.List), depth: depth, ctx: ctx}
}

// Submit queues a job for a session.
func (s *Scheduler) Submit(sessionID string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	q, busy := s.queues[sessionID]
	if !busy {
		q = list.New()
		s.queues[sessionID] = q
	}
	if q.Len() >= s.depth {
		return ErrQueueFull
	}
	q.PushBack(job)

	if !busy {
		s.wg.Add(1)
		go s.drain(sessionID, q)
	}
	return nil
}

// Pending returns the number of queued, not yet running, jobs of a session.
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[sessionID]; ok {
		return q.Len()
	}
	return 0
}

func (s *Scheduler) drain(sessionID string, q *list.List) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		front := q.Front()
		if front == nil {
			delete(s.queues, sessionID)
			s.mu.Unlock()
			return
		}
		q.Remove(front)
		s.mu.Unlock()

		s.run(sessionID, front.Value.(Job))
	}
}

func (s *Scheduler) run(sessionID string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session job panicked", "session_id", sessionID, "panic", r)
		}
	}()
	job(s.ctx)
}

// Close rejects new jobs and waits for queued ones to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
