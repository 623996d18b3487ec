// Package memory provides the in-process WorkQueue that executes crawl work
// units on their own goroutines and tracks each unit by handle.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/metrics"
)

// Config controls Queue behavior.
type Config struct {
	// MaxInFlight caps concurrently executing units. Zero means unbounded;
	// submitted units beyond the cap stay pending until a slot frees up.
	MaxInFlight int
}

type unitState struct {
	owner  int64
	kind   string
	status crawler.UnitStatus
	err    error
}

// Queue is an unbounded in-memory work queue. Submit never blocks the caller.
type Queue struct {
	idGen  crawler.IDGenerator
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu    sync.Mutex
	units map[crawler.UnitHandle]*unitState
	// owners counts tracked units per task.
	owners map[int64]int
	// settled holds pruned tasks that still have running units; those units
	// are dropped as soon as they finish.
	settled map[int64]struct{}

	wg sync.WaitGroup
}

var _ crawler.WorkQueue = (*Queue)(nil)

// NewQueue constructs a Queue.
func NewQueue(idGen crawler.IDGenerator, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		idGen:  idGen,
		logger: logger,
		units:   make(map[crawler.UnitHandle]*unitState),
		owners:  make(map[int64]int),
		settled: make(map[int64]struct{}),
	}
	if cfg.MaxInFlight > 0 {
		q.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return q
}

// Submit schedules unit for concurrent execution and returns its handle.
// The unit runs detached from ctx cancellation; ctx only carries values.
func (q *Queue) Submit(ctx context.Context, ownerTaskID int64, unit crawler.WorkUnit) (crawler.UnitHandle, error) {
	if unit.Run == nil {
		return "", errors.New("work unit has no body")
	}
	id, err := q.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate unit handle: %w", err)
	}
	handle := crawler.UnitHandle(id)

	q.mu.Lock()
	if _, exists := q.units[handle]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("unit handle %s already tracked", handle)
	}
	q.units[handle] = &unitState{owner: ownerTaskID, kind: unit.Kind, status: crawler.UnitStatusPending}
	q.owners[ownerTaskID]++
	q.mu.Unlock()

	q.wg.Add(1)
	go q.execute(context.WithoutCancel(ctx), handle, ownerTaskID, unit)
	return handle, nil
}

func (q *Queue) execute(ctx context.Context, handle crawler.UnitHandle, owner int64, unit crawler.WorkUnit) {
	defer q.wg.Done()

	if q.sem != nil {
		// ctx is never canceled, so Acquire only returns once a slot is free.
		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.finish(handle, owner, unit.Kind, fmt.Errorf("acquire slot: %w", err))
			return
		}
		defer q.sem.Release(1)
	}

	metrics.IncUnitsInFlight()
	defer metrics.DecUnitsInFlight()

	var runErr error
	var pc panics.Catcher
	pc.Try(func() { runErr = unit.Run(ctx) })
	if recovered := pc.Recovered(); recovered != nil {
		runErr = errors.Join(runErr, recovered.AsError())
	}
	q.finish(handle, owner, unit.Kind, runErr)
}

func (q *Queue) finish(handle crawler.UnitHandle, owner int64, kind string, err error) {
	status := crawler.UnitStatusDone
	if err != nil {
		status = crawler.UnitStatusFailed
		q.logger.Error("work unit failed",
			zap.String("unit", string(handle)),
			zap.Int64("task_id", owner),
			zap.String("kind", kind),
			zap.Error(err),
		)
	} else {
		q.logger.Debug("work unit finished",
			zap.String("unit", string(handle)),
			zap.Int64("task_id", owner),
			zap.String("kind", kind),
		)
	}
	metrics.ObserveUnit(kind, string(status))

	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.units[handle]
	if !ok {
		return
	}
	if _, pruned := q.settled[owner]; pruned {
		q.drop(handle, st)
		return
	}
	st.status = status
	st.err = err
}

// drop forgets a unit. q.mu must be held.
func (q *Queue) drop(handle crawler.UnitHandle, st *unitState) {
	delete(q.units, handle)
	q.owners[st.owner]--
	if q.owners[st.owner] <= 0 {
		delete(q.owners, st.owner)
		delete(q.settled, st.owner)
	}
}

// Status reports the state of a tracked unit.
func (q *Queue) Status(handle crawler.UnitHandle) (crawler.UnitStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.units[handle]
	if !ok {
		return "", fmt.Errorf("unit %s: %w", handle, crawler.ErrNotFound)
	}
	return st.status, nil
}

// Failure returns the error a failed unit finished with, or nil when the unit
// is unknown, pending, or succeeded.
func (q *Queue) Failure(handle crawler.UnitHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.units[handle]; ok {
		return st.err
	}
	return nil
}

// Remove discards bookkeeping for a finished unit. Pending units cannot be
// removed and yield ErrUnitPending.
func (q *Queue) Remove(handle crawler.UnitHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.units[handle]
	if !ok {
		return fmt.Errorf("unit %s: %w", handle, crawler.ErrNotFound)
	}
	if st.status == crawler.UnitStatusPending {
		return fmt.Errorf("unit %s: %w", handle, crawler.ErrUnitPending)
	}
	q.drop(handle, st)
	return nil
}

// Prune removes every finished unit owned by ownerTaskID. Units still running
// are dropped when they finish, until Reopen is called for the task.
func (q *Queue) Prune(ownerTaskID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for handle, st := range q.units {
		if st.owner == ownerTaskID && st.status != crawler.UnitStatusPending {
			q.drop(handle, st)
			removed++
		}
	}
	if q.owners[ownerTaskID] > 0 {
		q.settled[ownerTaskID] = struct{}{}
	}
	return removed
}

// Reopen keeps the task's units tracked after they finish again.
func (q *Queue) Reopen(ownerTaskID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.settled, ownerTaskID)
}

// Handles lists the tracked units owned by ownerTaskID.
func (q *Queue) Handles(ownerTaskID int64) []crawler.UnitHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []crawler.UnitHandle
	for handle, st := range q.units {
		if st.owner == ownerTaskID {
			out = append(out, handle)
		}
	}
	return out
}

// Len returns the number of tracked units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// Wait blocks until every submitted unit has finished or ctx ends. Units
// submitted by running units are included.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for work units: %w", ctx.Err())
	}
}
