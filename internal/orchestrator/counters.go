package orchestrator

import "sync"

// fanout is the completion counter of one armed crawl run. Its mutex
// serializes every terminal decision for the run so that DONE and FAILED
// cannot both be written by sibling units.
type fanout struct {
	gen uint64

	mu       sync.Mutex
	counted  bool
	expected int
	done     int
	finished bool
}

// counters maps task ids to the currently armed run. A run is replaced when the
// task is re-armed and dropped once it reaches a terminal status, so units that
// belong to an older run find no matching generation and leave status alone.
type counters struct {
	mu   sync.Mutex
	seq  uint64
	runs map[int64]*fanout
}

func newCounters() *counters {
	return &counters{runs: make(map[int64]*fanout)}
}

// arm starts a new run for taskID and returns its generation.
func (c *counters) arm(taskID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.runs[taskID] = &fanout{gen: c.seq}
	return c.seq
}

// lookup returns the run for taskID when gen is still the armed generation.
func (c *counters) lookup(taskID int64, gen uint64) (*fanout, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[taskID]
	if !ok || run.gen != gen {
		return nil, false
	}
	return run, true
}

// release drops the run for taskID if gen is still armed.
func (c *counters) release(taskID int64, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run, ok := c.runs[taskID]; ok && run.gen == gen {
		delete(c.runs, taskID)
	}
}

// snapshot reports the counter of the armed run for taskID. ok is false when no
// run is armed or the repo list has not been counted yet.
func (c *counters) snapshot(taskID int64) (expected, done int, ok bool) {
	c.mu.Lock()
	run, found := c.runs[taskID]
	c.mu.Unlock()
	if !found {
		return 0, 0, false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if !run.counted {
		return 0, 0, false
	}
	return run.expected, run.done, true
}

func (c *counters) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// userLocks hands out one mutex per user name. Entries are dropped once no
// caller holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until user's mutex is held and returns its unlock function.
func (l *userLocks) lock(user string) func() {
	l.mu.Lock()
	ul, ok := l.locks[user]
	if !ok {
		ul = &userLock{}
		l.locks[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, user)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
