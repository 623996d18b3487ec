// Package orchestrator drives crawl tasks: it fans a task out into a repo-list
// unit and one detail unit per repository, counts detail completions, and
// moves the task to its terminal status exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/metrics"
)

// Config controls optional orchestrator behavior.
type Config struct {
	// Topic receives a TaskEvent for every terminal transition when set.
	Topic string
}

// Orchestrator owns task fan-out and fan-in.
type Orchestrator struct {
	store     crawler.TaskStore
	remote    crawler.RemoteSource
	queue     crawler.WorkQueue
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	counters *counters
	// users serializes get-or-create with re-arm per user so concurrent
	// requests for a finished task enqueue a single repo-list unit.
	users *userLocks
}

// New wires an Orchestrator. publisher may be nil when no topic is configured.
func New(
	store crawler.TaskStore,
	remote crawler.RemoteSource,
	queue crawler.WorkQueue,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		remote:    remote,
		queue:     queue,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		counters:  newCounters(),
		users:     newUserLocks(),
	}
}

// CreateTask returns the id of the user's crawl task, arming it when it is new
// or finished. A task that is already pending is returned untouched.
func (o *Orchestrator) CreateTask(ctx context.Context, user string) (int64, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return 0, errors.New("user name is required")
	}

	unlock := o.users.lock(user)
	defer unlock()

	task, created, err := o.store.GetOrCreateTask(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("get or create task for %s: %w", user, err)
	}
	if !created && task.Status == crawler.TaskStatusPending {
		o.logger.Debug("task already pending", zap.Int64("task_id", task.ID), zap.String("user", user))
		return task.ID, nil
	}
	if task.Status != crawler.TaskStatusPending {
		id := task.ID
		if task, err = o.store.SetTaskStatus(ctx, id, crawler.TaskStatusPending); err != nil {
			return 0, fmt.Errorf("re-arm task %d: %w", id, err)
		}
		o.queue.Prune(task.ID)
		o.queue.Reopen(task.ID)
	}
	if err := o.enqueueRepoList(ctx, task); err != nil {
		return 0, err
	}
	metrics.ObserveTaskCreated()
	o.logger.Info("task armed",
		zap.Int64("task_id", task.ID),
		zap.String("user", user),
		zap.Bool("created", created),
	)
	return task.ID, nil
}

// GetTaskResult returns the persisted task and the owner's repositories.
func (o *Orchestrator) GetTaskResult(ctx context.Context, taskID int64) (crawler.TaskResult, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return crawler.TaskResult{}, fmt.Errorf("get task %d: %w", taskID, err)
	}
	repos, err := o.store.ListRepositories(ctx, task.User)
	if err != nil {
		return crawler.TaskResult{}, fmt.Errorf("list repositories for %s: %w", task.User, err)
	}
	return crawler.TaskResult{Task: task, Repositories: repos}, nil
}

// RestoreQueueTasks re-enqueues the repo-list unit of every pending task. It
// is meant to run once at startup, before any CreateTask call.
func (o *Orchestrator) RestoreQueueTasks(ctx context.Context) error {
	tasks, err := o.store.GetPendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	var errs []error
	for _, task := range tasks {
		if err := o.enqueueRepoList(ctx, task); err != nil {
			errs = append(errs, err)
			continue
		}
		o.logger.Info("task restored", zap.Int64("task_id", task.ID), zap.String("user", task.User))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) enqueueRepoList(ctx context.Context, task crawler.Task) error {
	gen := o.counters.arm(task.ID)
	_, err := o.queue.Submit(ctx, task.ID, crawler.WorkUnit{
		Kind: crawler.UnitKindRepoList,
		Run: func(ctx context.Context) error {
			return o.fetchRepoList(ctx, task, gen)
		},
	})
	if err != nil {
		o.counters.release(task.ID, gen)
		return fmt.Errorf("enqueue repo list for task %d: %w", task.ID, err)
	}
	return nil
}

func (o *Orchestrator) fetchRepoList(ctx context.Context, task crawler.Task, gen uint64) error {
	names, err := o.remote.GetUserRepos(ctx, task.User)
	if err != nil {
		fetchErr := &crawler.RemoteFetchError{Op: "repo list", Owner: task.User, Err: err}
		return errors.Join(fetchErr, o.fail(ctx, task, gen))
	}

	run, ok := o.counters.lookup(task.ID, gen)
	if !ok {
		o.logger.Debug("stale repo list dropped", zap.Int64("task_id", task.ID))
		return nil
	}

	run.mu.Lock()
	run.counted = true
	run.expected = len(names)
	if len(names) == 0 {
		settled, err := o.completeLocked(ctx, task, run)
		run.mu.Unlock()
		if settled {
			o.notify(ctx, task, crawler.TaskStatusDone)
		}
		return err
	}
	run.mu.Unlock()

	o.logger.Info("repo list fetched",
		zap.Int64("task_id", task.ID),
		zap.String("user", task.User),
		zap.Int("repos", len(names)),
	)

	var errs []error
	for _, name := range names {
		_, err := o.queue.Submit(ctx, task.ID, crawler.WorkUnit{
			Kind: crawler.UnitKindRepoDetail,
			Run: func(ctx context.Context) error {
				return o.fetchRepoDetail(ctx, task, gen, name)
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue repo detail %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		// The counter can never be satisfied with missing units.
		errs = append(errs, o.fail(ctx, task, gen))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) fetchRepoDetail(ctx context.Context, task crawler.Task, gen uint64, name string) error {
	detail, err := o.remote.GetRepoDetail(ctx, task.User, name)
	if err != nil {
		fetchErr := &crawler.RemoteFetchError{Op: "repo detail", Owner: task.User, Repo: name, Err: err}
		return errors.Join(fetchErr, o.fail(ctx, task, gen))
	}
	if detail.Name == "" {
		detail.Name = name
	}
	detail.Owner = task.User
	if _, _, err := o.store.UpdateOrCreateRepository(ctx, task.User, detail); err != nil {
		persistErr := fmt.Errorf("persist repository %s/%s: %w", task.User, name, err)
		return errors.Join(persistErr, o.fail(ctx, task, gen))
	}

	run, ok := o.counters.lookup(task.ID, gen)
	if !ok {
		o.logger.Debug("detail finished after task settled",
			zap.Int64("task_id", task.ID),
			zap.String("repo", name),
		)
		return nil
	}

	settled, err := o.countDetail(ctx, task, run)
	if settled {
		o.notify(ctx, task, crawler.TaskStatusDone)
	}
	return err
}

// countDetail records one finished detail unit and completes the run when it
// was the last one. It reports whether the task moved to DONE.
func (o *Orchestrator) countDetail(ctx context.Context, task crawler.Task, run *fanout) (bool, error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.finished {
		return false, nil
	}
	run.done++
	if run.done < run.expected {
		return false, nil
	}
	return o.completeLocked(ctx, task, run)
}

// completeLocked moves the run's task to DONE if the persisted status is still
// pending. run.mu must be held.
func (o *Orchestrator) completeLocked(ctx context.Context, task crawler.Task, run *fanout) (bool, error) {
	current, err := o.store.GetTask(ctx, task.ID)
	if err != nil {
		return false, fmt.Errorf("re-read task %d: %w", task.ID, err)
	}
	run.finished = true
	defer o.counters.release(task.ID, run.gen)
	if current.Status != crawler.TaskStatusPending {
		o.logger.Warn("task left pending before fan-in",
			zap.Int64("task_id", task.ID),
			zap.String("status", string(current.Status)),
		)
		return false, nil
	}
	if err := o.settle(ctx, task, crawler.TaskStatusDone); err != nil {
		return false, err
	}
	return true, nil
}

// fail moves the run's task to FAILED unless the run already settled or was
// replaced by a newer one.
func (o *Orchestrator) fail(ctx context.Context, task crawler.Task, gen uint64) error {
	run, ok := o.counters.lookup(task.ID, gen)
	if !ok {
		return nil
	}
	settled, err := o.failRun(ctx, task, run)
	if settled {
		o.notify(ctx, task, crawler.TaskStatusFailed)
	}
	return err
}

func (o *Orchestrator) failRun(ctx context.Context, task crawler.Task, run *fanout) (bool, error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.finished {
		return false, nil
	}
	run.finished = true
	defer o.counters.release(task.ID, run.gen)
	if err := o.settle(ctx, task, crawler.TaskStatusFailed); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) settle(ctx context.Context, task crawler.Task, status crawler.TaskStatus) error {
	if _, err := o.store.SetTaskStatus(ctx, task.ID, status); err != nil {
		return fmt.Errorf("set task %d %s: %w", task.ID, status, err)
	}
	metrics.ObserveTaskFinished(string(status))
	o.queue.Prune(task.ID)
	o.logger.Info("task finished",
		zap.Int64("task_id", task.ID),
		zap.String("user", task.User),
		zap.String("status", string(status)),
	)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, task crawler.Task, status crawler.TaskStatus) {
	if o.cfg.Topic == "" || o.publisher == nil {
		return
	}
	event := crawler.TaskEvent{
		TaskID:    task.ID,
		User:      task.User,
		Status:    status,
		Timestamp: o.now().Format(time.RFC3339Nano),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		o.logger.Warn("publish task event failed",
			zap.Int64("task_id", task.ID),
			zap.String("topic", o.cfg.Topic),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}
