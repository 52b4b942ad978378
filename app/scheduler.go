package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"feedpipe/domain"
)

// FetchTaskRef names the job a recurring fetch task runs.
const FetchTaskRef = "feedpipe.fetch"

// TaskName is the registry key of a source's recurring fetch task.
func TaskName(s domain.Source) string {
	return s.Name + "_" + s.ID
}

func fetchTask(s domain.Source) domain.PeriodicTask {
	return domain.PeriodicTask{
		Name:     TaskName(s),
		Task:     FetchTaskRef,
		Args:     []string{s.ID},
		Interval: s.FetchInterval,
	}
}

type timerEntry struct {
	timer    *time.Timer
	task     domain.PeriodicTask
	canceled bool
}

// Scheduler keeps one recurring fetch trigger per source. Task definitions
// live in the registry; the scheduler arms an in-process timer for each and
// turns every firing into a queued job.
type Scheduler struct {
	registry domain.TaskRegistry
	queue    Enqueuer

	mu      sync.Mutex
	timers  map[string]*timerEntry
	started bool
}

func NewScheduler(registry domain.TaskRegistry, queue Enqueuer) *Scheduler {
	return &Scheduler{registry: registry, queue: queue, timers: make(map[string]*timerEntry)}
}

// Register creates or updates the source's task and re-arms its timer.
func (s *Scheduler) Register(ctx context.Context, src domain.Source) error {
	if src.FetchInterval <= 0 {
		return &domain.ConfigurationError{Msg: "fetch interval must be positive"}
	}
	task := fetchTask(src)
	if err := s.registry.Upsert(ctx, task); err != nil {
		return errors.Wrapf(err, "upsert task %s", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.arm(task)
	}
	log.WithFields(log.Fields{"task": task.Name, "interval": task.Interval.String()}).Debug("Fetch task registered")
	return nil
}

// Unregister removes the source's task. A missing task is not an error.
func (s *Scheduler) Unregister(ctx context.Context, src domain.Source) error {
	task := fetchTask(src)
	n, err := s.registry.Delete(ctx, task.Name, task.Task, task.Args)
	if err != nil {
		return errors.Wrapf(err, "delete task %s", task.Name)
	}

	s.mu.Lock()
	s.disarm(task.Name)
	s.mu.Unlock()

	log.WithFields(log.Fields{"task": task.Name, "deleted": n}).Debug("Fetch task removed")
	return nil
}

// Start arms a timer for every task found in the registry.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.registry.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list tasks")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	for _, t := range tasks {
		if t.Task != FetchTaskRef || len(t.Args) == 0 || t.Interval <= 0 {
			continue
		}
		s.arm(t)
	}
	log.WithField("tasks", len(s.timers)).Info("Scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.timers {
		s.disarm(name)
	}
	s.started = false
}

// Armed lists the names of tasks with a live timer.
func (s *Scheduler) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.timers)
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(task domain.PeriodicTask) {
	s.disarm(task.Name)
	entry := &timerEntry{task: task}
	entry.timer = time.AfterFunc(task.Interval, func() { s.fire(entry) })
	s.timers[task.Name] = entry
}

// disarm must be called with s.mu held.
func (s *Scheduler) disarm(name string) {
	if entry, ok := s.timers[name]; ok {
		entry.canceled = true
		entry.timer.Stop()
		delete(s.timers, name)
	}
}

func (s *Scheduler) fire(entry *timerEntry) {
	s.mu.Lock()
	if entry.canceled {
		s.mu.Unlock()
		return
	}
	entry.timer.Reset(entry.task.Interval)
	s.mu.Unlock()

	schedulerTriggers.Inc()
	job := Job{SourceID: entry.task.Args[0]}
	if err := s.queue.Enqueue(job); err != nil {
		log.WithFields(log.Fields{"task": entry.task.Name, "error": err.Error()}).Warn("Could not enqueue scheduled fetch")
	}
}
