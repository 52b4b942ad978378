// Package taskregistry stores recurring fetch task definitions.
package taskregistry

import (
	"context"
	"slices"
	"sort"
	"sync"

	"feedpipe/domain"
)

// Memory keeps tasks in process. Schedules are lost on restart; the daemon
// re-registers every source on boot.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]domain.PeriodicTask
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.PeriodicTask)}
}

func (m *Memory) Upsert(_ context.Context, task domain.PeriodicTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Args = slices.Clone(task.Args)
	m.tasks[task.Name] = task
	return nil
}

// Delete removes the named task when its reference and arguments match.
func (m *Memory) Delete(_ context.Context, name, task string, args []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[name]
	if !ok || !matches(stored, task, args) {
		return 0, nil
	}
	delete(m.tasks, name)
	return 1, nil
}

func (m *Memory) List(_ context.Context) ([]domain.PeriodicTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeriodicTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.Args = slices.Clone(t.Args)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func matches(stored domain.PeriodicTask, task string, args []string) bool {
	return stored.Task == task && slices.Equal(stored.Args, args)
}

var _ domain.TaskRegistry = (*Memory)(nil)
