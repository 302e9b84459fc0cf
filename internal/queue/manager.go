package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	taskBucket  = "tasks"
	statsBucket = "stats"
	statsKey    = "aggregate"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Manager is a crash-recoverable, retry-aware task queue. Every task and
// the aggregate stats are standalone persisted records in BoltDB; the
// in-memory table is a cache rebuilt from the store at initialization, and
// the store is the source of truth. A single mutex spans each in-memory
// mutation together with its persistence, so no caller ever observes a
// task mid-transition. Transitions are staged on copies and committed to
// the cache only after the store write succeeds, so a failed write never
// leaves the cache ahead of the store.
type Manager struct {
	mu         sync.Mutex
	db         *bbolt.DB
	tasks      map[string]*Task
	stats      Stats
	counter    int
	maxSize    int
	maxRetries int
	timeSource TimeSource
}

// NewManager opens (or creates) the queue database at path and rebuilds
// the task table and stats from it.
func NewManager(path string, maxSize, maxRetries int) (*Manager, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(taskBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(statsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	m := &Manager{
		db:         db,
		tasks:      make(map[string]*Task),
		maxSize:    maxSize,
		maxRetries: maxRetries,
		timeSource: &defaultTimeSource{},
	}
	if err := m.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading queue state: %w", err)
	}

	slog.Info("Queue initialized", "tasks", len(m.tasks), "max_size", maxSize, "max_retries", maxRetries)
	return m, nil
}

// NewManagerWithDeps creates a Manager with a custom time source for testing
func NewManagerWithDeps(path string, maxSize, maxRetries int, timeSrc TimeSource) (*Manager, error) {
	m, err := NewManager(path, maxSize, maxRetries)
	if err != nil {
		return nil, err
	}
	m.timeSource = timeSrc
	return m, nil
}

func (m *Manager) load() error {
	return m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(taskBucket))
		err := bucket.ForEach(func(k, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				slog.Error("Skipping corrupt task record", "key", string(k), "error", err)
				return nil
			}
			m.tasks[task.ID] = &task
			// Ids end in a monotonic counter; resume past the highest one
			// so removed tasks never free an id for reuse.
			if idx := strings.LastIndex(task.ID, "_"); idx >= 0 {
				if n, err := strconv.Atoi(task.ID[idx+1:]); err == nil && n >= m.counter {
					m.counter = n + 1
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		if data := tx.Bucket([]byte(statsBucket)).Get([]byte(statsKey)); data != nil {
			if err := json.Unmarshal(data, &m.stats); err != nil {
				slog.Error("Resetting corrupt stats record", "error", err)
				m.stats = Stats{}
			}
		}
		return nil
	})
}

// AddTask enqueues a new pending task and returns its id. It returns
// ("", false) when the number of live (non-terminal) tasks has reached the
// queue's maximum size or when persistence fails.
func (m *Manager) AddTask(taskType Type, payload map[string]any) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveCount() >= m.maxSize {
		slog.Warn("Queue is full", "max_size", m.maxSize)
		return "", false
	}

	now := m.timeSource.Now()
	id := fmt.Sprintf("%s_%d_%d", taskType, now.Unix(), m.counter)

	task := &Task{
		ID:        id,
		Type:      taskType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	next := m.stats
	next.Total++

	if err := m.persist(task, next); err != nil {
		slog.Error("Failed to persist task", "id", id, "error", err)
		return "", false
	}

	m.tasks[id] = task
	m.stats = next
	m.counter++

	slog.Info("Added task", "id", id, "type", taskType)
	return id, true
}

// GetTask returns a copy of the task with the given id.
func (m *Manager) GetTask(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	snapshot := *task
	return &snapshot, true
}

// ClaimTask atomically moves the oldest pending task of one of the given
// types (any type when none are given) to processing and returns a copy of
// it. It returns (nil, false) when no pending task is available.
func (m *Manager) ClaimTask(types ...Type) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Task
	for _, task := range m.tasks {
		if task.Status != StatusPending || !matchesType(task.Type, types) {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) ||
			(task.CreatedAt.Equal(oldest.CreatedAt) && task.ID < oldest.ID) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, false
	}

	claimed := *oldest
	claimed.Status = StatusProcessing
	claimed.UpdatedAt = m.timeSource.Now()
	if err := m.persist(&claimed, m.stats); err != nil {
		slog.Error("Failed to persist claimed task", "id", oldest.ID, "error", err)
		return nil, false
	}
	*oldest = claimed

	snapshot := claimed
	return &snapshot, true
}

// CompleteTask records a successful result and moves the task to the
// terminal Completed state. Unknown ids and already-terminal tasks return
// false.
func (m *Manager) CompleteTask(id string, result map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		slog.Error("Task not found", "id", id)
		return false
	}
	if task.Status.Terminal() {
		slog.Warn("Ignoring completion of terminal task", "id", id, "status", task.Status)
		return false
	}

	updated := *task
	updated.Status = StatusCompleted
	updated.Result = result
	updated.UpdatedAt = m.timeSource.Now()
	next := m.stats
	next.Completed++

	if err := m.persist(&updated, next); err != nil {
		slog.Error("Failed to persist completed task", "id", id, "error", err)
		return false
	}
	*task = updated
	m.stats = next

	slog.Info("Completed task", "id", id)
	return true
}

// FailTask records a failed attempt. The retry counter is incremented;
// while it stays below the maximum the task returns to Pending, otherwise
// it moves to the terminal Failed state. Unknown ids and already-terminal
// tasks return false.
func (m *Manager) FailTask(id string, errMsg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		slog.Error("Task not found", "id", id)
		return false
	}
	if task.Status.Terminal() {
		slog.Warn("Ignoring failure of terminal task", "id", id, "status", task.Status)
		return false
	}

	updated := *task
	updated.Retries++
	updated.Error = errMsg
	updated.UpdatedAt = m.timeSource.Now()
	next := m.stats

	if updated.Retries >= m.maxRetries {
		updated.Status = StatusFailed
		next.Failed++
	} else {
		updated.Status = StatusPending
		next.Retries++
	}

	if err := m.persist(&updated, next); err != nil {
		slog.Error("Failed to persist failed task", "id", id, "error", err)
		return false
	}
	*task = updated
	m.stats = next

	if updated.Status == StatusFailed {
		slog.Warn("Task failed permanently", "id", id, "retries", updated.Retries)
	} else {
		slog.Info("Task returned to queue", "id", id, "retries", updated.Retries)
	}
	return true
}

// UpdateTask overwrites a task's status, result and error. Terminal tasks
// are never updated.
func (m *Manager) UpdateTask(id string, status Status, result map[string]any, errMsg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		slog.Error("Task not found", "id", id)
		return false
	}
	if task.Status.Terminal() {
		slog.Warn("Ignoring update of terminal task", "id", id, "status", task.Status)
		return false
	}

	updated := *task
	updated.Status = status
	updated.Result = result
	updated.Error = errMsg
	updated.UpdatedAt = m.timeSource.Now()

	if err := m.persist(&updated, m.stats); err != nil {
		slog.Error("Failed to persist updated task", "id", id, "error", err)
		return false
	}
	*task = updated
	return true
}

// RemoveTask deletes a task record regardless of state.
func (m *Manager) RemoveTask(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) bool {
	if _, ok := m.tasks[id]; !ok {
		slog.Error("Task not found", "id", id)
		return false
	}

	err := m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(taskBucket)).Delete([]byte(id))
	})
	if err != nil {
		slog.Error("Failed to delete task record", "id", id, "error", err)
		return false
	}

	delete(m.tasks, id)
	return true
}

// ClearQueue removes every task and resets the aggregate stats.
func (m *Manager) ClearQueue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(taskBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(taskBucket)); err != nil {
			return err
		}
		return saveStats(tx, Stats{})
	})
	if err != nil {
		slog.Error("Failed to clear queue", "error", err)
		return false
	}

	m.tasks = make(map[string]*Task)
	m.stats = Stats{}
	m.counter = 0

	slog.Info("Queue cleared")
	return true
}

// CleanupTasks removes terminal tasks whose last update is older than
// maxAge and returns how many were removed. Pending and processing tasks
// are never purged regardless of age.
func (m *Manager) CleanupTasks(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.timeSource.Now().Add(-maxAge)
	var stale []string
	for id, task := range m.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}

	count := 0
	for _, id := range stale {
		if m.removeLocked(id) {
			count++
		}
	}
	if count > 0 {
		slog.Info("Cleaned up old tasks", "count", count)
	}
	return count
}

// GetPendingTasks returns copies of pending tasks of the given types (any
// type when none are given), oldest first.
func (m *Manager) GetPendingTasks(types ...Type) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := make([]*Task, 0)
	for _, task := range m.tasks {
		if task.Status == StatusPending && matchesType(task.Type, types) {
			snapshot := *task
			tasks = append(tasks, &snapshot)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// GetQueueStats returns the persisted aggregate counters together with a
// by-status count of the current task table.
func (m *Manager) GetQueueStats() QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, task := range m.tasks {
		status[task.Status]++
	}

	return QueueStats{
		Total:     m.stats.Total,
		Completed: m.stats.Completed,
		Failed:    m.stats.Failed,
		Retries:   m.stats.Retries,
		Status:    status,
	}
}

// GetStats returns task counts by status and by type.
func (m *Manager) GetStats() DetailedStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := DetailedStats{
		Total:  len(m.tasks),
		ByType: make(map[Type]TypeStats),
	}
	for _, task := range m.tasks {
		byType := stats.ByType[task.Type]
		byType.Total++

		switch task.Status {
		case StatusPending:
			stats.Pending++
			byType.Pending++
		case StatusProcessing:
			stats.Processing++
			byType.Processing++
		case StatusCompleted:
			stats.Completed++
			byType.Completed++
		case StatusFailed:
			stats.Failed++
			byType.Failed++
		}
		stats.ByType[task.Type] = byType
	}
	return stats
}

// Close closes the queue database.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) liveCount() int {
	live := 0
	for _, task := range m.tasks {
		if !task.Status.Terminal() {
			live++
		}
	}
	return live
}

// persist writes the task and the aggregate stats in one transaction.
func (m *Manager) persist(task *Task, stats Stats) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshaling task: %w", err)
		}
		if err := tx.Bucket([]byte(taskBucket)).Put([]byte(task.ID), data); err != nil {
			return err
		}
		return saveStats(tx, stats)
	})
}

func saveStats(tx *bbolt.Tx, stats Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	return tx.Bucket([]byte(statsBucket)).Put([]byte(statsKey), data)
}

func matchesType(t Type, types []Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if t == candidate {
			return true
		}
	}
	return false
}
