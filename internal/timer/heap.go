// Package timer runs callbacks at scheduled times. Pending tasks sit in a
// min-heap ordered by due time; due tasks are handed to a fixed worker pool.
package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = errors.New("scheduler is stopped")

// Task is a callback scheduled for one execution.
type Task struct {
	ID    string
	DueAt time.Time
	Run   func()
	index int // position in the heap
}

// taskHeap is a min-heap of Tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Scheduler owns the heap and the worker pool.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	due     chan *Task
	stopCh  chan struct{}
	stopped bool
	workers int
	running int
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler that runs callbacks on workers goroutines.
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Task),
		stopCh:  make(chan struct{}),
		workers: workers,
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatcher and the workers.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.dispatch()
}

// Stop discards pending tasks and waits for running callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule runs fn at dueAt. A pending task with the same id is replaced.
func (s *Scheduler) Schedule(id string, dueAt time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, id)
	}

	task := &Task{ID: id, DueAt: dueAt, Run: fn}
	heap.Push(&s.heap, task)
	s.tasks[id] = task

	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a pending task and reports whether it was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// NextRun returns when task id is due.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.DueAt, true
}

// dispatch pops due tasks and hands them to the workers.
func (s *Scheduler) dispatch() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		wait := 24 * time.Hour
		var ready *Task
		if s.heap.Len() > 0 {
			wait = time.Until(s.heap[0].DueAt)
			if wait <= 0 {
				ready = heap.Pop(&s.heap).(*Task)
				delete(s.tasks, ready.ID)
			}
		}
		s.mu.Unlock()

		if ready != nil {
			select {
			case s.due <- ready:
			case <-s.stopCh:
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.due:
			s.setRunning(1)
			task.Run()
			s.setRunning(-1)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) setRunning(delta int) {
	s.mu.Lock()
	s.running += delta
	s.mu.Unlock()
}

// Stats returns a snapshot of the scheduler.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Pending: len(s.tasks),
		Running: s.running,
		Workers: s.workers,
	}
}

// Stats describes the scheduler's load.
type Stats struct {
	Pending int
	Running int
	Workers int
}
