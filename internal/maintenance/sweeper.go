// Package maintenance runs the periodic cleanup of aged security state:
// rate-limit tracking data, lockout records, speed-limiter windows, and
// expired refresh-registry entries. The sweep is best effort and fully
// decoupled from request handling.
package maintenance

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = time.Hour

// Task is one named sweep target; Run returns how many entries it removed.
type Task struct {
	Name string
	Run  func(now time.Time) int
}

type Sweeper struct {
	interval time.Duration
	logger   *zap.Logger
	tasks    []Task

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

func NewSweeper(interval time.Duration, logger *zap.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		interval: interval,
		logger:   logger,
		tasks:    tasks,
		stop:     make(chan struct{}),
	}
}

// Start launches the background loop. Safe to call once.
func (s *Sweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(time.Now().UTC())
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

// RunOnce executes every task immediately and returns removal counts per
// task name. Used by the ticker loop and by the HTTP trigger.
func (s *Sweeper) RunOnce(now time.Time) map[string]int {
	results := make(map[string]int, len(s.tasks))
	for _, task := range s.tasks {
		removed := task.Run(now)
		results[task.Name] = removed
		s.logger.Info("maintenance_sweep",
			zap.String("task", task.Name),
			zap.Int("removed", removed),
		)
	}
	return results
}
