package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 30 * time.Second

	heightTimeout = 10 * time.Second
)

// heightSource is the subset of the wallet backend needed to poll the tip.
type heightSource interface {
	GetBlockHeight(ctx context.Context) (uint32, error)
}

type heightTask struct {
	target uint32
	fn     func()
}

type service struct {
	scheduler    *gocron.Scheduler
	heights      heightSource
	pollInterval time.Duration

	mu          *sync.Mutex
	blockCancel context.CancelFunc
	tasks       []*heightTask
	tipHeight   uint32
}

func NewScheduler(heights heightSource, pollInterval time.Duration) ports.SchedulerService {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	svc := gocron.NewScheduler(time.UTC)
	return &service{
		scheduler:    svc,
		heights:      heights,
		pollInterval: pollInterval,
		mu:           &sync.Mutex{},
	}
}

func (s *service) Start() {
	s.scheduler.StartAsync()

	s.mu.Lock()
	if s.blockCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.blockCancel = cancel
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(s.pollInterval)
		defer t.Stop()
		for {
			callCtx, cancel := context.WithTimeout(ctx, heightTimeout)
			h, err := s.heights.GetBlockHeight(callCtx)
			cancel()

			if err != nil {
				log.WithError(err).Debug("failed to poll tip height")
			} else {
				s.onHeight(h)
			}

			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

func (s *service) Stop() {
	s.scheduler.Stop()
	s.scheduler.Clear()

	s.mu.Lock()
	if s.blockCancel != nil {
		s.blockCancel()
		s.blockCancel = nil
	}
	s.mu.Unlock()
}

func (s *service) ScheduleAtHeight(target uint32, task func()) error {
	if target <= 0 {
		return fmt.Errorf("invalid height: %d", target)
	}
	if task == nil {
		return fmt.Errorf("missing task")
	}

	s.mu.Lock()
	tip := s.tipHeight
	if tip > 0 && tip >= target {
		s.mu.Unlock()
		go task()
		return nil
	}
	s.tasks = append(s.tasks, &heightTask{target: target, fn: task})
	s.mu.Unlock()
	return nil
}

func (s *service) ScheduleEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %s", interval)
	}
	if task == nil {
		return fmt.Errorf("missing task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.scheduler.Every(interval).SingletonMode().Do(task)
	return err
}

// lastHeight returns the last polled tip height, 0 before the first poll.
func (s *service) lastHeight() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tipHeight
}

func (s *service) onHeight(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h != s.tipHeight {
		log.Debugf("new tip height %d", h)
	}
	s.tipHeight = h

	keep := s.tasks[:0]
	for _, tsk := range s.tasks {
		if h >= tsk.target {
			go tsk.fn()
			continue
		}
		keep = append(keep, tsk)
	}
	s.tasks = keep
}
