package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultWatchInterval = time.Minute
	// DefaultMargin is the number of blocks before expiry at which the owner
	// is reminded to check in.
	DefaultMargin uint32 = 144
)

// SecretProvider returns the owner secret descriptor of a watched stash. It
// is used for automatic check-ins.
type SecretProvider func(
	ctx context.Context, public *stash.PublicDescriptor,
) (*stash.SecretDescriptor, error)

type WatchArgs struct {
	Descriptor  string
	AutoCheckIn bool
	Margin      uint32
}

type watchEntry struct {
	stash  domain.WatchedStash
	public *stash.PublicDescriptor
	// reminderHeight is the tip height of the currently scheduled reminder,
	// 0 if none.
	reminderHeight uint32
}

type watcher struct {
	svc *Service

	mu             sync.Mutex
	entries        map[string]*watchEntry
	secretProvider SecretProvider
	started        bool
}

func newWatcher(svc *Service) *watcher {
	return &watcher{
		svc:     svc,
		entries: make(map[string]*watchEntry),
	}
}

// SetSecretProvider enables automatic check-ins for stashes watched with
// AutoCheckIn.
func (s *Service) SetSecretProvider(provider SecretProvider) {
	s.watcher.mu.Lock()
	defer s.watcher.mu.Unlock()
	s.watcher.secretProvider = provider
}

// Watch persists a stash to monitor and evaluates it right away.
func (s *Service) Watch(ctx context.Context, args WatchArgs) (*domain.WatchedStash, error) {
	public, err := stash.ParsePublicDescriptor(args.Descriptor, s.cfg.Network)
	if err != nil {
		return nil, err
	}
	margin := args.Margin
	if margin == 0 {
		margin = DefaultMargin
	}
	if margin >= public.Policy().Timelock {
		return nil, fmt.Errorf(
			"margin %d must be lower than the timelock %d", margin, public.Policy().Timelock,
		)
	}

	watched := domain.WatchedStash{
		Id:          public.Checksum(),
		Descriptor:  public.String(),
		AutoCheckIn: args.AutoCheckIn,
		Margin:      margin,
		CreatedAt:   time.Now().Unix(),
	}
	if err := s.repoManager.WatchedStashes().Add(ctx, watched); err != nil {
		return nil, err
	}

	s.watcher.add(watched, public)
	log.Infof("watching stash %s", watched.Id)

	s.watcher.evaluate(ctx, watched.Id)
	return &watched, nil
}

// Unwatch stops monitoring a stash.
func (s *Service) Unwatch(ctx context.Context, id string) error {
	if _, err := s.getWatched(id); err != nil {
		return err
	}
	if err := s.repoManager.WatchedStashes().Delete(ctx, id); err != nil {
		return err
	}

	s.watcher.mu.Lock()
	delete(s.watcher.entries, id)
	s.watcher.mu.Unlock()

	log.Infof("stopped watching stash %s", id)
	return nil
}

func (s *Service) ListWatched(ctx context.Context) ([]domain.WatchedStash, error) {
	return s.repoManager.WatchedStashes().GetAll(ctx)
}

func (s *Service) GetWatchedStatus(ctx context.Context, id string) (*domain.Status, error) {
	public, err := s.getWatched(id)
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, public)
}

func (s *Service) GetWatchedHistory(ctx context.Context, id string) ([]domain.Transition, error) {
	public, err := s.getWatched(id)
	if err != nil {
		return nil, err
	}
	return s.History(ctx, public)
}

// StartWatching restores the persisted stashes and evaluates all of them
// every interval.
func (s *Service) StartWatching(ctx context.Context, interval time.Duration) error {
	if s.schedulerSvc == nil {
		return fmt.Errorf("missing scheduler")
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	s.watcher.mu.Lock()
	if s.watcher.started {
		s.watcher.mu.Unlock()
		return nil
	}
	s.watcher.started = true
	s.watcher.mu.Unlock()

	watched, err := s.repoManager.WatchedStashes().GetAll(ctx)
	if err != nil {
		return err
	}
	for _, w := range watched {
		public, err := stash.ParsePublicDescriptor(w.Descriptor, s.cfg.Network)
		if err != nil {
			log.WithError(err).Warnf("skipping watched stash %s", w.Id)
			continue
		}
		s.watcher.add(w, public)
	}
	log.Infof("restored %d watched stashes", len(watched))

	s.schedulerSvc.Start()
	return s.schedulerSvc.ScheduleEvery(interval, func() {
		s.watcher.evaluateAll(context.Background())
	})
}

func (s *Service) StopWatching() {
	if s.schedulerSvc != nil {
		s.schedulerSvc.Stop()
	}

	s.watcher.mu.Lock()
	s.watcher.started = false
	s.watcher.mu.Unlock()
}

func (s *Service) getWatched(id string) (*stash.PublicDescriptor, error) {
	s.watcher.mu.Lock()
	defer s.watcher.mu.Unlock()

	entry, ok := s.watcher.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWatched, id)
	}
	return entry.public, nil
}

func (w *watcher) add(watched domain.WatchedStash, public *stash.PublicDescriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[watched.Id] = &watchEntry{stash: watched, public: public}
}

func (w *watcher) evaluateAll(ctx context.Context) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.evaluate(ctx, id)
	}
}

// evaluate fetches the status of a watched stash and reacts to it: warns
// when expiry is within the margin, checks in if enabled and schedules the
// next reminder.
func (w *watcher) evaluate(ctx context.Context, id string) {
	w.mu.Lock()
	entry, ok := w.entries[id]
	w.mu.Unlock()
	if !ok {
		return
	}

	status, err := w.svc.Status(ctx, entry.public)
	if err != nil {
		log.WithError(err).Warnf("failed to get status of stash %s", id)
		return
	}

	logger := log.WithFields(log.Fields{
		"stash":   id,
		"state":   status.StateName,
		"balance": status.Balance,
		"tip":     status.TipHeight,
	})

	switch status.State {
	case domain.StateExpired:
		logger.Warn("timelock expired, funds can be redeemed")
		return
	case domain.StateActive:
	default:
		logger.Debug("nothing to watch")
		return
	}

	if status.ExpiryHeight == 0 {
		logger.Debug("waiting for confirmation")
		return
	}

	margin := entry.stash.Margin
	if status.BlocksUntilExpiry > margin {
		w.scheduleReminder(id, status.ExpiryHeight-margin)
		logger.Debugf("%d blocks until expiry", status.BlocksUntilExpiry)
		return
	}

	logger.Warnf("%d blocks until expiry, check in required", status.BlocksUntilExpiry)
	if !entry.stash.AutoCheckIn {
		return
	}
	w.checkIn(ctx, entry)
}

func (w *watcher) checkIn(ctx context.Context, entry *watchEntry) {
	w.mu.Lock()
	provider := w.secretProvider
	w.mu.Unlock()

	id := entry.stash.Id
	if provider == nil {
		log.Warnf("automatic check-in of stash %s disabled, no secret available", id)
		return
	}

	secret, err := provider(ctx, entry.public)
	if err != nil {
		log.WithError(err).Warnf("failed to get secret of stash %s", id)
		return
	}
	defer secret.Wipe()

	if secret.Path() != stash.PathOwner {
		log.Warnf("automatic check-in of stash %s requires the owner secret", id)
		return
	}

	txid, err := w.svc.CheckIn(ctx, secret)
	if err != nil {
		if isTerminal(err) {
			log.WithError(err).Errorf("automatic check-in of stash %s failed", id)
			return
		}
		log.WithError(err).Warnf("automatic check-in of stash %s failed, retrying later", id)
		return
	}
	log.Infof("automatic check-in of stash %s in tx %s", id, txid)
}

func (w *watcher) scheduleReminder(id string, height uint32) {
	w.mu.Lock()
	entry, ok := w.entries[id]
	if !ok || entry.reminderHeight == height {
		w.mu.Unlock()
		return
	}
	entry.reminderHeight = height
	w.mu.Unlock()

	if w.svc.schedulerSvc == nil {
		return
	}
	if err := w.svc.schedulerSvc.ScheduleAtHeight(height, func() {
		w.mu.Lock()
		if entry, ok := w.entries[id]; ok && entry.reminderHeight == height {
			entry.reminderHeight = 0
		}
		w.mu.Unlock()
		w.evaluate(context.Background(), id)
	}); err != nil {
		log.WithError(err).Warnf("failed to schedule reminder for stash %s", id)
		return
	}
	log.Debugf("scheduled reminder for stash %s at height %d", id, height)
}
