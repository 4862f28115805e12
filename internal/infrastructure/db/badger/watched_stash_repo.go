package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const watchedStashesDir = "watched"

type watchedStashRepository struct {
	store *badgerhold.Store
}

func NewWatchedStashRepository(
	baseDir string, logger badger.Logger,
) (domain.WatchedStashRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, watchedStashesDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open watched stashes store: %s", err)
	}
	return &watchedStashRepository{store}, nil
}

// Add stores a watched stash, replacing any previous one with the same id
func (r *watchedStashRepository) Add(ctx context.Context, stash domain.WatchedStash) error {
	if len(stash.Id) <= 0 {
		return fmt.Errorf("missing stash id")
	}
	if len(stash.Descriptor) <= 0 {
		return fmt.Errorf("missing descriptor")
	}
	return r.store.Upsert(stash.Id, watchedStashData(stash))
}

func (r *watchedStashRepository) Get(ctx context.Context, id string) (*domain.WatchedStash, error) {
	var data watchedStashData
	err := r.store.Get(id, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("watched stash %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watched stash: %w", err)
	}
	stash := domain.WatchedStash(data)
	return &stash, nil
}

func (r *watchedStashRepository) GetAll(ctx context.Context) ([]domain.WatchedStash, error) {
	var data []watchedStashData
	if err := r.store.Find(&data, nil); err != nil {
		return nil, fmt.Errorf("failed to get watched stashes: %w", err)
	}
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].CreatedAt < data[j].CreatedAt
	})

	stashes := make([]domain.WatchedStash, 0, len(data))
	for _, d := range data {
		stashes = append(stashes, domain.WatchedStash(d))
	}
	return stashes, nil
}

func (r *watchedStashRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(id, watchedStashData{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("watched stash %s not found", id)
	}
	return err
}

func (r *watchedStashRepository) Close() {
	// nolint:all
	r.store.Close()
}

type watchedStashData struct {
	Id          string
	Descriptor  string
	AutoCheckIn bool
	Margin      uint32
	CreatedAt   int64
}
