package db

import (
	"fmt"
	"strings"

	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	badgerdb "github.com/ArkLabsHQ/deadman/internal/infrastructure/db/badger"
	"github.com/dgraph-io/badger/v4"
)

var (
	allowedTypes = strings.Join([]string{"badger"}, ",")
)

type ServiceConfig struct {
	DbType   string
	DbConfig []any
}

type service struct {
	transitionRepo   domain.TransitionRepository
	watchedStashRepo domain.WatchedStashRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	var (
		transitionRepo   domain.TransitionRepository
		watchedStashRepo domain.WatchedStashRepository
		err              error
	)
	switch config.DbType {
	case "badger":
		if len(config.DbConfig) != 2 {
			return nil, fmt.Errorf("badger db config must have 2 elements, got %d", len(config.DbConfig))
		}
		baseDir, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}
		var logger badger.Logger
		if config.DbConfig[1] != nil {
			logger, ok = config.DbConfig[1].(badger.Logger)
			if !ok {
				return nil, fmt.Errorf("invalid logger")
			}
		}
		transitionRepo, err = badgerdb.NewTransitionRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open transitions db: %s", err)
		}
		watchedStashRepo, err = badgerdb.NewWatchedStashRepository(baseDir, logger)
		if err != nil {
			transitionRepo.Close()
			return nil, fmt.Errorf("failed to open watched stashes db: %s", err)
		}
	default:
		return nil, fmt.Errorf("unsupported db type %s, please select one of %s", config.DbType, allowedTypes)
	}

	return &service{
		transitionRepo:   transitionRepo,
		watchedStashRepo: watchedStashRepo,
	}, nil
}

func (s *service) Transitions() domain.TransitionRepository {
	return s.transitionRepo
}

func (s *service) WatchedStashes() domain.WatchedStashRepository {
	return s.watchedStashRepo
}

func (s *service) Close() {
	s.transitionRepo.Close()
	s.watchedStashRepo.Close()
}
