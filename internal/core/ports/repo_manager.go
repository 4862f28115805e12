package ports

import "github.com/ArkLabsHQ/deadman/internal/core/domain"

type RepoManager interface {
	Transitions() domain.TransitionRepository
	WatchedStashes() domain.WatchedStashRepository
	Close()
}
