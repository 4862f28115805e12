package domain

import "context"

// WatchedStash is a stash monitored by the watch daemon.
type WatchedStash struct {
	Id          string
	Descriptor  string
	AutoCheckIn bool
	Margin      uint32
	CreatedAt   int64
}

type WatchedStashRepository interface {
	Add(ctx context.Context, stash WatchedStash) error
	Get(ctx context.Context, id string) (*WatchedStash, error)
	GetAll(ctx context.Context) ([]WatchedStash, error)
	Delete(ctx context.Context, id string) error
	Close()
}
