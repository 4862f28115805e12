package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const transitionsDir = "transitions"

type transitionRepository struct {
	store *badgerhold.Store
}

func NewTransitionRepository(baseDir string, logger badger.Logger) (domain.TransitionRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, transitionsDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transitions store: %s", err)
	}
	return &transitionRepository{store}, nil
}

// Add appends a transition to the audit trail
func (r *transitionRepository) Add(ctx context.Context, transition domain.Transition) error {
	if len(transition.StashId) <= 0 {
		return fmt.Errorf("missing stash id")
	}
	if len(transition.Id) <= 0 {
		return fmt.Errorf("missing transition id")
	}
	if len(transition.Txid) <= 0 {
		return fmt.Errorf("missing txid")
	}

	data := toTransitionData(transition)
	data.Timestamp = time.Now().UnixNano()
	if err := r.store.Insert(data.Id, data); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("transition %s already exists", transition.Id)
		}
		return err
	}
	return nil
}

// GetAll returns the transitions of a stash in insertion order
func (r *transitionRepository) GetAll(ctx context.Context, stashId string) ([]domain.Transition, error) {
	var data []transitionData
	query := badgerhold.Where("StashId").Eq(stashId)
	if err := r.store.Find(&data, query); err != nil {
		return nil, fmt.Errorf("failed to get transitions of stash %s: %w", stashId, err)
	}
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Timestamp < data[j].Timestamp
	})

	transitions := make([]domain.Transition, 0, len(data))
	for _, d := range data {
		transitions = append(transitions, d.toTransition())
	}
	return transitions, nil
}

func (r *transitionRepository) Close() {
	// nolint:all
	r.store.Close()
}

type transitionData struct {
	Id          string
	StashId     string `badgerhold:"index"`
	Operation   string
	From        int
	To          int
	Txid        string
	Amount      uint64
	Fee         uint64
	Destination string
	Height      uint32
	CreatedAt   int64
	Timestamp   int64
}

func toTransitionData(t domain.Transition) transitionData {
	return transitionData{
		Id:          t.Id,
		StashId:     t.StashId,
		Operation:   string(t.Operation),
		From:        int(t.From),
		To:          int(t.To),
		Txid:        t.Txid,
		Amount:      t.Amount,
		Fee:         t.Fee,
		Destination: t.Destination,
		Height:      t.Height,
		CreatedAt:   t.CreatedAt,
	}
}

func (d transitionData) toTransition() domain.Transition {
	return domain.Transition{
		Id:          d.Id,
		StashId:     d.StashId,
		Operation:   domain.Operation(d.Operation),
		From:        domain.State(d.From),
		To:          domain.State(d.To),
		Txid:        d.Txid,
		Amount:      d.Amount,
		Fee:         d.Fee,
		Destination: d.Destination,
		Height:      d.Height,
		CreatedAt:   d.CreatedAt,
	}
}
