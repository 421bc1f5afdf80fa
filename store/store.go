package store

import (
	"context"
	"fmt"
	"time"

	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/store/core"
	"github.com/afumu/barlens/store/repo"
	"github.com/afumu/barlens/store/types"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the read and write surface of the readout history.
type Store interface {
	BeginSession(ctx context.Context, id string, at time.Time) error
	EndSession(ctx context.Context, id string, at time.Time, reason string) error
	RecordTransition(ctx context.Context, t model.Transition) error
	RecordSnapshot(ctx context.Context, rows []model.SnapshotRow) error

	GetSnapshots(ctx context.Context, query types.SnapshotQuery) ([]*model.SnapshotRow, error)
	GetSessions(ctx context.Context, query types.SessionQuery) ([]*model.Session, error)
	GetTransitions(ctx context.Context, query types.TransitionQuery) ([]*model.Transition, error)

	// Prune drops readouts older than before.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// DefaultStore keeps the history in a sqlite file under the work dir.
type DefaultStore struct {
	pool *core.ConnectionPool
	repo *repo.Repository
}

// NewStore opens or creates history.db inside workDir.
func NewStore(workDir string) (*DefaultStore, error) {
	pool := core.NewConnectionPool(workDir)
	r, err := repo.New(context.Background(), pool)
	if err != nil {
		pool.CloseAll()
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &DefaultStore{pool: pool, repo: r}, nil
}

func (s *DefaultStore) BeginSession(ctx context.Context, id string, at time.Time) error {
	return s.repo.BeginSession(ctx, id, at)
}

func (s *DefaultStore) EndSession(ctx context.Context, id string, at time.Time, reason string) error {
	return s.repo.EndSession(ctx, id, at, reason)
}

func (s *DefaultStore) RecordTransition(ctx context.Context, t model.Transition) error {
	return s.repo.RecordTransition(ctx, t)
}

func (s *DefaultStore) RecordSnapshot(ctx context.Context, rows []model.SnapshotRow) error {
	return s.repo.RecordSnapshot(ctx, rows)
}

func (s *DefaultStore) GetSnapshots(ctx context.Context, query types.SnapshotQuery) ([]*model.SnapshotRow, error) {
	return s.repo.Snapshots(ctx, query)
}

func (s *DefaultStore) GetSessions(ctx context.Context, query types.SessionQuery) ([]*model.Session, error) {
	return s.repo.Sessions(ctx, query)
}

func (s *DefaultStore) GetTransitions(ctx context.Context, query types.TransitionQuery) ([]*model.Transition, error) {
	return s.repo.Transitions(ctx, query)
}

func (s *DefaultStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.Prune(ctx, before)
}

func (s *DefaultStore) Close() error {
	return s.pool.CloseAll()
}
