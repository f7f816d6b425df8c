package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/pkg/cerr"
	"github.com/claimboard/claimboard/pkg/storage"
)

const boardsPrefix = "boards"

type YAMLRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", boardsPrefix, id)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*board.Board, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("board", err)
	}
	var b board.Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal board: %w", err))
	}
	return &b, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*board.Board, error) {
	paths, err := r.storage.List(ctx, boardsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("boards", err)
	}
	sort.Strings(paths)

	var boards []*board.Board
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var b board.Board
		if err := yaml.Unmarshal(data, &b); err != nil {
			continue
		}
		boards = append(boards, &b)
	}
	return boards, nil
}

func (r *YAMLRepository) Save(ctx context.Context, b *board.Board) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(b)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal board: %w", err))
	}
	if err := r.storage.Write(ctx, path(b.ID), data); err != nil {
		return cerr.WrapStorageWriteError("board", err)
	}
	return nil
}

// EnsureDefault seeds the default board when no board exists yet.
func (r *YAMLRepository) EnsureDefault(ctx context.Context) (*board.Board, error) {
	b, err := r.Get(ctx, board.DefaultBoardID)
	if err == nil {
		return b, nil
	}
	if !cerr.IsCode(err, cerr.NotFound) {
		return nil, err
	}
	b = board.DefaultBoard(time.Now())
	if err := r.Save(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}
