package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/pkg/cerr"
	"github.com/claimboard/claimboard/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository persists one YAML document per task on a storage backend.
// A single mutex serializes every conditional update, which is what gives
// the read-check-write sequence its atomicity in this implementation.
type YAMLRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) Find(ctx context.Context, where task.Where) ([]*task.Task, error) {
	return r.find(ctx, where)
}

func (r *YAMLRepository) Update(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return r.write(ctx, t)
}

// ConditionalUpdate re-reads every candidate row under the repository mutex,
// re-checks the predicate, and applies the patch. Callers racing on the same
// row observe either the state before or after the whole batch, never an
// intermediate one.
func (r *YAMLRepository) ConditionalUpdate(ctx context.Context, where task.Where, patch task.Patch) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched, err := r.find(ctx, where)
	if err != nil {
		return nil, err
	}

	var affected []string
	for _, t := range matched {
		patch.Apply(t)
		if err := r.write(ctx, t); err != nil {
			return affected, err
		}
		affected = append(affected, t.ID)
	}
	return affected, nil
}

func (r *YAMLRepository) find(ctx context.Context, where task.Where) ([]*task.Task, error) {
	if where.ID != "" {
		t, err := r.Get(ctx, where.ID)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !where.Matches(t) {
			return nil, nil
		}
		return []*task.Task{t}, nil
	}

	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	sort.Strings(paths)

	var matched []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t task.Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		if where.Matches(&t) {
			matched = append(matched, &t)
		}
	}
	return matched, nil
}

func (r *YAMLRepository) write(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}
