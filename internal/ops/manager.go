// Package ops runs per-job task graphs: a set of enqueued leaf
// operations plus one commit operation that consumes their results.
// Leaves run concurrently under a bounded parallelism limit and their
// results are checkpointed, so a task can be resumed by name after a
// process restart without replaying completed work.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loctra/loctra/internal/tm"
	"github.com/loctra/loctra/pkg/log"
)

// OpFunc is a registered operation. It receives the task context set by
// SetContext and its own arguments, and returns a JSON-encodable
// result. Operations decode their own argument payloads.
type OpFunc func(ctx context.Context, taskCtx any, args json.RawMessage) (json.RawMessage, error)

// CheckpointStore persists completed leaf results keyed by task name.
// The TM store implements it.
type CheckpointStore interface {
	SaveLeafResult(ctx context.Context, taskName string, leafIndex int, op string, result []byte) error
	LoadLeafResults(ctx context.Context, taskName string) ([]tm.LeafCheckpoint, error)
	ClearTask(ctx context.Context, taskName string) error
}

type operation struct {
	fn         OpFunc
	idempotent bool
}

// Manager owns the operation registry and creates tasks.
type Manager struct {
	logger      *log.Logger
	checkpoints CheckpointStore
	regression  bool
	nameCounter uint64

	mu  sync.RWMutex
	ops map[string]operation
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger injects the manager's logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithCheckpoints enables leaf checkpointing and task resume.
func WithCheckpoints(cs CheckpointStore) ManagerOption {
	return func(m *Manager) { m.checkpoints = cs }
}

// WithRegressionNaming makes generated task names a deterministic
// sequence instead of random uuids.
func WithRegressionNaming() ManagerOption {
	return func(m *Manager) { m.regression = true }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: log.GetLogger(),
		ops:    make(map[string]operation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterOp associates a name with an operation and declares whether
// repeated execution with the same arguments is safe.
func (m *Manager) RegisterOp(name string, fn OpFunc, idempotent bool) error {
	if name == "" {
		return fmt.Errorf("operation name is required")
	}
	if fn == nil {
		return fmt.Errorf("operation %s: function is required", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ops[name]; exists {
		return fmt.Errorf("operation %s already registered", name)
	}
	m.ops[name] = operation{fn: fn, idempotent: idempotent}
	return nil
}

func (m *Manager) lookup(name string) (operation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[name]
	return op, ok
}

// CreateTask returns a fresh graph builder. An empty name asks the
// manager to generate one; passing the name of a previously
// checkpointed task resumes it.
func (m *Manager) CreateTask(name string) *Task {
	if name == "" {
		if m.regression {
			name = fmt.Sprintf("task-%04d", atomic.AddUint64(&m.nameCounter, 1))
		} else {
			name = "task-" + uuid.NewString()
		}
	}
	return &Task{
		manager:     m,
		name:        name,
		parallelism: 1,
	}
}
