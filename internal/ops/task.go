package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Handle identifies an enqueued leaf within its task.
type Handle int

// CommitInput is what a commit operation receives as its argument
// payload: the merge arguments plus the leaf results in declaration
// order.
type CommitInput struct {
	Args    json.RawMessage   `json:"args,omitempty"`
	Results []json.RawMessage `json:"results"`
}

type leaf struct {
	op     string
	args   json.RawMessage
	result json.RawMessage
	done   bool
}

type commitNode struct {
	op      string
	args    json.RawMessage
	handles []Handle
}

// Task is a single-use graph of leaf invocations and one commit node.
// Build it synchronously, then call Execute exactly once.
type Task struct {
	manager     *Manager
	name        string
	parallelism int64
	taskCtx     any
	leaves      []*leaf
	commit      *commitNode
	executed    bool
}

// Name returns the task identifier. Persisting it is all a caller
// needs to resume the task later.
func (t *Task) Name() string { return t.name }

// SetContext attaches data visible to every operation run inside the
// task, such as provider configuration shared across chunk calls.
func (t *Task) SetContext(taskCtx any) {
	t.taskCtx = taskCtx
}

// SetParallelism bounds how many leaves run concurrently. Values below
// one are treated as one.
func (t *Task) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	t.parallelism = int64(n)
}

// Enqueue schedules a leaf invocation and returns its handle.
func (t *Task) Enqueue(op string, args any) (Handle, error) {
	if _, ok := t.manager.lookup(op); !ok {
		return 0, fmt.Errorf("operation %s is not registered", op)
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return 0, fmt.Errorf("encode args for %s: %w", op, err)
	}
	t.leaves = append(t.leaves, &leaf{op: op, args: encoded})
	return Handle(len(t.leaves) - 1), nil
}

// Commit declares the terminal node consuming the given leaves'
// results.
func (t *Task) Commit(op string, args any, handles []Handle) error {
	if t.commit != nil {
		return fmt.Errorf("task %s already has a commit operation", t.name)
	}
	if _, ok := t.manager.lookup(op); !ok {
		return fmt.Errorf("operation %s is not registered", op)
	}
	for _, h := range handles {
		if int(h) < 0 || int(h) >= len(t.leaves) {
			return fmt.Errorf("invalid leaf handle %d", h)
		}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args for %s: %w", op, err)
	}
	t.commit = &commitNode{op: op, args: encoded, handles: handles}
	return nil
}

// Execute runs all pending leaves concurrently (bounded by the task's
// parallelism), then runs the commit operation on the collected results
// and returns its output. Leaves already completed in a prior resumed
// run are not re-invoked. The first leaf failure aborts the task and
// the commit never runs.
func (t *Task) Execute(ctx context.Context) (json.RawMessage, error) {
	if t.executed {
		return nil, fmt.Errorf("task %s already executed", t.name)
	}
	t.executed = true
	if t.commit == nil {
		return nil, fmt.Errorf("task %s has no commit operation", t.name)
	}

	if err := t.restoreCheckpoints(ctx); err != nil {
		return nil, err
	}

	if err := t.runLeaves(ctx); err != nil {
		return nil, err
	}

	results := make([]json.RawMessage, 0, len(t.commit.handles))
	for _, h := range t.commit.handles {
		results = append(results, t.leaves[h].result)
	}
	input, err := json.Marshal(CommitInput{Args: t.commit.args, Results: results})
	if err != nil {
		return nil, fmt.Errorf("encode commit input: %w", err)
	}

	op, _ := t.manager.lookup(t.commit.op)
	out, err := op.fn(ctx, t.taskCtx, input)
	if err != nil && op.idempotent {
		// a safely replayable commit gets one transparent retry
		t.manager.logger.Warn("task %s: commit %s failed, retrying: %v", t.name, t.commit.op, err)
		out, err = op.fn(ctx, t.taskCtx, input)
	}
	if err != nil {
		return nil, fmt.Errorf("task %s: commit %s: %w", t.name, t.commit.op, err)
	}

	if t.manager.checkpoints != nil {
		if cerr := t.manager.checkpoints.ClearTask(ctx, t.name); cerr != nil {
			t.manager.logger.Warn("task %s: clear checkpoints: %v", t.name, cerr)
		}
	}
	return out, nil
}

// restoreCheckpoints marks leaves completed by a previous run of the
// same task name. A checkpoint only counts when its operation matches
// the leaf enqueued at that position.
func (t *Task) restoreCheckpoints(ctx context.Context) error {
	cs := t.manager.checkpoints
	if cs == nil {
		return nil
	}
	checkpoints, err := cs.LoadLeafResults(ctx, t.name)
	if err != nil {
		return fmt.Errorf("task %s: load checkpoints: %w", t.name, err)
	}
	for _, cp := range checkpoints {
		if cp.LeafIndex < 0 || cp.LeafIndex >= len(t.leaves) {
			continue
		}
		l := t.leaves[cp.LeafIndex]
		if l.op != cp.Op {
			continue
		}
		l.result = json.RawMessage(cp.Result)
		l.done = true
	}
	return nil
}

func (t *Task) runLeaves(ctx context.Context) error {
	sem := semaphore.NewWeighted(t.parallelism)
	g, gctx := errgroup.WithContext(ctx)

	for i, l := range t.leaves {
		if l.done {
			t.manager.logger.Debug("task %s: leaf %d (%s) already complete, skipping", t.name, i, l.op)
			continue
		}
		op, ok := t.manager.lookup(l.op)
		if !ok {
			return fmt.Errorf("operation %s is not registered", l.op)
		}
		idx, lf := i, l
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			result, err := op.fn(gctx, t.taskCtx, lf.args)
			if err != nil {
				return fmt.Errorf("leaf %d (%s): %w", idx, lf.op, err)
			}
			lf.result = result
			lf.done = true
			if cs := t.manager.checkpoints; cs != nil {
				if cerr := cs.SaveLeafResult(gctx, t.name, idx, lf.op, result); cerr != nil {
					return fmt.Errorf("leaf %d (%s): checkpoint: %w", idx, lf.op, cerr)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("task %s: %w", t.name, err)
	}
	return nil
}
