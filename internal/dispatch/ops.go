package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loctra/loctra/internal/ops"
	"github.com/loctra/loctra/internal/provider"
	"github.com/loctra/loctra/internal/tm"
)

// The dispatcher's closed operation set. Leaves call the provider;
// merges reassemble chunk results and are safe to replay.
const (
	opTranslateChunk  = "translateChunk"
	opFetchChunk      = "fetchChunk"
	opMergeTranslated = "mergeTranslated"
	opMergeFetched    = "mergeFetched"
)

// chunkArgs identifies one chunk of the task's job request. Units are
// resolved from the task context by guid, so checkpointed state stays
// small and the request is always rebuilt from job metadata on resume.
type chunkArgs struct {
	Index int      `json:"index"`
	GUIDs []string `json:"guids"`
}

type mergeArgs struct {
	JobGUID    string     `json:"jobGuid"`
	Provider   string     `json:"translationProvider"`
	ChunkGUIDs [][]string `json:"chunkGuids"`
}

func (d *Dispatcher) registerOps() error {
	type op struct {
		name       string
		fn         ops.OpFunc
		idempotent bool
	}
	for _, o := range []op{
		{opTranslateChunk, d.translateChunk, false},
		{opFetchChunk, d.fetchChunk, true},
		{opMergeTranslated, d.mergeTranslated, true},
		{opMergeFetched, d.mergeFetched, true},
	} {
		if err := d.manager.RegisterOp(o.name, o.fn, o.idempotent); err != nil {
			return err
		}
	}
	return nil
}

func taskRequest(taskCtx any) (tm.JobRequest, error) {
	req, ok := taskCtx.(tm.JobRequest)
	if !ok {
		return tm.JobRequest{}, fmt.Errorf("task context does not carry a job request")
	}
	return req, nil
}

// subRequest narrows a job request to the given guids, preserving
// their order.
func subRequest(req tm.JobRequest, guids []string) tm.JobRequest {
	byGUID := make(map[string]tm.Unit, len(req.Units))
	for _, u := range req.Units {
		byGUID[u.GUID] = u
	}
	sub := req
	sub.Units = make([]tm.Unit, 0, len(guids))
	for _, g := range guids {
		if u, ok := byGUID[g]; ok {
			sub.Units = append(sub.Units, u)
		}
	}
	return sub
}

func (d *Dispatcher) translateChunk(ctx context.Context, taskCtx any, raw json.RawMessage) (json.RawMessage, error) {
	req, err := taskRequest(taskCtx)
	if err != nil {
		return nil, err
	}
	var args chunkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode chunk args: %w", err)
	}
	p, ok := d.byName[req.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", req.Provider)
	}

	resp, err := p.RequestTranslations(ctx, subRequest(req, args.GUIDs))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("provider %s returned no response", req.Provider)
	}
	return json.Marshal(resp)
}

func (d *Dispatcher) fetchChunk(ctx context.Context, taskCtx any, raw json.RawMessage) (json.RawMessage, error) {
	req, err := taskRequest(taskCtx)
	if err != nil {
		return nil, err
	}
	var args chunkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode chunk args: %w", err)
	}
	p, ok := d.byName[req.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", req.Provider)
	}

	pending := tm.JobResponse{
		JobGUID:  req.JobGUID,
		Provider: req.Provider,
		Status:   tm.StatusPending,
		InFlight: args.GUIDs,
	}
	resp, err := p.FetchTranslations(ctx, pending, subRequest(req, args.GUIDs))
	if err != nil {
		return nil, err
	}
	// nil means not ready yet, encoded as JSON null for the merge
	return json.Marshal(resp)
}

// mergeTranslated reassembles translate-chunk responses in request
// order and validates each done chunk's cardinality against what was
// requested. A wrong count is a provider-contract violation and fails
// the task.
func (d *Dispatcher) mergeTranslated(_ context.Context, _ any, raw json.RawMessage) (json.RawMessage, error) {
	margs, responses, err := decodeMergeInput(raw)
	if err != nil {
		return nil, err
	}

	combined := tm.JobResponse{
		JobGUID:  margs.JobGUID,
		Provider: margs.Provider,
		Status:   tm.StatusDone,
	}
	for i, resp := range responses {
		expected := margs.ChunkGUIDs[i]
		if resp == nil {
			return nil, fmt.Errorf("chunk %d: missing response", i)
		}
		switch resp.Status {
		case tm.StatusDone:
			if len(resp.Units) != len(expected) {
				return nil, fmt.Errorf("chunk %d: got %d translations for %d units: %w",
					i, len(resp.Units), len(expected), ErrChunkCardinality)
			}
			combined.Units = append(combined.Units, resp.Units...)
		case tm.StatusPending:
			inflight := resp.InFlight
			if len(inflight) == 0 {
				inflight = expected
			}
			combined.InFlight = append(combined.InFlight, inflight...)
			if combined.Status != tm.StatusBlocked {
				combined.Status = tm.StatusPending
			}
		case tm.StatusBlocked:
			combined.Status = tm.StatusBlocked
		default:
			return nil, fmt.Errorf("chunk %d: unexpected status %q", i, resp.Status)
		}
	}
	return json.Marshal(combined)
}

// mergeFetched reassembles fetch-chunk responses. Chunks that returned
// null keep their guids in flight; when every chunk is null the whole
// merge yields null and the job stays pending untouched.
func (d *Dispatcher) mergeFetched(_ context.Context, _ any, raw json.RawMessage) (json.RawMessage, error) {
	margs, responses, err := decodeMergeInput(raw)
	if err != nil {
		return nil, err
	}

	combined := tm.JobResponse{
		JobGUID:  margs.JobGUID,
		Provider: margs.Provider,
	}
	allNull := true
	for i, resp := range responses {
		expected := margs.ChunkGUIDs[i]
		if resp == nil {
			combined.InFlight = append(combined.InFlight, expected...)
			continue
		}
		allNull = false
		switch resp.Status {
		case tm.StatusDone:
			if len(resp.Units) != len(expected) {
				return nil, fmt.Errorf("chunk %d: got %d translations for %d units: %w",
					i, len(resp.Units), len(expected), ErrChunkCardinality)
			}
			combined.Units = append(combined.Units, resp.Units...)
		case tm.StatusPending:
			combined.Units = append(combined.Units, resp.Units...)
			inflight := resp.InFlight
			if len(inflight) == 0 && len(resp.Units) == 0 {
				inflight = expected
			}
			combined.InFlight = append(combined.InFlight, inflight...)
			// a pending chunk keeps the job pending even when the
			// provider omits its inflight list
			if combined.Status != tm.StatusBlocked {
				combined.Status = tm.StatusPending
			}
		case tm.StatusBlocked:
			combined.Status = tm.StatusBlocked
		default:
			return nil, fmt.Errorf("chunk %d: unexpected status %q", i, resp.Status)
		}
	}
	if allNull {
		return json.Marshal(nil)
	}
	if combined.Status == "" {
		if len(combined.InFlight) > 0 {
			combined.Status = tm.StatusPending
		} else {
			combined.Status = tm.StatusDone
		}
	}
	return json.Marshal(combined)
}

func decodeMergeInput(raw json.RawMessage) (mergeArgs, []*tm.JobResponse, error) {
	var input ops.CommitInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return mergeArgs{}, nil, fmt.Errorf("decode commit input: %w", err)
	}
	var margs mergeArgs
	if err := json.Unmarshal(input.Args, &margs); err != nil {
		return margs, nil, fmt.Errorf("decode merge args: %w", err)
	}
	if len(margs.ChunkGUIDs) != len(input.Results) {
		return margs, nil, fmt.Errorf("merge expects %d chunk results, got %d",
			len(margs.ChunkGUIDs), len(input.Results))
	}
	responses := make([]*tm.JobResponse, len(input.Results))
	for i, r := range input.Results {
		var resp *tm.JobResponse
		if err := json.Unmarshal(r, &resp); err != nil {
			return margs, nil, fmt.Errorf("decode chunk %d response: %w", i, err)
		}
		responses[i] = resp
	}
	return margs, responses, nil
}

// runChunkTask builds and executes one chunked task against a provider
// and decodes the merged response. A nil response means nothing
// changed.
func (d *Dispatcher) runChunkTask(
	ctx context.Context,
	name, leafOp, mergeOp string,
	req tm.JobRequest,
	p provider.Provider,
	chunks [][]tm.Unit,
) (*tm.JobResponse, error) {
	task := d.manager.CreateTask(name)
	task.SetContext(req)
	task.SetParallelism(p.Limits().Parallelism)

	chunkGUIDs := make([][]string, 0, len(chunks))
	handles := make([]ops.Handle, 0, len(chunks))
	for i, chunk := range chunks {
		guids := make([]string, 0, len(chunk))
		for _, u := range chunk {
			guids = append(guids, u.GUID)
		}
		chunkGUIDs = append(chunkGUIDs, guids)
		h, err := task.Enqueue(leafOp, chunkArgs{Index: i, GUIDs: guids})
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	if err := task.Commit(mergeOp, mergeArgs{
		JobGUID:    req.JobGUID,
		Provider:   req.Provider,
		ChunkGUIDs: chunkGUIDs,
	}, handles); err != nil {
		return nil, err
	}

	out, err := task.Execute(ctx)
	if err != nil {
		return nil, err
	}
	var resp *tm.JobResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("decode merged response: %w", err)
	}
	return resp, nil
}
