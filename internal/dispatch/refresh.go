package dispatch

import (
	"context"
	"fmt"

	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/internal/tm"
)

// RefreshJob pushes already-translated candidates back through a
// provider to detect drift after source corrections. Results whose
// target is byte-identical to the current authoritative translation
// are filtered out; when nothing changed, nothing is persisted and the
// returned response carries no units.
func (d *Dispatcher) RefreshJob(ctx context.Context, candidates []tm.Unit, providerName string) (*tm.JobResponse, error) {
	p, ok := d.byName[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", providerName)
	}

	translated := make([]tm.Unit, 0, len(candidates))
	for _, u := range candidates {
		existing, err := d.store.GetEntryByGUID(ctx, u.GUID)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", u.GUID, err)
		}
		if existing == nil || existing.InFlight() {
			continue
		}
		translated = append(translated, u)
	}
	if len(translated) == 0 {
		return &tm.JobResponse{Provider: providerName, Status: tm.StatusDone}, nil
	}

	req := tm.JobRequest{
		JobGUID:    d.newJobGUID(),
		SourceLang: d.store.SourceLang(),
		TargetLang: d.store.TargetLang(),
		Provider:   providerName,
		Units:      translated,
	}
	resp, err := p.RefreshTranslations(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Status != tm.StatusDone {
		return nil, fmt.Errorf("refresh must complete synchronously, got %v", resp)
	}

	changed := make([]tm.Unit, 0, len(resp.Units))
	for _, u := range resp.Units {
		existing, err := d.store.GetEntryByGUID(ctx, u.GUID)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", u.GUID, err)
		}
		if existing != nil && segment.Equal(existing.Target, u.Target) {
			continue
		}
		changed = append(changed, u)
	}

	filtered := *resp
	filtered.JobGUID = req.JobGUID
	filtered.Units = changed
	if len(changed) == 0 {
		d.logger.Debug("refresh %s: no drift across %d units", req.JobGUID, len(resp.Units))
		return &filtered, nil
	}
	if err := d.store.ProcessJob(ctx, filtered, req); err != nil {
		return nil, fmt.Errorf("merge refresh response: %w", err)
	}
	d.logger.Info("refresh %s (%s): %d of %d units drifted", req.JobGUID, providerName, len(changed), len(resp.Units))
	return &filtered, nil
}
