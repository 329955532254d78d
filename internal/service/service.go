// Package service wires the per-language-pair dispatchers to a cron
// schedule that polls pending jobs.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/loctra/loctra/internal/dispatch"
	"github.com/loctra/loctra/pkg/icron"
	"github.com/loctra/loctra/pkg/log"
)

// UpdateService runs the pending-job update pass over every configured
// language pair on a cron schedule. Overlapping triggers collapse into
// one pass.
type UpdateService struct {
	cronExpr    string
	cron        *cron.Cron
	dispatchers []*dispatch.Dispatcher
	logger      *log.Logger
	group       singleflight.Group
}

// Option configures an UpdateService.
type Option func(*UpdateService)

// WithLogger injects the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *UpdateService) { s.logger = l }
}

func NewUpdateService(
	cronExpr string,
	c *cron.Cron,
	dispatchers []*dispatch.Dispatcher,
	opts ...Option,
) *UpdateService {
	s := &UpdateService{
		cronExpr:    cronExpr,
		cron:        c,
		dispatchers: dispatchers,
		logger:      log.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule validates the cron expression and registers the update pass.
// The caller starts and stops the cron runner.
func (s *UpdateService) Schedule(ctx context.Context) error {
	info, err := icron.GetTriggerInfo(s.cronExpr, time.Now())
	if err != nil {
		return fmt.Errorf("schedule update pass: %w", err)
	}
	s.logger.Info("update pass scheduled (%s), next run %s",
		info.Expression, info.Next.Format(time.RFC3339))

	_, err = s.cron.AddFunc(s.cronExpr, func() {
		_, _, _ = s.group.Do("update", func() (any, error) {
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("update pass: %v", err)
			}
			return nil, nil
		})
	})
	return err
}

// RunOnce polls every language pair once. One failing pair does not
// stop the others; the first error is returned at the end.
func (s *UpdateService) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, d := range s.dispatchers {
		source, target := d.Languages()
		if err := d.UpdateJobs(ctx); err != nil {
			s.logger.Error("update %s→%s: %v", source, target, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Debug("update %s→%s done", source, target)
	}
	return firstErr
}
