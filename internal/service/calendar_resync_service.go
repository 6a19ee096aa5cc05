package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/models"
)

type cacheInvalidator interface {
	Invalidate(key string)
}

type reconciler interface {
	Reconcile(ctx context.Context, force bool) bool
}

// CalendarResyncService periodically refreshes the cached collections and forces a reconcile,
// converging the device calendar even if push events were lost.
type CalendarResyncService struct {
	cache      cacheInvalidator
	reconciler reconciler
	role       models.UserRole
	logger     *zap.Logger
}

// NewCalendarResyncService constructs the service.
func NewCalendarResyncService(cache cacheInvalidator, reconciler reconciler, role models.UserRole, logger *zap.Logger) *CalendarResyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarResyncService{cache: cache, reconciler: reconciler, role: role, logger: logger}
}

// Run refreshes sessions and enrollments and reconciles the calendar with what is cached now.
// Refetch completions trigger their own change-detected reconcile.
func (s *CalendarResyncService) Run(ctx context.Context) {
	s.cache.Invalidate(QueryKey(s.role, ResourceSessions))
	s.cache.Invalidate(QueryKey(s.role, ResourceEnrollments))
	ok := s.reconciler.Reconcile(ctx, true)
	s.logger.Debug("calendar resync tick", zap.Bool("synced", ok))
}
