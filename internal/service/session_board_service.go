package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

// SessionBoardService renders display affordances for the agent user's cached sessions.
type SessionBoardService struct {
	cache     queryReader
	source    scheduleSource
	scope     models.Scope
	window    int
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionBoardService constructs the service. windowDays bounds the fallback session fetch.
func NewSessionBoardService(cache queryReader, source scheduleSource, scope models.Scope, windowDays int, validate *validator.Validate, logger *zap.Logger) *SessionBoardService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if windowDays <= 0 {
		windowDays = 90
	}
	return &SessionBoardService{cache: cache, source: source, scope: scope, window: windowDays, validator: validate, logger: logger, now: time.Now}
}

// List returns display info for every session in the requested mode.
func (s *SessionBoardService) List(ctx context.Context, req dto.DisplayRequest) ([]dto.SessionDisplayInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid display request")
	}
	sessions, err := s.sessions(ctx)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.enrollments(ctx)
	if err != nil {
		return nil, err
	}
	studentID := req.StudentID
	if studentID == "" && s.scope.Role == models.RoleStudent {
		studentID = s.scope.UserID
	}
	active := models.ActiveEnrollmentBySession(enrollments, studentID)
	return BuildDisplayList(req.Mode, sessions, active, NewSelectionSet(req.SelectedSessionIDs...)), nil
}

func (s *SessionBoardService) sessions(ctx context.Context) ([]models.ClassSession, error) {
	if raw, ok := s.cache.GetData(QueryKey(s.scope.Role, ResourceSessions)); ok {
		if sessions, ok := raw.([]models.ClassSession); ok {
			return sessions, nil
		}
	}
	sessions, err := s.source.FetchSessions(ctx, s.scope, SessionWindow(s.now(), s.window))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	return sessions, nil
}

func (s *SessionBoardService) enrollments(ctx context.Context) ([]models.SessionEnrollment, error) {
	if raw, ok := s.cache.GetData(QueryKey(s.scope.Role, ResourceEnrollments)); ok {
		if enrollments, ok := raw.([]models.SessionEnrollment); ok {
			return enrollments, nil
		}
	}
	enrollments, err := s.source.FetchEnrollments(ctx, s.scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	return enrollments, nil
}

// SessionWindow is the date range the agent keeps cached: one week back, windowDays ahead.
func SessionWindow(now time.Time, windowDays int) models.DateRange {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return models.DateRange{From: day.AddDate(0, 0, -7), To: day.AddDate(0, 0, windowDays)}
}

// RegisterScheduleFetchers wires the query cache keys for scope to the data source.
func RegisterScheduleFetchers(cache *QueryCacheService, source scheduleSource, scope models.Scope, windowDays int) {
	cache.Register(QueryKey(scope.Role, ResourceSessions), func(ctx context.Context) (interface{}, error) {
		return source.FetchSessions(ctx, scope, SessionWindow(time.Now(), windowDays))
	})
	cache.Register(QueryKey(scope.Role, ResourceEnrollments), func(ctx context.Context) (interface{}, error) {
		return source.FetchEnrollments(ctx, scope)
	})
	cache.Register(QueryKey(scope.Role, ResourceRefundRequests), func(ctx context.Context) (interface{}, error) {
		return source.FetchRefundRequests(ctx, scope)
	})
}
