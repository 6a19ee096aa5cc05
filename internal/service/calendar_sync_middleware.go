package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

type calendarSyncer interface {
	Enabled() bool
	SetEnabled(ctx context.Context, enabled bool) bool
	SyncSessionsToDevice(ctx context.Context, sessions []models.ClassSession) SyncResult
	RemoveAllFromDevice(ctx context.Context) SyncResult
}

type queryReader interface {
	GetData(key string) (interface{}, bool)
}

// CalendarSyncMiddleware sits between the query cache and the calendar sync service and only
// forwards session lists that differ from the last one synced successfully.
type CalendarSyncMiddleware struct {
	cache  queryReader
	syncer calendarSyncer
	scope  models.Scope
	logger *zap.Logger

	mu              sync.Mutex
	lastFingerprint string
}

// NewCalendarSyncMiddleware constructs the middleware for the agent's user.
func NewCalendarSyncMiddleware(cache queryReader, syncer calendarSyncer, scope models.Scope, logger *zap.Logger) *CalendarSyncMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarSyncMiddleware{cache: cache, syncer: syncer, scope: scope, logger: logger}
}

// OnCacheChange is registered as a query cache listener.
func (m *CalendarSyncMiddleware) OnCacheChange(key string) {
	switch key {
	case QueryKey(m.scope.Role, ResourceSessions), QueryKey(m.scope.Role, ResourceEnrollments):
		m.Reconcile(context.Background(), false)
	}
}

// Reconcile syncs the calendar-worthy sessions currently cached. force skips change detection.
// It returns false when nothing was synced or the sync did not fully succeed.
func (m *CalendarSyncMiddleware) Reconcile(ctx context.Context, force bool) bool {
	result, attempted := m.reconcile(ctx, force)
	return attempted && result.OK
}

// SyncNow forces a reconcile and reports its outcome, explaining why nothing ran when skipped.
func (m *CalendarSyncMiddleware) SyncNow(ctx context.Context) SyncResult {
	result, attempted := m.reconcile(ctx, true)
	if !attempted && result.Err == nil {
		result.Err = appErrors.Clone(appErrors.ErrPreconditionFailed, "calendar sync is disabled")
	}
	return result
}

// Disconnect turns sync off and removes every entry written so far. Both happen under mu, so no
// reconcile can slip in between and write entries back.
func (m *CalendarSyncMiddleware) Disconnect(ctx context.Context) SyncResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncer.SetEnabled(ctx, false)
	m.lastFingerprint = ""
	return m.syncer.RemoveAllFromDevice(ctx)
}

// reconcile holds mu from the cache read to the sync so a pass that read older data can
// never land on the device after a pass that read newer data.
func (m *CalendarSyncMiddleware) reconcile(ctx context.Context, force bool) (SyncResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rawSessions, ok := m.cache.GetData(QueryKey(m.scope.Role, ResourceSessions))
	if !ok {
		return SyncResult{Err: appErrors.Clone(appErrors.ErrPreconditionFailed, "sessions are not loaded yet")}, false
	}
	sessions, _ := rawSessions.([]models.ClassSession)

	var enrollments []models.SessionEnrollment
	if m.scope.Role == models.RoleStudent {
		rawEnrollments, ok := m.cache.GetData(QueryKey(m.scope.Role, ResourceEnrollments))
		if !ok {
			return SyncResult{Err: appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollments are not loaded yet")}, false
		}
		enrollments, _ = rawEnrollments.([]models.SessionEnrollment)
	}

	target := CalendarSessionsFor(m.scope, sessions, enrollments)
	fingerprint := sessionsFingerprint(target)
	if !force && fingerprint == m.lastFingerprint {
		return SyncResult{OK: true}, false
	}
	if !m.syncer.Enabled() {
		return SyncResult{}, false
	}
	result := m.syncer.SyncSessionsToDevice(ctx, target)
	if result.Err != nil {
		m.logger.Warn("calendar reconcile incomplete", zap.Error(result.Err))
	}
	if result.OK {
		m.lastFingerprint = fingerprint
	}
	return result, true
}

// CalendarSessionsFor picks the sessions that belong on the user's device calendar.
// Students mirror sessions with an active enrollment; other roles mirror their role-scoped list.
func CalendarSessionsFor(scope models.Scope, sessions []models.ClassSession, enrollments []models.SessionEnrollment) []models.ClassSession {
	if scope.Role != models.RoleStudent {
		out := make([]models.ClassSession, len(sessions))
		copy(out, sessions)
		return out
	}
	active := models.ActiveEnrollmentBySession(enrollments, scope.UserID)
	out := make([]models.ClassSession, 0, len(active))
	for _, s := range sessions {
		if e, ok := active[s.ID]; ok && e.Status.IsActive() {
			out = append(out, s)
		}
	}
	return out
}

func sessionsFingerprint(sessions []models.ClassSession) string {
	parts := make([]string, 0, len(sessions))
	for _, s := range sessions {
		parts = append(parts, s.ID+"#"+models.EntryFromSession(s).Fingerprint())
	}
	sort.Strings(parts)
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
