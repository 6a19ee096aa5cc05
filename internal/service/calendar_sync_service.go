package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

// DeviceCalendarBridge is the per-user device calendar. DeleteEvent must treat absent keys as success.
type DeviceCalendarBridge interface {
	CheckPermission(ctx context.Context) (models.CalendarPermission, error)
	RequestPermission(ctx context.Context) (models.CalendarPermission, error)
	CreateEvent(ctx context.Context, entry models.DeviceCalendarEntry) (string, error)
	UpdateEvent(ctx context.Context, entryKey string, entry models.DeviceCalendarEntry) error
	DeleteEvent(ctx context.Context, entryKey string) error
}

type calendarSnapshotStore interface {
	Load(ctx context.Context, userID string) (*models.CalendarSyncState, error)
	Save(ctx context.Context, userID string, state models.CalendarSyncState) error
}

const (
	calendarOpCreate = "create"
	calendarOpUpdate = "update"
	calendarOpDelete = "delete"
)

var errWriteTimeout = errors.New("device calendar write timed out")

const entryDateLayout = "2006-01-02"

// SyncResult summarises one reconciliation pass.
type SyncResult struct {
	OK      bool  `json:"ok"`
	Added   int   `json:"added"`
	Updated int   `json:"updated"`
	Removed int   `json:"removed"`
	Failed  int   `json:"failed"`
	Err     error `json:"-"`
}

// Writes returns the number of successful device writes.
func (r SyncResult) Writes() int {
	return r.Added + r.Updated + r.Removed
}

// CalendarSyncService converges the device calendar with the authoritative session list.
// Every mutating entry point holds mu for its whole duration, so the snapshot has one writer.
type CalendarSyncService struct {
	bridge       DeviceCalendarBridge
	store        calendarSnapshotStore
	metrics      *MetricsService
	logger       *zap.Logger
	userID       string
	writeTimeout time.Duration
	window       func() models.DateRange
	now          func() time.Time

	mu       sync.Mutex
	entries  map[string]models.SyncedEntry
	enabled  bool
	lastSync *time.Time
	lastErr  error
}

// CalendarSyncConfig carries construction parameters.
type CalendarSyncConfig struct {
	UserID       string
	WriteTimeout time.Duration
	// Window reports the date range callers fetch sessions for. Entries dated outside it are
	// left on the device when a sync no longer lists them. Nil means every entry is in range.
	Window  func() models.DateRange
	Logger  *zap.Logger
	Metrics *MetricsService
}

// NewCalendarSyncService constructs the service. A nil bridge models a platform without a device calendar.
func NewCalendarSyncService(bridge DeviceCalendarBridge, store calendarSnapshotStore, cfg CalendarSyncConfig) *CalendarSyncService {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CalendarSyncService{
		bridge:       bridge,
		store:        store,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		userID:       cfg.UserID,
		writeTimeout: cfg.WriteTimeout,
		window:       cfg.Window,
		now:          time.Now,
		entries:      make(map[string]models.SyncedEntry),
	}
}

// Available reports whether a device calendar exists on this platform.
func (s *CalendarSyncService) Available() bool {
	return s != nil && s.bridge != nil
}

// Load restores the persisted snapshot and enabled flag.
func (s *CalendarSyncService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	state, err := s.store.Load(ctx, s.userID)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar sync state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = state.Enabled
	s.lastSync = state.LastSyncTime
	s.entries = make(map[string]models.SyncedEntry, len(state.Entries))
	for id, entry := range state.Entries {
		s.entries[id] = entry
	}
	return nil
}

// Enabled reports the user-level sync toggle.
func (s *CalendarSyncService) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips the toggle and persists it. Existing entries are left untouched.
func (s *CalendarSyncService) SetEnabled(ctx context.Context, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	return s.persist(ctx)
}

// Status returns an observable snapshot of the service.
func (s *CalendarSyncService) Status() models.CalendarSyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := models.CalendarSyncStatus{
		Available:   s.Available(),
		Enabled:     s.enabled,
		SyncedCount: len(s.entries),
	}
	if s.lastSync != nil {
		t := *s.lastSync
		status.LastSyncTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// LastError returns the most recent failure, if any.
func (s *CalendarSyncService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// EntryKey returns the device key recorded for a session.
func (s *CalendarSyncService) EntryKey(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	return entry.EntryKey, ok
}

// RequestPermission prompts for calendar access.
func (s *CalendarSyncService) RequestPermission(ctx context.Context) (models.CalendarPermission, bool) {
	if !s.Available() {
		return models.CalendarPermissionDenied, false
	}
	perm, err := s.bridge.RequestPermission(ctx)
	if err != nil {
		s.logger.Warn("calendar permission request failed", zap.Error(err))
		return models.CalendarPermissionDenied, false
	}
	return perm, perm == models.CalendarPermissionGranted
}

// SyncSessionsToDevice removes, updates, then adds entries so the device mirrors sessions.
// Individual write failures are recorded and skipped.
func (s *CalendarSyncService) SyncSessionsToDevice(ctx context.Context, sessions []models.ClassSession) SyncResult {
	return s.syncSessions(ctx, sessions, true)
}

func (s *CalendarSyncService) syncSessions(ctx context.Context, sessions []models.ClassSession, windowed bool) SyncResult {
	if !s.Available() {
		return SyncResult{Err: appErrors.ErrCalendarUnavailable}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePermission(ctx); err != nil {
		return SyncResult{Err: err}
	}

	desired := make(map[string]models.DeviceCalendarEntry, len(sessions))
	order := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if session.ID == "" {
			continue
		}
		if _, dup := desired[session.ID]; dup {
			continue
		}
		desired[session.ID] = models.EntryFromSession(session)
		order = append(order, session.ID)
	}

	var window models.DateRange
	if windowed && s.window != nil {
		window = s.window()
	}
	var toRemove, toUpdate, toAdd []string
	for id, synced := range s.entries {
		if _, ok := desired[id]; ok {
			continue
		}
		if !inWindow(window, synced) {
			continue
		}
		toRemove = append(toRemove, id)
	}
	for _, id := range order {
		synced, ok := s.entries[id]
		switch {
		case !ok:
			toAdd = append(toAdd, id)
		case synced.Fingerprint != desired[id].Fingerprint():
			toUpdate = append(toUpdate, id)
		}
	}
	sort.Strings(toRemove)
	sort.Strings(toUpdate)

	result := SyncResult{}
	var failures []error
	record := func(err error, counter *int) {
		if err != nil {
			failures = append(failures, err)
			result.Failed++
			return
		}
		*counter++
	}

	for _, id := range toRemove {
		record(s.removeLocked(ctx, id), &result.Removed)
	}
	for _, id := range toUpdate {
		record(s.updateLocked(ctx, id, desired[id]), &result.Updated)
	}
	for _, id := range toAdd {
		record(s.addLocked(ctx, id, desired[id]), &result.Added)
	}

	result.Err = s.finishLocked(ctx, result.Writes(), failures)
	result.OK = result.Failed == 0
	if s.metrics != nil {
		s.metrics.ObserveCalendarSync(result.OK)
	}
	if result.Writes() > 0 || result.Failed > 0 {
		s.logger.Info("calendar sync completed",
			zap.Int("added", result.Added),
			zap.Int("updated", result.Updated),
			zap.Int("removed", result.Removed),
			zap.Int("failed", result.Failed))
	}
	return result
}

// AddSessionToDevice writes one session. An already-mapped session is updated instead of duplicated.
func (s *CalendarSyncService) AddSessionToDevice(ctx context.Context, session models.ClassSession) bool {
	return s.single(ctx, func() (int, error) {
		entry := models.EntryFromSession(session)
		synced, ok := s.entries[session.ID]
		if ok {
			if synced.Fingerprint == entry.Fingerprint() {
				return 0, nil
			}
			return 1, s.updateLocked(ctx, session.ID, entry)
		}
		return 1, s.addLocked(ctx, session.ID, entry)
	})
}

// UpdateSessionInDevice rewrites one session's entry, adding it when it was never synced.
func (s *CalendarSyncService) UpdateSessionInDevice(ctx context.Context, session models.ClassSession) bool {
	return s.AddSessionToDevice(ctx, session)
}

// RemoveSessionFromDevice deletes one session's entry. Unknown sessions succeed without a write.
func (s *CalendarSyncService) RemoveSessionFromDevice(ctx context.Context, sessionID string) bool {
	return s.single(ctx, func() (int, error) {
		if _, ok := s.entries[sessionID]; !ok {
			return 0, nil
		}
		return 1, s.removeLocked(ctx, sessionID)
	})
}

// RemoveAllFromDevice deletes every entry this service created, whatever its date.
func (s *CalendarSyncService) RemoveAllFromDevice(ctx context.Context) SyncResult {
	return s.syncSessions(ctx, nil, false)
}

// inWindow reports whether an entry's session date lies inside window. Entries recorded
// without a date are treated as inside so they can still be cleaned up.
func inWindow(window models.DateRange, synced models.SyncedEntry) bool {
	if synced.Date == "" {
		return true
	}
	day, err := time.Parse(entryDateLayout, synced.Date)
	if err != nil {
		return true
	}
	return window.Contains(day)
}

func newSyncedEntry(key string, entry models.DeviceCalendarEntry, at time.Time) models.SyncedEntry {
	return models.SyncedEntry{EntryKey: key, Fingerprint: entry.Fingerprint(), Date: entry.Date, SyncedAt: at}
}

func (s *CalendarSyncService) single(ctx context.Context, op func() (int, error)) bool {
	if !s.Available() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePermission(ctx); err != nil {
		return false
	}
	writes, err := op()
	var failures []error
	if err != nil {
		failures = append(failures, err)
		writes = 0
	}
	s.finishLocked(ctx, writes, failures)
	return err == nil
}

func (s *CalendarSyncService) ensurePermission(ctx context.Context) error {
	perm, err := s.bridge.CheckPermission(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPermissionDenied.Code, appErrors.ErrPermissionDenied.Status, "failed to check calendar permission")
	}
	if perm != models.CalendarPermissionGranted {
		return appErrors.Clone(appErrors.ErrPermissionDenied, fmt.Sprintf("device calendar permission is %s", perm))
	}
	return nil
}

func (s *CalendarSyncService) finishLocked(ctx context.Context, writes int, failures []error) error {
	var err error
	if len(failures) > 0 {
		err = appErrors.Wrap(errors.Join(failures...), appErrors.ErrPartialSyncFailure.Code, appErrors.ErrPartialSyncFailure.Status,
			fmt.Sprintf("%d calendar entries failed to sync", len(failures)))
		s.lastErr = err
		s.logger.Warn("calendar entries failed to sync", zap.Int("failed", len(failures)), zap.Error(err))
	} else {
		s.lastErr = nil
	}
	if writes > 0 {
		now := s.now().UTC()
		s.lastSync = &now
		s.persist(ctx)
	}
	return err
}

func (s *CalendarSyncService) addLocked(ctx context.Context, sessionID string, entry models.DeviceCalendarEntry) error {
	type outcome struct {
		key string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		key, err := s.bridge.CreateEvent(ctx, entry)
		done <- outcome{key: key, err: err}
	}()

	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			s.observeWrite(calendarOpCreate, out.err)
			return fmt.Errorf("create entry for session %s: %w", sessionID, out.err)
		}
		s.entries[sessionID] = newSyncedEntry(out.key, entry, s.now().UTC())
		s.observeWrite(calendarOpCreate, nil)
		s.persist(ctx)
		return nil
	case <-timer.C:
		s.observeWrite(calendarOpCreate, errWriteTimeout)
		go s.adoptLateCreate(sessionID, entry, func() (string, error) {
			out := <-done
			return out.key, out.err
		})
		return fmt.Errorf("create entry for session %s: %w", sessionID, errWriteTimeout)
	}
}

// adoptLateCreate records a create that finished after its timeout, or deletes it when the
// session was mapped in the meantime, so the device never keeps an untracked entry.
func (s *CalendarSyncService) adoptLateCreate(sessionID string, entry models.DeviceCalendarEntry, wait func() (string, error)) {
	key, err := wait()
	if err != nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[sessionID]; ok && existing.EntryKey != key {
		if err := s.bridge.DeleteEvent(ctx, key); err != nil {
			s.logger.Warn("failed to delete late duplicate calendar entry", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	s.entries[sessionID] = newSyncedEntry(key, entry, s.now().UTC())
	s.persist(ctx)
	s.logger.Info("adopted late calendar entry", zap.String("session_id", sessionID))
}

func (s *CalendarSyncService) updateLocked(ctx context.Context, sessionID string, entry models.DeviceCalendarEntry) error {
	synced := s.entries[sessionID]
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.bridge.UpdateEvent(ctx, synced.EntryKey, entry)
	})
	s.observeWrite(calendarOpUpdate, err)
	if err != nil {
		return fmt.Errorf("update entry for session %s: %w", sessionID, err)
	}
	s.entries[sessionID] = newSyncedEntry(synced.EntryKey, entry, s.now().UTC())
	s.persist(ctx)
	return nil
}

func (s *CalendarSyncService) removeLocked(ctx context.Context, sessionID string) error {
	synced := s.entries[sessionID]
	done := make(chan error, 1)
	go func() { done <- s.bridge.DeleteEvent(ctx, synced.EntryKey) }()

	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		s.observeWrite(calendarOpDelete, err)
		if err != nil {
			return fmt.Errorf("delete entry for session %s: %w", sessionID, err)
		}
		delete(s.entries, sessionID)
		s.persist(ctx)
		return nil
	case <-timer.C:
		s.observeWrite(calendarOpDelete, errWriteTimeout)
		// the delete may still land; a blank fingerprint makes the next pass rewrite the entry
		synced.Fingerprint = ""
		s.entries[sessionID] = synced
		s.persist(ctx)
		go s.forgetLateDelete(sessionID, synced.EntryKey, func() error { return <-done })
		return fmt.Errorf("delete entry for session %s: %w", sessionID, errWriteTimeout)
	}
}

// forgetLateDelete drops the mapping for a delete that finished after its timeout, unless the
// session has been mapped to another device entry since.
func (s *CalendarSyncService) forgetLateDelete(sessionID, key string, wait func() error) {
	if err := wait(); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[sessionID]; !ok || existing.EntryKey != key {
		return
	}
	delete(s.entries, sessionID)
	s.persist(ctx)
	s.logger.Info("late calendar delete completed", zap.String("session_id", sessionID))
}

// withTimeout bounds a write without cancelling it. A late update leaves the old fingerprint
// recorded, so the next pass repeats it.
func (s *CalendarSyncService) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errWriteTimeout
	}
}

func (s *CalendarSyncService) observeWrite(op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveCalendarWrite(op, err)
	}
}

func (s *CalendarSyncService) persist(ctx context.Context) bool {
	if s.store == nil {
		return true
	}
	state := models.CalendarSyncState{
		Enabled:      s.enabled,
		Entries:      make(map[string]models.SyncedEntry, len(s.entries)),
		LastSyncTime: s.lastSync,
	}
	for id, entry := range s.entries {
		state.Entries[id] = entry
	}
	if err := s.store.Save(ctx, s.userID, state); err != nil {
		s.logger.Warn("failed to persist calendar sync state", zap.Error(err))
		return false
	}
	return true
}
