package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

type bridgeCall struct {
	Op        string
	SessionID string
	Key       string
}

type fakeCalendarBridge struct {
	mu          sync.Mutex
	permission  models.CalendarPermission
	calls       []bridgeCall
	events      map[string]models.DeviceCalendarEntry
	failFor     map[string]error
	createDelay time.Duration
	deleteDelay time.Duration
	seq         int
}

func newFakeCalendarBridge() *fakeCalendarBridge {
	return &fakeCalendarBridge{
		permission: models.CalendarPermissionGranted,
		events:     make(map[string]models.DeviceCalendarEntry),
		failFor:    make(map[string]error),
	}
}

func (f *fakeCalendarBridge) CheckPermission(ctx context.Context) (models.CalendarPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission, nil
}

func (f *fakeCalendarBridge) RequestPermission(ctx context.Context) (models.CalendarPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permission = models.CalendarPermissionGranted
	return f.permission, nil
}

func (f *fakeCalendarBridge) CreateEvent(ctx context.Context, entry models.DeviceCalendarEntry) (string, error) {
	f.mu.Lock()
	delay := f.createDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, bridgeCall{Op: calendarOpCreate, SessionID: entry.SessionID})
	if err := f.failFor[entry.SessionID]; err != nil {
		return "", err
	}
	f.seq++
	key := fmt.Sprintf("dev-%d", f.seq)
	f.events[key] = entry
	return key, nil
}

func (f *fakeCalendarBridge) UpdateEvent(ctx context.Context, entryKey string, entry models.DeviceCalendarEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, bridgeCall{Op: calendarOpUpdate, SessionID: entry.SessionID, Key: entryKey})
	if err := f.failFor[entry.SessionID]; err != nil {
		return err
	}
	f.events[entryKey] = entry
	return nil
}

func (f *fakeCalendarBridge) DeleteEvent(ctx context.Context, entryKey string) error {
	f.mu.Lock()
	delay := f.deleteDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sessionID := f.events[entryKey].SessionID
	f.calls = append(f.calls, bridgeCall{Op: calendarOpDelete, SessionID: sessionID, Key: entryKey})
	if err := f.failFor[sessionID]; err != nil && sessionID != "" {
		return err
	}
	delete(f.events, entryKey)
	return nil
}

func (f *fakeCalendarBridge) takeCalls() []bridgeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

func (f *fakeCalendarBridge) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type memorySnapshotStore struct {
	mu    sync.Mutex
	state map[string]models.CalendarSyncState
	saves int
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{state: make(map[string]models.CalendarSyncState)}
}

func (m *memorySnapshotStore) Load(ctx context.Context, userID string) (*models.CalendarSyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.state[userID]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return &state, nil
}

func (m *memorySnapshotStore) Save(ctx context.Context, userID string, state models.CalendarSyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[userID] = state
	m.saves++
	return nil
}

func testSession(id string, day int, start string) models.ClassSession {
	return models.ClassSession{
		ID:        id,
		ClassID:   "class-1",
		ClassName: "Physics",
		Date:      time.Date(2026, 5, day, 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   "23:00",
	}
}

func newTestCalendarSync(bridge DeviceCalendarBridge, store calendarSnapshotStore) *CalendarSyncService {
	svc := NewCalendarSyncService(bridge, store, CalendarSyncConfig{UserID: "stu-1", WriteTimeout: 200 * time.Millisecond})
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestCalendarSyncSecondSyncIsNoop(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())
	sessions := []models.ClassSession{testSession("s1", 4, "09:00"), testSession("s2", 5, "09:00")}

	first := svc.SyncSessionsToDevice(context.Background(), sessions)
	require.True(t, first.OK)
	assert.Equal(t, 2, first.Added)
	bridge.takeCalls()

	second := svc.SyncSessionsToDevice(context.Background(), sessions)
	require.True(t, second.OK)
	assert.Zero(t, second.Writes())
	assert.Empty(t, bridge.takeCalls())
}

func TestCalendarSyncConvergesWithMinimalCalls(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())
	ctx := context.Background()

	require.True(t, svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("S1", 4, "09:00"), testSession("S2", 5, "09:00")}).OK)
	bridge.takeCalls()

	result := svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("S2", 5, "09:00"), testSession("S3", 6, "09:00")})
	require.True(t, result.OK)

	calls := bridge.takeCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, bridgeCall{Op: calendarOpDelete, SessionID: "S1", Key: calls[0].Key}, calls[0], "removals run first")
	assert.Equal(t, calendarOpCreate, calls[1].Op)
	assert.Equal(t, "S3", calls[1].SessionID)
	for _, call := range calls {
		assert.NotEqual(t, "S2", call.SessionID)
	}
	assert.Equal(t, 2, bridge.eventCount())
}

func TestCalendarSyncUpdatesChangedSession(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())
	ctx := context.Background()

	require.True(t, svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("s1", 4, "09:00")}).OK)
	key, ok := svc.EntryKey("s1")
	require.True(t, ok)
	bridge.takeCalls()

	result := svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("s1", 4, "10:30")})
	require.True(t, result.OK)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, []bridgeCall{{Op: calendarOpUpdate, SessionID: "s1", Key: key}}, bridge.takeCalls())
}

func TestCalendarSyncPermissionDeniedLeavesStateUntouched(t *testing.T) {
	bridge := newFakeCalendarBridge()
	bridge.permission = models.CalendarPermissionDenied
	store := newMemorySnapshotStore()
	svc := newTestCalendarSync(bridge, store)

	result := svc.SyncSessionsToDevice(context.Background(), []models.ClassSession{testSession("s1", 4, "09:00")})
	assert.False(t, result.OK)
	assert.ErrorIs(t, result.Err, appErrors.ErrPermissionDenied)
	assert.Empty(t, bridge.takeCalls())

	status := svc.Status()
	assert.Zero(t, status.SyncedCount)
	assert.Nil(t, status.LastSyncTime)
	assert.Zero(t, store.saves)
}

func TestCalendarSyncPartialFailureContinuesBatch(t *testing.T) {
	bridge := newFakeCalendarBridge()
	bridge.failFor["s2"] = errors.New("calendar busy")
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())

	result := svc.SyncSessionsToDevice(context.Background(), []models.ClassSession{
		testSession("s1", 4, "09:00"), testSession("s2", 5, "09:00"), testSession("s3", 6, "09:00"),
	})
	assert.False(t, result.OK)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Failed)
	assert.ErrorIs(t, result.Err, appErrors.ErrPartialSyncFailure)
	assert.ErrorIs(t, svc.LastError(), appErrors.ErrPartialSyncFailure)

	status := svc.Status()
	assert.Equal(t, 2, status.SyncedCount)
	require.NotNil(t, status.LastSyncTime)
	assert.NotEmpty(t, status.LastError)

	delete(bridge.failFor, "s2")
	retry := svc.SyncSessionsToDevice(context.Background(), []models.ClassSession{
		testSession("s1", 4, "09:00"), testSession("s2", 5, "09:00"), testSession("s3", 6, "09:00"),
	})
	assert.True(t, retry.OK)
	assert.Equal(t, 1, retry.Added)
	assert.NoError(t, svc.LastError())
}

func TestCalendarSyncAllFailuresKeepLastSyncTime(t *testing.T) {
	bridge := newFakeCalendarBridge()
	bridge.failFor["s1"] = errors.New("nope")
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())

	result := svc.SyncSessionsToDevice(context.Background(), []models.ClassSession{testSession("s1", 4, "09:00")})
	assert.False(t, result.OK)
	assert.Nil(t, svc.Status().LastSyncTime)
}

func TestCalendarSyncTimeoutAdoptsLateCreate(t *testing.T) {
	bridge := newFakeCalendarBridge()
	bridge.createDelay = 400 * time.Millisecond
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())

	result := svc.SyncSessionsToDevice(context.Background(), []models.ClassSession{testSession("s1", 4, "09:00")})
	assert.False(t, result.OK)
	assert.Equal(t, 1, result.Failed)

	require.Eventually(t, func() bool {
		_, ok := svc.EntryKey("s1")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	bridge.mu.Lock()
	bridge.createDelay = 0
	bridge.mu.Unlock()
	bridge.takeCalls()

	again := svc.SyncSessionsToDevice(context.Background(), []models.ClassSession{testSession("s1", 4, "09:00")})
	assert.True(t, again.OK)
	assert.Zero(t, again.Writes())
	assert.Equal(t, 1, bridge.eventCount())
}

func TestCalendarSyncUnavailableBridge(t *testing.T) {
	svc := newTestCalendarSync(nil, newMemorySnapshotStore())
	ctx := context.Background()

	assert.False(t, svc.Available())
	result := svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("s1", 4, "09:00")})
	assert.False(t, result.OK)
	assert.ErrorIs(t, result.Err, appErrors.ErrCalendarUnavailable)
	assert.False(t, svc.AddSessionToDevice(ctx, testSession("s1", 4, "09:00")))
	assert.False(t, svc.RemoveSessionFromDevice(ctx, "s1"))
	_, granted := svc.RequestPermission(ctx)
	assert.False(t, granted)
}

func TestCalendarSyncConcurrentAddIsIdempotent(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())
	session := testSession("s1", 4, "09:00")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, svc.AddSessionToDevice(context.Background(), session))
		}()
	}
	wg.Wait()

	creates := 0
	for _, call := range bridge.takeCalls() {
		if call.Op == calendarOpCreate {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, bridge.eventCount())
}

func TestCalendarSyncSingleEntryOperations(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())
	ctx := context.Background()

	require.True(t, svc.AddSessionToDevice(ctx, testSession("s1", 4, "09:00")))
	require.True(t, svc.UpdateSessionInDevice(ctx, testSession("s1", 4, "11:00")))
	require.True(t, svc.RemoveSessionFromDevice(ctx, "s1"))
	require.True(t, svc.RemoveSessionFromDevice(ctx, "never-synced"))

	ops := []string{}
	for _, call := range bridge.takeCalls() {
		ops = append(ops, call.Op)
	}
	assert.Equal(t, []string{calendarOpCreate, calendarOpUpdate, calendarOpDelete}, ops)
	assert.Zero(t, bridge.eventCount())
}

func TestCalendarSyncRemoveAll(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := newTestCalendarSync(bridge, newMemorySnapshotStore())
	ctx := context.Background()

	require.True(t, svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("s1", 4, "09:00"), testSession("s2", 5, "09:00")}).OK)
	result := svc.RemoveAllFromDevice(ctx)
	assert.True(t, result.OK)
	assert.Equal(t, 2, result.Removed)
	assert.Zero(t, bridge.eventCount())
	assert.Zero(t, svc.Status().SyncedCount)
}

func TestCalendarSyncPersistsAcrossRestart(t *testing.T) {
	bridge := newFakeCalendarBridge()
	store := newMemorySnapshotStore()
	ctx := context.Background()
	sessions := []models.ClassSession{testSession("s1", 4, "09:00")}

	first := newTestCalendarSync(bridge, store)
	require.True(t, first.SetEnabled(ctx, true))
	require.True(t, first.SyncSessionsToDevice(ctx, sessions).OK)
	bridge.takeCalls()

	restarted := newTestCalendarSync(bridge, store)
	require.NoError(t, restarted.Load(ctx))
	assert.True(t, restarted.Enabled())
	assert.Equal(t, 1, restarted.Status().SyncedCount)

	result := restarted.SyncSessionsToDevice(ctx, sessions)
	assert.True(t, result.OK)
	assert.Empty(t, bridge.takeCalls())
}

func TestCalendarSyncLoadWithoutSnapshot(t *testing.T) {
	svc := newTestCalendarSync(newFakeCalendarBridge(), newMemorySnapshotStore())
	require.NoError(t, svc.Load(context.Background()))
	assert.False(t, svc.Enabled())
}

func TestCalendarSyncLateDeleteAllowsReadd(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := NewCalendarSyncService(bridge, newMemorySnapshotStore(), CalendarSyncConfig{UserID: "stu-1", WriteTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	sessions := []models.ClassSession{testSession("s1", 4, "09:00")}

	require.True(t, svc.SyncSessionsToDevice(ctx, sessions).OK)
	bridge.mu.Lock()
	bridge.deleteDelay = 60 * time.Millisecond
	bridge.mu.Unlock()

	removal := svc.SyncSessionsToDevice(ctx, nil)
	assert.Equal(t, 1, removal.Failed)
	assert.Zero(t, removal.Removed)

	require.Eventually(t, func() bool {
		_, ok := svc.EntryKey("s1")
		return !ok && bridge.eventCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "a delete that lands late drops the mapping")

	readd := svc.SyncSessionsToDevice(ctx, sessions)
	require.True(t, readd.OK)
	assert.Equal(t, 1, readd.Added)
	assert.Equal(t, 1, bridge.eventCount())
}

func TestCalendarSyncTimedOutDeleteConvergesWhenDesiredAgain(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := NewCalendarSyncService(bridge, newMemorySnapshotStore(), CalendarSyncConfig{UserID: "stu-1", WriteTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	sessions := []models.ClassSession{testSession("s1", 4, "09:00")}

	require.True(t, svc.SyncSessionsToDevice(ctx, sessions).OK)
	bridge.mu.Lock()
	bridge.deleteDelay = 100 * time.Millisecond
	bridge.mu.Unlock()
	require.Equal(t, 1, svc.SyncSessionsToDevice(ctx, nil).Failed)

	// desired again while the slow delete is still running: the entry is rewritten, not trusted
	again := svc.SyncSessionsToDevice(ctx, sessions)
	assert.Equal(t, 1, again.Updated)

	require.Eventually(t, func() bool {
		_, ok := svc.EntryKey("s1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	final := svc.SyncSessionsToDevice(ctx, sessions)
	require.True(t, final.OK)
	assert.Equal(t, 1, final.Added)
	assert.Equal(t, 1, bridge.eventCount())
}

func TestCalendarSyncKeepsEntriesOutsideWindow(t *testing.T) {
	bridge := newFakeCalendarBridge()
	svc := NewCalendarSyncService(bridge, newMemorySnapshotStore(), CalendarSyncConfig{
		UserID:       "stu-1",
		WriteTimeout: 200 * time.Millisecond,
		Window: func() models.DateRange {
			return models.DateRange{From: time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC), To: time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)}
		},
	})
	ctx := context.Background()

	require.True(t, svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("old", 1, "09:00"), testSession("s2", 5, "09:00"), testSession("s3", 6, "09:00")}).OK)

	result := svc.SyncSessionsToDevice(ctx, []models.ClassSession{testSession("s2", 5, "09:00")})
	require.True(t, result.OK)
	assert.Equal(t, 1, result.Removed, "only the in-window session is removed")
	_, kept := svc.EntryKey("old")
	assert.True(t, kept)

	all := svc.RemoveAllFromDevice(ctx)
	assert.Equal(t, 2, all.Removed)
	assert.Zero(t, bridge.eventCount())
}
