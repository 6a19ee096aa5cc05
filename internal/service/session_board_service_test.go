package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

func dtoEnrollmentChanged(id string) dto.EnrollmentStatusChanged {
	return dto.EnrollmentStatusChanged{EnrollmentID: id, Status: models.EnrollmentStatusConfirmed}
}

func TestSessionBoardListPrefersCache(t *testing.T) {
	cache := seededCache(
		[]models.ClassSession{{ID: "s1", IsEnrollable: true}, {ID: "s2", IsFull: true}},
		[]models.SessionEnrollment{{ID: "e1", SessionID: "s1", StudentID: "stu-1", Status: models.EnrollmentStatusConfirmed}},
	)
	source := &stubScheduleSource{}
	board := NewSessionBoardService(cache, source, studentScope(), 30, nil, nil)

	items, err := board.List(context.Background(), dto.DisplayRequest{Mode: dto.DisplayModeModification, SelectedSessionIDs: []string{"s1"}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, labelEnrolled, items[0].DisplayText)
	assert.Equal(t, labelFull, items[1].DisplayText)
	assert.Zero(t, source.sessionCalls)
}

func TestSessionBoardListFallsBackToSource(t *testing.T) {
	source := &stubScheduleSource{sessions: []models.ClassSession{{ID: "s1", IsEnrollable: true}}}
	board := NewSessionBoardService(newRecordingCache(), source, models.Scope{UserID: "t-1", Role: models.RoleTeacher}, 30, nil, nil)

	items, err := board.List(context.Background(), dto.DisplayRequest{Mode: dto.DisplayModeTeacherView})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, labelScheduled, items[0].DisplayText)
	assert.Equal(t, 1, source.sessionCalls)
}

func TestSessionBoardListRejectsUnknownMode(t *testing.T) {
	board := NewSessionBoardService(newRecordingCache(), &stubScheduleSource{}, studentScope(), 30, nil, nil)
	_, err := board.List(context.Background(), dto.DisplayRequest{Mode: "kiosk"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSessionWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	window := SessionWindow(now, 30)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), window.From)
	assert.Equal(t, time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC), window.To)
	assert.True(t, window.Contains(now))
}
