package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	"github.com/noah-isme/sma-class-sync/internal/models"
)

func TestDisplayInfoEnrollmentMode(t *testing.T) {
	open := dto.SessionDisplayInput{ID: "s1", IsEnrollable: true}
	closed := dto.SessionDisplayInput{ID: "s2", IsFull: true}

	info := DisplayInfo(dto.DisplayModeEnrollment, open, nil)
	assert.Equal(t, dto.SessionDisplayInfo{SessionID: "s1", IsSelectable: true, IsClickable: true, DisplayText: labelAvailable, StyleClass: styleAvailable}, info)

	info = DisplayInfo(dto.DisplayModeEnrollment, open, NewSelectionSet("s1"))
	assert.True(t, info.IsSelected)
	assert.Equal(t, labelSelected, info.DisplayText)

	info = DisplayInfo(dto.DisplayModeEnrollment, closed, NewSelectionSet("s2"))
	assert.False(t, info.IsSelectable)
	assert.False(t, info.IsClickable)
	assert.False(t, info.IsSelected, "unselectable sessions never render as selected")
	assert.Equal(t, labelNotAvailable, info.DisplayText)
}

func TestDisplayInfoModificationMode(t *testing.T) {
	cases := []struct {
		name     string
		input    dto.SessionDisplayInput
		selected SelectionSet
		text     string
		style    string
		sel      bool
	}{
		{"enrolled kept", dto.SessionDisplayInput{ID: "a", IsAlreadyEnrolled: true, CanBeCancelled: true}, NewSelectionSet("a"), labelEnrolled, styleSelected, true},
		{"enrolled dropped", dto.SessionDisplayInput{ID: "a", IsAlreadyEnrolled: true, CanBeCancelled: true}, nil, labelWillDrop, styleDropping, false},
		{"new pick", dto.SessionDisplayInput{ID: "b", IsSelectable: true}, NewSelectionSet("b"), labelSelected, styleSelected, true},
		{"open", dto.SessionDisplayInput{ID: "b", IsSelectable: true}, nil, labelAvailable, styleAvailable, false},
		{"closed", dto.SessionDisplayInput{ID: "c", IsPastStartTime: true}, nil, labelClosed, styleUnavailable, false},
		{"full", dto.SessionDisplayInput{ID: "d", IsFull: true}, nil, labelFull, styleFull, false},
		{"completed", dto.SessionDisplayInput{ID: "e", IsAlreadyEnrolled: true, IsPastStartTime: true}, NewSelectionSet("e"), labelCompleted, styleCompleted, false},
		{"enrolled locked", dto.SessionDisplayInput{ID: "g", IsAlreadyEnrolled: true}, nil, labelEnrolled, styleEnrolled, false},
		{"other", dto.SessionDisplayInput{ID: "f"}, nil, labelNotAvailable, styleUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := DisplayInfo(dto.DisplayModeModification, tc.input, tc.selected)
			assert.Equal(t, tc.text, info.DisplayText)
			assert.Equal(t, tc.style, info.StyleClass)
			assert.Equal(t, tc.sel, info.IsSelected)
			assert.Equal(t, info.IsSelectable, info.IsClickable)
		})
	}
}

func TestDisplayInfoViewModes(t *testing.T) {
	for _, mode := range []dto.DisplayMode{dto.DisplayModeStudentView, dto.DisplayModeTeacherView} {
		info := DisplayInfo(mode, dto.SessionDisplayInput{ID: "s", IsEnrollable: true}, NewSelectionSet("s"))
		assert.False(t, info.IsSelectable)
		assert.False(t, info.IsSelected)
		assert.True(t, info.IsClickable)
		assert.Equal(t, labelScheduled, info.DisplayText)

		info = DisplayInfo(mode, dto.SessionDisplayInput{ID: "s", IsPastStartTime: true, IsFull: true}, nil)
		assert.Equal(t, labelCompleted, info.DisplayText)
	}
}

func TestDisplayInfoUnknownMode(t *testing.T) {
	info := DisplayInfo(dto.DisplayMode("kiosk"), dto.SessionDisplayInput{ID: "s", IsEnrollable: true}, NewSelectionSet("s"))
	assert.False(t, info.IsClickable)
	assert.Equal(t, labelNotAvailable, info.DisplayText)
}

func TestDisplayInfoIsPure(t *testing.T) {
	input := dto.SessionDisplayInput{ID: "s1", IsAlreadyEnrolled: true, CanBeCancelled: true}
	selected := NewSelectionSet("s1", "s2")
	for _, mode := range []dto.DisplayMode{dto.DisplayModeEnrollment, dto.DisplayModeModification, dto.DisplayModeStudentView} {
		assert.Equal(t, DisplayInfo(mode, input, selected), DisplayInfo(mode, input, selected))
	}
	assert.Len(t, selected, 2)
}

func TestBuildDisplayListUsesEnrollments(t *testing.T) {
	sessions := []models.ClassSession{
		{ID: "s1", IsEnrollable: true},
		{ID: "s2", IsEnrollable: true},
	}
	enrollments := map[string]models.SessionEnrollment{
		"s1": {ID: "e1", SessionID: "s1", Status: models.EnrollmentStatusConfirmed},
	}

	list := BuildDisplayList(dto.DisplayModeModification, sessions, enrollments, NewSelectionSet("s2"))
	require.Len(t, list, 2)
	assert.Equal(t, labelWillDrop, list[0].DisplayText)
	assert.Equal(t, labelSelected, list[1].DisplayText)
}

func TestNewSelectionSetSkipsBlank(t *testing.T) {
	set := NewSelectionSet("", "a", "a")
	assert.Len(t, set, 1)
	assert.True(t, set.Has("a"))
	assert.False(t, SelectionSet(nil).Has("a"))
}
