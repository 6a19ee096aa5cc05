package service

import (
	"github.com/noah-isme/sma-class-sync/internal/dto"
	"github.com/noah-isme/sma-class-sync/internal/models"
)

// Display labels and style classes.
const (
	labelAvailable    = "Available"
	labelSelected     = "Selected"
	labelNotAvailable = "Not available"
	labelEnrolled     = "Enrolled"
	labelWillDrop     = "Will be dropped"
	labelClosed       = "Closed"
	labelFull         = "Full"
	labelCompleted    = "Completed"
	labelScheduled    = "Scheduled"

	styleAvailable   = "session--available"
	styleSelected    = "session--selected"
	styleUnavailable = "session--unavailable"
	styleDropping    = "session--dropping"
	styleFull        = "session--full"
	styleCompleted   = "session--completed"
	styleScheduled   = "session--scheduled"
	styleEnrolled    = "session--enrolled"
)

// SelectionSet is the in-progress, uncommitted set of selected session ids.
type SelectionSet map[string]struct{}

// NewSelectionSet builds a set from ids, ignoring blanks.
func NewSelectionSet(ids ...string) SelectionSet {
	set := make(SelectionSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Has reports membership; a nil set contains nothing.
func (s SelectionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// DisplayInfo maps mode, session flags and the current selection onto a UI affordance.
// It is pure: identical inputs always produce identical output.
func DisplayInfo(mode dto.DisplayMode, session dto.SessionDisplayInput, selected SelectionSet) dto.SessionDisplayInfo {
	switch mode {
	case dto.DisplayModeEnrollment:
		return enrollmentDisplay(session, selected)
	case dto.DisplayModeModification:
		return modificationDisplay(session, selected)
	case dto.DisplayModeStudentView, dto.DisplayModeTeacherView:
		return viewDisplay(session)
	default:
		return unavailable(session.ID, labelNotAvailable, styleUnavailable)
	}
}

func enrollmentDisplay(session dto.SessionDisplayInput, selected SelectionSet) dto.SessionDisplayInfo {
	if !session.IsEnrollable {
		return unavailable(session.ID, labelNotAvailable, styleUnavailable)
	}
	info := dto.SessionDisplayInfo{SessionID: session.ID, IsSelectable: true, IsClickable: true}
	if selected.Has(session.ID) {
		info.IsSelected = true
		info.DisplayText = labelSelected
		info.StyleClass = styleSelected
		return info
	}
	info.DisplayText = labelAvailable
	info.StyleClass = styleAvailable
	return info
}

func modificationDisplay(session dto.SessionDisplayInput, selected SelectionSet) dto.SessionDisplayInfo {
	if !session.IsSelectable && !session.CanBeCancelled {
		switch {
		case session.IsPastStartTime && !session.IsAlreadyEnrolled:
			return unavailable(session.ID, labelClosed, styleUnavailable)
		case session.IsFull && !session.IsAlreadyEnrolled:
			return unavailable(session.ID, labelFull, styleFull)
		case session.IsAlreadyEnrolled && session.IsPastStartTime:
			return unavailable(session.ID, labelCompleted, styleCompleted)
		case session.IsAlreadyEnrolled:
			// active but no longer droppable, e.g. after a rejected refund
			return unavailable(session.ID, labelEnrolled, styleEnrolled)
		default:
			return unavailable(session.ID, labelNotAvailable, styleUnavailable)
		}
	}

	info := dto.SessionDisplayInfo{SessionID: session.ID, IsSelectable: true, IsClickable: true}
	if selected.Has(session.ID) {
		info.IsSelected = true
		info.StyleClass = styleSelected
		if session.IsAlreadyEnrolled {
			info.DisplayText = labelEnrolled
		} else {
			info.DisplayText = labelSelected
		}
		return info
	}
	if session.IsAlreadyEnrolled {
		info.DisplayText = labelWillDrop
		info.StyleClass = styleDropping
		return info
	}
	info.DisplayText = labelAvailable
	info.StyleClass = styleAvailable
	return info
}

// viewDisplay serves the read-only calendars: everything opens a detail surface, nothing is selected.
func viewDisplay(session dto.SessionDisplayInput) dto.SessionDisplayInfo {
	info := dto.SessionDisplayInfo{SessionID: session.ID, IsClickable: true}
	switch {
	case session.IsPastStartTime:
		info.DisplayText = labelCompleted
		info.StyleClass = styleCompleted
	case session.IsFull:
		info.DisplayText = labelFull
		info.StyleClass = styleFull
	default:
		info.DisplayText = labelScheduled
		info.StyleClass = styleScheduled
	}
	return info
}

func unavailable(id, text, style string) dto.SessionDisplayInfo {
	return dto.SessionDisplayInfo{SessionID: id, DisplayText: text, StyleClass: style}
}

// DisplayInputFromSession derives display flags for a session given the student's enrollment, if any.
func DisplayInputFromSession(session models.ClassSession, enrollment *models.SessionEnrollment) dto.SessionDisplayInput {
	vm := buildModificationVM(session, enrollment)
	return dto.SessionDisplayInput{
		ID:                session.ID,
		IsEnrollable:      session.IsEnrollable,
		IsFull:            session.IsFull,
		IsPastStartTime:   session.IsPastStartTime,
		IsAlreadyEnrolled: vm.IsAlreadyEnrolled(),
		IsSelectable:      vm.IsSelectable,
		CanBeCancelled:    vm.CanBeCancelled,
	}
}

// BuildDisplayList renders every session in input order.
func BuildDisplayList(mode dto.DisplayMode, sessions []models.ClassSession, enrollments map[string]models.SessionEnrollment, selected SelectionSet) []dto.SessionDisplayInfo {
	result := make([]dto.SessionDisplayInfo, 0, len(sessions))
	for _, s := range sessions {
		var enrollment *models.SessionEnrollment
		if e, ok := enrollments[s.ID]; ok {
			enrollment = &e
		}
		result = append(result, DisplayInfo(mode, DisplayInputFromSession(s, enrollment), selected))
	}
	return result
}
