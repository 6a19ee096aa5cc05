package dto

// DisplayMode is the interaction mode a session grid is rendered in.
type DisplayMode string

const (
	DisplayModeEnrollment   DisplayMode = "enrollment"
	DisplayModeModification DisplayMode = "modification"
	DisplayModeStudentView  DisplayMode = "student-view"
	DisplayModeTeacherView  DisplayMode = "teacher-view"
)

// SessionDisplayInput carries the flags the display state machine reads.
type SessionDisplayInput struct {
	ID                string `json:"id"`
	IsEnrollable      bool   `json:"is_enrollable"`
	IsFull            bool   `json:"is_full"`
	IsPastStartTime   bool   `json:"is_past_start_time"`
	IsAlreadyEnrolled bool   `json:"is_already_enrolled"`
	IsSelectable      bool   `json:"is_selectable"`
	CanBeCancelled    bool   `json:"can_be_cancelled"`
}

// SessionDisplayInfo is the UI affordance for one session.
type SessionDisplayInfo struct {
	SessionID    string `json:"session_id"`
	IsSelectable bool   `json:"is_selectable"`
	IsSelected   bool   `json:"is_selected"`
	IsClickable  bool   `json:"is_clickable"`
	DisplayText  string `json:"display_text"`
	StyleClass   string `json:"style_class"`
}

// DisplayRequest asks for affordances of the agent's current sessions.
type DisplayRequest struct {
	Mode               DisplayMode `json:"mode" validate:"required,oneof=enrollment modification student-view teacher-view"`
	SelectedSessionIDs []string    `json:"selected_session_ids"`
	StudentID          string      `json:"student_id"`
}
