package dto

import (
	"encoding/json"
	"fmt"

	"github.com/noah-isme/sma-class-sync/internal/models"
)

// Realtime event names as published by the scheduling backend.
const (
	EventEnrollmentStatusChanged    = "enrollment_status_changed"
	EventRefundRequestStatusChanged = "refund_request_status_changed"
	EventSessionCreated             = "session_created"
	EventSessionUpdated             = "session_updated"
	EventSessionDeleted             = "session_deleted"
)

// RealtimeEvent is the closed set of push events. Only types in this package implement it.
type RealtimeEvent interface {
	EventName() string
	realtimeEvent()
}

// EnrollmentStatusChanged reports a new status for one enrollment.
type EnrollmentStatusChanged struct {
	EnrollmentID    string                  `json:"enrollmentId"`
	SessionID       string                  `json:"sessionId"`
	StudentID       string                  `json:"studentId"`
	Status          models.EnrollmentStatus `json:"status"`
	RejectionReason *string                 `json:"rejectionReason,omitempty"`
}

// RefundRequestStatusChanged reports a processed or newly opened refund request.
type RefundRequestStatusChanged struct {
	RefundRequestID string              `json:"refundRequestId"`
	EnrollmentID    string              `json:"enrollmentId"`
	SessionID       string              `json:"sessionId,omitempty"`
	Status          models.RefundStatus `json:"status"`
	ProcessedBy     *string             `json:"processedBy,omitempty"`
	RejectionReason *string             `json:"rejectionReason,omitempty"`
}

// SessionChangeKind distinguishes the three session lifecycle events.
type SessionChangeKind string

const (
	SessionChangeCreated SessionChangeKind = "created"
	SessionChangeUpdated SessionChangeKind = "updated"
	SessionChangeDeleted SessionChangeKind = "deleted"
)

// SessionChanged covers session_created, session_updated and session_deleted.
type SessionChanged struct {
	Kind      SessionChangeKind `json:"-"`
	SessionID string            `json:"sessionId"`
	ClassID   string            `json:"classId,omitempty"`
}

// UnknownEvent keeps events this build does not understand.
type UnknownEvent struct {
	Name    string
	Payload json.RawMessage
}

func (EnrollmentStatusChanged) EventName() string    { return EventEnrollmentStatusChanged }
func (RefundRequestStatusChanged) EventName() string { return EventRefundRequestStatusChanged }
func (e UnknownEvent) EventName() string             { return e.Name }

func (e SessionChanged) EventName() string {
	switch e.Kind {
	case SessionChangeCreated:
		return EventSessionCreated
	case SessionChangeDeleted:
		return EventSessionDeleted
	default:
		return EventSessionUpdated
	}
}

func (EnrollmentStatusChanged) realtimeEvent()    {}
func (RefundRequestStatusChanged) realtimeEvent() {}
func (SessionChanged) realtimeEvent()             {}
func (UnknownEvent) realtimeEvent()               {}

// DecodeRealtimeEvent maps a named payload onto its typed event. Unrecognised names yield
// UnknownEvent with a nil error; malformed payloads for known names return an error.
func DecodeRealtimeEvent(name string, payload json.RawMessage) (RealtimeEvent, error) {
	switch name {
	case EventEnrollmentStatusChanged:
		var evt EnrollmentStatusChanged
		if err := decodePayload(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if evt.EnrollmentID == "" {
			return nil, fmt.Errorf("decode %s: missing enrollmentId", name)
		}
		return evt, nil
	case EventRefundRequestStatusChanged:
		var evt RefundRequestStatusChanged
		if err := decodePayload(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if evt.RefundRequestID == "" {
			return nil, fmt.Errorf("decode %s: missing refundRequestId", name)
		}
		return evt, nil
	case EventSessionCreated, EventSessionUpdated, EventSessionDeleted:
		var evt SessionChanged
		if err := decodePayload(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		switch name {
		case EventSessionCreated:
			evt.Kind = SessionChangeCreated
		case EventSessionDeleted:
			evt.Kind = SessionChangeDeleted
		default:
			evt.Kind = SessionChangeUpdated
		}
		return evt, nil
	default:
		return UnknownEvent{Name: name, Payload: payload}, nil
	}
}

func decodePayload(payload json.RawMessage, dest interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, dest)
}
