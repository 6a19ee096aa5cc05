package models

import "time"

// EnrollmentStatus represents the lifecycle of a session enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending                 EnrollmentStatus = "PENDING"
	EnrollmentStatusConfirmed               EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusRejected                EnrollmentStatus = "REJECTED"
	EnrollmentStatusRefundRequested         EnrollmentStatus = "REFUND_REQUESTED"
	EnrollmentStatusRefundRejectedConfirmed EnrollmentStatus = "REFUND_REJECTED_CONFIRMED"
	EnrollmentStatusCancelled               EnrollmentStatus = "CANCELLED"
)

var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending:                 {EnrollmentStatusConfirmed, EnrollmentStatusRejected, EnrollmentStatusRefundRequested},
	EnrollmentStatusConfirmed:               {EnrollmentStatusRefundRequested},
	EnrollmentStatusRefundRequested:         {EnrollmentStatusRefundRejectedConfirmed, EnrollmentStatusCancelled},
	EnrollmentStatusRefundRejectedConfirmed: {EnrollmentStatusRefundRequested},
}

// IsActive reports whether the enrollment still holds a seat.
func (s EnrollmentStatus) IsActive() bool {
	switch s {
	case EnrollmentStatusConfirmed, EnrollmentStatusPending, EnrollmentStatusRefundRejectedConfirmed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusRejected || s == EnrollmentStatusCancelled
}

// Known reports whether the status is part of the lifecycle.
func (s EnrollmentStatus) Known() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusConfirmed, EnrollmentStatusRejected,
		EnrollmentStatusRefundRequested, EnrollmentStatusRefundRejectedConfirmed, EnrollmentStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates a lifecycle step.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionEnrollment captures one student's claim on one session.
type SessionEnrollment struct {
	ID              string           `db:"id" json:"id"`
	SessionID       string           `db:"session_id" json:"session_id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt      time.Time        `db:"enrolled_at" json:"enrolled_at"`
	RejectionReason *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
}

// ActiveEnrollmentBySession indexes the non-terminal enrollment per session for one student.
// When several exist the most recent wins.
func ActiveEnrollmentBySession(enrollments []SessionEnrollment, studentID string) map[string]SessionEnrollment {
	result := make(map[string]SessionEnrollment, len(enrollments))
	for _, e := range enrollments {
		if studentID != "" && e.StudentID != studentID {
			continue
		}
		if e.Status.IsTerminal() {
			continue
		}
		if existing, ok := result[e.SessionID]; ok && existing.EnrolledAt.After(e.EnrolledAt) {
			continue
		}
		result[e.SessionID] = e
	}
	return result
}
