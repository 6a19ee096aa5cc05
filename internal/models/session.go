package models

import "time"

// ClassSession is one dated occurrence of a class. Times of day use "HH:MM".
type ClassSession struct {
	ID              string    `db:"id" json:"id"`
	ClassID         string    `db:"class_id" json:"class_id"`
	ClassName       string    `db:"class_name" json:"class_name"`
	Date            time.Time `db:"date" json:"date"`
	StartTime       string    `db:"start_time" json:"start_time"`
	EndTime         string    `db:"end_time" json:"end_time"`
	MaxStudents     int       `db:"max_students" json:"max_students"`
	EnrolledCount   int       `db:"enrolled_count" json:"enrolled_count"`
	TuitionFee      *int64    `db:"tuition_fee" json:"tuition_fee,omitempty"`
	Location        *string   `db:"location" json:"location,omitempty"`
	IsFull          bool      `db:"is_full" json:"is_full"`
	IsPastStartTime bool      `db:"is_past_start_time" json:"is_past_start_time"`
	IsEnrollable    bool      `db:"is_enrollable" json:"is_enrollable"`
}

// DateRange bounds session queries. Zero values are open ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether the day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	if !r.From.IsZero() && day.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && day.After(r.To) {
		return false
	}
	return true
}

// ModificationSessionVM joins a session with the student's enrollment for the modification flow.
type ModificationSessionVM struct {
	Session        ClassSession       `json:"session"`
	Enrollment     *SessionEnrollment `json:"enrollment,omitempty"`
	IsSelectable   bool               `json:"is_selectable"`
	CanBeCancelled bool               `json:"can_be_cancelled"`
}

// IsAlreadyEnrolled reports whether the VM carries an active enrollment.
func (vm ModificationSessionVM) IsAlreadyEnrolled() bool {
	return vm.Enrollment != nil && vm.Enrollment.Status.IsActive()
}
