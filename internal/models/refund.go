package models

import "time"

// RefundStatus tracks a refund request.
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "PENDING"
	RefundStatusApproved RefundStatus = "APPROVED"
	RefundStatusRejected RefundStatus = "REJECTED"
)

// IsTerminal reports whether the request has been processed.
func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusApproved || s == RefundStatusRejected
}

// RefundRequest asks to reverse the charge of an enrollment.
type RefundRequest struct {
	ID              string       `db:"id" json:"id"`
	EnrollmentID    string       `db:"enrollment_id" json:"enrollment_id"`
	Amount          int64        `db:"amount" json:"amount"`
	Status          RefundStatus `db:"status" json:"status"`
	ProcessedBy     *string      `db:"processed_by" json:"processed_by,omitempty"`
	RejectionReason *string      `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// CanRequestRefund reports whether a refund may be opened against the enrollment.
func CanRequestRefund(e SessionEnrollment) bool {
	return e.Status == EnrollmentStatusConfirmed || e.Status == EnrollmentStatusPending
}

// EnrollmentStatusAfterRefund maps a processed refund onto the owning enrollment.
func EnrollmentStatusAfterRefund(status RefundStatus) (EnrollmentStatus, bool) {
	switch status {
	case RefundStatusPending:
		return EnrollmentStatusRefundRequested, true
	case RefundStatusApproved:
		return EnrollmentStatusCancelled, true
	case RefundStatusRejected:
		return EnrollmentStatusRefundRejectedConfirmed, true
	default:
		return "", false
	}
}
