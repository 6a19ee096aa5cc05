package dto

import "github.com/noah-isme/sma-class-sync/internal/models"

// ChangeType classifies the billing direction of a modification.
type ChangeType string

const (
	ChangeTypeAdditionalPayment ChangeType = "additional_payment"
	ChangeTypeRefund            ChangeType = "refund"
	ChangeTypeNoChange          ChangeType = "no_change"
)

// NextStep is the workflow step a modification routes to.
type NextStep string

const (
	NextStepComplete      NextStep = "complete"
	NextStepPayment       NextStep = "payment"
	NextStepRefundRequest NextStep = "refund-request"
)

// DiffResult is the outcome of comparing an enrollment snapshot against a new selection.
type DiffResult struct {
	Added          []string   `json:"added"`
	Removed        []string   `json:"removed"`
	NetChange      int        `json:"net_change"`
	UnitPrice      int64      `json:"unit_price"`
	TotalAmount    int64      `json:"total_amount"`
	ChangeType     ChangeType `json:"change_type"`
	HasChanges     bool       `json:"has_changes"`
	HasRealChanges bool       `json:"has_real_changes"`
	NextStep       NextStep   `json:"next_step"`
}

// ModificationPreviewRequest asks for the diff of a proposed selection.
type ModificationPreviewRequest struct {
	StudentID          string   `json:"student_id" validate:"required"`
	ClassID            string   `json:"class_id"`
	SelectedSessionIDs []string `json:"selected_session_ids" validate:"dive,required"`
}

// ModificationPreview bundles the diff with the view it was computed from.
type ModificationPreview struct {
	Diff         DiffResult                     `json:"diff"`
	Sessions     []models.ModificationSessionVM `json:"sessions"`
	PriceDefault bool                           `json:"price_default"`
}
