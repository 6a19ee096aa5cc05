package service

import (
	"context"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

type scheduleSource interface {
	FetchSessions(ctx context.Context, scope models.Scope, window models.DateRange) ([]models.ClassSession, error)
	FetchEnrollments(ctx context.Context, scope models.Scope) ([]models.SessionEnrollment, error)
	FetchRefundRequests(ctx context.Context, scope models.Scope) ([]models.RefundRequest, error)
}

// ComputeDiff compares the student's active enrollments with a new selection. It never panics;
// a negative unit price is treated as zero.
func ComputeDiff(original []models.ModificationSessionVM, selected []string, unitPrice int64) dto.DiffResult {
	if unitPrice < 0 {
		unitPrice = 0
	}

	originalIDs := make(map[string]struct{}, len(original))
	for _, vm := range original {
		if vm.IsAlreadyEnrolled() {
			originalIDs[vm.Session.ID] = struct{}{}
		}
	}
	selectedIDs := NewSelectionSet(selected...)

	added := make([]string, 0)
	for id := range selectedIDs {
		if _, ok := originalIDs[id]; !ok {
			added = append(added, id)
		}
	}
	removed := make([]string, 0)
	for id := range originalIDs {
		if !selectedIDs.Has(id) {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	netChange := len(added) - len(removed)
	total := int64(netChange) * unitPrice

	result := dto.DiffResult{
		Added:          added,
		Removed:        removed,
		NetChange:      netChange,
		UnitPrice:      unitPrice,
		TotalAmount:    total,
		HasChanges:     len(added) > 0 || len(removed) > 0,
		HasRealChanges: !sameIDs(originalIDs, selectedIDs),
	}

	switch {
	case total > 0:
		result.ChangeType = dto.ChangeTypeAdditionalPayment
		result.NextStep = dto.NextStepPayment
	case total < 0:
		result.ChangeType = dto.ChangeTypeRefund
		result.NextStep = dto.NextStepRefundRequest
	default:
		result.ChangeType = dto.ChangeTypeNoChange
		if result.HasRealChanges {
			// swaps and unpriced changes still need a zero-amount confirmation
			result.NextStep = dto.NextStepPayment
		} else {
			result.NextStep = dto.NextStepComplete
		}
	}
	return result
}

func sameIDs(a map[string]struct{}, b SelectionSet) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b.Has(id) {
			return false
		}
	}
	return true
}

// ResolveUnitPrice returns the tuition fee of the first modification-eligible session.
// The boolean is true when the fallback had to be used.
func ResolveUnitPrice(view []models.ModificationSessionVM, fallback int64) (int64, bool) {
	for _, vm := range view {
		if !vm.IsSelectable && !vm.CanBeCancelled {
			continue
		}
		if vm.Session.TuitionFee == nil || *vm.Session.TuitionFee < 0 {
			return fallback, true
		}
		return *vm.Session.TuitionFee, false
	}
	return fallback, true
}

// BuildModificationView joins sessions with the student's non-terminal enrollments.
func BuildModificationView(sessions []models.ClassSession, enrollments []models.SessionEnrollment, studentID string) []models.ModificationSessionVM {
	bySession := models.ActiveEnrollmentBySession(enrollments, studentID)
	view := make([]models.ModificationSessionVM, 0, len(sessions))
	for _, s := range sessions {
		var enrollment *models.SessionEnrollment
		if e, ok := bySession[s.ID]; ok {
			enrollment = &e
		}
		view = append(view, buildModificationVM(s, enrollment))
	}
	return view
}

func buildModificationVM(session models.ClassSession, enrollment *models.SessionEnrollment) models.ModificationSessionVM {
	vm := models.ModificationSessionVM{Session: session, Enrollment: enrollment}
	enrolled := vm.IsAlreadyEnrolled()
	vm.IsSelectable = !enrolled && session.IsEnrollable && !session.IsFull && !session.IsPastStartTime
	// dropping a session goes through a refund request, which not every active status allows
	vm.CanBeCancelled = enrolled && !session.IsPastStartTime && models.CanRequestRefund(*enrollment)
	return vm
}

// ModificationService previews enrollment modifications for a student.
type ModificationService struct {
	source       scheduleSource
	defaultPrice int64
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewModificationService constructs ModificationService. defaultPrice applies when no eligible session carries a fee.
func NewModificationService(source scheduleSource, defaultPrice int64, validate *validator.Validate, logger *zap.Logger) *ModificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModificationService{source: source, defaultPrice: defaultPrice, validator: validate, logger: logger}
}

// Preview loads the student's sessions and enrollments and computes the diff for the selection.
func (s *ModificationService) Preview(ctx context.Context, req dto.ModificationPreviewRequest) (*dto.ModificationPreview, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid modification payload")
	}
	scope := models.Scope{UserID: req.StudentID, Role: models.RoleStudent}
	sessions, err := s.source.FetchSessions(ctx, scope, models.DateRange{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	enrollments, err := s.source.FetchEnrollments(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if req.ClassID != "" {
		filtered := sessions[:0:0]
		for _, session := range sessions {
			if session.ClassID == req.ClassID {
				filtered = append(filtered, session)
			}
		}
		sessions = filtered
	}

	view := BuildModificationView(sessions, enrollments, req.StudentID)
	price, usedDefault := ResolveUnitPrice(view, s.defaultPrice)
	if usedDefault {
		s.logger.Warn("modification pricing degraded to default",
			zap.String("code", appErrors.ErrStaleDiffInput.Code),
			zap.String("student_id", req.StudentID),
			zap.Int64("unit_price", price))
	}

	return &dto.ModificationPreview{
		Diff:         ComputeDiff(view, req.SelectedSessionIDs, price),
		Sessions:     view,
		PriceDefault: usedDefault,
	}, nil
}
