package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-class-sync/internal/models"
)

// activeStatuses are the enrollment statuses that occupy a seat.
var activeStatuses = []interface{}{
	models.EnrollmentStatusPending,
	models.EnrollmentStatusConfirmed,
	models.EnrollmentStatusRefundRejectedConfirmed,
}

// ScheduleRepository is the role-scoped session/enrollment data source.
type ScheduleRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db, now: time.Now}
}

// FetchSessions returns sessions visible to scope within window, with derived flags set.
func (r *ScheduleRepository) FetchSessions(ctx context.Context, scope models.Scope, window models.DateRange) ([]models.ClassSession, error) {
	var conditions []string
	var args []interface{}

	if scope.Role == models.RoleTeacher {
		args = append(args, scope.UserID)
		conditions = append(conditions, fmt.Sprintf("c.teacher_id = $%d", len(args)))
	}
	if !window.From.IsZero() {
		args = append(args, window.From)
		conditions = append(conditions, fmt.Sprintf("cs.date >= $%d", len(args)))
	}
	if !window.To.IsZero() {
		args = append(args, window.To)
		conditions = append(conditions, fmt.Sprintf("cs.date <= $%d", len(args)))
	}

	placeholders := make([]string, len(activeStatuses))
	for i, status := range activeStatuses {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT cs.id, cs.class_id, c.name AS class_name, cs.date,
        to_char(cs.start_time, 'HH24:MI') AS start_time, to_char(cs.end_time, 'HH24:MI') AS end_time,
        cs.max_students, c.tuition_fee, cs.location,
        (SELECT COUNT(*) FROM session_enrollments se WHERE se.session_id = cs.id AND se.status IN (%s)) AS enrolled_count
        FROM class_sessions cs
        JOIN classes c ON c.id = cs.class_id%s
        ORDER BY cs.date, cs.start_time`, strings.Join(placeholders, ","), clause)

	var sessions []models.ClassSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	now := r.now()
	for i := range sessions {
		deriveSessionFlags(&sessions[i], now)
	}
	return sessions, nil
}

// FetchEnrollments returns enrollments visible to scope.
func (r *ScheduleRepository) FetchEnrollments(ctx context.Context, scope models.Scope) ([]models.SessionEnrollment, error) {
	base := `SELECT se.id, se.session_id, se.student_id, se.status, se.enrolled_at, se.rejection_reason FROM session_enrollments se`
	var query string
	var args []interface{}
	switch scope.Role {
	case models.RoleStudent:
		query = base + ` WHERE se.student_id = $1 ORDER BY se.enrolled_at`
		args = append(args, scope.UserID)
	case models.RoleTeacher:
		query = base + ` JOIN class_sessions cs ON cs.id = se.session_id JOIN classes c ON c.id = cs.class_id WHERE c.teacher_id = $1 ORDER BY se.enrolled_at`
		args = append(args, scope.UserID)
	default:
		query = base + ` ORDER BY se.enrolled_at`
	}

	var enrollments []models.SessionEnrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("fetch enrollments: %w", err)
	}
	return enrollments, nil
}

// FetchRefundRequests returns refund requests visible to scope.
func (r *ScheduleRepository) FetchRefundRequests(ctx context.Context, scope models.Scope) ([]models.RefundRequest, error) {
	base := `SELECT rr.id, rr.enrollment_id, rr.amount, rr.status, rr.processed_by, rr.rejection_reason, rr.created_at FROM refund_requests rr`
	var query string
	var args []interface{}
	switch scope.Role {
	case models.RoleStudent:
		query = base + ` JOIN session_enrollments se ON se.id = rr.enrollment_id WHERE se.student_id = $1 ORDER BY rr.created_at DESC`
		args = append(args, scope.UserID)
	case models.RoleTeacher:
		query = base + ` JOIN session_enrollments se ON se.id = rr.enrollment_id JOIN class_sessions cs ON cs.id = se.session_id JOIN classes c ON c.id = cs.class_id WHERE c.teacher_id = $1 ORDER BY rr.created_at DESC`
		args = append(args, scope.UserID)
	default:
		query = base + ` ORDER BY rr.created_at DESC`
	}

	var requests []models.RefundRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("fetch refund requests: %w", err)
	}
	return requests, nil
}

func deriveSessionFlags(s *models.ClassSession, now time.Time) {
	s.IsFull = s.MaxStudents > 0 && s.EnrolledCount >= s.MaxStudents
	s.IsPastStartTime = !sessionStart(*s).After(now)
	s.IsEnrollable = !s.IsFull && !s.IsPastStartTime
}

func sessionStart(s models.ClassSession) time.Time {
	start := time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), 0, 0, 0, 0, s.Date.Location())
	if t, err := time.Parse("15:04", s.StartTime); err == nil {
		start = start.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
	}
	return start
}
