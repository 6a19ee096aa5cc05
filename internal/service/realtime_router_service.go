package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	"github.com/noah-isme/sma-class-sync/internal/models"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
)

// Cached collections.
const (
	ResourceSessions       = "calendar-sessions"
	ResourceEnrollments    = "enrollments"
	ResourceRefundRequests = "refund-requests"
)

// QueryKey scopes a resource to a role, e.g. "student:enrollments".
func QueryKey(role models.UserRole, resource string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(string(role)), resource)
}

type queryCache interface {
	Invalidate(key string)
	SetData(key string, updater Updater) bool
	GetData(key string) (interface{}, bool)
}

// RouteEffects lists what a routed event did to the cache.
type RouteEffects struct {
	Event       string
	Invalidated []string
	Patched     []string
	Ignored     bool
}

// RealtimeRouter translates push events into cache invalidations and optimistic patches.
// Calendar convergence follows from the cache change listeners.
type RealtimeRouter struct {
	cache   queryCache
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRealtimeRouter constructs the router.
func NewRealtimeRouter(cache queryCache, metrics *MetricsService, logger *zap.Logger) *RealtimeRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeRouter{cache: cache, metrics: metrics, logger: logger}
}

// HandleMessage decodes a raw push message and routes it. Malformed payloads are logged and dropped.
func (r *RealtimeRouter) HandleMessage(ctx context.Context, name string, payload json.RawMessage, role models.UserRole) RouteEffects {
	event, err := dto.DecodeRealtimeEvent(name, payload)
	if err != nil {
		r.logger.Warn("dropping malformed realtime event", zap.String("event", name), zap.Error(err))
		r.observe(name, RouteMalformed)
		return RouteEffects{Event: name, Ignored: true}
	}
	return r.Route(ctx, event, role)
}

// Route dispatches one event for the current role. It never panics.
func (r *RealtimeRouter) Route(ctx context.Context, event dto.RealtimeEvent, role models.UserRole) (effects RouteEffects) {
	if event == nil {
		return RouteEffects{Ignored: true}
	}
	effects.Event = event.EventName()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("realtime route panicked", zap.String("event", effects.Event), zap.Any("panic", rec))
			effects = RouteEffects{Event: effects.Event, Ignored: true}
		}
		r.observe(effects.Event, effects.outcome())
	}()

	switch evt := event.(type) {
	case dto.EnrollmentStatusChanged:
		if role == models.RolePrincipal {
			r.invalidate(&effects, QueryKey(role, ResourceEnrollments), QueryKey(role, ResourceRefundRequests))
			return effects
		}
		r.patchEnrollment(&effects, role, evt.EnrollmentID, evt.Status, evt.RejectionReason)
	case dto.RefundRequestStatusChanged:
		if role == models.RolePrincipal {
			r.invalidate(&effects, QueryKey(role, ResourceRefundRequests), QueryKey(role, ResourceEnrollments))
			return effects
		}
		r.patchRefund(&effects, role, evt)
		if status, ok := models.EnrollmentStatusAfterRefund(evt.Status); ok && evt.EnrollmentID != "" {
			r.patchEnrollment(&effects, role, evt.EnrollmentID, status, nil)
		}
	case dto.SessionChanged:
		r.invalidate(&effects, QueryKey(role, ResourceSessions))
	default:
		r.logger.Warn("ignoring unroutable realtime event",
			zap.String("code", appErrors.ErrUnroutableEvent.Code),
			zap.String("event", effects.Event))
		effects.Ignored = true
	}
	return effects
}

func (r *RealtimeRouter) invalidate(effects *RouteEffects, keys ...string) {
	for _, key := range keys {
		r.cache.Invalidate(key)
		effects.Invalidated = append(effects.Invalidated, key)
	}
}

// patchEnrollment updates one cached record in place; unknown records fall back to a refetch.
func (r *RealtimeRouter) patchEnrollment(effects *RouteEffects, role models.UserRole, id string, status models.EnrollmentStatus, reason *string) {
	key := QueryKey(role, ResourceEnrollments)
	patched := r.cache.SetData(key, func(current interface{}) (interface{}, bool) {
		list, ok := current.([]models.SessionEnrollment)
		if !ok {
			return nil, false
		}
		for i := range list {
			if list[i].ID != id {
				continue
			}
			if current := list[i].Status; current != status && !current.CanTransitionTo(status) {
				// out of order push; let a refetch settle it
				r.logger.Debug("enrollment transition not patchable", zap.String("enrollment_id", id), zap.String("from", string(current)), zap.String("to", string(status)))
				return nil, false
			}
			next := make([]models.SessionEnrollment, len(list))
			copy(next, list)
			next[i].Status = status
			if reason != nil {
				next[i].RejectionReason = reason
			}
			return next, true
		}
		return nil, false
	})
	if patched {
		effects.Patched = append(effects.Patched, key)
		return
	}
	r.invalidate(effects, key)
}

func (r *RealtimeRouter) patchRefund(effects *RouteEffects, role models.UserRole, evt dto.RefundRequestStatusChanged) {
	key := QueryKey(role, ResourceRefundRequests)
	patched := r.cache.SetData(key, func(current interface{}) (interface{}, bool) {
		list, ok := current.([]models.RefundRequest)
		if !ok {
			return nil, false
		}
		for i := range list {
			if list[i].ID != evt.RefundRequestID {
				continue
			}
			next := make([]models.RefundRequest, len(list))
			copy(next, list)
			next[i].Status = evt.Status
			if evt.ProcessedBy != nil {
				next[i].ProcessedBy = evt.ProcessedBy
			}
			if evt.RejectionReason != nil {
				next[i].RejectionReason = evt.RejectionReason
			}
			return next, true
		}
		return nil, false
	})
	if patched {
		effects.Patched = append(effects.Patched, key)
		return
	}
	r.invalidate(effects, key)
}

func (r *RealtimeRouter) observe(event, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveRealtimeEvent(event, outcome)
	}
}

func (e RouteEffects) outcome() string {
	switch {
	case e.Ignored:
		return RouteIgnored
	case len(e.Invalidated) > 0:
		return RouteInvalidated
	default:
		return RoutePatched
	}
}
