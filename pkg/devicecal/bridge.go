package devicecal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/sma-class-sync/internal/models"
)

// HTTPBridge talks to the companion app's local calendar bridge over JSON/HTTP.
type HTTPBridge struct {
	baseURL string
	client  *http.Client
}

type permissionResponse struct {
	Status models.CalendarPermission `json:"status"`
}

type createResponse struct {
	Key string `json:"key"`
}

// NewHTTPBridge returns a bridge rooted at baseURL, or nil when baseURL is empty.
func NewHTTPBridge(baseURL string, timeout time.Duration) *HTTPBridge {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBridge{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: timeout}}
}

// CheckPermission returns the current calendar permission.
func (b *HTTPBridge) CheckPermission(ctx context.Context) (models.CalendarPermission, error) {
	var resp permissionResponse
	if err := b.do(ctx, http.MethodGet, "/permission", nil, &resp); err != nil {
		return models.CalendarPermissionDenied, err
	}
	return normalizePermission(resp.Status), nil
}

// RequestPermission prompts the user for calendar access.
func (b *HTTPBridge) RequestPermission(ctx context.Context) (models.CalendarPermission, error) {
	var resp permissionResponse
	if err := b.do(ctx, http.MethodPost, "/permission/request", nil, &resp); err != nil {
		return models.CalendarPermissionDenied, err
	}
	if perm := normalizePermission(resp.Status); perm == models.CalendarPermissionGranted {
		return perm, nil
	}
	return models.CalendarPermissionDenied, nil
}

// CreateEvent writes a new entry and returns its device key.
func (b *HTTPBridge) CreateEvent(ctx context.Context, entry models.DeviceCalendarEntry) (string, error) {
	var resp createResponse
	if err := b.do(ctx, http.MethodPost, "/events", entry, &resp); err != nil {
		return "", err
	}
	if resp.Key == "" {
		return "", fmt.Errorf("calendar bridge returned empty key")
	}
	return resp.Key, nil
}

// UpdateEvent rewrites an existing entry.
func (b *HTTPBridge) UpdateEvent(ctx context.Context, entryKey string, entry models.DeviceCalendarEntry) error {
	return b.do(ctx, http.MethodPut, "/events/"+url.PathEscape(entryKey), entry, nil)
}

// DeleteEvent removes an entry; an already-absent key is not an error.
func (b *HTTPBridge) DeleteEvent(ctx context.Context, entryKey string) error {
	err := b.do(ctx, http.MethodDelete, "/events/"+url.PathEscape(entryKey), nil, nil)
	if se, ok := err.(*StatusError); ok && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// StatusError is returned for non-2xx bridge responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("calendar bridge responded %d: %s", e.Code, e.Body)
}

func (b *HTTPBridge) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal bridge request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	return nil
}

func normalizePermission(p models.CalendarPermission) models.CalendarPermission {
	switch models.CalendarPermission(strings.ToLower(string(p))) {
	case models.CalendarPermissionGranted:
		return models.CalendarPermissionGranted
	case models.CalendarPermissionPrompt:
		return models.CalendarPermissionPrompt
	default:
		return models.CalendarPermissionDenied
	}
}
