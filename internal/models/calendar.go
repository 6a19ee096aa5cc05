package models

import (
	"fmt"
	"time"
)

// CalendarPermission mirrors the device calendar authorisation state.
type CalendarPermission string

const (
	CalendarPermissionGranted CalendarPermission = "granted"
	CalendarPermissionDenied  CalendarPermission = "denied"
	CalendarPermissionPrompt  CalendarPermission = "prompt"
)

// DeviceCalendarEntry is the payload written to the device calendar for one session.
type DeviceCalendarEntry struct {
	SessionID string  `json:"session_id"`
	Title     string  `json:"title"`
	Date      string  `json:"date"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Location  *string `json:"location,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// Fingerprint captures the fields whose change requires a device update.
func (e DeviceCalendarEntry) Fingerprint() string {
	loc := ""
	if e.Location != nil {
		loc = *e.Location
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", e.Date, e.StartTime, e.EndTime, e.Title, loc)
}

// SyncedEntry records what was last written for a session.
type SyncedEntry struct {
	EntryKey    string    `json:"entry_key"`
	Fingerprint string    `json:"fingerprint"`
	Date        string    `json:"date,omitempty"`
	SyncedAt    time.Time `json:"synced_at"`
}

// CalendarSyncState is the persisted client-local sync state.
type CalendarSyncState struct {
	Enabled      bool                   `json:"enabled"`
	Entries      map[string]SyncedEntry `json:"entries"`
	LastSyncTime *time.Time             `json:"last_sync_time,omitempty"`
}

// CalendarSyncStatus is the observable state of the sync service.
type CalendarSyncStatus struct {
	Available    bool       `json:"available"`
	Enabled      bool       `json:"enabled"`
	SyncedCount  int        `json:"synced_count"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// EntryFromSession builds the device entry for a session.
func EntryFromSession(s ClassSession) DeviceCalendarEntry {
	title := s.ClassName
	if title == "" {
		title = "Class " + s.ClassID
	}
	return DeviceCalendarEntry{
		SessionID: s.ID,
		Title:     title,
		Date:      s.Date.Format("2006-01-02"),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Location:  s.Location,
		Notes:     fmt.Sprintf("session:%s", s.ID),
	}
}
