package model

import (
	"fmt"

	"github.com/Tiliavir/stampclock/internal/timecalc"
)

// Entry is a single work session as stored by the backend.
type Entry struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"user_id"`
	WorkDate  string  `json:"work_date"`
	StartTime string  `json:"start_time"`
	EndTime   *string `json:"end_time"`
	// TotalMinutes is informational only; use Minutes to compute it.
	TotalMinutes *int   `json:"total_minutes,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// Open reports whether the session has not been ended yet.
func (e Entry) Open() bool {
	return e.EndTime == nil || *e.EndTime == ""
}

// Minutes recomputes the session length from start and end, wrapping past
// midnight. Open sessions count as zero.
func (e Entry) Minutes() int {
	if e.Open() {
		return 0
	}
	m, err := timecalc.TotalMinutes(e.StartTime, *e.EndTime)
	if err != nil {
		return 0
	}
	return m
}

// WithTotal returns a copy with TotalMinutes filled in from start and end.
func (e Entry) WithTotal() Entry {
	if e.Open() {
		e.TotalMinutes = nil
		return e
	}
	m := e.Minutes()
	e.TotalMinutes = &m
	return e
}

// EntryPatch is a partial update. Nil fields are left untouched; an EndTime
// pointing at "" clears the end time.
type EntryPatch struct {
	WorkDate  *string `json:"work_date,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p EntryPatch) Empty() bool {
	return p.WorkDate == nil && p.StartTime == nil && p.EndTime == nil
}

// Apply returns e with the patch applied.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.WorkDate != nil {
		e.WorkDate = *p.WorkDate
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		if *p.EndTime == "" {
			e.EndTime = nil
		} else {
			end := *p.EndTime
			e.EndTime = &end
		}
	}
	return e.WithTotal()
}

// Validate checks the formats of the fields that are set.
func (p EntryPatch) Validate() error {
	if p.WorkDate != nil {
		if _, err := timecalc.ParseDate(*p.WorkDate); err != nil {
			return err
		}
	}
	if p.StartTime != nil {
		if _, err := timecalc.TimeToMinutes(*p.StartTime); err != nil {
			return fmt.Errorf("start time: %w", err)
		}
	}
	if p.EndTime != nil && *p.EndTime != "" {
		if _, err := timecalc.TimeToMinutes(*p.EndTime); err != nil {
			return fmt.Errorf("end time: %w", err)
		}
	}
	return nil
}

// NewEntry describes an entry to create.
type NewEntry struct {
	WorkDate  string  `json:"work_date"`
	StartTime string  `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

// Validate checks date and time formats.
func (n NewEntry) Validate() error {
	if _, err := timecalc.ParseDate(n.WorkDate); err != nil {
		return err
	}
	if _, err := timecalc.TimeToMinutes(n.StartTime); err != nil {
		return fmt.Errorf("start time: %w", err)
	}
	if n.EndTime != nil && *n.EndTime != "" {
		if _, err := timecalc.TimeToMinutes(*n.EndTime); err != nil {
			return fmt.Errorf("end time: %w", err)
		}
	}
	return nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
