package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Rounding is the rounding rule applied to stamped times.
type Rounding string

const (
	RoundNone Rounding = "none"
	Round5    Rounding = "5"
	Round10   Rounding = "10"
	Round15   Rounding = "15"
)

// ParseRounding accepts "none", "5", "10", "15" and the "5min" style.
func ParseRounding(s string) (Rounding, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "min")
	switch Rounding(s) {
	case RoundNone, "", "0":
		return RoundNone, nil
	case Round5, Round10, Round15:
		return Rounding(s), nil
	}
	return "", fmt.Errorf("invalid rounding %q: want none, 5, 10 or 15", s)
}

// Step returns the rounding step in minutes; 0 means no rounding.
func (r Rounding) Step() int {
	n, err := strconv.Atoi(string(r))
	if err != nil {
		return 0
	}
	return n
}

// Settings are the per-user preferences stored by the backend.
type Settings struct {
	OwnerID         string   `json:"user_id"`
	RolloverDay     int      `json:"rollover_day"`
	RolloverHour    int      `json:"rollover_hour"`
	Rounding        Rounding `json:"rounding"`
	Language        string   `json:"language"`
	AutoBackup      bool     `json:"auto_backup"`
	BackupFrequency string   `json:"backup_frequency"`
	UpdatedAt       string   `json:"updated_at,omitempty"`
}

// DefaultSettings returns the settings created for a user who has none.
func DefaultSettings(ownerID string) Settings {
	return Settings{
		OwnerID:         ownerID,
		RolloverDay:     1,
		RolloverHour:    0,
		Rounding:        RoundNone,
		Language:        "da",
		AutoBackup:      false,
		BackupFrequency: "weekly",
	}
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.RolloverDay < 1 || s.RolloverDay > 31 {
		return fmt.Errorf("rollover day %d out of range 1-31", s.RolloverDay)
	}
	if s.RolloverHour < 0 || s.RolloverHour > 23 {
		return fmt.Errorf("rollover hour %d out of range 0-23", s.RolloverHour)
	}
	if _, err := ParseRounding(string(s.Rounding)); err != nil {
		return err
	}
	switch s.Language {
	case "da", "en":
	default:
		return fmt.Errorf("unsupported language %q: want da or en", s.Language)
	}
	switch s.BackupFrequency {
	case "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("invalid backup frequency %q", s.BackupFrequency)
	}
	return nil
}

// SettingsPatch carries the fields a user wants to change.
type SettingsPatch struct {
	RolloverDay     *int
	RolloverHour    *int
	Rounding        *Rounding
	Language        *string
	AutoBackup      *bool
	BackupFrequency *string
}

// Apply returns s with the patch applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.RolloverDay != nil {
		s.RolloverDay = *p.RolloverDay
	}
	if p.RolloverHour != nil {
		s.RolloverHour = *p.RolloverHour
	}
	if p.Rounding != nil {
		s.Rounding = *p.Rounding
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.AutoBackup != nil {
		s.AutoBackup = *p.AutoBackup
	}
	if p.BackupFrequency != nil {
		s.BackupFrequency = *p.BackupFrequency
	}
	return s
}
