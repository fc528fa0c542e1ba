package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultCapacity           = 50
	DefaultSlotSizeMinutes    = 30
	DefaultAvgDiningMinutes   = 120
	DefaultTurnoverMinutes    = 15
	DefaultMaxPeople          = 8
	DefaultMinAdvanceMinutes  = 60
	DefaultMaxDurationMinutes = 120
	DefaultTimezone           = "Europe/Rome"
)

// Tenant is a venue accepting reservations. Config is owned externally and only read here.
type Tenant struct {
	ID       string       `bson:"id" json:"id"`
	Name     string       `bson:"name" json:"name"`
	Timezone string       `bson:"timezone,omitempty" json:"timezone,omitempty"`
	Config   TenantConfig `bson:"config" json:"config"`

	// Settings holds Config with defaults applied. Populated by Resolve.
	Settings TenantSettings `bson:"-" json:"-"`
}

// TenantConfig mirrors the stored configuration bag. Zero values mean "use the default".
type TenantConfig struct {
	Capacity         int                   `bson:"capacity,omitempty" json:"capacity,omitempty"`
	OpeningHours     map[string][]string   `bson:"openingHours,omitempty" json:"openingHours,omitempty"` // "mon".."sun" -> ["HH:mm-HH:mm"]
	SpecialDays      map[string]SpecialDay `bson:"specialDays,omitempty" json:"specialDays,omitempty"`   // "2006-01-02" -> override
	SlotSizeMinutes  int                   `bson:"slotSizeMinutes,omitempty" json:"slotSizeMinutes,omitempty"`
	AvgDiningMinutes int                   `bson:"avgDiningMinutes,omitempty" json:"avgDiningMinutes,omitempty"`
	TurnoverMinutes  *int                  `bson:"turnoverMinutes,omitempty" json:"turnoverMinutes,omitempty"`
	Rules            BookingRules          `bson:"rules,omitempty" json:"rules,omitempty"`
}

// BookingRules are the structural limits a booking must respect.
type BookingRules struct {
	MaxPeople          int  `bson:"maxPeople,omitempty" json:"maxPeople,omitempty"`
	MinAdvanceMinutes  *int `bson:"minAdvanceMinutes,omitempty" json:"minAdvanceMinutes,omitempty"`
	MaxDurationMinutes int  `bson:"maxDurationMinutes,omitempty" json:"maxDurationMinutes,omitempty"`
}

// SpecialDay overrides the weekly template for one date. Closed is distinct from "no override".
//
// In JSON a special day is either an array of ranges, null, or the string "closed".
// Both null and an empty array close the date.
type SpecialDay struct {
	Closed bool     `bson:"closed" json:"-"`
	Ranges []string `bson:"ranges,omitempty" json:"-"`
}

func (d SpecialDay) MarshalJSON() ([]byte, error) {
	if d.Closed || len(d.Ranges) == 0 {
		return []byte(`"closed"`), nil
	}
	return json.Marshal(d.Ranges)
}

func (d *SpecialDay) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*d = SpecialDay{Closed: true}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s != "closed" {
			return fmt.Errorf("special day: unsupported marker %q", s)
		}
		*d = SpecialDay{Closed: true}
		return nil
	}
	var ranges []string
	if err := json.Unmarshal(trimmed, &ranges); err != nil {
		return fmt.Errorf("special day: %w", err)
	}
	*d = SpecialDay{Closed: len(ranges) == 0, Ranges: ranges}
	return nil
}

// TenantSettings is TenantConfig with every default resolved.
type TenantSettings struct {
	Capacity           int
	OpeningHours       map[string][]string
	SpecialDays        map[string]SpecialDay
	SlotSizeMinutes    int
	AvgDiningMinutes   int
	TurnoverMinutes    int
	MaxPeople          int
	MinAdvanceMinutes  int
	MaxDurationMinutes int
	Timezone           string
	Location           *time.Location
}

// SlotSize returns the grid granularity as a duration.
func (s TenantSettings) SlotSize() time.Duration {
	return time.Duration(s.SlotSizeMinutes) * time.Minute
}

// Turnover returns the post-booking buffer as a duration.
func (s TenantSettings) Turnover() time.Duration {
	return time.Duration(s.TurnoverMinutes) * time.Minute
}

// Resolve fills Settings from Config. fallbackTZ is used when the tenant has no timezone.
func (t *Tenant) Resolve(fallbackTZ string) error {
	cfg := t.Config
	s := TenantSettings{
		Capacity:           orDefault(cfg.Capacity, DefaultCapacity),
		OpeningHours:       cfg.OpeningHours,
		SpecialDays:        cfg.SpecialDays,
		SlotSizeMinutes:    orDefault(cfg.SlotSizeMinutes, DefaultSlotSizeMinutes),
		AvgDiningMinutes:   orDefault(cfg.AvgDiningMinutes, DefaultAvgDiningMinutes),
		TurnoverMinutes:    DefaultTurnoverMinutes,
		MaxPeople:          orDefault(cfg.Rules.MaxPeople, DefaultMaxPeople),
		MinAdvanceMinutes:  DefaultMinAdvanceMinutes,
		MaxDurationMinutes: orDefault(cfg.Rules.MaxDurationMinutes, DefaultMaxDurationMinutes),
	}
	if cfg.TurnoverMinutes != nil && *cfg.TurnoverMinutes >= 0 {
		s.TurnoverMinutes = *cfg.TurnoverMinutes
	}
	if cfg.Rules.MinAdvanceMinutes != nil && *cfg.Rules.MinAdvanceMinutes >= 0 {
		s.MinAdvanceMinutes = *cfg.Rules.MinAdvanceMinutes
	}
	if s.OpeningHours == nil {
		s.OpeningHours = map[string][]string{}
	}

	tz := t.Timezone
	if tz == "" {
		tz = fallbackTZ
	}
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("tenant %s: invalid timezone %q: %w", t.ID, tz, err)
	}
	s.Timezone = tz
	s.Location = loc
	t.Settings = s
	return nil
}

// Resolved reports whether Resolve has been called.
func (t *Tenant) Resolved() bool {
	return t.Settings.Location != nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
