package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"

	// Legacy statuses still present in older campaign rows. The scanner
	// treats them the same as active.
	CampaignRunning CampaignStatus = "running"
	CampaignSent    CampaignStatus = "sent"
)

// ScheduleType selects which of the two follow-up timing modes a campaign
// uses. Exactly one of FollowUpIntervals/FollowUpDates is meaningful.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDatetime ScheduleType = "datetime"
)

// IntervalUnit is the unit of a follow-up interval value.
type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitDays    IntervalUnit = "days"
)

// legacyDayThreshold is the cutoff the old integer encoding used: bare
// values below it meant minutes, values at or above it meant whole days.
const legacyDayThreshold = 1440

// Interval is one step of an interval-mode follow-up schedule.
//
// The wire format accepts either the explicit form {"value": 3, "unit": "days"}
// or a bare integer, which decodes via the legacy rule: minutes below 1440,
// whole days (value/1440) at or above it.
type Interval struct {
	Value int          `json:"value"`
	Unit  IntervalUnit `json:"unit"`
}

// UnmarshalJSON accepts both the explicit {value, unit} object and the
// legacy bare-integer encoding.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*iv = IntervalFromLegacy(n)
		return nil
	}
	type plain Interval
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if p.Unit != UnitMinutes && p.Unit != UnitDays {
		return fmt.Errorf("interval: unknown unit %q", p.Unit)
	}
	*iv = Interval(p)
	return nil
}

// IntervalFromLegacy converts a bare integer from the old schema into an
// explicit interval. Values below 1440 are minutes; values at or above it
// are truncated to whole days.
func IntervalFromLegacy(n int) Interval {
	if n >= legacyDayThreshold {
		return Interval{Value: n / legacyDayThreshold, Unit: UnitDays}
	}
	return Interval{Value: n, Unit: UnitMinutes}
}

// Duration returns the interval as a time.Duration.
func (iv Interval) Duration() time.Duration {
	switch iv.Unit {
	case UnitDays:
		return time.Duration(iv.Value) * 24 * time.Hour
	default:
		return time.Duration(iv.Value) * time.Minute
	}
}

// FollowUpRule carries optional per-campaign overrides for the follow-up
// sequence: the send budget and an ordered template list (index i is the
// template for follow-up i+1).
type FollowUpRule struct {
	MaxFollowUps int      `json:"max_follow_ups" db:"max_follow_ups"`
	TemplateIDs  []string `json:"template_ids" db:"template_ids"`
}

// DefaultMaxFollowUps applies when a campaign has no follow-up rule.
const DefaultMaxFollowUps = 3

// Campaign represents one outreach batch and its follow-up configuration.
type Campaign struct {
	ID         string         `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Status     CampaignStatus `json:"status" db:"status"`
	TemplateID string         `json:"template_id" db:"template_id"`
	ProviderID string         `json:"email_provider_id" db:"email_provider_id"`

	FollowUpEnabled      bool         `json:"follow_up_enabled" db:"follow_up_enabled"`
	FollowUpScheduleType ScheduleType `json:"follow_up_schedule_type" db:"follow_up_schedule_type"`
	FollowUpIntervals    []Interval   `json:"follow_up_intervals" db:"follow_up_intervals"`
	FollowUpDates        []time.Time  `json:"follow_up_dates" db:"follow_up_dates"`
	FollowUpTemplateIDs  []string     `json:"follow_up_templates" db:"follow_up_templates"`

	FollowUpTimezone        string   `json:"follow_up_timezone" db:"follow_up_timezone"`
	FollowUpTimeWindowStart string   `json:"follow_up_time_window_start" db:"follow_up_time_window_start"`
	FollowUpTimeWindowEnd   string   `json:"follow_up_time_window_end" db:"follow_up_time_window_end"`
	FollowUpDaysOfWeek      []string `json:"follow_up_days_of_week" db:"follow_up_days_of_week"`

	FollowUpRule *FollowUpRule `json:"follow_up_rule,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MaxFollowUps returns the campaign's follow-up budget, falling back to the
// default when no rule is configured.
func (c *Campaign) MaxFollowUps() int {
	if c.FollowUpRule != nil && c.FollowUpRule.MaxFollowUps > 0 {
		return c.FollowUpRule.MaxFollowUps
	}
	return DefaultMaxFollowUps
}

// Location resolves the campaign's IANA timezone, defaulting to UTC when
// unset. An unknown zone name is a configuration error.
func (c *Campaign) Location() (*time.Location, error) {
	if c.FollowUpTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.FollowUpTimezone)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: bad timezone %q: %w", c.ID, c.FollowUpTimezone, err)
	}
	return loc, nil
}

// TimeWindow returns the campaign's allowed time-of-day range as "HH:MM"
// strings, substituting the unrestricted defaults when unset.
func (c *Campaign) TimeWindow() (start, end string) {
	start, end = c.FollowUpTimeWindowStart, c.FollowUpTimeWindowEnd
	if start == "" {
		start = "00:00"
	}
	if end == "" {
		end = "23:59"
	}
	return start, end
}

// AllowsWeekday reports whether the given weekday (lowercase English name)
// is in the campaign's allowed set. An empty set allows every day.
func (c *Campaign) AllowsWeekday(day string) bool {
	if len(c.FollowUpDaysOfWeek) == 0 {
		return true
	}
	for _, d := range c.FollowUpDaysOfWeek {
		if strings.EqualFold(d, day) {
			return true
		}
	}
	return false
}

// IsFollowUpActive reports whether the scanner should consider this
// campaign. Legacy running/sent rows count as active.
func (c *Campaign) IsFollowUpActive() bool {
	if !c.FollowUpEnabled {
		return false
	}
	switch c.Status {
	case CampaignActive, CampaignRunning, CampaignSent:
		return true
	}
	return false
}

// Template is the rendered content source for an outbound email.
type Template struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Subject string `json:"subject" db:"subject"`
	Body    string `json:"body" db:"body"`
}
