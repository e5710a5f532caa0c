package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/reachforge/outreach-engine/internal/domain"
)

// datetimeFiringWindow is how far now may drift from a datetime-mode target
// and still fire. The scanner ticks every minute, so this is the matching
// granularity. A target missed by more than this is never sent; re-running
// stale schedules after downtime would surprise recipients more than a
// silently skipped step.
const datetimeFiringWindow = 60 * time.Second

// Decision is the outcome of evaluating one prospect's schedule.
type Decision struct {
	Due bool

	// LimitReached is set when the prospect's follow-up budget is exhausted.
	// The caller transitions the state machine; timing itself never writes.
	LimitReached bool
}

// NextFollowUpDue decides whether prospect p's next follow-up should fire
// right now. Pure: all clock access goes through now, which is converted to
// the campaign's configured timezone before any window checks.
func NextFollowUpDue(p *domain.Prospect, c *domain.Campaign, now time.Time) (Decision, error) {
	if p.FollowUpCount >= c.MaxFollowUps() {
		return Decision{LimitReached: true}, nil
	}

	loc, err := c.Location()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBadTimezone, err)
	}
	local := now.In(loc)

	if !inSendWindow(c, local) {
		return Decision{}, nil
	}

	switch c.FollowUpScheduleType {
	case domain.ScheduleDatetime:
		return datetimeDue(p, c, local, loc), nil
	case domain.ScheduleInterval:
		return intervalDue(p, c, local), nil
	default:
		return Decision{}, fmt.Errorf("campaign %s: unknown schedule type %q", c.ID, c.FollowUpScheduleType)
	}
}

// datetimeDue fires when now is within the firing window of the absolute
// target for this sequence index. An index past the end of the list means
// the schedule has nothing more to send.
func datetimeDue(p *domain.Prospect, c *domain.Campaign, local time.Time, loc *time.Location) Decision {
	if p.FollowUpCount >= len(c.FollowUpDates) {
		return Decision{}
	}
	target := c.FollowUpDates[p.FollowUpCount].In(loc)
	diff := local.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return Decision{Due: diff <= datetimeFiringWindow}
}

// intervalDue fires when enough time has elapsed since the reference point
// (last follow-up, else initial contact). The interval index clamps to the
// last configured element so a long sequence keeps its final cadence.
func intervalDue(p *domain.Prospect, c *domain.Campaign, local time.Time) Decision {
	ref := p.ReferenceTime()
	if ref == nil || len(c.FollowUpIntervals) == 0 {
		return Decision{}
	}
	idx := p.FollowUpCount
	if idx >= len(c.FollowUpIntervals) {
		idx = len(c.FollowUpIntervals) - 1
	}
	elapsed := local.Sub(*ref)
	return Decision{Due: elapsed >= c.FollowUpIntervals[idx].Duration()}
}

// inSendWindow checks the campaign's day-of-week set and time-of-day range
// against the campaign-local clock. The HH:MM comparison is lexicographic,
// which is correct for zero-padded 24-hour strings.
func inSendWindow(c *domain.Campaign, local time.Time) bool {
	day := strings.ToLower(local.Weekday().String())
	if !c.AllowsWeekday(day) {
		return false
	}
	start, end := c.TimeWindow()
	hhmm := local.Format("15:04")
	return hhmm >= start && hhmm <= end
}
