package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/reachforge/outreach-engine/internal/domain"
)

// ResponseCheck is the outcome of scanning a prospect's thread for inbound
// activity since our last outbound email.
type ResponseCheck struct {
	// Responded means a genuine human reply exists and follow-ups must stop.
	Responded bool
	// Reason is set when Responded is true.
	Reason domain.ResponseType
	// AutoRepliesSeen means at least one inbound message since the last
	// outbound classified as automated. Auto-replies never stop the
	// sequence on their own, but they color the stop reason when the
	// budget later runs out.
	AutoRepliesSeen bool
}

// ResponseDetector decides whether a prospect has produced a new inbound
// message after the engine's last outbound email to them.
type ResponseDetector struct {
	repo Repository
}

// NewResponseDetector creates a detector backed by the given repository.
func NewResponseDetector(repo Repository) *ResponseDetector {
	return &ResponseDetector{repo: repo}
}

// Check scans the prospect's thread. Inbound messages are considered only if
// strictly after the last follow-up (or the initial contact when no
// follow-up was sent yet). Each candidate runs through the auto-reply
// classifier: automated replies are noted but do not stop the sequence;
// the first genuine reply does.
//
// A responded_at already present on the prospect record (written by an
// outside component such as the inbound poller's webhook path) stops the
// sequence immediately without re-scanning the thread.
func (d *ResponseDetector) Check(ctx context.Context, p *domain.Prospect) (ResponseCheck, error) {
	if p.RespondedAt != nil {
		reason := p.ResponseType
		if reason == "" {
			reason = domain.ResponseThreadDetected
		}
		return ResponseCheck{Responded: true, Reason: reason}, nil
	}

	thread, err := d.repo.ThreadByProspect(ctx, p.ID)
	if err != nil {
		return ResponseCheck{}, fmt.Errorf("load thread for prospect %s: %w", p.ID, err)
	}

	since := d.sinceFor(p)
	var check ResponseCheck
	for _, msg := range thread.ReceivedAfter(since) {
		if IsAutoReply(msg.Subject, msg.Content) {
			check.AutoRepliesSeen = true
			continue
		}
		check.Responded = true
		check.Reason = domain.ResponseManual
		return check, nil
	}
	return check, nil
}

// sinceFor picks the cutoff for "new" inbound messages.
func (d *ResponseDetector) sinceFor(p *domain.Prospect) time.Time {
	if ref := p.ReferenceTime(); ref != nil {
		return *ref
	}
	// Never contacted: nothing we sent can have been answered, so any
	// inbound message counts.
	return time.Time{}
}
