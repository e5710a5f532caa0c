package engine

import (
	"context"
	"time"

	"github.com/reachforge/outreach-engine/internal/domain"
)

// Repository defines the data access contract the engine consumes.
// Implementations must be safe for concurrent use.
type Repository interface {
	// ActiveFollowUpCampaigns returns campaigns eligible for follow-up
	// scanning: follow_up_enabled with status active/running/sent.
	ActiveFollowUpCampaigns(ctx context.Context) ([]domain.Campaign, error)

	// ProspectsNeedingFollowUp returns the campaign's prospects with
	// follow_up_status = active and unsubscribed = false.
	ProspectsNeedingFollowUp(ctx context.Context, campaignID string) ([]domain.Prospect, error)

	// UpdateProspect applies the non-nil fields to the prospect.
	UpdateProspect(ctx context.Context, id string, fields ProspectUpdate) error

	// AdvanceFollowUp increments the prospect's follow_up_count and sets
	// last_follow_up, but only if the stored count still equals
	// expectedCount. Returns ErrStaleProspect when the guard fails.
	AdvanceFollowUp(ctx context.Context, id string, expectedCount int, sentAt time.Time) error

	// ThreadByProspect returns the prospect's conversation log. A prospect
	// with no messages yet gets an empty thread, not ErrNotFound.
	ThreadByProspect(ctx context.Context, prospectID string) (*domain.Thread, error)

	// AppendThreadMessage appends one message to the prospect's thread.
	AppendThreadMessage(ctx context.Context, prospectID string, msg domain.ThreadMessage) error

	// CreateEmailRecord persists one outbound message.
	CreateEmailRecord(ctx context.Context, rec *domain.EmailRecord) error

	// FirstEmailRecord returns the earliest email record for the prospect,
	// or ErrNotFound if none exists. Used to resolve the original provider.
	FirstEmailRecord(ctx context.Context, prospectID string) (*domain.EmailRecord, error)

	// TemplateByID returns a template, or ErrNotFound.
	TemplateByID(ctx context.Context, id string) (*domain.Template, error)
}

// ProspectUpdate holds the mutable prospect fields the engine writes.
// Nil fields are not applied.
type ProspectUpdate struct {
	FollowUpStatus *domain.FollowUpStatus
	ResponseType   *domain.ResponseType
	RespondedAt    *time.Time
}

// StopUpdate builds the update recorded when follow-ups stop or complete.
func StopUpdate(status domain.FollowUpStatus, reason domain.ResponseType, at time.Time) ProspectUpdate {
	return ProspectUpdate{
		FollowUpStatus: &status,
		ResponseType:   &reason,
		RespondedAt:    &at,
	}
}

// Sender is the outbound send capability. Provider IDs name configured
// mailboxes; the engine never chooses a provider itself, it reuses the one
// recorded on the prospect's first email.
type Sender interface {
	Send(ctx context.Context, providerID, toEmail, subject, htmlBody string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, providerID, toEmail, subject, htmlBody string) error

func (f SenderFunc) Send(ctx context.Context, providerID, toEmail, subject, htmlBody string) error {
	return f(ctx, providerID, toEmail, subject, htmlBody)
}
