package domain

import "time"

// FollowUpStatus is the prospect-level follow-up state machine field.
// Transitions: active -> stopped (response, limit, unsubscribe) and
// active -> completed (schedule exhausted). Both targets are terminal.
type FollowUpStatus string

const (
	FollowUpActive    FollowUpStatus = "active"
	FollowUpStopped   FollowUpStatus = "stopped"
	FollowUpCompleted FollowUpStatus = "completed"
)

// ResponseType records why follow-ups were stopped for a prospect.
type ResponseType string

const (
	// ResponseManual means a genuine human reply arrived.
	ResponseManual ResponseType = "manual_response"
	// ResponseAutoReply means only automated replies arrived before the
	// follow-up budget ran out.
	ResponseAutoReply ResponseType = "auto_reply_detected"
	// ResponseLimitReached means the follow-up budget was exhausted.
	ResponseLimitReached ResponseType = "limit_reached"
	// ResponseThreadDetected means a response was recorded on the prospect
	// by an outside component (inbound webhook, manual flag) before the
	// scanner evaluated the thread itself.
	ResponseThreadDetected ResponseType = "thread_response_detected"
	// ResponseUnsubscribed means the prospect opted out.
	ResponseUnsubscribed ResponseType = "unsubscribed"
)

// Prospect is a recipient enrolled in at most one active campaign's
// follow-up sequence at a time.
type Prospect struct {
	ID         string `json:"id" db:"id"`
	Email      string `json:"email" db:"email"`
	FirstName  string `json:"first_name" db:"first_name"`
	LastName   string `json:"last_name" db:"last_name"`
	Company    string `json:"company" db:"company"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	FollowUpStatus FollowUpStatus `json:"follow_up_status" db:"follow_up_status"`

	// FollowUpCount is the number of follow-ups already sent. It doubles as
	// the index into the campaign's dates/intervals for the next one.
	FollowUpCount int `json:"follow_up_count" db:"follow_up_count"`

	LastContact  *time.Time `json:"last_contact" db:"last_contact"`
	LastFollowUp *time.Time `json:"last_follow_up" db:"last_follow_up"`

	RespondedAt  *time.Time   `json:"responded_at" db:"responded_at"`
	ResponseType ResponseType `json:"response_type" db:"response_type"`

	// EmailProviderID is the provider used for the first email to this
	// prospect. Every follow-up must reuse it so the conversation stays in
	// one mailbox on the recipient's side.
	EmailProviderID string `json:"email_provider_id" db:"email_provider_id"`

	Unsubscribed bool `json:"unsubscribed" db:"unsubscribed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReferenceTime is the anchor for interval-mode timing: the last follow-up
// if one was sent, otherwise the initial contact. Nil when the prospect has
// never been contacted.
func (p *Prospect) ReferenceTime() *time.Time {
	if p.LastFollowUp != nil {
		return p.LastFollowUp
	}
	return p.LastContact
}

// IsEligible reports whether the prospect belongs in the scanner's working
// set. Terminal states and unsubscribes are permanently excluded.
func (p *Prospect) IsEligible() bool {
	return p.FollowUpStatus == FollowUpActive && !p.Unsubscribed
}
