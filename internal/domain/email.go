package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailStatus enumerates the outcome of an outbound send attempt.
type EmailStatus string

const (
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

// EmailRecord is one outbound message persisted by the dispatcher.
type EmailRecord struct {
	ID              string      `json:"id" db:"id"`
	ProspectID      string      `json:"prospect_id" db:"prospect_id"`
	CampaignID      string      `json:"campaign_id" db:"campaign_id"`
	EmailProviderID string      `json:"email_provider_id" db:"email_provider_id"`
	Subject         string      `json:"subject" db:"subject"`
	Content         string      `json:"content" db:"content"`
	Status          EmailStatus `json:"status" db:"status"`
	SentAt          time.Time   `json:"sent_at" db:"sent_at"`
	IsFollowUp      bool        `json:"is_follow_up" db:"is_follow_up"`
	FollowUpSequence int        `json:"follow_up_sequence" db:"follow_up_sequence"`
	ThreadID        string      `json:"thread_id" db:"thread_id"`
}

// MessageDirection distinguishes thread entries we sent from ones we received.
type MessageDirection string

const (
	DirectionSent     MessageDirection = "sent"
	DirectionReceived MessageDirection = "received"
)

// ThreadMessage is one entry in a prospect's conversation log.
type ThreadMessage struct {
	Direction MessageDirection `json:"direction" db:"direction"`
	Subject   string           `json:"subject" db:"subject"`
	Content   string           `json:"content" db:"content"`
	Timestamp time.Time        `json:"timestamp" db:"timestamp"`
}

// Thread is the append-only ordered conversation log for one prospect,
// independent of which campaign or follow-up produced each message.
type Thread struct {
	ID       string          `json:"id" db:"id"`
	Messages []ThreadMessage `json:"messages"`
}

// threadNamespace seeds the deterministic thread-ID derivation.
var threadNamespace = uuid.MustParse("f5a3dc66-90b1-4f2e-9a07-3f6f1b6d8f21")

// ThreadIDForProspect derives the thread ID for a prospect. It depends on the
// prospect ID alone, so the initial email, every follow-up, and every reply
// land in the same thread no matter which component writes them.
func ThreadIDForProspect(prospectID string) string {
	return uuid.NewSHA1(threadNamespace, []byte(prospectID)).String()
}

// ReceivedAfter returns the received messages with a timestamp strictly
// after the given instant, in log order.
func (t *Thread) ReceivedAfter(after time.Time) []ThreadMessage {
	var out []ThreadMessage
	for _, m := range t.Messages {
		if m.Direction == DirectionReceived && m.Timestamp.After(after) {
			out = append(out, m)
		}
	}
	return out
}
