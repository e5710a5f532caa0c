// Package postgres implements engine.Repository against PostgreSQL.
//
// Text-array schedule columns go through lib/pq array support. Follow-up
// intervals are stored as JSONB so both the explicit {value, unit} form and
// legacy bare integers decode through the domain type. The TIMESTAMPTZ[]
// dates column is selected via to_jsonb because lib/pq cannot scan a
// timestamp array into []time.Time.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reachforge/outreach-engine/internal/domain"
	"github.com/reachforge/outreach-engine/internal/engine"
)

// Repo implements engine.Repository.
type Repo struct{ db *sql.DB }

// New creates a Postgres-backed repository.
func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) ActiveFollowUpCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, status, COALESCE(template_id,''), COALESCE(email_provider_id,''),
		       follow_up_enabled, follow_up_schedule_type,
		       COALESCE(follow_up_intervals,'[]'::jsonb)::text,
		       COALESCE(to_jsonb(follow_up_dates),'[]'::jsonb)::text, follow_up_templates,
		       COALESCE(follow_up_timezone,''),
		       COALESCE(follow_up_time_window_start,''), COALESCE(follow_up_time_window_end,''),
		       follow_up_days_of_week,
		       follow_up_max, follow_up_rule_templates,
		       created_at, updated_at
		FROM outreach_campaigns
		WHERE follow_up_enabled = TRUE
		  AND status IN ('active', 'running', 'sent')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list follow-up campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var (
			c             domain.Campaign
			intervalsJSON string
			datesJSON     string
			templateIDs   pq.StringArray
			days          pq.StringArray
			maxFollowUps  sql.NullInt64
			ruleTemplates pq.StringArray
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Status, &c.TemplateID, &c.ProviderID,
			&c.FollowUpEnabled, &c.FollowUpScheduleType,
			&intervalsJSON,
			&datesJSON, &templateIDs,
			&c.FollowUpTimezone,
			&c.FollowUpTimeWindowStart, &c.FollowUpTimeWindowEnd,
			&days,
			&maxFollowUps, &ruleTemplates,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if err := json.Unmarshal([]byte(intervalsJSON), &c.FollowUpIntervals); err != nil {
			return nil, fmt.Errorf("campaign %s: decode intervals: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(datesJSON), &c.FollowUpDates); err != nil {
			return nil, fmt.Errorf("campaign %s: decode follow-up dates: %w", c.ID, err)
		}
		c.FollowUpTemplateIDs = templateIDs
		c.FollowUpDaysOfWeek = days
		if maxFollowUps.Valid || len(ruleTemplates) > 0 {
			c.FollowUpRule = &domain.FollowUpRule{
				MaxFollowUps: int(maxFollowUps.Int64),
				TemplateIDs:  ruleTemplates,
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) ProspectsNeedingFollowUp(ctx context.Context, campaignID string) ([]domain.Prospect, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(company,''),
		       campaign_id, follow_up_status, follow_up_count,
		       last_contact, last_follow_up, responded_at, COALESCE(response_type,''),
		       COALESCE(email_provider_id,''), unsubscribed, created_at, updated_at
		FROM outreach_prospects
		WHERE campaign_id = $1
		  AND follow_up_status = 'active'
		  AND unsubscribed = FALSE
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list prospects for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var out []domain.Prospect
	for rows.Next() {
		var p domain.Prospect
		if err := rows.Scan(
			&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Company,
			&p.CampaignID, &p.FollowUpStatus, &p.FollowUpCount,
			&p.LastContact, &p.LastFollowUp, &p.RespondedAt, &p.ResponseType,
			&p.EmailProviderID, &p.Unsubscribed, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateProspect(ctx context.Context, id string, fields engine.ProspectUpdate) error {
	set := "updated_at = NOW()"
	args := []interface{}{id}
	idx := 2
	if fields.FollowUpStatus != nil {
		set += fmt.Sprintf(", follow_up_status = $%d", idx)
		args = append(args, *fields.FollowUpStatus)
		idx++
	}
	if fields.ResponseType != nil {
		set += fmt.Sprintf(", response_type = $%d", idx)
		args = append(args, *fields.ResponseType)
		idx++
	}
	if fields.RespondedAt != nil {
		set += fmt.Sprintf(", responded_at = $%d", idx)
		args = append(args, *fields.RespondedAt)
		idx++
	}

	res, err := r.db.ExecContext(ctx, "UPDATE outreach_prospects SET "+set+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("update prospect %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// AdvanceFollowUp increments the counter under a compare-and-swap so two
// writers racing on the same prospect cannot both record a send.
func (r *Repo) AdvanceFollowUp(ctx context.Context, id string, expectedCount int, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_prospects
		SET follow_up_count = follow_up_count + 1,
		    last_follow_up = $3,
		    updated_at = NOW()
		WHERE id = $1 AND follow_up_count = $2
	`, id, expectedCount, sentAt)
	if err != nil {
		return fmt.Errorf("advance follow-up for prospect %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrStaleProspect
	}
	return nil
}

func (r *Repo) ThreadByProspect(ctx context.Context, prospectID string) (*domain.Thread, error) {
	threadID := domain.ThreadIDForProspect(prospectID)
	rows, err := r.db.QueryContext(ctx, `
		SELECT direction, COALESCE(subject,''), COALESCE(content,''), message_at
		FROM outreach_thread_messages
		WHERE thread_id = $1
		ORDER BY message_at, id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	defer rows.Close()

	thread := &domain.Thread{ID: threadID}
	for rows.Next() {
		var m domain.ThreadMessage
		if err := rows.Scan(&m.Direction, &m.Subject, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan thread message: %w", err)
		}
		thread.Messages = append(thread.Messages, m)
	}
	return thread, rows.Err()
}

func (r *Repo) AppendThreadMessage(ctx context.Context, prospectID string, msg domain.ThreadMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_thread_messages (id, thread_id, prospect_id, direction, subject, content, message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), domain.ThreadIDForProspect(prospectID), prospectID,
		msg.Direction, msg.Subject, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append thread message for prospect %s: %w", prospectID, err)
	}
	return nil
}

func (r *Repo) CreateEmailRecord(ctx context.Context, rec *domain.EmailRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_emails
			(id, prospect_id, campaign_id, email_provider_id, subject, content,
			 status, sent_at, is_follow_up, follow_up_sequence, thread_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.ProspectID, rec.CampaignID, rec.EmailProviderID, rec.Subject, rec.Content,
		rec.Status, rec.SentAt, rec.IsFollowUp, rec.FollowUpSequence, rec.ThreadID)
	if err != nil {
		return fmt.Errorf("create email record: %w", err)
	}
	return nil
}

func (r *Repo) FirstEmailRecord(ctx context.Context, prospectID string) (*domain.EmailRecord, error) {
	rec := &domain.EmailRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, prospect_id, campaign_id, COALESCE(email_provider_id,''), subject, content,
		       status, sent_at, is_follow_up, follow_up_sequence, thread_id
		FROM outreach_emails
		WHERE prospect_id = $1
		ORDER BY sent_at, id
		LIMIT 1
	`, prospectID).Scan(
		&rec.ID, &rec.ProspectID, &rec.CampaignID, &rec.EmailProviderID, &rec.Subject, &rec.Content,
		&rec.Status, &rec.SentAt, &rec.IsFollowUp, &rec.FollowUpSequence, &rec.ThreadID,
	)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("first email for prospect %s: %w", prospectID, err)
	}
	return rec, nil
}

func (r *Repo) TemplateByID(ctx context.Context, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, subject, body FROM outreach_templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Subject, &t.Body)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return t, nil
}

// ProspectByEmail resolves a prospect by address, used by the inbound
// poller to attach received replies to the right thread.
func (r *Repo) ProspectByEmail(ctx context.Context, email string) (*domain.Prospect, error) {
	p := &domain.Prospect{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(company,''),
		       campaign_id, follow_up_status, follow_up_count,
		       last_contact, last_follow_up, responded_at, COALESCE(response_type,''),
		       COALESCE(email_provider_id,''), unsubscribed, created_at, updated_at
		FROM outreach_prospects
		WHERE LOWER(email) = LOWER($1)
		LIMIT 1
	`, email).Scan(
		&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Company,
		&p.CampaignID, &p.FollowUpStatus, &p.FollowUpCount,
		&p.LastContact, &p.LastFollowUp, &p.RespondedAt, &p.ResponseType,
		&p.EmailProviderID, &p.Unsubscribed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("prospect by email: %w", err)
	}
	return p, nil
}

func (r *Repo) MailboxLastUID(ctx context.Context, email string) (uint32, error) {
	var uid int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_uid FROM outreach_mailbox_state WHERE email = $1`, email,
	).Scan(&uid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mailbox state for %s: %w", email, err)
	}
	return uint32(uid), nil
}

func (r *Repo) SetMailboxLastUID(ctx context.Context, email string, uid uint32) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_mailbox_state (email, last_uid, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET last_uid = EXCLUDED.last_uid, updated_at = NOW()
	`, email, int64(uid))
	if err != nil {
		return fmt.Errorf("persist mailbox state for %s: %w", email, err)
	}
	return nil
}
