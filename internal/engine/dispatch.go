package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reachforge/outreach-engine/internal/domain"
	"github.com/reachforge/outreach-engine/internal/pkg/logger"
	"github.com/reachforge/outreach-engine/internal/render"
)

// Dispatcher sends one due follow-up and advances prospect state.
type Dispatcher struct {
	repo     Repository
	sender   Sender
	renderer *render.Renderer
	now      func() time.Time
}

// NewDispatcher creates a dispatch coordinator.
func NewDispatcher(repo Repository, sender Sender, renderer *render.Renderer) *Dispatcher {
	return &Dispatcher{repo: repo, sender: sender, renderer: renderer, now: time.Now}
}

// Dispatch sends follow-up number p.FollowUpCount+1 to the prospect.
//
// The provider is resolved from the prospect's first email record, never
// from the campaign default: every message in a conversation must leave the
// same mailbox or the recipient's client breaks the thread apart. A missing
// original provider is a hard per-prospect error with no send.
//
// On a successful send the email record and thread entry are written and the
// prospect's counter advances under a compare-and-swap; if the guard fails
// another writer got there first and the (already-sent) state is left to the
// stale writer's bookkeeping. On send failure nothing is mutated, so the
// next due evaluation retries from the same sequence number.
func (d *Dispatcher) Dispatch(ctx context.Context, p *domain.Prospect, c *domain.Campaign) error {
	sequence := p.FollowUpCount + 1

	providerID, err := d.originalProvider(ctx, p)
	if err != nil {
		return err
	}

	subject, body, err := d.resolveTemplate(ctx, p, c, sequence)
	if err != nil {
		return err
	}

	if sequence > 1 {
		subject = "Re: " + subject
	}

	if err := d.sender.Send(ctx, providerID, p.Email, subject, body); err != nil {
		logger.Error("follow-up send failed",
			"prospect_id", p.ID, "campaign_id", c.ID,
			"sequence", sequence, "provider_id", providerID, "error", err)
		return fmt.Errorf("send follow-up %d to prospect %s: %w", sequence, p.ID, err)
	}

	sentAt := d.now().UTC()
	rec := &domain.EmailRecord{
		ID:               uuid.New().String(),
		ProspectID:       p.ID,
		CampaignID:       c.ID,
		EmailProviderID:  providerID,
		Subject:          subject,
		Content:          body,
		Status:           domain.EmailSent,
		SentAt:           sentAt,
		IsFollowUp:       true,
		FollowUpSequence: sequence,
		ThreadID:         domain.ThreadIDForProspect(p.ID),
	}
	if err := d.repo.CreateEmailRecord(ctx, rec); err != nil {
		return Transient("persist email record", err)
	}
	if err := d.repo.AppendThreadMessage(ctx, p.ID, domain.ThreadMessage{
		Direction: domain.DirectionSent,
		Subject:   subject,
		Content:   body,
		Timestamp: sentAt,
	}); err != nil {
		return Transient("append thread message", err)
	}

	if err := d.repo.AdvanceFollowUp(ctx, p.ID, p.FollowUpCount, sentAt); err != nil {
		if errors.Is(err, ErrStaleProspect) {
			logger.Warn("follow-up counter advanced elsewhere, skipping",
				"prospect_id", p.ID, "expected_count", p.FollowUpCount)
			return nil
		}
		return Transient("advance follow-up counter", err)
	}
	p.FollowUpCount = sequence
	p.LastFollowUp = &sentAt

	logger.Info("follow-up sent",
		"prospect_id", p.ID, "campaign_id", c.ID,
		"sequence", sequence, "provider_id", providerID)

	// A datetime schedule with no dates left has nothing more to send.
	if c.FollowUpScheduleType == domain.ScheduleDatetime && p.FollowUpCount >= len(c.FollowUpDates) {
		return d.complete(ctx, p)
	}
	return nil
}

func (d *Dispatcher) complete(ctx context.Context, p *domain.Prospect) error {
	status := domain.FollowUpCompleted
	if err := d.repo.UpdateProspect(ctx, p.ID, ProspectUpdate{FollowUpStatus: &status}); err != nil {
		return Transient("mark prospect completed", err)
	}
	p.FollowUpStatus = domain.FollowUpCompleted
	logger.Info("follow-up schedule completed", "prospect_id", p.ID)
	return nil
}

// originalProvider resolves the provider that sent the prospect's very
// first email. The prospect record caches it; the email log is the source
// of truth when the cache is empty.
func (d *Dispatcher) originalProvider(ctx context.Context, p *domain.Prospect) (string, error) {
	if p.EmailProviderID != "" {
		return p.EmailProviderID, nil
	}
	first, err := d.repo.FirstEmailRecord(ctx, p.ID)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("prospect %s: %w", p.ID, ErrNoOriginalProvider)
	}
	if err != nil {
		return "", Transient("resolve original provider", err)
	}
	if first.EmailProviderID == "" {
		return "", fmt.Errorf("prospect %s: %w", p.ID, ErrNoOriginalProvider)
	}
	return first.EmailProviderID, nil
}

// resolveTemplate picks the content source for this sequence number:
// the follow-up rule's per-sequence list first, then the campaign's
// follow-up template list, then the campaign's main template with a
// "Follow-up: " subject prefix.
func (d *Dispatcher) resolveTemplate(ctx context.Context, p *domain.Prospect, c *domain.Campaign, sequence int) (subject, body string, err error) {
	idx := sequence - 1

	templateID := ""
	fallbackPrefix := ""
	switch {
	case c.FollowUpRule != nil && idx < len(c.FollowUpRule.TemplateIDs) && c.FollowUpRule.TemplateIDs[idx] != "":
		templateID = c.FollowUpRule.TemplateIDs[idx]
	case idx < len(c.FollowUpTemplateIDs) && c.FollowUpTemplateIDs[idx] != "":
		templateID = c.FollowUpTemplateIDs[idx]
	case c.TemplateID != "":
		templateID = c.TemplateID
		fallbackPrefix = "Follow-up: "
	default:
		return "", "", fmt.Errorf("campaign %s sequence %d: %w", c.ID, sequence, ErrNoTemplate)
	}

	tmpl, err := d.repo.TemplateByID(ctx, templateID)
	if errors.Is(err, ErrNotFound) {
		return "", "", fmt.Errorf("campaign %s template %s: %w", c.ID, templateID, ErrNoTemplate)
	}
	if err != nil {
		return "", "", Transient("load template", err)
	}

	bindings := render.ProspectBindings(p)
	subject, err = d.renderer.Render(tmpl.Subject, bindings)
	if err != nil {
		return "", "", fmt.Errorf("template %s subject: %w", templateID, err)
	}
	body, err = d.renderer.Render(tmpl.Body, bindings)
	if err != nil {
		return "", "", fmt.Errorf("template %s body: %w", templateID, err)
	}
	return fallbackPrefix + subject, body, nil
}
