package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reachforge/outreach-engine/internal/domain"
	"github.com/reachforge/outreach-engine/internal/render"
)

func newTestDispatcher(repo *memRepo, sender *recordingSender) *Dispatcher {
	d := NewDispatcher(repo, sender, render.New())
	d.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return d
}

func seedProspect(repo *memRepo) *domain.Prospect {
	contact := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &domain.Prospect{
		ID:              "pros-1",
		Email:           "jane@acme.test",
		FirstName:       "Jane",
		LastName:        "Doe",
		Company:         "Acme",
		CampaignID:      "camp-1",
		FollowUpStatus:  domain.FollowUpActive,
		EmailProviderID: "provider-a",
		LastContact:     &contact,
	}
	repo.addProspect(p)
	return p
}

func seedCampaign(repo *memRepo) *domain.Campaign {
	c := &domain.Campaign{
		ID:                   "camp-1",
		Status:               domain.CampaignActive,
		FollowUpEnabled:      true,
		FollowUpScheduleType: domain.ScheduleInterval,
		FollowUpIntervals:    []domain.Interval{{Value: 1, Unit: domain.UnitDays}},
		TemplateID:           "tmpl-main",
	}
	repo.addCampaign(c)
	repo.addTemplate(&domain.Template{
		ID:      "tmpl-main",
		Subject: "Quick question for {{ first_name }}",
		Body:    "<p>Hi {{ first_name }}, any thoughts from {{ company }}?</p>",
	})
	return c
}

func TestDispatch_RendersAndSends(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)

	if err := d.Dispatch(context.Background(), p, c); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(sender.sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sends))
	}
	sent := sender.sends[0]
	if sent.ProviderID != "provider-a" {
		t.Errorf("provider = %s, want provider-a", sent.ProviderID)
	}
	if sent.To != "jane@acme.test" {
		t.Errorf("to = %s", sent.To)
	}
	// Main-template fallback gets the "Follow-up: " prefix, first sequence
	// gets no "Re: ".
	if sent.Subject != "Follow-up: Quick question for Jane" {
		t.Errorf("subject = %q", sent.Subject)
	}
	if !strings.Contains(sent.Body, "Hi Jane") || !strings.Contains(sent.Body, "Acme") {
		t.Errorf("body not personalized: %q", sent.Body)
	}

	if p.FollowUpCount != 1 {
		t.Errorf("follow_up_count = %d, want 1", p.FollowUpCount)
	}
	if p.LastFollowUp == nil {
		t.Error("last_follow_up not set")
	}

	if len(repo.emails) != 1 {
		t.Fatalf("expected 1 email record, got %d", len(repo.emails))
	}
	rec := repo.emails[0]
	if !rec.IsFollowUp || rec.FollowUpSequence != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ThreadID != domain.ThreadIDForProspect("pros-1") {
		t.Errorf("thread id %s not derived from prospect", rec.ThreadID)
	}

	thread, _ := repo.ThreadByProspect(context.Background(), "pros-1")
	if len(thread.Messages) != 1 || thread.Messages[0].Direction != domain.DirectionSent {
		t.Errorf("thread not appended: %+v", thread.Messages)
	}
}

func TestDispatch_RePrefixFromSecondFollowUp(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)
	c.FollowUpTemplateIDs = []string{"tmpl-1", "tmpl-2"}
	repo.addTemplate(&domain.Template{ID: "tmpl-1", Subject: "First nudge", Body: "a"})
	repo.addTemplate(&domain.Template{ID: "tmpl-2", Subject: "Second nudge", Body: "b"})

	lastFollowUp := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	p.FollowUpCount = 1
	p.LastFollowUp = &lastFollowUp

	if err := d.Dispatch(context.Background(), p, c); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := sender.sends[0].Subject; got != "Re: Second nudge" {
		t.Errorf("subject = %q, want \"Re: Second nudge\"", got)
	}
	if repo.emails[0].FollowUpSequence != 2 {
		t.Errorf("sequence = %d, want 2", repo.emails[0].FollowUpSequence)
	}
}

func TestDispatch_RuleTemplatesTakePrecedence(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)
	c.FollowUpTemplateIDs = []string{"tmpl-campaign"}
	c.FollowUpRule = &domain.FollowUpRule{TemplateIDs: []string{"tmpl-rule"}}
	repo.addTemplate(&domain.Template{ID: "tmpl-campaign", Subject: "campaign", Body: "x"})
	repo.addTemplate(&domain.Template{ID: "tmpl-rule", Subject: "rule", Body: "y"})

	if err := d.Dispatch(context.Background(), p, c); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.sends[0].Subject != "rule" {
		t.Errorf("subject = %q, rule template should win", sender.sends[0].Subject)
	}
}

func TestDispatch_ProviderConsistencyFromFirstEmail(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)

	// Prospect record lost its cached provider; the first email wins, even
	// though the campaign default has since changed to provider-b.
	p.EmailProviderID = ""
	c.ProviderID = "provider-b"
	repo.emails = append(repo.emails,
		domain.EmailRecord{
			ID: "em-2", ProspectID: "pros-1", EmailProviderID: "provider-b",
			SentAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
		domain.EmailRecord{
			ID: "em-1", ProspectID: "pros-1", EmailProviderID: "provider-a",
			SentAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	)

	if err := d.Dispatch(context.Background(), p, c); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.sends[0].ProviderID != "provider-a" {
		t.Errorf("provider = %s, want the original provider-a", sender.sends[0].ProviderID)
	}
}

func TestDispatch_NoOriginalProviderFailsWithoutSend(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)
	p.EmailProviderID = "" // and no email records exist

	err := d.Dispatch(context.Background(), p, c)
	if !errors.Is(err, ErrNoOriginalProvider) {
		t.Fatalf("expected ErrNoOriginalProvider, got %v", err)
	}
	if len(sender.sends) != 0 {
		t.Error("must not send without a resolved original provider")
	}
	if p.FollowUpCount != 0 {
		t.Error("state must not advance on failure")
	}
}

func TestDispatch_SendFailureLeavesStateUnchanged(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{err: errors.New("smtp 451")}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)

	if err := d.Dispatch(context.Background(), p, c); err == nil {
		t.Fatal("expected send error")
	}
	if p.FollowUpCount != 0 || len(repo.emails) != 0 {
		t.Error("failed send must leave prospect and email log untouched")
	}
}

func TestDispatch_StaleCounterIsNotAnError(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)

	// Our loaded snapshot says count 0, but another writer has already
	// advanced the stored counter.
	stale := *p
	p.FollowUpCount = 1
	if err := d.Dispatch(context.Background(), &stale, c); err != nil {
		t.Fatalf("stale counter guard should be swallowed, got %v", err)
	}
	if repo.prospects["pros-1"].FollowUpCount != 1 {
		t.Error("stored counter must not double-advance")
	}
}

func TestDispatch_MissingTemplate(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)
	c.TemplateID = "tmpl-gone"

	err := d.Dispatch(context.Background(), p, c)
	if !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
	if len(sender.sends) != 0 {
		t.Error("must not send without a template")
	}
}

func TestDispatch_DatetimeScheduleExhaustionCompletes(t *testing.T) {
	repo := newMemRepo()
	sender := &recordingSender{}
	d := newTestDispatcher(repo, sender)
	p := seedProspect(repo)
	c := seedCampaign(repo)
	c.FollowUpScheduleType = domain.ScheduleDatetime
	c.FollowUpDates = []time.Time{time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	if err := d.Dispatch(context.Background(), p, c); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if repo.prospects["pros-1"].FollowUpStatus != domain.FollowUpCompleted {
		t.Errorf("status = %s, want completed after last scheduled date",
			repo.prospects["pros-1"].FollowUpStatus)
	}
}
