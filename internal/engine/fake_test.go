package engine

import (
	"context"
	"sync"
	"time"

	"github.com/reachforge/outreach-engine/internal/domain"
)

// memRepo is an in-memory Repository for unit tests.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	prospects map[string]*domain.Prospect
	threads   map[string]*domain.Thread // keyed by prospect id
	emails    []domain.EmailRecord
	templates map[string]*domain.Template

	failNext error // when set, the next call returns this error once
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns: make(map[string]*domain.Campaign),
		prospects: make(map[string]*domain.Prospect),
		threads:   make(map[string]*domain.Thread),
		templates: make(map[string]*domain.Template),
	}
}

func (m *memRepo) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memRepo) addCampaign(c *domain.Campaign)  { m.campaigns[c.ID] = c }
func (m *memRepo) addProspect(p *domain.Prospect)  { m.prospects[p.ID] = p }
func (m *memRepo) addTemplate(t *domain.Template)  { m.templates[t.ID] = t }

func (m *memRepo) ActiveFollowUpCampaigns(_ context.Context) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.IsFollowUpActive() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) ProspectsNeedingFollowUp(_ context.Context, campaignID string) ([]domain.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	var out []domain.Prospect
	for _, p := range m.prospects {
		if p.CampaignID == campaignID && p.IsEligible() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateProspect(_ context.Context, id string, fields ProspectUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[id]
	if !ok {
		return ErrNotFound
	}
	if fields.FollowUpStatus != nil {
		p.FollowUpStatus = *fields.FollowUpStatus
	}
	if fields.ResponseType != nil {
		p.ResponseType = *fields.ResponseType
	}
	if fields.RespondedAt != nil {
		p.RespondedAt = fields.RespondedAt
	}
	return nil
}

func (m *memRepo) AdvanceFollowUp(_ context.Context, id string, expectedCount int, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[id]
	if !ok {
		return ErrNotFound
	}
	if p.FollowUpCount != expectedCount {
		return ErrStaleProspect
	}
	p.FollowUpCount++
	t := sentAt
	p.LastFollowUp = &t
	return nil
}

func (m *memRepo) ThreadByProspect(_ context.Context, prospectID string) (*domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	t, ok := m.threads[prospectID]
	if !ok {
		return &domain.Thread{ID: domain.ThreadIDForProspect(prospectID)}, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) AppendThreadMessage(_ context.Context, prospectID string, msg domain.ThreadMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[prospectID]
	if !ok {
		t = &domain.Thread{ID: domain.ThreadIDForProspect(prospectID)}
		m.threads[prospectID] = t
	}
	t.Messages = append(t.Messages, msg)
	return nil
}

func (m *memRepo) CreateEmailRecord(_ context.Context, rec *domain.EmailRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, *rec)
	return nil
}

func (m *memRepo) FirstEmailRecord(_ context.Context, prospectID string) (*domain.EmailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first *domain.EmailRecord
	for i := range m.emails {
		rec := &m.emails[i]
		if rec.ProspectID != prospectID {
			continue
		}
		if first == nil || rec.SentAt.Before(first.SentAt) {
			first = rec
		}
	}
	if first == nil {
		return nil, ErrNotFound
	}
	cp := *first
	return &cp, nil
}

func (m *memRepo) TemplateByID(_ context.Context, id string) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// recordingSender captures sends and can be told to fail.
type recordingSender struct {
	mu    sync.Mutex
	sends []sentEmail
	err   error
}

type sentEmail struct {
	ProviderID string
	To         string
	Subject    string
	Body       string
}

func (s *recordingSender) Send(_ context.Context, providerID, toEmail, subject, htmlBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, sentEmail{ProviderID: providerID, To: toEmail, Subject: subject, Body: htmlBody})
	return nil
}
