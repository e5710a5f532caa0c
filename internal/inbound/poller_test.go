package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"github.com/reachforge/outreach-engine/internal/config"
	"github.com/reachforge/outreach-engine/internal/domain"
	"github.com/reachforge/outreach-engine/internal/engine"
)

type fakeRepo struct {
	prospects map[string]*domain.Prospect // keyed by email
	appended  []domain.ThreadMessage
	lastUIDs  map[string]uint32
	err       error
}

func (f *fakeRepo) ProspectByEmail(_ context.Context, email string) (*domain.Prospect, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.prospects[email]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) AppendThreadMessage(_ context.Context, _ string, msg domain.ThreadMessage) error {
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeRepo) MailboxLastUID(_ context.Context, email string) (uint32, error) {
	return f.lastUIDs[email], nil
}

func (f *fakeRepo) SetMailboxLastUID(_ context.Context, email string, uid uint32) error {
	if f.lastUIDs == nil {
		f.lastUIDs = make(map[string]uint32)
	}
	f.lastUIDs[email] = uid
	return nil
}

func TestRecord_AppendsReplyForKnownProspect(t *testing.T) {
	repo := &fakeRepo{prospects: map[string]*domain.Prospect{
		"jane@acme.test": {ID: "pros-1", Email: "jane@acme.test"},
	}}
	p := NewPoller(repo, config.InboundConfig{})

	received := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	err := p.record(context.Background(), ReceivedMessage{
		From:    "jane@acme.test",
		Subject: "Re: intro",
		Date:    received,
		Body:    "Sounds good, send details.",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(repo.appended) != 1 {
		t.Fatalf("appended %d messages", len(repo.appended))
	}
	msg := repo.appended[0]
	if msg.Direction != domain.DirectionReceived {
		t.Errorf("direction = %s", msg.Direction)
	}
	if msg.Subject != "Re: intro" || !msg.Timestamp.Equal(received) {
		t.Errorf("message = %+v", msg)
	}
}

func TestRecord_IgnoresUnknownSender(t *testing.T) {
	repo := &fakeRepo{prospects: map[string]*domain.Prospect{}}
	p := NewPoller(repo, config.InboundConfig{})

	err := p.record(context.Background(), ReceivedMessage{From: "stranger@nowhere.test"})
	if err != nil {
		t.Fatalf("unknown sender must be a no-op, got %v", err)
	}
	if len(repo.appended) != 0 {
		t.Error("nothing should be recorded for unknown senders")
	}
}

func TestRecord_PropagatesLookupErrors(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection reset")}
	p := NewPoller(repo, config.InboundConfig{})

	if err := p.record(context.Background(), ReceivedMessage{From: "jane@acme.test"}); err == nil {
		t.Error("expected lookup error to propagate")
	}
}

func TestCollectNewMessages_SkipsAlreadySeenUIDs(t *testing.T) {
	section := &imap.BodySectionName{Peek: true}
	date := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// A caught-up UID FETCH max+1:* still returns the message with UID max;
	// everything at or below the watermark must be dropped.
	ch := make(chan *imap.Message, 3)
	for _, uid := range []uint32{4, 5, 6} {
		ch <- &imap.Message{Uid: uid, Envelope: &imap.Envelope{
			Subject: "Re: intro",
			From:    []*imap.Address{{MailboxName: "jane", HostName: "acme.test"}},
			Date:    date,
		}}
	}
	close(ch)

	msgs, maxUID := collectNewMessages(ch, section, 5)
	if len(msgs) != 1 || msgs[0].UID != 6 {
		t.Fatalf("messages = %+v", msgs)
	}
	if maxUID != 6 {
		t.Errorf("maxUID = %d", maxUID)
	}

	ch = make(chan *imap.Message, 1)
	ch <- &imap.Message{Uid: 6, Envelope: &imap.Envelope{
		From: []*imap.Address{{MailboxName: "jane", HostName: "acme.test"}},
		Date: date,
	}}
	close(ch)

	msgs, maxUID = collectNewMessages(ch, section, 6)
	if len(msgs) != 0 {
		t.Errorf("caught-up poll re-collected %+v", msgs)
	}
	if maxUID != 6 {
		t.Errorf("maxUID = %d", maxUID)
	}
}

func TestPollMailbox_ResumesFromPersistedWatermark(t *testing.T) {
	repo := &fakeRepo{
		prospects: map[string]*domain.Prospect{
			"jane@acme.test": {ID: "pros-1", Email: "jane@acme.test"},
		},
		lastUIDs: map[string]uint32{"inbox@reachforge.test": 7},
	}
	p := NewPoller(repo, config.InboundConfig{})

	var gotSince uint32
	p.fetch = func(_ config.MailboxConfig, sinceUID uint32) ([]ReceivedMessage, uint32, error) {
		gotSince = sinceUID
		return []ReceivedMessage{{
			UID:     9,
			From:    "jane@acme.test",
			Subject: "Re: intro",
			Date:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
			Body:    "Works for me.",
		}}, 9, nil
	}

	mb := config.MailboxConfig{Email: "inbox@reachforge.test"}
	if err := p.pollMailbox(context.Background(), mb); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if gotSince != 7 {
		t.Errorf("fetch started from UID %d, want 7", gotSince)
	}
	if len(repo.appended) != 1 {
		t.Fatalf("appended %d messages", len(repo.appended))
	}
	if repo.lastUIDs["inbox@reachforge.test"] != 9 {
		t.Errorf("persisted watermark = %d, want 9", repo.lastUIDs["inbox@reachforge.test"])
	}

	// Nothing new: the watermark stays put and no messages are recorded.
	p.fetch = func(_ config.MailboxConfig, sinceUID uint32) ([]ReceivedMessage, uint32, error) {
		gotSince = sinceUID
		return nil, sinceUID, nil
	}
	if err := p.pollMailbox(context.Background(), mb); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if gotSince != 9 {
		t.Errorf("second fetch started from UID %d, want 9", gotSince)
	}
	if len(repo.appended) != 1 {
		t.Errorf("caught-up poll appended messages: %d", len(repo.appended))
	}
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	p := NewPoller(&fakeRepo{}, config.InboundConfig{})
	if p.interval != 2*time.Minute {
		t.Errorf("interval = %v", p.interval)
	}
	p = NewPoller(&fakeRepo{}, config.InboundConfig{PollIntervalSeconds: 30})
	if p.interval != 30*time.Second {
		t.Errorf("interval = %v", p.interval)
	}
}

func TestPoller_StartStopIdempotent(t *testing.T) {
	p := NewPoller(&fakeRepo{}, config.InboundConfig{PollIntervalSeconds: 3600})
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}
