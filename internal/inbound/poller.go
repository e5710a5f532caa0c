// Package inbound polls provider mailboxes over IMAP and appends received
// replies to prospect conversation threads. It only records messages; the
// engine's response detector decides what a reply means for the follow-up
// sequence.
package inbound

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/reachforge/outreach-engine/internal/config"
	"github.com/reachforge/outreach-engine/internal/domain"
	"github.com/reachforge/outreach-engine/internal/engine"
	"github.com/reachforge/outreach-engine/internal/pkg/logger"
)

// Repository is the narrow slice of storage the poller needs. Mailbox
// watermarks persist across restarts so a relaunched poller neither replays
// already-recorded replies nor skips mail that arrived while it was down.
type Repository interface {
	ProspectByEmail(ctx context.Context, email string) (*domain.Prospect, error)
	AppendThreadMessage(ctx context.Context, prospectID string, msg domain.ThreadMessage) error
	MailboxLastUID(ctx context.Context, email string) (uint32, error)
	SetMailboxLastUID(ctx context.Context, email string, uid uint32) error
}

// ReceivedMessage is one parsed inbound email.
type ReceivedMessage struct {
	UID     uint32
	From    string
	Subject string
	Date    time.Time
	Body    string
}

// Poller watches the configured IMAP mailboxes and records replies.
type Poller struct {
	repo      Repository
	mailboxes []config.MailboxConfig
	interval  time.Duration

	lastUID map[string]uint32 // mailbox email -> highest UID seen
	fetch   func(mb config.MailboxConfig, sinceUID uint32) ([]ReceivedMessage, uint32, error)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPoller creates an inbound poller.
func NewPoller(repo Repository, cfg config.InboundConfig) *Poller {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Poller{
		repo:      repo,
		mailboxes: cfg.Mailboxes,
		interval:  interval,
		lastUID:   make(map[string]uint32),
		fetch:     fetchNewMessages,
	}
}

// Start launches the polling goroutine. No-op when already running.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("inbound poller starting", "mailboxes", len(p.mailboxes), "interval", p.interval)

	p.wg.Add(1)
	go p.loop()
}

// Stop cancels the poller and waits for the in-flight poll.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			for _, mb := range p.mailboxes {
				if err := p.pollMailbox(p.ctx, mb); err != nil {
					logger.Error("mailbox poll failed", "mailbox", mb.Email, "error", err)
				}
			}
		}
	}
}

// pollMailbox fetches messages newer than the last seen UID and records any
// that match a known prospect. The watermark loads from storage on the first
// poll for a mailbox and is written back whenever it advances.
func (p *Poller) pollMailbox(ctx context.Context, mb config.MailboxConfig) error {
	since, ok := p.lastUID[mb.Email]
	if !ok {
		stored, err := p.repo.MailboxLastUID(ctx, mb.Email)
		if err != nil {
			return fmt.Errorf("load mailbox watermark for %s: %w", mb.Email, err)
		}
		since = stored
		p.lastUID[mb.Email] = stored
	}

	msgs, maxUID, err := p.fetch(mb, since)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if err := p.record(ctx, m); err != nil {
			logger.Error("record inbound message failed", "from", m.From, "error", err)
		}
	}

	if maxUID > since {
		p.lastUID[mb.Email] = maxUID
		if err := p.repo.SetMailboxLastUID(ctx, mb.Email, maxUID); err != nil {
			return fmt.Errorf("persist mailbox watermark for %s: %w", mb.Email, err)
		}
	}
	return nil
}

func (p *Poller) record(ctx context.Context, m ReceivedMessage) error {
	prospect, err := p.repo.ProspectByEmail(ctx, m.From)
	if errors.Is(err, engine.ErrNotFound) {
		// Mail from someone we never contacted; not ours to track.
		return nil
	}
	if err != nil {
		return err
	}

	msg := domain.ThreadMessage{
		Direction: domain.DirectionReceived,
		Subject:   m.Subject,
		Content:   m.Body,
		Timestamp: m.Date,
	}
	if err := p.repo.AppendThreadMessage(ctx, prospect.ID, msg); err != nil {
		return err
	}
	logger.Info("inbound reply recorded", "prospect_id", prospect.ID, "subject", m.Subject)
	return nil
}

// fetchNewMessages connects, selects INBOX, and fetches messages with
// UID > sinceUID. One connection per poll keeps the session handling simple
// at follow-up volumes.
func fetchNewMessages(mb config.MailboxConfig, sinceUID uint32) ([]ReceivedMessage, uint32, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", mb.Server, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("connect %s: %w", mb.Server, err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("imap client: %w", err)
	}
	defer c.Logout()

	if err := c.Login(mb.Email, mb.Password); err != nil {
		return nil, 0, fmt.Errorf("login %s: %w", mb.Email, err)
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, 0, fmt.Errorf("select INBOX: %w", err)
	}
	if sinceUID == 0 {
		// First contact with this mailbox. Baseline at the current end of
		// the inbox; historical mail predates tracked outreach threads.
		if mbox.UidNext > 1 {
			return nil, mbox.UidNext - 1, nil
		}
		return nil, 0, nil
	}
	if mbox.Messages == 0 {
		return nil, sinceUID, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(sinceUID+1, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqSet, items, ch) }()

	out, maxUID := collectNewMessages(ch, section, sinceUID)
	if err := <-done; err != nil {
		return nil, sinceUID, fmt.Errorf("fetch: %w", err)
	}
	return out, maxUID, nil
}

// collectNewMessages drains a UID fetch, keeping only messages strictly
// newer than sinceUID. A UID FETCH n:* where n exceeds the mailbox's highest
// UID still returns the highest-UID message, so a caught-up poll sees its
// last message again; without the guard it would be re-recorded every cycle.
func collectNewMessages(ch <-chan *imap.Message, section *imap.BodySectionName, sinceUID uint32) ([]ReceivedMessage, uint32) {
	var out []ReceivedMessage
	maxUID := sinceUID
	for msg := range ch {
		parsed, ok := parseMessage(msg, section)
		if !ok || parsed.UID <= sinceUID {
			continue
		}
		out = append(out, parsed)
		if parsed.UID > maxUID {
			maxUID = parsed.UID
		}
	}
	return out, maxUID
}

// parseMessage extracts sender, subject, date, and a text body from one
// fetched message.
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (ReceivedMessage, bool) {
	if msg == nil || msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return ReceivedMessage{}, false
	}
	from := msg.Envelope.From[0]

	rm := ReceivedMessage{
		UID:     msg.Uid,
		From:    from.Address(),
		Subject: msg.Envelope.Subject,
		Date:    msg.Envelope.Date,
	}
	if rm.Date.IsZero() {
		rm.Date = time.Now().UTC()
	}

	body := msg.GetBody(section)
	if body == nil {
		return rm, true
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		return rm, true
	}
	var text, html strings.Builder
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, _ := header.ContentType()
		// Bound the body we keep; the classifier only needs the opening text.
		buf, _ := io.ReadAll(io.LimitReader(part.Body, 256*1024))
		switch ctype {
		case "text/plain":
			text.Write(buf)
		case "text/html":
			html.Write(buf)
		}
	}
	if text.Len() > 0 {
		rm.Body = text.String()
	} else {
		rm.Body = html.String()
	}
	return rm, true
}
