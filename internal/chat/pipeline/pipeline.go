// Package pipeline validates, authorizes and persists chat operations.
package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"orderchat.com/internal/chat/access"
	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/registry"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/xerr"
)

const DefaultMaxContentLength = 4000

var (
	ErrEmptyContent   = xerr.New(xerr.RequestParamsError, "Message content must not be empty.")
	ErrContentTooLong = xerr.New(xerr.RequestParamsError, "Message content is too long.")
)

type Pipeline struct {
	reg    *registry.Registry
	store  domain.MessageStore
	maxLen int

	afterPersist func(ctx context.Context, orderID int64, m domain.Message)
}

type Option func(*Pipeline)

func WithMaxContentLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxLen = n
		}
	}
}

// WithAfterPersist runs fn inside the channel critical section right after a
// message is stored, so calls happen in persistence order. fn must not block.
func WithAfterPersist(fn func(ctx context.Context, orderID int64, m domain.Message)) Option {
	return func(p *Pipeline) { p.afterPersist = fn }
}

func New(reg *registry.Registry, store domain.MessageStore, opts ...Option) *Pipeline {
	p := &Pipeline{reg: reg, store: store, maxLen: DefaultMaxContentLength}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Send stores one message from sender on the order's channel.
// Validation and authorization run before any write.
func (p *Pipeline) Send(ctx context.Context, orderID int64, sender domain.Principal, content string) (domain.Message, error) {
	msg, err := p.send(ctx, orderID, sender, content)
	metrics.MessagesTotal.WithLabelValues(resultLabel(err)).Inc()
	return msg, err
}

func (p *Pipeline) send(ctx context.Context, orderID int64, sender domain.Principal, content string) (domain.Message, error) {
	if err := p.validate(content); err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err := p.reg.Do(ctx, orderID, func(st domain.ChannelState) error {
		if st.Channel.Closed {
			return domain.ErrChannelClosed
		}
		if err := access.AuthorizeParticipant(sender, st.Order); err != nil {
			return err
		}
		m, err := p.store.CreateMessage(ctx, st.Channel.ID, sender.ID, content)
		if err != nil {
			return xerr.Classify(err, xerr.Unavailable)
		}
		msg = m
		if p.afterPersist != nil {
			p.afterPersist(ctx, orderID, m)
		}
		return nil
	})
	return msg, err
}

func (p *Pipeline) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > p.maxLen {
		return ErrContentTooLong
	}
	return nil
}

// Fetch returns every message of the order's channel, oldest first.
func (p *Pipeline) Fetch(ctx context.Context, orderID int64, requester domain.Principal) ([]domain.MessageView, error) {
	st, err := p.reg.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.AuthorizeParticipant(requester, st.Order); err != nil {
		return nil, err
	}
	msgs, err := p.store.ListMessages(ctx, st.Channel.ID)
	if err != nil {
		return nil, xerr.Classify(err, xerr.Unavailable)
	}
	return msgs, nil
}

// Close closes the channel and advances the order in one commit. Only admins may close.
func (p *Pipeline) Close(ctx context.Context, orderID int64, admin domain.Principal, summary string) (domain.Channel, error) {
	ch, err := p.close(ctx, orderID, admin, summary)
	metrics.ChannelClosesTotal.WithLabelValues(resultLabel(err)).Inc()
	return ch, err
}

func (p *Pipeline) close(ctx context.Context, orderID int64, admin domain.Principal, summary string) (domain.Channel, error) {
	if err := access.AuthorizeClose(admin); err != nil {
		return domain.Channel{}, err
	}
	return p.reg.Close(ctx, orderID, strings.TrimSpace(summary))
}

// History is the admin view of a channel: its close state plus all messages.
func (p *Pipeline) History(ctx context.Context, orderID int64, admin domain.Principal) (domain.History, error) {
	if err := access.AuthorizeAdmin(admin); err != nil {
		return domain.History{}, err
	}
	st, err := p.reg.Get(ctx, orderID)
	if err != nil {
		return domain.History{}, err
	}
	msgs, err := p.store.ListMessages(ctx, st.Channel.ID)
	if err != nil {
		return domain.History{}, xerr.Classify(err, xerr.Unavailable)
	}
	return domain.History{
		OrderID:  orderID,
		Closed:   st.Channel.Closed,
		Summary:  st.Channel.Summary,
		Messages: msgs,
	}, nil
}

func resultLabel(err error) string {
	switch xerr.CodeOf(err) {
	case xerr.OK:
		return "ok"
	case xerr.RequestParamsError:
		return "invalid"
	case xerr.RecordNotFound:
		return "not_found"
	case xerr.Forbidden:
		return "forbidden"
	default:
		return "unavailable"
	}
}
