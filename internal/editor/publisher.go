package editor

import (
	"context"
	"errors"
	"fmt"

	"postbot/internal/history"
	"postbot/internal/kit"
	"postbot/pkg/logx"
)

// ErrEmptyDraft is returned when a publish is attempted with nothing
// in the draft.
var ErrEmptyDraft = errors.New("draft is empty")

var htmlOpts = &kit.SendOptions{ParseMode: "HTML"}

// Publisher resolves a draft snapshot into a plan and pushes it to the
// target channel. Every attempt is recorded in the journal when one is
// configured.
type Publisher struct {
	adapter kit.Adapter
	journal *history.Journal
	log     logx.Logger
}

func NewPublisher(adapter kit.Adapter, journal *history.Journal, log logx.Logger) *Publisher {
	return &Publisher{adapter: adapter, journal: journal, log: log}
}

// Publish sends the draft to channel. scheduled marks timer-fired
// publishes in the journal.
func (p *Publisher) Publish(ctx context.Context, userID int64, d Draft, channel string, scheduled bool) error {
	plan := Resolve(d)
	if plan.Kind == PlanEmpty {
		return ErrEmptyDraft
	}

	to := kit.ChatTarget{Channel: channel}
	err := p.send(ctx, to, plan)
	p.record(ctx, userID, plan, scheduled, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Preview renders the plan into the operator's own chat instead of the
// channel. Not journaled.
func (p *Publisher) Preview(ctx context.Context, chatID int64, d Draft) error {
	plan := Resolve(d)
	if plan.Kind == PlanEmpty {
		return ErrEmptyDraft
	}
	return p.send(ctx, kit.ChatTarget{ChatID: chatID}, plan)
}

func (p *Publisher) send(ctx context.Context, to kit.ChatTarget, plan Plan) error {
	switch plan.Kind {
	case PlanText:
		_, err := p.adapter.SendText(ctx, to, plan.Text, htmlOpts)
		return err
	case PlanSingle:
		_, err := p.adapter.SendMedia(ctx, to, plan.Media, plan.Caption, htmlOpts)
		return err
	case PlanAlbum:
		return p.adapter.SendAlbum(ctx, to, plan.Album, htmlOpts)
	default:
		return ErrEmptyDraft
	}
}

func (p *Publisher) record(ctx context.Context, userID int64, plan Plan, scheduled bool, sendErr error) {
	if p.journal == nil {
		return
	}
	e := history.Entry{
		UserID:    userID,
		Plan:      planName(plan.Kind),
		Scheduled: scheduled,
		Status:    history.StatusSent,
	}
	switch plan.Kind {
	case PlanText:
		e.CaptionLen = len([]rune(plan.Text))
	case PlanSingle:
		e.Items = 1
		e.CaptionLen = len([]rune(plan.Caption))
	case PlanAlbum:
		e.Items = len(plan.Album)
		e.CaptionLen = len([]rune(plan.Album[0].Caption))
	}
	if sendErr != nil {
		e.Status = history.StatusFailed
		e.Error = sendErr.Error()
	}
	if err := p.journal.Append(ctx, e); err != nil {
		p.log.Warn("journal append failed", logx.Err(err))
	}
}

func planName(k PlanKind) string {
	switch k {
	case PlanText:
		return "text"
	case PlanSingle:
		return "single"
	case PlanAlbum:
		return "album"
	default:
		return "empty"
	}
}
