package editor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postbot/internal/core"
	"postbot/internal/history"
	"postbot/internal/kit"
	"postbot/internal/schedule"
	"postbot/internal/when"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

const (
	cbScope     = "editor"
	cbPreview   = "prev"
	cbPublish   = "pub"
	cbClear     = "clr"
	cbNoop      = "noop"
	defaultTZ   = "Europe/Amsterdam"
	historyRows = 10
)

// Editor binds drafting, timers and publishing to the router. One
// instance serves the single operator.
type Editor struct {
	store   *Store
	sched   *schedule.Registry
	pub     *Publisher
	journal *history.Journal
	log     logx.Logger
}

func New(sched *schedule.Registry, pub *Publisher, journal *history.Journal, log logx.Logger) *Editor {
	return &Editor{
		store:   NewStore(),
		sched:   sched,
		pub:     pub,
		journal: journal,
		log:     log,
	}
}

// Register installs the editor's commands, callbacks and the fallback
// draft-intake handler.
func (e *Editor) Register(r *core.Router) {
	r.Register(
		[]core.Command{
			{Name: "start", Description: "show what the bot does", Handle: e.cmdStart},
			{Name: "whoami", Description: "show your Telegram identity", Handle: e.cmdWhoami},
			{Name: "timer", Description: "schedule the draft: /timer 18:30, /timer 2025-10-14 09:00, /timer in 2h", Handle: e.cmdTimer},
			{Name: "when", Description: "show the pending timer", Handle: e.cmdWhen},
			{Name: "cancel_timer", Description: "cancel the pending timer", Handle: e.cmdCancelTimer},
			{Name: "history", Description: "recent publishes: /history [n]", Handle: e.cmdHistory},
		},
		[]core.CallbackRoute{
			{Scope: cbScope, Action: cbPreview, Handle: e.cbPreview},
			{Scope: cbScope, Action: cbPublish, Handle: e.cbPublish},
			{Scope: cbScope, Action: cbClear, Handle: e.cbClear},
			// the timer-hint button is informational; the ack alone
			// stops the spinner
			{Scope: cbScope, Action: cbNoop, Handle: func(context.Context, *core.Request, string) error { return nil }},
		},
		e.onMessage,
	)
}

func (e *Editor) reply(ctx context.Context, req *core.Request, text tgui.H) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text.String(), htmlOpts)
	return err
}

// editOrReply rewrites the summary message a callback came from,
// dropping its keyboard; falls back to a plain reply.
func (e *Editor) editOrReply(ctx context.Context, req *core.Request, text tgui.H) error {
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
		if err := req.Adapter.EditText(ctx, ref, text.String(), htmlOpts); err == nil {
			return nil
		}
	}
	return e.reply(ctx, req, text)
}

func (e *Editor) cmdStart(ctx context.Context, req *core.Request) error {
	ch := req.Config.Telegram.Channel
	lines := []tgui.H{
		tgui.B("Post editor"),
		tgui.Esc("Send text and media to build a draft, then publish it to " + ch + "."),
		"",
		tgui.Esc("Photos and videos group into an album (up to 10). Other attachments are kept one per kind, newest wins."),
		"",
		tgui.JoinH("\n",
			tgui.Code("/timer 18:30")+tgui.Esc("  publish today or tomorrow at 18:30"),
			tgui.Code("/timer 2025-10-14 09:00")+tgui.Esc("  publish at an exact date"),
			tgui.Code("/timer in 2h")+tgui.Esc("  publish after a delay"),
			tgui.Code("/when")+tgui.Esc("  show the pending timer"),
			tgui.Code("/cancel_timer")+tgui.Esc("  drop the pending timer"),
			tgui.Code("/history")+tgui.Esc("  recent publishes"),
		),
	}
	return e.reply(ctx, req, tgui.JoinH("\n", lines...))
}

func (e *Editor) cmdWhoami(ctx context.Context, req *core.Request) error {
	msg := req.Update.Message
	name := ""
	if msg != nil {
		name = msg.FromUsername
	}
	out := tgui.JoinH("\n",
		tgui.B("You"),
		tgui.Esc("id: ")+tgui.Code(strconv.FormatInt(req.FromID, 10)),
		tgui.Esc("username: ")+tgui.Code(name),
	)
	return e.reply(ctx, req, out)
}

func (e *Editor) location(req *core.Request) *time.Location {
	tz := strings.TrimSpace(req.Config.Editor.Timezone)
	if tz == "" {
		tz = defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.log.Warn("bad timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

func (e *Editor) cmdTimer(ctx context.Context, req *core.Request) error {
	expr := strings.TrimSpace(strings.Join(req.Args, " "))
	if expr == "" {
		return e.reply(ctx, req, tgui.Esc("Usage: /timer 18:30 | /timer 2025-10-14 09:00 | /timer in 2h"))
	}

	loc := e.location(req)
	at, ok := when.Parse(expr, time.Now().In(loc))
	if !ok {
		return e.reply(ctx, req, tgui.Esc("Could not understand that time. Try 18:30, 2025-10-14 09:00 or in 2h."))
	}

	snap := e.store.Snapshot(req.FromID)
	if snap.IsEmpty() {
		return e.reply(ctx, req, tgui.Esc("The draft is empty. Send some text or media first."))
	}

	userID := req.FromID
	chat := req.Chat
	channel := req.Config.Telegram.Channel
	adapter := req.Adapter

	target := e.sched.Schedule(userID, at, func(pctx context.Context) error {
		err := e.pub.Publish(pctx, userID, snap, channel, true)
		note := tgui.Esc("✅ Scheduled post published to " + channel + ".")
		if err != nil {
			note = tgui.Esc("⚠️ Scheduled publish failed: ") + tgui.Code(err.Error())
		} else {
			e.store.Reset(userID)
		}
		if _, serr := adapter.SendText(pctx, chat, note.String(), htmlOpts); serr != nil {
			e.log.Warn("timer notification failed", logx.Err(serr))
		}
		return err
	})

	return e.reply(ctx, req, tgui.JoinH("\n",
		tgui.Esc("⏰ Scheduled for ")+tgui.B(target.In(loc).Format("2006-01-02 15:04 MST")),
		tgui.I("A new /timer replaces this one. The draft is frozen as it is now."),
	))
}

func (e *Editor) cmdWhen(ctx context.Context, req *core.Request) error {
	at, ok := e.sched.Peek(req.FromID)
	if !ok {
		return e.reply(ctx, req, tgui.Esc("No timer is pending."))
	}
	loc := e.location(req)
	left := time.Until(at).Round(time.Second)
	if left < 0 {
		left = 0
	}
	return e.reply(ctx, req,
		tgui.Esc("⏰ Pending: ")+tgui.B(at.In(loc).Format("2006-01-02 15:04 MST"))+
			tgui.Esc(fmt.Sprintf(" (in %s)", left)))
}

func (e *Editor) cmdCancelTimer(ctx context.Context, req *core.Request) error {
	if e.sched.Cancel(req.FromID) {
		return e.reply(ctx, req, tgui.Esc("Timer cancelled."))
	}
	return e.reply(ctx, req, tgui.Esc("No timer is pending."))
}

func (e *Editor) cmdHistory(ctx context.Context, req *core.Request) error {
	if e.journal == nil {
		return e.reply(ctx, req, tgui.Esc("History is disabled."))
	}
	n := historyRows
	if len(req.Args) > 0 {
		if v, err := strconv.Atoi(req.Args[0]); err == nil && v > 0 && v <= 50 {
			n = v
		}
	}
	entries, err := e.journal.Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return e.reply(ctx, req, tgui.Esc("Nothing published yet."))
	}

	loc := e.location(req)
	lines := make([]tgui.H, 0, len(entries)+1)
	lines = append(lines, tgui.B("Recent publishes"))
	for _, en := range entries {
		mark := "✅"
		if en.Status == history.StatusFailed {
			mark = "❌"
		}
		kind := en.Plan
		if en.Items > 1 {
			kind = fmt.Sprintf("%s×%d", en.Plan, en.Items)
		}
		via := ""
		if en.Scheduled {
			via = " ⏰"
		}
		lines = append(lines, tgui.Esc(fmt.Sprintf("%s %s %s%s",
			mark, en.At.In(loc).Format("01-02 15:04"), kind, via)))
	}
	return e.reply(ctx, req, tgui.JoinH("\n", lines...))
}

func (e *Editor) cbPreview(ctx context.Context, req *core.Request, _ string) error {
	snap := e.store.Snapshot(req.FromID)
	err := e.pub.Preview(ctx, req.Chat.ChatID, snap)
	if errors.Is(err, ErrEmptyDraft) {
		return e.reply(ctx, req, tgui.Esc("The draft is empty."))
	}
	return err
}

func (e *Editor) cbPublish(ctx context.Context, req *core.Request, _ string) error {
	snap := e.store.Snapshot(req.FromID)
	channel := req.Config.Telegram.Channel
	err := e.pub.Publish(ctx, req.FromID, snap, channel, false)
	switch {
	case errors.Is(err, ErrEmptyDraft):
		return e.reply(ctx, req, tgui.Esc("The draft is empty."))
	case err != nil:
		_ = e.reply(ctx, req, tgui.Esc("⚠️ Publish failed: ")+tgui.Code(err.Error()))
		return err
	}
	e.store.Reset(req.FromID)
	e.sched.Cancel(req.FromID)
	return e.editOrReply(ctx, req, tgui.Esc("✅ Published to "+channel+"."))
}

func (e *Editor) cbClear(ctx context.Context, req *core.Request, _ string) error {
	e.store.Reset(req.FromID)
	cancelled := e.sched.Cancel(req.FromID)
	note := "🗑 Draft cleared."
	if cancelled {
		note = "🗑 Draft cleared, timer cancelled."
	}
	return e.editOrReply(ctx, req, tgui.Esc(note))
}

// onMessage is the fallback for non-command messages: plain text
// replaces the draft text, media is appended. Captions double as the
// draft text.
func (e *Editor) onMessage(ctx context.Context, req *core.Request) error {
	msg := req.Update.Message
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if msg.Media == nil && text == "" {
		return nil
	}

	e.store.Update(req.FromID, func(d *Draft) {
		if msg.Media != nil {
			d.AddMedia(msg.Media.Kind, msg.Media.FileID)
		}
		if text != "" {
			d.Text = text
		}
	})

	snap := e.store.Snapshot(req.FromID)
	kb := tgui.NewInline().
		Row(
			tgui.Btn("👁 Preview", tgui.Data(cbScope, cbPreview, "")),
			tgui.Btn("🚀 Publish", tgui.Data(cbScope, cbPublish, "")),
		).
		Row(tgui.Btn("🗑 Clear", tgui.Data(cbScope, cbClear, ""))).
		Row(tgui.Btn("⏰ Timer hint: /timer", tgui.Data(cbScope, cbNoop, "")))

	opts := &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: kb.Markup()}
	_, err := req.Adapter.SendText(ctx, req.Chat, e.summary(req, snap).String(), opts)
	return err
}

func (e *Editor) summary(req *core.Request, d Draft) tgui.H {
	plan := Resolve(d)

	var body tgui.H
	switch plan.Kind {
	case PlanAlbum:
		body = tgui.Esc(fmt.Sprintf("📸 Album of %d", len(plan.Album)))
	case PlanSingle:
		body = tgui.Esc("📎 Single " + string(plan.Media.Kind))
	case PlanText:
		body = tgui.Esc("📝 Text only")
	default:
		body = tgui.Esc("Empty")
	}

	lines := []tgui.H{tgui.B("Draft") + tgui.Esc(" → ") + body}
	if d.Text != "" {
		lines = append(lines, tgui.I(tgui.TruncRunes(d.Text, 200)))
	}
	if counts := mediaCounts(d); counts != "" {
		lines = append(lines, tgui.Esc(counts))
	}
	if at, ok := e.sched.Peek(req.FromID); ok {
		loc := e.location(req)
		lines = append(lines, tgui.Esc("⏰ "+at.In(loc).Format("2006-01-02 15:04")+
			" (draft frozen at schedule time)"))
	}
	return tgui.JoinH("\n", lines...)
}

func mediaCounts(d Draft) string {
	if len(d.Media) == 0 {
		return ""
	}
	counts := map[kit.MediaKind]int{}
	order := []kit.MediaKind{}
	for _, m := range d.Media {
		if counts[m.Kind] == 0 {
			order = append(order, m.Kind)
		}
		counts[m.Kind]++
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%s:%d", k, counts[k]))
	}
	return "media " + strings.Join(parts, " ")
}
