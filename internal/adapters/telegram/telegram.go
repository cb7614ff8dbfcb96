// Package telegram adapts the editor core to the Telegram Bot API via
// telebot. All platform quirks (file_id plumbing, media classes,
// long-poll lifecycle) stay behind kit.Adapter.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/kit"
	"postbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RequestTimeout bounds every outbound Bot API call at the HTTP
	// layer, so a hung transport cannot block a caller forever.
	RequestTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	out       chan<- kit.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was
	// slower than the poll loop; logged periodically, not per update.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		// The long poll needs headroom beyond its own timeout.
		Client: &http.Client{Timeout: timeout + reqTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Self() kit.Identity {
	if a.bot == nil || a.bot.Me == nil {
		return kit.Identity{}
	}
	return kit.Identity{ID: a.bot.Me.ID, Username: a.bot.Me.Username}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		a.emit(kit.Update{Kind: kit.UpdateMessage, Message: messageFrom(m, nil)})
		return nil
	})

	media := []struct {
		endpoint string
		extract  func(*tele.Message) *kit.MediaRef
	}{
		{tele.OnPhoto, func(m *tele.Message) *kit.MediaRef {
			if m.Photo == nil {
				return nil
			}
			return &kit.MediaRef{Kind: kit.MediaPhoto, FileID: m.Photo.FileID}
		}},
		{tele.OnVideo, func(m *tele.Message) *kit.MediaRef {
			if m.Video == nil {
				return nil
			}
			return &kit.MediaRef{Kind: kit.MediaVideo, FileID: m.Video.FileID}
		}},
		{tele.OnDocument, func(m *tele.Message) *kit.MediaRef {
			if m.Document == nil {
				return nil
			}
			return &kit.MediaRef{Kind: kit.MediaDocument, FileID: m.Document.FileID}
		}},
		{tele.OnAnimation, func(m *tele.Message) *kit.MediaRef {
			if m.Animation == nil {
				return nil
			}
			return &kit.MediaRef{Kind: kit.MediaAnimation, FileID: m.Animation.FileID}
		}},
		{tele.OnAudio, func(m *tele.Message) *kit.MediaRef {
			if m.Audio == nil {
				return nil
			}
			return &kit.MediaRef{Kind: kit.MediaAudio, FileID: m.Audio.FileID}
		}},
		{tele.OnVoice, func(m *tele.Message) *kit.MediaRef {
			if m.Voice == nil {
				return nil
			}
			return &kit.MediaRef{Kind: kit.MediaVoice, FileID: m.Voice.FileID}
		}},
	}
	for _, h := range media {
		extract := h.extract
		a.bot.Handle(h.endpoint, func(c tele.Context) error {
			m := c.Message()
			if m == nil {
				return nil
			}
			ref := extract(m)
			if ref == nil {
				return nil
			}
			a.emit(kit.Update{Kind: kit.UpdateMessage, Message: messageFrom(m, ref)})
			return nil
		})
	}

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started", logx.String("bot", a.Self().Username))
		a.bot.Start() // blocks until Stop()
	}()

	return nil
}

func messageFrom(m *tele.Message, media *kit.MediaRef) *kit.Message {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	out := &kit.Message{
		ID:     m.ID,
		ChatID: m.Chat.ID,
		Text:   text,
		Media:  media,
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	return out
}

func (a *Adapter) emit(up kit.Update) {
	select {
	case a.out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Keep shutdown snappy even if the long-poll is mid-wait.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// recipient satisfies tele.Recipient for both numeric chat IDs and
// @channel usernames.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func target(to kit.ChatTarget) recipient {
	if to.Channel != "" {
		ch := to.Channel
		if !strings.HasPrefix(ch, "@") {
			ch = "@" + ch
		}
		return recipient(ch)
	}
	return recipient(strconv.FormatInt(to.ChatID, 10))
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyMarkupAdapter != nil {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

// await runs one blocking Bot API call and returns early when ctx
// expires. The API call itself is still bounded by the http.Client
// timeout, so an abandoned call cannot pin its goroutine forever.
func await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var ref kit.MessageRef
	err := await(ctx, func() error {
		msg, err := a.bot.Send(target(to), text, sendOptions(opt))
		if err != nil {
			return err
		}
		ref = kit.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}
		return nil
	})
	return ref, err
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, media kit.MediaRef, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	what, err := sendable(media, caption)
	if err != nil {
		return kit.MessageRef{}, err
	}
	var ref kit.MessageRef
	err = await(ctx, func() error {
		msg, err := a.bot.Send(target(to), what, sendOptions(opt))
		if err != nil {
			return err
		}
		ref = kit.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}
		return nil
	})
	return ref, err
}

func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.AlbumItem, opt *kit.SendOptions) error {
	if len(items) == 0 {
		return errors.New("empty album")
	}
	album := make(tele.Album, 0, len(items))
	for _, it := range items {
		in, err := inputtable(it.Media, it.Caption)
		if err != nil {
			return err
		}
		album = append(album, in)
	}
	return await(ctx, func() error {
		_, err := a.bot.SendAlbum(target(to), album, sendOptions(opt))
		return err
	})
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	return await(ctx, func() error {
		_, err := a.bot.Edit(m, text, sendOptions(opt))
		return err
	})
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return await(ctx, func() error {
		return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
}

func sendable(media kit.MediaRef, caption string) (tele.Sendable, error) {
	file := tele.File{FileID: media.FileID}
	switch media.Kind {
	case kit.MediaPhoto:
		return &tele.Photo{File: file, Caption: caption}, nil
	case kit.MediaVideo:
		return &tele.Video{File: file, Caption: caption}, nil
	case kit.MediaDocument:
		return &tele.Document{File: file, Caption: caption}, nil
	case kit.MediaAnimation:
		return &tele.Animation{File: file, Caption: caption}, nil
	case kit.MediaAudio:
		return &tele.Audio{File: file, Caption: caption}, nil
	case kit.MediaVoice:
		return &tele.Voice{File: file, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("unsupported media kind %q", media.Kind)
	}
}

func inputtable(media kit.MediaRef, caption string) (tele.Inputtable, error) {
	file := tele.File{FileID: media.FileID}
	switch media.Kind {
	case kit.MediaPhoto:
		return &tele.Photo{File: file, Caption: caption}, nil
	case kit.MediaVideo:
		return &tele.Video{File: file, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("media kind %q cannot join an album", media.Kind)
	}
}
