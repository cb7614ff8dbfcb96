package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"postbot/internal/kit"
	"postbot/pkg/logx"
)

type stubAdapter struct {
	mu    sync.Mutex
	sent  []string
	answs []string
}

func (s *stubAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (s *stubAdapter) Stop(ctx context.Context) error                         { return nil }

func (s *stubAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (s *stubAdapter) SendMedia(context.Context, kit.ChatTarget, kit.MediaRef, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (s *stubAdapter) SendAlbum(context.Context, kit.ChatTarget, []kit.AlbumItem, *kit.SendOptions) error {
	return nil
}
func (s *stubAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (s *stubAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	s.answs = append(s.answs, text)
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) Self() kit.Identity { return kit.Identity{ID: 1, Username: "testbot"} }

func (s *stubAdapter) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func newTestRouter(t *testing.T, adapter kit.Adapter, owner int64) *Router {
	t.Helper()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "t"
  owner_user_id: 42
  channel: "@c"
`)
	cfgm := NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		t.Fatal(err)
	}
	return NewRouter(logx.Nop(), adapter, cfgm, owner)
}

func runDispatch(t *testing.T, r *Router, updates chan kit.Update) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatch loop did not stop")
		}
	})
	return cancel
}

func msgUpdate(fromID int64, text string) kit.Update {
	return kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ID: 1, ChatID: fromID, FromID: fromID, Text: text},
	}
}

func TestRouterDispatchesCommand(t *testing.T) {
	t.Parallel()
	adapter := &stubAdapter{}
	r := newTestRouter(t, adapter, 42)

	got := make(chan *Request, 1)
	r.Register([]Command{{
		Name: "ping",
		Handle: func(_ context.Context, req *Request) error {
			got <- req
			return nil
		},
	}}, nil, nil)

	updates := make(chan kit.Update, 1)
	runDispatch(t, r, updates)

	updates <- msgUpdate(42, "/ping@testbot one two")
	select {
	case req := <-got:
		if req.Command != "/ping" {
			t.Errorf("command = %q", req.Command)
		}
		if len(req.Args) != 2 || req.Args[0] != "one" {
			t.Errorf("args = %v", req.Args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command handler never ran")
	}
}

func TestRouterDeniesStranger(t *testing.T) {
	t.Parallel()
	adapter := &stubAdapter{}
	r := newTestRouter(t, adapter, 42)

	fired := make(chan struct{}, 1)
	r.Register(nil, nil, func(context.Context, *Request) error {
		fired <- struct{}{}
		return nil
	})

	updates := make(chan kit.Update, 1)
	runDispatch(t, r, updates)

	updates <- msgUpdate(7, "hello")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-fired:
			t.Fatal("fallback must not run for a stranger")
		case <-deadline:
			t.Fatal("denial reply never sent")
		default:
		}
		if sent := adapter.sentTexts(); len(sent) > 0 {
			if sent[0] != deniedReply {
				t.Errorf("reply = %q", sent[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRouterFallbackForPlainMessage(t *testing.T) {
	t.Parallel()
	adapter := &stubAdapter{}
	r := newTestRouter(t, adapter, 42)

	got := make(chan string, 1)
	r.Register(nil, nil, func(_ context.Context, req *Request) error {
		got <- req.Update.Message.Text
		return nil
	})

	updates := make(chan kit.Update, 1)
	runDispatch(t, r, updates)

	updates <- msgUpdate(42, "draft text")
	select {
	case text := <-got:
		if text != "draft text" {
			t.Errorf("text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fallback never ran")
	}
}

func TestRouterRoutesCallback(t *testing.T) {
	t.Parallel()
	adapter := &stubAdapter{}
	r := newTestRouter(t, adapter, 42)

	got := make(chan string, 1)
	r.Register(nil, []CallbackRoute{{
		Scope:  "editor",
		Action: "pub",
		Handle: func(_ context.Context, _ *Request, payload string) error {
			got <- payload
			return nil
		},
	}}, nil)

	updates := make(chan kit.Update, 1)
	runDispatch(t, r, updates)

	updates <- kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb1", FromID: 42, ChatID: 42, Data: "editor:pub:now"},
	}
	select {
	case payload := <-got:
		if payload != "now" {
			t.Errorf("payload = %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback handler never ran")
	}
}

func TestRouterUnknownCommandReplies(t *testing.T) {
	t.Parallel()
	adapter := &stubAdapter{}
	r := newTestRouter(t, adapter, 42)
	r.Register(nil, nil, nil)

	updates := make(chan kit.Update, 1)
	runDispatch(t, r, updates)

	updates <- msgUpdate(42, "/nope")

	deadline := time.After(2 * time.Second)
	for {
		if sent := adapter.sentTexts(); len(sent) > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("unknown-command reply never sent")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestSetOwner(t *testing.T) {
	t.Parallel()
	adapter := &stubAdapter{}
	r := newTestRouter(t, adapter, 42)
	if !r.isOwner(42) || r.isOwner(7) {
		t.Fatal("initial owner gate wrong")
	}
	r.SetOwner(7)
	if r.isOwner(42) || !r.isOwner(7) {
		t.Fatal("owner gate did not follow SetOwner")
	}
}
