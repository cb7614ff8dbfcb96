package logx

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRelaySinkUsesSender(t *testing.T) {
	type delivery struct {
		chatID int64
		text   string
	}
	got := make(chan delivery, 4)
	sender := func(_ context.Context, chatID int64, text string) error {
		got <- delivery{chatID: chatID, text: text}
		return nil
	}

	cfg := Config{
		Level: "info",
		Relay: RelayConfig{Enabled: true, ChatID: 77, MinLevel: "warn", RatePerSec: 5},
	}
	svc, log := New(cfg, sender)
	defer svc.Close()

	log.Warn("relay me", String("comp", "test"))

	select {
	case d := <-got:
		if d.chatID != 77 {
			t.Errorf("chatID = %d, want 77", d.chatID)
		}
		if !strings.Contains(d.text, "relay me") || !strings.Contains(d.text, "WARN") {
			t.Errorf("relayed text = %q", d.text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("warn line never reached the sender")
	}

	// below the relay min level: must not be forwarded
	log.Info("stay local")
	select {
	case d := <-got:
		t.Fatalf("info line relayed: %q", d.text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayTargetRetarget(t *testing.T) {
	got := make(chan int64, 2)
	sender := func(_ context.Context, chatID int64, _ string) error {
		got <- chatID
		return nil
	}
	svc, log := New(Config{
		Level: "info",
		Relay: RelayConfig{Enabled: true, ChatID: 1, MinLevel: "warn", RatePerSec: 5},
	}, sender)
	defer svc.Close()

	svc.SetRelayTarget(9)
	log.Warn("after retarget")

	select {
	case id := <-got:
		if id != 9 {
			t.Fatalf("chatID = %d, want 9", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay line never delivered")
	}
}
