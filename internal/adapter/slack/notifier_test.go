package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/toolgate/internal/port/notifier"
)

var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	if n := NewNotifier(""); n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier("").Send(context.Background(), notifier.Notification{Title: "test"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{
		Title:    "Trigger failed",
		Message:  "ship: boom",
		Level:    notifier.LevelError,
		Source:   "trigger.failed",
		EventID:  "ev-1",
		ToolName: "ship",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got.Text, "[ERROR]") {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.Blocks) != 3 || len(got.Blocks[2].Elements) != 3 {
		t.Errorf("blocks = %+v", got.Blocks)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected 500 error, got %v", err)
	}
}

func TestBuildMessageOmitsEmptyContext(t *testing.T) {
	msg := buildMessage(notifier.Notification{Title: "t", Message: "m"})
	if len(msg.Blocks) != 2 {
		t.Errorf("blocks = %+v", msg.Blocks)
	}
}

func TestFactorySkipsMissingWebhook(t *testing.T) {
	got, err := notifier.Build(map[string]map[string]string{"slack": {}})
	if err != nil || len(got) != 0 {
		t.Fatalf("Build = %v, %v", got, err)
	}
	got, err = notifier.Build(map[string]map[string]string{"slack": {"webhook_url": "https://hooks.example/x"}})
	if err != nil || len(got) != 1 || got[0].Name() != "slack" {
		t.Fatalf("Build = %v, %v", got, err)
	}
}
