package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/notify"
)

func TestEventToAttachment(t *testing.T) {
	evt := notify.Event{
		Type:       notify.AfterDeploy,
		Owner:      "acme",
		Name:       "widget",
		Ref:        "v2.0.0",
		Kind:       models.KindPlugin,
		TargetPath: "/srv/wp/plugins/widget",
		At:         time.Unix(1700000000, 0),
	}
	att := eventToAttachment(evt)

	if att.Title != "acme/widget@v2.0.0 deployed" {
		t.Errorf("Title = %q", att.Title)
	}
	if att.Color != notify.ColorSuccess {
		t.Errorf("Color = %q, want %q", att.Color, notify.ColorSuccess)
	}
	if att.Ts != "1700000000" {
		t.Errorf("Ts = %q", att.Ts)
	}
	if len(att.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(att.Fields))
	}
	if att.Fields[0].Title != "Kind" || !att.Fields[0].Short {
		t.Errorf("Fields[0] = %+v", att.Fields[0])
	}
	if att.Fields[1].Title != "Target" || att.Fields[1].Short {
		t.Errorf("Fields[1] = %+v", att.Fields[1])
	}
}

func TestNotify_PostsWebhook(t *testing.T) {
	var got slackapi.WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := New(srv.URL, srv.Client())
	err := s.Notify(context.Background(), notify.Event{
		Type:  notify.UpdateFailed,
		Owner: "acme",
		Name:  "widget",
		Err:   errors.New("archive incompatible"),
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Text != "acme/widget update failed" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("len(Attachments) = %d, want 1", len(got.Attachments))
	}
	if got.Attachments[0].Color != notify.ColorError {
		t.Errorf("Color = %q, want %q", got.Attachments[0].Color, notify.ColorError)
	}
	if got.Attachments[0].Text != "archive incompatible" {
		t.Errorf("Attachment text = %q", got.Attachments[0].Text)
	}
}

func TestNotify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	if err := New(srv.URL, nil).Notify(context.Background(), notify.Event{Type: notify.AfterDeploy}); err == nil {
		t.Error("expected error for 403 response")
	}
}
