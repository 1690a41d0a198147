package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/google/go-cmp/cmp"
)

type message struct {
	ID        int64  `json:"id,omitempty"`
	Text      string `json:"text"`
	ChannelID string `json:"channel_id"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "anon-key", 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func checkAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("apikey"); got != "anon-key" {
		t.Errorf("apikey header = %q", got)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer anon-key" {
		t.Errorf("Authorization header = %q", got)
	}
}

func TestSelect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/rest/v1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if diff := cmp.Diff([]string{"eq.general"}, q["channel_id"]); diff != "" {
			t.Errorf("channel_id mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"gt.10"}, q["id"]); diff != "" {
			t.Errorf("id mismatch (-want +got):\n%s", diff)
		}
		if q.Get("order") != "id.asc" || q.Get("select") != "*" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = io.WriteString(w, `[{"id":11,"text":"hi","channel_id":"general"}]`)
	})

	var got []message
	filter := store.Eq("channel_id", "general").Gt("id", 10).OrderBy("id")
	if err := c.Select(context.Background(), "messages", filter, &got); err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := []message{{ID: 11, Text: "hi", ChannelID: "general"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertWritesBack(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("Prefer = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if _, ok := body["id"]; ok {
			t.Error("zero id must not be sent")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id":42,"text":"hello","channel_id":"general"}]`)
	})

	msg := &message{Text: "hello", ChannelID: "general"}
	if err := c.Insert(context.Background(), "messages", msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if msg.ID != 42 {
		t.Errorf("id = %d, want 42", msg.ID)
	}
}

func TestInsertConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint \"users_email_key\""}`)
	})

	err := c.Insert(context.Background(), "users", map[string]any{"email": "a@example.com"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("expected *Error with 409, got %v", err)
	}
}

func TestServerErrorIsNotConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "upstream down")
	})

	var rows []message
	err := c.Select(context.Background(), "messages", store.All(), &rows)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Message != "upstream down" {
		t.Errorf("message = %q", apiErr.Message)
	}
	if errors.Is(err, store.ErrConflict) {
		t.Error("503 must not read as a conflict")
	}
}

func TestUpdate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.Method != http.MethodPatch || r.URL.Path != "/rest/v1/users" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "eq.u1" {
			t.Errorf("id filter = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if diff := cmp.Diff(map[string]any{"status": "Banned"}, body); diff != "" {
			t.Errorf("patch mismatch (-want +got):\n%s", diff)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Update(context.Background(), "users", store.Eq("id", "u1"), map[string]any{"status": "Banned"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := c.Update(context.Background(), "users", store.All(), map[string]any{"status": "Banned"}); err == nil {
		t.Error("expected unfiltered update to be refused")
	}
}
