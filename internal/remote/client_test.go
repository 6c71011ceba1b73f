package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/remote"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
	return remote.NewClient(srv.URL, "anon-key", ts, 5*time.Second)
}

func TestCreateEntry(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/entries" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q", got)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("Prefer = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `[{"id":"e1","user_id":"u1","work_date":"2026-03-02","start_time":"09:03:00","end_time":null}]`)
	})

	e, err := c.CreateEntry(context.Background(), "u1", model.NewEntry{WorkDate: "2026-03-02", StartTime: "09:03"})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if e.ID != "e1" || e.StartTime != "09:03" || !e.Open() {
		t.Errorf("entry = %+v", e)
	}
	if gotBody["user_id"] != "u1" || gotBody["start_time"] != "09:03" {
		t.Errorf("body = %v", gotBody)
	}
	if v, ok := gotBody["end_time"]; !ok || v != nil {
		t.Errorf("end_time should be sent as null, got %v (present %v)", v, ok)
	}
}

func TestUpdateEntryClearsEndTime(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "eq.e1" {
			t.Errorf("id filter = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `[{"id":"e1","user_id":"u1","work_date":"2026-03-02","start_time":"09:00:00","end_time":null}]`)
	})

	e, err := c.UpdateEntry(context.Background(), "e1", model.EntryPatch{EndTime: model.StringPtr("")})
	if err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if !e.Open() {
		t.Errorf("entry should be open, got end %v", *e.EndTime)
	}
	if v, ok := gotBody["end_time"]; !ok || v != nil {
		t.Errorf("end_time = %v (present %v), want explicit null", v, ok)
	}
	if _, ok := gotBody["start_time"]; ok {
		t.Error("unset fields must not be sent")
	}
}

func TestUpdateMissingEntryIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})
	_, err := c.UpdateEntry(context.Background(), "nope", model.EntryPatch{EndTime: model.StringPtr("17:00")})
	if !errors.Is(err, remote.ErrNotFound) || !remote.IsRemote(err) {
		t.Errorf("err = %v, want remote ErrNotFound", err)
	}
}

func TestFindLatestEntryForDate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("order") != "start_time.desc" || q.Get("limit") != "1" {
			t.Errorf("query = %v", q)
		}
		if q.Get("work_date") == "eq.2026-03-03" {
			io.WriteString(w, `[]`)
			return
		}
		io.WriteString(w, `[{"id":"e2","user_id":"u1","work_date":"2026-03-02","start_time":"13:00:00","end_time":"17:30:00"}]`)
	})

	e, err := c.FindLatestEntryForDate(context.Background(), "u1", "2026-03-02")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.ID != "e2" || *e.EndTime != "17:30" {
		t.Fatalf("entry = %+v", e)
	}
	if e.TotalMinutes == nil || *e.TotalMinutes != 270 {
		t.Errorf("TotalMinutes = %v, want 270", e.TotalMinutes)
	}

	none, err := c.FindLatestEntryForDate(context.Background(), "u1", "2026-03-03")
	if err != nil || none != nil {
		t.Errorf("empty day = %v, %v; want nil, nil", none, err)
	}
}

func TestListEntriesFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query()["work_date"]
		if len(got) != 2 || got[0] != "gte.2026-03-01" || got[1] != "lte.2026-03-31" {
			t.Errorf("work_date filters = %v", got)
		}
		io.WriteString(w, `[{"id":"a","work_date":"2026-03-02","start_time":"08:00:00","end_time":"12:00:00"}]`)
	})
	rows, err := c.ListEntries(context.Background(), "u1", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Minutes() != 240 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `[]`)
		case http.MethodPost:
			if !strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates") {
				t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
			}
			var s model.Settings
			json.NewDecoder(r.Body).Decode(&s)
			if s.UpdatedAt == "" {
				t.Error("updated_at not set")
			}
			json.NewEncoder(w).Encode([]model.Settings{s})
		}
	})
	ctx := context.Background()

	s, err := c.GetSettings(ctx, "u1")
	if err != nil || s != nil {
		t.Fatalf("GetSettings = %v, %v; want nil, nil", s, err)
	}
	saved, err := c.UpsertSettings(ctx, model.DefaultSettings("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if saved.OwnerID != "u1" || saved.Rounding != model.RoundNone {
		t.Errorf("saved = %+v", saved)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		network bool
		message string
	}{
		{"rejected", http.StatusBadRequest, `{"message":"invalid input syntax for type time","code":"22007"}`, false, "invalid input syntax for type time"},
		{"conflict", http.StatusConflict, `not json`, false, "not json"},
		{"gateway", http.StatusServiceUnavailable, ``, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			err := c.DeleteEntry(context.Background(), "e1")
			if remote.IsNetwork(err) != tt.network {
				t.Fatalf("IsNetwork(%v) = %v, want %v", err, remote.IsNetwork(err), tt.network)
			}
			if tt.network {
				return
			}
			var re *remote.RemoteError
			if !errors.As(err, &re) {
				t.Fatalf("err = %T, want *RemoteError", err)
			}
			if re.Status != tt.status || re.Message != tt.message {
				t.Errorf("RemoteError = %+v", re)
			}
		})
	}
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := remote.NewClient(url, "", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}), time.Second)
	err := c.DeleteEntry(context.Background(), "e1")
	if !remote.IsNetwork(err) {
		t.Errorf("err = %v, want network error", err)
	}
}

type noToken struct{}

func (noToken) Token() (*oauth2.Token, error) { return nil, remote.ErrNotAuthenticated }

func TestMissingSessionIsNotNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := remote.NewClient(srv.URL, "", noToken{}, time.Second)
	_, err := c.GetSettings(context.Background(), "u1")
	if !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
	if remote.IsNetwork(err) {
		t.Error("missing session must not be classified as a network error")
	}
}
