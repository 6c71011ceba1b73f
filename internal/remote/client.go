package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Tiliavir/stampclock/internal/model"
	"github.com/Tiliavir/stampclock/internal/timecalc"
)

const (
	entriesTable  = "entries"
	settingsTable = "settings"
	entryColumns  = "id,user_id,work_date,start_time,end_time,total_minutes,created_at,updated_at"
)

// Client talks to a PostgREST-style API under <base>/rest/v1.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// apiKeyTransport adds the project API key header to every request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("apikey", t.key)
	return t.base.RoundTrip(r)
}

// NewClient creates a client that authenticates with tokens from ts.
// apiKey may be empty. timeout bounds each request.
func NewClient(baseURL, apiKey string, ts oauth2.TokenSource, timeout time.Duration) *Client {
	var base http.RoundTripper = http.DefaultTransport
	if apiKey != "" {
		base = &apiKeyTransport{key: apiKey, base: base}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: ts, Base: base},
		},
		now: time.Now,
	}
}

// postgrestError is the JSON body PostgREST returns on failure.
type postgrestError struct {
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Code    string `json:"code"`
}

// do sends one request and decodes a successful JSON response into out.
func (c *Client) do(ctx context.Context, op, method, table string, query url.Values, prefer string, body, out any) error {
	endpoint := c.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(op, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode >= 300 {
		if unreachableStatus(resp.StatusCode) {
			return &NetworkError{Op: op, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
		var pe postgrestError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &pe) == nil && pe.Message != "" {
			msg = pe.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		rerr := &RemoteError{Op: op, Status: resp.StatusCode, Message: msg}
		if resp.StatusCode == http.StatusUnauthorized {
			rerr.Err = ErrNotAuthenticated
		}
		return rerr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// normalizeEntry trims database times ("09:03:00") to HH:MM and fills the
// derived total.
func normalizeEntry(e model.Entry) model.Entry {
	if hm, err := timecalc.NormalizeClock(e.StartTime); err == nil {
		e.StartTime = hm
	}
	if e.EndTime != nil {
		if *e.EndTime == "" {
			e.EndTime = nil
		} else if hm, err := timecalc.NormalizeClock(*e.EndTime); err == nil {
			e.EndTime = &hm
		}
	}
	return e.WithTotal()
}

func singleEntry(op string, rows []model.Entry) (model.Entry, error) {
	if len(rows) == 0 {
		return model.Entry{}, &RemoteError{Op: op, Status: http.StatusNotFound, Message: "entry not found", Err: ErrNotFound}
	}
	return normalizeEntry(rows[0]), nil
}

// CreateEntry inserts an entry and returns the stored row.
func (c *Client) CreateEntry(ctx context.Context, ownerID string, e model.NewEntry) (model.Entry, error) {
	body := map[string]any{
		"user_id":    ownerID,
		"work_date":  e.WorkDate,
		"start_time": e.StartTime,
		"end_time":   nil,
	}
	if e.EndTime != nil && *e.EndTime != "" {
		body["end_time"] = *e.EndTime
	}
	q := url.Values{"select": {entryColumns}}

	var rows []model.Entry
	if err := c.do(ctx, "create entry", http.MethodPost, entriesTable, q, "return=representation", body, &rows); err != nil {
		return model.Entry{}, err
	}
	return singleEntry("create entry", rows)
}

// UpdateEntry patches the entry with the given id.
func (c *Client) UpdateEntry(ctx context.Context, id string, patch model.EntryPatch) (model.Entry, error) {
	body := map[string]any{}
	if patch.WorkDate != nil {
		body["work_date"] = *patch.WorkDate
	}
	if patch.StartTime != nil {
		body["start_time"] = *patch.StartTime
	}
	if patch.EndTime != nil {
		if *patch.EndTime == "" {
			body["end_time"] = nil
		} else {
			body["end_time"] = *patch.EndTime
		}
	}
	q := url.Values{"id": {"eq." + id}, "select": {entryColumns}}

	var rows []model.Entry
	if err := c.do(ctx, "update entry", http.MethodPatch, entriesTable, q, "return=representation", body, &rows); err != nil {
		return model.Entry{}, err
	}
	return singleEntry("update entry", rows)
}

// DeleteEntry removes the entry with the given id.
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	q := url.Values{"id": {"eq." + id}}
	return c.do(ctx, "delete entry", http.MethodDelete, entriesTable, q, "", nil, nil)
}

// FindLatestEntryForDate returns the entry with the latest start time on date.
func (c *Client) FindLatestEntryForDate(ctx context.Context, ownerID, date string) (*model.Entry, error) {
	q := url.Values{
		"select":    {entryColumns},
		"user_id":   {"eq." + ownerID},
		"work_date": {"eq." + date},
		"order":     {"start_time.desc"},
		"limit":     {"1"},
	}
	var rows []model.Entry
	if err := c.do(ctx, "find latest entry", http.MethodGet, entriesTable, q, "", nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := normalizeEntry(rows[0])
	return &e, nil
}

// ListEntries returns the user's entries between two dates, inclusive.
func (c *Client) ListEntries(ctx context.Context, ownerID, from, to string) ([]model.Entry, error) {
	q := url.Values{
		"select":    {entryColumns},
		"user_id":   {"eq." + ownerID},
		"work_date": {"gte." + from, "lte." + to},
		"order":     {"work_date.desc,start_time.asc"},
	}
	var rows []model.Entry
	if err := c.do(ctx, "list entries", http.MethodGet, entriesTable, q, "", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, normalizeEntry(r))
	}
	return out, nil
}

// GetSettings returns the user's settings, or nil if none exist.
func (c *Client) GetSettings(ctx context.Context, ownerID string) (*model.Settings, error) {
	q := url.Values{"select": {"*"}, "user_id": {"eq." + ownerID}, "limit": {"1"}}
	var rows []model.Settings
	if err := c.do(ctx, "get settings", http.MethodGet, settingsTable, q, "", nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertSettings inserts or replaces the user's settings row.
func (c *Client) UpsertSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	s.UpdatedAt = c.now().UTC().Format(time.RFC3339)
	q := url.Values{"on_conflict": {"user_id"}}

	var rows []model.Settings
	err := c.do(ctx, "save settings", http.MethodPost, settingsTable, q,
		"resolution=merge-duplicates,return=representation", s, &rows)
	if err != nil {
		return model.Settings{}, err
	}
	if len(rows) == 0 {
		return s, nil
	}
	return rows[0], nil
}

// HealthURL is the endpoint the connectivity probe polls by default.
func HealthURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/auth/v1/health"
}
