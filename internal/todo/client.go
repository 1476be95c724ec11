package todo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"farmcal/internal/config"
	"farmcal/internal/httpcache"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
)

var (
	// ErrDisabled is returned by write operations when no backend is configured.
	ErrDisabled = errors.New("todo: backend not configured")
	// ErrNotFound is returned when the backend has no such task.
	ErrNotFound = errors.New("todo: task not found")
)

// APIError reports a non-2xx backend response to a write request.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("todo: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client is the backend client. Reads go through the shared conditional-GET
// cache so a backend outage degrades to the last good list.
type Client struct {
	baseURL      string
	token        string
	expandCycles bool
	loc          *time.Location

	fetcher *httpcache.Fetcher
	http    *http.Client
}

// NewClient creates a Client from the backend config. loc is the timezone
// start_date values are interpreted in.
func NewClient(cfg config.BackendConfig, fetcher *httpcache.Fetcher, hc *http.Client, loc *time.Location) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		token:        cfg.Token,
		expandCycles: cfg.ExpandCycles,
		loc:          loc,
		fetcher:      fetcher,
		http:         hc,
	}
}

// Enabled reports whether a backend URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Name identifies the client in logs.
func (c *Client) Name() string { return SourceID }

// List returns the todos whose schedule touches [q.From, q.To].
// FieldID 0 lists every field of the token's owner.
func (c *Client) List(ctx context.Context, q model.Query) ([]Todo, error) {
	if !c.Enabled() {
		return nil, nil
	}

	path := "/todo/todos/list/"
	if q.FieldID != 0 {
		path = fmt.Sprintf("/todo/todos/%d/list/", q.FieldID)
	}
	params := url.Values{}
	if !q.From.IsZero() {
		params.Set("start_date", q.From.In(c.loc).Format("2006-01-02"))
	}
	if !q.To.IsZero() {
		params.Set("end_date", q.To.In(c.loc).Format("2006-01-02"))
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	res, err := c.fetcher.Get(ctx, httpcache.Request{ID: SourceID, URL: u, Header: c.headers()})
	if err != nil {
		return nil, fmt.Errorf("todo: list: %w", err)
	}

	todos, err := decodeList(res.Body)
	if err != nil {
		return nil, fmt.Errorf("todo: decode list: %w", err)
	}
	appLog.Debug("todo list loaded", "field", q.FieldID, "count", len(todos), "from_cache", res.FromCache)
	return todos, nil
}

// Events lists todos and normalizes them into calendar events, expanding
// repeating todos when enabled.
func (c *Client) Events(ctx context.Context, q model.Query) ([]model.Event, error) {
	todos, err := c.List(ctx, q)
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(todos))
	for _, t := range todos {
		ev, err := Normalize(t, c.loc)
		if err != nil {
			appLog.Warn("todo skipped", "task_id", t.TaskID, "start_date", t.StartDate, "err", err)
			continue
		}
		if !c.expandCycles || t.Cycle <= 0 || q.To.IsZero() {
			events = append(events, ev)
			continue
		}
		reps, err := Repeat(ev, t.Cycle, q.From, q.To)
		if err != nil {
			appLog.Warn("todo cycle expansion failed", "task_id", t.TaskID, "cycle", t.Cycle, "err", err)
			events = append(events, ev)
			continue
		}
		events = append(events, reps...)
	}
	return events, nil
}

// Create adds a todo to fieldID and returns the backend's copy.
func (c *Client) Create(ctx context.Context, fieldID int, in NewTodo) (Todo, error) {
	if !c.Enabled() {
		return Todo{}, ErrDisabled
	}
	body, err := json.Marshal(in)
	if err != nil {
		return Todo{}, err
	}

	path := fmt.Sprintf("/todo/todos/field/%d/", fieldID)
	data, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return Todo{}, err
	}

	var out Todo
	if err := json.Unmarshal(data, &out); err != nil {
		return Todo{}, fmt.Errorf("todo: decode created todo: %w", err)
	}
	if out.FieldID == 0 {
		out.FieldID = fieldID
	}
	appLog.Info("todo created", "task_id", out.TaskID, "field", fieldID)
	return out, nil
}

// Get fetches one task. It bypasses the list cache so callers see the
// backend's current copy.
func (c *Client) Get(ctx context.Context, taskID int) (Todo, error) {
	if !c.Enabled() {
		return Todo{}, ErrDisabled
	}
	data, err := c.do(ctx, http.MethodGet, taskPath(taskID), nil)
	if err != nil {
		return Todo{}, err
	}
	var out Todo
	if err := json.Unmarshal(data, &out); err != nil {
		return Todo{}, fmt.Errorf("todo: decode task %d: %w", taskID, err)
	}
	return out, nil
}

// Update replaces a task's schedule and text and returns the backend's copy.
func (c *Client) Update(ctx context.Context, taskID int, in NewTodo) (Todo, error) {
	if !c.Enabled() {
		return Todo{}, ErrDisabled
	}
	body, err := json.Marshal(in)
	if err != nil {
		return Todo{}, err
	}
	data, err := c.do(ctx, http.MethodPut, taskPath(taskID), body)
	if err != nil {
		return Todo{}, err
	}
	var out Todo
	if err := json.Unmarshal(data, &out); err != nil {
		return Todo{}, fmt.Errorf("todo: decode updated task %d: %w", taskID, err)
	}
	if out.TaskID == 0 {
		out.TaskID = taskID
	}
	appLog.Info("todo updated", "task_id", taskID)
	return out, nil
}

// Delete removes a task.
func (c *Client) Delete(ctx context.Context, taskID int) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	_, err := c.do(ctx, http.MethodDelete, taskPath(taskID), nil)
	if err != nil {
		return err
	}
	appLog.Info("todo deleted", "task_id", taskID)
	return nil
}

func taskPath(taskID int) string {
	return "/todo/todos/task/" + strconv.Itoa(taskID) + "/"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers() {
		req.Header[k] = vs
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("todo: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// decodeList accepts a bare array or a paginated {"results": [...]} body.
// Items that do not decode are skipped with a warning so one malformed
// todo does not hide the rest of the month.
func decodeList(body []byte) ([]Todo, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	} else {
		var page struct {
			Results []json.RawMessage `json:"results"`
			Todos   []json.RawMessage `json:"todos"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, err
		}
		items = page.Results
		if items == nil {
			items = page.Todos
		}
	}

	todos := make([]Todo, 0, len(items))
	for i, raw := range items {
		var t Todo
		if err := json.Unmarshal(raw, &t); err != nil {
			appLog.Warn("todo skipped: malformed item", "index", i, "err", err)
			continue
		}
		todos = append(todos, t)
	}
	return todos, nil
}
