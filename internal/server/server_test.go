package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"cradle/internal/config"
	"cradle/internal/db"
	"cradle/internal/engine"
	"cradle/internal/events"
	"cradle/internal/migrate"
	"cradle/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := store.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	e := engine.New(st, events.Writer{DB: conn}, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reminders", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func TestReminderLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowAnonymous: true})
	defer cleanup()
	client := srv.Client()

	due := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
		"title":    "evening feed",
		"category": "feeding",
		"due_at":   due,
		"rule":     "daily",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ReminderResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" || !created.Repeats {
		t.Fatalf("created = %+v", created)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []ReminderResponse
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("listed = %+v", listed)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders/"+created.ID+"/done", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("done status %d: %s", res.StatusCode, string(data))
	}
	var completed CompleteReminderResponse
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if !completed.Completed.Completed {
		t.Fatal("record should be terminal")
	}
	if completed.Successor == nil {
		t.Fatal("daily reminder should return a successor")
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/reminders/"+completed.Successor.ID, nil, nil)
	if res.StatusCode >= 300 {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
}

func TestRescheduleAndDue(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowAnonymous: true})
	defer cleanup()
	client := srv.Client()

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
		"title":  "vaccine booster",
		"due_at": past,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ReminderResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders/due", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due status %d: %s", res.StatusCode, string(data))
	}
	var due []ReminderResponse
	if err := json.Unmarshal(data, &due); err != nil {
		t.Fatalf("unmarshal due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %+v, want 1", due)
	}

	future := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders/"+created.ID+"/reschedule", map[string]any{
		"due_at": future,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reschedule status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders/due", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due status %d: %s", res.StatusCode, string(data))
	}
	due = nil
	if err := json.Unmarshal(data, &due); err != nil {
		t.Fatalf("unmarshal due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due after reschedule = %+v, want none", due)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowAnonymous: true})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing reminder status %d, want 404", res.StatusCode)
	}

	due := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
		"title":  "bad rule",
		"due_at": due,
		"rule":   "hourly",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad rule status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}

	// Updating a terminal record conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
		"title":  "one shot",
		"due_at": due,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ReminderResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders/"+created.ID+"/done", map[string]any{}, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("done status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reminders/"+created.ID, map[string]any{
		"title": "renamed",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("patch terminal status %d, want 409", res.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowAnonymous: true})
	defer cleanup()
	client := srv.Client()

	due := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	for _, title := range []string{"a", "b"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reminders", map[string]any{
			"title":  title,
			"due_at": due,
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=reminder.created", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("events = %d, want 2", len(page.Items))
	}
	if page.Items[0].ID < page.Items[1].ID {
		t.Fatal("events should be newest first")
	}
}
