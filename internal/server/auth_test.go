package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cradle/internal/config"
	"cradle/internal/db"
	"cradle/internal/domain"
	"cradle/internal/engine"
	"cradle/internal/events"
	"cradle/internal/migrate"
	"cradle/internal/store"
)

func newAuthTestServer(t *testing.T, auth AuthConfig) (*testServer, *store.Store, func()) {
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
	}
	cleanup := func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	}
	return testSrv, st, cleanup
}

func TestBearerAuth(t *testing.T) {
	secret := "test-secret"
	srv, _, cleanup := newAuthTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	claims := jwt.RegisteredClaims{
		Subject:   "parent-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authorized status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d, want 401", res.StatusCode)
	}

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders", nil, map[string]string{
		"Authorization": "Bearer " + wrong,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret status %d, want 401", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, st, cleanup := newAuthTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	secret := uuid.New().String()
	err := st.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      uuid.New().String(),
		ActorID: "parent-1",
		Name:    "test key",
		KeyHash: store.HashAPIKey(secret),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders", nil, map[string]string{
		"X-Api-Key": secret,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reminders", nil, map[string]string{
		"X-Api-Key": "wrong",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status %d, want 401", res.StatusCode)
	}
}
