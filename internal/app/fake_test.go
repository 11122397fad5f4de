package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tillbook/api/internal/auth"
	"tillbook/api/internal/config"
	"tillbook/api/internal/email"
	"tillbook/api/internal/session"
	"tillbook/api/internal/store"
)

var errRemoteDown = errors.New("remote unavailable")

// memoryDocs is an in-memory remote store. Batches are applied to a copy,
// so a failing batch leaves nothing behind.
type memoryDocs struct {
	mu    sync.Mutex
	users map[string]store.Snapshot

	fetchErr error
	writeErr error
	pingErr  error
}

func newMemoryDocs() *memoryDocs {
	return &memoryDocs{users: make(map[string]store.Snapshot)}
}

func (m *memoryDocs) snapshot(userID string) store.Snapshot {
	if s, ok := m.users[userID]; ok {
		return s
	}
	return store.NewSnapshot()
}

func (m *memoryDocs) records(userID string, c store.Collection) []store.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Document{}, m.snapshot(userID)[c]...)
}

func (m *memoryDocs) setFailing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *memoryDocs) FetchCollection(_ context.Context, userID string, c store.Collection) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	docs := m.snapshot(userID)[c]
	out := make([]store.Document, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		out = append(out, docs[i].Clone())
	}
	return out, nil
}

func (m *memoryDocs) SetDocument(ctx context.Context, userID string, c store.Collection, doc store.Document) error {
	var b store.Batch
	b.Set(c, doc)
	return m.ApplyBatch(ctx, userID, b)
}

func (m *memoryDocs) MergeDocument(ctx context.Context, userID string, c store.Collection, id string, patch store.Document) error {
	var b store.Batch
	b.Merge(c, id, patch)
	return m.ApplyBatch(ctx, userID, b)
}

func (m *memoryDocs) DeleteDocument(ctx context.Context, userID string, c store.Collection, id string) error {
	var b store.Batch
	b.Delete(c, id)
	return m.ApplyBatch(ctx, userID, b)
}

func (m *memoryDocs) ApplyBatch(_ context.Context, userID string, b store.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	next, err := b.ApplyToSnapshot(m.snapshot(userID))
	if err != nil {
		return err
	}
	m.users[userID] = next
	return nil
}

func (m *memoryDocs) HasDocuments(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return false, m.fetchErr
	}
	return m.snapshot(userID).Count() > 0, nil
}

func (m *memoryDocs) Ping(context.Context) error {
	return m.pingErr
}

// fakeIdentity accepts "good-<subject>" tokens.
type fakeIdentity struct{}

func (fakeIdentity) Verify(token string) (auth.Identity, error) {
	subject, ok := bytes.CutPrefix([]byte(token), []byte("good-"))
	if !ok || len(subject) == 0 {
		return auth.Identity{}, auth.ErrInvalidIdentity
	}
	return auth.Identity{Subject: string(subject), Email: string(subject) + "@example.com", Name: "Test " + string(subject)}, nil
}

// fakeMailer records sent messages.
type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) Send(msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestService(t *testing.T, docs *memoryDocs, configure ...func(*Deps)) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := Deps{
		Docs:     docs,
		Ping:     docs.Ping,
		Sessions: session.NewRedisStoreWithClient(client),
		Identity: fakeIdentity{},
		Slots:    MemorySlots(),
	}
	for _, fn := range configure {
		fn(&deps)
	}
	svc := New(config.Config{SessionSecret: "test-secret", ExportLocale: "en-US"}, deps)
	t.Cleanup(svc.Close)
	return svc
}

func newTestServer(t *testing.T, configure ...func(*Deps)) (*HTTPServer, *memoryDocs) {
	t.Helper()
	docs := newMemoryDocs()
	return NewHTTPServer(newTestService(t, docs, configure...), "*"), docs
}

// login returns a session token for subject.
func login(t *testing.T, server *HTTPServer, subject string) string {
	t.Helper()
	rr := doRequest(t, server, http.MethodPost, "/api/session", "", `{"idToken":"good-`+subject+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("login: expected token")
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}
