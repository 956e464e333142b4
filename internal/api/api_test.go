package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/archive"
	"github.com/chatarchive/mamsync/internal/bus"
	"github.com/chatarchive/mamsync/internal/chain"
	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/ingest"
	"github.com/chatarchive/mamsync/internal/loader"
	"github.com/chatarchive/mamsync/internal/orchestrator"
	"github.com/chatarchive/mamsync/internal/roster"
	"github.com/chatarchive/mamsync/internal/status"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/worker"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

const testAccount = "me@example.org"

func testRouter(t *testing.T) (*gin.Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zap.NewNop()
	b := bus.New()
	registry := chat.NewRegistry(db)
	client := archive.NewClient(xmpp.Disconnected{}, time.Second, log)
	parser := ingest.NewParser(nil, nil, log)
	saver := ingest.NewSaver(db, b, registry, log)
	healer := chain.NewHealer(db, client, parser, saver, 50, 5, log)
	ld := loader.New(db, client, parser, saver, healer, registry, b, 50, 30, log)
	tracker := status.NewTracker(b)
	contacts := roster.NewStatic()
	orch := orchestrator.New(db, client, parser, saver, registry, contacts, tracker, b, 50, 2, log)
	pool := worker.NewPool(2, 16)
	t.Cleanup(pool.Stop)

	return NewRouter(
		NewAccountService(db, orch, tracker, contacts, pool, log),
		NewHistoryService(ld, registry, pool),
		NewMessageService(db, saver, registry),
	), db
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusUnknownAccount(t *testing.T) {
	r, _ := testRouter(t)
	w := do(t, r, http.MethodGet, "/v1/accounts/"+testAccount+"/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["phase"] != string(status.Idle) {
		t.Fatalf("phase = %v", resp["phase"])
	}
}

func TestStatusRejectsBadJID(t *testing.T) {
	r, _ := testRouter(t)
	w := do(t, r, http.MethodGet, "/v1/accounts/not-a-jid/status", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestOpenChatIsAccepted(t *testing.T) {
	r, _ := testRouter(t)
	w := do(t, r, http.MethodPost, "/v1/accounts/"+testAccount+"/chats/peer@example.org/open", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestSetLoadHistory(t *testing.T) {
	r, db := testRouter(t)
	w := do(t, r, http.MethodPut, "/v1/accounts/"+testAccount+"/load-history",
		`{"setting":"current"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	acc, _ := db.GetAccount(testAccount)
	if acc.LoadHistory != store.LoadHistoryCurrent {
		t.Fatalf("setting = %q", acc.LoadHistory)
	}

	w = do(t, r, http.MethodPut, "/v1/accounts/"+testAccount+"/load-history",
		`{"setting":"everything"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUpdatePrefsWhileDisconnected(t *testing.T) {
	r, _ := testRouter(t)
	w := do(t, r, http.MethodPut, "/v1/accounts/"+testAccount+"/prefs",
		`{"default":"always"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPut, "/v1/accounts/"+testAccount+"/prefs",
		`{"default":"sometimes"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListMessages(t *testing.T) {
	r, db := testRouter(t)
	cursor := "c1"
	if err := db.InsertMessage(&store.Message{
		ID: "m1", Account: testAccount, Peer: "peer@example.org",
		Body: "hello", Timestamp: 1000, Incoming: true, Read: true,
		FromArchive: true, ArchiveCursor: &cursor,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	w := do(t, r, http.MethodGet,
		"/v1/accounts/"+testAccount+"/chats/peer@example.org/messages?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Items []struct {
			ID            string `json:"id"`
			Body          string `json:"body"`
			ArchiveCursor string `json:"archive_cursor"`
		} `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Body != "hello" || resp.Items[0].ArchiveCursor != "c1" {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestComposeStoresOutgoing(t *testing.T) {
	r, db := testRouter(t)

	w := do(t, r, http.MethodPost,
		"/v1/accounts/"+testAccount+"/chats/peer@example.org/messages",
		`{"body":"on my way"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID       string `json:"id"`
		OriginID string `json:"origin_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.OriginID == "" {
		t.Fatalf("response = %+v", resp)
	}

	m, err := db.GetMessage(resp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Incoming || m.Sent || m.Body != "on my way" {
		t.Fatalf("stored = %+v", m)
	}

	// Empty body is rejected before anything is stored.
	w = do(t, r, http.MethodPost,
		"/v1/accounts/"+testAccount+"/chats/peer@example.org/messages", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", w.Code)
	}
}

func TestSetRosterSchedulesSync(t *testing.T) {
	r, db := testRouter(t)
	w := do(t, r, http.MethodPut, "/v1/accounts/"+testAccount+"/roster",
		`[{"jid":"x@example.org"},{"jid":"room@conference.example.org","group":true}]`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	// The scheduled sync creates the account record even though the
	// transport is disconnected.
	deadline := time.Now().Add(time.Second)
	for {
		acc, _ := db.GetAccount(testAccount)
		if acc != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sync never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
