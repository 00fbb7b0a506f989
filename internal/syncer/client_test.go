package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"organiza/internal/config"
	"organiza/internal/lww"
	"organiza/internal/model"
	"organiza/internal/server"
	"organiza/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := server.OpenStore(filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("open remote store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	srv := server.NewServer("", st, testLogger())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func newDevice(t *testing.T, baseURL string) (*store.Store, *Client) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Seed(context.Background(), "user-a"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.UserID = "user-a"
	return st, NewClient(st, cfg, testLogger(), nil)
}

func TestManualSyncWithoutAPIReportsConfig(t *testing.T) {
	_, client := newDevice(t, "")

	if err := client.Sync(context.Background(), true); err != ErrNoAPI {
		t.Fatalf("manual sync error = %v, want ErrNoAPI", err)
	}
	if err := client.Sync(context.Background(), false); err != nil {
		t.Fatalf("background sync without API should be a no-op, got %v", err)
	}
}

func TestSyncCollapsesWhenCycleInFlight(t *testing.T) {
	remote := newRemote(t)
	_, client := newDevice(t, remote.URL)

	client.inFlight.Store(true)
	if err := client.Sync(context.Background(), true); err != nil {
		t.Fatalf("overlapping sync = %v, want nil", err)
	}
	client.inFlight.Store(false)
}

func TestPushDrainsOutboxAndSecondDevicePulls(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)

	stA, clientA := newDevice(t, remote.URL)
	task, err := stA.CreateTask(ctx, "Comprar pão", "2024-03-01")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := clientA.Sync(ctx, true); err != nil {
		t.Fatalf("device A sync: %v", err)
	}

	pending, err := stA.PendingOps(ctx)
	if err != nil {
		t.Fatalf("pending ops: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("outbox after sync has %d ops, want 0", len(pending))
	}

	stB, clientB := newDevice(t, remote.URL)
	if err := clientB.Sync(ctx, true); err != nil {
		t.Fatalf("device B sync: %v", err)
	}
	got, err := stB.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("device B missing task: %v", err)
	}
	if got.Title != "Comprar pão" {
		t.Fatalf("title = %q", got.Title)
	}

	cursor, err := stB.Cursor(ctx)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor == lww.Epoch || cursor == "" {
		t.Fatalf("cursor did not advance: %q", cursor)
	}
}

func TestPushDropsUnsupportedEntityTypesWithoutTransmitting(t *testing.T) {
	ctx := context.Background()

	var sawPush bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", func(w http.ResponseWriter, r *http.Request) {
		sawPush = true
		var ops []model.Op
		if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		for _, op := range ops {
			if !model.SyncableEntityTypes[op.EntityType] {
				t.Errorf("unsupported type %q was transmitted", op.EntityType)
			}
		}
		json.NewEncoder(w).Encode(model.PushResponse{Acked: nil})
	})
	mux.HandleFunc("GET /sync/pull", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.PullResponse{NewCursor: lww.Now()})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st, client := newDevice(t, ts.URL)

	// Simulate an op written by a future client version.
	db, err := sql.Open("sqlite3", "file:"+st.Path())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, `
		INSERT INTO ops_queue (op_id, entity_type, entity_id, op_type, payload, status, created_at)
		VALUES ('op-future', 'habit', 'h1', 'create', '{}', 'pending', ?)`, lww.Now())
	if err != nil {
		t.Fatalf("insert op: %v", err)
	}

	if err := client.Sync(ctx, true); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sawPush {
		t.Fatal("push request was sent for a queue holding only unsupported ops")
	}
	pending, err := st.PendingOps(ctx)
	if err != nil {
		t.Fatalf("pending ops: %v", err)
	}
	for _, op := range pending {
		if op.OpID == "op-future" {
			t.Fatal("unsupported op still queued after sync")
		}
	}
}

func TestFailedPullLeavesCursorUntouched(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.PushResponse{})
	})
	mux.HandleFunc("GET /sync/pull", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"db indisponivel"}`, http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st, client := newDevice(t, ts.URL)
	before, err := st.Cursor(ctx)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}

	err = client.Sync(ctx, true)
	if err == nil {
		t.Fatal("sync succeeded against failing pull endpoint")
	}
	if got := err.Error(); got != "Pull falhou (500): db indisponivel" {
		t.Fatalf("error = %q", got)
	}

	after, err := st.Cursor(ctx)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if after != before {
		t.Fatalf("cursor moved on failed pull: %q -> %q", before, after)
	}
}

func TestPushErrorIncludesStatusAndMessage(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Payload must be an array."}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st, client := newDevice(t, ts.URL)
	if _, err := st.CreateTask(ctx, "tarefa", "2024-03-01"); err != nil {
		t.Fatalf("create task: %v", err)
	}

	err := client.Sync(ctx, true)
	if err == nil {
		t.Fatal("sync succeeded against failing push endpoint")
	}
	if got := err.Error(); got != "Push falhou (400): Payload must be an array." {
		t.Fatalf("error = %q", got)
	}
}

func TestFailedPushLeavesOpsQueued(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st, client := newDevice(t, ts.URL)
	if _, err := st.CreateTask(ctx, "tarefa", "2024-03-01"); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := client.Sync(ctx, true); err == nil {
		t.Fatal("sync succeeded against failing push endpoint")
	}
	pending, err := st.PendingOps(ctx)
	if err != nil {
		t.Fatalf("pending ops: %v", err)
	}
	if len(pending) == 0 {
		t.Fatal("ops dropped after failed push")
	}
}

func TestDeleteSyncsAcrossDevices(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)

	stA, clientA := newDevice(t, remote.URL)
	stB, clientB := newDevice(t, remote.URL)

	task, err := stA.CreateTask(ctx, "efêmera", "2024-03-01")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := clientA.Sync(ctx, true); err != nil {
		t.Fatalf("A sync: %v", err)
	}
	if err := clientB.Sync(ctx, true); err != nil {
		t.Fatalf("B sync: %v", err)
	}
	if _, err := stB.GetTask(ctx, task.ID); err != nil {
		t.Fatalf("task did not reach B: %v", err)
	}

	// Cursor stamps have millisecond precision and the delta filter is a
	// strict greater-than, so the tombstone must land in a later
	// millisecond than the cursor B just received.
	time.Sleep(5 * time.Millisecond)

	if err := stA.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := clientA.Sync(ctx, true); err != nil {
		t.Fatalf("A sync after delete: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := clientB.Sync(ctx, true); err != nil {
		t.Fatalf("B sync after delete: %v", err)
	}
	if _, err := stB.GetTask(ctx, task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("task still on B after delete sync: err = %v", err)
	}
}

func TestSettingsMetaRoundTrips(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)

	stA, clientA := newDevice(t, remote.URL)
	stB, clientB := newDevice(t, remote.URL)

	if err := stA.UpdateRoutine(ctx, store.RoutineUpdate{WakeTime: strPtr("05:45")}); err != nil {
		t.Fatalf("update routine: %v", err)
	}
	if err := clientA.Sync(ctx, true); err != nil {
		t.Fatalf("A sync: %v", err)
	}
	if err := clientB.Sync(ctx, true); err != nil {
		t.Fatalf("B sync: %v", err)
	}

	got, err := stB.GetMeta(ctx, model.MetaWakeTime)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if got != "05:45" {
		t.Fatalf("wakeTime on B = %q, want 05:45", got)
	}

	// Device identity never travels.
	devA, _ := stA.GetMeta(ctx, model.MetaDeviceID)
	devB, _ := stB.GetMeta(ctx, model.MetaDeviceID)
	if devA == devB {
		t.Fatal("device ids converged through sync")
	}
}

func TestReadResponseErrorFallbackChain(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"json error field", 500, `{"error":"quebrou"}`, "quebrou"},
		{"json message field", 500, `{"message":"sem detalhes"}`, "sem detalhes"},
		{"plain text body", 502, "gateway morto", "gateway morto"},
		{"empty body", 503, "", "Service Unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tc.status,
				Body:       io.NopCloser(strings.NewReader(tc.body)),
			}
			if got := readResponseError(resp); got != tc.want {
				t.Fatalf("readResponseError = %q, want %q", got, tc.want)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
