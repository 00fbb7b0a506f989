package syncer

import (
	"context"
	"testing"
	"time"
)

func TestDaemonSyncsAfterOutboxWrite(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	st, client := newDevice(t, remote.URL)

	cfg := client.cfg
	cfg.Sync.IntervalSeconds = 3600
	cfg.Sync.DebounceMs = 10

	daemon := NewDaemon(client, st, cfg, testLogger())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		daemon.Run(runCtx)
		close(done)
	}()

	// Let the startup catch-up cycle pass before writing.
	time.Sleep(50 * time.Millisecond)

	if _, err := st.CreateTask(ctx, "regar plantas", "2024-03-01"); err != nil {
		t.Fatalf("create task: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		pending, err := st.PendingOps(ctx)
		if err != nil {
			t.Fatalf("pending ops: %v", err)
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("outbox never drained, %d ops pending", len(pending))
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
}

func TestDaemonKickTriggersImmediateCycle(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	st, client := newDevice(t, remote.URL)

	cfg := client.cfg
	cfg.Sync.IntervalSeconds = 3600
	cfg.Sync.DebounceMs = 60000

	if _, err := st.CreateTask(ctx, "pagar contas", "2024-03-01"); err != nil {
		t.Fatalf("create task: %v", err)
	}

	daemon := NewDaemon(client, st, cfg, testLogger())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go daemon.Run(runCtx)

	daemon.Kick()

	deadline := time.After(5 * time.Second)
	for {
		pending, err := st.PendingOps(ctx)
		if err != nil {
			t.Fatalf("pending ops: %v", err)
		}
		if len(pending) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("kick did not drain outbox, %d ops pending", len(pending))
		case <-time.After(20 * time.Millisecond):
		}
	}
}
