// Package syncer implements the push/pull client that moves local outbox
// entries to the remote authority and folds remote deltas back into the
// local store.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"organiza/internal/config"
	"organiza/internal/model"
	"organiza/internal/store"
)

// ErrNoAPI is returned from manual syncs when no remote base URL is
// configured. Background runs treat the same condition as local-only mode
// and stay silent.
var ErrNoAPI = errors.New("Sync API nao configurada.")

// Notifier receives sync lifecycle events. The live feed hub implements
// it; a nil Notifier disables event publishing.
type Notifier interface {
	Publish(event string, data map[string]any)
}

// Client performs one push/pull cycle at a time against the remote
// authority. It is safe for concurrent use; overlapping Sync calls
// collapse into the one already in flight.
type Client struct {
	store    *store.Store
	cfg      *config.Config
	http     *http.Client
	logger   *slog.Logger
	notifier Notifier
	inFlight atomic.Bool
}

func NewClient(st *store.Store, cfg *config.Config, logger *slog.Logger, notifier Notifier) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:    st,
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Sync.Timeout()},
		logger:   logger,
		notifier: notifier,
	}
}

// Sync runs one full push then pull cycle. If another cycle is already in
// flight the call returns immediately with no error. Manual runs report a
// missing API configuration; background runs treat it as local-only mode.
func (c *Client) Sync(ctx context.Context, manual bool) error {
	if c.cfg.API.BaseURL == "" {
		if manual {
			return ErrNoAPI
		}
		return nil
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer c.inFlight.Store(false)

	c.publish("sync_started", map[string]any{"manual": manual})

	if err := c.push(ctx); err != nil {
		c.publish("sync_failed", map[string]any{"stage": "push", "error": err.Error()})
		return err
	}
	if err := c.pull(ctx); err != nil {
		c.publish("sync_failed", map[string]any{"stage": "pull", "error": err.Error()})
		return err
	}
	return nil
}

// push drains the outbox. Ops for entity types outside the protocol are
// deleted from the queue without being transmitted, so a queue written by
// a newer client version cannot wedge sync.
func (c *Client) push(ctx context.Context) error {
	pending, err := c.store.PendingOps(ctx)
	if err != nil {
		return err
	}

	ops := make([]model.Op, 0, len(pending))
	var unsupported []string
	for _, q := range pending {
		if model.SyncableEntityTypes[q.EntityType] {
			ops = append(ops, q.Op)
		} else {
			unsupported = append(unsupported, q.OpID)
		}
	}
	if len(unsupported) > 0 {
		c.logger.Warn("dropping unsupported outbox entries", "count", len(unsupported))
		if err := c.store.DeleteOps(ctx, unsupported); err != nil {
			return err
		}
	}
	if len(ops) == 0 {
		return nil
	}

	body, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API.BaseURL+"/sync/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-user-id", c.userID(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Push falhou (%d): %s", resp.StatusCode, readResponseError(resp))
	}

	var result model.PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if len(result.Acked) > 0 {
		if err := c.store.DeleteOps(ctx, result.Acked); err != nil {
			return err
		}
	}
	c.logger.Debug("push complete", "sent", len(ops), "acked", len(result.Acked))
	c.publish("push_complete", map[string]any{"sent": len(ops), "acked": len(result.Acked)})
	return nil
}

// pull fetches every row newer than the local cursor and applies it. The
// cursor only advances after every table applied cleanly, so a failed pull
// is retried from the same position.
func (c *Client) pull(ctx context.Context) error {
	if err := c.store.BootstrapPlans(ctx); err != nil {
		return err
	}

	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.API.BaseURL+"/sync/pull?cursor="+url.QueryEscape(cursor), nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-user-id", c.userID(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Pull falhou (%d): %s", resp.StatusCode, readResponseError(resp))
	}

	var delta model.PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		return err
	}

	counts := map[string]any{}

	tasks := make([]model.Task, 0, len(delta.Tasks))
	for _, row := range delta.Tasks {
		tasks = append(tasks, model.NormalizeTask(row))
	}
	if counts["tasks"], err = c.store.ApplyRemoteTasks(ctx, tasks); err != nil {
		return err
	}

	notes := make([]model.Note, 0, len(delta.Notes))
	for _, row := range delta.Notes {
		notes = append(notes, model.NormalizeNote(row))
	}
	if counts["notes"], err = c.store.ApplyRemoteNotes(ctx, notes); err != nil {
		return err
	}

	links := make([]model.Link, 0, len(delta.Links))
	for _, row := range delta.Links {
		links = append(links, model.NormalizeLink(row))
	}
	if counts["links"], err = c.store.ApplyRemoteLinks(ctx, links); err != nil {
		return err
	}

	inbox := make([]model.InboxItem, 0)
	for _, row := range delta.AllInboxItems() {
		inbox = append(inbox, model.NormalizeInboxItem(row))
	}
	if counts["inbox"], err = c.store.ApplyRemoteInboxItems(ctx, inbox); err != nil {
		return err
	}

	plans := make([]model.Plan, 0, len(delta.Plans))
	for _, row := range delta.Plans {
		plans = append(plans, model.NormalizePlan(row))
	}
	if counts["plans"], err = c.store.ApplyRemotePlans(ctx, plans); err != nil {
		return err
	}

	meta := make([]model.MetaItem, 0)
	for _, row := range delta.AllMeta() {
		meta = append(meta, model.NormalizeMetaItem(row))
	}
	if counts["meta"], err = c.store.ApplyRemoteMeta(ctx, meta); err != nil {
		return err
	}

	if delta.NewCursor != "" {
		if err := c.store.SetCursor(ctx, delta.NewCursor); err != nil {
			return err
		}
	}
	c.logger.Debug("pull complete", "cursor", delta.NewCursor)
	counts["cursor"] = delta.NewCursor
	c.publish("pull_complete", counts)
	return nil
}

// Health probes the remote health endpoint. Used by the daemon to detect
// connectivity recovery after a failed cycle.
func (c *Client) Health(ctx context.Context) bool {
	if c.cfg.API.BaseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.API.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (c *Client) userID(ctx context.Context) string {
	if id, err := c.store.GetMeta(ctx, model.MetaUserID); err == nil && id != "" {
		return id
	}
	if c.cfg.API.UserID != "" {
		return c.cfg.API.UserID
	}
	return "shared-user"
}

func (c *Client) publish(event string, data map[string]any) {
	if c.notifier != nil {
		c.notifier.Publish(event, data)
	}
}

// readResponseError digs a human-readable message out of an error
// response: a JSON error or message field, then the raw body, then the
// status text.
func readResponseError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			if payload.Error != "" {
				return payload.Error
			}
			if payload.Message != "" {
				return payload.Message
			}
		}
		if text := strings.TrimSpace(string(body)); text != "" {
			return text
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
