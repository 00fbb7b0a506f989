package model

import "encoding/json"

// Entity types carried by the ops queue and the sync protocol.
const (
	EntityTask  = "task"
	EntityNote  = "note"
	EntityLink  = "link"
	EntityInbox = "inbox"
	EntityMeta  = "meta"
	EntityPlan  = "plan"
)

// Op types.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Outbox statuses.
const (
	OpPending = "pending"
	OpAcked   = "acked"
)

// SyncableEntityTypes is the closed set of entity types the protocol
// understands. Ops for anything else are dropped from the queue without
// transmission so a future client cannot wedge the outbox.
var SyncableEntityTypes = map[string]bool{
	EntityTask:  true,
	EntityNote:  true,
	EntityLink:  true,
	EntityInbox: true,
	EntityMeta:  true,
	EntityPlan:  true,
}

// Op is the wire envelope for one pending mutation. Payload is the full
// entity snapshot taken at enqueue time, or a bare {updatedAt} marker for
// deletes.
type Op struct {
	OpID       string          `json:"opId"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	OpType     string          `json:"opType"`
	Payload    json.RawMessage `json:"payload"`
}

// QueuedOp is an Op as stored in the local outbox.
type QueuedOp struct {
	Op
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// DeleteMarker is the payload of a delete op: just the timestamp the
// deletion should carry through conflict resolution.
type DeleteMarker struct {
	UpdatedAt string `json:"updatedAt"`
}

// PushResponse is the remote authority's answer to a push: the op-ids it
// received and evaluated, safe to drop from the outbox.
type PushResponse struct {
	Acked []string `json:"acked"`
}

// PullResponse carries every row the remote considers newer than the
// client's cursor, one array per table, plus the next cursor.
//
// InboxItemsCamel and Settings are accepted aliases kept for compatibility
// across client versions; the normalizer folds them into the canonical
// fields.
type PullResponse struct {
	Tasks           []Row  `json:"tasks"`
	Notes           []Row  `json:"notes"`
	Links           []Row  `json:"links"`
	Plans           []Row  `json:"plans,omitempty"`
	InboxItems      []Row  `json:"inbox_items,omitempty"`
	InboxItemsCamel []Row  `json:"inboxItems,omitempty"`
	Meta            []Row  `json:"meta,omitempty"`
	Settings        []Row  `json:"settings,omitempty"`
	NewCursor       string `json:"newCursor"`
}

// AllInboxItems returns the inbox rows regardless of which field name the
// server used.
func (p *PullResponse) AllInboxItems() []Row {
	if len(p.InboxItems) > 0 {
		return p.InboxItems
	}
	return p.InboxItemsCamel
}

// AllMeta returns the meta rows regardless of which field name the server
// used.
func (p *PullResponse) AllMeta() []Row {
	if len(p.Meta) > 0 {
		return p.Meta
	}
	return p.Settings
}
