// Package item implements the in-memory item graph (spec §4.5): Items
// built from decrypted Payloads, the Model Manager that maps payloads
// into the graph and keeps the inverse-reference index consistent, and
// the singleton resolver for content-types with at most one valid
// instance.
package item

import (
	"time"

	"github.com/and161185/gokeeper-core/internal/payload"
)

// Item is the decrypted, graph-aware view of one payload: the vehicle
// consumers of the item graph (UI, sync engine) actually work with.
// Value fields mirror the underlying Payload; Item adds only the dummy
// flag, which the Payload model has no notion of.
type Item struct {
	p *payload.Payload

	// dummy is true for a placeholder created because some other item's
	// references named this uuid before the real payload arrived. It is
	// cleared the moment the real payload is mapped in (spec §4.5:
	// "dummy items ... are promoted when the real payload arrives").
	dummy bool
}

// newItem wraps p as a non-dummy Item.
func newItem(p *payload.Payload) *Item {
	return &Item{p: p}
}

// newDummyItem creates a placeholder Item for uuid: an empty payload that
// carries no content and is never itself synced or persisted until a real
// payload for this uuid arrives and promotes it.
func newDummyItem(uuid string) *Item {
	return &Item{p: payload.New(uuid, "", nil, payload.NewFieldSet(payload.FieldUUID)), dummy: true}
}

// UUID returns the item's stable identity.
func (i *Item) UUID() string { return i.p.UUID() }

// ContentType returns the content-type discriminator.
func (i *Item) ContentType() string { return i.p.ContentType() }

// Content returns the decrypted content object.
func (i *Item) Content() any { return i.p.Content() }

// Deleted reports the tombstone flag.
func (i *Item) Deleted() bool { return i.p.Deleted() }

// Dirty reports unsynced local mutation.
func (i *Item) Dirty() bool { return i.p.Dirty() }

// ErrorDecrypting reports a failed decrypt on the underlying payload.
func (i *Item) ErrorDecrypting() bool { return i.p.ErrorDecrypting() }

// WaitingForKey reports that this item's payload is deferred on a missing
// items-key.
func (i *Item) WaitingForKey() bool { return i.p.WaitingForKey() }

// CreatedAt returns the server-assigned creation instant.
func (i *Item) CreatedAt() time.Time { return i.p.CreatedAt() }

// References returns the item's outbound references, or nil for any
// content not shaped as a decrypted bare object.
func (i *Item) References() []payload.Reference { return i.p.References() }

// IsDummy reports whether this is an unresolved reference placeholder.
func (i *Item) IsDummy() bool { return i.dummy }

// Payload returns the underlying Payload this item was built from.
func (i *Item) Payload() *payload.Payload { return i.p }
