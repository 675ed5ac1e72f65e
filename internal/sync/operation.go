package sync

import "github.com/and161185/gokeeper-core/internal/payload"

// Kind distinguishes the two operations spec §4.8 step 2 can spawn.
type Kind string

const (
	// KindAccount drives the full network round loop against Transport.
	KindAccount Kind = "account"
	// KindOffline never contacts the server: its payloads were already
	// given pre-sync-save durability, so the operation only needs to
	// report completion without a round loop.
	KindOffline Kind = "offline"
)

// Operation is the spawned unit of work for one sync cycle: a queue of
// already-encrypted payloads popped upLimit at a time (spec §4.8 step 3).
type Operation struct {
	kind     Kind
	pending  []*payload.Payload
	uploaded int
}

// NewAccountOperation wraps pending for online upload.
func NewAccountOperation(pending []*payload.Payload) *Operation {
	return &Operation{kind: KindAccount, pending: pending}
}

// NewOfflineOperation wraps pending for a signed-out/offline cycle: the
// payloads were persisted by the pre-sync save step and there is nothing
// left to upload.
func NewOfflineOperation(pending []*payload.Payload) *Operation {
	return &Operation{kind: KindOffline, pending: pending}
}

// Kind reports which operation this is.
func (o *Operation) Kind() Kind { return o.kind }

// PendingUploadCount returns how many payloads remain queued. Named to
// match the corrected spelling of the legacy source's
// operaiton.pendingUploadCount() (spec §9 Open Questions).
func (o *Operation) PendingUploadCount() int { return len(o.pending) }

// UploadedCount returns how many payloads have been popped across every
// round so far in this operation's lifetime.
func (o *Operation) UploadedCount() int { return o.uploaded }

// PopBatch removes and returns up to limit payloads from the front of the
// queue, preserving order.
func (o *Operation) PopBatch(limit int) []*payload.Payload {
	if limit <= 0 || len(o.pending) == 0 {
		return nil
	}
	if limit > len(o.pending) {
		limit = len(o.pending)
	}
	batch := o.pending[:limit]
	o.pending = o.pending[limit:]
	o.uploaded += limit
	return batch
}
