// Package sync implements the Sync Engine (spec §4.8-§4.9, §5-§6): the
// multi-round upload/download operation, its two-queue serialization of
// concurrent callers, the response resolver, integrity tracking, and
// out-of-sync recovery. Persistent storage and HTTP transport are external
// collaborators, consumed here only through the Store and Transport
// interfaces.
package sync

import (
	"context"

	"github.com/and161185/gokeeper-core/internal/payload"
)

// Reserved Store keys (spec §6).
const (
	KeyLastSyncToken   = "LAST_SYNC_TOKEN"
	KeyPaginationToken = "PAGINATION_TOKEN"
)

// Request is one HTTP sync round (spec §6's literal wire shape, translated
// to domain types at the boundary: Items carries Payload.Ejected() worth of
// data, but stays a Payload here so a Transport implementation can choose
// its own wire encoding).
type Request struct {
	Items            []*payload.Payload
	SyncToken        string
	CursorToken      string
	Limit            int
	ComputeIntegrity bool
}

// Response is one HTTP sync round's reply (spec §6).
type Response struct {
	RetrievedItems []*payload.Payload
	SavedItems     []*payload.Payload
	Conflicts      []*payload.Payload
	SyncToken      string
	CursorToken    string
	IntegrityHash  string
}

// Transport is the external HTTP collaborator (spec §1 "out of scope").
// A 401 must surface as an error satisfying errors.Is(err, errs.ErrAuthFailure);
// any other non-auth failure as errs.ErrTransport.
type Transport interface {
	PostSync(ctx context.Context, req Request) (Response, error)
}

// Store is the external persistent-store collaborator (spec §6
// "Persistent store interface (consumed, not defined here)").
type Store interface {
	GetAllRawPayloads(ctx context.Context) ([]*payload.Payload, error)
	SavePayloads(ctx context.Context, payloads []*payload.Payload) error
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	RemoveValue(ctx context.Context, key string) error
}
