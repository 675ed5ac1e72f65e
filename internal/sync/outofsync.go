package sync

import (
	"context"

	"github.com/and161185/gokeeper-core/internal/payload"
)

// resolveOutOfSync implements spec §4.9: download every server payload,
// merge it against the current local snapshot via DeltaOutOfSync, map and
// persist the result, then run one more cycle with integrity checking on.
// Called from inside an already-running cycle (checkIntegrityRound), so it
// drives runCycle directly rather than going back through the serialized
// Sync entry point.
func (e *Engine) resolveOutOfSync(ctx context.Context) error {
	downloaded, err := e.downloadAll(ctx)
	if err != nil {
		return err
	}

	base := e.itemsSnapshot()
	apply := payload.NewCollection(payload.SourceRemoteRetrieved, downloaded...)
	resolved, err := payload.DeltaOutOfSync(base, apply)
	if err != nil {
		return err
	}

	mapped := resolved.All()
	e.items.MapPayloadsToLocalItems(mapped)
	if err := e.store.SavePayloads(ctx, mapped); err != nil {
		return err
	}

	return e.runCycle(ctx, true)
}

// downloadAll paginates through Transport, decrypting every retrieved page
// as it arrives, until the server returns an empty cursor token.
func (e *Engine) downloadAll(ctx context.Context) ([]*payload.Payload, error) {
	var all []*payload.Payload
	cursor := ""
	for {
		resp, err := e.transport.PostSync(ctx, Request{
			SyncToken:        e.syncToken,
			CursorToken:      cursor,
			Limit:            e.cfg.UpLimit,
			ComputeIntegrity: false,
		})
		if err != nil {
			return nil, err
		}
		decrypted, err := e.decryptAll(resp.RetrievedItems)
		if err != nil {
			return nil, err
		}
		all = append(all, decrypted...)
		if resp.CursorToken == "" {
			break
		}
		cursor = resp.CursorToken
	}
	return all, nil
}
