package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/and161185/gokeeper-core/internal/config"
	"github.com/and161185/gokeeper-core/internal/errs"
	"github.com/and161185/gokeeper-core/internal/item"
	"github.com/and161185/gokeeper-core/internal/keys"
	"github.com/and161185/gokeeper-core/internal/obslog"
	"github.com/and161185/gokeeper-core/internal/payload"
	"github.com/and161185/gokeeper-core/internal/protocol"
)

// itemsKeyContentType mirrors keys.itemsKeyContentType: the Key Manager
// keeps it unexported since it is purely an internal routing detail there,
// but the engine needs it to decide which key a retrieved items-key item
// itself decrypts under (spec §4.3).
const itemsKeyContentType = "SN|ItemsKey"

// TimingStrategy selects how a sync request made while one is already
// running gets served (spec §5).
type TimingStrategy int

const (
	// ResolveOnNext enqueues the caller; every queued caller is resolved
	// together once the in-flight round finishes (spec default).
	ResolveOnNext TimingStrategy = iota
	// ForceSpawnNew enqueues the caller for its own dedicated round,
	// spawned immediately after the in-flight one ends.
	ForceSpawnNew
)

type pendingCall struct {
	ctx             context.Context
	checkIntegrity  bool
	done            chan error
}

// Engine is the Sync Engine (spec §4.8): it owns the operation state
// machine, the resolve/spawn queues, integrity tracking, and out-of-sync
// recovery. All item-graph mutation a sync cycle makes flows through it, per
// spec §5's "the sync engine is the only concurrency arbiter".
type Engine struct {
	transport Transport
	store     Store
	protocol  *protocol.Manager
	keys      *keys.Manager
	items     *item.Manager
	cfg       config.Sync
	log       *obslog.Logger
	bus       *eventBus

	defaultStrategy TimingStrategy

	mu                  stdsync.Mutex
	running             bool
	roundInFlight       bool
	cancelRequested     bool
	resolveQueue        []pendingCall
	spawnQueue          []pendingCall
	lastPreSyncSaveDate time.Time
	syncToken           string
	discordanceCount    int
}

// NewEngine constructs an Engine. transport may be nil: a signed-out or
// offline session still gets pre-sync-save durability via an
// OfflineSyncOperation, never a network round.
func NewEngine(transport Transport, store Store, protocolMgr *protocol.Manager, keysMgr *keys.Manager, itemsMgr *item.Manager, cfg config.Sync, log *obslog.Logger) *Engine {
	if log == nil {
		log = obslog.Nop()
	}
	return &Engine{
		transport: transport,
		store:     store,
		protocol:  protocolMgr,
		keys:      keysMgr,
		items:     itemsMgr,
		cfg:       cfg,
		log:       log,
		bus:       newEventBus(),
	}
}

// Subscribe registers fn for events of kind, returning a handle for
// Unsubscribe (spec §9: observers are multi-listener).
func (e *Engine) Subscribe(kind EventKind, fn Listener) Subscription {
	return e.bus.Subscribe(kind, fn)
}

// Unsubscribe removes a previously registered listener.
func (e *Engine) Unsubscribe(sub Subscription) {
	e.bus.Unsubscribe(sub)
}

// TryCancel requests cancellation of the running sync cycle (spec §5).
// Cancellation only takes effect between rounds: if a round is currently
// bracketed by lockCancelation/unlockCancelation, the request is rejected
// and false is returned.
func (e *Engine) TryCancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.roundInFlight {
		return false
	}
	e.cancelRequested = true
	return true
}

func (e *Engine) lockCancelation() {
	e.mu.Lock()
	e.roundInFlight = true
	e.mu.Unlock()
}

func (e *Engine) unlockCancelation() {
	e.mu.Lock()
	e.roundInFlight = false
	e.mu.Unlock()
}

// cancellationRequested consumes and reports a pending TryCancel request.
func (e *Engine) cancellationRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelRequested {
		e.cancelRequested = false
		return true
	}
	return false
}

// Sync spawns or enqueues a sync cycle using the Engine's default timing
// strategy (ResolveOnNext unless overridden by SetDefaultStrategy).
func (e *Engine) Sync(ctx context.Context, checkIntegrity bool) error {
	return e.SyncWithStrategy(ctx, checkIntegrity, e.defaultStrategy)
}

// SetDefaultStrategy changes which timing strategy Sync uses when none is
// specified explicitly.
func (e *Engine) SetDefaultStrategy(strategy TimingStrategy) {
	e.mu.Lock()
	e.defaultStrategy = strategy
	e.mu.Unlock()
}

// SyncWithStrategy implements the serialization model of spec §5: at most
// one cycle runs at a time; a caller arriving while one is in flight is
// routed by strategy into resolveQueue or spawnQueue and blocks until its
// share of the work completes.
func (e *Engine) SyncWithStrategy(ctx context.Context, checkIntegrity bool, strategy TimingStrategy) error {
	call := pendingCall{ctx: ctx, checkIntegrity: checkIntegrity, done: make(chan error, 1)}

	e.mu.Lock()
	if e.running {
		switch strategy {
		case ForceSpawnNew:
			e.spawnQueue = append(e.spawnQueue, call)
		default:
			e.resolveQueue = append(e.resolveQueue, call)
		}
		e.mu.Unlock()
		return <-call.done
	}
	e.running = true
	e.mu.Unlock()

	err := e.runCycle(ctx, checkIntegrity)
	e.drainQueues()
	return err
}

// drainQueues implements the post-round queue handling (spec §5): a
// resolveQueue snapshot taken before this loop iteration is resolved
// together with one fresh round's result; calls enqueued while that round
// runs land in the next iteration's snapshot instead (no self-starvation).
// spawnQueue entries each get their own dedicated round, one per iteration.
func (e *Engine) drainQueues() {
	for {
		e.mu.Lock()
		var spawnEntry *pendingCall
		if len(e.spawnQueue) > 0 {
			c := e.spawnQueue[0]
			e.spawnQueue = e.spawnQueue[1:]
			spawnEntry = &c
		}
		resolveSnapshot := e.resolveQueue
		e.resolveQueue = nil
		if spawnEntry == nil && len(resolveSnapshot) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		// A ForceSpawnNew call and any ResolveOnNext callers queued
		// alongside it are both satisfied by the same upcoming cycle:
		// ResolveOnNext only promises "resolves on the next cycle", and
		// this is it. Running them separately would strand resolveSnapshot
		// undone whenever a spawn entry is popped in the same iteration.
		var runCtx context.Context
		if spawnEntry != nil {
			runCtx = spawnEntry.ctx
		} else {
			runCtx = resolveSnapshot[0].ctx
		}

		checkIntegrity := spawnEntry != nil && spawnEntry.checkIntegrity
		for _, c := range resolveSnapshot {
			checkIntegrity = checkIntegrity || c.checkIntegrity
		}

		err := e.runCycle(runCtx, checkIntegrity)
		if spawnEntry != nil {
			spawnEntry.done <- err
		}
		for _, c := range resolveSnapshot {
			c.done <- err
		}
	}
}

// runCycle is one full sync cycle: pre-sync save, spawn, round loop,
// integrity check, completion signals (spec §4.8).
func (e *Engine) runCycle(ctx context.Context, checkIntegrity bool) error {
	if err := e.preSyncSave(ctx); err != nil {
		return err
	}

	intent := protocol.IntentSync
	if e.transport == nil {
		intent = protocol.IntentLocalStoragePreferEncrypted
	}
	pending, err := e.snapshotForUpload(intent)
	if err != nil {
		return err
	}

	if e.transport == nil {
		op := NewOfflineOperation(pending)
		if err := e.store.SavePayloads(ctx, pending); err != nil {
			return err
		}
		e.log.Info().Int("items", op.PendingUploadCount()).Msg("offline sync cycle: persisted locally, no network round")
		e.emitCompletion(len(pending))
		return nil
	}

	op := NewAccountOperation(pending)
	itemsInvolved := 0
	paginationToken := ""

	// The first round always runs, so a cycle with nothing to upload still
	// retrieves what the server has.
	for first := true; first || op.PendingUploadCount() > 0 || paginationToken != ""; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := op.PopBatch(e.cfg.UpLimit)
		e.lockCancelation()
		resp, err := e.transport.PostSync(ctx, Request{
			Items:            batch,
			SyncToken:        e.syncToken,
			CursorToken:      paginationToken,
			Limit:            e.cfg.UpLimit,
			ComputeIntegrity: checkIntegrity,
		})
		e.unlockCancelation()
		if err != nil {
			if errors.Is(err, errs.ErrAuthFailure) {
				e.bus.emit(Event{Kind: EventInvalidSession})
			} else {
				e.bus.emit(Event{Kind: EventSyncError, Err: err})
			}
			return err
		}
		e.bus.emit(Event{Kind: EventResponse, Response: &resp})

		n, err := e.handleResponse(ctx, resp)
		if err != nil {
			return err
		}
		itemsInvolved += n

		e.syncToken = resp.SyncToken
		paginationToken = resp.CursorToken
		_ = e.store.SetValue(ctx, KeyLastSyncToken, e.syncToken)
		_ = e.store.SetValue(ctx, KeyPaginationToken, paginationToken)

		if checkIntegrity && resp.IntegrityHash != "" {
			if err := e.checkIntegrityRound(ctx, resp.IntegrityHash); err != nil {
				return err
			}
		}

		if e.cancellationRequested() {
			break
		}
	}

	e.emitCompletion(itemsInvolved)
	return nil
}

// preSyncSave implements spec §4.8 step 1: persist anything dirtied since
// the last pre-sync save, encrypted under the local-prefer-encrypted
// intent, before any upload is attempted.
func (e *Engine) preSyncSave(ctx context.Context) error {
	cutoff := e.lastPreSyncSaveDate

	var toSave []*payload.Payload
	for _, it := range e.items.All() {
		if it.IsDummy() {
			continue
		}
		p := it.Payload()
		if !p.DirtiedDate().After(cutoff) {
			continue
		}
		enc, err := e.encryptOne(p, protocol.IntentLocalStoragePreferEncrypted)
		if err != nil {
			return err
		}
		toSave = append(toSave, enc)
	}
	if len(toSave) > 0 {
		if err := e.store.SavePayloads(ctx, toSave); err != nil {
			return err
		}
	}
	e.lastPreSyncSaveDate = time.Now()
	return nil
}

// snapshotForUpload encrypts every dirty item's payload under intent,
// producing the queue an Operation is built from.
func (e *Engine) snapshotForUpload(intent protocol.Intent) ([]*payload.Payload, error) {
	var out []*payload.Payload
	for _, uuid := range e.items.DirtyUUIDs() {
		it, ok := e.items.Get(uuid)
		if !ok || it.IsDummy() {
			continue
		}
		enc, err := e.encryptOne(it.Payload(), intent)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// encryptOne resolves the wrapping key via the Key Manager and runs the
// payload through the Protocol Manager. A missing key is not an error for
// intents whose format table entry tolerates it (e.g.
// LocalStoragePreferEncrypted falls back to DecryptedBareObject); any
// other failure is returned.
func (e *Engine) encryptOne(p *payload.Payload, intent protocol.Intent) (*payload.Payload, error) {
	version := e.protocol.CurrentVersion()
	key, keyErr := e.keys.KeyToUseForEncryptionOfPayload(p.ContentType(), version)

	var keyPtr *protocol.EncryptionKey
	if keyErr == nil {
		keyPtr = &key
	} else if !errors.Is(keyErr, errs.ErrMissingKey) {
		return nil, keyErr
	}

	res, err := e.protocol.EncryptPayload(protocol.EncryptRequest{
		UUID:        p.UUID(),
		ContentType: p.ContentType(),
		Content:     p.Content(),
		Intent:      intent,
	}, keyPtr)
	if err != nil {
		return nil, err
	}

	content := res.Content
	return payload.FromAnyObject(p, payload.Override{
		Content:    &content,
		EncItemKey: &res.EncItemKey,
		ItemsKeyID: &res.ItemsKeyID,
		Fields:     payload.NewFieldSet(payload.FieldContent, payload.FieldEncItemKey, payload.FieldItemsKeyID),
	}), nil
}

// itemsSnapshot captures every non-dummy item's payload as a Collection,
// used as the baseCollection for response resolution (spec §4.8 step 4)
// and for out-of-sync delta comparison (spec §4.9).
func (e *Engine) itemsSnapshot() payload.Collection {
	all := e.items.All()
	payloads := make([]*payload.Payload, 0, len(all))
	for _, it := range all {
		if it.IsDummy() {
			continue
		}
		payloads = append(payloads, it.Payload())
	}
	return payload.NewCollection(payload.SourceLocalRetrieved, payloads...)
}

// handleResponse implements spec §4.8 step 4: decrypt retrieved/conflict
// payloads, resolve all three response categories against a pre-response
// snapshot, map each category's result into the item graph, and persist.
// Returns the number of items mapped, for the completion signal.
func (e *Engine) handleResponse(ctx context.Context, resp Response) (int, error) {
	base := e.itemsSnapshot()

	retrievedDecrypted, err := e.decryptAll(resp.RetrievedItems)
	if err != nil {
		return 0, err
	}
	conflictsDecrypted, err := e.decryptAll(resp.Conflicts)
	if err != nil {
		return 0, err
	}

	out, err := Resolve(ResolverInput{
		RetrievedDecrypted: retrievedDecrypted,
		SavedRaw:           resp.SavedItems,
		ConflictsDecrypted: conflictsDecrypted,
		Base:               base,
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range []payload.Collection{out.RemoteRetrieved, out.RemoteSaved, out.RemoteConflict} {
		payloads := c.All()
		if len(payloads) == 0 {
			continue
		}
		mapped := e.items.MapPayloadsToLocalItems(payloads)
		count += len(mapped)
		if err := e.store.SavePayloads(ctx, payloads); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// decryptAll runs raw through the Protocol Manager's bulk decrypt,
// resolving each payload's key via the Key Manager, and rebuilds the
// decrypted (or error/waiting-marked) Payloads in the same order.
func (e *Engine) decryptAll(raw []*payload.Payload) ([]*payload.Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	reqs := make([]protocol.DecryptRequest, len(raw))
	byUUID := make(map[string]*payload.Payload, len(raw))
	for i, p := range raw {
		byUUID[p.UUID()] = p
		reqs[i] = protocol.DecryptRequest{
			UUID:                 p.UUID(),
			ContentType:          p.ContentType(),
			Content:              p.Content(),
			EncItemKey:           p.EncItemKey(),
			Format:               protocol.Format(p.Format()),
			PriorErrorDecrypting: p.ErrorDecrypting(),
		}
	}

	keyFor := func(req protocol.DecryptRequest) *protocol.EncryptionKey {
		p := byUUID[req.UUID]
		isItemsKey := req.ContentType == itemsKeyContentType
		version := e.protocol.CurrentVersion()
		if s, ok := req.Content.(string); ok {
			if v, err := e.protocol.VersionForWireString(s); err == nil {
				version = v
			}
		}
		key, ok, err := e.keys.KeyToUseForDecryptionOfPayload(isItemsKey, p.ItemsKeyID(), version)
		if err != nil || !ok {
			return nil
		}
		return &key
	}

	results, err := e.protocol.DecryptPayloads(reqs, keyFor, false)
	if err != nil {
		return nil, err
	}

	out := make([]*payload.Payload, len(raw))
	for i, res := range results {
		out[i] = payload.DecryptionParametersPayload(raw[i], res.Content, res.ErrorDecrypting, res.ErrorDecryptingValueChanged, res.WaitingForKey)
	}
	return out, nil
}

// checkIntegrityRound implements spec §4.8 step 5: compare the local
// integrity hash against the server's, tracking consecutive mismatches
// and triggering out-of-sync recovery at the configured threshold.
func (e *Engine) checkIntegrityRound(ctx context.Context, serverHash string) error {
	localHash := IntegrityHash(e.items.All())
	if localHash == serverHash {
		e.discordanceCount = 0
		return nil
	}

	e.discordanceCount++
	e.log.Warn().Int("discordance", e.discordanceCount).Str("local_hash", localHash).Str("server_hash", serverHash).Msg("integrity hash mismatch")
	if e.discordanceCount < e.cfg.MaxDiscordance {
		return nil
	}

	e.bus.emit(Event{Kind: EventEnterOutOfSync})
	if err := e.resolveOutOfSync(ctx); err != nil {
		return err
	}
	e.discordanceCount = 0
	e.bus.emit(Event{Kind: EventExitOutOfSync})
	return nil
}

// emitCompletion implements spec §4.8 step 6.
func (e *Engine) emitCompletion(itemsInvolved int) {
	if itemsInvolved >= e.cfg.MajorChangeThreshold {
		e.bus.emit(Event{Kind: EventMajorDataChange, ItemsInvolved: itemsInvolved})
	}
	e.bus.emit(Event{Kind: EventFullSyncCompleted, ItemsInvolved: itemsInvolved})
}
