package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/and161185/gokeeper-core/internal/config"
	"github.com/and161185/gokeeper-core/internal/item"
	"github.com/and161185/gokeeper-core/internal/keys"
	"github.com/and161185/gokeeper-core/internal/payload"
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

func testRootKey() rootkey.Key {
	return rootkey.Key{
		MasterKey:      make([]byte, 32),
		ServerPassword: make([]byte, 32),
		Version:        rootkey.V004,
	}
}

func testCfg() config.Sync {
	return config.Sync{UpLimit: 150, MajorChangeThreshold: 15, MaxDiscordance: 5}
}

// newDirtyNote maps a fresh dirty Note item into m under uuid.
func newDirtyNote(m *item.Manager, uuid string) {
	dirty := true
	now := time.Now()
	p := payload.FromAnyObject(
		payload.New(uuid, "Note", map[string]any{"title": "hi"}, nil),
		payload.Override{
			Dirty:       &dirty,
			DirtiedDate: &now,
			Fields:      payload.NewFieldSet(payload.FieldDirty, payload.FieldDirtiedDate),
		},
	)
	m.MapPayloadsToLocalItems([]*payload.Payload{p})
}

// ackSaved builds the thin "saved" acknowledgement payloads a server
// response carries for each uploaded item: uuid only, no content.
func ackSaved(uploaded []*payload.Payload) []*payload.Payload {
	out := make([]*payload.Payload, len(uploaded))
	for i, p := range uploaded {
		out[i] = payload.New(p.UUID(), p.ContentType(), nil, payload.NewFieldSet(payload.FieldUUID))
	}
	return out
}

type fakeTransport struct {
	postSync func(ctx context.Context, req Request) (Response, error)
}

func (f *fakeTransport) PostSync(ctx context.Context, req Request) (Response, error) {
	return f.postSync(ctx, req)
}

type fakeStore struct {
	mu     stdsync.Mutex
	saved  []*payload.Payload
	values map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]string)}
}

func (s *fakeStore) GetAllRawPayloads(ctx context.Context) ([]*payload.Payload, error) {
	return nil, nil
}

func (s *fakeStore) SavePayloads(ctx context.Context, payloads []*payload.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, payloads...)
	return nil
}

func (s *fakeStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStore) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *fakeStore) RemoveValue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newKeysManager() *keys.Manager {
	m := keys.NewManager()
	m.SetRootKey(testRootKey())
	m.AddItemsKey("ik-1", protocol.ItemsKeyMaterial{ItemsKey: make([]byte, 32)})
	return m
}

func TestEngine_Sync_UploadsDirtyItemsAndMarksThemClean(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	newDirtyNote(itemsMgr, "note-1")

	var uploaded []*payload.Payload
	transport := &fakeTransport{postSync: func(ctx context.Context, req Request) (Response, error) {
		uploaded = append(uploaded, req.Items...)
		return Response{SyncToken: "tok-1", SavedItems: ackSaved(req.Items)}, nil
	}}
	store := newFakeStore()
	engine := NewEngine(transport, store, protocol.NewManager(), newKeysManager(), itemsMgr, testCfg(), nil)

	if err := engine.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(uploaded) != 1 {
		t.Fatalf("server received %d items, want 1", len(uploaded))
	}
	if uploaded[0].UUID() != "note-1" {
		t.Fatalf("uploaded uuid = %q, want note-1", uploaded[0].UUID())
	}

	note, ok := itemsMgr.Get("note-1")
	if !ok {
		t.Fatalf("note-1 missing from item graph")
	}
	if note.Dirty() {
		t.Fatalf("expected note-1 to be clean after sync")
	}
}

func TestEngine_Sync_OfflineWithNilTransportPersistsLocallyOnly(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	newDirtyNote(itemsMgr, "note-1")

	store := newFakeStore()
	engine := NewEngine(nil, store, protocol.NewManager(), newKeysManager(), itemsMgr, testCfg(), nil)

	var completed int
	engine.Subscribe(EventFullSyncCompleted, func(e Event) { completed = e.ItemsInvolved })

	if err := engine.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if store.savedCount() == 0 {
		t.Fatalf("expected the offline cycle to persist the dirty payload locally")
	}
	if completed != 1 {
		t.Fatalf("FullSyncCompleted items = %d, want 1", completed)
	}

	// offline cycles never touch item-graph dirtiness: nothing decrypted
	// the server's word for it, so the item stays dirty until a real
	// network round acknowledges it.
	note, ok := itemsMgr.Get("note-1")
	if !ok || !note.Dirty() {
		t.Fatalf("expected note-1 to remain dirty after an offline cycle")
	}
}

func TestEngine_Sync_RetrievedItemIsMappedIntoItemGraph(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	protoMgr := protocol.NewManager()
	keysMgr := newKeysManager()

	content := map[string]any{"title": "from server"}
	plain := payload.New("note-remote", "Note", content, nil)
	encRes, err := protoMgr.EncryptPayload(protocol.EncryptRequest{
		UUID:        plain.UUID(),
		ContentType: plain.ContentType(),
		Content:     plain.Content(),
		Intent:      protocol.IntentSync,
	}, keyPtrFor(t, keysMgr, protoMgr, "Note"))
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}
	encContent := encRes.Content
	serverItem := payload.FromAnyObject(plain, payload.Override{
		Content:    &encContent,
		EncItemKey: &encRes.EncItemKey,
		ItemsKeyID: &encRes.ItemsKeyID,
		Fields:     payload.NewFieldSet(payload.FieldContent, payload.FieldEncItemKey, payload.FieldItemsKeyID),
	})

	transport := &fakeTransport{postSync: func(ctx context.Context, req Request) (Response, error) {
		return Response{
			SyncToken:      "tok-1",
			RetrievedItems: []*payload.Payload{serverItem},
		}, nil
	}}
	store := newFakeStore()
	engine := NewEngine(transport, store, protoMgr, keysMgr, itemsMgr, testCfg(), nil)

	if err := engine.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, ok := itemsMgr.Get("note-remote")
	if !ok {
		t.Fatalf("note-remote missing from item graph")
	}
	title, _ := got.Content().(map[string]any)["title"].(string)
	if title != "from server" {
		t.Fatalf("decrypted content title = %q, want %q", title, "from server")
	}
}

func keyPtrFor(t *testing.T, keysMgr *keys.Manager, protoMgr *protocol.Manager, contentType string) *protocol.EncryptionKey {
	t.Helper()
	key, err := keysMgr.KeyToUseForEncryptionOfPayload(contentType, protoMgr.CurrentVersion())
	if err != nil {
		t.Fatalf("KeyToUseForEncryptionOfPayload: %v", err)
	}
	return &key
}

func TestEngine_TryCancel_RejectedDuringRoundAcceptedBetweenRounds(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	newDirtyNote(itemsMgr, "note-1")

	inRound := make(chan struct{}, 1)
	proceed := make(chan struct{})
	transport := &fakeTransport{postSync: func(ctx context.Context, req Request) (Response, error) {
		inRound <- struct{}{}
		<-proceed
		return Response{SyncToken: "tok-1", SavedItems: ackSaved(req.Items)}, nil
	}}
	store := newFakeStore()
	engine := NewEngine(transport, store, protocol.NewManager(), newKeysManager(), itemsMgr, testCfg(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Sync(context.Background(), false) }()

	<-inRound
	if engine.TryCancel() {
		t.Fatalf("TryCancel should be rejected while a round is in flight")
	}
	close(proceed)

	if err := <-errCh; err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !engine.TryCancel() {
		t.Fatalf("TryCancel should succeed once no round is in flight")
	}
}

// TestEngine_DrainQueues_SpawnAndResolveCallersBothCompleteTogether guards
// against a starvation bug: a ForceSpawnNew caller and a ResolveOnNext
// caller queued against the same in-flight round must both have their
// done channel signaled by the round drainQueues runs for them, not just
// whichever queue drainQueues happened to check first.
func TestEngine_DrainQueues_SpawnAndResolveCallersBothCompleteTogether(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	newDirtyNote(itemsMgr, "note-1")

	inRound := make(chan struct{}, 1)
	proceed := make(chan struct{})
	var rounds int
	transport := &fakeTransport{postSync: func(ctx context.Context, req Request) (Response, error) {
		rounds++
		if rounds == 1 {
			inRound <- struct{}{}
			<-proceed
		}
		return Response{SyncToken: "tok", SavedItems: ackSaved(req.Items)}, nil
	}}
	store := newFakeStore()
	engine := NewEngine(transport, store, protocol.NewManager(), newKeysManager(), itemsMgr, testCfg(), nil)

	firstErr := make(chan error, 1)
	go func() { firstErr <- engine.Sync(context.Background(), false) }()
	<-inRound // first round is now blocked inside postSync

	spawnErr := make(chan error, 1)
	go func() { spawnErr <- engine.SyncWithStrategy(context.Background(), false, ForceSpawnNew) }()
	resolveErr := make(chan error, 1)
	go func() { resolveErr <- engine.SyncWithStrategy(context.Background(), false, ResolveOnNext) }()

	// both queued callers are whitebox-visible in this package; wait until
	// each has actually enqueued before releasing the first round.
	deadline := time.Now().Add(5 * time.Second)
	for {
		engine.mu.Lock()
		queued := len(engine.spawnQueue) == 1 && len(engine.resolveQueue) == 1
		engine.mu.Unlock()
		if queued {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for both callers to enqueue")
		}
		time.Sleep(time.Millisecond)
	}
	close(proceed)

	if err := <-firstErr; err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if err := <-spawnErr; err != nil {
		t.Fatalf("ForceSpawnNew caller: %v", err)
	}
	if err := <-resolveErr; err != nil {
		t.Fatalf("ResolveOnNext caller: %v", err)
	}
}

func TestEngine_CheckIntegrityRound_MismatchTriggersOutOfSyncAtThreshold(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	newDirtyNote(itemsMgr, "note-1")
	keysMgr := newKeysManager()
	protoMgr := protocol.NewManager()

	var mismatches int
	transport := &fakeTransport{postSync: func(ctx context.Context, req Request) (Response, error) {
		if mismatches < 2 {
			mismatches++
			// mismatched hash, with more pages pending, until threshold
			// trips out-of-sync recovery.
			return Response{SyncToken: "tok", IntegrityHash: "never-matches", CursorToken: "more"}, nil
		}
		return Response{SyncToken: "tok", IntegrityHash: IntegrityHash(itemsMgr.All())}, nil
	}}
	store := newFakeStore()
	cfg := config.Sync{UpLimit: 150, MajorChangeThreshold: 15, MaxDiscordance: 2}
	engine := NewEngine(transport, store, protoMgr, keysMgr, itemsMgr, cfg, nil)

	var entered, exited bool
	engine.Subscribe(EventEnterOutOfSync, func(e Event) { entered = true })
	engine.Subscribe(EventExitOutOfSync, func(e Event) { exited = true })

	if err := engine.Sync(context.Background(), true); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !entered {
		t.Fatalf("expected EnterOutOfSync to fire once discordance reached MaxDiscordance")
	}
	if !exited {
		t.Fatalf("expected ExitOutOfSync to fire after recovery completed")
	}
}

func TestIntegrityHash_StableAndChangesWhenItemDeleted(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	mk := func(uuid string, updatedAt time.Time, deleted bool) *payload.Payload {
		del := deleted
		ua := updatedAt
		return payload.FromAnyObject(
			payload.New(uuid, "Note", map[string]any{}, nil),
			payload.Override{
				UpdatedAt: &ua,
				Deleted:   &del,
				Fields:    payload.NewFieldSet(payload.FieldUpdatedAt, payload.FieldDeleted),
			},
		)
	}
	base := time.Unix(1000, 0)
	itemsMgr.MapPayloadsToLocalItems([]*payload.Payload{
		mk("a", base, false),
		mk("b", base.Add(10*time.Second), false),
		mk("c", base.Add(5*time.Second), true),
	})

	h1 := IntegrityHash(itemsMgr.All())
	h2 := IntegrityHash(itemsMgr.All())
	if h1 != h2 {
		t.Fatalf("IntegrityHash must be stable across calls with unchanged state")
	}

	// deleting item "b" changes the set of contributing timestamps and
	// must change the hash.
	itemsMgr.MapPayloadsToLocalItems([]*payload.Payload{mk("b", base.Add(10*time.Second), true)})
	h3 := IntegrityHash(itemsMgr.All())
	if h3 == h1 {
		t.Fatalf("expected IntegrityHash to change once a contributing item is deleted")
	}
}

func TestEngine_Subscribe_Unsubscribe(t *testing.T) {
	t.Parallel()

	itemsMgr := item.NewManager()
	transport := &fakeTransport{postSync: func(ctx context.Context, req Request) (Response, error) {
		return Response{SyncToken: "tok-1"}, nil
	}}
	engine := NewEngine(transport, newFakeStore(), protocol.NewManager(), newKeysManager(), itemsMgr, testCfg(), nil)

	var count int
	sub := engine.Subscribe(EventFullSyncCompleted, func(e Event) { count++ })
	if err := engine.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	engine.Unsubscribe(sub)
	if err := engine.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if count != 1 {
		t.Fatalf("listener fired %d times, want 1 (unsubscribed before the second sync)", count)
	}
}
