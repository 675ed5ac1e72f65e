package item

import (
	"testing"
	"time"

	"github.com/and161185/gokeeper-core/internal/payload"
)

func bareObjectPayload(uuid, contentType string, content map[string]any) *payload.Payload {
	return payload.New(uuid, contentType, content, nil)
}

func TestMapPayloadsToLocalItems_CreatesDummyForMissingReference(t *testing.T) {
	t.Parallel()
	m := NewManager()
	note := bareObjectPayload("note-1", "Note", map[string]any{
		"title": "hi",
		"references": []any{
			map[string]any{"uuid": "tag-1", "content_type": "Tag"},
		},
	})
	m.MapPayloadsToLocalItems([]*payload.Payload{note})

	dummy, ok := m.Get("tag-1")
	if !ok {
		t.Fatalf("expected a dummy item for the unresolved reference")
	}
	if !dummy.IsDummy() {
		t.Fatalf("expected tag-1 to be a dummy placeholder")
	}
	if got := m.ReferrersOf("tag-1"); len(got) != 1 || got[0] != "note-1" {
		t.Fatalf("ReferrersOf(tag-1) = %v, want [note-1]", got)
	}
}

func TestMapPayloadsToLocalItems_PromotesDummyWhenRealPayloadArrives(t *testing.T) {
	t.Parallel()
	m := NewManager()
	note := bareObjectPayload("note-1", "Note", map[string]any{
		"references": []any{map[string]any{"uuid": "tag-1", "content_type": "Tag"}},
	})
	m.MapPayloadsToLocalItems([]*payload.Payload{note})

	tag := bareObjectPayload("tag-1", "Tag", map[string]any{"title": "work"})
	m.MapPayloadsToLocalItems([]*payload.Payload{tag})

	promoted, ok := m.Get("tag-1")
	if !ok {
		t.Fatalf("expected tag-1 to exist")
	}
	if promoted.IsDummy() {
		t.Fatalf("expected tag-1 to be promoted, still marked dummy")
	}
}

func TestMapPayloadsToLocalItems_RemovesInverseRefWhenReferenceDropped(t *testing.T) {
	t.Parallel()
	m := NewManager()
	withRef := bareObjectPayload("note-1", "Note", map[string]any{
		"references": []any{map[string]any{"uuid": "tag-1", "content_type": "Tag"}},
	})
	m.MapPayloadsToLocalItems([]*payload.Payload{withRef})

	withoutRef := bareObjectPayload("note-1", "Note", map[string]any{"references": []any{}})
	m.MapPayloadsToLocalItems([]*payload.Payload{withoutRef})

	if got := m.ReferrersOf("tag-1"); len(got) != 0 {
		t.Fatalf("ReferrersOf(tag-1) = %v, want none after reference removed", got)
	}
}

func TestImportItemsFromRaw_NewItemIsCreated(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p := bareObjectPayload("note-1", "Note", map[string]any{"title": "hello"})
	created, err := m.ImportItemsFromRaw([]*payload.Payload{p})
	if err != nil {
		t.Fatalf("ImportItemsFromRaw: %v", err)
	}
	if len(created) != 1 || created[0].UUID() != "note-1" {
		t.Fatalf("created = %v, want [note-1]", created)
	}
}

func TestImportItemsFromRaw_IdenticalContentIsNoop(t *testing.T) {
	t.Parallel()
	m := NewManager()
	existing := bareObjectPayload("note-1", "Note", map[string]any{"title": "hello"})
	m.MapPayloadsToLocalItems([]*payload.Payload{existing})

	incoming := bareObjectPayload("note-1", "Note", map[string]any{"title": "hello"})
	created, err := m.ImportItemsFromRaw([]*payload.Payload{incoming})
	if err != nil {
		t.Fatalf("ImportItemsFromRaw: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created = %v, want none (identical content is a no-op)", created)
	}
}

func TestImportItemsFromRaw_DivergingContentDuplicatesUnderNewUUID(t *testing.T) {
	t.Parallel()
	m := NewManager()
	existing := bareObjectPayload("note-1", "Note", map[string]any{"title": "local version"})
	m.MapPayloadsToLocalItems([]*payload.Payload{existing})

	incoming := bareObjectPayload("note-1", "Note", map[string]any{"title": "imported version"})
	created, err := m.ImportItemsFromRaw([]*payload.Payload{incoming})
	if err != nil {
		t.Fatalf("ImportItemsFromRaw: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %v, want exactly one duplicate", created)
	}
	if created[0].UUID() == "note-1" {
		t.Fatalf("duplicate must carry a fresh uuid, not note-1")
	}
	local, ok := m.Get("note-1")
	if !ok || local.Content().(map[string]any)["title"] != "local version" {
		t.Fatalf("local copy at note-1 must be preserved untouched")
	}
}

func TestImportItemsFromRaw_UsesPreBatchSnapshot(t *testing.T) {
	t.Parallel()
	m := NewManager()
	noteA := bareObjectPayload("note-a", "Note", map[string]any{"title": "A-local"})
	m.MapPayloadsToLocalItems([]*payload.Payload{noteA})

	// two incoming payloads in one batch: the first duplicates note-a
	// (diverging content); the snapshot used for the second must still
	// reflect pre-batch state, not the duplicate just created.
	batch := []*payload.Payload{
		bareObjectPayload("note-a", "Note", map[string]any{"title": "A-imported"}),
		bareObjectPayload("note-b", "Note", map[string]any{"title": "B-imported"}),
	}
	created, err := m.ImportItemsFromRaw(batch)
	if err != nil {
		t.Fatalf("ImportItemsFromRaw: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %v, want 2 (one duplicate, one new item)", created)
	}
}

func TestImportItemsFromRaw_RepeatedIdenticalDivergingPayloadCreatesAtMostOneDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager()
	existing := bareObjectPayload("note-1", "Note", map[string]any{"title": "local version"})
	m.MapPayloadsToLocalItems([]*payload.Payload{existing})

	for i := 0; i < 3; i++ {
		incoming := bareObjectPayload("note-1", "Note", map[string]any{"title": "imported version"})
		if _, err := m.ImportItemsFromRaw([]*payload.Payload{incoming}); err != nil {
			t.Fatalf("ImportItemsFromRaw call %d: %v", i, err)
		}
	}

	if got := len(m.All()); got != 2 {
		t.Fatalf("total items = %d, want 2 (local + one duplicate)", got)
	}
}

func TestAlternateUUIDForItem_RewritesReferrersAndTombstonesOriginal(t *testing.T) {
	t.Parallel()
	m := NewManager()
	tag := bareObjectPayload("tag-1", "Tag", map[string]any{"title": "work"})
	note := bareObjectPayload("note-1", "Note", map[string]any{
		"references": []any{map[string]any{"uuid": "tag-1", "content_type": "Tag"}},
	})
	m.MapPayloadsToLocalItems([]*payload.Payload{tag, note})

	moved, err := m.AlternateUUIDForItem("tag-1")
	if err != nil {
		t.Fatalf("AlternateUUIDForItem: %v", err)
	}
	if moved.UUID() == "tag-1" {
		t.Fatalf("expected a new uuid, got the original")
	}

	oldTag, ok := m.Get("tag-1")
	if !ok || !oldTag.Deleted() {
		t.Fatalf("expected the original tag-1 to be tombstoned")
	}
	referrer, ok := m.Get("note-1")
	if !ok {
		t.Fatalf("expected note-1 to still exist")
	}
	refs := referrer.References()
	if len(refs) != 1 || refs[0].UUID != moved.UUID() {
		t.Fatalf("referrer's reference was not rewritten to the new uuid: %+v", refs)
	}
}

func TestFindOrCreateSingleton_CreatesWhenNoneExist(t *testing.T) {
	t.Parallel()
	m := NewManager()
	created, err := m.FindOrCreateSingleton("SN|Privileges", func(*Item) bool { return true }, func() (*payload.Payload, error) {
		return bareObjectPayload("priv-1", "SN|Privileges", map[string]any{}), nil
	})
	if err != nil {
		t.Fatalf("FindOrCreateSingleton: %v", err)
	}
	if created.UUID() != "priv-1" {
		t.Fatalf("created = %v, want priv-1", created.UUID())
	}
}

func TestFindOrCreateSingleton_MultipleCandidatesKeepsEarliest(t *testing.T) {
	t.Parallel()
	m := NewManager()
	early := payload.FromAnyObject(
		bareObjectPayload("priv-early", "SN|Privileges", map[string]any{}),
		payload.Override{
			CreatedAt: timePtr(time.Unix(100, 0)),
			Fields:    payload.NewFieldSet(payload.FieldCreatedAt),
		},
	)
	late := payload.FromAnyObject(
		bareObjectPayload("priv-late", "SN|Privileges", map[string]any{}),
		payload.Override{
			CreatedAt: timePtr(time.Unix(200, 0)),
			Fields:    payload.NewFieldSet(payload.FieldCreatedAt),
		},
	)
	m.MapPayloadsToLocalItems([]*payload.Payload{early, late})

	survivor, err := m.FindOrCreateSingleton("SN|Privileges", func(*Item) bool { return true }, func() (*payload.Payload, error) {
		t.Fatalf("createPayload should not be called when candidates exist")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("FindOrCreateSingleton: %v", err)
	}
	if survivor.UUID() != "priv-early" {
		t.Fatalf("survivor = %v, want priv-early", survivor.UUID())
	}
	loser, ok := m.Get("priv-late")
	if !ok || !loser.Deleted() {
		t.Fatalf("expected priv-late to be marked deleted")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
