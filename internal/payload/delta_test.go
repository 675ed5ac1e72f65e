package payload

import "testing"

func noteContent(title string, refs ...Reference) map[string]any {
	rs := make([]any, len(refs))
	for i, r := range refs {
		rs[i] = map[string]any{"uuid": r.UUID, "content_type": r.ContentType}
	}
	return map[string]any{"title": title, "references": rs}
}

func mkPayload(uuid string, content any, dirty bool) *Payload {
	fields := NewFieldSet(FieldUUID, FieldContentType, FieldContent, FieldDirty)
	p := New(uuid, "Note", content, fields)
	if dirty {
		p = FromAnyObject(p, Override{Dirty: &dirty})
	}
	return p
}

func TestDeltaRemoteRetrieved_NoLocalDirty_Replaces(t *testing.T) {
	t.Parallel()
	base := NewCollection(SourceLocalRetrieved)
	incoming := mkPayload("u1", noteContent("server title"), false)
	apply := NewCollection(SourceRemoteRetrieved, incoming)

	result, err := DeltaRemoteRetrieved(base, apply)
	if err != nil {
		t.Fatalf("DeltaRemoteRetrieved: %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("result.Len() = %d, want 1", result.Len())
	}
	got, _ := result.Get("u1")
	if got.Content().(map[string]any)["title"] != "server title" {
		t.Fatalf("expected server content to win with no local dirty copy")
	}
}

func TestDeltaRemoteRetrieved_DirtyDivergent_DuplicatesLocal(t *testing.T) {
	t.Parallel()
	local := mkPayload("u1", noteContent("local edit"), true)
	base := NewCollection(SourceLocalDirtied, local)
	incoming := mkPayload("u1", noteContent("server edit"), false)
	apply := NewCollection(SourceRemoteRetrieved, incoming)

	result, err := DeltaRemoteRetrieved(base, apply)
	if err != nil {
		t.Fatalf("DeltaRemoteRetrieved: %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("result.Len() = %d, want 2 (incoming + duplicate)", result.Len())
	}
	server, ok := result.Get("u1")
	if !ok || server.Content().(map[string]any)["title"] != "server edit" {
		t.Fatalf("original uuid must carry the server's content")
	}
	var dupFound bool
	for _, p := range result.All() {
		if p.UUID() == "u1" {
			continue
		}
		if p.Content().(map[string]any)["title"] == "local edit" {
			dupFound = true
			if !p.Dirty() {
				t.Fatalf("duplicate must remain dirty")
			}
		}
	}
	if !dupFound {
		t.Fatalf("expected a duplicate carrying the local edit")
	}
}

func TestDeltaRemoteRetrieved_DirtySameContent_NoDuplicate(t *testing.T) {
	t.Parallel()
	local := mkPayload("u1", noteContent("same"), true)
	base := NewCollection(SourceLocalDirtied, local)
	incoming := mkPayload("u1", noteContent("same"), false)
	apply := NewCollection(SourceRemoteRetrieved, incoming)

	result, err := DeltaRemoteRetrieved(base, apply)
	if err != nil {
		t.Fatalf("DeltaRemoteRetrieved: %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("result.Len() = %d, want 1 (no duplicate for identical content)", result.Len())
	}
}

func TestDeltaRemoteSaved_MarksCleanRetainsContent(t *testing.T) {
	t.Parallel()
	local := mkPayload("u1", noteContent("mine"), true)
	base := NewCollection(SourceLocalDirtied, local)
	saved := New("u1", "Note", nil, NewFieldSet(FieldUUID, FieldContentType))
	apply := NewCollection(SourceRemoteSaved, saved)

	result, err := DeltaRemoteSaved(base, apply)
	if err != nil {
		t.Fatalf("DeltaRemoteSaved: %v", err)
	}
	got, ok := result.Get("u1")
	if !ok {
		t.Fatalf("expected u1 in result")
	}
	if got.Dirty() {
		t.Fatalf("remoteSaved must clear dirty")
	}
	if got.Content().(map[string]any)["title"] != "mine" {
		t.Fatalf("remoteSaved must retain local content")
	}
}

func TestDeltaRemoteConflict_DuplicatesLocalAdoptsServer(t *testing.T) {
	t.Parallel()
	local := mkPayload("u1", noteContent("mine"), true)
	base := NewCollection(SourceLocalDirtied, local)
	server := mkPayload("u1", noteContent("theirs"), false)
	apply := NewCollection(SourceRemoteConflict, server)

	result, err := DeltaRemoteConflict(base, apply)
	if err != nil {
		t.Fatalf("DeltaRemoteConflict: %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("result.Len() = %d, want 2", result.Len())
	}
	adopted, ok := result.Get("u1")
	if !ok || adopted.Content().(map[string]any)["title"] != "theirs" {
		t.Fatalf("original uuid must adopt server content")
	}
}

func TestDeltaOutOfSync_DivergentDuplicatesAndOverwrites(t *testing.T) {
	t.Parallel()
	localA := mkPayload("a", noteContent("local-a"), false)
	localB := mkPayload("b", noteContent("same-b"), false)
	base := NewCollection(SourceLocalRetrieved, localA, localB)

	remoteA := mkPayload("a", noteContent("remote-a"), false)
	remoteB := mkPayload("b", noteContent("same-b"), false)
	apply := NewCollection(SourceRemoteRetrieved, remoteA, remoteB)

	result, err := DeltaOutOfSync(base, apply)
	if err != nil {
		t.Fatalf("DeltaOutOfSync: %v", err)
	}

	gotA, ok := result.Get("a")
	if !ok || gotA.Content().(map[string]any)["title"] != "remote-a" {
		t.Fatalf("uuid a must be overwritten with remote content")
	}
	var duplicateFound bool
	for _, p := range result.All() {
		if p.UUID() != "a" && p.Content().(map[string]any)["title"] == "local-a" {
			duplicateFound = true
		}
	}
	if !duplicateFound {
		t.Fatalf("expected a duplicate preserving the divergent local-a content")
	}

	gotB, ok := result.Get("b")
	if !ok || gotB.Content().(map[string]any)["title"] != "same-b" {
		t.Fatalf("uuid b must be unchanged (no divergence)")
	}
	for _, p := range result.All() {
		if p.UUID() != "b" && p.Content() != nil {
			if m, ok := p.Content().(map[string]any); ok && m["title"] == "same-b" {
				t.Fatalf("uuid b must not be duplicated when content matches")
			}
		}
	}
}
