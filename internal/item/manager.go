package item

import (
	"reflect"
	"sync"
	"time"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/payload"
)

// Manager is the Model Manager (spec §4.5): the authoritative items map,
// the inverse-reference index, and the dirty-item set. All mutation of
// the item graph happens through it.
type Manager struct {
	mu sync.RWMutex

	items       map[string]*Item
	inverseRefs map[string]map[string]struct{} // target uuid -> referrer uuids
	dirty       map[string]struct{}

	// importDuplicates tracks, per original uuid, the uuids of every
	// duplicate item ImportItemsFromRaw has already minted for it, so
	// re-importing the same diverging payload across repeated calls is
	// recognized as already-imported instead of creating a new duplicate
	// every time (spec §8 import idempotence).
	importDuplicates map[string][]string
}

// NewManager constructs an empty item graph.
func NewManager() *Manager {
	return &Manager{
		items:            make(map[string]*Item),
		inverseRefs:      make(map[string]map[string]struct{}),
		dirty:            make(map[string]struct{}),
		importDuplicates: make(map[string][]string),
	}
}

// Get returns the item for uuid, if any.
func (m *Manager) Get(uuid string) (*Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[uuid]
	return it, ok
}

// All returns every item currently in the graph, including dummies.
func (m *Manager) All() []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out
}

// DirtyUUIDs returns the uuids of every item carrying unsynced local
// mutation.
func (m *Manager) DirtyUUIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		out = append(out, id)
	}
	return out
}

// ReferrersOf returns the uuids of items that reference target.
func (m *Manager) ReferrersOf(target string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.inverseRefs[target]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func refSet(it *Item) map[string]struct{} {
	refs := it.References()
	out := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		out[r.UUID] = struct{}{}
	}
	return out
}

// mapOneLocked creates-or-updates the item for p's uuid, keeping the
// inverse-reference index consistent. Caller must hold m.mu.
func (m *Manager) mapOneLocked(p *payload.Payload) *Item {
	uuid := p.UUID()
	old, had := m.items[uuid]

	next := newItem(p)
	if had && old.dummy {
		// the real payload arrived: promote, don't lose referrers already
		// recorded against this uuid.
		next.dummy = false
	}
	m.items[uuid] = next

	var oldRefs map[string]struct{}
	if had {
		oldRefs = refSet(old)
	}
	newRefs := refSet(next)

	for target := range oldRefs {
		if _, still := newRefs[target]; !still {
			if set := m.inverseRefs[target]; set != nil {
				delete(set, uuid)
				if len(set) == 0 {
					delete(m.inverseRefs, target)
				}
			}
		}
	}
	for target := range newRefs {
		if _, already := oldRefs[target]; already {
			continue
		}
		set := m.inverseRefs[target]
		if set == nil {
			set = make(map[string]struct{})
			m.inverseRefs[target] = set
		}
		set[uuid] = struct{}{}
		if _, exists := m.items[target]; !exists {
			m.items[target] = newDummyItem(target)
		}
	}

	if next.Dirty() {
		m.dirty[uuid] = struct{}{}
	} else {
		delete(m.dirty, uuid)
	}
	return next
}

// MapPayloadsToLocalItems implements mapPayloadsToLocalItems (spec §4.5):
// create-or-update the item for each payload, in input order, maintaining
// inverse indexes as references change.
func (m *Manager) MapPayloadsToLocalItems(payloads []*payload.Payload) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, 0, len(payloads))
	for _, p := range payloads {
		if p == nil {
			continue
		}
		out = append(out, m.mapOneLocked(p))
	}
	return out
}

func contentsEqual(a, b *payload.Payload) bool {
	return reflect.DeepEqual(a.Content(), b.Content())
}

// ImportItemsFromRaw implements the import algorithm (spec §4.6): per
// incoming payload, no local match creates a new item; a structurally
// identical local match is a no-op; a diverging local match keeps the
// local copy and imports the incoming payload as a standalone duplicate
// under a fresh uuid, unless an earlier import (this batch or a prior
// call) already created a duplicate with the same content, in which case
// it is a no-op too (spec §8 import idempotence: at most one duplicate
// per uuid whose content differs from local). The divergence check uses a
// snapshot of local content taken before any payload in this batch is
// mapped, so later payloads in the same batch never see cascading false
// duplicates against items created earlier in the same call.
func (m *Manager) ImportItemsFromRaw(raw []*payload.Payload) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]*payload.Payload, len(m.items))
	for uuid, it := range m.items {
		if !it.dummy {
			snapshot[uuid] = it.p
		}
	}

	var created []*Item
	for _, p := range raw {
		if p == nil {
			continue
		}
		local, existed := snapshot[p.UUID()]
		switch {
		case !existed:
			created = append(created, m.mapOneLocked(p))
		case contentsEqual(local, p):
			// identical content already present locally: no-op.
		case m.hasMatchingDuplicateLocked(p):
			// an earlier import already created a duplicate with this
			// exact diverging content: no-op, not a second duplicate.
		default:
			dup, err := duplicateForImport(p)
			if err != nil {
				return nil, err
			}
			mapped := m.mapOneLocked(dup)
			m.importDuplicates[p.UUID()] = append(m.importDuplicates[p.UUID()], dup.UUID())
			created = append(created, mapped)
		}
	}
	return created, nil
}

// hasMatchingDuplicateLocked reports whether any duplicate item already
// minted for p's original uuid carries the same content as p. Caller must
// hold m.mu.
func (m *Manager) hasMatchingDuplicateLocked(p *payload.Payload) bool {
	for _, dupUUID := range m.importDuplicates[p.UUID()] {
		dup, ok := m.items[dupUUID]
		if !ok || dup.dummy {
			continue
		}
		if contentsEqual(dup.p, p) {
			return true
		}
	}
	return false
}

func duplicateForImport(p *payload.Payload) (*payload.Payload, error) {
	id, err := provider.UUID()
	if err != nil {
		return nil, err
	}
	newUUID := id.String()
	dirty := true
	now := time.Now()
	src := payload.SourceFileImport
	return payload.FromAnyObject(p, payload.Override{
		UUID:        &newUUID,
		Dirty:       &dirty,
		DirtiedDate: &now,
		Source:      &src,
		Fields:      payload.NewFieldSet(payload.FieldUUID, payload.FieldDirty, payload.FieldDirtiedDate),
	}), nil
}

// AlternateUUIDForItem implements alternateUuidForItem (spec §4.5):
// assigns uuid a fresh identity, rewrites every referrer's reference to
// the new uuid, and marks the original item deleted. Used when local data
// must be re-uploaded without overwriting server data already living
// under this uuid.
func (m *Manager) AlternateUUIDForItem(uuid string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.items[uuid]
	if !ok {
		return nil, nil
	}
	newID, err := provider.UUID()
	if err != nil {
		return nil, err
	}
	newUUID := newID.String()

	referrers := make([]string, 0, len(m.inverseRefs[uuid]))
	for id := range m.inverseRefs[uuid] {
		referrers = append(referrers, id)
	}
	for _, referrerUUID := range referrers {
		referrer, ok := m.items[referrerUUID]
		if !ok {
			continue
		}
		rewritten := rewriteReference(referrer.Content(), uuid, newUUID)
		c := any(rewritten)
		updated := payload.FromAnyObject(referrer.p, payload.Override{
			Content: &c,
			Fields:  payload.NewFieldSet(payload.FieldContent),
		})
		m.mapOneLocked(updated)
	}

	dirty := true
	deleted := true
	now := time.Now()
	oldSrc := payload.SourceLocalDirtied
	tombstoned := payload.FromAnyObject(old.p, payload.Override{
		Deleted:     &deleted,
		Dirty:       &dirty,
		DirtiedDate: &now,
		Source:      &oldSrc,
		Fields:      payload.NewFieldSet(payload.FieldDeleted, payload.FieldDirty, payload.FieldDirtiedDate),
	})
	m.mapOneLocked(tombstoned)

	movedContent := any(old.Content())
	newSrc := payload.SourceLocalDirtied
	newPayload := payload.FromAnyObject(nil, payload.Override{
		UUID:        &newUUID,
		ContentType: strPtr(old.ContentType()),
		Content:     &movedContent,
		Dirty:       &dirty,
		DirtiedDate: &now,
		Source:      &newSrc,
		Fields: payload.NewFieldSet(
			payload.FieldUUID, payload.FieldContentType, payload.FieldContent,
			payload.FieldDirty, payload.FieldDirtiedDate,
		),
	})
	return m.mapOneLocked(newPayload), nil
}

func strPtr(s string) *string { return &s }

// rewriteReference returns a copy of content (expected to be the bare
// decrypted object shape) with every reference to from replaced by to.
func rewriteReference(content any, from, to string) any {
	obj, ok := content.(map[string]any)
	if !ok {
		return content
	}
	rawRefs, ok := obj["references"]
	if !ok {
		return content
	}
	list, ok := rawRefs.([]any)
	if !ok {
		return content
	}
	out := make([]any, len(list))
	for i, r := range list {
		m, ok := r.(map[string]any)
		if !ok {
			out[i] = r
			continue
		}
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		if cp["uuid"] == from {
			cp["uuid"] = to
		}
		out[i] = cp
	}
	cp := make(map[string]any, len(obj))
	for k, v := range obj {
		cp[k] = v
	}
	cp["references"] = out
	return cp
}

// SetItemsDirty implements setItemsDirty: stamps dirty/dirtiedDate on each
// named item.
func (m *Manager) SetItemsDirty(uuids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	dirty := true
	for _, id := range uuids {
		it, ok := m.items[id]
		if !ok {
			continue
		}
		updated := payload.FromAnyObject(it.p, payload.Override{
			Dirty:       &dirty,
			DirtiedDate: &now,
			Fields:      payload.NewFieldSet(payload.FieldDirty, payload.FieldDirtiedDate),
		})
		m.mapOneLocked(updated)
	}
}

// MarkAllItemsAsNeedingSync implements markAllItemsAsNeedingSync: stamps
// every non-dummy, non-deleted item dirty.
func (m *Manager) MarkAllItemsAsNeedingSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	dirty := true
	for uuid, it := range m.items {
		if it.dummy || it.Deleted() {
			continue
		}
		updated := payload.FromAnyObject(it.p, payload.Override{
			Dirty:       &dirty,
			DirtiedDate: &now,
			Fields:      payload.NewFieldSet(payload.FieldDirty, payload.FieldDirtiedDate),
		})
		m.items[uuid] = newItem(updated)
		m.dirty[uuid] = struct{}{}
	}
}
