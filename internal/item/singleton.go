package item

import (
	"sort"
	"time"

	"github.com/and161185/gokeeper-core/internal/payload"
)

// FindOrCreateSingleton implements findOrCreateSingleton (spec §4.7): for
// a content-type with at most one valid instance (e.g. SN|Privileges),
// return the unique candidate matching predicate. If none match (an
// errorDecrypting item of this content-type never counts as a valid
// candidate), create one via createPayload. If multiple match, the
// earliest by CreatedAt survives and every other candidate is marked
// deleted+dirty.
func (m *Manager) FindOrCreateSingleton(contentType string, predicate func(*Item) bool, createPayload func() (*payload.Payload, error)) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*Item
	for _, it := range m.items {
		if it.dummy || it.ContentType() != contentType || it.Deleted() {
			continue
		}
		if it.ErrorDecrypting() {
			continue
		}
		if predicate(it) {
			candidates = append(candidates, it)
		}
	}

	if len(candidates) == 0 {
		p, err := createPayload()
		if err != nil {
			return nil, err
		}
		return m.mapOneLocked(p), nil
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt().Before(candidates[j].CreatedAt())
	})
	survivor := candidates[0]
	now := time.Now()
	deleted := true
	dirty := true
	for _, dupe := range candidates[1:] {
		updated := payload.FromAnyObject(dupe.p, payload.Override{
			Deleted:     &deleted,
			Dirty:       &dirty,
			DirtiedDate: &now,
			Fields:      payload.NewFieldSet(payload.FieldDeleted, payload.FieldDirty, payload.FieldDirtiedDate),
		})
		m.mapOneLocked(updated)
	}
	return survivor, nil
}
