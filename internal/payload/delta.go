package payload

import (
	"reflect"
	"time"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
)

// contentsDiffer reports whether a and b's decrypted content differ,
// comparing structurally (map/slice equality, not string/byte identity) so
// that key ordering and whitespace never cause a false divergence.
func contentsDiffer(a, b *Payload) bool {
	if a == nil || b == nil {
		return a != b
	}
	return !reflect.DeepEqual(a.Content(), b.Content())
}

// duplicate produces a new-uuid copy of p — same content, same references
// intact — carrying the local divergent version forward under a fresh
// identity so the original uuid can be overwritten with the server's copy.
func duplicate(p *Payload, source Source) (*Payload, error) {
	id, err := provider.UUID()
	if err != nil {
		return nil, err
	}
	newUUID := id.String()
	dirty := true
	now := time.Now()
	src := source
	return FromAnyObject(p, Override{
		UUID:        &newUUID,
		Dirty:       &dirty,
		DirtiedDate: &now,
		Source:      &src,
		Fields:      NewFieldSet(FieldUUID, FieldDirty, FieldDirtiedDate),
	}), nil
}

// DeltaRemoteRetrieved implements the remoteRetrieved response category
// (spec §4.4). base is a snapshot of local state taken before any payload
// in this response is mapped; apply is the decrypted server response.
func DeltaRemoteRetrieved(base, apply Collection) (Collection, error) {
	result := NewCollection(SourceRemoteRetrieved)
	for _, incoming := range apply.All() {
		local, hasLocal := base.Get(incoming.UUID())
		if !hasLocal || !local.Dirty() {
			result = result.With(incoming)
			continue
		}
		if !contentsDiffer(local, incoming) {
			result = result.With(incoming)
			continue
		}
		dup, err := duplicate(local, SourceRemoteRetrieved)
		if err != nil {
			return Collection{}, err
		}
		result = result.With(incoming)
		result = result.With(dup)
	}
	return result, nil
}

// DeltaRemoteSaved implements the remoteSaved response category: the local
// copy is marked clean (dirty=false) with lastSyncEnd stamped, retaining
// its own content since remoteSaved payloads carry no content field.
func DeltaRemoteSaved(base, apply Collection) (Collection, error) {
	result := NewCollection(SourceRemoteSaved)
	now := time.Now()
	for _, saved := range apply.All() {
		local, hasLocal := base.Get(saved.UUID())
		if !hasLocal {
			local = saved
		}
		notDirty := false
		src := SourceRemoteSaved
		updated := FromAnyObject(local, Override{
			Dirty:      &notDirty,
			LastSyncEnd: &now,
			Source:     &src,
			Fields:     NewFieldSet(FieldDirty, FieldLastSyncEnd),
		})
		result = result.With(updated)
	}
	return result, nil
}

// DeltaRemoteConflict implements the remoteConflict response category: the
// server reported a uuid collision with a differing record. The local
// version survives under a new uuid; the server version is adopted under
// the original uuid.
func DeltaRemoteConflict(base, apply Collection) (Collection, error) {
	result := NewCollection(SourceRemoteConflict)
	for _, serverVersion := range apply.All() {
		local, hasLocal := base.Get(serverVersion.UUID())
		if hasLocal {
			dup, err := duplicate(local, SourceRemoteConflict)
			if err != nil {
				return Collection{}, err
			}
			result = result.With(dup)
		}
		result = result.With(serverVersion)
	}
	return result, nil
}

// DeltaOutOfSync implements the out-of-sync recovery merge (spec §4.4,
// §4.9): for every uuid on either side, a content divergence duplicates
// the local version under a new uuid before the local copy is overwritten
// by the remote one.
func DeltaOutOfSync(base, apply Collection) (Collection, error) {
	result := NewCollection(SourceRemoteRetrieved)
	seen := make(map[string]struct{}, base.Len()+apply.Len())

	for _, remote := range apply.All() {
		seen[remote.UUID()] = struct{}{}
		local, hasLocal := base.Get(remote.UUID())
		if hasLocal && contentsDiffer(local, remote) {
			dup, err := duplicate(local, SourceRemoteRetrieved)
			if err != nil {
				return Collection{}, err
			}
			result = result.With(dup)
		}
		result = result.With(remote)
	}
	for _, local := range base.All() {
		if _, already := seen[local.UUID()]; already {
			continue
		}
		// present locally only: the remote download is authoritative for
		// out-of-sync resolution, so a locally-only payload that the
		// server no longer carries is retained as-is (nothing to overwrite
		// it with).
		result = result.With(local)
	}
	return result, nil
}
