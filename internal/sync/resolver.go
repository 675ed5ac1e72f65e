package sync

import "github.com/and161185/gokeeper-core/internal/payload"

// ResolverInput is everything AccountSyncResponseResolver needs (spec
// §4.8 step 4): the decrypted retrieved payloads, the server's saved-items
// acknowledgement, any reported conflicts (already decrypted), and a
// snapshot of local item payloads taken before this response is processed
// at all (baseCollection).
type ResolverInput struct {
	RetrievedDecrypted []*payload.Payload
	SavedRaw           []*payload.Payload
	ConflictsDecrypted []*payload.Payload
	Base               payload.Collection
}

// ResolverOutput is one Collection per response category (spec §4.4).
type ResolverOutput struct {
	RemoteRetrieved payload.Collection
	RemoteSaved     payload.Collection
	RemoteConflict  payload.Collection
}

// Resolve implements AccountSyncResponseResolver: it runs each response
// category through its delta against the shared base snapshot, so a
// payload's divergence is always judged against pre-response local state
// regardless of which category it arrives in.
func Resolve(in ResolverInput) (ResolverOutput, error) {
	retrievedApply := payload.NewCollection(payload.SourceRemoteRetrieved, in.RetrievedDecrypted...)
	retrieved, err := payload.DeltaRemoteRetrieved(in.Base, retrievedApply)
	if err != nil {
		return ResolverOutput{}, err
	}

	savedApply := payload.NewCollection(payload.SourceRemoteSaved, in.SavedRaw...)
	saved, err := payload.DeltaRemoteSaved(in.Base, savedApply)
	if err != nil {
		return ResolverOutput{}, err
	}

	conflictApply := payload.NewCollection(payload.SourceRemoteConflict, in.ConflictsDecrypted...)
	conflict, err := payload.DeltaRemoteConflict(in.Base, conflictApply)
	if err != nil {
		return ResolverOutput{}, err
	}

	return ResolverOutput{RemoteRetrieved: retrieved, RemoteSaved: saved, RemoteConflict: conflict}, nil
}
