package main

import (
	"context"
	"fmt"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/item"
	"github.com/and161185/gokeeper-core/internal/keys"
	"github.com/and161185/gokeeper-core/internal/payload"
	"github.com/and161185/gokeeper-core/internal/protocol"
)

// itemsKeyContentType mirrors internal/sync's private constant of the same
// name: the content type an items-key payload carries, which decides
// whether it must be unwrapped under the root key rather than an items-key.
const itemsKeyContentType = "SN|ItemsKey"

// session bundles the collaborators one CLI invocation needs, wired the
// way a long-lived process (the core's actual caller) would keep them:
// one Protocol Manager, one Key Manager, one Model Manager, one Store.
type session struct {
	proto *protocol.Manager
	keys  *keys.Manager
	items *item.Manager
	store *FileStore
}

// openSession unwraps the root key from disk under passcode, loads the
// items-key stored in the clear beside it, then loads and decrypts
// whatever is already in the local store into the item graph.
func openSession(ctx context.Context, passcode string) (*session, error) {
	ident, err := loadIdentity()
	if err != nil {
		return nil, fmt.Errorf("no identity on disk; run init first: %w", err)
	}

	protoMgr := protocol.NewManager()
	keysMgr := keys.NewManager()
	keysMgr.SetPasscode(passcode, ident.Salt)
	if err := keysMgr.UnwrapRootKeyAtRest(ident.Sealed, ident.Version); err != nil {
		return nil, fmt.Errorf("unwrap root key (wrong passcode?): %w", err)
	}

	ikFile, err := loadItemsKey()
	if err != nil {
		return nil, fmt.Errorf("no items-key on disk; run init first: %w", err)
	}
	keysMgr.AddItemsKey(ikFile.ID, protocol.ItemsKeyMaterial{ItemsKey: ikFile.ItemsKey})

	itemsMgr := item.NewManager()
	store := NewFileStore(storePath())

	raw, err := store.GetAllRawPayloads(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		decrypted, err := decryptStored(protoMgr, keysMgr, raw)
		if err != nil {
			return nil, err
		}
		itemsMgr.MapPayloadsToLocalItems(decrypted)
	}

	return &session{proto: protoMgr, keys: keysMgr, items: itemsMgr, store: store}, nil
}

// decryptStored mirrors the Sync Engine's decryptAll for payloads loaded
// from local storage rather than a server response: same per-item key
// resolution, same errorDecrypting/waitingForKey containment.
func decryptStored(protoMgr *protocol.Manager, keysMgr *keys.Manager, raw []*payload.Payload) ([]*payload.Payload, error) {
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
		version := protoMgr.CurrentVersion()
		if s, ok := req.Content.(string); ok {
			if v, err := protoMgr.VersionForWireString(s); err == nil {
				version = v
			}
		}
		key, ok, err := keysMgr.KeyToUseForDecryptionOfPayload(isItemsKey, p.ItemsKeyID(), version)
		if err != nil || !ok {
			return nil
		}
		return &key
	}

	results, err := protoMgr.DecryptPayloads(reqs, keyFor, false)
	if err != nil {
		return nil, err
	}

	out := make([]*payload.Payload, len(raw))
	for i, res := range results {
		out[i] = payload.DecryptionParametersPayload(raw[i], res.Content, res.ErrorDecrypting, res.ErrorDecryptingValueChanged, res.WaitingForKey)
	}
	return out, nil
}

// initIdentity registers identifier/password as a fresh identity: derives a root
// key, seals it at rest under the password, and mints a first items-key.
func initIdentity(identifier, passcode string) error {
	protoMgr := protocol.NewManager()
	root, params, err := protoMgr.CurrentOperator().CreateRootKey(identifier, passcode)
	if err != nil {
		return err
	}

	salt, err := provider.RandomBytes(16)
	if err != nil {
		return err
	}
	keysMgr := keys.NewManager()
	keysMgr.SetRootKey(root)
	keysMgr.SetPasscode(passcode, salt)
	sealed, err := keysMgr.WrapRootKeyAtRest()
	if err != nil {
		return err
	}
	if err := saveIdentity(identityFile{
		Identifier: identifier,
		Salt:       salt,
		Sealed:     sealed,
		Version:    root.Version,
		Params:     params,
	}); err != nil {
		return err
	}

	material, err := protoMgr.CurrentOperator().CreateItemsKey()
	if err != nil {
		return err
	}
	id, err := provider.UUID()
	if err != nil {
		return err
	}
	return saveItemsKey(itemsKeyFile{ID: id.String(), ItemsKey: material.ItemsKey})
}
