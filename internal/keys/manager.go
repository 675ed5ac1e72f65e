// Package keys implements the Key Manager (spec §4.3): it owns the root
// key and the items-keys collection, decides which key wraps which
// payload, and wraps the root key at rest behind an optional local
// passcode.
package keys

import (
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/errs"
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

// itemsKeyContentType is the content-type tag of an items-key item: it is
// itself wrapped under the root key, never under another items-key.
const itemsKeyContentType = "SN|ItemsKey"

// KeyMode names the combination of key material currently available
// (spec §4.3).
type KeyMode int

const (
	// RootKeyNone: no key material at all (signed out / pre-registration).
	RootKeyNone KeyMode = iota
	// RootKeyOnly: root key in memory, no at-rest wrapper.
	RootKeyOnly
	// WrapperOnly: a local passcode wraps cached key material, but the
	// root key has not yet been unwrapped this session.
	WrapperOnly
	// RootKeyPlusWrapper: root key in memory AND a local passcode wraps
	// it at rest for the next launch.
	RootKeyPlusWrapper
)

func (m KeyMode) String() string {
	switch m {
	case RootKeyNone:
		return "RootKeyNone"
	case RootKeyOnly:
		return "RootKeyOnly"
	case WrapperOnly:
		return "WrapperOnly"
	case RootKeyPlusWrapper:
		return "RootKeyPlusWrapper"
	default:
		return "unknown"
	}
}

// itemsKeyEntry is one stored items-key, identified by its item uuid.
type itemsKeyEntry struct {
	id       string
	material protocol.ItemsKeyMaterial
	version  rootkey.Version
}

// Observer is notified when a new items-key becomes available, so a
// caller (the Protocol Manager / Model Manager boundary) can re-attempt
// decryption of payloads marked waitingForKey.
type Observer func(itemsKeyID string)

// Manager owns the root key and items-keys collection for one signed-in
// session. All methods are safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	rootKey    *rootkey.Key
	itemsKeys  map[string]itemsKeyEntry
	defaultID  string // items-key used to wrap new 004 content

	wrapperKey []byte // XChaCha20-Poly1305 key derived from a local passcode, or nil

	observers []Observer
}

// NewManager constructs an empty Key Manager (mode RootKeyNone).
func NewManager() *Manager {
	return &Manager{itemsKeys: make(map[string]itemsKeyEntry)}
}

// Mode reports the current KeyMode.
func (m *Manager) Mode() KeyMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode()
}

func (m *Manager) mode() KeyMode {
	switch {
	case m.rootKey != nil && m.wrapperKey != nil:
		return RootKeyPlusWrapper
	case m.rootKey != nil:
		return RootKeyOnly
	case m.wrapperKey != nil:
		return WrapperOnly
	default:
		return RootKeyNone
	}
}

// SetRootKey installs key as the active root key (e.g. after register or
// sign-in completes).
func (m *Manager) SetRootKey(key rootkey.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key
	m.rootKey = &k
}

// RootKey returns the active root key, or false if none is set.
func (m *Manager) RootKey() (rootkey.Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rootKey == nil {
		return rootkey.Key{}, false
	}
	return *m.rootKey, true
}

// ClearRootKey drops the in-memory root key (sign-out), leaving any
// at-rest wrapper untouched.
func (m *Manager) ClearRootKey() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootKey = nil
}

// AddObserver registers fn to be called whenever a new items-key arrives.
func (m *Manager) AddObserver(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// AddItemsKey stores material under id as a 004 items-key, makes it the
// default for new encryptions, and notifies observers so payloads
// previously waiting on this key can be retried.
func (m *Manager) AddItemsKey(id string, material protocol.ItemsKeyMaterial) {
	m.mu.Lock()
	m.itemsKeys[id] = itemsKeyEntry{id: id, material: material, version: rootkey.V004}
	m.defaultID = id
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(id)
	}
}

// ItemsKey returns the stored items-key material for id.
func (m *Manager) ItemsKey(id string) (protocol.ItemsKeyMaterial, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.itemsKeys[id]
	return e.material, ok
}

// DefaultItemsKeyID returns the items-key used to wrap new 004 content,
// or "" if none has been created/received yet.
func (m *Manager) DefaultItemsKeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultID
}

// rootEncryptionKey assembles the EncryptionKey.Raw convention each
// protocol version expects from the root key: 32 bytes (masterKey) for
// 001/002/004, or masterKey‖dataAuthenticationKey (64 bytes) for 003,
// the only version with an independent authentication key.
func rootEncryptionKey(key rootkey.Key, version rootkey.Version) (protocol.EncryptionKey, error) {
	if version == rootkey.V003 {
		if len(key.DataAuthenticationKey) == 0 {
			return protocol.EncryptionKey{}, errs.ErrMissingKey
		}
		raw := append(append([]byte(nil), key.MasterKey...), key.DataAuthenticationKey...)
		return protocol.EncryptionKey{Raw: raw}, nil
	}
	return protocol.EncryptionKey{Raw: append([]byte(nil), key.MasterKey...)}, nil
}

// KeyToUseForEncryptionOfPayload implements keyToUseForEncryptionOfPayload
// (spec §4.3): items-key content always wraps under the root key;
// everything else wraps under the default items-key for 004, or the root
// key for legacy versions.
func (m *Manager) KeyToUseForEncryptionOfPayload(contentType string, version rootkey.Version) (protocol.EncryptionKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.rootKey == nil {
		return protocol.EncryptionKey{}, errs.ErrMissingKey
	}
	if contentType == itemsKeyContentType {
		return rootEncryptionKey(*m.rootKey, version)
	}
	if version != rootkey.V004 {
		return rootEncryptionKey(*m.rootKey, version)
	}
	if m.defaultID == "" {
		return protocol.EncryptionKey{}, errs.ErrMissingKey
	}
	entry := m.itemsKeys[m.defaultID]
	return protocol.EncryptionKey{Raw: entry.material.ItemsKey, ID: entry.id}, nil
}

// KeyToUseForDecryptionOfPayload implements keyToUseForDecryptionOfPayload
// (spec §4.3). isItemsKey tells it the payload is itself an items-key item
// (always root-key wrapped). For regular 004 items, itemsKeyID names which
// stored items-key to use; a missing items-key returns ok=false so the
// caller marks the payload waitingForKey instead of failing outright.
func (m *Manager) KeyToUseForDecryptionOfPayload(isItemsKey bool, itemsKeyID string, version rootkey.Version) (protocol.EncryptionKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.rootKey == nil {
		return protocol.EncryptionKey{}, false, errs.ErrMissingKey
	}
	if isItemsKey || version != rootkey.V004 {
		key, err := rootEncryptionKey(*m.rootKey, version)
		if err != nil {
			return protocol.EncryptionKey{}, false, err
		}
		return key, true, nil
	}
	entry, ok := m.itemsKeys[itemsKeyID]
	if !ok {
		return protocol.EncryptionKey{}, false, nil
	}
	return protocol.EncryptionKey{Raw: entry.material.ItemsKey, ID: entry.id}, true, nil
}

// --- passcode wrapper at rest ---

// wrapperKeyFromPasscode derives an XChaCha20-Poly1305 key from a local
// passcode and salt via Argon2id, reusing the same cost floor as the 004
// root-key KDF (spec §4.3's "app-level wrapper").
func wrapperKeyFromPasscode(passcode string, salt []byte) []byte {
	return provider.Argon2idKey([]byte(passcode), salt, provider.Argon2idParams{
		Time: 5, MemKiB: 64 * 1024, Threads: 1, KeyLen: chacha20poly1305.KeySize,
	})
}

// SetPasscode derives the at-rest wrapper key from passcode and salt and
// installs it, moving the mode from RootKeyOnly to RootKeyPlusWrapper (or
// from RootKeyNone to WrapperOnly before a root key is loaded).
func (m *Manager) SetPasscode(passcode string, salt []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrapperKey = wrapperKeyFromPasscode(passcode, salt)
}

// ClearPasscode removes the at-rest wrapper; cached wrapped key material
// can no longer be unwrapped until SetPasscode is called again with the
// matching passcode/salt.
func (m *Manager) ClearPasscode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrapperKey = nil
}

// WrapRootKeyAtRest seals the active root key under the installed
// passcode wrapper, for local persistence. Returns ErrMissingKey if
// either the root key or the wrapper is not set.
func (m *Manager) WrapRootKeyAtRest() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rootKey == nil || m.wrapperKey == nil {
		return nil, errs.ErrMissingKey
	}
	aead, err := chacha20poly1305.NewX(m.wrapperKey)
	if err != nil {
		return nil, err
	}
	nonce, err := provider.RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	plaintext := rootKeyToBytes(*m.rootKey)
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(m.rootKey.Version))
	return sealed, nil
}

// UnwrapRootKeyAtRest reverses WrapRootKeyAtRest, installing the result as
// the active root key on success.
func (m *Manager) UnwrapRootKeyAtRest(sealed []byte, version rootkey.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wrapperKey == nil {
		return errs.ErrMissingKey
	}
	aead, err := chacha20poly1305.NewX(m.wrapperKey)
	if err != nil {
		return err
	}
	if len(sealed) < aead.NonceSize() {
		return errs.ErrDecryptFailure
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, []byte(version))
	if err != nil {
		return errs.ErrDecryptFailure
	}
	key, err := rootKeyFromBytes(plaintext, version)
	if err != nil {
		return err
	}
	m.rootKey = &key
	return nil
}

// rootKeyToBytes/rootKeyFromBytes give the wrapper path a fixed-length
// plaintext to seal: masterKey ‖ serverPassword ‖ dataAuthenticationKey,
// the latter present only for 003 (zero-length otherwise).
func rootKeyToBytes(key rootkey.Key) []byte {
	out := make([]byte, 0, len(key.MasterKey)+len(key.ServerPassword)+len(key.DataAuthenticationKey))
	out = append(out, key.MasterKey...)
	out = append(out, key.ServerPassword...)
	out = append(out, key.DataAuthenticationKey...)
	return out
}

func rootKeyFromBytes(b []byte, version rootkey.Version) (rootkey.Key, error) {
	if len(b) < 64 {
		return rootkey.Key{}, errs.ErrValidation
	}
	key := rootkey.Key{
		MasterKey:      append([]byte(nil), b[:32]...),
		ServerPassword: append([]byte(nil), b[32:64]...),
		Version:        version,
	}
	if version == rootkey.V003 {
		if len(b) < 96 {
			return rootkey.Key{}, errs.ErrValidation
		}
		key.DataAuthenticationKey = append([]byte(nil), b[64:96]...)
	}
	return key, nil
}
