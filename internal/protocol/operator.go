// Package protocol implements the version-parameterized Protocol Operator
// contract (spec §4.1): root key derivation, item-level authenticated
// encryption, key wrapping, with backward-compat read paths for legacy
// protocol versions 001-003 alongside the current version 004.
package protocol

import (
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

// Format mirrors payload.Format without importing the payload package,
// keeping protocol operators ignorant of the wider Payload type; the
// Protocol Manager is the seam that translates between the two.
type Format string

const (
	FormatEncryptedString       Format = "EncryptedString"
	FormatDecryptedBareObject   Format = "DecryptedBareObject"
	FormatDecryptedBase64String Format = "DecryptedBase64String"
)

// EncryptionInput is everything an operator needs to encrypt one payload's
// content, decoupled from the Payload type itself.
type EncryptionInput struct {
	UUID        string
	ContentType string
	Content     any // decoded object to be JSON-encoded, or a base64 string
	Format      Format
}

// EncryptionOutput is the projection generateEncryptionParameters returns
// (spec §4.1): the wire content string plus the wrapped item key.
type EncryptionOutput struct {
	Content     string
	EncItemKey  string
	ItemsKeyID  string // 004 only; "" for legacy versions
}

// DecryptionInput is everything an operator needs to decrypt one payload.
type DecryptionInput struct {
	UUID        string
	ContentType string
	Content     string // wire-format encrypted string
	EncItemKey  string

	// PriorErrorDecrypting is the payload's errorDecrypting flag before
	// this attempt, so the operator can report whether this attempt's
	// outcome changed it (spec §4.1): a failed attempt reports
	// ErrorDecryptingValueChanged = !PriorErrorDecrypting, a successful one
	// reports ErrorDecryptingValueChanged = PriorErrorDecrypting.
	PriorErrorDecrypting bool
}

// DecryptionOutput is the projection generateDecryptedParameters returns:
// either decoded Content, or an error-marked result (spec §4.1 failure
// semantics — AEAD failure never throws to the sync loop).
type DecryptionOutput struct {
	Content                     any
	ErrorDecrypting             bool
	ErrorDecryptingValueChanged bool
}

// ItemsKeyMaterial is the symmetric content produced by createItemsKey
// (004 only): the item-wrapping key plus, for 003 compatibility, a
// per-items-key authentication key.
type ItemsKeyMaterial struct {
	ItemsKey              []byte
	DataAuthenticationKey []byte
}

// EncryptionKey is the key material an operator wraps content under: the
// root key for legacy versions and items-key content, or an items-key's
// symmetric key for 004 regular items. Operators do not know which case
// applies — the Key Manager decides and hands over the right material.
type EncryptionKey struct {
	Raw []byte // the actual wrapping key bytes
	ID  string // items_key_id, "" when wrapping under the root key
}

// Operator is the version-agnostic surface every protocol version
// implements (spec §4.1).
type Operator interface {
	// Version returns this operator's 3-char protocol tag.
	Version() rootkey.Version

	// KDFCostFloor returns the static cost floor for this version's KDF
	// (spec's costMinimumForVersion / kdfIterations / pwCost).
	KDFCostFloor() int

	// CreateRootKey derives a fresh root key for (identifier, password),
	// generating new KDF parameters, and returns both the key and the
	// public params needed to rederive it.
	CreateRootKey(identifier, password string) (rootkey.Key, rootkey.Params, error)

	// ComputeRootKey deterministically rederives a root key from a
	// password and previously stored params.
	ComputeRootKey(password string, params rootkey.Params) (rootkey.Key, error)

	// CreateItemsKey generates fresh items-key material. Only 004
	// operators implement this meaningfully; legacy operators return
	// ErrProgrammer since versions <004 wrap content directly under the
	// root key.
	CreateItemsKey() (ItemsKeyMaterial, error)

	// Encrypt produces the encrypted projection of in under key, without
	// mutating anything the caller owns.
	Encrypt(in EncryptionInput, key EncryptionKey) (EncryptionOutput, error)

	// Decrypt produces the decrypted projection of in under key. AEAD or
	// composition failures are reported via the output's error flags,
	// never via the returned error (spec §4.1/§7 failure containment);
	// the returned error is reserved for programmer misuse (e.g. a nil
	// key).
	Decrypt(in DecryptionInput, key EncryptionKey) (DecryptionOutput, error)
}
