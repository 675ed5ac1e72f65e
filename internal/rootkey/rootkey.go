// Package rootkey defines the root encryption key and the public
// parameters needed to rederive it from a password.
package rootkey

import "github.com/and161185/gokeeper-core/internal/crypto/provider"

// Version is a 3-char protocol tag, e.g. "004".
type Version string

const (
	V001 Version = "001"
	V002 Version = "002"
	V003 Version = "003"
	V004 Version = "004"
)

// Key holds the root key material. MasterKey encrypts/wraps content;
// ServerPassword authenticates the client to the server and is never used
// for encryption. DataAuthenticationKey exists only for 003.
type Key struct {
	MasterKey             []byte
	ServerPassword        []byte
	DataAuthenticationKey []byte
	Version               Version
}

// Equal compares two keys structurally in constant time on each field.
func (k Key) Equal(other Key) bool {
	if k.Version != other.Version {
		return false
	}
	if !provider.ConstantTimeEqual(k.MasterKey, other.MasterKey) {
		return false
	}
	if !provider.ConstantTimeEqual(k.ServerPassword, other.ServerPassword) {
		return false
	}
	if len(k.DataAuthenticationKey) == 0 && len(other.DataAuthenticationKey) == 0 {
		return true
	}
	return provider.ConstantTimeEqual(k.DataAuthenticationKey, other.DataAuthenticationKey)
}

// Params are the public parameters needed to recompute a root Key from a
// password. Version-specific field presence is enforced by the protocol
// operator that produced them, not by this struct (mirrors spec's
// "version-specialized subtypes guard field names per version").
type Params struct {
	Identifier string
	Version    Version

	// 004 (Argon2id)
	PwNonce string
	MemKiB  uint32
	Time    uint32

	// 001-003 (PBKDF2)
	PwSalt        string
	KdfIterations int
}
