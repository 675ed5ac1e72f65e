// Package v003 separates a dataAuthenticationKey from the root encryption
// key; still PBKDF2 + AES-CBC + HMAC, still no items-keys. Read-only
// compatibility path (spec §4.1).
package v003

import (
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/protocol/legacy"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

const costFloor = 110000

// Operator is the 003 protocol operator. Its EncryptionKey.Raw must be the
// concatenation of the root key's MasterKey and DataAuthenticationKey (32
// bytes each) — the Key Manager is responsible for assembling it, since
// 003 is the only version whose wrapping key and authentication key differ
// (spec §3 "RootKey ... dataAuthenticationKey (003 only)").
type Operator struct{ *legacy.Operator }

// New constructs a 003 operator.
func New() *Operator {
	return &Operator{legacy.New(legacy.Config{
		Version:         rootkey.V003,
		CostFloor:       costFloor,
		SeparateAuthKey: true,
	})}
}

var _ protocol.Operator = (*Operator)(nil)
