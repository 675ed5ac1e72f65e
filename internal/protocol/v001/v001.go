// Package v001 is the oldest supported protocol operator: PBKDF2 +
// AES-CBC + HMAC-SHA256, root key wraps content directly (no items-keys).
// Read-only compatibility path (spec §4.1).
package v001

import (
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/protocol/legacy"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

const costFloor = 3000

// Operator is the 001 protocol operator.
type Operator struct{ *legacy.Operator }

// New constructs a 001 operator.
func New() *Operator {
	return &Operator{legacy.New(legacy.Config{
		Version:         rootkey.V001,
		CostFloor:       costFloor,
		SeparateAuthKey: false,
	})}
}

var _ protocol.Operator = (*Operator)(nil)
