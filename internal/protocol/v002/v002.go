// Package v002 raises the PBKDF2 cost floor over 001; same AES-CBC+HMAC
// composition, still no items-keys. Read-only compatibility path (spec
// §4.1).
package v002

import (
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/protocol/legacy"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

const costFloor = 60000

// Operator is the 002 protocol operator.
type Operator struct{ *legacy.Operator }

// New constructs a 002 operator.
func New() *Operator {
	return &Operator{legacy.New(legacy.Config{
		Version:         rootkey.V002,
		CostFloor:       costFloor,
		SeparateAuthKey: false,
	})}
}

var _ protocol.Operator = (*Operator)(nil)
