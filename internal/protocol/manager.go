package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/gokeeper-core/internal/errs"
	"github.com/and161185/gokeeper-core/internal/protocol/v001"
	"github.com/and161185/gokeeper-core/internal/protocol/v002"
	"github.com/and161185/gokeeper-core/internal/protocol/v003"
	"github.com/and161185/gokeeper-core/internal/protocol/v004"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

// Intent names the purpose an (en|de)cryption call serves, which governs
// the output format (spec §4.2).
type Intent string

const (
	IntentSync                        Intent = "Sync"
	IntentLocalStorageEncrypted       Intent = "LocalStorageEncrypted"
	IntentFileEncrypted               Intent = "FileEncrypted"
	IntentLocalStoragePreferEncrypted Intent = "LocalStoragePreferEncrypted"
	IntentLocalStorageDecrypted       Intent = "LocalStorageDecrypted"
	IntentFileDecrypted               Intent = "FileDecrypted"
)

// intentRequiresEncryption is true for the intents spec §4.2 lists as
// requiring a key whenever one is available.
func intentRequiresEncryption(intent Intent) bool {
	switch intent {
	case IntentSync, IntentLocalStorageEncrypted, IntentFileEncrypted, IntentLocalStoragePreferEncrypted:
		return true
	default:
		return false
	}
}

// base64Prefix is the reserved version tag for a DecryptedBase64String
// payload: content is plaintext JSON, base64-encoded, never run through a
// protocol operator (spec: content starts with "000").
const base64Prefix = "000"

// formatForIntent implements the intent/key -> format table (spec §4.2,
// "table is authoritative").
func formatForIntent(intent Intent, keySupplied bool) (Format, error) {
	switch {
	case intent == IntentSync && keySupplied:
		return FormatEncryptedString, nil
	case intent == IntentLocalStorageEncrypted && keySupplied:
		return FormatEncryptedString, nil
	case intent == IntentFileEncrypted && keySupplied:
		return FormatEncryptedString, nil
	case intent == IntentLocalStoragePreferEncrypted && keySupplied:
		return FormatEncryptedString, nil
	case intent == IntentLocalStoragePreferEncrypted && !keySupplied:
		return FormatDecryptedBareObject, nil
	case intent == IntentLocalStorageDecrypted:
		return FormatDecryptedBareObject, nil
	case intent == IntentFileDecrypted:
		return FormatDecryptedBareObject, nil
	case intent == IntentSync && !keySupplied:
		return FormatDecryptedBase64String, nil
	}
	if intentRequiresEncryption(intent) && !keySupplied {
		return "", fmt.Errorf("protocol: %s requires a key: %w", intent, errs.ErrMissingKey)
	}
	return "", fmt.Errorf("protocol: no format for intent %s (key supplied=%v): %w", intent, keySupplied, errs.ErrProgrammer)
}

// EncryptRequest is everything Manager.EncryptPayload needs, decoupled from
// the Payload type so protocol stays the narrow crypto seam.
type EncryptRequest struct {
	UUID        string
	ContentType string
	Content     any
	Intent      Intent
}

// EncryptResult is the projection the caller (the Key Manager / Model
// Manager boundary) turns back into a Payload.
type EncryptResult struct {
	Format     Format
	Content    any // string (EncryptedString/DecryptedBase64String) or the original object (DecryptedBareObject)
	EncItemKey string
	ItemsKeyID string
}

// DecryptRequest mirrors DecryptionInput plus the wire Format needed to
// know whether a protocol operator is involved at all.
type DecryptRequest struct {
	UUID                 string
	ContentType          string
	Content              any
	EncItemKey           string
	Format               Format
	PriorErrorDecrypting bool
}

// DecryptResult mirrors DecryptionOutput, plus WaitingForKey for the case
// keyFor cannot supply a key yet (spec §4.3: a missing items-key is
// contained distinctly from an AEAD failure).
type DecryptResult struct {
	Content                     any
	ErrorDecrypting             bool
	ErrorDecryptingValueChanged bool
	WaitingForKey               bool
}

// Manager is the Protocol Manager façade (spec §4.2): it memoizes one
// operator per protocol version and routes calls to the right one, without
// itself knowing anything about Payload or Item.
type Manager struct {
	operators map[rootkey.Version]Operator
	// current is the version new items-keys and fresh root keys are
	// created under.
	current rootkey.Version
}

// NewManager builds a Manager with one operator per supported version,
// memoized for the process lifetime.
func NewManager() *Manager {
	return &Manager{
		operators: map[rootkey.Version]Operator{
			rootkey.V001: v001.New(),
			rootkey.V002: v002.New(),
			rootkey.V003: v003.New(),
			rootkey.V004: v004.New(),
		},
		current: rootkey.V004,
	}
}

// CurrentVersion returns the version operator used for new root keys and
// items-keys.
func (m *Manager) CurrentVersion() rootkey.Version { return m.current }

// OperatorForVersion returns the memoized operator for version, or
// ErrProgrammer if the version is unsupported.
func (m *Manager) OperatorForVersion(version rootkey.Version) (Operator, error) {
	op, ok := m.operators[version]
	if !ok {
		return nil, fmt.Errorf("protocol: unsupported version %q: %w", version, errs.ErrProgrammer)
	}
	return op, nil
}

// CurrentOperator returns the operator for CurrentVersion.
func (m *Manager) CurrentOperator() Operator {
	return m.operators[m.current]
}

// VersionForWireString derives the protocol version from an encrypted
// string's first 3 bytes (spec's versionForPayload). Strings shorter than
// 3 bytes, or not starting with a known version tag, return an error.
func (m *Manager) VersionForWireString(content string) (rootkey.Version, error) {
	if len(content) < 3 {
		return "", fmt.Errorf("protocol: content too short to carry a version tag: %w", errs.ErrValidation)
	}
	v := rootkey.Version(content[:3])
	if _, ok := m.operators[v]; !ok {
		return "", fmt.Errorf("protocol: unrecognized version tag %q: %w", v, errs.ErrValidation)
	}
	return v, nil
}

// EncryptPayload implements payloadByEncryptingPayload (spec §4.2): route
// by intent/key-presence to a wire format, and only invoke a protocol
// operator when that format is EncryptedString.
func (m *Manager) EncryptPayload(req EncryptRequest, key *EncryptionKey) (EncryptResult, error) {
	format, err := formatForIntent(req.Intent, key != nil)
	if err != nil {
		return EncryptResult{}, err
	}
	switch format {
	case FormatDecryptedBareObject:
		return EncryptResult{Format: format, Content: req.Content}, nil
	case FormatDecryptedBase64String:
		plaintext, err := json.Marshal(req.Content)
		if err != nil {
			return EncryptResult{}, fmt.Errorf("protocol: marshal content for base64 projection: %w", err)
		}
		return EncryptResult{
			Format:  format,
			Content: base64Prefix + base64.StdEncoding.EncodeToString(plaintext),
		}, nil
	case FormatEncryptedString:
		op := m.CurrentOperator()
		out, err := op.Encrypt(EncryptionInput{
			UUID:        req.UUID,
			ContentType: req.ContentType,
			Content:     req.Content,
			Format:      format,
		}, *key)
		if err != nil {
			return EncryptResult{}, err
		}
		return EncryptResult{
			Format:     format,
			Content:    out.Content,
			EncItemKey: out.EncItemKey,
			ItemsKeyID: out.ItemsKeyID,
		}, nil
	default:
		return EncryptResult{}, fmt.Errorf("protocol: unhandled format %q: %w", format, errs.ErrProgrammer)
	}
}

// DecryptPayload implements payloadByDecryptingPayload (spec §4.2): decode
// a DecryptedBase64String projection directly, or dispatch to the operator
// named by the wire string's version tag for EncryptedString. Any failure
// is contained into the result's error flags rather than returned, except
// for caller misuse (missing key when one is required).
func (m *Manager) DecryptPayload(req DecryptRequest, key *EncryptionKey) (DecryptResult, error) {
	switch req.Format {
	case FormatDecryptedBareObject, "":
		return DecryptResult{Content: req.Content}, nil
	case FormatDecryptedBase64String:
		s, ok := req.Content.(string)
		if !ok || len(s) < len(base64Prefix) {
			return DecryptResult{ErrorDecrypting: true, ErrorDecryptingValueChanged: !req.PriorErrorDecrypting}, nil
		}
		raw, err := base64.StdEncoding.DecodeString(s[len(base64Prefix):])
		if err != nil {
			return DecryptResult{ErrorDecrypting: true, ErrorDecryptingValueChanged: !req.PriorErrorDecrypting}, nil
		}
		var content any
		if err := json.Unmarshal(raw, &content); err != nil {
			return DecryptResult{ErrorDecrypting: true, ErrorDecryptingValueChanged: !req.PriorErrorDecrypting}, nil
		}
		return DecryptResult{Content: content, ErrorDecryptingValueChanged: req.PriorErrorDecrypting}, nil
	case FormatEncryptedString:
		if key == nil {
			return DecryptResult{}, fmt.Errorf("protocol: decrypt requires a key: %w", errs.ErrMissingKey)
		}
		s, _ := req.Content.(string)
		version, err := m.VersionForWireString(s)
		if err != nil {
			return DecryptResult{ErrorDecrypting: true, ErrorDecryptingValueChanged: !req.PriorErrorDecrypting}, nil
		}
		op, err := m.OperatorForVersion(version)
		if err != nil {
			return DecryptResult{}, err
		}
		out, err := op.Decrypt(DecryptionInput{
			UUID:                 req.UUID,
			ContentType:          req.ContentType,
			Content:              s,
			EncItemKey:           req.EncItemKey,
			PriorErrorDecrypting: req.PriorErrorDecrypting,
		}, *key)
		if err != nil {
			return DecryptResult{}, err
		}
		return DecryptResult{
			Content:                     out.Content,
			ErrorDecrypting:             out.ErrorDecrypting,
			ErrorDecryptingValueChanged: out.ErrorDecryptingValueChanged,
		}, nil
	default:
		return DecryptResult{}, fmt.Errorf("protocol: unrecognized format %q: %w", req.Format, errs.ErrProgrammer)
	}
}

// DecryptPayloads implements payloadsByDecryptingPayloads (spec §4.2):
// bulk decrypt preserving input order and length, containing per-item
// errors into error-marked results unless throws is set, in which case
// the first failure aborts the whole batch.
func (m *Manager) DecryptPayloads(reqs []DecryptRequest, keyFor func(DecryptRequest) *EncryptionKey, throws bool) ([]DecryptResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	out := make([]DecryptResult, len(reqs))
	for i, req := range reqs {
		res, err := m.DecryptPayload(req, keyFor(req))
		if err != nil {
			if throws {
				return nil, err
			}
			if errors.Is(err, errs.ErrMissingKey) {
				out[i] = DecryptResult{WaitingForKey: true}
				continue
			}
			out[i] = DecryptResult{ErrorDecrypting: true, ErrorDecryptingValueChanged: !req.PriorErrorDecrypting}
			continue
		}
		out[i] = res
	}
	return out, nil
}
