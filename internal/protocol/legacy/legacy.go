// Package legacy implements the shared PBKDF2 + AES-CBC + HMAC-SHA256
// composition behind protocol versions 001-003 (spec §4.1: "read-only
// paths allowed"). Versions 001/002 and 003 differ only in whether the
// root key carries an independent dataAuthenticationKey; the v001/v002/v003
// packages each supply a Config and re-export an Operator.
package legacy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/errs"
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

const (
	ivLen         = 16
	macLen        = 32
	contentKeyLen = 32
	pwSaltLen     = 16
)

// Config distinguishes the three legacy versions.
type Config struct {
	Version rootkey.Version

	// CostFloor is this version's minimum PBKDF2 iteration count.
	CostFloor int

	// SeparateAuthKey is true for 003, which carries its own
	// dataAuthenticationKey distinct from the master encryption key.
	SeparateAuthKey bool
}

// Operator implements protocol.Operator for one legacy version.
type Operator struct {
	cfg Config
}

// New constructs a legacy operator for the given config.
func New(cfg Config) *Operator { return &Operator{cfg: cfg} }

var _ protocol.Operator = (*Operator)(nil)

func (o *Operator) Version() rootkey.Version { return o.cfg.Version }

func (o *Operator) KDFCostFloor() int { return o.cfg.CostFloor }

// derivedKeyLen is 64 bytes (master+server) for 001/002, 96 bytes
// (master+server+dataAuth) for 003.
func (o *Operator) derivedKeyLen() int {
	if o.cfg.SeparateAuthKey {
		return 96
	}
	return 64
}

func (o *Operator) CreateRootKey(identifier, password string) (rootkey.Key, rootkey.Params, error) {
	salt, err := provider.RandomBytes(pwSaltLen)
	if err != nil {
		return rootkey.Key{}, rootkey.Params{}, err
	}
	params := rootkey.Params{
		Identifier:    identifier,
		Version:       o.cfg.Version,
		PwSalt:        base64.StdEncoding.EncodeToString(salt),
		KdfIterations: o.cfg.CostFloor,
	}
	key, err := o.ComputeRootKey(password, params)
	return key, params, err
}

func (o *Operator) ComputeRootKey(password string, params rootkey.Params) (rootkey.Key, error) {
	if params.Version != o.cfg.Version {
		return rootkey.Key{}, fmt.Errorf("legacy %s: params version %q mismatch", o.cfg.Version, params.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(params.PwSalt)
	if err != nil {
		return rootkey.Key{}, fmt.Errorf("legacy %s: bad salt encoding: %w", o.cfg.Version, err)
	}
	iterations := params.KdfIterations
	if iterations <= 0 {
		iterations = o.cfg.CostFloor
	}
	material := provider.PBKDF2Key([]byte(password), salt, iterations, o.derivedKeyLen())
	key := rootkey.Key{
		MasterKey:      append([]byte(nil), material[:32]...),
		ServerPassword: append([]byte(nil), material[32:64]...),
		Version:        o.cfg.Version,
	}
	if o.cfg.SeparateAuthKey {
		key.DataAuthenticationKey = append([]byte(nil), material[64:96]...)
	}
	return key, nil
}

// CreateItemsKey: legacy versions predate items-keys; content wraps
// directly under the root key (spec §4.1). Calling this is a programmer
// error in the legacy path.
func (o *Operator) CreateItemsKey() (protocol.ItemsKeyMaterial, error) {
	return protocol.ItemsKeyMaterial{}, fmt.Errorf("legacy %s: no items-keys in this protocol version: %w", o.cfg.Version, errs.ErrProgrammer)
}

// authKeyFor picks the HMAC key: the root key's own dataAuthenticationKey
// for 003, or an HKDF-derived sub-key of the encryption key for 001/002 so
// the same key material is never used for both AES and HMAC.
func (o *Operator) authKeyFor(key protocol.EncryptionKey) ([]byte, error) {
	if o.cfg.SeparateAuthKey {
		// callers pass the dataAuthenticationKey as key.Raw's companion via
		// the 32 trailing bytes convention used by Encrypt/Decrypt below.
		if len(key.Raw) < 64 {
			return nil, fmt.Errorf("legacy %s: key material too short for separate auth key", o.cfg.Version)
		}
		return key.Raw[32:64], nil
	}
	return provider.HKDFExpand(o.encKeyFor(key), nil, []byte("auth"), 32)
}

func (o *Operator) encKeyFor(key protocol.EncryptionKey) []byte {
	if len(key.Raw) >= 32 {
		return key.Raw[:32]
	}
	return key.Raw
}

type aadBody struct {
	U string `json:"u"`
	V string `json:"v"`
}

func (o *Operator) Encrypt(in protocol.EncryptionInput, key protocol.EncryptionKey) (protocol.EncryptionOutput, error) {
	if len(key.Raw) < 32 {
		return protocol.EncryptionOutput{}, fmt.Errorf("legacy %s: no encryption key supplied", o.cfg.Version)
	}
	contentKey, err := provider.RandomBytes(contentKeyLen)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	plaintext, err := json.Marshal(in.Content)
	if err != nil {
		return protocol.EncryptionOutput{}, fmt.Errorf("legacy %s: marshal content: %w", o.cfg.Version, err)
	}
	aad, err := json.Marshal(aadBody{U: in.UUID, V: string(o.cfg.Version)})
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}

	contentWire, err := o.seal(contentKey, key, aad, plaintext)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	keyWire, err := o.seal(o.encKeyFor(key), key, aad, contentKey)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	return protocol.EncryptionOutput{Content: contentWire, EncItemKey: keyWire}, nil
}

func (o *Operator) seal(encKey []byte, authSrc protocol.EncryptionKey, aad, plaintext []byte) (string, error) {
	iv, err := provider.RandomBytes(ivLen)
	if err != nil {
		return "", err
	}
	ct, err := provider.AESCBCEncrypt(encKey, iv, plaintext)
	if err != nil {
		return "", err
	}
	authKey, err := o.authKeyFor(authSrc)
	if err != nil {
		return "", err
	}
	mac := provider.HMACSHA256(authKey, append(append(append([]byte(nil), aad...), iv...), ct...))
	return fmt.Sprintf("%s:%s:%s:%s",
		o.cfg.Version,
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(mac),
	), nil
}

func (o *Operator) Decrypt(in protocol.DecryptionInput, key protocol.EncryptionKey) (protocol.DecryptionOutput, error) {
	fail := func() protocol.DecryptionOutput {
		return protocol.DecryptionOutput{ErrorDecrypting: true, ErrorDecryptingValueChanged: !in.PriorErrorDecrypting}
	}
	if len(key.Raw) < 32 {
		return fail(), nil
	}
	aad, err := json.Marshal(aadBody{U: in.UUID, V: string(o.cfg.Version)})
	if err != nil {
		return fail(), nil
	}

	contentKey, err := o.openVerified(key, o.encKeyFor(key), in.EncItemKey, aad)
	if err != nil {
		return fail(), nil
	}
	plaintext, err := o.openVerified(key, contentKey, in.Content, aad)
	if err != nil {
		return fail(), nil
	}
	var content any
	if err := json.Unmarshal(plaintext, &content); err != nil {
		return fail(), nil
	}
	return protocol.DecryptionOutput{
		Content:                     content,
		ErrorDecrypting:             false,
		ErrorDecryptingValueChanged: in.PriorErrorDecrypting,
	}, nil
}

// openVerified parses the wire string, checks its HMAC against the
// caller-supplied aad, and returns the decrypted plaintext.
func (o *Operator) openVerified(authSrc protocol.EncryptionKey, encKey []byte, wire string, aad []byte) ([]byte, error) {
	parts := strings.SplitN(wire, ":", 4)
	if len(parts) != 4 || rootkey.Version(parts[0]) != o.cfg.Version {
		return nil, fmt.Errorf("legacy %s: malformed wire payload", o.cfg.Version)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, err
	}
	mac, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, err
	}
	authKey, err := o.authKeyFor(authSrc)
	if err != nil {
		return nil, err
	}
	expected := provider.HMACSHA256(authKey, append(append(append([]byte(nil), aad...), iv...), ct...))
	if !provider.ConstantTimeEqual(mac, expected) {
		return nil, fmt.Errorf("legacy %s: mac mismatch", o.cfg.Version)
	}
	return provider.AESCBCDecrypt(encKey, iv, ct)
}
