// Package v004 implements the current protocol operator: Argon2id root-key
// derivation and AES-256-GCM item encryption with per-item content keys
// wrapped under an items-key (spec §4.1).
package v004

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/and161185/gokeeper-core/internal/crypto/provider"
	"github.com/and161185/gokeeper-core/internal/errs"
	"github.com/and161185/gokeeper-core/internal/protocol"
	"github.com/and161185/gokeeper-core/internal/rootkey"
)

const (
	version        = rootkey.V004
	costFloor      = 5 // spec §8 scenario 1: costMinimumForVersion("004") == 5
	argonMemKiB    = 64 * 1024
	argonThreads   = 1
	rootKeyLen     = 64 // split into 32-byte masterKey + 32-byte serverPassword
	contentKeyLen  = 32 // 256-bit
	nonceLen       = 24 // 192-bit, per spec §4.1/§6
	pwNonceLen     = 16
)

// Operator is the 004 protocol operator.
type Operator struct{}

// New constructs a 004 operator. It is stateless; the same value can be
// shared across goroutines and cached for the lifetime of the Protocol
// Manager.
func New() *Operator { return &Operator{} }

var _ protocol.Operator = (*Operator)(nil)

// Version returns "004".
func (o *Operator) Version() rootkey.Version { return version }

// KDFCostFloor returns the static Argon2id cost floor for this version.
func (o *Operator) KDFCostFloor() int { return costFloor }

func argonParams() provider.Argon2idParams {
	return provider.Argon2idParams{Time: costFloor, MemKiB: argonMemKiB, Threads: argonThreads, KeyLen: rootKeyLen}
}

// deriveSalt computes the deterministic per-identity KDF salt from the
// identifier and a per-registration random seed (spec §4.1: "salt =
// deterministic_hash(identifier ‖ seed)").
func deriveSalt(identifier, pwNonceHex string) []byte {
	digest := provider.SHA256([]byte(identifier + pwNonceHex))
	return digest[:]
}

// CreateRootKey generates a fresh pw_nonce and derives a new root key.
func (o *Operator) CreateRootKey(identifier, password string) (rootkey.Key, rootkey.Params, error) {
	seed, err := provider.RandomBytes(pwNonceLen)
	if err != nil {
		return rootkey.Key{}, rootkey.Params{}, err
	}
	pwNonce := hex.EncodeToString(seed)
	params := rootkey.Params{
		Identifier: identifier,
		Version:    version,
		PwNonce:    pwNonce,
		MemKiB:     argonMemKiB,
		Time:       costFloor,
	}
	key, err := o.ComputeRootKey(password, params)
	return key, params, err
}

// ComputeRootKey deterministically rederives the root key from a password
// and previously stored params.
func (o *Operator) ComputeRootKey(password string, params rootkey.Params) (rootkey.Key, error) {
	if params.Version != version {
		return rootkey.Key{}, fmt.Errorf("v004: params version %q != 004", params.Version)
	}
	salt := deriveSalt(params.Identifier, params.PwNonce)
	p := argonParams()
	if params.Time != 0 {
		p.Time = params.Time
	}
	if params.MemKiB != 0 {
		p.MemKiB = params.MemKiB
	}
	material := provider.Argon2idKey([]byte(password), salt, p)
	return rootkey.Key{
		MasterKey:      append([]byte(nil), material[:32]...),
		ServerPassword: append([]byte(nil), material[32:64]...),
		Version:        version,
	}, nil
}

// CreateItemsKey generates fresh 256-bit items-key material.
func (o *Operator) CreateItemsKey() (protocol.ItemsKeyMaterial, error) {
	key, err := provider.RandomBytes(contentKeyLen)
	if err != nil {
		return protocol.ItemsKeyMaterial{}, err
	}
	authKey, err := provider.RandomBytes(contentKeyLen)
	if err != nil {
		return protocol.ItemsKeyMaterial{}, err
	}
	return protocol.ItemsKeyMaterial{ItemsKey: key, DataAuthenticationKey: authKey}, nil
}

type aad struct {
	U  string `json:"u"`
	CT string `json:"ct,omitempty"`
	V  string `json:"v"`
}

// contentAAD binds the content ciphertext to both the item's uuid and its
// content_type, so swapping ciphertexts across items (or across an item's
// content types) fails AEAD (spec §4.1/§6/§8).
func contentAAD(uuid, contentType string) ([]byte, error) {
	return json.Marshal(aad{U: uuid, CT: contentType, V: string(version)})
}

// keyAAD binds enc_item_key to the item's uuid only, per spec §4.1's wire
// format for enc_item_key.
func keyAAD(uuid string) ([]byte, error) {
	return json.Marshal(aad{U: uuid, V: string(version)})
}

// Encrypt produces the 004 wire projection of in under key (spec §4.1/§6).
func (o *Operator) Encrypt(in protocol.EncryptionInput, key protocol.EncryptionKey) (protocol.EncryptionOutput, error) {
	if len(key.Raw) == 0 {
		return protocol.EncryptionOutput{}, fmt.Errorf("v004: no encryption key supplied: %w", errs.ErrProgrammer)
	}
	contentKey, err := provider.RandomBytes(contentKeyLen)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	plaintext, err := json.Marshal(in.Content)
	if err != nil {
		return protocol.EncryptionOutput{}, fmt.Errorf("v004: marshal content: %w", err)
	}
	contentAADBody, err := contentAAD(in.UUID, in.ContentType)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	keyAADBody, err := keyAAD(in.UUID)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}

	contentWire, err := sealWire(contentKey, contentAADBody, plaintext)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	keyWire, err := sealWire(key.Raw, keyAADBody, contentKey)
	if err != nil {
		return protocol.EncryptionOutput{}, err
	}
	return protocol.EncryptionOutput{
		Content:    contentWire,
		EncItemKey: keyWire,
		ItemsKeyID: key.ID,
	}, nil
}

func sealWire(key, aad, plaintext []byte) (string, error) {
	nonce, err := provider.RandomBytes(nonceLen)
	if err != nil {
		return "", err
	}
	ct, err := provider.AESGCMSeal(key, nonce, aad, plaintext)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s:%s",
		version,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(aad),
	), nil
}

// openWire parses nonce/ciphertext out of wire and opens them under key
// and expectedAAD. expectedAAD is always recomputed by the caller from the
// payload's current identity (uuid/content_type) rather than trusted from
// the wire string's embedded aad field, so a ciphertext swapped onto a
// different item's identity fails AEAD instead of opening silently.
func openWire(key []byte, wire string, expectedAAD []byte) ([]byte, error) {
	parts := strings.SplitN(wire, ":", 4)
	if len(parts) != 4 || rootkey.Version(parts[0]) != version {
		return nil, fmt.Errorf("v004: malformed wire payload")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("v004: bad nonce encoding: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("v004: bad ciphertext encoding: %w", err)
	}
	return provider.AESGCMOpen(key, nonce, expectedAAD, ct)
}

// Decrypt produces the decrypted projection of in under key. Any AEAD or
// parse failure is contained into the output's error flags, never returned
// as an error (spec §4.1/§7).
func (o *Operator) Decrypt(in protocol.DecryptionInput, key protocol.EncryptionKey) (protocol.DecryptionOutput, error) {
	fail := func() protocol.DecryptionOutput {
		return protocol.DecryptionOutput{
			ErrorDecrypting:             true,
			ErrorDecryptingValueChanged: !in.PriorErrorDecrypting,
		}
	}
	if len(key.Raw) == 0 {
		return fail(), nil
	}
	keyAADBody, err := keyAAD(in.UUID)
	if err != nil {
		return fail(), nil
	}
	contentKeyPlain, err := openWire(key.Raw, in.EncItemKey, keyAADBody)
	if err != nil {
		return fail(), nil
	}
	contentAADBody, err := contentAAD(in.UUID, in.ContentType)
	if err != nil {
		return fail(), nil
	}
	plaintext, err := openWire(contentKeyPlain, in.Content, contentAADBody)
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
