// Package provider wraps the platform crypto primitives the protocol
// operators are built from: random bytes, hashing, key derivation and
// AEAD. It holds no protocol knowledge of its own (no wire format, no
// versioning) so that each protocol operator composes it differently.
package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// UUID returns a fresh random (v4) identity.
func UUID() (uuid.UUID, error) {
	return uuid.NewV4()
}

// SHA256 returns the SHA-256 digest of b.
func SHA256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// HKDFExpand derives n bytes from secret using HKDF-SHA256 with the given
// salt and info. Used by the 001/002 legacy operators to derive their HMAC
// sub-key from the encryption key.
func HKDFExpand(secret, salt, info []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Argon2idParams are the cost parameters for the 004 root-key KDF.
type Argon2idParams struct {
	Time    uint32
	MemKiB  uint32
	Threads uint8
	KeyLen  uint32
}

// Argon2idKey derives KeyLen bytes from password and salt using Argon2id.
func Argon2idKey(password, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemKiB, p.Threads, p.KeyLen)
}

// PBKDF2Key derives keyLen bytes from password and salt using PBKDF2-SHA256,
// for the legacy (001-003) KDF path.
func PBKDF2Key(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// AESGCMSeal encrypts plaintext under key with the given nonce and AAD,
// returning ciphertext||tag. Caller owns nonce uniqueness.
func AESGCMSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AESGCMOpen decrypts ciphertext (ciphertext||tag) under key with the given
// nonce and AAD. Any failure — wrong key, wrong nonce, or AAD byte mismatch —
// returns a non-nil error; callers translate this into errs.ErrDecryptFailure.
func AESGCMOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

// newGCM builds a GCM AEAD accepting the given nonce size: the 004 wire
// format uses a 192-bit (24-byte) nonce rather than the AES-GCM default of
// 96 bits, so the standard constructor (fixed at 12 bytes) does not fit.
func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize <= 0 {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// AESCBCEncrypt pads with PKCS#7 and encrypts under key with the given iv.
// Used only by the legacy (001-003) operators.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESCBCDecrypt decrypts and un-pads a CBC ciphertext produced by AESCBCEncrypt.
func AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("provider: bad ciphertext length")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+padLen)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("provider: empty block on unpad")
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > len(b) {
		return nil, errors.New("provider: bad padding")
	}
	for _, c := range b[len(b)-padLen:] {
		if int(c) != padLen {
			return nil, errors.New("provider: bad padding")
		}
	}
	return b[:len(b)-padLen], nil
}

// HMACSHA256 returns the HMAC-SHA256 of msg under key, used by the legacy
// encrypt-then-MAC composition (001-003).
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are equal, in constant time
// with respect to their shared content (a timing leak remains if lengths
// differ, which is itself not secret for the uses in this repo: RootKey
// and MAC comparisons always compare fixed-length material).
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
