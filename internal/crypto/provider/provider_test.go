package provider

import (
	"bytes"
	"testing"
)

func TestRandomBytes_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 32
	a, err := RandomBytes(n)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, _ := RandomBytes(n)
	if bytes.Equal(a, b) {
		t.Fatalf("RandomBytes produced equal slices")
	}
}

func TestArgon2idKey_DeterministicAndSaltDependent(t *testing.T) {
	t.Parallel()
	p := Argon2idParams{Time: 1, MemKiB: 8 * 1024, Threads: 1, KeyLen: 64}
	pw := []byte("correct horse battery staple")
	s1 := []byte("salt-one-salt-one")
	s2 := []byte("salt-two-salt-two")

	k1 := Argon2idKey(pw, s1, p)
	k2 := Argon2idKey(pw, s1, p)
	if !ConstantTimeEqual(k1, k2) {
		t.Fatalf("Argon2idKey not deterministic")
	}
	if ConstantTimeEqual(k1, Argon2idKey(pw, s2, p)) {
		t.Fatalf("Argon2idKey must change with salt")
	}
	if ConstantTimeEqual(k1, Argon2idKey([]byte("other"), s1, p)) {
		t.Fatalf("Argon2idKey must change with password")
	}
}

func TestPBKDF2Key_Deterministic(t *testing.T) {
	t.Parallel()
	k1 := PBKDF2Key([]byte("pw"), []byte("salt"), 1000, 32)
	k2 := PBKDF2Key([]byte("pw"), []byte("salt"), 1000, 32)
	if !ConstantTimeEqual(k1, k2) {
		t.Fatalf("PBKDF2Key not deterministic")
	}
	if ConstantTimeEqual(k1, PBKDF2Key([]byte("pw"), []byte("salt"), 1001, 32)) {
		t.Fatalf("PBKDF2Key must change with iteration count")
	}
}

func TestHKDFExpand_DiffPerInfo(t *testing.T) {
	t.Parallel()
	secret, _ := RandomBytes(32)
	ka, err := HKDFExpand(secret, nil, []byte("item-A"), 32)
	if err != nil {
		t.Fatalf("HKDFExpand: %v", err)
	}
	kb, _ := HKDFExpand(secret, nil, []byte("item-B"), 32)
	if ConstantTimeEqual(ka, kb) {
		t.Fatalf("keys for different info must differ")
	}
	ka2, _ := HKDFExpand(secret, nil, []byte("item-A"), 32)
	if !ConstantTimeEqual(ka, ka2) {
		t.Fatalf("HKDFExpand must be deterministic")
	}
}

func TestAESGCM_RoundtripAndAADBinding(t *testing.T) {
	t.Parallel()
	key, _ := RandomBytes(32)
	nonce, _ := RandomBytes(12)
	aad := []byte(`{"foo":"bar"}`)
	pt := []byte("hello world")

	ct, err := AESGCMSeal(key, nonce, aad, pt)
	if err != nil {
		t.Fatalf("AESGCMSeal: %v", err)
	}
	if bytes.Equal(ct, pt) {
		t.Fatalf("ciphertext must differ from plaintext")
	}

	got, err := AESGCMOpen(key, nonce, aad, ct)
	if err != nil {
		t.Fatalf("AESGCMOpen: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, pt)
	}

	if _, err := AESGCMOpen(key, nonce, []byte(`{"foo":"rab"}`), ct); err == nil {
		t.Fatalf("expected error on AAD mismatch")
	}
}

func TestAESCBC_Roundtrip(t *testing.T) {
	t.Parallel()
	key, _ := RandomBytes(32)
	iv, _ := RandomBytes(16)
	pt := []byte("legacy payload content, not block-aligned")

	ct, err := AESCBCEncrypt(key, iv, pt)
	if err != nil {
		t.Fatalf("AESCBCEncrypt: %v", err)
	}
	got, err := AESCBCDecrypt(key, iv, ct)
	if err != nil {
		t.Fatalf("AESCBCDecrypt: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch")
	}
}

func TestHMACSHA256_DetectsTamper(t *testing.T) {
	t.Parallel()
	key, _ := RandomBytes(32)
	msg := []byte("authenticate me")
	mac := HMACSHA256(key, msg)
	if !ConstantTimeEqual(mac, HMACSHA256(key, msg)) {
		t.Fatalf("HMACSHA256 not deterministic")
	}
	if ConstantTimeEqual(mac, HMACSHA256(key, []byte("authenticate ME"))) {
		t.Fatalf("HMACSHA256 must change with message")
	}
}
