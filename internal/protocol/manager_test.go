package protocol

import (
	"testing"

	"github.com/and161185/gokeeper-core/internal/rootkey"
)

func TestFormatForIntent_Table(t *testing.T) {
	t.Parallel()
	cases := []struct {
		intent      Intent
		keySupplied bool
		want        Format
		wantErr     bool
	}{
		{IntentSync, true, FormatEncryptedString, false},
		{IntentLocalStorageEncrypted, true, FormatEncryptedString, false},
		{IntentFileEncrypted, true, FormatEncryptedString, false},
		{IntentLocalStoragePreferEncrypted, true, FormatEncryptedString, false},
		{IntentLocalStoragePreferEncrypted, false, FormatDecryptedBareObject, false},
		{IntentLocalStorageDecrypted, false, FormatDecryptedBareObject, false},
		{IntentFileDecrypted, false, FormatDecryptedBareObject, false},
		{IntentSync, false, FormatDecryptedBase64String, false},
		{IntentLocalStorageEncrypted, false, "", true},
		{IntentFileEncrypted, false, "", true},
	}
	for _, c := range cases {
		got, err := formatForIntent(c.intent, c.keySupplied)
		if c.wantErr {
			if err == nil {
				t.Errorf("formatForIntent(%s, %v) = %v, nil; want error", c.intent, c.keySupplied, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("formatForIntent(%s, %v) unexpected error: %v", c.intent, c.keySupplied, err)
			continue
		}
		if got != c.want {
			t.Errorf("formatForIntent(%s, %v) = %v, want %v", c.intent, c.keySupplied, got, c.want)
		}
	}
}

func TestManager_EncryptDecrypt_Sync_Roundtrip(t *testing.T) {
	t.Parallel()
	m := NewManager()
	itemsKey, err := m.CurrentOperator().CreateItemsKey()
	if err != nil {
		t.Fatalf("CreateItemsKey: %v", err)
	}
	key := &EncryptionKey{Raw: itemsKey.ItemsKey, ID: "ik-1"}

	enc, err := m.EncryptPayload(EncryptRequest{
		UUID: "item-1", ContentType: "Note", Content: map[string]any{"title": "hi"}, Intent: IntentSync,
	}, key)
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}
	if enc.Format != FormatEncryptedString {
		t.Fatalf("Format = %v, want EncryptedString", enc.Format)
	}

	dec, err := m.DecryptPayload(DecryptRequest{
		UUID: "item-1", ContentType: "Note", Content: enc.Content, EncItemKey: enc.EncItemKey, Format: enc.Format,
	}, key)
	if err != nil {
		t.Fatalf("DecryptPayload: %v", err)
	}
	if dec.ErrorDecrypting {
		t.Fatalf("DecryptPayload reported an error on a valid roundtrip")
	}
}

func TestManager_EncryptPayload_SyncNoKey_ProducesBase64(t *testing.T) {
	t.Parallel()
	m := NewManager()
	enc, err := m.EncryptPayload(EncryptRequest{
		UUID: "item-1", Content: map[string]any{"a": 1}, Intent: IntentSync,
	}, nil)
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}
	if enc.Format != FormatDecryptedBase64String {
		t.Fatalf("Format = %v, want DecryptedBase64String", enc.Format)
	}
	s, ok := enc.Content.(string)
	if !ok || s[:3] != "000" {
		t.Fatalf("content = %v, want a 000-prefixed string", enc.Content)
	}
}

func TestManager_EncryptPayload_MissingKeyFails(t *testing.T) {
	t.Parallel()
	m := NewManager()
	_, err := m.EncryptPayload(EncryptRequest{UUID: "item-1", Content: "x", Intent: IntentLocalStorageEncrypted}, nil)
	if err == nil {
		t.Fatalf("expected an error: LocalStorageEncrypted with no key")
	}
}

func TestManager_VersionForWireString(t *testing.T) {
	t.Parallel()
	m := NewManager()
	v, err := m.VersionForWireString("004:abc:def:ghi")
	if err != nil {
		t.Fatalf("VersionForWireString: %v", err)
	}
	if v != rootkey.V004 {
		t.Fatalf("version = %q, want 004", v)
	}
	if _, err := m.VersionForWireString("999:x"); err == nil {
		t.Fatalf("expected an error for an unrecognized version tag")
	}
}

func TestManager_DecryptPayloads_PreservesOrderAndContainsErrors(t *testing.T) {
	t.Parallel()
	m := NewManager()
	itemsKey, _ := m.CurrentOperator().CreateItemsKey()
	key := &EncryptionKey{Raw: itemsKey.ItemsKey, ID: "ik-1"}

	good, err := m.EncryptPayload(EncryptRequest{UUID: "a", Content: "ok", Intent: IntentSync}, key)
	if err != nil {
		t.Fatalf("EncryptPayload: %v", err)
	}

	reqs := []DecryptRequest{
		{UUID: "a", Content: good.Content, EncItemKey: good.EncItemKey, Format: FormatEncryptedString},
		{UUID: "b", Content: "004:not-base64!!:x:y", EncItemKey: good.EncItemKey, Format: FormatEncryptedString},
	}
	results, err := m.DecryptPayloads(reqs, func(DecryptRequest) *EncryptionKey { return key }, false)
	if err != nil {
		t.Fatalf("DecryptPayloads: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ErrorDecrypting {
		t.Fatalf("results[0] should decrypt cleanly")
	}
	if !results[1].ErrorDecrypting {
		t.Fatalf("results[1] should be error-marked, not propagate a raw error")
	}
}
