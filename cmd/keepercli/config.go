package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/and161185/gokeeper-core/internal/rootkey"
)

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "keepercli")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keepercli")
}

func identityPath() string { return filepath.Join(cfgDir(), "identity.json") }
func itemsKeyPath() string { return filepath.Join(cfgDir(), "itemskey.json") }
func storePath() string    { return filepath.Join(cfgDir(), "store.json") }

// identityFile is the on-disk shape of the sealed root key: the wrapper
// salt and the AEAD-sealed key bytes, plus the public params needed to
// rederive the key from the passcode on a different machine.
type identityFile struct {
	Identifier string         `json:"identifier"`
	Salt       []byte         `json:"salt"`
	Sealed     []byte         `json:"sealed"`
	Version    rootkey.Version `json:"version"`
	Params     rootkey.Params `json:"params"`
}

func saveIdentity(f identityFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(identityPath(), b, 0o600)
}

func loadIdentity() (identityFile, error) {
	var f identityFile
	b, err := os.ReadFile(identityPath())
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(b, &f)
	return f, err
}

// itemsKeyFile persists items-key material in the clear, 0600-permissioned,
// the same trust model the teacher's CLI uses for its DEK file: the config
// directory's file permissions are the only protection, there is no second
// at-rest wrapper for it.
type itemsKeyFile struct {
	ID        string `json:"id"`
	ItemsKey  []byte `json:"items_key"`
}

func saveItemsKey(f itemsKeyFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(itemsKeyPath(), b, 0o600)
}

func loadItemsKey() (itemsKeyFile, error) {
	var f itemsKeyFile
	b, err := os.ReadFile(itemsKeyPath())
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(b, &f)
	return f, err
}
