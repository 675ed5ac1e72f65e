package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/and161185/gokeeper-core/internal/payload"
)

// FileStore is a reference implementation of internal/sync.Store: every
// payload and every reserved sync value lives in one JSON file. It is a
// stand-in for a real persistent store (spec §1, §6 keep storage out of
// the core), sized for a demo CLI rather than production use: every call
// re-reads and re-writes the whole file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileStoreDoc struct {
	Payloads []map[string]any `json:"payloads"`
	Values   map[string]string `json:"values"`
}

func (s *FileStore) load() (fileStoreDoc, error) {
	var doc fileStoreDoc
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		doc.Values = map[string]string{}
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, err
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc, nil
}

func (s *FileStore) save(doc fileStoreDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

func (s *FileStore) GetAllRawPayloads(ctx context.Context) ([]*payload.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return payloadsFromWire(doc.Payloads), nil
}

func (s *FileStore) SavePayloads(ctx context.Context, payloads []*payload.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}

	byUUID := make(map[string]int, len(doc.Payloads))
	for i, m := range doc.Payloads {
		if u, _ := m["uuid"].(string); u != "" {
			byUUID[u] = i
		}
	}
	for _, p := range payloads {
		m := p.Ejected()
		if idx, ok := byUUID[p.UUID()]; ok {
			doc.Payloads[idx] = m
			continue
		}
		doc.Payloads = append(doc.Payloads, m)
		byUUID[p.UUID()] = len(doc.Payloads) - 1
	}
	return s.save(doc)
}

func (s *FileStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Values[key]
	return v, ok, nil
}

func (s *FileStore) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Values[key] = value
	return s.save(doc)
}

func (s *FileStore) RemoveValue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	delete(doc.Values, key)
	return s.save(doc)
}
