package main

import (
	"time"

	"github.com/and161185/gokeeper-core/internal/payload"
)

// payloadFromWire is the inverse of Payload.Ejected: it rebuilds a Payload
// from the JSON object a transport or a local store handed back. The core
// package deliberately keeps wire encoding out of scope, so this adapter
// owns the translation both the HTTP transport and the file store need.
func payloadFromWire(m map[string]any) *payload.Payload {
	uuid, _ := m["uuid"].(string)
	contentType, _ := m["content_type"].(string)
	content := m["content"]

	p := payload.New(uuid, contentType, content, payload.NewFieldSet(
		payload.FieldUUID, payload.FieldContentType, payload.FieldContent,
	))

	encItemKey, _ := m["enc_item_key"].(string)
	itemsKeyID, _ := m["items_key_id"].(string)
	deleted, _ := m["deleted"].(bool)
	createdAt := parseWireTime(m["created_at"])
	updatedAt := parseWireTime(m["updated_at"])
	dirty, hasDirty := m["dirty"].(bool)

	fields := payload.NewFieldSet(
		payload.FieldEncItemKey, payload.FieldItemsKeyID, payload.FieldDeleted,
		payload.FieldCreatedAt, payload.FieldUpdatedAt,
	)
	if hasDirty {
		fields = fields.Union(payload.NewFieldSet(payload.FieldDirty))
	}

	return payload.FromAnyObject(p, payload.Override{
		EncItemKey: &encItemKey,
		ItemsKeyID: &itemsKeyID,
		Deleted:    &deleted,
		CreatedAt:  &createdAt,
		UpdatedAt:  &updatedAt,
		Dirty:      &dirty,
		Fields:     fields,
	})
}

func payloadsFromWire(ms []map[string]any) []*payload.Payload {
	if len(ms) == 0 {
		return nil
	}
	out := make([]*payload.Payload, len(ms))
	for i, m := range ms {
		out[i] = payloadFromWire(m)
	}
	return out
}

func parseWireTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
