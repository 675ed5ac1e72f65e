// Package payload implements the immutable Payload record (spec §3, §9):
// the vehicle items travel in between the server, the local store, and the
// item graph. A Payload is deep-frozen once constructed; every "change" is
// a new Payload produced by a factory function.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
)

// Format is derived from the shape of Content, never set directly.
type Format string

const (
	FormatEncryptedString       Format = "EncryptedString"
	FormatDecryptedBareObject   Format = "DecryptedBareObject"
	FormatDecryptedBase64String Format = "DecryptedBase64String"
	FormatDeleted               Format = "Deleted"
)

// decryptedBase64Prefix is the reserved version tag marking a
// DecryptedBase64String payload (spec §3).
const decryptedBase64Prefix = "000"

// Source records payload provenance.
type Source string

const (
	SourceConstructor        Source = "Constructor"
	SourceLocalRetrieved     Source = "LocalRetrieved"
	SourceLocalSaved         Source = "LocalSaved"
	SourceRemoteRetrieved    Source = "RemoteRetrieved"
	SourceRemoteSaved        Source = "RemoteSaved"
	SourceRemoteConflict     Source = "RemoteConflict"
	SourceLocalDirtied       Source = "LocalDirtied"
	SourceComponentRetrieved Source = "ComponentRetrieved"
	SourceFileImport         Source = "FileImport"
)

// Field names one of the optional payload fields, for the Fields presence
// mask: it tells consumers whether an absent value means "unset" or
// "omitted by this payload class".
type Field string

const (
	FieldUUID                       Field = "uuid"
	FieldContentType                Field = "content_type"
	FieldContent                    Field = "content"
	FieldEncItemKey                 Field = "enc_item_key"
	FieldItemsKeyID                 Field = "items_key_id"
	FieldDeleted                    Field = "deleted"
	FieldCreatedAt                  Field = "created_at"
	FieldUpdatedAt                  Field = "updated_at"
	FieldDirty                      Field = "dirty"
	FieldDirtiedDate                Field = "dirtied_date"
	FieldErrorDecrypting            Field = "error_decrypting"
	FieldErrorDecryptingValueChanged Field = "error_decrypting_value_changed"
	FieldWaitingForKey              Field = "waiting_for_key"
	FieldLastSyncBegan              Field = "last_sync_began"
	FieldLastSyncEnd                Field = "last_sync_end"
)

// Reference is a directed edge from a payload's decrypted content toward
// another item's uuid.
type Reference struct {
	UUID        string `json:"uuid"`
	ContentType string `json:"content_type"`
}

// FieldSet is a presence mask: which optional fields this payload instance
// carries. Two payloads with identical values but different FieldSets are
// not the same "view" of an item (e.g. a ServerPayload omits Dirty).
type FieldSet map[Field]struct{}

// NewFieldSet builds a FieldSet from a list of fields.
func NewFieldSet(fields ...Field) FieldSet {
	s := make(FieldSet, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

// Union returns a new FieldSet containing fields from both sets.
func (s FieldSet) Union(other FieldSet) FieldSet {
	out := make(FieldSet, len(s)+len(other))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Has reports whether f is present in the set.
func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

// MaxFieldSet carries every field; used by MaxPayload.
func MaxFieldSet() FieldSet {
	return NewFieldSet(
		FieldUUID, FieldContentType, FieldContent, FieldEncItemKey, FieldItemsKeyID,
		FieldDeleted, FieldCreatedAt, FieldUpdatedAt, FieldDirty, FieldDirtiedDate,
		FieldErrorDecrypting, FieldErrorDecryptingValueChanged, FieldWaitingForKey,
		FieldLastSyncBegan, FieldLastSyncEnd,
	)
}

// raw is the mutable, pre-freeze representation a Payload is built from.
type raw struct {
	UUID                        string
	ContentType                 string
	Content                     any
	EncItemKey                  string
	ItemsKeyID                  string
	Deleted                     bool
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
	Dirty                       bool
	DirtiedDate                 time.Time
	ErrorDecrypting             bool
	ErrorDecryptingValueChanged bool
	WaitingForKey               bool
	LastSyncBegan               time.Time
	LastSyncEnd                 time.Time
	Source                      Source
}

// Override is the set of fields a factory call wishes to set on top of a
// base payload (or of another Override layer). A nil pointer means "leave
// unchanged"; this is what lets false/zero be a meaningful override value.
type Override struct {
	UUID                        *string
	ContentType                 *string
	Content                     *any
	EncItemKey                  *string
	ItemsKeyID                  *string
	Deleted                     *bool
	CreatedAt                   *time.Time
	UpdatedAt                   *time.Time
	Dirty                       *bool
	DirtiedDate                 *time.Time
	ErrorDecrypting             *bool
	ErrorDecryptingValueChanged *bool
	WaitingForKey               *bool
	LastSyncBegan               *time.Time
	LastSyncEnd                 *time.Time
	Source                      *Source
	Fields                      FieldSet // fields newly introduced by this override, unioned onto the base's set
}

// MergeOverrides composes layered overrides left-to-right, each later layer
// winning where it sets a field, so a template override can be refined by
// later layers before the result is handed to FromAnyObject.
func MergeOverrides(layers ...Override) Override {
	var out Override
	for _, l := range layers {
		if err := mergo.Merge(&out, l, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			// mergo only fails on invalid dst/src kinds; Override is a plain
			// struct of pointers and cannot trigger that.
			panic(fmt.Sprintf("payload: MergeOverrides: %v", err))
		}
	}
	return out
}

// Payload is deep-frozen after construction; every field is read-only via
// accessor methods, and Content/Fields are copied out so callers cannot
// mutate the original through an aliased map or slice.
type Payload struct {
	r      raw
	fields FieldSet
}

// UUID returns the payload's stable identity, or "" if unset.
func (p *Payload) UUID() string { return p.r.UUID }

// ContentType returns the content-type discriminator.
func (p *Payload) ContentType() string { return p.r.ContentType }

// Content returns a defensive copy of the decrypted/encrypted content.
func (p *Payload) Content() any { return deepCopyContent(p.r.Content) }

// EncItemKey returns the wrapped per-item content key.
func (p *Payload) EncItemKey() string { return p.r.EncItemKey }

// ItemsKeyID returns which items-key wraps EncItemKey (004 only).
func (p *Payload) ItemsKeyID() string { return p.r.ItemsKeyID }

// Deleted reports the tombstone flag.
func (p *Payload) Deleted() bool { return p.r.Deleted }

// CreatedAt returns the server-assigned creation instant.
func (p *Payload) CreatedAt() time.Time { return p.r.CreatedAt }

// UpdatedAt returns the server-assigned update instant.
func (p *Payload) UpdatedAt() time.Time { return p.r.UpdatedAt }

// Dirty reports whether this payload has unsynced local mutation.
func (p *Payload) Dirty() bool { return p.r.Dirty }

// DirtiedDate returns when Dirty was last set.
func (p *Payload) DirtiedDate() time.Time { return p.r.DirtiedDate }

// ErrorDecrypting reports a failed AEAD/composition check.
func (p *Payload) ErrorDecrypting() bool { return p.r.ErrorDecrypting }

// ErrorDecryptingValueChanged reports a transition in ErrorDecrypting since
// the prior attempt (used by the Model Manager to refresh listeners).
func (p *Payload) ErrorDecryptingValueChanged() bool { return p.r.ErrorDecryptingValueChanged }

// WaitingForKey reports that decrypt is deferred until the wrapping
// items-key arrives locally.
func (p *Payload) WaitingForKey() bool { return p.r.WaitingForKey }

// LastSyncBegan returns when the current sync round for this payload began.
func (p *Payload) LastSyncBegan() time.Time { return p.r.LastSyncBegan }

// LastSyncEnd returns when the current sync round for this payload ended.
func (p *Payload) LastSyncEnd() time.Time { return p.r.LastSyncEnd }

// Source returns this payload's provenance.
func (p *Payload) Source() Source { return p.r.Source }

// Fields returns a copy of the field-presence mask.
func (p *Payload) Fields() FieldSet { return p.fields.Union(nil) }

// HasField reports whether f is present on this payload instance.
func (p *Payload) HasField(f Field) bool { return p.fields.Has(f) }

// Format is derived from Content's shape and the Deleted flag (spec §3).
func (p *Payload) Format() Format {
	f, _ := deriveFormatAndVersion(p.r.Content, p.r.Deleted, p.fields.Has(FieldContent))
	return f
}

// Version is the 3-char protocol tag, derived from Content; "" if the
// payload carries no encrypted/base64 content (e.g. a bare object or a
// payload class that omits Content).
func (p *Payload) Version() string {
	_, v := deriveFormatAndVersion(p.r.Content, p.r.Deleted, p.fields.Has(FieldContent))
	return v
}

// IsDiscardable reports whether this payload is safe to evict from the
// persistent store: deleted and not carrying unsynced local changes.
func (p *Payload) IsDiscardable() bool { return p.r.Deleted && !p.r.Dirty }

// References extracts the reference list from a DecryptedBareObject
// payload's content; nil for any other format.
func (p *Payload) References() []Reference {
	if p.Format() != FormatDecryptedBareObject {
		return nil
	}
	obj, ok := p.r.Content.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := obj["references"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Reference, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uuid, _ := m["uuid"].(string)
		ct, _ := m["content_type"].(string)
		out = append(out, Reference{UUID: uuid, ContentType: ct})
	}
	return out
}

func deriveFormatAndVersion(content any, deleted bool, hasContent bool) (Format, string) {
	if content == nil {
		if deleted {
			return FormatDeleted, ""
		}
		if !hasContent {
			return FormatDeleted, ""
		}
	}
	switch v := content.(type) {
	case string:
		if strings.HasPrefix(v, decryptedBase64Prefix) {
			return FormatDecryptedBase64String, decryptedBase64Prefix
		}
		if len(v) >= 3 {
			return FormatEncryptedString, v[:3]
		}
		return FormatEncryptedString, ""
	case map[string]any:
		return FormatDecryptedBareObject, ""
	default:
		return FormatDeleted, ""
	}
}

func deepCopyContent(c any) any {
	switch v := c.(type) {
	case nil:
		return nil
	case string:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = deepCopyContent(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = deepCopyContent(val)
		}
		return out
	default:
		// round-trip through JSON for any other concrete type, guaranteeing
		// the returned value shares no backing storage with c.
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return v
		}
		return out
	}
}

// New constructs the base payload for a fresh item, with Source Constructor
// and the given content-type/uuid. It is the root of every factory chain.
func New(uuid, contentType string, content any, fields FieldSet) *Payload {
	if fields == nil {
		fields = NewFieldSet(FieldUUID, FieldContentType, FieldContent)
	}
	p := &Payload{
		r: raw{
			UUID:        uuid,
			ContentType: contentType,
			Content:     deepCopyContent(content),
			Source:      SourceConstructor,
		},
		fields: fields,
	}
	return p
}

// FromAnyObject derives a new Payload from base by applying override on top
// (spec §9's "builder-style derivation"). The resulting FieldSet is the
// union of base's fields and override.Fields.
func FromAnyObject(base *Payload, override Override) *Payload {
	var r raw
	var fields FieldSet
	if base != nil {
		r = base.r
		r.Content = deepCopyContent(base.r.Content)
		fields = base.fields.Union(nil)
	} else {
		fields = NewFieldSet()
	}
	applyOverride(&r, override)
	if override.Fields != nil {
		fields = fields.Union(override.Fields)
	}
	return &Payload{r: r, fields: fields}
}

func applyOverride(r *raw, o Override) {
	if o.UUID != nil {
		r.UUID = *o.UUID
	}
	if o.ContentType != nil {
		r.ContentType = *o.ContentType
	}
	if o.Content != nil {
		r.Content = deepCopyContent(*o.Content)
	}
	if o.EncItemKey != nil {
		r.EncItemKey = *o.EncItemKey
	}
	if o.ItemsKeyID != nil {
		r.ItemsKeyID = *o.ItemsKeyID
	}
	if o.Deleted != nil {
		r.Deleted = *o.Deleted
	}
	if o.CreatedAt != nil {
		r.CreatedAt = *o.CreatedAt
	}
	if o.UpdatedAt != nil {
		r.UpdatedAt = *o.UpdatedAt
	}
	if o.Dirty != nil {
		r.Dirty = *o.Dirty
	}
	if o.DirtiedDate != nil {
		r.DirtiedDate = *o.DirtiedDate
	}
	if o.ErrorDecrypting != nil {
		r.ErrorDecrypting = *o.ErrorDecrypting
	}
	if o.ErrorDecryptingValueChanged != nil {
		r.ErrorDecryptingValueChanged = *o.ErrorDecryptingValueChanged
	}
	if o.WaitingForKey != nil {
		r.WaitingForKey = *o.WaitingForKey
	}
	if o.LastSyncBegan != nil {
		r.LastSyncBegan = *o.LastSyncBegan
	}
	if o.LastSyncEnd != nil {
		r.LastSyncEnd = *o.LastSyncEnd
	}
	if o.Source != nil {
		r.Source = *o.Source
	}
}

// --- named generators (spec §9) ---

// nonPersistableFields are omitted by Payload.Ejected (spec §6).
var nonPersistableFields = NewFieldSet(
	FieldDirtiedDate, FieldErrorDecrypting, FieldErrorDecryptingValueChanged,
	FieldWaitingForKey, FieldLastSyncBegan, FieldLastSyncEnd,
)

// MaxPayload carries every field; used wherever a consumer needs the
// fullest possible view (e.g. diffing two payloads for the delta merge).
func MaxPayload(base *Payload, override Override) *Payload {
	if override.Fields == nil {
		override.Fields = MaxFieldSet()
	}
	return FromAnyObject(base, override)
}

// serverFields is the set a server-bound (or server-sourced) payload
// carries: no local-only bookkeeping.
func serverFields() FieldSet {
	return NewFieldSet(
		FieldUUID, FieldContentType, FieldContent, FieldEncItemKey, FieldItemsKeyID,
		FieldDeleted, FieldCreatedAt, FieldUpdatedAt,
	)
}

// ServerPayload produces the server-bound/server-sourced view of base: no
// dirty/decrypt-state bookkeeping, used for upload and for payloads
// received directly from the server.
func ServerPayload(base *Payload, override Override) *Payload {
	if override.Fields == nil {
		override.Fields = serverFields()
	}
	return FromAnyObject(base, override)
}

// storageFields is the set a local-persistent-store payload carries: the
// full local bookkeeping set minus the ephemeral per-round sync timestamps.
func storageFields() FieldSet {
	return NewFieldSet(
		FieldUUID, FieldContentType, FieldContent, FieldEncItemKey, FieldItemsKeyID,
		FieldDeleted, FieldCreatedAt, FieldUpdatedAt,
		FieldDirty, FieldDirtiedDate, FieldErrorDecrypting, FieldErrorDecryptingValueChanged,
		FieldWaitingForKey,
	)
}

// StoragePayload produces the local-persistent-store view of base,
// carrying every field the client itself needs to resume from disk.
func StoragePayload(base *Payload, override Override) *Payload {
	if override.Fields == nil {
		override.Fields = storageFields()
	}
	return FromAnyObject(base, override)
}

// EncryptionParametersPayload wraps the {content, enc_item_key, items_key_id}
// projection a protocol operator returns from generateEncryptionParameters,
// without disturbing any other field on base.
func EncryptionParametersPayload(base *Payload, content any, encItemKey, itemsKeyID string) *Payload {
	c := any(content)
	return FromAnyObject(base, Override{
		Content:     &c,
		EncItemKey:  &encItemKey,
		ItemsKeyID:  &itemsKeyID,
		Fields:      NewFieldSet(FieldContent, FieldEncItemKey, FieldItemsKeyID),
	})
}

// DecryptionParametersPayload wraps the result of generateDecryptedParameters:
// either a decrypted content object, or an error-marked payload.
func DecryptionParametersPayload(base *Payload, content any, errorDecrypting, valueChanged, waitingForKey bool) *Payload {
	c := any(content)
	ed, vc, wfk := errorDecrypting, valueChanged, waitingForKey
	return FromAnyObject(base, Override{
		Content:                     &c,
		ErrorDecrypting:             &ed,
		ErrorDecryptingValueChanged: &vc,
		WaitingForKey:               &wfk,
		Fields: NewFieldSet(
			FieldContent, FieldErrorDecrypting, FieldErrorDecryptingValueChanged, FieldWaitingForKey,
		),
	})
}

// Ejected returns the wire-projection map of this payload (spec §6):
// every present field except the non-persistable set, optional fields
// omitted when null.
func (p *Payload) Ejected() map[string]any {
	out := map[string]any{}
	for f := range p.fields {
		if nonPersistableFields.Has(f) {
			continue
		}
		switch f {
		case FieldUUID:
			out["uuid"] = p.r.UUID
		case FieldContentType:
			out["content_type"] = p.r.ContentType
		case FieldContent:
			out["content"] = p.r.Content
		case FieldEncItemKey:
			out["enc_item_key"] = p.r.EncItemKey
		case FieldItemsKeyID:
			out["items_key_id"] = p.r.ItemsKeyID
		case FieldDeleted:
			if p.r.Deleted {
				out["deleted"] = p.r.Deleted
			}
		case FieldCreatedAt:
			out["created_at"] = p.r.CreatedAt
		case FieldUpdatedAt:
			out["updated_at"] = p.r.UpdatedAt
		case FieldDirty:
			out["dirty"] = p.r.Dirty
		}
	}
	return out
}
