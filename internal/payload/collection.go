package payload

// Collection is an immutable, uuid-indexed set of payloads sharing a
// single Source tag (spec §4.4). Order is preserved so sync rounds can
// honor "payloads within one response are decrypted/resolved in input
// order" (spec §5).
type Collection struct {
	source Source
	order  []string
	byUUID map[string]*Payload
}

// NewCollection builds a Collection from payloads, keeping first-seen
// order and letting a later payload with the same uuid replace an earlier
// one in place.
func NewCollection(source Source, payloads ...*Payload) Collection {
	order := make([]string, 0, len(payloads))
	m := make(map[string]*Payload, len(payloads))
	for _, p := range payloads {
		if p == nil {
			continue
		}
		id := p.UUID()
		if _, exists := m[id]; !exists {
			order = append(order, id)
		}
		m[id] = p
	}
	return Collection{source: source, order: order, byUUID: m}
}

// Source returns the shared provenance tag of this collection.
func (c Collection) Source() Source { return c.source }

// Len returns the number of distinct uuids in the collection.
func (c Collection) Len() int { return len(c.order) }

// Get looks up a payload by uuid in O(1).
func (c Collection) Get(uuid string) (*Payload, bool) {
	p, ok := c.byUUID[uuid]
	return p, ok
}

// All returns the payloads in insertion order. The returned slice is a
// fresh copy; the collection itself is never mutated.
func (c Collection) All() []*Payload {
	out := make([]*Payload, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byUUID[id])
	}
	return out
}

// With returns a new Collection with p inserted or replacing its uuid's
// existing entry, preserving the existing insertion order.
func (c Collection) With(p *Payload) Collection {
	if p == nil {
		return c
	}
	order := make([]string, len(c.order))
	copy(order, c.order)
	m := make(map[string]*Payload, len(c.byUUID)+1)
	for k, v := range c.byUUID {
		m[k] = v
	}
	id := p.UUID()
	if _, exists := m[id]; !exists {
		order = append(order, id)
	}
	m[id] = p
	return Collection{source: c.source, order: order, byUUID: m}
}

// WithSource returns a copy of the collection tagged with a different
// source, without altering any payload or the ordering.
func (c Collection) WithSource(source Source) Collection {
	return Collection{source: source, order: append([]string(nil), c.order...), byUUID: c.byUUID}
}
