package dali

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// A reference to another entity. Exactly one of the id or the inline value is set.
// Once the reference is resolved it stays inline.
type Ref[T any] struct {
	id     string
	inline *T
}

func RefId[T any](id string) Ref[T] {
	return Ref[T]{id: id}
}

func RefInline[T any](value *T) Ref[T] {
	return Ref[T]{inline: value}
}

func (self Ref[T]) IsResolved() bool {
	return self.inline != nil
}

func (self Ref[T]) IsZero() bool {
	return self.inline == nil && self.id == ""
}

// the id waiting for resolution, or empty if resolved
func (self Ref[T]) PendingId() string {
	if self.inline != nil {
		return ""
	}
	return self.id
}

// nil until resolved
func (self Ref[T]) Value() *T {
	return self.inline
}

// nil if the reference is already resolved or empty
func (self *Ref[T]) Pending(kind string) *PendingReference {
	if self.inline != nil || self.id == "" {
		return nil
	}
	return &PendingReference{
		Kind: kind,
		Id:   self.id,
		assign: func(value any) error {
			inline, ok := value.(*T)
			if !ok || inline == nil {
				return fmt.Errorf("%w: %s %s resolved to %T", ErrUnexpectedResponse, kind, self.id, value)
			}
			if self.inline == nil {
				// resolved values are shared with the resolver cache
				copied := *inline
				self.inline = &copied
				self.id = ""
			}
			return nil
		},
	}
}

// a json string is an id, a json object is an inline value
func (self *Ref[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*self = Ref[T]{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*self = Ref[T]{id: id}
		return nil
	case '{':
		var value T
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		if v, ok := any(&value).(interface{ validate() error }); ok {
			if err := v.validate(); err != nil {
				return err
			}
		}
		*self = Ref[T]{inline: &value}
		return nil
	default:
		return fmt.Errorf("Reference must be an id or an object: %s", abbreviate(string(trimmed), 64))
	}
}

func (self Ref[T]) MarshalJSON() ([]byte, error) {
	if self.inline != nil {
		return json.Marshal(self.inline)
	}
	if self.id != "" {
		return json.Marshal(self.id)
	}
	return []byte("null"), nil
}

// An unresolved reference on an entity. The resolver fetches `Id` with the
// fetcher registered for `Kind` and assigns the result back to the reference.
type PendingReference struct {
	Kind string
	Id   string

	assign func(value any) error
}

func (self *PendingReference) Assign(value any) error {
	return self.assign(value)
}

// Entities report the references that still need a fetch.
// Entities with no references return nil.
type Entity interface {
	PendingReferences() []*PendingReference
}

// drops nil (resolved) references
func pendingReferences(refs ...*PendingReference) []*PendingReference {
	var pending []*PendingReference
	for _, ref := range refs {
		if ref != nil {
			pending = append(pending, ref)
		}
	}
	return pending
}
