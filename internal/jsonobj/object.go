// Package jsonobj implements the structured JSON object model used for document bodies and metadata.
// Objects keep insertion order, may compare keys case-insensitively, and support a one-way
// freeze after which only point-in-time snapshots can be taken.
package jsonobj

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

var (
	ErrFrozen           = errors.New("object cannot be modified after snapshotting was enabled")
	ErrNotSnapshotable  = errors.New("cannot create snapshot without enabling snapshotting first")
	ErrDuplicateKey     = errors.New("an item with the same key has already been added")
	ErrUnsupportedValue = errors.New("unsupported json value")
	ErrCycle            = errors.New("object cannot contain itself")
)

type entry struct {
	key   string
	value any
}

// Object is an insertion-ordered JSON object.
// Values are nil, bool, string, int64, float64, time.Time, *Object or []any of those.
// An Object is not safe for concurrent mutation.
type Object struct {
	entries         []entry
	index           map[string]int
	caseInsensitive bool
	frozen          bool
}

// New returns an empty object with case-sensitive keys.
func New() *Object {
	return &Object{index: make(map[string]int)}
}

// NewCaseInsensitive returns an empty object whose keys compare case-insensitively.
func NewCaseInsensitive() *Object {
	o := New()
	o.caseInsensitive = true
	return o
}

// CaseInsensitive reports whether keys compare case-insensitively.
func (o *Object) CaseInsensitive() bool { return o.caseInsensitive }

// Frozen reports whether EnsureSnapshotting was called.
func (o *Object) Frozen() bool { return o.frozen }

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.entries) }

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.entries))
	for i, e := range o.entries {
		keys[i] = e.key
	}
	return keys
}

// Range calls fn for every entry in insertion order until fn returns false.
func (o *Object) Range(fn func(key string, value any) bool) {
	for _, e := range o.entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}

func (o *Object) fold(key string) string {
	if o.caseInsensitive {
		return strings.ToLower(key)
	}
	return key
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	i, ok := o.index[o.fold(key)]
	if !ok {
		return nil, false
	}
	return o.entries[i].value, true
}

// GetString returns the value under key when it is a string.
func (o *Object) GetString(key string) (string, bool) {
	v, _ := o.Get(key)
	s, ok := v.(string)
	return s, ok
}

// GetBool returns the value under key when it is a bool.
func (o *Object) GetBool(key string) (bool, bool) {
	v, _ := o.Get(key)
	b, ok := v.(bool)
	return b, ok
}

// GetObject returns the value under key when it is a nested object.
func (o *Object) GetObject(key string) (*Object, bool) {
	v, _ := o.Get(key)
	child, ok := v.(*Object)
	return child, ok
}

// Set inserts or replaces the value under key. Replacing keeps the original key spelling and position.
func (o *Object) Set(key string, value any) error {
	if o.frozen {
		return ErrFrozen
	}
	v, err := normalize(value)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	if reaches(v, o) {
		return fmt.Errorf("key %q: %w", key, ErrCycle)
	}
	k := o.fold(key)
	if i, ok := o.index[k]; ok {
		o.entries[i].value = v
		return nil
	}
	o.index[k] = len(o.entries)
	o.entries = append(o.entries, entry{key: key, value: v})
	return nil
}

// Add inserts a new key and fails if it already exists.
func (o *Object) Add(key string, value any) error {
	if o.frozen {
		return ErrFrozen
	}
	if _, ok := o.index[o.fold(key)]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	return o.Set(key, value)
}

// Remove deletes key and reports whether it was present.
func (o *Object) Remove(key string) (bool, error) {
	if o.frozen {
		return false, ErrFrozen
	}
	k := o.fold(key)
	i, ok := o.index[k]
	if !ok {
		return false, nil
	}
	o.entries = append(o.entries[:i], o.entries[i+1:]...)
	delete(o.index, k)
	for j := i; j < len(o.entries); j++ {
		o.index[o.fold(o.entries[j].key)] = j
	}
	return true, nil
}

// EnsureSnapshotting freezes the object and everything nested in it. It cannot be undone.
func (o *Object) EnsureSnapshotting() {
	if o.frozen {
		return
	}
	o.frozen = true
	for _, e := range o.entries {
		freezeValue(e.value)
	}
}

func freezeValue(v any) {
	switch t := v.(type) {
	case *Object:
		t.EnsureSnapshotting()
	case []any:
		for _, item := range t {
			freezeValue(item)
		}
	}
}

// CreateSnapshot returns a mutable point-in-time copy of a frozen object.
func (o *Object) CreateSnapshot() (*Object, error) {
	if !o.frozen {
		return nil, ErrNotSnapshotable
	}
	return o.Clone(), nil
}

// Clone returns a deep, mutable copy regardless of the frozen state.
func (o *Object) Clone() *Object {
	c := &Object{
		entries:         make([]entry, len(o.entries)),
		index:           make(map[string]int, len(o.index)),
		caseInsensitive: o.caseInsensitive,
	}
	for i, e := range o.entries {
		c.entries[i] = entry{key: e.key, value: cloneValue(e.value)}
	}
	for k, i := range o.index {
		c.index[k] = i
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Object:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// reaches reports whether target is v itself or nested anywhere inside it.
func reaches(v any, target *Object) bool {
	switch t := v.(type) {
	case *Object:
		if t == target {
			return true
		}
		for _, e := range t.entries {
			if reaches(e.value, target) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if reaches(item, target) {
				return true
			}
		}
	}
	return false
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, int64, float64, time.Time:
		return t, nil
	case *Object:
		if t == nil {
			return nil, nil
		}
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// MarshalJSON encodes the object with keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Object) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, e := range o.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := sonic.Marshal(e.key)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if err := encodeValue(buf, e.value); err != nil {
			return fmt.Errorf("encode %q: %w", e.key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case *Object:
		return t.encode(buf)
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := sonic.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// String renders the object as JSON for diagnostics.
func (o *Object) String() string {
	b, err := o.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid json: %v>", err)
	}
	return string(b)
}
