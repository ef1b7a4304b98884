// Package cachecore holds the data model shared by every tier of the
// caching subsystem: the tagged Value union, the on-wire EncryptedPayload,
// the CacheEntry/CacheResult projections, and the error taxonomy and
// identifier validation enforced at tier boundaries.
package cachecore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the variant held by a Value.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindNull   Kind = "null"
	KindList   Kind = "list"
	KindHash   Kind = "hash"
	KindJSON   Kind = "json"
)

// knownKinds is used to validate a decoded wire tag against the variant set.
var knownKinds = map[Kind]bool{
	KindString: true,
	KindNumber: true,
	KindBool:   true,
	KindNull:   true,
	KindList:   true,
	KindHash:   true,
	KindJSON:   true,
}

// Value is a tagged union over the variants callers may cache: string,
// number, boolean, null, a list of Value, a string-keyed hash of Value, or
// arbitrary nested JSON. It is immutable once constructed.
type Value struct {
	Kind Kind `json:"kind"`

	String string           `json:"string,omitempty"`
	Number float64          `json:"number,omitempty"`
	Bool   bool             `json:"bool,omitempty"`
	List   []Value          `json:"list"`
	Hash   map[string]Value `json:"hash"`
	JSON   json.RawMessage  `json:"json,omitempty"`
}

func String(s string) Value  { return Value{Kind: KindString, String: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Null() Value            { return Value{Kind: KindNull} }

// List normalizes a nil vs (no elements passed) to a non-nil empty slice,
// so an empty list round-trips through Encode/Decode as an empty list
// rather than collapsing to the absence of one.
func List(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{Kind: KindList, List: vs}
}

// Hash normalizes a nil map to a non-nil empty map for the same reason List does.
func Hash(h map[string]Value) Value {
	if h == nil {
		h = map[string]Value{}
	}
	return Value{Kind: KindHash, Hash: h}
}
func JSON(raw json.RawMessage) Value { return Value{Kind: KindJSON, JSON: raw} }

// Valid reports whether the Value's type tag is one of the known variants.
// Decoders must call this before trusting a deserialized Value.
func (v Value) Valid() bool {
	return knownKinds[v.Kind]
}

// Encode serializes a Value to its canonical JSON wire form.
func Encode(v Value) ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidValueType, v.Kind)
	}
	return json.Marshal(v)
}

// Decode deserializes a Value from its canonical JSON wire form, validating
// the recovered type tag against the known variant set.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	if !v.Valid() {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValueType, v.Kind)
	}
	return v, nil
}

// EncryptedPayload is the opaque on-wire form produced by the codec
// pipeline: ciphertext plus the nonce, salt, and auth-tag needed to reverse
// it. Every successful encrypt yields a fresh iv and salt.
type EncryptedPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`   // 12-byte GCM nonce
	Salt       []byte `json:"salt"` // 16-byte KDF salt
	Tag        []byte `json:"tag"`  // 16-byte AEAD auth tag, appended to Ciphertext by Go's GCM but kept explicit for clarity
}

// PersistedEntry is the unit the authoritative tier's durable store
// persists per (store, id): the encrypted payload plus the entry metadata
// that must survive a process restart. It round-trips through JSON.
type PersistedEntry struct {
	Payload      EncryptedPayload `json:"payload"`
	Expiration   time.Time        `json:"expiration"`
	LastUpdated  time.Time        `json:"lastUpdated"`
	LastAccessed time.Time        `json:"lastAccessed"`
	GetHitCount  int64            `json:"getHitCount"`
	SetHitCount  int64            `json:"setHitCount"`
}

// Size reports the payload's encoded size in bytes, used for value-size
// accounting when the entry lands in a storage engine.
func (p PersistedEntry) Size() int {
	return len(p.Payload.Ciphertext) + len(p.Payload.IV) + len(p.Payload.Salt) + len(p.Payload.Tag)
}

// CacheEntry is the record owned by a storage engine for one (store,
// identifier) pair. Payload holds a decoded Value in the fast tier and an
// EncryptedPayload in the authoritative tier.
type CacheEntry struct {
	Identifier   string
	Store        string
	Payload      interface{} // Value (fast tier) or EncryptedPayload (authoritative tier)
	Expiration   time.Time
	LastUpdated  time.Time
	LastAccessed time.Time
	GetHitCount  int64
	SetHitCount  int64
	SizeBytes    int
}

// CacheResult is the read-side projection returned to callers. A miss is
// represented by Found == false with zero counters, an empty Value, zero
// LastUpdated/LastAccessed, and Expiration at the Unix epoch (see Miss).
type CacheResult struct {
	Found        bool
	Value        Value
	Expiration   time.Time
	LastUpdated  time.Time
	LastAccessed time.Time
	GetHitCount  int64
	SetHitCount  int64
}

// Miss is the canonical miss sentinel: Found is false, counters and dates
// are zero/epoch.
func Miss() CacheResult {
	return CacheResult{Expiration: time.Unix(0, 0)}
}
