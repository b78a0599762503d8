package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which of the synced entity kinds a record holds
type Kind string

const (
	KindPet         Kind = "pet"
	KindStats       Kind = "stats"
	KindInteraction Kind = "interaction"
	KindAchievement Kind = "achievement"
)

// Kinds lists all valid record kinds
var Kinds = []Kind{KindPet, KindStats, KindInteraction, KindAchievement}

// ParseKind validates and returns a record kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("record: unknown kind %q", s)
}

// Standard errors
var (
	ErrNoID     = errors.New("record: missing id")
	ErrNoScope  = errors.New("record: missing owner scope")
	ErrBadKind  = errors.New("record: invalid kind")
	ErrDupField = errors.New("record: duplicate field name")
)

// Field is a single named value. Records keep fields in insertion
// order so encoded payloads are stable across devices.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Record is the synced representation of one logical entity.
//
// ID is assigned at creation and never reassigned; it is the sole
// identity key across the local and remote stores. LocalVersion
// increases on every local mutation. RemoteTag is the opaque version
// token issued by the remote service on last successful save or fetch,
// empty if the record has never been persisted remotely. A record with
// Dirty set and an empty RemoteTag must be created, not updated, on
// the next sync.
type Record struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	OwnerScope   string    `json:"owner_scope"`
	Fields       []Field   `json:"fields"`
	LocalVersion int64     `json:"local_version"`
	RemoteTag    string    `json:"remote_tag,omitempty"`
	ModifiedAt   time.Time `json:"modified_at"`
	Dirty        bool      `json:"dirty,omitempty"`
}

// New creates a record of the given kind in the given owner scope.
// The record starts dirty with no remote tag.
func New(kind Kind, scope string) *Record {
	return &Record{
		ID:           uuid.NewString(),
		Kind:         kind,
		OwnerScope:   scope,
		Fields:       make([]Field, 0),
		LocalVersion: 1,
		ModifiedAt:   time.Now().UTC(),
		Dirty:        true,
	}
}

// SetField sets a field value, replacing in place if the name already
// exists so field order stays stable
func (r *Record) SetField(name string, v Value) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: v})
}

// Field returns the value of the named field
func (r *Record) Field(name string) (Value, bool) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return r.Fields[i].Value, true
		}
	}
	return Value{}, false
}

// FieldNames returns field names in insertion order
func (r *Record) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i := range r.Fields {
		names[i] = r.Fields[i].Name
	}
	return names
}

// Touch marks the record as locally mutated: bumps the version,
// refreshes the modification time and sets the dirty flag
func (r *Record) Touch() {
	r.LocalVersion++
	r.ModifiedAt = time.Now().UTC()
	r.Dirty = true
}

// Clone returns a deep copy. Mutating the original afterwards cannot
// corrupt the copy; queue snapshots rely on this.
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = make([]Field, len(r.Fields))
	for i, f := range r.Fields {
		out.Fields[i] = Field{Name: f.Name, Value: f.Value.Clone()}
	}
	return &out
}

// References returns the ids of all reference-valued fields
func (r *Record) References() []string {
	var refs []string
	for _, f := range r.Fields {
		if f.Value.Type == TypeReference && f.Value.Str != "" {
			refs = append(refs, f.Value.Str)
		}
	}
	return refs
}

// Validate checks structural invariants
func (r *Record) Validate() error {
	if r.ID == "" {
		return ErrNoID
	}
	if r.OwnerScope == "" {
		return ErrNoScope
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return ErrBadKind
	}

	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if seen[f.Name] {
			return fmt.Errorf("%w: %s", ErrDupField, f.Name)
		}
		seen[f.Name] = true
	}

	return nil
}

// Encode serializes the record to JSON. Used for queue payload
// snapshots and the wire format.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Decode deserializes a record from JSON and validates it
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("record: decode: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// EncodeFields serializes only the field list, the shape stored in the
// local records table
func EncodeFields(fields []Field) ([]byte, error) {
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(fields)
}

// DecodeFields deserializes a field list
func DecodeFields(data []byte) ([]Field, error) {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("record: decode fields: %w", err)
	}
	return fields, nil
}
