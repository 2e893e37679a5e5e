package catalog

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags how a config-store payload is typed. DWord and QWord are
// the 32- and 64-bit integer tags; rules with these kinds compare
// numerically, everything else compares as case-insensitive text.
type ValueKind string

const (
	// ValueKindString is a plain text value.
	ValueKindString ValueKind = "string"

	// ValueKindExpandString is text with environment-variable placeholders.
	ValueKindExpandString ValueKind = "expand_string"

	// ValueKindDWord is a 32-bit integer value.
	ValueKindDWord ValueKind = "dword"

	// ValueKindQWord is a 64-bit integer value.
	ValueKindQWord ValueKind = "qword"

	// ValueKindBinary is an opaque byte blob, serialized as base64 text.
	ValueKindBinary ValueKind = "binary"

	// ValueKindMultiString is an ordered list of text values.
	ValueKindMultiString ValueKind = "multi_string"
)

// IsNumeric reports whether values of this kind compare as integers.
func (k ValueKind) IsNumeric() bool {
	return k == ValueKindDWord || k == ValueKindQWord
}

// Validate checks that the kind is a known value.
func (k ValueKind) Validate() error {
	switch k {
	case ValueKindString, ValueKindExpandString, ValueKindDWord,
		ValueKindQWord, ValueKindBinary, ValueKindMultiString:
		return nil
	default:
		return fmt.Errorf("invalid value kind: %q", string(k))
	}
}

// ParseValueKind parses a value kind tag, accepting the registry-style
// spellings found in older catalog files.
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "sz", "reg_sz":
		return ValueKindString, nil
	case "expand_string", "expandstring", "reg_expand_sz":
		return ValueKindExpandString, nil
	case "dword", "reg_dword", "int32":
		return ValueKindDWord, nil
	case "qword", "reg_qword", "int64":
		return ValueKindQWord, nil
	case "binary", "reg_binary":
		return ValueKindBinary, nil
	case "multi_string", "multistring", "reg_multi_sz":
		return ValueKindMultiString, nil
	default:
		return "", fmt.Errorf("invalid value kind: %q", s)
	}
}

// ConfigScope selects which hive of the config store an operation targets.
type ConfigScope string

const (
	// ScopeMachine is the machine-wide hive. Writes require elevation.
	ScopeMachine ConfigScope = "machine"

	// ScopeUser is the per-user hive.
	ScopeUser ConfigScope = "user"
)

// Validate checks that the scope is a known value.
func (s ConfigScope) Validate() error {
	switch s {
	case ScopeMachine, ScopeUser:
		return nil
	default:
		return fmt.Errorf("invalid config scope: %q", string(s))
	}
}

// ParseConfigScope parses a scope tag, accepting common hive aliases.
func ParseConfigScope(s string) (ConfigScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "machine", "hklm", "localmachine", "local_machine", "system":
		return ScopeMachine, nil
	case "user", "hkcu", "currentuser", "current_user":
		return ScopeUser, nil
	default:
		return "", fmt.Errorf("invalid config scope: %q", s)
	}
}

// Value is a loosely-typed config-store payload as it arrives from a
// serialized catalog. The raw JSON is retained and resolved against the
// declared ValueKind at the point of use, never passed through untyped.
type Value struct {
	raw json.RawMessage
}

// NewTextValue builds a Value holding the given text.
func NewTextValue(s string) Value {
	raw, _ := json.Marshal(s)
	return Value{raw: raw}
}

// NewIntValue builds a Value holding the given integer.
func NewIntValue(n int64) Value {
	return Value{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// NewBinaryValue builds a Value holding the given bytes, stored as base64.
func NewBinaryValue(b []byte) Value {
	raw, _ := json.Marshal(base64.StdEncoding.EncodeToString(b))
	return Value{raw: raw}
}

// NewTextListValue builds a Value holding the given list of strings.
func NewTextListValue(items []string) Value {
	raw, _ := json.Marshal(items)
	return Value{raw: raw}
}

// IsNull reports whether the value is absent or JSON null.
func (v Value) IsNull() bool {
	trimmed := bytes.TrimSpace(v.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// AsInt64 resolves the value as a 64-bit integer. String payloads that
// parse as integers are accepted, matching how numeric comparisons treat
// text on either side.
func (v Value) AsInt64() (int64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("value is null")
	}
	var n int64
	if err := json.Unmarshal(v.raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		parsed, perr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("value %q is not an integer", s)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("value %s is not an integer", string(v.raw))
}

// AsText resolves the value as text. Numeric and boolean payloads render
// in their canonical decimal/lowercase form.
func (v Value) AsText() (string, error) {
	if v.IsNull() {
		return "", fmt.Errorf("value is null")
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(v.raw, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	var f float64
	if err := json.Unmarshal(v.raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	var b bool
	if err := json.Unmarshal(v.raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("value %s is not text", string(v.raw))
}

// AsBinary resolves the value as a byte blob from its base64 text form.
func (v Value) AsBinary() ([]byte, error) {
	s, err := v.AsText()
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("value is not valid base64: %w", err)
	}
	return b, nil
}

// AsTextList resolves the value as an ordered list of strings. A scalar
// text payload resolves as a single-element list.
func (v Value) AsTextList() ([]string, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("value is null")
	}
	var items []string
	if err := json.Unmarshal(v.raw, &items); err == nil {
		return items, nil
	}
	s, err := v.AsText()
	if err != nil {
		return nil, fmt.Errorf("value %s is not a text list", string(v.raw))
	}
	return []string{s}, nil
}

// String renders the value for messages and logs.
func (v Value) String() string {
	if v.IsNull() {
		return "<null>"
	}
	if s, err := v.AsText(); err == nil {
		return s
	}
	return string(v.raw)
}

// MarshalJSON writes the retained raw payload unchanged.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON retains the raw payload for later typed resolution.
func (v *Value) UnmarshalJSON(data []byte) error {
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}
