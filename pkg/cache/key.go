package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// KeyDelimiter separates key parts.
const KeyDelimiter = ":"

// Sentinel tokens used by GenerateKey.
const (
	NilToken    = "<nil>"
	AbsentToken = "<absent>"
)

type absent struct{}

// Absent marks an argument that was not supplied at all, as opposed to one
// explicitly set to nil. GenerateKey encodes it as AbsentToken, so
// GenerateKey("user", 1, nil) and GenerateKey("user", 1, Absent) differ.
var Absent = absent{}

// GenerateKey joins parts with KeyDelimiter into a deterministic key.
// Arguments that differ in value or in kind (123 vs "123", true vs "true",
// nil vs "<nil>") never produce the same key.
//
// Encoding rules:
//   - nil, nil pointers, nil maps, nil slices and nil funcs become NilToken
//   - Absent becomes AbsentToken
//   - bools become "true" / "false", integers their decimal form, floats
//     always carry a fraction or exponent ("1.0", "2.5e+20")
//   - strings and fmt.Stringers have '%', ':', '<' and '"' percent-escaped;
//     strings that read as a bool or number are additionally double-quoted
//   - anything else is "<type>" followed by its escaped %v formatting
//
// Example:
//
//	GenerateKey("user", 123, nil, true)   // "user:123:<nil>:true"
//	GenerateKey("user", "123", "a:b")     // `user:"123":a%3Ab`
func GenerateKey(parts ...any) string {
	encoded := make([]string, len(parts))
	for i, p := range parts {
		encoded[i] = encodePart(p)
	}
	return strings.Join(encoded, KeyDelimiter)
}

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "<", "%3C", `"`, "%22")

func encodePart(p any) string {
	switch v := p.(type) {
	case nil:
		return NilToken
	case absent:
		return AbsentToken
	case string:
		return encodeString(v)
	case bool:
		return strconv.FormatBool(v)
	}
	if isNil(p) {
		return NilToken
	}
	if s, ok := p.(fmt.Stringer); ok {
		return encodeString(s.String())
	}

	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.String:
		return encodeString(rv.String())
	}
	return "<" + rv.Type().String() + ">" + keyEscaper.Replace(fmt.Sprintf("%v", p))
}

func encodeString(s string) string {
	escaped := keyEscaper.Replace(s)
	if readsAsScalar(s) {
		return `"` + escaped + `"`
	}
	return escaped
}

// readsAsScalar reports whether s would be confused with an encoded bool
// or number.
func readsAsScalar(s string) bool {
	if s == "true" || s == "false" {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil || errors.Is(err, strconv.ErrRange)
}

func formatFloat(f float64, bitSize int) string {
	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func isNil(p any) bool {
	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// Key identifies a cached ticket-platform API read.
type Key struct {
	// Namespace is the platform (e.g., "linear", "jira")
	Namespace string

	// Operation is the API operation (e.g., "issue", "search", "viewer")
	Operation string

	// EntityID is the primary entity the read is about (e.g., "ENG-123"). Optional.
	EntityID string

	// Variables are the remaining query variables. They are hashed, not inlined.
	Variables map[string]any
}

// String generates a deterministic cache key string.
// Format: namespace:operation:entity:vars=<hash>
//
// Example:
//
//	linear:issues:team-42:vars=3f2a9c0d1b7e4a55
//
// Empty parts are skipped and the rest are escaped like GenerateKey
// strings, so an EntityID containing ':' cannot spoof another key. Keys are
// stable across processes as long as the variables marshal to the same JSON.
func (k Key) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{k.Namespace, k.Operation, k.EntityID} {
		if p != "" {
			parts = append(parts, keyEscaper.Replace(p))
		}
	}
	if len(k.Variables) > 0 {
		parts = append(parts, "vars="+HashVariables(k.Variables))
	}
	return strings.Join(parts, KeyDelimiter)
}

// Prefix returns the key up to and including the entity, suitable for
// InvalidateByPattern after a mutation of that entity.
func (k Key) Prefix() string {
	return Key{Namespace: k.Namespace, Operation: k.Operation, EntityID: k.EntityID}.String()
}

// HashVariables returns a short, stable hash of vars. Map keys are sorted by
// encoding/json, so insertion order does not matter. Values that cannot be
// marshaled fall back to their %v formatting.
func HashVariables(vars map[string]any) string {
	data, err := json.Marshal(vars)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", vars))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
