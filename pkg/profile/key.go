// Package profile defines the data model shared by the profiling engine and
// its reporters: function identities, call frames, per-function statistics
// and flame graphs.
package profile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FunctionKey identifies a profiled function independently of the call path
// that reached it.
type FunctionKey struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// RootKey is the synthetic key of a flame graph root. It stands for the
// measured interval itself.
var RootKey = FunctionKey{Name: "root"}

// String renders the key as "name (file:line)", or just the name when no
// source location is known.
func (k FunctionKey) String() string {
	if k.File == "" {
		return k.Name
	}
	return fmt.Sprintf("%s (%s:%d)", k.Name, k.File, k.Line)
}

// Less orders keys lexicographically by name, file, then line.
func (k FunctionKey) Less(o FunctionKey) bool {
	if k.Name != o.Name {
		return k.Name < o.Name
	}
	if k.File != o.File {
		return k.File < o.File
	}
	return k.Line < o.Line
}

// Since keys are used as map keys, and JSON does not allow structs as keys,
// a key marshals to "name\x1ffile\x1fline".
const keySep = "\x1f"

// MarshalText implements encoding.TextMarshaler.
func (k FunctionKey) MarshalText() ([]byte, error) {
	return []byte(k.Name + keySep + k.File + keySep + strconv.Itoa(k.Line)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FunctionKey) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), keySep)
	if len(parts) != 3 {
		// Plain names are accepted for hand-written files.
		*k = FunctionKey{Name: string(text)}
		return nil
	}
	line, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid line in function key %q: %w", text, err)
	}
	*k = FunctionKey{Name: parts[0], File: parts[1], Line: line}
	return nil
}

type keyJSON struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// MarshalJSON keeps keys readable as JSON values; MarshalText only applies
// to map keys.
func (k FunctionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(keyJSON(k))
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *FunctionKey) UnmarshalJSON(data []byte) error {
	var aux keyJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*k = FunctionKey(aux)
	return nil
}

// FormatKey renders a key for narrow displays, shortening long file paths
// to their trailing characters.
func FormatKey(k FunctionKey, maxFile int) string {
	if k.File == "" {
		return k.Name
	}
	file := k.File
	if maxFile > 3 && len(file) > maxFile {
		file = "..." + file[len(file)-(maxFile-3):]
	}
	return fmt.Sprintf("%s (%s:%d)", k.Name, file, k.Line)
}
