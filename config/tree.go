// Package config provides a hierarchical key-value configuration store.
// Keys are '/'-separated paths such as "core/streambuf/n_streams".
package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A Tree holds configuration values by path.
type Tree struct {
	values map[string]any
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{values: make(map[string]any)}
}

// LoadYAML reads a YAML file into a new tree.
func LoadYAML(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	t, err := ParseYAML(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	return t, nil
}

// ParseYAML builds a tree from YAML text. Nested maps become path
// components, and list items are numbered from 0.
func ParseYAML(data []byte) (*Tree, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	t := NewTree()
	t.flatten("", root)

	return t, nil
}

func (t *Tree) flatten(prefix string, v any) {
	switch n := v.(type) {
	case map[string]any:
		for k, child := range n {
			t.flatten(join(prefix, k), child)
		}
	case []any:
		for i, child := range n {
			t.flatten(join(prefix, strconv.Itoa(i)), child)
		}
	default:
		if prefix != "" {
			t.values[prefix] = n
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}

// ApplyDotenv overrides values from a dotenv file. Dotenv keys use '.' where
// paths use '/', e.g. "core.streambuf.n_streams=16".
func (t *Tree) ApplyDotenv(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return errors.Wrapf(err, "reading overrides %s", path)
	}

	t.ApplyOverrides(env)

	return nil
}

// ApplyOverrides sets every value of a dotenv-style map.
func (t *Tree) ApplyOverrides(env map[string]string) {
	for k, v := range env {
		t.Set(strings.ReplaceAll(k, ".", "/"), v)
	}
}

// Set stores a value.
func (t *Tree) Set(path string, v any) {
	t.values[path] = v
}

// Has tells if the path holds a value.
func (t *Tree) Has(path string) bool {
	_, ok := t.values[path]
	return ok
}

// Keys returns every path, sorted.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Children returns the distinct path components directly under prefix,
// numbers first in numeric order, then names in lexical order.
func (t *Tree) Children(prefix string) []string {
	seen := make(map[string]bool)
	lead := prefix + "/"

	for k := range t.values {
		if !strings.HasPrefix(k, lead) {
			continue
		}

		rest := strings.TrimPrefix(k, lead)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}

		seen[rest] = true
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i])
		b, errB := strconv.Atoi(out[j])

		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return out[i] < out[j]
		}
	})

	return out
}

func (t *Tree) get(path string) (any, error) {
	v, ok := t.values[path]
	if !ok {
		return nil, errors.Errorf("config key %s not found", path)
	}

	return v, nil
}

// Int returns an integer value.
func (t *Tree) Int(path string) (int, error) {
	v, err := t.get(path)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 0, 64)
		if err == nil {
			return int(i), nil
		}
	}

	return 0, errors.Errorf("config key %s: %v is not an integer", path, v)
}

// Bool returns a boolean value.
func (t *Tree) Bool(path string) (bool, error) {
	v, err := t.get(path)
	if err != nil {
		return false, err
	}

	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed, nil
		}
	}

	return false, errors.Errorf("config key %s: %v is not a boolean", path, v)
}

// Float returns a floating-point value.
func (t *Tree) Float(path string) (float64, error) {
	v, err := t.get(path)
	if err != nil {
		return 0, err
	}

	switch f := v.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil {
			return parsed, nil
		}
	}

	return 0, errors.Errorf("config key %s: %v is not a number", path, v)
}

// String returns a value formatted as text.
func (t *Tree) String(path string) (string, error) {
	v, err := t.get(path)
	if err != nil {
		return "", err
	}

	if s, ok := v.(string); ok {
		return s, nil
	}

	return fmt.Sprint(v), nil
}

// IntDefault returns an integer value, or def if the key is missing. A value
// that is present but malformed still panics.
func (t *Tree) IntDefault(path string, def int) int {
	if !t.Has(path) {
		return def
	}

	v, err := t.Int(path)
	if err != nil {
		panic(err)
	}

	return v
}

// BoolDefault is Bool with a fallback for missing keys.
func (t *Tree) BoolDefault(path string, def bool) bool {
	if !t.Has(path) {
		return def
	}

	v, err := t.Bool(path)
	if err != nil {
		panic(err)
	}

	return v
}

// FloatDefault is Float with a fallback for missing keys.
func (t *Tree) FloatDefault(path string, def float64) float64 {
	if !t.Has(path) {
		return def
	}

	v, err := t.Float(path)
	if err != nil {
		panic(err)
	}

	return v
}

// StringDefault is String with a fallback for missing keys.
func (t *Tree) StringDefault(path string, def string) string {
	if !t.Has(path) {
		return def
	}

	v, _ := t.String(path)

	return v
}
