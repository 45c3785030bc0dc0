package config

import (
	"sort"
	"strings"
)

// secretKeys are masked by ListValues and hidden by `config set`.
var secretKeys = map[string]bool{
	"telegram.token": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested JSON objects into dotted keys:
// {"api": {"base_url": "x"}} becomes {"api.base_url": "x"}.
// Empty objects produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := joinKey(prefix, k)
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// Unflatten is the inverse of Flatten. A scalar sitting where a nested key
// needs an object is replaced by the object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		node := out
		for {
			head, rest, nested := strings.Cut(key, ".")
			if !nested {
				node[head] = v
				break
			}
			child, ok := node[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[head] = child
			}
			node, key = child, rest
		}
	}
	return out
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of flat with secret values reduced to
// "***" plus their last 4 characters. Empty secrets stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			continue
		}
		r := []rune(s)
		if len(r) > 4 {
			r = r[len(r)-4:]
		}
		out[k] = "***" + string(r)
	}
	return out
}
