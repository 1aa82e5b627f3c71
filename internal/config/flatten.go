package config

import (
	"sort"
	"strconv"
	"strings"
)

// Keys in the flat form are dotted paths. Slice elements use their index as
// a path segment, so the second site's URL is "sites.1.url".

var secretPaths = map[string]bool{
	"http.token": true,
}

// IsSecretKey reports whether the value at key must not be printed.
func IsSecretKey(key string) bool {
	return secretPaths[key]
}

// Flatten turns a decoded JSON document into a map of dotted paths to leaf
// values. Empty maps vanish; empty slices are kept as leaves.
func Flatten(doc map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range doc {
		walk(k, v, out)
	}
	return out
}

func walk(path string, v any, out map[string]any) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			walk(path+"."+k, child, out)
		}
	case []any:
		if len(node) == 0 {
			out[path] = node
			return
		}
		for i, child := range node {
			walk(path+"."+strconv.Itoa(i), child, out)
		}
	default:
		out[path] = v
	}
}

// Unflatten is the inverse of Flatten. A node whose children are exactly
// the indexes 0..n-1 becomes a slice.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for path, v := range flat {
		insert(root, strings.Split(path, "."), v)
	}
	for k, v := range root {
		root[k] = rebuild(v)
	}
	return root
}

func insert(node map[string]any, segs []string, v any) {
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = v
}

func rebuild(v any) any {
	node, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range node {
		node[k] = rebuild(child)
	}
	if list, ok := asList(node); ok {
		return list
	}
	return node
}

func asList(node map[string]any) ([]any, bool) {
	if len(node) == 0 {
		return nil, false
	}
	keys := make([]int, 0, len(node))
	for k := range node {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || strconv.Itoa(i) != k {
			return nil, false
		}
		keys = append(keys, i)
	}
	sort.Ints(keys)
	list := make([]any, len(keys))
	for pos, i := range keys {
		if i != pos {
			return nil, false
		}
		list[pos] = node[strconv.Itoa(i)]
	}
	return list, true
}

// assign sets path to v, dropping whatever was stored below it and any
// leaf stored at one of its parents.
func assign(flat map[string]any, path string, v any) {
	prefix := path + "."
	for k := range flat {
		if strings.HasPrefix(k, prefix) || strings.HasPrefix(path, k+".") {
			delete(flat, k)
		}
	}
	flat[path] = v
}

// subtree returns the value at path, rebuilding it when path names an
// inner node rather than a leaf.
func subtree(flat map[string]any, path string) (any, bool) {
	if v, ok := flat[path]; ok {
		return v, true
	}
	prefix := path + "."
	below := make(map[string]any)
	for k, v := range flat {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			below[rest] = v
		}
	}
	if len(below) == 0 {
		return nil, false
	}
	node := make(map[string]any)
	for k, v := range below {
		insert(node, strings.Split(k, "."), v)
	}
	return rebuild(node), true
}

func maskValue(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// MaskSecrets copies flat, replacing non-empty secret strings with "***"
// and their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = maskValue(s)
		}
		out[k] = v
	}
	return out
}
