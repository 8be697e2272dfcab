// Package jsontree edits decoded JSON values (nested map[string]any) by
// slash separated path, the way a realtime database addresses its data.
package jsontree

import "strings"

// Split returns the non-empty segments of p.
func Split(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Put writes data at path below root and returns the new root.
func Put(root any, path string, data any) any {
	return setAt(root, Split(path), data)
}

// Patch writes every child below path; keys may themselves be paths.
func Patch(root any, path string, children map[string]any) any {
	base := Split(path)
	for k, v := range children {
		segs := append(append([]string{}, base...), Split(k)...)
		root = setAt(root, segs, v)
	}
	return root
}

// setAt writes data below node and returns the new node. nil data deletes,
// and objects left empty disappear the way the database prunes them.
func setAt(node any, segs []string, data any) any {
	if len(segs) == 0 {
		return data
	}
	m, ok := node.(map[string]any)
	if !ok {
		if data == nil {
			return node
		}
		m = map[string]any{}
	}
	child := setAt(m[segs[0]], segs[1:], data)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
