// Copyright 2025 RepoRoller Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parse

import (
	"fmt"
	"sort"

	"github.com/reporoller/reporoller/pkg/config"
)

// walker accumulates issues and parse metadata while the document tree is
// consumed field by field. Any key never requested by the schema is an
// unknown field.
type walker struct {
	opts     Options
	errors   []Issue
	warnings []Issue
	fields   int
	legacy   bool
}

func (w *walker) errorf(path, format string, args ...any) {
	w.errors = append(w.errors, Issue{FieldPath: path, Message: fmt.Sprintf(format, args...)})
}

func (w *walker) errorSuggest(path, suggestion, format string, args ...any) {
	w.errors = append(w.errors, Issue{
		FieldPath:  path,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	})
}

func (w *walker) warnf(path, format string, args ...any) {
	w.warnings = append(w.warnings, Issue{FieldPath: path, Message: fmt.Sprintf(format, args...)})
}

// node is one table of the document under inspection.
type node struct {
	w     *walker
	path  string
	m     map[string]any
	known []string
}

func (w *walker) root(m map[string]any) *node {
	return &node{w: w, m: m}
}

func (n *node) childPath(key string) string {
	if n.path == "" {
		return key
	}
	return config.FieldPath(n.path, key)
}

// raw requests a key, registering it as part of the schema at this level.
func (n *node) raw(key string) (any, bool) {
	n.known = append(n.known, key)
	v, ok := n.m[key]
	return v, ok
}

// finish rejects every key the schema never requested.
func (n *node) finish() {
	var unknown []string
	for k := range n.m {
		found := false
		for _, known := range n.known {
			if k == known {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		sug := ""
		if near := nearestKey(k, n.known); near != "" {
			sug = fmt.Sprintf("did you mean %q", near)
		}
		n.w.errorSuggest(n.childPath(k), sug, "unknown field %q", k)
	}
}

// table returns the sub-table for key, or nil when absent or mistyped.
func (n *node) table(key string) *node {
	v, ok := n.raw(key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		n.w.errorf(n.childPath(key), "expected a table, got %T", v)
		return nil
	}
	return &node{w: n.w, path: n.childPath(key), m: m}
}

// tableSlice returns the array-of-tables for key.
func (n *node) tableSlice(key string) []*node {
	v, ok := n.raw(key)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		// go-toml decodes [[x]] as []map[string]any when homogeneous.
		if ms, ok := v.([]map[string]any); ok {
			var out []*node
			for i, m := range ms {
				out = append(out, &node{w: n.w, path: fmt.Sprintf("%s[%d]", n.childPath(key), i), m: m})
			}
			return out
		}
		n.w.errorf(n.childPath(key), "expected an array of tables, got %T", v)
		return nil
	}
	var out []*node
	for i, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			n.w.errorf(fmt.Sprintf("%s[%d]", n.childPath(key), i), "expected a table, got %T", e)
			continue
		}
		out = append(out, &node{w: n.w, path: fmt.Sprintf("%s[%d]", n.childPath(key), i), m: m})
	}
	return out
}

func (n *node) str(key string) (string, bool) {
	v, ok := n.raw(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		n.w.errorf(n.childPath(key), "expected a string, got %T", v)
		return "", false
	}
	n.w.fields++
	return s, true
}

func (n *node) boolean(key string) (bool, bool) {
	v, ok := n.raw(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		n.w.errorf(n.childPath(key), "expected a boolean, got %T", v)
		return false, false
	}
	n.w.fields++
	return b, true
}

func (n *node) integer(key string) (int, bool) {
	v, ok := n.raw(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int64)
	if !ok {
		n.w.errorf(n.childPath(key), "expected an integer, got %T", v)
		return 0, false
	}
	n.w.fields++
	return int(i), true
}

func (n *node) strSlice(key string) ([]string, bool) {
	v, ok := n.raw(key)
	if !ok {
		return nil, false
	}
	if ss, ok := v.([]string); ok {
		n.w.fields++
		return ss, true
	}
	arr, ok := v.([]any)
	if !ok {
		n.w.errorf(n.childPath(key), "expected an array of strings, got %T", v)
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			n.w.errorf(fmt.Sprintf("%s[%d]", n.childPath(key), i), "expected a string, got %T", e)
			return nil, false
		}
		out = append(out, s)
	}
	n.w.fields++
	return out, true
}

// strMap reads an inline table of string values.
func (n *node) strMap(key string) (map[string]string, bool) {
	t := n.table(key)
	if t == nil {
		return nil, false
	}
	out := make(map[string]string, len(t.m))
	keys := make([]string, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := t.m[k].(string)
		if !ok {
			n.w.errorf(config.FieldPath(t.path, k), "expected a string, got %T", t.m[k])
			continue
		}
		out[k] = s
	}
	n.w.fields += len(out)
	return out, true
}

// overridable reads an Overridable field. The canonical form is a table
// {value = v, overridable = bool} with overridable defaulting to true. A
// bare scalar is the deprecated legacy form.
func overridable[T comparable](n *node, key string, convert func(path string, v any) (T, bool)) *config.Overridable[T] {
	v, ok := n.raw(key)
	if !ok {
		return nil
	}
	path := n.childPath(key)
	if m, ok := v.(map[string]any); ok {
		sub := &node{w: n.w, path: path, m: m}
		raw, ok := sub.raw("value")
		if !ok {
			n.w.errorf(path, "override table must contain a value")
			return nil
		}
		val, ok := convert(config.FieldPath(path, "value"), raw)
		if !ok {
			return nil
		}
		allow := true
		if rawAllow, ok := sub.raw("overridable"); ok {
			b, isBool := rawAllow.(bool)
			if !isBool {
				n.w.errorf(config.FieldPath(path, "overridable"), "expected a boolean, got %T", rawAllow)
				return nil
			}
			allow = b
		}
		sub.finish()
		n.w.fields++
		return config.OverridablePtr(val, allow)
	}
	// Legacy bare scalar.
	n.w.legacy = true
	val, ok := convert(path, v)
	if !ok {
		return nil
	}
	if !n.w.opts.AllowLegacyScalars {
		n.w.errorSuggest(path, fmt.Sprintf("write %s = {value = ..., overridable = true}", key),
			"deprecated bare scalar form for overridable field")
		return nil
	}
	n.w.warnf(path, "deprecated bare scalar form for overridable field, assuming overridable")
	n.w.fields++
	return config.OverridablePtr(val, true)
}

func (n *node) ovBool(key string) *config.Overridable[bool] {
	return overridable(n, key, func(path string, v any) (bool, bool) {
		b, ok := v.(bool)
		if !ok {
			n.w.errorf(path, "expected a boolean, got %T", v)
		}
		return b, ok
	})
}

func (n *node) ovInt(key string) *config.Overridable[int] {
	return overridable(n, key, func(path string, v any) (int, bool) {
		i, ok := v.(int64)
		if !ok {
			n.w.errorf(path, "expected an integer, got %T", v)
		}
		return int(i), ok
	})
}

func (n *node) ovString(key string) *config.Overridable[string] {
	return overridable(n, key, func(path string, v any) (string, bool) {
		s, ok := v.(string)
		if !ok {
			n.w.errorf(path, "expected a string, got %T", v)
		}
		return s, ok
	})
}

// ovEnum reads an Overridable whose value must be a member of a closed
// string set.
func ovEnum[T ~string](n *node, key string, valid func(T) bool, allowed []T) *config.Overridable[T] {
	return overridable(n, key, func(path string, v any) (T, bool) {
		s, ok := v.(string)
		if !ok {
			n.w.errorf(path, "expected a string, got %T", v)
			return "", false
		}
		t := T(s)
		if !valid(t) {
			n.w.errorSuggest(path, fmt.Sprintf("one of %v", allowed), "%q is not a valid value", s)
			return "", false
		}
		return t, true
	})
}

// nearestKey finds the known key closest to k, if any is close enough to be
// a plausible typo.
func nearestKey(k string, known []string) string {
	best, bestDist := "", 4
	for _, cand := range known {
		if d := levenshtein(k, cand); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
