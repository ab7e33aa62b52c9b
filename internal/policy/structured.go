// SPDX-License-Identifier: MIT

package policy

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/randomparity/vpo-sub005/internal/policy/expr"
)

// compileStructured converts the object form of a condition into the
// same AST the expression parser produces, so the evaluator has a
// single interpretation path.
func compileStructured(m map[string]any) (expr.Node, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("empty condition object")
	}
	if len(m) > 1 {
		// Multiple keys at one level are an implicit conjunction,
		// combined in sorted key order for determinism.
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var node expr.Node
		for _, k := range keys {
			sub, err := compileStructured(map[string]any{k: m[k]})
			if err != nil {
				return nil, err
			}
			if node == nil {
				node = sub
			} else {
				node = &expr.And{Left: node, Right: sub}
			}
		}
		return node, nil
	}

	for key, val := range m {
		switch key {
		case "all", "any":
			items, ok := val.([]any)
			if !ok || len(items) == 0 {
				return nil, fmt.Errorf("%s: requires a non-empty list", key)
			}
			var node expr.Node
			for _, it := range items {
				sub, err := compileAny(it)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				if node == nil {
					node = sub
					continue
				}
				if key == "all" {
					node = &expr.And{Left: node, Right: sub}
				} else {
					node = &expr.Or{Left: node, Right: sub}
				}
			}
			return node, nil

		case "not":
			sub, err := compileAny(val)
			if err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
			return &expr.Not{Operand: sub}, nil

		case "exists":
			return compileTrackPredicate("exists", val, "", 0)

		case "count":
			fields, err := asMap(val)
			if err != nil {
				return nil, fmt.Errorf("count: %w", err)
			}
			op := stringField(fields, "op", "gte")
			n, err := numField(fields, "value")
			if err != nil {
				return nil, fmt.Errorf("count: %w", err)
			}
			delete(fields, "op")
			delete(fields, "value")
			call, err := compileTrackPredicate("count", fields, "", 0)
			if err != nil {
				return nil, err
			}
			opTok, err := opToken(op)
			if err != nil {
				return nil, fmt.Errorf("count: %w", err)
			}
			return &expr.Compare{Op: opTok, Left: call, Right: n}, nil

		case "plugin_metadata", "container_metadata":
			fields, err := asMap(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			call := &expr.Call{Name: key}
			if key == "plugin_metadata" {
				plugin := stringField(fields, "plugin", "")
				if plugin == "" {
					return nil, fmt.Errorf("plugin_metadata: missing plugin")
				}
				call.Args = append(call.Args, &expr.Ident{Name: plugin})
			}
			field := stringField(fields, "field", "")
			if field == "" {
				return nil, fmt.Errorf("%s: missing field", key)
			}
			call.Args = append(call.Args, &expr.Ident{Name: field})

			op := stringField(fields, "op", "exists")
			if op == "exists" {
				return call, nil
			}
			opTok, err := opToken(op)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			value, err := literalNode(fields["value"])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return &expr.Compare{Op: opTok, Left: call, Right: value}, nil

		case "is_original", "is_dubbed":
			call := &expr.Call{Name: key}
			if fields, err := asMap(val); err == nil {
				if lang := stringField(fields, "language", ""); lang != "" {
					call.Args = append(call.Args, &expr.Ident{Name: lang})
				}
			}
			return call, nil

		case "audio_is_multi_language":
			fields, err := asMap(val)
			if err != nil {
				return nil, fmt.Errorf("audio_is_multi_language: %w", err)
			}
			call := &expr.Call{Name: key}
			if th, ok := fields["threshold"]; ok {
				n, err := literalNode(th)
				if err != nil {
					return nil, fmt.Errorf("audio_is_multi_language: %w", err)
				}
				call.Args = append(call.Args, n)
			}
			if lang := stringField(fields, "primary_language", ""); lang != "" {
				call.Args = append(call.Args, &expr.Ident{Name: lang})
			}
			return call, nil

		default:
			return nil, fmt.Errorf("unknown condition key %q", key)
		}
	}
	return nil, fmt.Errorf("empty condition object")
}

// compileTrackPredicate builds exists(kind, filter...) / count(kind, filter...).
func compileTrackPredicate(name string, val any, _ string, _ int) (expr.Node, error) {
	fields, err := asMap(val)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	kind := stringField(fields, "kind", "")
	if kind == "" {
		return nil, fmt.Errorf("%s: missing kind", name)
	}
	call := &expr.Call{Name: name, Args: []expr.Node{&expr.Ident{Name: kind}}}

	// Deterministic filter order.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "kind" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		switch k {
		case "not_commentary", "forced", "default":
			b, _ := v.(bool)
			if b {
				call.Args = append(call.Args, &expr.Ident{Name: k})
			} else {
				call.Args = append(call.Args, &expr.Not{Operand: &expr.Ident{Name: k}})
			}
		case "language", "codec", "title_contains":
			node, err := filterCompare(k, v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			call.Args = append(call.Args, node)
		case "channels", "width", "height":
			node, err := literalNode(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, k, err)
			}
			call.Args = append(call.Args, &expr.Compare{
				Op:   expr.OpEq,
				Left: &expr.Ident{Name: k}, Right: node,
			})
		default:
			return nil, fmt.Errorf("%s: unknown filter %q", name, k)
		}
	}
	return call, nil
}

func filterCompare(field string, v any) (expr.Node, error) {
	left := &expr.Ident{Name: field}
	switch x := v.(type) {
	case string:
		return &expr.Compare{Op: expr.OpEq, Left: left, Right: &expr.Ident{Name: x}}, nil
	case []any:
		list := &expr.List{}
		for _, it := range x {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("%s list values must be strings", field)
			}
			list.Items = append(list.Items, &expr.Ident{Name: s})
		}
		return &expr.Compare{Op: expr.OpIn, Left: left, Right: list}, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list", field)
	}
}

func compileAny(val any) (expr.Node, error) {
	m, err := asMap(val)
	if err != nil {
		return nil, err
	}
	return compileStructured(m)
}

func asMap(val any) (map[string]any, error) {
	switch m := val.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[ks] = v
		}
		return out, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", val)
	}
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func numField(m map[string]any, key string) (expr.Node, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	return literalNode(v)
}

func literalNode(v any) (expr.Node, error) {
	switch x := v.(type) {
	case int:
		return &expr.Num{Raw: strconv.Itoa(x), Value: float64(x)}, nil
	case int64:
		return &expr.Num{Raw: strconv.FormatInt(x, 10), Value: float64(x)}, nil
	case float64:
		return &expr.Num{Raw: strconv.FormatFloat(x, 'g', -1, 64), Value: x}, nil
	case string:
		return &expr.Str{Value: x}, nil
	case bool:
		return &expr.Bool{Value: x}, nil
	case nil:
		return nil, fmt.Errorf("missing value")
	default:
		return nil, fmt.Errorf("unsupported literal type %T", v)
	}
}

func opToken(op string) (expr.TokenType, error) {
	switch op {
	case "eq":
		return expr.OpEq, nil
	case "neq":
		return expr.OpNeq, nil
	case "lt":
		return expr.OpLt, nil
	case "lte":
		return expr.OpLte, nil
	case "gt":
		return expr.OpGt, nil
	case "gte":
		return expr.OpGte, nil
	case "contains":
		// contains is modelled as an in-comparison with a single-item
		// list during evaluation; here it maps to the dedicated token.
		return expr.OpIn, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", op)
	}
}
