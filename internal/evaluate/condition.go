// SPDX-License-Identifier: MIT

package evaluate

import (
	"strconv"
	"strings"

	"github.com/randomparity/vpo-sub005/internal/policy/expr"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// value is the dynamic result of evaluating an expression operand.
type value struct {
	kind    valueKind
	str     string
	num     float64
	boolean bool
}

type valueKind int

const (
	valMissing valueKind = iota
	valString
	valNumber
	valBool
)

func strVal(s string) value    { return value{kind: valString, str: s} }
func numVal(f float64) value   { return value{kind: valNumber, num: f} }
func boolVal(b bool) value     { return value{kind: valBool, boolean: b} }
func missingVal() value        { return value{kind: valMissing} }

func (v value) truthy() bool {
	switch v.kind {
	case valBool:
		return v.boolean
	case valNumber:
		return v.num != 0
	case valString:
		return v.str != ""
	default:
		return false
	}
}

// evalBool evaluates a predicate AST to a boolean against the file.
func (e *evaluator) evalBool(n expr.Node) (bool, error) {
	switch x := n.(type) {
	case *expr.Or:
		l, err := e.evalBool(x.Left)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return e.evalBool(x.Right)

	case *expr.And:
		l, err := e.evalBool(x.Left)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return e.evalBool(x.Right)

	case *expr.Not:
		b, err := e.evalBool(x.Operand)
		if err != nil {
			return false, err
		}
		return !b, nil

	case *expr.Compare:
		return e.evalCompare(x)

	default:
		v, err := e.evalValue(n)
		if err != nil {
			return false, err
		}
		return v.truthy(), nil
	}
}

func (e *evaluator) evalCompare(c *expr.Compare) (bool, error) {
	if c.Op == expr.OpIn {
		return e.evalIn(c)
	}

	left, err := e.evalValue(c.Left)
	if err != nil {
		return false, err
	}
	right, err := e.evalValue(c.Right)
	if err != nil {
		return false, err
	}

	// exists-style comparisons against a missing value: only != is true.
	return compareValues(c.Op, left, right)
}

// compareValues applies a comparison operator to two resolved values.
func compareValues(op expr.TokenType, left, right value) (bool, error) {
	if left.kind == valMissing || right.kind == valMissing {
		return op == expr.OpNeq && (left.kind == valMissing) != (right.kind == valMissing), nil
	}

	switch op {
	case expr.OpEq:
		return valuesEqual(left, right), nil
	case expr.OpNeq:
		return !valuesEqual(left, right), nil
	case expr.OpLt, expr.OpLte, expr.OpGt, expr.OpGte:
		ln, ok1 := left.asNumber()
		rn, ok2 := right.asNumber()
		if !ok1 || !ok2 {
			return false, condErr("numeric comparison against non-numeric value")
		}
		switch op {
		case expr.OpLt:
			return ln < rn, nil
		case expr.OpLte:
			return ln <= rn, nil
		case expr.OpGt:
			return ln > rn, nil
		default:
			return ln >= rn, nil
		}
	case expr.OpIn:
		if left.kind == valString && right.kind == valString {
			return strings.Contains(strings.ToLower(left.str), strings.ToLower(right.str)), nil
		}
		return false, condErr("'in' requires a list or string operand")
	}
	return false, condErr("unsupported comparison operator")
}

// evalIn handles both membership (right is a list) and substring
// containment (right is a string, produced by the structured form's
// contains operator).
func (e *evaluator) evalIn(c *expr.Compare) (bool, error) {
	left, err := e.evalValue(c.Left)
	if err != nil {
		return false, err
	}
	if list, ok := c.Right.(*expr.List); ok {
		for _, item := range list.Items {
			iv, err := e.evalValue(item)
			if err != nil {
				return false, err
			}
			if valuesEqual(left, iv) {
				return true, nil
			}
		}
		return false, nil
	}
	right, err := e.evalValue(c.Right)
	if err != nil {
		return false, err
	}
	if left.kind == valString && right.kind == valString {
		return strings.Contains(strings.ToLower(left.str), strings.ToLower(right.str)), nil
	}
	return false, condErr("'in' requires a list or string operand")
}

func valuesEqual(a, b value) bool {
	if an, ok := a.asNumber(); ok {
		if bn, ok := b.asNumber(); ok {
			return an == bn
		}
	}
	if a.kind == valBool || b.kind == valBool {
		return a.truthy() == b.truthy()
	}
	return strings.EqualFold(a.str, b.str)
}

func (v value) asNumber() (float64, bool) {
	switch v.kind {
	case valNumber:
		return v.num, true
	case valString:
		if f, err := strconv.ParseFloat(v.str, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// evalValue evaluates an operand to a value.
func (e *evaluator) evalValue(n expr.Node) (value, error) {
	switch x := n.(type) {
	case *expr.Str:
		return strVal(x.Value), nil
	case *expr.Num:
		return numVal(x.Value), nil
	case *expr.Size:
		return numVal(float64(x.Bytes)), nil
	case *expr.Bool:
		return boolVal(x.Value), nil
	case *expr.Ident:
		return e.resolveIdent(x.Name)
	case *expr.Call:
		return e.evalCall(x)
	case *expr.Or, *expr.And, *expr.Not, *expr.Compare:
		b, err := e.evalBool(n)
		if err != nil {
			return value{}, err
		}
		return boolVal(b), nil
	default:
		return value{}, condErr("unsupported expression node")
	}
}

// resolveIdent maps file-level identifiers to values. Unknown names
// evaluate as plain strings, so unquoted literals like eng or dts-hd
// compare naturally.
func (e *evaluator) resolveIdent(name string) (value, error) {
	switch strings.ToLower(name) {
	case "container":
		return strVal(e.fi.Container), nil
	case "resolution":
		return strVal(e.fi.Resolution()), nil
	case "file_size", "file_size_bytes":
		return numVal(float64(e.fi.Size)), nil
	case "duration", "duration_seconds":
		return numVal(e.fi.Duration), nil
	case "video_codec":
		if v := e.fi.FirstVideo(); v != nil {
			return strVal(v.Codec), nil
		}
		return missingVal(), nil
	default:
		return strVal(name), nil
	}
}

func (e *evaluator) evalCall(c *expr.Call) (value, error) {
	name := strings.ToLower(c.Name)
	switch name {
	case "exists":
		n, err := e.countTracks(c.Args)
		if err != nil {
			return value{}, err
		}
		return boolVal(n > 0), nil

	case "count":
		n, err := e.countTracks(c.Args)
		if err != nil {
			return value{}, err
		}
		return numVal(float64(n)), nil

	case "plugin_metadata":
		if len(c.Args) != 2 {
			return value{}, condErr("plugin_metadata wants (plugin, field)")
		}
		plugin, err := identText(c.Args[0])
		if err != nil {
			return value{}, err
		}
		field, err := identText(c.Args[1])
		if err != nil {
			return value{}, err
		}
		s, ok := e.analyses.PluginFieldString(plugin, field)
		if !ok {
			return missingVal(), nil
		}
		return strVal(s), nil

	case "container_metadata":
		if len(c.Args) != 1 {
			return value{}, condErr("container_metadata wants (field)")
		}
		field, err := identText(c.Args[0])
		if err != nil {
			return value{}, err
		}
		v, ok := e.fi.Tags[strings.ToLower(field)]
		if !ok {
			return missingVal(), nil
		}
		return strVal(v), nil

	case "is_original", "is_dubbed":
		lang := ""
		if len(c.Args) > 0 {
			var err error
			lang, err = identText(c.Args[0])
			if err != nil {
				return value{}, err
			}
		}
		match := false
		for _, t := range e.fi.TracksOfKind(probe.KindAudio) {
			if lang != "" && !strings.EqualFold(t.Language, lang) {
				continue
			}
			original, known := e.analyses.IsOriginal(t.Index)
			if !known {
				continue
			}
			if (name == "is_original") == original {
				match = true
				break
			}
		}
		return boolVal(match), nil

	case "audio_is_multi_language":
		threshold := 0.2
		primary := ""
		for _, arg := range c.Args {
			switch a := arg.(type) {
			case *expr.Num:
				threshold = a.Value
			case *expr.Ident:
				primary = a.Name
			case *expr.Str:
				primary = a.Value
			default:
				return value{}, condErr("audio_is_multi_language wants (threshold?, primary_language?)")
			}
		}
		for _, t := range e.fi.TracksOfKind(probe.KindAudio) {
			ratio, ok := e.analyses.MultiLanguageRatio(t.Index, primary)
			if ok && ratio >= threshold {
				return boolVal(true), nil
			}
		}
		return boolVal(false), nil

	case "file_size_over", "file_size_under", "duration_over", "duration_under":
		if len(c.Args) != 1 {
			return value{}, condErr("%s wants one argument", name)
		}
		arg, err := e.evalValue(c.Args[0])
		if err != nil {
			return value{}, err
		}
		limit, ok := arg.asNumber()
		if !ok {
			return value{}, condErr("%s wants a numeric argument", name)
		}
		var actual float64
		if strings.HasPrefix(name, "file_size") {
			actual = float64(e.fi.Size)
		} else {
			actual = e.fi.Duration
		}
		if strings.HasSuffix(name, "_over") {
			return boolVal(actual > limit), nil
		}
		return boolVal(actual < limit), nil

	default:
		return value{}, condErr("unknown predicate function %q", c.Name)
	}
}

// countTracks evaluates exists/count arguments: a leading track kind
// followed by per-track filters.
func (e *evaluator) countTracks(args []expr.Node) (int, error) {
	if len(args) == 0 {
		return 0, condErr("exists/count wants a track kind")
	}
	kindName, err := identText(args[0])
	if err != nil {
		return 0, err
	}
	kind, err := trackKind(kindName)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, t := range e.fi.TracksOfKind(kind) {
		ok := true
		for _, f := range args[1:] {
			match, err := e.matchTrack(t, f)
			if err != nil {
				return 0, err
			}
			if !match {
				ok = false
				break
			}
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// matchTrack evaluates one filter argument against one track.
func (e *evaluator) matchTrack(t probe.Track, f expr.Node) (bool, error) {
	switch x := f.(type) {
	case *expr.Ident:
		return e.trackFlag(t, x.Name)

	case *expr.Not:
		b, err := e.matchTrack(t, x.Operand)
		if err != nil {
			return false, err
		}
		return !b, nil

	case *expr.And:
		l, err := e.matchTrack(t, x.Left)
		if err != nil || !l {
			return false, err
		}
		return e.matchTrack(t, x.Right)

	case *expr.Or:
		l, err := e.matchTrack(t, x.Left)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return e.matchTrack(t, x.Right)

	case *expr.Compare:
		left, err := trackField(t, x.Left)
		if err != nil {
			return false, err
		}
		if list, ok := x.Right.(*expr.List); ok && x.Op == expr.OpIn {
			for _, item := range list.Items {
				iv, err := e.evalValue(item)
				if err != nil {
					return false, err
				}
				if valuesEqual(left, iv) {
					return true, nil
				}
			}
			return false, nil
		}
		right, err := e.evalValue(x.Right)
		if err != nil {
			return false, err
		}
		return compareValues(x.Op, left, right)

	default:
		return false, condErr("unsupported track filter")
	}
}

func (e *evaluator) trackFlag(t probe.Track, name string) (bool, error) {
	switch strings.ToLower(name) {
	case "default":
		return t.Default, nil
	case "forced":
		return t.Forced, nil
	case "not_commentary":
		return !isCommentary(t, e.analyses), nil
	case "commentary":
		return isCommentary(t, e.analyses), nil
	default:
		return false, condErr("unknown track flag %q", name)
	}
}

// trackField resolves the left-hand side of a track filter comparison.
func trackField(t probe.Track, n expr.Node) (value, error) {
	name, err := identText(n)
	if err != nil {
		return value{}, err
	}
	switch strings.ToLower(name) {
	case "language":
		return strVal(t.Language), nil
	case "codec":
		return strVal(t.Codec), nil
	case "title", "title_contains":
		return strVal(t.Title), nil
	case "channels":
		return numVal(float64(t.Channels)), nil
	case "width":
		return numVal(float64(t.Width)), nil
	case "height":
		return numVal(float64(t.Height)), nil
	default:
		return value{}, condErr("unknown track field %q", name)
	}
}

func identText(n expr.Node) (string, error) {
	switch x := n.(type) {
	case *expr.Ident:
		return x.Name, nil
	case *expr.Str:
		return x.Value, nil
	default:
		return "", condErr("expected an identifier")
	}
}

func trackKind(name string) (probe.TrackKind, error) {
	switch strings.ToLower(name) {
	case "video":
		return probe.KindVideo, nil
	case "audio":
		return probe.KindAudio, nil
	case "subtitle", "subtitles":
		return probe.KindSubtitle, nil
	case "attachment", "attachments":
		return probe.KindAttachment, nil
	default:
		return "", condErr("unknown track kind %q", name)
	}
}
