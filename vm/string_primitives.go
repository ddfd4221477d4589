package vm

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// String storage
// ---------------------------------------------------------------------------

// Str is the payload of str objects. Strings are immutable; indices count
// code points.
type Str struct {
	S string

	runes  []rune // decoded lazily for non-ASCII indexing
	kind   int8   // 0 unknown, 1 ASCII, 2 decoded into runes
	h      int64
	hashed bool
}

func (s *Str) sizeHint() int { return 48 + len(s.S) }

func (s *Str) hash() int64 {
	if !s.hashed {
		s.h = hashString(s.S)
		s.hashed = true
	}
	return s.h
}

// chars returns the code points of s, or nil when s is ASCII.
func (s *Str) chars() []rune {
	if s.kind == 0 {
		s.kind = 1
		if utf8.RuneCountInString(s.S) != len(s.S) {
			s.kind = 2
			s.runes = []rune(s.S)
		}
	}
	return s.runes
}

func (s *Str) length() int {
	if r := s.chars(); r != nil {
		return len(r)
	}
	return len(s.S)
}

func (s *Str) at(i int) string {
	if r := s.chars(); r != nil {
		return string(r[i])
	}
	return s.S[i : i+1]
}

// NewStr creates a str value.
func (e *Engine) NewStr(s string) Value {
	return e.newObject(TypeStr, &Str{S: s})
}

// AsStr returns the Go string of a str value.
func (e *Engine) AsStr(v Value) (string, bool) {
	if s, ok := payloadAs[*Str](e, v); ok {
		return s.S, true
	}
	return "", false
}

func (e *Engine) mustStr(v Value, what string) string {
	s, ok := e.AsStr(v)
	if !ok {
		e.TypeError("%s must be str, not %s", what, e.TypeName(v))
	}
	return s
}

// quoteStr renders s as a single-quoted literal unless it contains single
// quotes and no double quotes.
func quoteStr(s string) string {
	q := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == rune(q) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			b.WriteString(`\x`)
			b.WriteString(strconv.FormatInt(int64(r)|0x100, 16)[1:])
		case !unicode.IsPrint(r):
			b.WriteString(strconv.QuoteRuneToASCII(r)[1 : len(strconv.QuoteRuneToASCII(r))-1])
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}

// ---------------------------------------------------------------------------
// str primitives
// ---------------------------------------------------------------------------

func (e *Engine) registerStrPrimitives() {
	self := func(e *Engine, args ArgsView) *Str { return mustPayload[*Str](e, args[0]) }

	e.bindMethod(TypeStr, "__len__", 1, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(int64(self(e, args).length()))
	})
	e.bindMethod(TypeStr, "__hash__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewInt(self(e, args).hash())
	})
	e.bindMethod(TypeStr, "__repr__", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(quoteStr(self(e, args).S))
	})
	e.bindMethod(TypeStr, "__str__", 1, func(e *Engine, args ArgsView) Value {
		return args[0]
	})
	e.bindMethod(TypeStr, "__getitem__", 2, func(e *Engine, args ArgsView) Value {
		s := self(e, args)
		if sl, ok := payloadAs[*Slice](e, args[1]); ok {
			start, stop, step := e.sliceIndices(sl, s.length())
			var b strings.Builder
			for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
				b.WriteString(s.at(i))
			}
			return e.NewStr(b.String())
		}
		return e.NewStr(s.at(e.normIndex(int64(e.toIndex(args[1])), s.length())))
	})
	e.bindMethod(TypeStr, "__contains__", 2, func(e *Engine, args ArgsView) Value {
		return e.Bool(strings.Contains(self(e, args).S, e.mustStr(args[1], "'in <string>' left operand")))
	})
	e.bindMethod(TypeStr, "__add__", 2, func(e *Engine, args ArgsView) Value {
		other, ok := e.AsStr(args[1])
		if !ok {
			return e.NotImplemented
		}
		return e.NewStr(self(e, args).S + other)
	})
	repeat := func(e *Engine, args ArgsView) Value {
		n, ok := e.AsInt(args[1])
		if !ok {
			return e.NotImplemented
		}
		return e.NewStr(strings.Repeat(self(e, args).S, int(max(n, 0))))
	}
	e.bindMethod(TypeStr, "__mul__", 2, repeat)
	e.bindMethod(TypeStr, "__rmul__", 2, repeat)
	for op := CmpLt; op < numCompareOps; op++ {
		op := op
		e.bindMethod(TypeStr, slotNameStrings[op.slot()], 2, func(e *Engine, args ArgsView) Value {
			other, ok := e.AsStr(args[1])
			if !ok {
				return e.NotImplemented
			}
			return e.Bool(cmpResult(op, strings.Compare(self(e, args).S, other)))
		})
	}
	e.bindMethod(TypeStr, "__iter__", 1, func(e *Engine, args ArgsView) Value {
		s := self(e, args)
		i := 0
		return e.newNativeIter(args[0], func(e *Engine) Value {
			if i >= s.length() {
				return StopIter
			}
			i++
			return e.NewStr(s.at(i - 1))
		})
	})

	e.bindMethod(TypeStr, "upper", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(strings.ToUpper(self(e, args).S))
	})
	e.bindMethod(TypeStr, "lower", 1, func(e *Engine, args ArgsView) Value {
		return e.NewStr(strings.ToLower(self(e, args).S))
	})
	e.BindSignature(e.TypeValue(TypeStr), "strip(self, chars=None)", func(e *Engine, args ArgsView) Value {
		return e.stripStr(args, strings.Trim, strings.TrimSpace)
	})
	e.BindSignature(e.TypeValue(TypeStr), "lstrip(self, chars=None)", func(e *Engine, args ArgsView) Value {
		return e.stripStr(args, strings.TrimLeft, func(s string) string {
			return strings.TrimLeftFunc(s, unicode.IsSpace)
		})
	})
	e.BindSignature(e.TypeValue(TypeStr), "rstrip(self, chars=None)", func(e *Engine, args ArgsView) Value {
		return e.stripStr(args, strings.TrimRight, func(s string) string {
			return strings.TrimRightFunc(s, unicode.IsSpace)
		})
	})
	e.BindSignature(e.TypeValue(TypeStr), "split(self, sep=None, maxsplit=-1)", func(e *Engine, args ArgsView) Value {
		s := self(e, args).S
		n := e.toIndex(args[2])
		var parts []string
		if args[1] == e.None {
			parts = strings.Fields(s)
			if n >= 0 && len(parts) > n+1 {
				parts = append(parts[:n], strings.Join(parts[n:], " "))
			}
		} else {
			sep := e.mustStr(args[1], "separator")
			if sep == "" {
				e.ValueError("empty separator")
			}
			if n >= 0 {
				n++
			}
			parts = strings.SplitN(s, sep, n)
		}
		items := make([]Value, len(parts))
		for i, p := range parts {
			items[i] = e.NewStr(p)
		}
		return e.NewList(items)
	})
	e.bindMethod(TypeStr, "join", 2, func(e *Engine, args ArgsView) Value {
		items := e.toSlice(args[1])
		parts := make([]string, len(items))
		for i, it := range items {
			s, ok := e.AsStr(it)
			if !ok {
				e.TypeError("sequence item %d: expected str instance, %s found", i, e.TypeName(it))
			}
			parts[i] = s
		}
		return e.NewStr(strings.Join(parts, self(e, args).S))
	})
	e.bindMethod(TypeStr, "startswith", 2, func(e *Engine, args ArgsView) Value {
		return e.Bool(strings.HasPrefix(self(e, args).S, e.mustStr(args[1], "prefix")))
	})
	e.bindMethod(TypeStr, "endswith", 2, func(e *Engine, args ArgsView) Value {
		return e.Bool(strings.HasSuffix(self(e, args).S, e.mustStr(args[1], "suffix")))
	})
	e.bindMethod(TypeStr, "find", 2, func(e *Engine, args ArgsView) Value {
		s := self(e, args).S
		i := strings.Index(s, e.mustStr(args[1], "substring"))
		if i > 0 {
			i = utf8.RuneCountInString(s[:i])
		}
		return FromSmallInt(int64(i))
	})
	e.bindMethod(TypeStr, "count", 2, func(e *Engine, args ArgsView) Value {
		return FromSmallInt(int64(strings.Count(self(e, args).S, e.mustStr(args[1], "substring"))))
	})
	e.bindMethod(TypeStr, "replace", 3, func(e *Engine, args ArgsView) Value {
		return e.NewStr(strings.ReplaceAll(self(e, args).S,
			e.mustStr(args[1], "old"), e.mustStr(args[2], "new")))
	})
	e.bindMethod(TypeStr, "isdigit", 1, func(e *Engine, args ArgsView) Value {
		return e.Bool(allRunes(self(e, args).S, unicode.IsDigit))
	})
	e.bindMethod(TypeStr, "isalpha", 1, func(e *Engine, args ArgsView) Value {
		return e.Bool(allRunes(self(e, args).S, unicode.IsLetter))
	})
	e.bindMethod(TypeStr, "isspace", 1, func(e *Engine, args ArgsView) Value {
		return e.Bool(allRunes(self(e, args).S, unicode.IsSpace))
	})
	e.bindStatic(TypeStr, "__new__", -1, func(e *Engine, args ArgsView) Value {
		switch len(args) {
		case 1:
			return e.NewStr("")
		case 2:
			if e.IsType(args[1], TypeStr) {
				return args[1]
			}
			return e.NewStr(e.Str(args[1]))
		}
		e.TypeError("str() takes at most 1 argument (%d given)", len(args)-1)
		return Null
	})
}

func (e *Engine) stripStr(args ArgsView, cut func(string, string) string, space func(string) string) Value {
	s := mustPayload[*Str](e, args[0]).S
	if args[1] == e.None {
		return e.NewStr(space(s))
	}
	return e.NewStr(cut(s, e.mustStr(args[1], "chars")))
}

func allRunes(s string, pred func(rune) bool) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !pred(r) {
			return false
		}
	}
	return true
}
