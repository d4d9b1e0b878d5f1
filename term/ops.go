package term

import (
	"sort"
	"strings"

	"github.com/symcheck/symcheck/hashmap"
)

// Compare is a total order over Values: by kind, then name, then output,
// then arguments left to right. It orders candidate values during
// exploration, so it must never depend on hashing or interning order.
func Compare(a, b Value) int {
	if a.Kind() != b.Kind() {
		if a.Kind() < b.Kind() {
			return -1
		}
		return 1
	}
	switch a.Kind() {
	case KindConstant:
		return strings.Compare(a.Name(), b.Name())
	case KindPrimitive:
		if c := strings.Compare(a.Name(), b.Name()); c != 0 {
			return c
		}
		if a.Output() != b.Output() {
			if a.Output() < b.Output() {
				return -1
			}
			return 1
		}
		return compareSlices(a.ArgSlice(), b.ArgSlice())
	case KindEquation:
		if c := Compare(a.Base(), b.Base()); c != 0 {
			return c
		}
		return compareSlices(a.Exponents(), b.Exponents())
	}
	return 0
}

func compareSlices(as, bs []Value) int {
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// Sort orders values in place by Compare.
func Sort(values []Value) {
	sort.SliceStable(values, func(i, j int) bool {
		return Compare(values[i], values[j]) < 0
	})
}

// Children returns the immediate sub-terms of v: arguments of an application,
// base and exponents of an equation.
func Children(v Value) []Value {
	switch v.Kind() {
	case KindPrimitive:
		return v.ArgSlice()
	case KindEquation:
		return append([]Value{v.Base()}, v.Exponents()...)
	}
	return nil
}

// Constants lists the constant leaves of v in first-occurrence order,
// without duplicates.
func Constants(v Value) []Value {
	var out []Value
	seen := map[string]bool{}
	var walk func(Value)
	walk = func(v Value) {
		if v.IsConstant() {
			if !seen[v.Name()] {
				seen[v.Name()] = true
				out = append(out, v)
			}
			return
		}
		for _, c := range Children(v) {
			walk(c)
		}
	}
	walk(v)
	return out
}

// Map rebuilds v bottom-up, replacing each constant leaf by fn(leaf).
// Equations are re-normalised after replacement.
func Map(v Value, fn func(Value) Value) Value {
	switch v.Kind() {
	case KindConstant:
		return fn(v)
	case KindPrimitive:
		args := v.ArgSlice()
		for i := range args {
			args[i] = Map(args[i], fn)
		}
		return MakePrimitive(v.Name(), args, v.Output(), v.Check())
	case KindEquation:
		exps := v.Exponents()
		for i := range exps {
			exps[i] = Map(exps[i], fn)
		}
		return MakeEquation(Map(v.Base(), fn), exps...)
	}
	return v
}

// Rename renames constant leaves through fn; names fn leaves unchanged are
// returned as-is.
func Rename(v Value, fn func(name string) string) Value {
	return Map(v, func(c Value) Value {
		renamed := fn(c.Name())
		if renamed == c.Name() {
			return c
		}
		return MakeConstant(renamed)
	})
}

// Dedup removes later duplicates from values, keeping order.
func Dedup(values []Value) []Value {
	seen := hashmap.New[Value, struct{}]()
	out := values[:0:0]
	for _, v := range values {
		if _, _, found := seen.GetOrSet(v, struct{}{}); !found {
			out = append(out, v)
		}
	}
	return out
}

// IndexOf returns the index of the first value equal to v, or -1.
func IndexOf(values []Value, v Value) int {
	for i := range values {
		if values[i].Equal(v) {
			return i
		}
	}
	return -1
}
