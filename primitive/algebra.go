package primitive

import (
	"errors"
	"fmt"

	"github.com/symcheck/symcheck/term"
)

var (
	ErrUnknownPrimitive = errors.New("unknown primitive")
	ErrArity            = errors.New("wrong number of arguments")
	ErrOutput           = errors.New("output index out of range")
	ErrCheck            = errors.New("primitive cannot be checked")
)

// Has reports whether a value is held outright, without any construction.
type Has func(term.Value) bool

// Derivation is one value revealed by an attacker rule, with the values that
// justify it.
type Derivation struct {
	Value    term.Value
	Premises []term.Value
}

// Apply builds name(args...) selecting output 0.
func Apply(name string, args ...term.Value) (term.Value, error) {
	return Build(name, args, 0, false)
}

// Build builds an application, validating it against the catalog.
func Build(name string, args []term.Value, output int, check bool) (term.Value, error) {
	spec, ok := Lookup(name)
	if !ok {
		return term.Value{}, fmt.Errorf("%w: %s", ErrUnknownPrimitive, name)
	}
	if !spec.AcceptsArity(len(args)) {
		return term.Value{}, fmt.Errorf("%w: %s takes %v, got %d", ErrArity, name, spec.Arity, len(args))
	}
	if !spec.AcceptsOutput(output) {
		return term.Value{}, fmt.Errorf("%w: %s has no output %d", ErrOutput, name, output)
	}
	if check && !spec.Check {
		return term.Value{}, fmt.Errorf("%w: %s", ErrCheck, name)
	}
	return term.MakePrimitive(name, args, output, check), nil
}

// Rewrite normalises v bottom-up with the catalog's rebuild and rewrite rules.
// Applications whose rule does not match are left in place; ok is false when
// one of them carries a check.
func Rewrite(v term.Value) (term.Value, bool) {
	switch v.Kind() {
	case term.KindPrimitive:
		args := v.ArgSlice()
		ok := true
		for i := range args {
			var argOk bool
			args[i], argOk = Rewrite(args[i])
			ok = ok && argOk
		}
		rebuilt := term.MakePrimitive(v.Name(), args, v.Output(), v.Check())
		spec, found := Lookup(v.Name())
		if !found {
			return rebuilt, ok
		}
		if spec.Rebuild != nil {
			if r, matched := applyRebuild(spec.Rebuild, rebuilt); matched {
				return r, ok
			}
			return rebuilt, ok && !rebuilt.Check()
		}
		if spec.Rewrite != nil {
			if r, matched := applyRewrite(spec.Rewrite, rebuilt); matched {
				return r, ok
			}
			return rebuilt, ok && !rebuilt.Check()
		}
		return rebuilt, ok
	case term.KindEquation:
		base, ok := Rewrite(v.Base())
		exps := v.Exponents()
		for i := range exps {
			var expOk bool
			exps[i], expOk = Rewrite(exps[i])
			ok = ok && expOk
		}
		return term.MakeEquation(base, exps...), ok
	}
	return v, true
}

func applyRewrite(rule *RewriteRule, v term.Value) (term.Value, bool) {
	inner := v
	if rule.From >= 0 {
		inner = v.Arg(rule.From)
		if !inner.IsPrimitive() || inner.Name() != rule.Inner {
			return term.Value{}, false
		}
	}
	for outerIdx, innerIdxs := range rule.Matching {
		outer := v.Arg(outerIdx)
		if rule.Filter != nil {
			var ok bool
			if outer, ok = rule.Filter(outerIdx, outer); !ok {
				return term.Value{}, false
			}
		}
		for _, innerIdx := range innerIdxs {
			if innerIdx >= inner.Args().Len() || !outer.Equal(inner.Arg(innerIdx)) {
				return term.Value{}, false
			}
		}
	}
	if rule.Accept != nil && !rule.Accept(v, inner) {
		return term.Value{}, false
	}
	return rule.To(inner, v.Output())
}

func applyRebuild(rule *RebuildRule, v term.Value) (term.Value, bool) {
	var origin term.Value
	seen := map[int]bool{}
	for _, arg := range v.ArgSlice() {
		if !arg.IsPrimitive() || arg.Name() != rule.Inner {
			return term.Value{}, false
		}
		whole := arg.WithOutput(0)
		if !origin.IsValid() {
			origin = whole
		} else if !origin.Equal(whole) {
			return term.Value{}, false
		}
		seen[arg.Output()] = true
	}
	if len(seen) < rule.Shares {
		return term.Value{}, false
	}
	return origin.Arg(rule.Reveal), true
}

// Decompose returns the arguments of v the attacker recovers, given what it
// already holds.
func Decompose(v term.Value, has Has) []Derivation {
	if !v.IsPrimitive() {
		return nil
	}
	spec, ok := Lookup(v.Name())
	if !ok || spec.Decompose == nil {
		return nil
	}
	rule := spec.Decompose
	premises := []term.Value{v}
	for _, i := range rule.Given {
		given := v.Arg(i)
		if rule.Filter != nil {
			if given, ok = rule.Filter(i, given); !ok {
				return nil
			}
		}
		if !Constructible(given, has) {
			return nil
		}
		premises = append(premises, given)
	}
	reveal := rule.Reveal
	if rule.All {
		reveal = make([]int, v.Args().Len())
		for i := range reveal {
			reveal[i] = i
		}
	}
	out := make([]Derivation, 0, len(reveal))
	for _, i := range reveal {
		out = append(out, Derivation{Value: v.Arg(i), Premises: premises})
	}
	return out
}

// Locked reports whether v has a decompose rule whose given arguments are not
// yet constructible. Such values are worth revisiting when knowledge grows.
func Locked(v term.Value, has Has) bool {
	if !v.IsPrimitive() {
		return false
	}
	spec, ok := Lookup(v.Name())
	if !ok || spec.Decompose == nil || len(spec.Decompose.Given) == 0 {
		return false
	}
	return len(Decompose(v, has)) == 0
}

// Recompose returns what v reveals together with other held outputs of the
// same application.
func Recompose(v term.Value, has Has) []Derivation {
	if !v.IsPrimitive() {
		return nil
	}
	spec, ok := Lookup(v.Name())
	if !ok || spec.Recompose == nil {
		return nil
	}
	rule := spec.Recompose
	premises := []term.Value{v}
	for i := 0; i < spec.Outputs && len(premises) < rule.Shares; i++ {
		if i == v.Output() {
			continue
		}
		if other := v.WithOutput(i); has(other) {
			premises = append(premises, other)
		}
	}
	if len(premises) < rule.Shares {
		return nil
	}
	return []Derivation{{Value: v.Arg(rule.Reveal), Premises: premises}}
}

// Constructible reports whether v is held or can be built from held values:
// an application from its arguments, an equation by raising a held partial
// power to a constructible exponent.
func Constructible(v term.Value, has Has) bool {
	if has(v) {
		return true
	}
	switch v.Kind() {
	case term.KindPrimitive:
		if _, ok := Lookup(v.Name()); !ok {
			return false
		}
		for _, arg := range v.ArgSlice() {
			if !Constructible(arg, has) {
				return false
			}
		}
		return true
	case term.KindEquation:
		exps := v.Exponents()
		for i := range exps {
			rest := make([]term.Value, 0, len(exps)-1)
			rest = append(rest, exps[:i]...)
			rest = append(rest, exps[i+1:]...)
			if Constructible(exps[i], has) && Constructible(term.MakeEquation(v.Base(), rest...), has) {
				return true
			}
		}
	}
	return false
}

// Guessable lists the password constants of v exposed to offline guessing:
// those occurring anywhere except under a password hash.
func Guessable(v term.Value, isPassword func(term.Value) bool) []term.Value {
	var out []term.Value
	var walk func(term.Value)
	walk = func(v term.Value) {
		switch v.Kind() {
		case term.KindConstant:
			if isPassword(v) && term.IndexOf(out, v) < 0 {
				out = append(out, v)
			}
		case term.KindPrimitive:
			if spec, ok := Lookup(v.Name()); ok && spec.Password {
				return
			}
			for _, arg := range v.ArgSlice() {
				walk(arg)
			}
		case term.KindEquation:
			walk(v.Base())
			for _, e := range v.Exponents() {
				walk(e)
			}
		}
	}
	walk(v)
	return out
}
