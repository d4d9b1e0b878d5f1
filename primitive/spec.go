package primitive

import (
	"github.com/symcheck/symcheck/term"
)

// Flag classifies how a primitive treats its inputs.
type Flag uint8

const (
	FlagDeterministic Flag = iota
	FlagInjective
	FlagRandom
)

func (f Flag) String() string {
	switch f {
	case FlagInjective:
		return "injective"
	case FlagRandom:
		return "random"
	default:
		return "deterministic"
	}
}

// DecomposeRule lets the attacker recover arguments of an application it
// holds. Given lists argument indices the attacker must be able to construct;
// Filter, when set, maps a given argument to what the attacker actually needs
// (for PKE_ENC, the exponent of the public key).
type DecomposeRule struct {
	Given  []int
	Reveal []int
	All    bool
	Filter func(index int, arg term.Value) (term.Value, bool)
}

// RecomposeRule reveals argument Reveal of an application once Shares distinct
// outputs of it are known.
type RecomposeRule struct {
	Shares int
	Reveal int
}

// RewriteRule normalises an application during honest execution. The argument
// at From must be an application of Inner (From < 0 matches the application
// against itself). Matching pairs an outer argument index with the inner
// argument indices it must equal, after Filter is applied to the outer
// argument. Accept, when set, must also hold of the outer and inner
// applications. To produces the result from the matched inner application.
type RewriteRule struct {
	From     int
	Inner    string
	Matching map[int][]int
	Filter   func(index int, arg term.Value) (term.Value, bool)
	Accept   func(outer, inner term.Value) bool
	To       func(inner term.Value, output int) (term.Value, bool)
}

// RebuildRule rewrites an application whose arguments are Shares distinct
// outputs of the same Inner application to that application's Reveal argument.
type RebuildRule struct {
	Inner  string
	Shares int
	Reveal int
}

// Spec describes one primitive. The rest of the engine is driven entirely by
// the catalog of Specs.
type Spec struct {
	Name       string
	Arity      []int
	Outputs    int // 0: as many outputs as the rewritten value has parts
	Flag       Flag
	Check      bool
	Injectable bool
	Password   bool

	Decompose *DecomposeRule
	Recompose *RecomposeRule
	Rewrite   *RewriteRule
	Rebuild   *RebuildRule
}

// AcceptsArity reports whether n arguments are allowed.
func (s *Spec) AcceptsArity(n int) bool {
	for _, a := range s.Arity {
		if a == n {
			return true
		}
	}
	return false
}

// AcceptsOutput reports whether output index i may be selected.
func (s *Spec) AcceptsOutput(i int) bool {
	if i < 0 {
		return false
	}
	return s.Outputs == 0 || i < s.Outputs
}

func arities(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

// stripGenerator maps G^x to x.
func stripGenerator(_ int, arg term.Value) (term.Value, bool) {
	if !arg.IsEquation() || !arg.Base().Equal(term.G) {
		return term.Value{}, false
	}
	exps := arg.Exponents()
	if len(exps) != 1 {
		return term.Value{}, false
	}
	return exps[0], true
}

func raiseGenerator(_ int, arg term.Value) (term.Value, bool) {
	return term.MakeEquation(term.G, arg), true
}

func innerArg(i int) func(term.Value, int) (term.Value, bool) {
	return func(inner term.Value, _ int) (term.Value, bool) {
		return inner.Arg(i), true
	}
}

func toNil(term.Value, int) (term.Value, bool) {
	return term.Nil, true
}

// sameRing reports whether the first three arguments of a RINGSIGNVERIF are
// the ring of a RINGSIGN, in any order: the signer's public key and the two
// other members' keys.
func sameRing(outer, inner term.Value) bool {
	ring := []term.Value{term.MakeEquation(term.G, inner.Arg(0)), inner.Arg(1), inner.Arg(2)}
	used := make([]bool, len(ring))
	for i := 0; i < 3; i++ {
		found := false
		for j, member := range ring {
			if !used[j] && member.Equal(outer.Arg(i)) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var catalog = map[string]*Spec{
	"ENC": {
		Name: "ENC", Arity: []int{2}, Outputs: 1, Flag: FlagInjective, Injectable: true,
		Decompose: &DecomposeRule{Given: []int{0}, Reveal: []int{1}},
	},
	"DEC": {
		Name: "DEC", Arity: []int{2}, Outputs: 1,
		Rewrite: &RewriteRule{From: 1, Inner: "ENC", Matching: map[int][]int{0: {0}}, To: innerArg(1)},
	},
	"AEAD_ENC": {
		Name: "AEAD_ENC", Arity: []int{3}, Outputs: 1, Flag: FlagInjective, Injectable: true,
		Decompose: &DecomposeRule{Given: []int{0}, Reveal: []int{1}},
	},
	"AEAD_DEC": {
		Name: "AEAD_DEC", Arity: []int{3}, Outputs: 1, Check: true,
		Rewrite: &RewriteRule{From: 1, Inner: "AEAD_ENC", Matching: map[int][]int{0: {0}, 2: {2}}, To: innerArg(1)},
	},
	"PKE_ENC": {
		Name: "PKE_ENC", Arity: []int{2}, Outputs: 1, Flag: FlagInjective, Injectable: true,
		Decompose: &DecomposeRule{Given: []int{0}, Reveal: []int{1}, Filter: stripGenerator},
	},
	"PKE_DEC": {
		Name: "PKE_DEC", Arity: []int{2}, Outputs: 1,
		Rewrite: &RewriteRule{
			From: 1, Inner: "PKE_ENC", Matching: map[int][]int{0: {0}},
			Filter: raiseGenerator, To: innerArg(1),
		},
	},
	"SIGN": {
		Name: "SIGN", Arity: []int{2}, Outputs: 1, Injectable: true,
	},
	"SIGNVERIF": {
		Name: "SIGNVERIF", Arity: []int{3}, Outputs: 1, Check: true,
		Rewrite: &RewriteRule{
			From: 2, Inner: "SIGN", Matching: map[int][]int{0: {0}, 1: {1}},
			Filter: func(i int, arg term.Value) (term.Value, bool) {
				if i == 0 {
					return stripGenerator(i, arg)
				}
				return arg, true
			},
			To: toNil,
		},
	},
	"RINGSIGN": {
		Name: "RINGSIGN", Arity: []int{4}, Outputs: 1, Injectable: true,
	},
	"RINGSIGNVERIF": {
		Name: "RINGSIGNVERIF", Arity: []int{5}, Outputs: 1, Check: true,
		Rewrite: &RewriteRule{
			From: 4, Inner: "RINGSIGN", Matching: map[int][]int{3: {3}},
			Accept: sameRing, To: toNil,
		},
	},
	"MAC": {
		Name: "MAC", Arity: []int{2}, Outputs: 1, Injectable: true,
	},
	"HASH": {
		Name: "HASH", Arity: arities(1, 5), Outputs: 1, Injectable: true,
	},
	"HKDF": {
		Name: "HKDF", Arity: []int{3}, Outputs: 5, Injectable: true,
	},
	"PW_HASH": {
		Name: "PW_HASH", Arity: arities(1, 5), Outputs: 1, Password: true,
	},
	"ASSERT": {
		Name: "ASSERT", Arity: []int{2}, Outputs: 1, Check: true,
		Rewrite: &RewriteRule{From: -1, Matching: map[int][]int{0: {1}}, To: toNil},
	},
	"CONCAT": {
		Name: "CONCAT", Arity: arities(2, 5), Outputs: 1, Flag: FlagInjective, Injectable: true,
		Decompose: &DecomposeRule{All: true},
	},
	"SPLIT": {
		Name: "SPLIT", Arity: []int{1}, Outputs: 0, Check: true,
		Rewrite: &RewriteRule{
			From: 0, Inner: "CONCAT",
			To: func(inner term.Value, output int) (term.Value, bool) {
				if output >= inner.Args().Len() {
					return term.Value{}, false
				}
				return inner.Arg(output), true
			},
		},
	},
	"SHAMIR_SPLIT": {
		Name: "SHAMIR_SPLIT", Arity: []int{1}, Outputs: 3,
		Recompose: &RecomposeRule{Shares: 2, Reveal: 0},
	},
	"SHAMIR_JOIN": {
		Name: "SHAMIR_JOIN", Arity: []int{2}, Outputs: 1,
		Rebuild: &RebuildRule{Inner: "SHAMIR_SPLIT", Shares: 2, Reveal: 0},
	},
}

// Lookup returns the Spec for a primitive name.
func Lookup(name string) (*Spec, bool) {
	spec, ok := catalog[name]
	return spec, ok
}
