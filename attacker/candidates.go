package attacker

import (
	"fmt"

	"github.com/symcheck/symcheck/knowledge"
	"github.com/symcheck/symcheck/primitive"
	"github.com/symcheck/symcheck/term"
)

// Slot is an unguarded receive the attacker may tamper with: constant
// Position of statement Statement of Recipient, in the phase its message was
// sent.
type Slot struct {
	Index     int
	Recipient string
	Sender    string
	Constant  string
	Statement int
	Position  int
	Phase     int
	Honest    term.Value
}

func (s Slot) String() string {
	return fmt.Sprintf("%s -> %s: %s (phase %d)", s.Sender, s.Recipient, s.Constant, s.Phase)
}

// sameShape reports whether v may stand in for honest: any constant for a
// constant, any equation for an equation, the same output of the same
// primitive for an application.
func sameShape(v, honest term.Value) bool {
	if v.Kind() != honest.Kind() {
		return false
	}
	if v.IsPrimitive() {
		return v.Name() == honest.Name() && v.Output() == honest.Output()
	}
	return true
}

// candidates lists what the attacker may deliver in place of honest, in a
// fixed order: honest itself, then held values of the same shape sorted by
// term.Compare, then values it builds by replacing the arguments of honest,
// nested up to depth levels. The list never exceeds limit entries; truncated
// reports that some were dropped.
func candidates(honest term.Value, known knowledge.Map, depth, limit int) (out []term.Value, truncated bool) {
	out = []term.Value{honest}
	out = append(out, heldOfShape(honest, known)...)
	built, truncated := skeletons(honest, known, depth, limit)
	out = term.Dedup(append(out, built...))
	if len(out) > limit {
		out = out[:limit]
		truncated = true
	}
	return out, truncated
}

func heldOfShape(honest term.Value, known knowledge.Map) []term.Value {
	var out []term.Value
	for _, v := range known.Values() {
		if sameShape(v, honest) && !v.Equal(honest) {
			out = append(out, v)
		}
	}
	term.Sort(out)
	return out
}

// skeletons builds applications of honest's primitive over arguments the
// attacker can construct. Each argument ranges over the honest argument, when
// constructible, then held values of its shape, then its own skeletons one
// level shallower. At most limit skeletons are built at each level.
func skeletons(honest term.Value, known knowledge.Map, depth, limit int) (out []term.Value, truncated bool) {
	if depth <= 0 || !honest.IsPrimitive() {
		return nil, false
	}
	spec, ok := primitive.Lookup(honest.Name())
	if !ok || !spec.Injectable {
		return nil, false
	}
	args := honest.ArgSlice()
	choices := make([][]term.Value, len(args))
	ceilings := make([]int, len(args))
	for i, arg := range args {
		var c []term.Value
		if known.Constructible(arg) {
			c = append(c, arg)
		}
		c = append(c, heldOfShape(arg, known)...)
		nested, cut := skeletons(arg, known, depth-1, limit)
		truncated = truncated || cut
		for _, n := range nested {
			if term.IndexOf(c, n) < 0 {
				c = append(c, n)
			}
		}
		if len(c) == 0 {
			return nil, truncated
		}
		choices[i] = c
		ceilings[i] = len(c)
	}

	for cnt := makeBranchCounter(ceilings); !cnt.Done(); cnt.Next() {
		picked := make([]term.Value, len(args))
		for i, d := range cnt.Digits() {
			picked[i] = choices[i][d]
		}
		v := term.MakePrimitive(honest.Name(), picked, honest.Output(), false)
		if v.Equal(honest) {
			continue
		}
		if len(out) >= limit {
			return out, true
		}
		out = append(out, v)
	}
	return out, truncated
}

func sameCandidates(a, b [][]term.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if !a[i][j].Equal(b[i][j]) {
				return false
			}
		}
	}
	return true
}
