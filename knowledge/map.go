// Package knowledge tracks what principals and the attacker hold.
//
// A Map is persistent: Extend returns a new Map and leaves the receiver
// untouched, so simulation branches can fork a shared base without copying or
// locking it.
package knowledge

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/immutable"

	"github.com/symcheck/symcheck/primitive"
	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

// ErrInternalInvariant marks a defect in the verifier itself.
var ErrInternalInvariant = errors.New("internal invariant violated")

// Rule records how a value entered a Map.
type Rule uint8

const (
	Initial Rule = iota
	Generated
	Derived
	Observed
	Leaked
	Decomposed
	Recomposed
	Guessed
)

func (r Rule) String() string {
	switch r {
	case Initial:
		return "initial"
	case Generated:
		return "generated"
	case Derived:
		return "derived"
	case Observed:
		return "observed"
	case Leaked:
		return "leaked"
	case Decomposed:
		return "decomposed"
	case Recomposed:
		return "recomposed"
	case Guessed:
		return "guessed"
	}
	return "invalid"
}

// Entry justifies one value of a Map. Premises must all be constructible from
// entries with a smaller Seq. Action is the network or leak action that
// brought the value in, if any; Via lists the substitutions that were in
// force when it did.
type Entry struct {
	Seq      int
	Rule     Rule
	Premises []term.Value
	Action   *trace.Action
	Via      trace.Trace
}

type Map struct {
	entries   *immutable.Map[term.Value, Entry]
	order     *immutable.List[term.Value]
	locked    *immutable.List[term.Value]
	passwords *immutable.Map[term.Value, struct{}]
}

// NewMap returns an empty Map. Constants in passwords can be guessed once they
// occur outside a password hash in a held value.
func NewMap(passwords ...term.Value) Map {
	pw := immutable.NewMap[term.Value, struct{}](term.ValueHasher{})
	for _, p := range passwords {
		pw = pw.Set(p, struct{}{})
	}
	return Map{
		entries:   immutable.NewMap[term.Value, Entry](term.ValueHasher{}),
		order:     immutable.NewList[term.Value](),
		locked:    immutable.NewList[term.Value](),
		passwords: pw,
	}
}

func (m Map) Len() int {
	return m.order.Len()
}

func (m Map) Has(v term.Value) bool {
	_, ok := m.entries.Get(v)
	return ok
}

func (m Map) Get(v term.Value) (Entry, bool) {
	return m.entries.Get(v)
}

// Constructible reports whether the holder can build v from what it holds.
func (m Map) Constructible(v term.Value) bool {
	return primitive.Constructible(v, m.Has)
}

// Values lists held values in insertion order.
func (m Map) Values() []term.Value {
	out := make([]term.Value, 0, m.order.Len())
	it := m.order.Iterator()
	for !it.Done() {
		_, v := it.Next()
		out = append(out, v)
	}
	return out
}

func (m Map) isPassword(v term.Value) bool {
	_, ok := m.passwords.Get(v)
	return ok
}

func (m Map) insert(v term.Value, rule Rule, premises []term.Value, action *trace.Action) Map {
	return m.insertEntry(v, Entry{Rule: rule, Premises: premises, Action: action})
}

func (m Map) insertEntry(v term.Value, entry Entry) Map {
	entry.Seq = m.order.Len()
	m.entries = m.entries.Set(v, entry)
	m.order = m.order.Append(v)
	return m
}

// Extend is the only way values enter a Map. It adds v and closes the Map
// over the decompose, recompose and guessing rules until nothing new is
// derivable. Extending with a held value returns m unchanged.
func (m Map) Extend(v term.Value, rule Rule, premises []term.Value, action *trace.Action) Map {
	if !v.IsValid() {
		panic(fmt.Errorf("%w: extending with an invalid value", ErrInternalInvariant))
	}
	if m.Has(v) {
		return m
	}
	m = m.insert(v, rule, premises, action)
	return m.close([]term.Value{v})
}

// Merge adds every value of other that m lacks, in other's order, then closes
// the result. Entries taken from other get via in front of their own Via.
func (m Map) Merge(other Map, via trace.Trace) Map {
	var queue []term.Value
	it := other.order.Iterator()
	for !it.Done() {
		_, v := it.Next()
		if m.Has(v) {
			continue
		}
		entry, _ := other.entries.Get(v)
		if len(via) > 0 {
			entry.Via = append(append(trace.Trace{}, via...), entry.Via...)
		}
		m = m.insertEntry(v, entry)
		queue = append(queue, v)
	}
	if len(queue) == 0 {
		return m
	}
	return m.close(queue)
}

func (m Map) close(queue []term.Value) Map {
	for {
		for len(queue) > 0 {
			x := queue[0]
			queue = queue[1:]
			var added []term.Value
			m, added = m.closeOver(x)
			queue = append(queue, added...)
		}
		var progress []term.Value
		m, progress = m.unlock()
		if len(progress) == 0 {
			return m
		}
		queue = progress
	}
}

func (m Map) closeOver(x term.Value) (Map, []term.Value) {
	var added []term.Value
	add := func(d primitive.Derivation, rule Rule, action *trace.Action) {
		if !m.Has(d.Value) {
			m = m.insert(d.Value, rule, d.Premises, action)
			added = append(added, d.Value)
		}
	}
	if primitive.Locked(x, m.Has) {
		m.locked = m.locked.Append(x)
	} else {
		for _, d := range primitive.Decompose(x, m.Has) {
			add(d, Decomposed, nil)
		}
	}
	for _, d := range primitive.Recompose(x, m.Has) {
		add(d, Recomposed, nil)
	}
	for _, pw := range primitive.Guessable(x, m.isPassword) {
		add(primitive.Derivation{Value: pw, Premises: []term.Value{x}}, Guessed,
			&trace.Action{Kind: trace.Guess, Value: pw})
	}
	return m, added
}

// unlock retries decomposition of values whose keys were missing.
func (m Map) unlock() (Map, []term.Value) {
	var added []term.Value
	stillLocked := immutable.NewListBuilder[term.Value]()
	it := m.locked.Iterator()
	for !it.Done() {
		_, x := it.Next()
		derivations := primitive.Decompose(x, m.Has)
		if len(derivations) == 0 {
			stillLocked.Append(x)
			continue
		}
		for _, d := range derivations {
			if !m.Has(d.Value) {
				m = m.insert(d.Value, Decomposed, d.Premises, nil)
				added = append(added, d.Value)
			}
		}
	}
	m.locked = stillLocked.List()
	return m, added
}

// Audit checks that every entry is justified by earlier entries only.
func (m Map) Audit() error {
	prefix := NewMap()
	it := m.order.Iterator()
	for !it.Done() {
		i, v := it.Next()
		entry, ok := m.entries.Get(v)
		if !ok || entry.Seq != i {
			return fmt.Errorf("%w: %v is out of sequence", ErrInternalInvariant, v)
		}
		switch entry.Rule {
		case Initial, Generated, Observed, Leaked:
			if len(entry.Premises) != 0 {
				return fmt.Errorf("%w: %s value %v has premises", ErrInternalInvariant, entry.Rule, v)
			}
		case Decomposed, Recomposed, Guessed:
			if len(entry.Premises) == 0 {
				return fmt.Errorf("%w: %s value %v has no premises", ErrInternalInvariant, entry.Rule, v)
			}
		}
		for _, p := range entry.Premises {
			if !prefix.Constructible(p) {
				return fmt.Errorf("%w: %v is justified by %v, which was not yet held", ErrInternalInvariant, v, p)
			}
		}
		prefix = prefix.insertEntry(v, entry)
	}
	return nil
}

// Support lists, in insertion order, the held values needed to hold or
// build v: the entries it is constructed from and, transitively, their
// premises. It returns nil when v is not constructible.
func (m Map) Support(v term.Value) []term.Value {
	if !m.Constructible(v) {
		return nil
	}
	seen := immutable.NewMap[term.Value, struct{}](term.ValueHasher{})
	var visit func(term.Value)
	visit = func(x term.Value) {
		if _, ok := seen.Get(x); ok {
			return
		}
		seen = seen.Set(x, struct{}{})
		if entry, ok := m.entries.Get(x); ok {
			for _, p := range entry.Premises {
				visit(p)
			}
			return
		}
		for _, part := range m.constructionOf(x) {
			visit(part)
		}
	}
	visit(v)

	var out []term.Value
	it := m.order.Iterator()
	for !it.Done() {
		_, x := it.Next()
		if _, ok := seen.Get(x); ok {
			out = append(out, x)
		}
	}
	return out
}

// constructionOf returns the parts x is built from when x is constructible
// but not held.
func (m Map) constructionOf(x term.Value) []term.Value {
	switch x.Kind() {
	case term.KindPrimitive:
		return x.ArgSlice()
	case term.KindEquation:
		exps := x.Exponents()
		for i := range exps {
			rest := make([]term.Value, 0, len(exps)-1)
			rest = append(rest, exps[:i]...)
			rest = append(rest, exps[i+1:]...)
			partial := term.MakeEquation(x.Base(), rest...)
			if m.Constructible(exps[i]) && m.Constructible(partial) {
				return []term.Value{partial, exps[i]}
			}
		}
	}
	return nil
}

// Actions collects the substitutions and actions recorded on the entries of
// values, in order and without repeats.
func (m Map) Actions(values []term.Value) trace.Trace {
	var out trace.Trace
	for _, v := range values {
		entry, ok := m.entries.Get(v)
		if !ok {
			continue
		}
		for _, a := range entry.Via {
			if !out.Contains(a) {
				out = append(out, a)
			}
		}
		if entry.Action != nil && !out.Contains(*entry.Action) {
			out = append(out, *entry.Action)
		}
	}
	return out
}
