package knowledge

import (
	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/primitive"
	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

// State is one principal's view during a run: what each of its names is bound
// to, and everything it holds.
type State struct {
	Name     string
	bindings *immutable.Map[string, term.Value]
	Known    Map
}

type nameHasher struct{}

func (nameHasher) Hash(name string) uint32 {
	return fnv1a.HashString32(name)
}

func (nameHasher) Equal(a, b string) bool {
	return a == b
}

// Initialize seeds a principal's State with the constants its knows and
// generates statements introduce, plus the public G and nil.
func Initialize(p *model.Principal) State {
	s := State{
		Name:     p.Name,
		bindings: immutable.NewMap[string, term.Value](nameHasher{}),
		Known:    NewMap(),
	}
	s.Known = s.Known.Extend(term.G, Initial, nil, nil)
	s.Known = s.Known.Extend(term.Nil, Initial, nil, nil)
	for _, stmt := range p.Statements {
		rule := Initial
		switch stmt.Kind {
		case model.Knows:
		case model.Generates:
			rule = Generated
		default:
			continue
		}
		for _, name := range stmt.Constants {
			c := term.MakeConstant(name)
			s.bindings = s.bindings.Set(name, c)
			s.Known = s.Known.Extend(c, rule, nil, nil)
		}
	}
	return s
}

// Lookup returns the value a name is bound to.
func (s State) Lookup(name string) (term.Value, bool) {
	switch name {
	case term.G.Name():
		return term.G, true
	case term.Nil.Name():
		return term.Nil, true
	}
	return s.bindings.Get(name)
}

// Resolve replaces every name in expr by the value it is bound to. An unbound
// name is a ModelError located at pos.
func (s State) Resolve(expr term.Value, pos model.Position) (term.Value, []term.Value, error) {
	var err error
	var premises []term.Value
	resolved := term.Map(expr, func(c term.Value) term.Value {
		v, ok := s.Lookup(c.Name())
		if !ok {
			if err == nil {
				err = model.Errorf(pos, s.Name, "%s is used before it is defined", c.Name())
			}
			return c
		}
		if term.IndexOf(premises, v) < 0 {
			premises = append(premises, v)
		}
		return v
	})
	if err != nil {
		return term.Value{}, nil, err
	}
	return resolved, premises, nil
}

// Bind binds name to v, which the principal obtained by rule.
func (s State) Bind(name string, v term.Value, rule Rule, premises []term.Value, action *trace.Action) State {
	s.bindings = s.bindings.Set(name, v)
	s.Known = s.Known.Extend(v, rule, premises, action)
	return s
}

// Derive executes an assignment. The expression is resolved against s,
// rewritten, and its outputs are bound to the statement's names in order.
// ok is false when a checked rewrite fails; the principal stops there.
func Derive(s State, stmt model.Statement) (State, bool, error) {
	resolved, premises, err := s.Resolve(stmt.Expr, stmt.Pos)
	if err != nil {
		return s, false, err
	}
	if len(stmt.Constants) > 1 && !resolved.IsPrimitive() {
		return s, false, model.Errorf(stmt.Pos, s.Name, "only a primitive can bind %d names", len(stmt.Constants))
	}
	for i, name := range stmt.Constants {
		out := resolved
		if resolved.IsPrimitive() && i != resolved.Output() {
			out = resolved.WithOutput(i)
		}
		rewritten, ok := primitive.Rewrite(out)
		if !ok {
			return s, false, nil
		}
		s = s.Bind(name, rewritten, Derived, premises, nil)
	}
	return s, true, nil
}
