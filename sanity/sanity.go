// Package sanity checks that a model is well formed before it is simulated.
package sanity

import (
	"strings"

	"go.uber.org/multierr"

	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/primitive"
	"github.com/symcheck/symcheck/term"
)

// AttackerPrefix starts every constant name reserved for the attacker.
const AttackerPrefix = "attacker"

// Reserved reports whether a model may not define name itself.
func Reserved(name string) bool {
	return name == term.G.Name() || name == term.Nil.Name() || strings.HasPrefix(name, AttackerPrefix)
}

type checker struct {
	m   *model.Model
	err error
	// every name some principal defines, with the principal that generates it
	defined   map[string]bool
	generator map[string]string
	// qualifiers records the first knows declaration of every name
	qualifiers map[string]declaration
	// sends[sender][recipient] holds the names sent along that edge
	sends map[string]map[string]map[string]bool
}

type declaration struct {
	qualifier model.Qualifier
	principal string
}

func (c *checker) report(pos model.Position, principal, format string, args ...interface{}) {
	c.err = multierr.Append(c.err, model.Errorf(pos, principal, format, args...))
}

// Check runs every static check and returns all diagnostics combined with
// multierr; use Diagnostics to split them. A nil error means the model can be
// simulated.
func Check(m *model.Model) error {
	c := &checker{
		m:         m,
		defined:    map[string]bool{},
		generator:  map[string]string{},
		qualifiers: map[string]declaration{},
		sends:      map[string]map[string]map[string]bool{},
	}
	c.checkPrincipalNames()
	for i := range m.Principals {
		c.checkPrincipal(&m.Principals[i])
	}
	for i := range m.Principals {
		c.checkReceives(&m.Principals[i])
	}
	for _, q := range m.Queries {
		c.checkQuery(q)
	}
	return c.err
}

// Diagnostics splits an error returned by Check.
func Diagnostics(err error) []*model.Diagnostic {
	var out []*model.Diagnostic
	for _, e := range multierr.Errors(err) {
		if d, ok := e.(*model.Diagnostic); ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *checker) checkPrincipalNames() {
	seen := map[string]bool{}
	for _, p := range c.m.Principals {
		var pos model.Position
		if len(p.Statements) > 0 {
			pos = p.Statements[0].Pos
		}
		if p.Name == "" {
			c.report(pos, p.Name, "principal has no name")
		}
		if seen[p.Name] {
			c.report(pos, p.Name, "principal is declared twice")
		}
		seen[p.Name] = true
	}
}

func (c *checker) checkPrincipal(p *model.Principal) {
	held := map[string]bool{}
	phase := 0
	define := func(s model.Statement, name string) {
		if Reserved(name) {
			c.report(s.Pos, p.Name, "%s is a reserved name", name)
			return
		}
		if held[name] {
			c.report(s.Pos, p.Name, "%s is defined twice", name)
			return
		}
		held[name] = true
		c.defined[name] = true
	}
	use := func(s model.Statement, name string) {
		if name == term.G.Name() || name == term.Nil.Name() {
			return
		}
		if !held[name] {
			c.report(s.Pos, p.Name, "%s is used before it is defined", name)
		}
	}

	for _, s := range p.Statements {
		switch s.Kind {
		case model.Knows:
			for _, name := range s.Constants {
				if first, ok := c.qualifiers[name]; !ok {
					c.qualifiers[name] = declaration{qualifier: s.Qualifier, principal: p.Name}
				} else if first.qualifier != s.Qualifier {
					c.report(s.Pos, p.Name, "%s is known as %s here but as %s by %s",
						name, s.Qualifier, first.qualifier, first.principal)
				}
				define(s, name)
			}
		case model.Generates:
			for _, name := range s.Constants {
				if other, ok := c.generator[name]; ok && other != p.Name {
					c.report(s.Pos, p.Name, "%s is already generated by %s", name, other)
				}
				c.generator[name] = p.Name
				define(s, name)
			}
		case model.Leaks:
			for _, name := range s.Constants {
				use(s, name)
			}
		case model.Assign:
			if !s.Expr.IsValid() {
				c.report(s.Pos, p.Name, "assignment without an expression")
				continue
			}
			for _, constant := range term.Constants(s.Expr) {
				use(s, constant.Name())
			}
			c.checkExpr(s, p.Name, s.Expr, len(s.Constants))
			for _, name := range s.Constants {
				if name == "_" {
					continue
				}
				define(s, name)
			}
		case model.Send:
			if _, ok := c.m.Principal(s.Peer); !ok || s.Peer == p.Name {
				c.report(s.Pos, p.Name, "cannot send to %q", s.Peer)
			}
			for _, name := range s.Constants {
				use(s, name)
				edge := c.sends[p.Name]
				if edge == nil {
					edge = map[string]map[string]bool{}
					c.sends[p.Name] = edge
				}
				if edge[s.Peer] == nil {
					edge[s.Peer] = map[string]bool{}
				}
				edge[s.Peer][name] = true
			}
		case model.Receive:
			if _, ok := c.m.Principal(s.Peer); !ok || s.Peer == p.Name {
				c.report(s.Pos, p.Name, "cannot receive from %q", s.Peer)
			}
			for _, name := range s.Constants {
				define(s, name)
			}
		case model.PhaseChange:
			if s.Phase < phase {
				c.report(s.Pos, p.Name, "phase %d comes after phase %d", s.Phase, phase)
			}
			phase = s.Phase
		}
	}
}

// checkExpr validates every application in v against the catalog. outputs is
// the number of names the top-level expression binds.
func (c *checker) checkExpr(s model.Statement, principal string, v term.Value, outputs int) {
	switch v.Kind() {
	case term.KindPrimitive:
		spec, ok := primitive.Lookup(v.Name())
		if !ok {
			c.report(s.Pos, principal, "unknown primitive %s", v.Name())
			return
		}
		if !spec.AcceptsArity(v.Args().Len()) {
			c.report(s.Pos, principal, "%s takes %v arguments, got %d", v.Name(), spec.Arity, v.Args().Len())
		}
		if v.Check() && !spec.Check {
			c.report(s.Pos, principal, "%s cannot be checked", v.Name())
		}
		if !spec.AcceptsOutput(v.Output()) {
			c.report(s.Pos, principal, "%s has no output %d", v.Name(), v.Output())
		}
		if outputs > 1 && spec.Outputs != 0 && outputs > spec.Outputs {
			c.report(s.Pos, principal, "%s has %d outputs, %d names bound", v.Name(), spec.Outputs, outputs)
		}
		for _, arg := range v.ArgSlice() {
			c.checkExpr(s, principal, arg, 1)
		}
	case term.KindEquation:
		if outputs > 1 {
			c.report(s.Pos, principal, "an equation binds one name, got %d", outputs)
		}
		c.checkExpr(s, principal, v.Base(), 1)
		for _, e := range v.Exponents() {
			c.checkExpr(s, principal, e, 1)
		}
	case term.KindConstant:
		if outputs > 1 {
			c.report(s.Pos, principal, "a constant binds one name, got %d", outputs)
		}
	}
}

func (c *checker) checkReceives(p *model.Principal) {
	for _, s := range p.Statements {
		if s.Kind != model.Receive {
			continue
		}
		for _, name := range s.Constants {
			if !c.sends[s.Peer][p.Name][name] {
				c.report(s.Pos, p.Name, "%s is never sent by %s", name, s.Peer)
			}
		}
	}
}

func (c *checker) checkQuery(q model.Query) {
	switch q.Kind {
	case model.Confidentiality, model.Freshness:
		if !c.defined[q.Constant] {
			c.report(q.Pos, "", "query on undeclared value %s", q.Constant)
		}
	case model.Unlinkability:
		if len(q.Constants) < 2 {
			c.report(q.Pos, "", "unlinkability needs at least two values, got %d", len(q.Constants))
		}
		for _, name := range q.Constants {
			if !c.defined[name] {
				c.report(q.Pos, "", "query on undeclared value %s", name)
			}
		}
	case model.Authentication:
		c.checkMessage(q.Pos, q.Message)
		for _, pre := range q.Options.Preconditions {
			c.checkMessage(q.Pos, pre)
		}
	}
}

func (c *checker) checkMessage(pos model.Position, msg model.Message) {
	_, senderOk := c.m.Principal(msg.Sender)
	_, recipientOk := c.m.Principal(msg.Recipient)
	if !senderOk {
		c.report(pos, "", "query names unknown principal %q", msg.Sender)
	}
	if !recipientOk {
		c.report(pos, "", "query names unknown principal %q", msg.Recipient)
	}
	if senderOk && recipientOk && !c.sends[msg.Sender][msg.Recipient][msg.Constant] {
		c.report(pos, "", "%s never sends %s to %s", msg.Sender, msg.Constant, msg.Recipient)
	}
}
