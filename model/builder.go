package model

import (
	"strings"

	"github.com/symcheck/symcheck/term"
)

// Builder assembles a Model in code. Statements without a position are
// numbered by line in the order they are added.
type Builder struct {
	m    Model
	line int
}

func NewBuilder(attacker AttackerKind) *Builder {
	return &Builder{m: Model{Attacker: attacker}}
}

func (b *Builder) nextPos(pos Position) Position {
	b.line++
	if pos == (Position{}) {
		return Position{Line: b.line, Column: 1}
	}
	return pos
}

func (b *Builder) Principal(name string, statements ...Statement) *Builder {
	p := Principal{Name: name, Statements: make([]Statement, len(statements))}
	for i, s := range statements {
		s.Pos = b.nextPos(s.Pos)
		p.Statements[i] = s
	}
	b.m.Principals = append(b.m.Principals, p)
	return b
}

func (b *Builder) Confidentiality(constant string) *Builder {
	b.m.Queries = append(b.m.Queries, Query{
		Kind:     Confidentiality,
		Constant: constant,
		Pos:      b.nextPos(Position{}),
	})
	return b
}

func (b *Builder) Authentication(sender, recipient, constant string, opts QueryOptions) *Builder {
	b.m.Queries = append(b.m.Queries, Query{
		Kind:    Authentication,
		Message: Message{Sender: sender, Recipient: recipient, Constant: constant},
		Options: opts,
		Pos:     b.nextPos(Position{}),
	})
	return b
}

func (b *Builder) Freshness(constant string) *Builder {
	b.m.Queries = append(b.m.Queries, Query{
		Kind:     Freshness,
		Constant: constant,
		Pos:      b.nextPos(Position{}),
	})
	return b
}

func (b *Builder) Unlinkability(constants ...string) *Builder {
	b.m.Queries = append(b.m.Queries, Query{
		Kind:      Unlinkability,
		Constants: constants,
		Pos:       b.nextPos(Position{}),
	})
	return b
}

func (b *Builder) Model() *Model {
	m := b.m
	return &m
}

func Know(q Qualifier, names ...string) Statement {
	return Statement{Kind: Knows, Qualifier: q, Constants: names}
}

func Generate(names ...string) Statement {
	return Statement{Kind: Generates, Constants: names}
}

func Leak(names ...string) Statement {
	return Statement{Kind: Leaks, Constants: names}
}

// Let binds names to the outputs of expr.
func Let(expr term.Value, names ...string) Statement {
	return Statement{Kind: Assign, Constants: names, Expr: expr}
}

// SendTo sends names to peer. A name written as "[x]" is guarded.
func SendTo(peer string, names ...string) Statement {
	constants, guarded := splitGuards(names)
	return Statement{Kind: Send, Peer: peer, Constants: constants, Guarded: guarded}
}

// ReceiveFrom receives names from peer. A name written as "[x]" is guarded.
func ReceiveFrom(peer string, names ...string) Statement {
	constants, guarded := splitGuards(names)
	return Statement{Kind: Receive, Peer: peer, Constants: constants, Guarded: guarded}
}

func Phase(n int) Statement {
	return Statement{Kind: PhaseChange, Phase: n}
}

func splitGuards(names []string) ([]string, []bool) {
	constants := make([]string, len(names))
	guarded := make([]bool, len(names))
	for i, name := range names {
		if strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]") {
			constants[i] = name[1 : len(name)-1]
			guarded[i] = true
		} else {
			constants[i] = name
		}
	}
	return constants, guarded
}

// Ref refers to a bound name inside an expression.
func Ref(name string) term.Value {
	return term.MakeConstant(name)
}

// Call applies a primitive inside an expression. Arity is checked by the
// sanity pass, not here.
func Call(name string, args ...term.Value) term.Value {
	return term.MakePrimitive(name, args, 0, false)
}

// Checked marks an application with '?': a failed rewrite aborts the principal.
func Checked(v term.Value) term.Value {
	return v.WithCheck(true)
}

// Pow builds base^exps[0]^exps[1]...
func Pow(base term.Value, exps ...term.Value) term.Value {
	return term.MakeEquation(base, exps...)
}
