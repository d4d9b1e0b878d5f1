// Package model holds the protocol models the verifier consumes: principals
// with their ordered statements, and the queries asked about them.
package model

import (
	"fmt"
	"strings"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/symcheck/symcheck/term"
)

type Qualifier uint8

const (
	Public Qualifier = iota
	Private
	Password
)

func (q Qualifier) String() string {
	switch q {
	case Private:
		return "private"
	case Password:
		return "password"
	default:
		return "public"
	}
}

type StatementKind uint8

const (
	Knows StatementKind = iota
	Generates
	Leaks
	Assign
	Send
	Receive
	PhaseChange
)

func (k StatementKind) String() string {
	switch k {
	case Knows:
		return "knows"
	case Generates:
		return "generates"
	case Leaks:
		return "leaks"
	case Assign:
		return "assign"
	case Send:
		return "send"
	case Receive:
		return "receive"
	case PhaseChange:
		return "phase"
	default:
		return "invalid"
	}
}

type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Statement is one step of a principal. Which fields matter depends on Kind:
// Qualifier for Knows; Expr for Assign, where Constants[i] binds output i;
// Peer and Guarded for Send and Receive; Phase for PhaseChange.
type Statement struct {
	Kind      StatementKind
	Qualifier Qualifier
	Constants []string
	Expr      term.Value `hash:"string"`
	Peer      string
	Guarded   []bool
	Phase     int
	Pos       Position
}

// IsGuarded reports whether the i-th constant of a Send or Receive cannot be
// tampered with.
func (s Statement) IsGuarded(i int) bool {
	return i < len(s.Guarded) && s.Guarded[i]
}

func (s Statement) String() string {
	switch s.Kind {
	case Knows:
		return fmt.Sprintf("knows %s %s", s.Qualifier, strings.Join(s.Constants, ", "))
	case Generates, Leaks:
		return fmt.Sprintf("%s %s", s.Kind, strings.Join(s.Constants, ", "))
	case Assign:
		return fmt.Sprintf("%s = %v", strings.Join(s.Constants, ", "), s.Expr)
	case Send:
		return fmt.Sprintf("send %s to %s", s.guardedNames(), s.Peer)
	case Receive:
		return fmt.Sprintf("receive %s from %s", s.guardedNames(), s.Peer)
	case PhaseChange:
		return fmt.Sprintf("phase[%d]", s.Phase)
	}
	return "invalid statement"
}

func (s Statement) guardedNames() string {
	names := make([]string, len(s.Constants))
	for i, c := range s.Constants {
		if s.IsGuarded(i) {
			names[i] = "[" + c + "]"
		} else {
			names[i] = c
		}
	}
	return strings.Join(names, ", ")
}

type Principal struct {
	Name       string
	Statements []Statement
}

type QueryKind uint8

const (
	Confidentiality QueryKind = iota
	Authentication
	Freshness
	Unlinkability
)

func (k QueryKind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case Freshness:
		return "freshness"
	case Unlinkability:
		return "unlinkability"
	default:
		return "confidentiality"
	}
}

// Message names one constant carried from Sender to Recipient.
type Message struct {
	Sender    string
	Recipient string
	Constant  string
}

func (m Message) String() string {
	return fmt.Sprintf("%s -> %s: %s", m.Sender, m.Recipient, m.Constant)
}

type QueryOptions struct {
	// Replayable accepts any value the sender ever sent for the constant,
	// regardless of phase.
	Replayable bool
	// Preconditions must each reach their recipient untouched in a run for
	// a forgery in that run to count.
	Preconditions []Message
}

type Query struct {
	Kind     QueryKind
	Constant string
	// Constants lists the values of an unlinkability query.
	Constants []string
	Message   Message
	Options   QueryOptions
	Pos       Position
}

// Subject is the constant the query is about. An unlinkability query is
// about every name in Constants; Subject returns the first.
func (q Query) Subject() string {
	switch q.Kind {
	case Authentication:
		return q.Message.Constant
	case Unlinkability:
		if len(q.Constants) == 0 {
			return ""
		}
		return q.Constants[0]
	}
	return q.Constant
}

func (q Query) String() string {
	switch q.Kind {
	case Authentication:
		s := fmt.Sprintf("authentication? %s", q.Message)
		if q.Options.Replayable {
			s += " [replayable]"
		}
		for _, pre := range q.Options.Preconditions {
			s += fmt.Sprintf(" [precondition %s]", pre)
		}
		return s
	case Unlinkability:
		return fmt.Sprintf("unlinkability? %s", strings.Join(q.Constants, ", "))
	default:
		return fmt.Sprintf("%s? %s", q.Kind, q.Constant)
	}
}

type AttackerKind uint8

const (
	Active AttackerKind = iota
	Passive
)

func (a AttackerKind) String() string {
	if a == Passive {
		return "passive"
	}
	return "active"
}

type Model struct {
	Attacker   AttackerKind
	Principals []Principal
	Queries    []Query
}

// Principal looks a principal up by name.
func (m *Model) Principal(name string) (*Principal, bool) {
	for i := range m.Principals {
		if m.Principals[i].Name == name {
			return &m.Principals[i], true
		}
	}
	return nil, false
}

// Fingerprint identifies the model's content. Equal models, statement
// positions included, have equal fingerprints.
func (m *Model) Fingerprint() (uint64, error) {
	return hashstructure.Hash(m, hashstructure.FormatV2, nil)
}

// Qualifiers maps every constant introduced by a knows statement to its
// qualifier, and every generated constant to Private.
func (m *Model) Qualifiers() map[string]Qualifier {
	out := map[string]Qualifier{}
	for _, p := range m.Principals {
		for _, s := range p.Statements {
			switch s.Kind {
			case Knows:
				for _, c := range s.Constants {
					out[c] = s.Qualifier
				}
			case Generates:
				for _, c := range s.Constants {
					out[c] = Private
				}
			}
		}
	}
	return out
}

// Generated lists the constants introduced by generates statements, in model
// order.
func (m *Model) Generated() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range m.Principals {
		for _, s := range p.Statements {
			if s.Kind != Generates {
				continue
			}
			for _, c := range s.Constants {
				if !seen[c] {
					seen[c] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}
