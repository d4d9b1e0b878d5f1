package model

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/symcheck/symcheck/term"
)

// The TOML interchange format is a structured dump of a model, e.g.
//
//	attacker = "active"
//
//	[[principals]]
//	name = "Alice"
//	statements = [
//	  { op = "knows", qualifier = "private", names = ["k"], line = 2 },
//	  { op = "assign", names = ["c"], expr = { prim = "ENC", args = [{ ref = "k" }, { ref = "m" }] } },
//	  { op = "send", peer = "Bob", names = ["c"] },
//	]
//
//	[[queries]]
//	kind = "confidentiality"
//	constant = "m"
//
//	[[queries]]
//	kind = "authentication"
//	sender = "Alice"
//	recipient = "Bob"
//	constant = "c"
//	preconditions = [{ sender = "Alice", recipient = "Bob", constant = "e" }]
//
//	[[queries]]
//	kind = "unlinkability"
//	constants = ["a", "b"]
type fileModel struct {
	Attacker   string          `toml:"attacker"`
	Principals []filePrincipal `toml:"principals"`
	Queries    []fileQuery     `toml:"queries"`
}

type filePrincipal struct {
	Name       string          `toml:"name"`
	Statements []fileStatement `toml:"statements"`
}

type fileStatement struct {
	Op        string    `toml:"op"`
	Qualifier string    `toml:"qualifier"`
	Names     []string  `toml:"names"`
	Expr      *fileExpr `toml:"expr"`
	Peer      string    `toml:"peer"`
	Phase     int       `toml:"phase"`
	Line      int       `toml:"line"`
	Column    int       `toml:"column"`
}

type fileExpr struct {
	Ref    string     `toml:"ref"`
	Prim   string     `toml:"prim"`
	Args   []fileExpr `toml:"args"`
	Pow    []fileExpr `toml:"pow"`
	Output int        `toml:"output"`
	Check  bool       `toml:"check"`
}

type fileQuery struct {
	Kind          string        `toml:"kind"`
	Constant      string        `toml:"constant"`
	Constants     []string      `toml:"constants"`
	Sender        string        `toml:"sender"`
	Recipient     string        `toml:"recipient"`
	Replayable    bool          `toml:"replayable"`
	Preconditions []fileMessage `toml:"preconditions"`
	Line          int           `toml:"line"`
	Column        int           `toml:"column"`
}

type fileMessage struct {
	Sender    string `toml:"sender"`
	Recipient string `toml:"recipient"`
	Constant  string `toml:"constant"`
}

// LoadFile reads a TOML model dump.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a TOML model dump. Unknown keys are rejected at any depth.
func Decode(r io.Reader) (*Model, error) {
	var file fileModel
	md, err := toml.NewDecoder(r).Decode(&file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrModel, undecoded[0].String())
	}
	return file.toModel()
}

func (f fileModel) toModel() (*Model, error) {
	m := &Model{}
	switch f.Attacker {
	case "", "active":
		m.Attacker = Active
	case "passive":
		m.Attacker = Passive
	default:
		return nil, fmt.Errorf("%w: unknown attacker %q", ErrModel, f.Attacker)
	}
	for _, fp := range f.Principals {
		p := Principal{Name: fp.Name}
		for _, fs := range fp.Statements {
			s, err := fs.toStatement()
			if err != nil {
				return nil, fmt.Errorf("%w: %s, line %d", err, fp.Name, fs.Line)
			}
			p.Statements = append(p.Statements, s)
		}
		m.Principals = append(m.Principals, p)
	}
	for _, fq := range f.Queries {
		q := Query{
			Constant: fq.Constant,
			Options:  QueryOptions{Replayable: fq.Replayable},
			Pos:      Position{Line: fq.Line, Column: fq.Column},
		}
		for _, pre := range fq.Preconditions {
			q.Options.Preconditions = append(q.Options.Preconditions, Message(pre))
		}
		switch fq.Kind {
		case "confidentiality":
			q.Kind = Confidentiality
		case "authentication":
			q.Kind = Authentication
			q.Message = Message{Sender: fq.Sender, Recipient: fq.Recipient, Constant: fq.Constant}
		case "freshness":
			q.Kind = Freshness
		case "unlinkability":
			q.Kind = Unlinkability
			q.Constant = ""
			q.Constants = fq.Constants
		default:
			return nil, fmt.Errorf("%w: unknown query kind %q, line %d", ErrModel, fq.Kind, fq.Line)
		}
		m.Queries = append(m.Queries, q)
	}
	return m, nil
}

func (fs fileStatement) toStatement() (Statement, error) {
	pos := Position{Line: fs.Line, Column: fs.Column}
	var s Statement
	switch fs.Op {
	case "knows":
		s = Know(Public, fs.Names...)
		switch fs.Qualifier {
		case "", "public":
		case "private":
			s.Qualifier = Private
		case "password":
			s.Qualifier = Password
		default:
			return Statement{}, fmt.Errorf("%w: unknown qualifier %q", ErrModel, fs.Qualifier)
		}
	case "generates":
		s = Generate(fs.Names...)
	case "leaks":
		s = Leak(fs.Names...)
	case "assign":
		if fs.Expr == nil {
			return Statement{}, fmt.Errorf("%w: assignment without expression", ErrModel)
		}
		expr, err := fs.Expr.toValue()
		if err != nil {
			return Statement{}, err
		}
		s = Let(expr, fs.Names...)
	case "send":
		s = SendTo(fs.Peer, fs.Names...)
	case "receive":
		s = ReceiveFrom(fs.Peer, fs.Names...)
	case "phase":
		s = Phase(fs.Phase)
	default:
		return Statement{}, fmt.Errorf("%w: unknown statement %q", ErrModel, fs.Op)
	}
	s.Pos = pos
	return s, nil
}

func (fe fileExpr) toValue() (term.Value, error) {
	var v term.Value
	switch {
	case fe.Ref != "" && fe.Prim == "":
		v = term.MakeConstant(fe.Ref)
	case fe.Prim != "" && fe.Ref == "":
		args := make([]term.Value, 0, len(fe.Args))
		for _, fa := range fe.Args {
			a, err := fa.toValue()
			if err != nil {
				return term.Value{}, err
			}
			args = append(args, a)
		}
		v = term.MakePrimitive(fe.Prim, args, fe.Output, fe.Check)
	default:
		return term.Value{}, fmt.Errorf("%w: expression needs exactly one of ref or prim", ErrModel)
	}
	if len(fe.Pow) == 0 {
		return v, nil
	}
	exps := make([]term.Value, 0, len(fe.Pow))
	for _, fx := range fe.Pow {
		x, err := fx.toValue()
		if err != nil {
			return term.Value{}, err
		}
		exps = append(exps, x)
	}
	return term.MakeEquation(v, exps...), nil
}
