// Package trace describes attack traces: the ordered attacker actions that
// justify a violated query.
package trace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/symcheck/symcheck/term"
)

type Kind uint8

const (
	// Observe: the attacker reads a value sent on the network.
	Observe Kind = iota
	// Substitute: the attacker delivers a value it already holds in place of
	// the honest one.
	Substitute
	// Inject: the attacker delivers a value it built itself.
	Inject
	// Leak: a principal reveals a value.
	Leak
	// Guess: the attacker guesses a password exposed in a held value.
	Guess
)

func (k Kind) String() string {
	switch k {
	case Observe:
		return "observe"
	case Substitute:
		return "substitute"
	case Inject:
		return "inject"
	case Leak:
		return "leak"
	case Guess:
		return "guess"
	}
	return "invalid"
}

// Action is one attacker step. Sender is the leaking principal for Leak;
// Honest is the value the attacker replaced for Substitute and Inject.
type Action struct {
	Kind      Kind
	Phase     int
	Sender    string
	Recipient string
	Constant  string
	Value     term.Value
	Honest    term.Value
}

func (a Action) Equal(other Action) bool {
	return a.Kind == other.Kind &&
		a.Phase == other.Phase &&
		a.Sender == other.Sender &&
		a.Recipient == other.Recipient &&
		a.Constant == other.Constant &&
		a.Value.Equal(other.Value) &&
		a.Honest.Equal(other.Honest)
}

func (a Action) String() string {
	switch a.Kind {
	case Observe:
		return fmt.Sprintf("observe %s -> %s: %s = %v", a.Sender, a.Recipient, a.Constant, a.Value)
	case Substitute, Inject:
		return fmt.Sprintf("%s %s -> %s: %s = %v (was %v)", a.Kind, a.Sender, a.Recipient, a.Constant, a.Value, a.Honest)
	case Leak:
		return fmt.Sprintf("leak %s: %s = %v", a.Sender, a.Constant, a.Value)
	case Guess:
		return fmt.Sprintf("guess %v", a.Value)
	}
	return "invalid action"
}

func (a Action) MarshalJSON() ([]byte, error) {
	fields := map[string]interface{}{
		"tag":   a.Kind.String(),
		"phase": a.Phase,
		"value": a.Value.String(),
	}
	switch a.Kind {
	case Observe, Substitute, Inject:
		fields["sender"] = a.Sender
		fields["recipient"] = a.Recipient
		fields["constant"] = a.Constant
		if a.Kind != Observe {
			fields["honest"] = a.Honest.String()
		}
	case Leak:
		fields["principal"] = a.Sender
		fields["constant"] = a.Constant
	}
	return json.Marshal(fields)
}

// Trace is an ordered list of actions; steps are numbered from 1.
type Trace []Action

func (t Trace) Equal(other Trace) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if !t[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Contains reports whether an equal action is already part of t.
func (t Trace) Contains(a Action) bool {
	for _, b := range t {
		if b.Equal(a) {
			return true
		}
	}
	return false
}

func (t Trace) String() string {
	builder := strings.Builder{}
	for i, a := range t {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("%d. %v", i+1, a))
	}
	return builder.String()
}

func (t Trace) MarshalJSON() ([]byte, error) {
	steps := make([]json.RawMessage, 0, len(t))
	for i, a := range t {
		buf, err := json.Marshal(map[string]interface{}{
			"step":   i + 1,
			"action": a,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, buf)
	}
	return json.Marshal(steps)
}
