package attacker

import (
	"fmt"

	"github.com/symcheck/symcheck/knowledge"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

// Message is one constant sent over the network.
type Message struct {
	Sender    string
	Recipient string
	Constant  string
	Phase     int
	Value     term.Value
}

// Delivery is one constant received by a principal. Slot is -1 when the
// attacker could not tamper with it.
type Delivery struct {
	Slot      int
	Recipient string
	Sender    string
	Constant  string
	Statement int
	Phase     int
	Value     term.Value
	Honest    term.Value
}

func (d Delivery) Substituted() bool {
	return !d.Value.Equal(d.Honest)
}

// Run is the outcome of executing every principal once, under a fixed set of
// substitutions. Run 0 of a Result is the honest run.
type Run struct {
	Index         int
	Depth         int
	Substitutions trace.Trace
	Sends         []Message
	Deliveries    []Delivery
	States        []knowledge.State
	// Executed[i] counts the statements principal i completed.
	Executed []int
	// Aborted[i] is set when principal i stopped on a failed checked derivation.
	Aborted []bool
	Errors  []error

	snapshots []knowledge.Map
}

// Actions is the number of attacker actions this run depends on.
func (r *Run) Actions() int {
	return len(r.Substitutions)
}

type slotKey struct {
	principal, statement, constant int
}

type pending struct {
	msg      Message
	consumed bool
}

type executor struct {
	m      *model.Model
	phases int
	bases  []knowledge.Map
	plan   map[int]term.Value
	slots  map[slotKey]int
	// collecting is set for the honest run, which discovers the slots
	collecting bool
	found      []Slot

	run      *Run
	attacker knowledge.Map
	pc       []int
	stopped  []bool
	inbox    map[[3]string][]*pending
	phase    int
}

func (e *executor) principalIndex(name string) int {
	for i := range e.m.Principals {
		if e.m.Principals[i].Name == name {
			return i
		}
	}
	return -1
}

// execute runs all principals to completion. Principals take turns in model
// order, each running until it blocks on a receive or a later phase; when no
// one can move, the global phase advances to the lowest phase anyone waits
// for.
func (e *executor) execute() *Run {
	n := len(e.m.Principals)
	e.run = &Run{
		States:   make([]knowledge.State, n),
		Executed: make([]int, n),
		Aborted:  make([]bool, n),
	}
	e.pc = make([]int, n)
	e.stopped = make([]bool, n)
	e.inbox = map[[3]string][]*pending{}
	e.attacker = e.bases[0]
	e.run.snapshots = make([]knowledge.Map, e.phases)
	for i := range e.m.Principals {
		e.run.States[i] = knowledge.Initialize(&e.m.Principals[i])
	}

	for {
		progressed := false
		for i := range e.m.Principals {
			for !e.stopped[i] && e.step(i) {
				progressed = true
			}
		}
		if progressed {
			continue
		}
		next := -1
		for i, p := range e.m.Principals {
			if e.stopped[i] {
				continue
			}
			if s := p.Statements[e.pc[i]]; s.Kind == model.PhaseChange && (next < 0 || s.Phase < next) {
				next = s.Phase
			}
		}
		if next < 0 {
			break
		}
		e.advancePhase(next)
	}

	for p := e.phase; p < e.phases; p++ {
		e.run.snapshots[p] = e.attacker
	}
	copy(e.run.Executed, e.pc)
	return e.run
}

func (e *executor) advancePhase(next int) {
	for p := e.phase; p < next && p < e.phases; p++ {
		e.run.snapshots[p] = e.attacker
	}
	e.phase = next
	if next < len(e.bases) {
		e.attacker = e.attacker.Merge(e.bases[next], nil)
	}
}

// step executes the next statement of principal i, reporting false if it is
// blocked or has stopped.
func (e *executor) step(i int) bool {
	p := &e.m.Principals[i]
	if e.pc[i] >= len(p.Statements) {
		e.stopped[i] = true
		return false
	}
	s := p.Statements[e.pc[i]]
	state := e.run.States[i]
	switch s.Kind {
	case model.Knows, model.Generates:
	case model.Leaks:
		for _, name := range s.Constants {
			v, ok := state.Lookup(name)
			if !ok {
				e.fail(i, model.Errorf(s.Pos, p.Name, "%s is leaked before it is defined", name))
				return false
			}
			e.attacker = e.attacker.Extend(v, knowledge.Leaked, nil, &trace.Action{
				Kind:     trace.Leak,
				Phase:    e.phase,
				Sender:   p.Name,
				Constant: name,
				Value:    v,
			})
		}
	case model.Assign:
		next, ok, err := knowledge.Derive(state, s)
		if err != nil {
			e.fail(i, err)
			return false
		}
		if !ok {
			e.run.Aborted[i] = true
			e.stopped[i] = true
			return false
		}
		e.run.States[i] = next
	case model.Send:
		for _, name := range s.Constants {
			v, ok := state.Lookup(name)
			if !ok {
				e.fail(i, model.Errorf(s.Pos, p.Name, "%s is sent before it is defined", name))
				return false
			}
			msg := Message{Sender: p.Name, Recipient: s.Peer, Constant: name, Phase: e.phase, Value: v}
			key := [3]string{p.Name, s.Peer, name}
			e.inbox[key] = append(e.inbox[key], &pending{msg: msg})
			e.run.Sends = append(e.run.Sends, msg)
			e.attacker = e.attacker.Extend(v, knowledge.Observed, nil, &trace.Action{
				Kind:      trace.Observe,
				Phase:     e.phase,
				Sender:    p.Name,
				Recipient: s.Peer,
				Constant:  name,
				Value:     v,
			})
		}
	case model.Receive:
		msgs := make([]*pending, len(s.Constants))
		for j, name := range s.Constants {
			for _, candidate := range e.inbox[[3]string{s.Peer, p.Name, name}] {
				if !candidate.consumed {
					msgs[j] = candidate
					break
				}
			}
			if msgs[j] == nil {
				return false
			}
		}
		for j, name := range s.Constants {
			msgs[j].consumed = true
			state = e.deliver(i, s, j, name, msgs[j].msg, state)
		}
		e.run.States[i] = state
	case model.PhaseChange:
		if s.Phase > e.phase {
			return false
		}
	}
	e.pc[i]++
	return true
}

func (e *executor) deliver(i int, s model.Statement, j int, name string, msg Message, state knowledge.State) knowledge.State {
	key := slotKey{principal: i, statement: e.pc[i], constant: j}
	tamperable := !s.IsGuarded(j) && msg.Phase == e.phase
	slot := -1
	if tamperable {
		if e.collecting {
			slot = len(e.found)
			e.found = append(e.found, Slot{
				Index:     slot,
				Recipient: state.Name,
				Sender:    msg.Sender,
				Constant:  name,
				Statement: e.pc[i],
				Position:  j,
				Phase:     e.phase,
				Honest:    msg.Value,
			})
		} else if idx, ok := e.slots[key]; ok {
			slot = idx
		}
	}
	value := msg.Value
	if sub, ok := e.plan[slot]; ok && slot >= 0 && !sub.Equal(msg.Value) {
		value = sub
		kind := trace.Inject
		if entry, held := e.attacker.Get(sub); held && replayed(entry.Rule) {
			kind = trace.Substitute
		}
		e.run.Substitutions = append(e.run.Substitutions, trace.Action{
			Kind:      kind,
			Phase:     e.phase,
			Sender:    msg.Sender,
			Recipient: state.Name,
			Constant:  name,
			Value:     sub,
			Honest:    msg.Value,
		})
	}
	e.run.Deliveries = append(e.run.Deliveries, Delivery{
		Slot:      slot,
		Recipient: state.Name,
		Sender:    msg.Sender,
		Constant:  name,
		Statement: e.pc[i],
		Phase:     e.phase,
		Value:     value,
		Honest:    msg.Value,
	})
	return state.Bind(name, value, knowledge.Observed, nil, nil)
}

// replayed reports whether a held value came from the network rather than
// from the attacker's own constants.
func replayed(rule knowledge.Rule) bool {
	switch rule {
	case knowledge.Observed, knowledge.Leaked, knowledge.Decomposed, knowledge.Recomposed, knowledge.Guessed:
		return true
	}
	return false
}

func (e *executor) fail(i int, err error) {
	e.run.Errors = append(e.run.Errors, err)
	e.stopped[i] = true
}

func (r *Run) String() string {
	return fmt.Sprintf("run %d (depth %d, %d substitutions)", r.Index, r.Depth, len(r.Substitutions))
}
