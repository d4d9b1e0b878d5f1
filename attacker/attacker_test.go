package attacker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symcheck/symcheck/knowledge"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

func TestBranchCounter(t *testing.T) {
	cnt := makeBranchCounter([]int{2, 3})
	var seen [][]int
	for ; !cnt.Done(); cnt.Next() {
		seen = append(seen, append([]int(nil), cnt.Digits()...))
	}
	require.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, seen)

	require.Panics(t, func() { makeBranchCounter([]int{1, 0}) })
}

func TestSubsets(t *testing.T) {
	var seen [][]int
	subsets(4, 2, func(idx []int) bool {
		seen = append(seen, append([]int(nil), idx...))
		return true
	})
	require.Equal(t, [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}, seen)

	calls := 0
	require.False(t, subsets(3, 1, func([]int) bool {
		calls++
		return calls < 2
	}))
	require.Equal(t, 2, calls)
	require.True(t, subsets(2, 3, func([]int) bool { panic("unreachable") }))
}

func TestCandidates(t *testing.T) {
	k, m := term.MakeConstant("k"), term.MakeConstant("m")
	honest := model.Call("ENC", k, m)
	known := knowledge.NewMap().
		Extend(term.Nil, knowledge.Initial, nil, nil).
		Extend(Own, knowledge.Initial, nil, nil).
		Extend(model.Call("ENC", Own, Own), knowledge.Observed, nil, nil)

	cands, truncated := candidates(honest, known, 1, 100)
	require.False(t, truncated)
	require.True(t, cands[0].Equal(honest), "the honest value comes first")
	require.Contains(t, cands, model.Call("ENC", Own, term.Nil))
	require.Contains(t, cands, model.Call("ENC", term.Nil, Own))
	for i, v := range cands {
		require.Equal(t, i, term.IndexOf(cands, v), "%v is listed twice", v)
		if i > 0 {
			require.False(t, v.Equal(honest))
			require.True(t, known.Constructible(v), "%v cannot be built by the attacker", v)
		}
	}
	again, _ := candidates(honest, known, 1, 100)
	require.Equal(t, cands, again, "candidates are deterministic")

	capped, truncated := candidates(honest, known, 1, 2)
	require.Len(t, capped, 2)
	require.True(t, truncated, "dropping candidates must be reported")

	alone, truncated := candidates(m, knowledge.NewMap(), 3, 100)
	require.Len(t, alone, 1)
	require.False(t, truncated)
}

// plaintextKey is Alice sending a fresh key to Bob in the clear.
func plaintextKey(attacker model.AttackerKind) *model.Model {
	return model.NewBuilder(attacker).
		Principal("Alice",
			model.Generate("k"),
			model.SendTo("Bob", "k"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "k"),
		).
		Confidentiality("k").
		Model()
}

func TestPassiveRun(t *testing.T) {
	res, err := Simulate(context.Background(), plaintextKey(model.Passive), Config{Workers: 2})
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Equal(t, 0, res.Depth)
	require.Len(t, res.Runs, 1)

	k := term.MakeConstant("k")
	require.True(t, res.Attacker.Has(k))
	require.Equal(t, []Message{{Sender: "Alice", Recipient: "Bob", Constant: "k", Value: k}}, res.Honest().Sends)
	require.Equal(t, []int{2, 1}, res.Honest().Executed)

	actions := res.Attacker.Actions(res.Attacker.Support(k))
	require.Len(t, actions, 1)
	require.Equal(t, trace.Observe, actions[0].Kind)
	require.Equal(t, "Alice", actions[0].Sender)
	require.NoError(t, res.Attacker.Audit())
}

func TestActiveReachesFixpoint(t *testing.T) {
	res, err := Simulate(context.Background(), plaintextKey(model.Active), Config{Workers: 4})
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.NoError(t, res.Stop)
	require.Equal(t, 1, res.Depth)
	require.Len(t, res.Slots, 1)
	require.Equal(t, "Bob", res.Slots[0].Recipient)
	require.Greater(t, res.Branches(), 0)
	for i, run := range res.Runs {
		require.Equal(t, i, run.Index)
	}
	require.NoError(t, res.Attacker.Audit())
}

func TestSlots(t *testing.T) {
	m := model.NewBuilder(model.Active).
		Principal("Alice",
			model.Generate("a", "b", "c"),
			model.SendTo("Bob", "a", "[b]"),
			model.SendTo("Bob", "c"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "a", "[b]"),
			model.Phase(1),
			model.ReceiveFrom("Alice", "c"),
		).
		Model()
	res, err := Simulate(context.Background(), m, Config{MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, res.Slots, 1, "guarded values and messages from an earlier phase cannot be tampered with")
	require.Equal(t, "a", res.Slots[0].Constant)
	require.Len(t, res.Phases, 2)
	require.Len(t, res.Honest().Deliveries, 3)
	require.Equal(t, 1, res.Honest().Deliveries[2].Phase)
}

func TestInjectedValueIsDelivered(t *testing.T) {
	m := model.NewBuilder(model.Active).
		Principal("Alice",
			model.Generate("m"),
			model.SendTo("Bob", "m"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "m"),
		).
		Model()
	res, err := Simulate(context.Background(), m, Config{})
	require.NoError(t, err)

	var injected *Run
	for _, run := range res.Runs[1:] {
		if run.Deliveries[0].Value.Equal(Own) {
			injected = run
		}
	}
	require.NotNil(t, injected)
	require.True(t, injected.Deliveries[0].Substituted())
	require.Equal(t, trace.Trace{{
		Kind:      trace.Inject,
		Sender:    "Alice",
		Recipient: "Bob",
		Constant:  "m",
		Value:     Own,
		Honest:    term.MakeConstant("m"),
	}}, injected.Substitutions)
	bound, _ := injected.States[1].Lookup("m")
	require.True(t, bound.Equal(Own))
}

func TestCheckedDerivationAbortsBranch(t *testing.T) {
	m := model.NewBuilder(model.Active).
		Principal("Alice",
			model.Know(model.Private, "k"),
			model.Generate("m"),
			model.Let(model.Call("AEAD_ENC", model.Ref("k"), model.Ref("m"), model.Ref("nil")), "c"),
			model.SendTo("Bob", "c"),
		).
		Principal("Bob",
			model.Know(model.Private, "k"),
			model.ReceiveFrom("Alice", "c"),
			model.Let(model.Checked(model.Call("AEAD_DEC", model.Ref("k"), model.Ref("c"), model.Ref("nil"))), "p"),
		).
		Model()
	res, err := Simulate(context.Background(), m, Config{MaxDepth: 1})
	require.NoError(t, err)
	require.False(t, res.Honest().Aborted[1])
	require.Equal(t, 3, res.Honest().Executed[1])

	aborted := 0
	for _, run := range res.Runs[1:] {
		if run.Aborted[1] {
			aborted++
			require.Equal(t, 2, run.Executed[1], "Bob stops at the failed decryption")
		}
	}
	require.Equal(t, res.Branches(), aborted, "no forged ciphertext decrypts under k")
	require.False(t, res.Attacker.Has(term.MakeConstant("m")))
}

func TestBoundsAreReported(t *testing.T) {
	res, err := Simulate(context.Background(), plaintextKey(model.Active), Config{MaxBranches: 2})
	require.NoError(t, err)
	require.False(t, res.Complete)
	require.ErrorIs(t, res.Stop, ErrBoundExceeded)
	require.Equal(t, 1, res.Branches())

	// one candidate per slot leaves only the honest value
	res, err = Simulate(context.Background(), plaintextKey(model.Active), Config{MaxBranches: 1})
	require.NoError(t, err)
	require.False(t, res.Complete, "a search over cut candidate lists is never a fixpoint")
	var bound *BoundError
	require.ErrorAs(t, res.Stop, &bound)
	require.Equal(t, "candidates", bound.Bound)
	require.Zero(t, res.Branches())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err = Simulate(ctx, plaintextKey(model.Active), Config{})
	require.NoError(t, err)
	require.False(t, res.Complete)
	require.ErrorIs(t, res.Stop, context.Canceled)
	require.Len(t, res.Runs, 1)
}

func TestSimulateIsDeterministic(t *testing.T) {
	m := plaintextKey(model.Active)
	first, err := Simulate(context.Background(), m, Config{Workers: 1})
	require.NoError(t, err)
	second, err := Simulate(context.Background(), m, Config{Workers: 8})
	require.NoError(t, err)
	require.Equal(t, first.Attacker.Values(), second.Attacker.Values())
	require.Equal(t, len(first.Runs), len(second.Runs))
	for i := range first.Runs {
		require.Equal(t, first.Runs[i].Substitutions, second.Runs[i].Substitutions)
	}
}

func TestAuditCatchesUnjustifiedKnowledge(t *testing.T) {
	k := term.MakeConstant("k")
	good := knowledge.NewMap().Extend(k, knowledge.Observed, nil, nil)
	require.NoError(t, audit([]knowledge.Map{good}))

	bad := good.Extend(term.MakeConstant("m"), knowledge.Decomposed, []term.Value{model.Call("ENC", term.MakeConstant("secret"), k)}, nil)
	err := audit([]knowledge.Map{good, bad})
	require.ErrorIs(t, err, knowledge.ErrInternalInvariant)
	require.Contains(t, err.Error(), "phase 1")
}
