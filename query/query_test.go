package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symcheck/symcheck/attacker"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/trace"
)

func simulate(t *testing.T, m *model.Model) *attacker.Result {
	t.Helper()
	res, err := attacker.Simulate(context.Background(), m, attacker.Config{MaxDepth: 3, Workers: 4})
	require.NoError(t, err)
	return res
}

func TestConfidentiality(t *testing.T) {
	m := model.NewBuilder(model.Active).
		Principal("Alice",
			model.Generate("s", "k"),
			model.Let(model.Call("HASH", model.Ref("s")), "h"),
			model.SendTo("Bob", "h", "k"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "h", "k"),
		).
		Confidentiality("s").
		Confidentiality("k").
		Model()
	res := simulate(t, m)
	require.True(t, res.Complete)

	results, err := CheckAll(context.Background(), res, m.Queries, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, Verified, results[0].Outcome, "a hash does not reveal its preimage")
	require.Empty(t, results[0].Trace)

	require.Equal(t, Violated, results[1].Outcome)
	require.Equal(t, 0, results[1].Run)
	require.Len(t, results[1].Trace, 1)
	require.Equal(t, trace.Observe, results[1].Trace[0].Kind)
	require.Equal(t, "k", results[1].Trace[0].Constant)
}

func signedMessage(verify bool) *model.Model {
	bob := []model.Statement{
		model.Know(model.Private, "sk"),
		model.Let(model.Pow(model.Ref("G"), model.Ref("sk")), "gsk"),
		model.ReceiveFrom("Alice", "m", "s"),
	}
	if verify {
		bob = append(bob, model.Let(model.Checked(model.Call("SIGNVERIF", model.Ref("gsk"), model.Ref("m"), model.Ref("s"))), "_"))
	}
	bob = append(bob, model.Let(model.Call("HASH", model.Ref("m")), "h"))
	return model.NewBuilder(model.Active).
		Principal("Alice",
			model.Know(model.Private, "sk"),
			model.Generate("m"),
			model.Let(model.Call("SIGN", model.Ref("sk"), model.Ref("m")), "s"),
			model.SendTo("Bob", "m", "s"),
		).
		Principal("Bob", bob...).
		Authentication("Alice", "Bob", "m", model.QueryOptions{}).
		Model()
}

func TestAuthentication(t *testing.T) {
	m := signedMessage(false)
	res := simulate(t, m)
	got := Check(res, m.Queries[0])
	require.Equal(t, Violated, got.Outcome)
	require.Greater(t, got.Run, 0)
	require.Len(t, got.Trace, 1, "the shortest attack replaces m alone")
	require.Equal(t, "m", got.Trace[0].Constant)
	require.Contains(t, []trace.Kind{trace.Inject, trace.Substitute}, got.Trace[0].Kind)

	m = signedMessage(true)
	res = simulate(t, m)
	got = Check(res, m.Queries[0])
	require.NotEqual(t, Violated, got.Outcome, "Bob rejects anything Alice did not sign")
	require.Empty(t, got.Trace)
}

func TestAuthenticationReplay(t *testing.T) {
	m := model.NewBuilder(model.Active).
		Principal("Alice",
			model.Generate("a", "b"),
			model.SendTo("Bob", "a"),
			model.SendTo("Bob", "b"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "a"),
			model.ReceiveFrom("Alice", "b"),
		).
		Authentication("Alice", "Bob", "b", model.QueryOptions{}).
		Model()
	res := simulate(t, m)
	strict := Check(res, m.Queries[0])
	require.Equal(t, Violated, strict.Outcome)

	replayable := m.Queries[0]
	replayable.Options.Replayable = true
	loose := Check(res, replayable)
	require.Equal(t, Violated, loose.Outcome, "attacker-made values were never sent by Alice")
	require.GreaterOrEqual(t, loose.Run, strict.Run)
}

func TestAuthenticationPreconditions(t *testing.T) {
	m := model.NewBuilder(model.Active).
		Principal("Alice",
			model.Generate("a", "b", "c"),
			model.SendTo("Bob", "a", "b"),
			model.SendTo("Bob", "c"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "a", "b"),
		).
		Authentication("Alice", "Bob", "b", model.QueryOptions{
			Preconditions: []model.Message{{Sender: "Alice", Recipient: "Bob", Constant: "a"}},
		}).
		Authentication("Alice", "Bob", "b", model.QueryOptions{
			Preconditions: []model.Message{{Sender: "Alice", Recipient: "Bob", Constant: "c"}},
		}).
		Model()
	res := simulate(t, m)

	met := Check(res, m.Queries[0])
	require.Equal(t, Violated, met.Outcome)
	for _, a := range met.Trace {
		require.NotEqual(t, "a", a.Constant, "a reaches Bob untouched in the attack")
	}

	unmet := Check(res, m.Queries[1])
	require.NotEqual(t, Violated, unmet.Outcome, "Bob never receives c")
	require.Empty(t, unmet.Trace)
}

func TestDependentChecks(t *testing.T) {
	m := signedMessage(true)
	bob, _ := m.Principal("Bob")
	require.Equal(t, []int{3}, dependentChecks(bob, "m"))
	require.Equal(t, []int{3}, dependentChecks(bob, "s"))
	require.Empty(t, dependentChecks(bob, "h"))
}

func TestFreshness(t *testing.T) {
	m := model.NewBuilder(model.Passive).
		Principal("Alice",
			model.Know(model.Private, "k"),
			model.Generate("n"),
			model.Let(model.Call("HASH", model.Ref("k")), "stale"),
			model.Let(model.Call("HASH", model.Ref("k"), model.Ref("n")), "fresh"),
		).
		Freshness("stale").
		Freshness("fresh").
		Model()
	res := simulate(t, m)
	results, err := CheckAll(context.Background(), res, m.Queries, 0)
	require.NoError(t, err)
	require.Equal(t, Violated, results[0].Outcome)
	require.Equal(t, 0, results[0].Run)
	require.Equal(t, Verified, results[1].Outcome)
}

func TestUnlinkability(t *testing.T) {
	m := model.NewBuilder(model.Passive).
		Principal("Alice",
			model.Know(model.Private, "k"),
			model.Generate("n1", "n2"),
			model.Let(model.Call("HASH", model.Ref("n1")), "x"),
			model.Let(model.Call("HASH", model.Ref("n1")), "y"),
			model.Let(model.Call("HASH", model.Ref("n2")), "z"),
			model.Let(model.Call("HASH", model.Ref("k")), "stale"),
			model.SendTo("Bob", "x", "y", "z"),
		).
		Principal("Bob",
			model.ReceiveFrom("Alice", "x", "y", "z"),
		).
		Unlinkability("x", "z").
		Unlinkability("x", "y").
		Unlinkability("x", "stale").
		Model()
	res := simulate(t, m)
	results, err := CheckAll(context.Background(), res, m.Queries, 0)
	require.NoError(t, err)

	require.Equal(t, Verified, results[0].Outcome)
	require.Equal(t, Violated, results[1].Outcome, "the same hash is sent twice")
	require.Equal(t, 0, results[1].Run)
	require.Equal(t, trace.Observe, results[1].Trace[0].Kind)
	require.Equal(t, Violated, results[2].Outcome, "stale is the same in every session")
	require.Equal(t, 0, results[2].Run)
}

func TestUndefinedSubject(t *testing.T) {
	m := model.NewBuilder(model.Passive).
		Principal("Alice",
			model.Know(model.Private, "k"),
			model.Let(model.Checked(model.Call("ASSERT", model.Ref("k"), model.Ref("nil"))), "_"),
			model.Generate("late"),
			model.Let(model.Call("HASH", model.Ref("late")), "h"),
		).
		Confidentiality("h").
		Model()
	res := simulate(t, m)
	got := Check(res, m.Queries[0])
	require.Equal(t, Unknown, got.Outcome)
	require.ErrorIs(t, got.Err, model.ErrModel)
}

func TestCancelledChecksAreUnknown(t *testing.T) {
	m := signedMessage(false)
	res := simulate(t, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := CheckAll(ctx, res, m.Queries, 1)
	require.NoError(t, err)
	require.Equal(t, Unknown, results[0].Outcome)
}
