package knowledge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

var (
	k  = term.MakeConstant("k")
	m  = term.MakeConstant("m")
	pw = term.MakeConstant("pw")
)

func TestExtendClosesOverKeys(t *testing.T) {
	enc := model.Call("ENC", k, m)
	base := NewMap().Extend(enc, Observed, nil, nil)
	require.False(t, base.Has(m))

	withKey := base.Extend(k, Observed, nil, nil)
	require.True(t, withKey.Has(m), "the key arriving later should unlock the ciphertext")
	entry, ok := withKey.Get(m)
	require.True(t, ok)
	require.Equal(t, Decomposed, entry.Rule)
	require.Equal(t, []term.Value{enc, k}, entry.Premises)

	require.False(t, base.Has(k), "Extend must not touch the map it was called on")
	require.Equal(t, 1, base.Len())
	require.NoError(t, withKey.Audit())
}

func TestExtendConcatAndShamir(t *testing.T) {
	a, b := term.MakeConstant("a"), term.MakeConstant("b")
	nested := model.Call("CONCAT", a, model.Call("CONCAT", b, k))
	km := NewMap().Extend(nested, Observed, nil, nil)
	require.True(t, km.Has(a))
	require.True(t, km.Has(b))
	require.True(t, km.Has(k))

	s0 := term.MakePrimitive("SHAMIR_SPLIT", []term.Value{m}, 0, false)
	s2 := term.MakePrimitive("SHAMIR_SPLIT", []term.Value{m}, 2, false)
	km = NewMap().Extend(s0, Observed, nil, nil)
	require.False(t, km.Has(m))
	km = km.Extend(s2, Observed, nil, nil)
	require.True(t, km.Has(m))
	require.NoError(t, km.Audit())
}

func TestExtendGuessesPasswords(t *testing.T) {
	weak := model.Call("ENC", model.Call("HASH", pw), m)
	km := NewMap(pw).Extend(weak, Observed, nil, nil)
	require.True(t, km.Has(pw))
	require.True(t, km.Has(m))
	entry, _ := km.Get(pw)
	require.Equal(t, Guessed, entry.Rule)
	require.Equal(t, trace.Guess, entry.Action.Kind)

	strong := model.Call("ENC", model.Call("PW_HASH", pw), m)
	km = NewMap(pw).Extend(strong, Observed, nil, nil)
	require.False(t, km.Has(pw))
}

func TestAuditRejectsUnjustified(t *testing.T) {
	km := NewMap().insert(m, Decomposed, []term.Value{k}, nil)
	err := km.Audit()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInternalInvariant))
}

func TestSupport(t *testing.T) {
	observe := &trace.Action{Kind: trace.Observe, Sender: "A", Recipient: "B", Constant: "c"}
	enc := model.Call("ENC", k, m)
	km := NewMap().
		Extend(term.G, Initial, nil, nil).
		Extend(term.MakeConstant("noise"), Observed, nil, nil).
		Extend(enc, Observed, nil, observe).
		Extend(k, Observed, nil, nil)
	require.Equal(t, []term.Value{enc, k, m}, km.Support(m))
	require.Equal(t, trace.Trace{*observe}, km.Actions(km.Support(m)))

	hashed := model.Call("HASH", m, k)
	require.Equal(t, []term.Value{enc, k, m}, km.Support(hashed))
	require.Nil(t, km.Support(term.MakeConstant("unknown")))
}

func TestDerive(t *testing.T) {
	alice := model.NewBuilder(model.Active).Principal("Alice",
		model.Know(model.Private, "k"),
		model.Generate("m"),
		model.Let(model.Call("ENC", model.Ref("k"), model.Ref("m")), "c"),
		model.Let(model.Call("DEC", model.Ref("k"), model.Ref("c")), "p"),
		model.Let(model.Call("HKDF", model.Ref("k"), model.Ref("nil"), model.Ref("nil")), "h1", "h2"),
		model.Let(model.Checked(model.Call("ASSERT", model.Ref("k"), model.Ref("m"))), "_"),
		model.Let(model.Call("HASH", model.Ref("ghost")), "x"),
	).Model().Principals[0]

	s := Initialize(&alice)
	_, ok := s.Lookup("k")
	require.True(t, ok)
	_, ok = s.Lookup("c")
	require.False(t, ok)

	var err error
	s, ok, err = Derive(s, alice.Statements[2])
	require.NoError(t, err)
	require.True(t, ok)
	s, ok, err = Derive(s, alice.Statements[3])
	require.NoError(t, err)
	require.True(t, ok)
	p, _ := s.Lookup("p")
	require.True(t, p.Equal(m))

	s, ok, err = Derive(s, alice.Statements[4])
	require.NoError(t, err)
	require.True(t, ok)
	h2, _ := s.Lookup("h2")
	require.Equal(t, 1, h2.Output())

	_, ok, err = Derive(s, alice.Statements[5])
	require.NoError(t, err)
	require.False(t, ok, "a failed checked assertion stops the principal")

	_, _, err = Derive(s, alice.Statements[6])
	require.ErrorIs(t, err, model.ErrModel)
	var diag *model.Diagnostic
	require.True(t, errors.As(err, &diag))
	require.Equal(t, "Alice", diag.Principal)
	require.Equal(t, alice.Statements[6].Pos, diag.Pos)

	require.NoError(t, s.Known.Audit())
}

func TestMergeRecordsSubstitutions(t *testing.T) {
	base := NewMap().Extend(term.G, Initial, nil, nil)
	sub := trace.Action{Kind: trace.Inject, Sender: "A", Recipient: "B", Constant: "x", Value: term.MakeConstant("attacker")}
	left := base.Extend(model.Call("ENC", k, m), Observed, nil, nil)
	right := base.Extend(k, Leaked, nil, &trace.Action{Kind: trace.Leak, Sender: "B", Constant: "k", Value: k})

	merged := base.Merge(left, nil).Merge(right, trace.Trace{sub})
	require.True(t, merged.Has(m), "knowledge from two branches combines")
	require.NoError(t, merged.Audit())

	entry, _ := merged.Get(k)
	require.Equal(t, trace.Trace{sub}, entry.Via)
	actions := merged.Actions(merged.Support(m))
	require.Len(t, actions, 2)
	require.Equal(t, trace.Inject, actions[0].Kind)
	require.Equal(t, trace.Leak, actions[1].Kind)
	require.False(t, base.Has(k))
}
