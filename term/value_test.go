package term

import (
	"bytes"
	"encoding/gob"
	"testing"
)

func TestValueString(t *testing.T) {
	type Record struct {
		Name           string
		Operation      func() Value
		ExpectedResult string
	}

	k, m := MakeConstant("k"), MakeConstant("m")
	tests := []Record{
		{
			Name: "constant",
			Operation: func() Value {
				return k
			},
			ExpectedResult: "k",
		},
		{
			Name: "application",
			Operation: func() Value {
				return MakePrimitive("ENC", []Value{k, m}, 0, false)
			},
			ExpectedResult: "ENC(k, m)",
		},
		{
			Name: "checked application with output",
			Operation: func() Value {
				return MakePrimitive("HKDF", []Value{k, Nil, Nil}, 1, true)
			},
			ExpectedResult: "HKDF(k, nil, nil)[1]?",
		},
		{
			Name: "equation exponents are sorted",
			Operation: func() Value {
				return MakeEquation(MakeEquation(G, MakeConstant("b")), MakeConstant("a"))
			},
			ExpectedResult: "G^a^b",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			actualStr := test.Operation().String()
			if actualStr != test.ExpectedResult {
				t.Errorf("result %s did not equal expected value %s", actualStr, test.ExpectedResult)
			}
		})
	}
}

func TestStructuralEquality(t *testing.T) {
	a, b := MakeConstant("a"), MakeConstant("b")
	x := MakePrimitive("HASH", []Value{a, MakePrimitive("CONCAT", []Value{a, b}, 0, false)}, 0, false)
	y := MakePrimitive("HASH", []Value{MakeConstant("a"), MakePrimitive("CONCAT", []Value{a, b}, 0, false)}, 0, false)
	if !x.Equal(y) {
		t.Errorf("Expected %v to equal %v", x, y)
	}
	if x.Hash() != y.Hash() {
		t.Errorf("Expected equal hashes for %v", x)
	}
	z := MakePrimitive("HASH", []Value{b, a}, 0, false)
	if x.Equal(z) {
		t.Errorf("Expected %v to differ from %v", x, z)
	}
	if !x.WithCheck(true).Equal(x) {
		t.Errorf("check flag should not take part in equality")
	}
	if x.WithOutput(1).Equal(x) {
		t.Errorf("output index should take part in equality")
	}
}

func TestEquationCommutes(t *testing.T) {
	a, b := MakeConstant("a"), MakeConstant("b")
	ab := MakeEquation(MakeEquation(G, a), b)
	ba := MakeEquation(MakeEquation(G, b), a)
	if !ab.Equal(ba) {
		t.Errorf("Expected %v to equal %v", ab, ba)
	}
	if MakeEquation(G, a).Equal(MakeEquation(G, b)) {
		t.Errorf("Expected G^a and G^b to differ")
	}
}

func TestCompareIsTotal(t *testing.T) {
	values := []Value{
		MakePrimitive("HASH", []Value{MakeConstant("b")}, 0, false),
		MakeConstant("b"),
		MakeEquation(G, MakeConstant("a")),
		MakeConstant("a"),
		MakePrimitive("ENC", []Value{MakeConstant("a"), MakeConstant("b")}, 0, false),
	}
	Sort(values)
	expected := []string{"a", "b", "ENC(a, b)", "HASH(b)", "G^a"}
	for i := range values {
		if values[i].String() != expected[i] {
			t.Errorf("Expected %v at %d, got %v", expected[i], i, values[i])
		}
	}
}

func TestRenameAndConstants(t *testing.T) {
	n, k := MakeConstant("n"), MakeConstant("k")
	v := MakePrimitive("HASH", []Value{n, MakeEquation(G, n), k}, 0, false)
	renamed := Rename(v, func(name string) string {
		if name == "n" {
			return "n@1"
		}
		return name
	})
	if renamed.String() != "HASH(n@1, G^n@1, k)" {
		t.Errorf("Expected renamed value, got %v", renamed)
	}
	constants := Constants(v)
	if len(constants) != 3 || !constants[0].Equal(n) || !constants[1].Equal(G) || !constants[2].Equal(k) {
		t.Errorf("Expected [n G k], got %v", constants)
	}
}

func TestGobRoundTrip(t *testing.T) {
	v := MakePrimitive("AEAD_ENC", []Value{
		MakeEquation(G, MakeConstant("a"), MakeConstant("b")),
		MakeConstant("m"),
		Nil,
	}, 0, true)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		t.Fatal(err)
	}
	var decoded Value
	if err := gob.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(v) || !decoded.Check() {
		t.Errorf("Expected %v, got %v", v, decoded)
	}
}
