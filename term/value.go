package term

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"
)

var ErrTermType = errors.New("term type error")

// Kind discriminates the three shapes a symbolic Value can take.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindConstant
	KindPrimitive
	KindEquation
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindPrimitive:
		return "primitive"
	case KindEquation:
		return "equation"
	default:
		return "invalid"
	}
}

// Value is an immutable symbolic term. Equality is structural; the hash
// computed on construction rules most unequal pairs out cheaply.
type Value struct {
	data impl
}

var _ fmt.Stringer = Value{}
var _ gob.GobDecoder = &Value{}
var _ gob.GobEncoder = &Value{}

var (
	// G is the Diffie-Hellman generator.
	G = MakeConstant("G")
	// Nil is the public empty value. Successful checks rewrite to it.
	Nil = MakeConstant("nil")
)

func (v Value) Hash() uint32 {
	if v.data == nil {
		return 0
	}
	return v.data.Hash()
}

func (v Value) Equal(other Value) bool {
	if v.data == nil || other.data == nil {
		return v.data == nil && other.data == nil
	}
	if v.data == other.data {
		return true
	}
	if v.data.Hash() != other.data.Hash() {
		return false
	}
	return v.data.Equal(other)
}

func (v Value) String() string {
	if v.data == nil {
		return "<invalid>"
	}
	return v.data.String()
}

func (v Value) IsValid() bool {
	return v.data != nil
}

func (v Value) Kind() Kind {
	if v.data == nil {
		return KindInvalid
	}
	return v.data.Kind()
}

func (v Value) IsConstant() bool  { return v.Kind() == KindConstant }
func (v Value) IsPrimitive() bool { return v.Kind() == KindPrimitive }
func (v Value) IsEquation() bool  { return v.Kind() == KindEquation }

func (v Value) checkNil() {
	if v.data == nil {
		panic(fmt.Errorf("%w: value is nil", ErrTermType))
	}
}

// Name returns the constant name, or the primitive name of an application.
func (v Value) Name() string {
	v.checkNil()
	return v.data.Name()
}

func (v Value) Args() *immutable.List[Value] {
	v.checkNil()
	return v.data.Args()
}

// Arg returns the i-th argument of a primitive application.
func (v Value) Arg(i int) Value {
	args := v.Args()
	if i < 0 || i >= args.Len() {
		panic(fmt.Errorf("%w: %v has no argument %d", ErrTermType, v, i))
	}
	return args.Get(i)
}

// ArgSlice copies the arguments of a primitive application.
func (v Value) ArgSlice() []Value {
	args := v.Args()
	out := make([]Value, 0, args.Len())
	it := args.Iterator()
	for !it.Done() {
		_, a := it.Next()
		out = append(out, a)
	}
	return out
}

func (v Value) Output() int {
	v.checkNil()
	return v.data.Output()
}

func (v Value) Check() bool {
	v.checkNil()
	return v.data.Check()
}

func (v Value) Base() Value {
	v.checkNil()
	return v.data.Base()
}

func (v Value) Exponents() []Value {
	v.checkNil()
	return v.data.Exponents()
}

// WithCheck returns the same application with its check flag set as given.
// The flag does not take part in equality.
func (v Value) WithCheck(check bool) Value {
	if !v.IsPrimitive() || v.Check() == check {
		return v
	}
	p := v.data.(*valuePrimitive)
	return Value{&valuePrimitive{
		hash:   p.hash,
		name:   p.name,
		args:   p.args,
		output: p.output,
		check:  check,
	}}
}

// WithOutput selects another output of a multi-output application.
func (v Value) WithOutput(output int) Value {
	if !v.IsPrimitive() {
		panic(fmt.Errorf("%w: %v is not a primitive application", ErrTermType, v))
	}
	if v.Output() == output {
		return v
	}
	return makePrimitiveFromList(v.Name(), v.Args(), output, v.Check())
}

type ValueHasher struct{}

var _ immutable.Hasher[Value] = ValueHasher{}

func (ValueHasher) Hash(key Value) uint32 {
	return key.Hash()
}

func (ValueHasher) Equal(a, b Value) bool {
	return a.Equal(b)
}

type impl interface {
	Hash() uint32
	Equal(other Value) bool
	String() string
	Kind() Kind

	Name() string
	Args() *immutable.List[Value]
	Output() int
	Check() bool
	Base() Value
	Exponents() []Value
}

type ImplStubs struct{}

func (ImplStubs) Name() string {
	panic(fmt.Errorf("%w: value has no name", ErrTermType))
}

func (ImplStubs) Args() *immutable.List[Value] {
	panic(fmt.Errorf("%w: is not a primitive application", ErrTermType))
}

func (ImplStubs) Output() int {
	panic(fmt.Errorf("%w: is not a primitive application", ErrTermType))
}

func (ImplStubs) Check() bool {
	return false
}

func (ImplStubs) Base() Value {
	panic(fmt.Errorf("%w: is not an equation", ErrTermType))
}

func (ImplStubs) Exponents() []Value {
	panic(fmt.Errorf("%w: is not an equation", ErrTermType))
}

type valueConstant struct {
	ImplStubs
	hash uint32
	name string
}

var _ impl = &valueConstant{}

func MakeConstant(name string) Value {
	return Value{&valueConstant{
		hash: fnv1a.AddString32(fnv1a.HashUint32(uint32(KindConstant)), name),
		name: name,
	}}
}

func (v *valueConstant) Hash() uint32 {
	return v.hash
}

func (v *valueConstant) Equal(other Value) bool {
	return other.IsConstant() && v.name == other.Name()
}

func (v *valueConstant) String() string {
	return v.name
}

func (v *valueConstant) Kind() Kind {
	return KindConstant
}

func (v *valueConstant) Name() string {
	return v.name
}

type valuePrimitive struct {
	ImplStubs
	hash   uint32
	name   string
	args   *immutable.List[Value]
	output int
	check  bool
}

var _ impl = &valuePrimitive{}

// MakePrimitive builds the application of primitive name to args, selecting
// the given output. Arity is not validated here; see package primitive.
func MakePrimitive(name string, args []Value, output int, check bool) Value {
	builder := immutable.NewListBuilder[Value]()
	for _, arg := range args {
		arg.checkNil()
		builder.Append(arg)
	}
	return makePrimitiveFromList(name, builder.List(), output, check)
}

func makePrimitiveFromList(name string, args *immutable.List[Value], output int, check bool) Value {
	h := fnv1a.AddString32(fnv1a.HashUint32(uint32(KindPrimitive)), name)
	h = fnv1a.AddUint32(h, uint32(output))
	it := args.Iterator()
	for !it.Done() {
		_, arg := it.Next()
		h = fnv1a.AddUint32(h, arg.Hash())
	}
	return Value{&valuePrimitive{
		hash:   h,
		name:   name,
		args:   args,
		output: output,
		check:  check,
	}}
}

func (v *valuePrimitive) Hash() uint32 {
	return v.hash
}

func (v *valuePrimitive) Equal(other Value) bool {
	if !other.IsPrimitive() || v.name != other.Name() || v.output != other.Output() {
		return false
	}
	otherArgs := other.Args()
	if v.args.Len() != otherArgs.Len() {
		return false
	}
	it1, it2 := v.args.Iterator(), otherArgs.Iterator()
	for !it1.Done() && !it2.Done() {
		_, a1 := it1.Next()
		_, a2 := it2.Next()
		if !a1.Equal(a2) {
			return false
		}
	}
	return true
}

func (v *valuePrimitive) String() string {
	builder := strings.Builder{}
	builder.WriteString(v.name)
	builder.WriteString("(")
	it := v.args.Iterator()
	first := true
	for !it.Done() {
		if first {
			first = false
		} else {
			builder.WriteString(", ")
		}
		_, arg := it.Next()
		builder.WriteString(arg.String())
	}
	builder.WriteString(")")
	if v.output != 0 {
		builder.WriteString("[")
		builder.WriteString(strconv.Itoa(v.output))
		builder.WriteString("]")
	}
	if v.check {
		builder.WriteString("?")
	}
	return builder.String()
}

func (v *valuePrimitive) Kind() Kind {
	return KindPrimitive
}

func (v *valuePrimitive) Name() string {
	return v.name
}

func (v *valuePrimitive) Args() *immutable.List[Value] {
	return v.args
}

func (v *valuePrimitive) Output() int {
	return v.output
}

func (v *valuePrimitive) Check() bool {
	return v.check
}

type valueEquation struct {
	ImplStubs
	hash uint32
	base Value
	exps []Value
}

var _ impl = &valueEquation{}

// MakeEquation builds base^exps[0]^exps[1]... Nested equations in base are
// flattened and exponents are sorted, so exponentiation commutes:
// MakeEquation(MakeEquation(G, a), b) equals MakeEquation(MakeEquation(G, b), a).
func MakeEquation(base Value, exps ...Value) Value {
	base.checkNil()
	if len(exps) == 0 {
		return base
	}
	var all []Value
	if base.IsEquation() {
		all = append(all, base.Exponents()...)
		base = base.Base()
	}
	for _, e := range exps {
		e.checkNil()
		all = append(all, e)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return Compare(all[i], all[j]) < 0
	})
	h := fnv1a.AddUint32(fnv1a.HashUint32(uint32(KindEquation)), base.Hash())
	for _, e := range all {
		h = fnv1a.AddUint32(h, e.Hash())
	}
	return Value{&valueEquation{hash: h, base: base, exps: all}}
}

func (v *valueEquation) Hash() uint32 {
	return v.hash
}

func (v *valueEquation) Equal(other Value) bool {
	if !other.IsEquation() || !v.base.Equal(other.Base()) {
		return false
	}
	otherExps := other.Exponents()
	if len(v.exps) != len(otherExps) {
		return false
	}
	for i := range v.exps {
		if !v.exps[i].Equal(otherExps[i]) {
			return false
		}
	}
	return true
}

func (v *valueEquation) String() string {
	builder := strings.Builder{}
	builder.WriteString(v.base.String())
	for _, e := range v.exps {
		builder.WriteString("^")
		if e.IsEquation() {
			builder.WriteString("(" + e.String() + ")")
		} else {
			builder.WriteString(e.String())
		}
	}
	return builder.String()
}

func (v *valueEquation) Kind() Kind {
	return KindEquation
}

func (v *valueEquation) Base() Value {
	return v.base
}

func (v *valueEquation) Exponents() []Value {
	out := make([]Value, len(v.exps))
	copy(out, v.exps)
	return out
}

// wireValue is the gob representation of a Value. Decoding goes through the
// constructors so decoded equations are normalised again.
type wireValue struct {
	Kind   Kind
	Name   string
	Output int
	Check  bool
	Base   []wireValue
	Args   []wireValue
}

func toWire(v Value) wireValue {
	w := wireValue{Kind: v.Kind()}
	switch v.Kind() {
	case KindConstant:
		w.Name = v.Name()
	case KindPrimitive:
		w.Name = v.Name()
		w.Output = v.Output()
		w.Check = v.Check()
		for _, a := range v.ArgSlice() {
			w.Args = append(w.Args, toWire(a))
		}
	case KindEquation:
		w.Base = []wireValue{toWire(v.Base())}
		for _, e := range v.Exponents() {
			w.Args = append(w.Args, toWire(e))
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch w.Kind {
	case KindInvalid:
		return Value{}, nil
	case KindConstant:
		return MakeConstant(w.Name), nil
	case KindPrimitive:
		args := make([]Value, 0, len(w.Args))
		for _, wa := range w.Args {
			a, err := fromWire(wa)
			if err != nil {
				return Value{}, err
			}
			args = append(args, a)
		}
		return MakePrimitive(w.Name, args, w.Output, w.Check), nil
	case KindEquation:
		if len(w.Base) != 1 {
			return Value{}, fmt.Errorf("%w: equation without base", ErrTermType)
		}
		base, err := fromWire(w.Base[0])
		if err != nil {
			return Value{}, err
		}
		exps := make([]Value, 0, len(w.Args))
		for _, we := range w.Args {
			e, err := fromWire(we)
			if err != nil {
				return Value{}, err
			}
			exps = append(exps, e)
		}
		return MakeEquation(base, exps...), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown kind %d", ErrTermType, w.Kind)
	}
}

func (v *Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	err := encoder.Encode(toWire(*v))
	return buf.Bytes(), err
}

func (v *Value) GobDecode(input []byte) error {
	var w wireValue
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	if err := decoder.Decode(&w); err != nil {
		return err
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
