package object

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/samber/lo"

	"monkeylang/ast"
)

// 組み込み関数が評価器の機能を使うためのインターフェース。
type Runtime interface {
	// 関数(ユーザー定義でも組み込みでも)を呼び出す
	Apply(fn Object, args []Object) Object
	// 別ファイルのモジュールを読み込み、トップレベルの束縛をハッシュで返す
	Import(path string) Object
	// putsの出力先
	Output() io.Writer
}

type BuiltinFunction func(rt Runtime, args ...Object) Object
type ObjectType string

// type()が返す名前、エラーメッセージに出る名前でもある。
const (
	NIL_OBJ   = "nil"
	ERROR_OBJ = "error"

	INTEGER_OBJ = "int"
	BOOLEAN_OBJ = "bool"
	STRING_OBJ  = "string"

	RETURN_VALUE_OBJ = "return_value"

	FUNCTION_OBJ = "function" // 組み込み関数もこれ

	ARRAY_OBJ = "array"
	HASH_OBJ  = "hash"
)

// 文字列のキーは中身をそのままTextに持つ。ハッシュ値にまとめないので、違う文字列が同じキーになることはない。
type HashKey struct {
	Type  ObjectType
	Value uint64
	Text  string
}

// ハッシュのキーになれる値。整数、文字列、booleanだけ。
type Hashable interface {
	Object
	HashKey() HashKey
}

type Object interface {
	Type() ObjectType
	Inspect() string
}

type Integer struct {
	Value int64
}

func (i *Integer) Type() ObjectType { return INTEGER_OBJ }
func (i *Integer) Inspect() string  { return strconv.FormatInt(i.Value, 10) }
func (i *Integer) HashKey() HashKey { // Integerをhashのキーとして使う場合、この関数を用いる
	return HashKey{Type: i.Type(), Value: uint64(i.Value)}
}

type Boolean struct {
	Value bool
}

func (b *Boolean) Type() ObjectType { return BOOLEAN_OBJ }
func (b *Boolean) Inspect() string  { return strconv.FormatBool(b.Value) }
func (b *Boolean) HashKey() HashKey { // Booleanをhashのキーとして使う場合、この関数を用いる
	var value uint64

	if b.Value {
		value = 1
	}

	return HashKey{Type: b.Type(), Value: value}
}

type Nil struct{}

func (n *Nil) Type() ObjectType { return NIL_OBJ }
func (n *Nil) Inspect() string  { return "nil" }

// return文の評価結果。関数呼び出しの境界(トップレベルではプログラム)で中身が取り出される。
type ReturnValue struct {
	Value Object
}

func (rv *ReturnValue) Type() ObjectType { return RETURN_VALUE_OBJ }
func (rv *ReturnValue) Inspect() string  { return rv.Value.Inspect() }

type ErrorKind string

const (
	IdentifierNotFound ErrorKind = "IdentifierNotFound"
	TypeMismatch       ErrorKind = "TypeMismatch"
	DivisionByZero     ErrorKind = "DivisionByZero"
	ArityMismatch      ErrorKind = "ArityMismatch"
	UnhashableKey      ErrorKind = "UnhashableKey"
	IndexOutOfBounds   ErrorKind = "IndexOutOfBounds"
	NotCallable        ErrorKind = "NotCallable"
	NegativeExponent   ErrorKind = "NegativeExponent"
	IndexType          ErrorKind = "IndexType"
	ImportError        ErrorKind = "ImportError"
	AssertionFailed    ErrorKind = "AssertionFailed"
	RecursionLimit     ErrorKind = "RecursionLimit"
)

// 実行時エラー。評価中はただの値として上に伝わっていき、Goのerrorとしても扱える。
// Line, Columnはエラーを起こしたノードの位置。0なら位置不明。
type Error struct {
	Kind    ErrorKind
	Message string
	Line    int
	Column  int
}

func (e *Error) Type() ObjectType { return ERROR_OBJ }
func (e *Error) Inspect() string  { return "ERROR: " + e.Message }

func (e *Error) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%d:%d: %s: %s", e.Line, e.Column, e.Kind, e.Message)
}

type Function struct {
	Parameters []*ast.Identifier   // 引数
	Body       *ast.BlockStatement // 処理内容
	Env        *Environment        // 関数リテラルが評価された時点のenv
}

func (f *Function) Type() ObjectType { return FUNCTION_OBJ }
func (f *Function) Inspect() string {
	params := lo.Map(f.Parameters, func(p *ast.Identifier, _ int) string { return p.String() })
	return "fn(" + strings.Join(params, ", ") + ") {...}"
}

type String struct {
	Value string
}

func (s *String) Type() ObjectType { return STRING_OBJ }
func (s *String) Inspect() string  { return s.Value }
func (s *String) HashKey() HashKey { // Stringをhashのキーとして使う場合、この関数を用いる
	return HashKey{Type: s.Type(), Text: s.Value}
}

type Builtin struct {
	Name string
	Fn   BuiltinFunction
}

func (b *Builtin) Type() ObjectType { return FUNCTION_OBJ }
func (b *Builtin) Inspect() string  { return "builtin " + b.Name }

type Array struct {
	Elements []Object
}

func (ao *Array) Type() ObjectType { return ARRAY_OBJ }
func (ao *Array) Inspect() string {
	var out bytes.Buffer

	out.WriteString("[")
	out.WriteString(strings.Join(lo.Map(ao.Elements, func(e Object, _ int) string { return inspectNested(e) }), ", "))
	out.WriteString("]")

	return out.String()
}

type HashPair struct {
	Key   Object
	Value Object
}

// キーはHashKey、バリューはHashPair。キーペアの両方を持つのは、Inspectでキーも表示するため。
// ペアは挿入順に並ぶ。既にあるキーに値を入れ直した場合、位置は最初に入れたときのまま。
type Hash struct {
	pairs *linkedhashmap.Map
}

func NewHash() *Hash {
	return &Hash{pairs: linkedhashmap.New()}
}

func (h *Hash) Type() ObjectType { return HASH_OBJ }
func (h *Hash) Inspect() string {
	pairs := lo.Map(h.Pairs(), func(pair HashPair, _ int) string {
		return fmt.Sprintf("%s: %s", inspectNested(pair.Key), inspectNested(pair.Value))
	})
	return "#{" + strings.Join(pairs, ", ") + "}"
}

func (h *Hash) Set(key Hashable, value Object) {
	h.pairs.Put(key.HashKey(), HashPair{Key: key, Value: value})
}

func (h *Hash) Get(key Hashable) (Object, bool) {
	pair, ok := h.pairs.Get(key.HashKey())
	if !ok {
		return nil, false
	}
	return pair.(HashPair).Value, true
}

func (h *Hash) Len() int {
	return h.pairs.Size()
}

// 挿入順のペア。
func (h *Hash) Pairs() []HashPair {
	pairs := make([]HashPair, 0, h.pairs.Size())
	it := h.pairs.Iterator()
	for it.Next() {
		pairs = append(pairs, it.Value().(HashPair))
	}
	return pairs
}

// 配列やハッシュの中の文字列は、クォートしてエスケープした形で表示する。
func inspectNested(o Object) string {
	if s, ok := o.(*String); ok {
		return strconv.Quote(s.Value)
	}
	return o.Inspect()
}

// falseとnilだけが偽。0や空文字列、空配列は真。
func IsTruthy(o Object) bool {
	switch o := o.(type) {
	case *Boolean:
		return o.Value
	case *Nil:
		return false
	default:
		return true
	}
}

// == と != の意味。どの組み合わせでも比較でき、エラーにはならない。
// 整数、boolean、文字列は値で、配列とハッシュは中身で、関数は同一性で比較する。種類が違えば等しくない。
func Equal(a, b Object) bool {
	switch a := a.(type) {
	case *Integer:
		b, ok := b.(*Integer)
		return ok && a.Value == b.Value
	case *Boolean:
		b, ok := b.(*Boolean)
		return ok && a.Value == b.Value
	case *String:
		b, ok := b.(*String)
		return ok && a.Value == b.Value
	case *Nil:
		_, ok := b.(*Nil)
		return ok
	case *Array:
		b, ok := b.(*Array)
		if !ok || len(a.Elements) != len(b.Elements) {
			return false
		}
		for i := range a.Elements {
			if !Equal(a.Elements[i], b.Elements[i]) {
				return false
			}
		}
		return true
	case *Hash:
		b, ok := b.(*Hash)
		if !ok || a.Len() != b.Len() {
			return false
		}
		for _, pair := range a.Pairs() {
			other, ok := b.Get(pair.Key.(Hashable))
			if !ok || !Equal(pair.Value, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
