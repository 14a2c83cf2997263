package evaluator

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"monkeylang/lexer"
	"monkeylang/loader"
	"monkeylang/object"
	"monkeylang/parser"
)

func testEvalWith(t *testing.T, e *Evaluator, input string) object.Object {
	t.Helper()
	p := parser.New(lexer.New(input))
	program := p.ParseProgram()
	for _, err := range p.Errors() {
		t.Fatalf("parser error in %q: %s", input, err)
	}
	return e.Eval(program, object.NewEnvironment())
}

func testEval(t *testing.T, input string) object.Object {
	t.Helper()
	return testEvalWith(t, New(WithOutput(io.Discard)), input)
}

// 期待値はGoの値で書く。int → Integer、bool → Boolean、string → String、nil → Nil
func assertObject(t *testing.T, expected interface{}, obj object.Object, msgAndArgs ...interface{}) {
	t.Helper()
	switch expected := expected.(type) {
	case int:
		assert.Equal(t, &object.Integer{Value: int64(expected)}, obj, msgAndArgs...)
	case int64:
		assert.Equal(t, &object.Integer{Value: expected}, obj, msgAndArgs...)
	case bool:
		assert.Equal(t, nativeBoolToBooleanObject(expected), obj, msgAndArgs...)
	case string:
		assert.Equal(t, &object.String{Value: expected}, obj, msgAndArgs...)
	case nil:
		assert.Equal(t, NIL, obj, msgAndArgs...)
	default:
		t.Fatalf("unsupported expected type %T", expected)
	}
}

func TestEvalIntegerExpression(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"5", 5},
		{"-10", -10},
		{"5 + 5 + 5 + 5 - 10", 10},
		{"2 * 2 * 2 * 2 * 2", 32},
		{"50 / 2 * 2 + 10", 60},
		{"3 * (3 * 3) + 10", 37},
		{"(5 + 10 * 2 + 15 / 3) * 2 + -10", 50},
		{"7 / 2", 3},
		{"-7 / 2", -3},
		{"7 / -2", -3},
		{"7 % 3", 1},
		{"-7 % 3", -1},
		{"7 % -3", 1},
		{"2 ^ 10", 1024},
		{"2 ^ 3 ^ 2", 512},
		{"(2 ^ 3) ^ 2", 64},
		{"5 ^ 0", 1},
		{"-2 ^ 3", -8},
		{"1_000 + 1", 1001},
		{"9223372036854775807 + 1", int64(math.MinInt64)},
		{"2 ^ 64", 0},
		{"-9223372036854775807 - 1", int64(math.MinInt64)},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestEvalBooleanExpression(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"1 < 2", true},
		{"1 > 2", false},
		{"1 <= 1", true},
		{"2 >= 3", false},
		{"1 == 1", true},
		{"1 != 1", false},
		{"true == true", true},
		{"true != false", true},
		{"(1 < 2) == true", true},
		{`"a" < "b"`, true},
		{`"abc" >= "abd"`, false},
		{`"a" == "a"`, true},
		{`"a" != "b"`, true},
		{"nil == nil", true},
		{"1 == true", false},
		{`1 == "1"`, false},
		{"nil != false", true},
		{"[1, [2]] == [1, [2]]", true},
		{"[1, 2] == [2, 1]", false},
		{`#{"a": 1, "b": 2} == #{"b": 2, "a": 1}`, true},
		{"let f = fn() {}; f == f", true},
		{"fn() {} == fn() {}", false},
		{"len == len", true},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestTruthiness(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"!nil", true},
		{"!false", true},
		{"!true", false},
		{"!0", false},
		{`!""`, false},
		{"![]", false},
		{"!!5", true},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestStrings(t *testing.T) {
	assertObject(t, "abc", testEval(t, `"a" + "b" + "c"`))
	assertObject(t, "Hello World!", testEval(t, `let greet = fn(name) { "Hello " + name + "!" }; greet("World")`))
	assertObject(t, "é", testEval(t, `"héllo"[1]`))
	assertObject(t, "o", testEval(t, `"héllo"[4]`))
}

func TestIfElseExpressions(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"if (true) { 10 }", 10},
		{"if (false) { 10 }", nil},
		{"if (1) { 10 }", 10},
		{"if 0 { 10 } else { 20 }", 10},
		{"if nil { 10 } else { 20 }", 20},
		{"if (1 > 2) { 10 } else { 20 }", 20},
		{"if 1 > 2 { 1 } else if 2 > 3 { 2 } else { 3 }", 3},
		{"if 1 > 2 { 1 } else if 2 < 3 { 2 } else { 3 }", 2},
		{"if false { 1 } else if false { 2 }", nil},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestReturnStatements(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"return 10;", 10},
		{"return 10; 9;", 10},
		{"return 2 * 5; 9;", 10},
		{"9; return 2 * 5; 9;", 10},
		{"if (10 > 1) { if (10 > 1) { return 10; } return 1; }", 10},
		{"return;", nil},
		{"let f = fn(x) { return x; x + 10; }; f(10);", 10},
		{"let f = fn(x) { let result = x + 10; return result; return 10; }; f(10);", 20},
		// return は一番近い関数呼び出しまで伝わる
		{"let f = fn() { let a = { return 8; }; 99 }; f()", 8},
		{"let f = fn() { [1, { return 2; }, 3] }; f()", 2},
		{"let f = fn() { { return 3; } 4 }; f()", 3},
		{"let outer = fn() { let inner = fn() { return 1; }; inner() + 1 }; outer()", 2},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestBlocks(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"let x = { let a = 2; a * 3 }; x", 6},
		{"let x = {}; x", nil},
		{"let x = { let a = 1; }; x", nil},
		{"let a = 1; { let a = 2; } a", 1},
		{"let a = 1; let b = { let a = 5; a }; a + b", 6},
		{"{ 1; 2 }", 2},
		{"fn(x) { x * 2 }(3)", 6},
		{"let x = 1", nil},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestFunctions(t *testing.T) {
	obj := testEval(t, "fn(x) { x + 2; };")
	fn, ok := obj.(*object.Function)
	require.True(t, ok, "object is %T", obj)
	require.Len(t, fn.Parameters, 1)
	assert.Equal(t, "x", fn.Parameters[0].String())
	assert.Equal(t, "{ (x + 2) }", fn.Body.String())
	assert.Equal(t, "fn(x) {...}", fn.Inspect())

	tests := []struct {
		input    string
		expected interface{}
	}{
		{"let identity = fn(x) { x; }; identity(5);", 5},
		{"let double = fn(x) { x * 2; }; double(5);", 10},
		{"let add = fn(x, y) { x + y; }; add(5 + 5, add(5, 5));", 20},
		{"fn(x) { x; }(5)", 5},
		{"let make_adder = fn(x) { fn(y) { x + y } }; let add5 = make_adder(5); add5(3)", 8},
		{"let fact = fn(n) { if n == 0 { 1 } else { n * fact(n - 1) } }; fact(10)", 3628800},
		{"let fib = fn(n) { if n < 2 { return n; } fib(n - 1) + fib(n - 2) }; fib(15)", 610},
		// クロージャは環境を参照で持つので、後からの束縛の変更が見える
		{"let x = 1; let get = fn() { x }; let x = 2; get()", 2},
		{"let counter = fn() { let n = 0; fn() { n } }; counter()()", 0},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestArguments(t *testing.T) {
	var out bytes.Buffer
	e := New(WithOutput(&out))
	obj := testEvalWith(t, e, `let f = fn(a, b, c) { a }; f(puts(1), puts(2), puts(3))`)
	assertObject(t, nil, obj)
	assert.Equal(t, "1\n2\n3\n", out.String(), "arguments are evaluated left to right")
}

func TestArrays(t *testing.T) {
	obj := testEval(t, "[1, 2 * 2, 3 + 3]")
	arr, ok := obj.(*object.Array)
	require.True(t, ok, "object is %T", obj)
	assert.Equal(t, "[1, 4, 6]", arr.Inspect())

	tests := []struct {
		input    string
		expected interface{}
	}{
		{"[1, 2, 3][0]", 1},
		{"[1, 2, 3][2]", 3},
		{"let i = 0; [1][i];", 1},
		{"[1, 2, 3][1 + 1];", 3},
		{"let myArray = [1, 2, 3]; myArray[0] + myArray[1] + myArray[2];", 6},
		{"let myArray = [1, 2, 3]; let i = myArray[0]; myArray[i]", 2},
		{"let a = 2; let b = [1, 2, a]\n[a]", nil},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestHashes(t *testing.T) {
	obj := testEval(t, `let two = "two";
	#{
		"one": 10 - 9,
		two: 1 + 1,
		"thr" + "ee": 6 / 2,
		4: 4,
		true: 5,
		false: 6
	}`)
	hash, ok := obj.(*object.Hash)
	require.True(t, ok, "object is %T", obj)
	assert.Equal(t, `#{"one": 1, "two": 2, "three": 3, 4: 4, true: 5, false: 6}`, hash.Inspect())

	tests := []struct {
		input    string
		expected interface{}
	}{
		{`#{"a": 1}["a"]`, 1},
		{`#{"a": 1}["b"]`, nil},
		{`#{"a": 1, "a": 2}["a"]`, 2},
		{`let key = "foo"; #{"foo": 5}[key]`, 5},
		{`#{}["foo"]`, nil},
		{`#{5: 5}[5]`, 5},
		{`#{true: 5}[true]`, 5},
		{`#{false: 5}[false]`, 5},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}

	obj = testEval(t, `#{"b": 1, "a": 2, "b": 3}`)
	assert.Equal(t, `#{"b": 3, "a": 2}`, obj.Inspect(), "duplicate key keeps its first position")
}

func TestBuiltinFunctions(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{`len("")`, 0},
		{`len("héllo")`, 5},
		{`len([1, 2])`, 2},
		{`len(#{"a": 1, "b": 2})`, 2},
		{`first([1, 2])`, 1},
		{`first([])`, nil},
		{`last([1, 2])`, 2},
		{`last([])`, nil},
		{`rest([])`, nil},
		{`get([1], 0)`, 1},
		{`get([1], 5)`, nil},
		{`get([1], -1)`, nil},
		{`get(#{"a": 1}, "a")`, 1},
		{`get(#{"a": 1}, "b")`, nil},
		{`type(1)`, "int"},
		{`type("s")`, "string"},
		{`type(true)`, "bool"},
		{`type(nil)`, "nil"},
		{`type([])`, "array"},
		{`type(#{})`, "hash"},
		{`type(len)`, "function"},
		{`type(fn(x) { x })`, "function"},
		{`puts("x")`, nil},
		{`len(range(9223372036854775800, 9223372036854775807, 5))`, 2},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

// 配列を返す組み込み関数は、Inspectの結果で比べる
func TestBuiltinFunctionsReturningArrays(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`rest([1, 2, 3])`, "[2, 3]"},
		{`rest([1])`, "[]"},
		{`push([], 1)`, "[1]"},
		{`push([1], 2)`, "[1, 2]"},
		{`cons(1, [2])`, "[1, 2]"},
		{`cons(1, [])`, "[1]"},
		{`map(fn(x) { x * 2 }, [1, 2, 3])`, "[2, 4, 6]"},
		{`map(len, ["a", "bb"])`, "[1, 2]"},
		{`map(fn(x) { x }, [])`, "[]"},
		{`range(3)`, "[0, 1, 2]"},
		{`range(0)`, "[]"},
		{`range(2, 5)`, "[2, 3, 4]"},
		{`range(0, 10, 3)`, "[0, 3, 6, 9]"},
		{`range(0, 9, 3)`, "[0, 3, 6]"},
		{`range(5, 2)`, "[]"},
		{`range(-2, 1)`, "[-2, -1, 0]"},
		// endがint64の最大値付近でも止まる
		{`range(9223372036854775800, 9223372036854775807, 5)`, "[9223372036854775800, 9223372036854775805]"},
		{`range(9223372036854775805, 9223372036854775807)`, "[9223372036854775805, 9223372036854775806]"},
		// 元の配列は変わらない
		{`let a = [1, 2, 3]; push(a, 4); a`, "[1, 2, 3]"},
		{`let a = [2]; cons(1, a); a`, "[2]"},
		{`let a = [1, 2, 3]; rest(a); a`, "[1, 2, 3]"},
		{`let a = [1, 2]; map(fn(x) { x + 1 }, a); a`, "[1, 2]"},
	}

	for _, tt := range tests {
		obj := testEval(t, tt.input)
		arr, ok := obj.(*object.Array)
		if !assert.True(t, ok, "%q: object is %T (%+v)", tt.input, obj, obj) {
			continue
		}
		assert.Equal(t, tt.expected, arr.Inspect(), tt.input)
	}
}

func TestErrorHandling(t *testing.T) {
	tests := []struct {
		input   string
		kind    object.ErrorKind
		message string
		line    int
		column  int
	}{
		{"5 + true;", object.TypeMismatch, "type mismatch: int + bool", 1, 3},
		{"5 + true; 5;", object.TypeMismatch, "type mismatch: int + bool", 1, 3},
		{"-true", object.TypeMismatch, "unknown operator: -bool", 1, 1},
		{"true + false;", object.TypeMismatch, "unknown operator: bool + bool", 1, 6},
		{`"a" - "b"`, object.TypeMismatch, "unknown operator: string - string", 1, 5},
		{"5; true + false; 5", object.TypeMismatch, "unknown operator: bool + bool", 1, 9},
		{"if (10 > 1) { true + false; }", object.TypeMismatch, "unknown operator: bool + bool", 1, 20},
		{"foobar", object.IdentifierNotFound, "identifier not found: foobar", 1, 1},
		{"let f = fn() { x }; f()", object.IdentifierNotFound, "identifier not found: x", 1, 16},
		{"10 / 0", object.DivisionByZero, "division by zero: 10 / 0", 1, 4},
		{"10 % 0", object.DivisionByZero, "modulo by zero: 10 % 0", 1, 4},
		{"2 ^ -1", object.NegativeExponent, "negative exponent: 2 ^ -1", 1, 3},
		{"fn(x) { x }(1, 2)", object.ArityMismatch, "wrong number of arguments: want=1, got=2", 1, 12},
		{`#{"name": "Monkey"}[fn(x) { x }];`, object.UnhashableKey, "unusable as hash key: function", 1, 21},
		{"#{[1]: 2}", object.UnhashableKey, "unusable as hash key: array", 1, 3},
		{"[1, 2, 3][5]", object.IndexOutOfBounds, "index 5 out of bounds for array of length 3", 1, 11},
		{"[1, 2, 3][-1]", object.IndexOutOfBounds, "index -1 out of bounds for array of length 3", 1, 11},
		{`"ab"[2]`, object.IndexOutOfBounds, "index 2 out of bounds for string of length 2", 1, 6},
		{`[1]["a"]`, object.IndexType, "array index must be int, got string", 1, 5},
		{"1[0]", object.IndexType, "index operator not supported: int", 1, 2},
		{"5(1)", object.NotCallable, "not a function: int", 1, 2},
		{"let a = 1;\nlet b = a + nil;", object.TypeMismatch, "type mismatch: int + nil", 2, 11},
		{`len(1)`, object.TypeMismatch, "argument to `len` not supported, got int", 1, 4},
		{"range(1, 5, 0)", object.TypeMismatch, "range step must be positive, got 0", 1, 6},
		{"range(1, 5, -1)", object.TypeMismatch, "range step must be positive, got -1", 1, 6},
		{"let f = fn(n) { f(n + 1) }; f(0)", object.RecursionLimit, "maximum call depth of 100 exceeded", 1, 18},
		{"assert(1 == 2)", object.AssertionFailed, "assertion failed", 1, 7},
		{`assert(false, "math is broken")`, object.AssertionFailed, "assertion failed: math is broken", 1, 7},
		// エラーはどこにも止まらずにトップまで伝わる
		{"let f = fn() { [1, 2][9] }; let g = fn() { f() + 1 }; g()", object.IndexOutOfBounds, "index 9 out of bounds for array of length 2", 1, 23},
		{"map(fn(x) { x / 0 }, [1])", object.DivisionByZero, "division by zero: 1 / 0", 1, 15},
		{"map(fn(x, y) { x }, [1])", object.ArityMismatch, "wrong number of arguments: want=2, got=1", 1, 4},
	}

	for _, tt := range tests {
		obj := testEvalWith(t, New(WithOutput(io.Discard), WithMaxDepth(100)), tt.input)
		errObj, ok := obj.(*object.Error)
		if !assert.True(t, ok, "%q: no error object returned, got %T (%+v)", tt.input, obj, obj) {
			continue
		}
		assert.Equal(t, &object.Error{Kind: tt.kind, Message: tt.message, Line: tt.line, Column: tt.column}, errObj, tt.input)
	}
}

func TestErrorStopsEvaluation(t *testing.T) {
	var out bytes.Buffer
	e := New(WithOutput(&out))
	obj := testEvalWith(t, e, `puts("before"); let x = 1 / 0; puts("after");`)
	_, ok := obj.(*object.Error)
	require.True(t, ok)
	assert.Equal(t, "before\n", out.String())
}

func TestLetStatements(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"let a = 5; a;", 5},
		{"let a = 5 * 5; a;", 25},
		{"let a = 5; let b = a; b;", 5},
		{"let a = 5; let b = a; let c = a + b + 5; c;", 15},
		{"let a = nil; a", nil},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEval(t, tt.input), tt.input)
	}
}

func TestRun(t *testing.T) {
	e := New(WithOutput(io.Discard))
	env := object.NewEnvironment()

	program, errs := parser.Parse(lexer.Tokenize("let x = 40; x + 2"))
	require.Empty(t, errs)
	result, err := e.Run(program, env)
	require.NoError(t, err)
	assertObject(t, 42, result)

	// 同じenvを使い続けると前の束縛が見える(REPLのセッション)
	program, errs = parser.Parse(lexer.Tokenize("x * 2"))
	require.Empty(t, errs)
	result, err = e.Run(program, env)
	require.NoError(t, err)
	assertObject(t, 80, result)

	program, errs = parser.Parse(lexer.Tokenize("y"))
	require.Empty(t, errs)
	_, err = e.Run(program, env)
	var runtimeErr *object.Error
	require.True(t, errors.As(err, &runtimeErr))
	assert.Equal(t, object.IdentifierNotFound, runtimeErr.Kind)
	assert.EqualError(t, err, "1:1: IdentifierNotFound: identifier not found: y")
}

func TestPackageEval(t *testing.T) {
	program, errs := parser.Parse(lexer.Tokenize("let sq = fn(x) { x * x }; sq(9)"))
	require.Empty(t, errs)
	assertObject(t, 81, Eval(program, object.NewEnvironment()))
}

func TestTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := New(WithOutput(io.Discard), WithLogger(zap.New(core)))
	testEvalWith(t, e, "1 + 2")

	entries := logs.FilterMessage("eval").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "*ast.Program", entries[0].ContextMap()["node"])
}

func newModuleEvaluator(t *testing.T, files map[string]string) *Evaluator {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0644))
	}
	return New(WithOutput(io.Discard), WithLoader(loader.New(fs, []string{"lib"}, zap.NewNop())))
}

func TestImport(t *testing.T) {
	e := newModuleEvaluator(t, map[string]string{
		"lib/math.mk": `let square = fn(x) { x * x }; let pi = 3; let helper = "h";`,
		"counter.mk":  `puts("loading"); let n = 1;`,
	})

	tests := []struct {
		input    string
		expected interface{}
	}{
		{`let m = import("math"); m["square"](4)`, 16},
		{`import("lib/math.mk")["pi"]`, 3},
		{`len(import("math"))`, 3},
		{`type(import("math"))`, "hash"},
	}

	for _, tt := range tests {
		assertObject(t, tt.expected, testEvalWith(t, e, tt.input), tt.input)
	}

	obj := testEvalWith(t, e, `import("math")`)
	assert.Equal(t, `#{"helper": "h", "pi": 3, "square": fn(x) {...}}`, obj.Inspect(), "bindings in name order")

	var out bytes.Buffer
	e.out = &out
	assertObject(t, true, testEvalWith(t, e, `import("counter") == import("counter")`))
	assert.Equal(t, "loading\n", out.String(), "module is evaluated once")
}

func TestImportErrors(t *testing.T) {
	e := newModuleEvaluator(t, map[string]string{
		"a.mk":      `let b = import("b");`,
		"b.mk":      `let a = import("a");`,
		"self.mk":   `import("self");`,
		"broken.mk": "let = 1;\nlet x 2;",
		"fails.mk":  "let x = 1 / 0;",
	})

	tests := []struct {
		input   string
		message string
	}{
		{`import("a")`, "import cycle: a.mk -> b.mk -> a.mk"},
		{`import("self")`, "import cycle: self.mk -> self.mk"},
		{`import("missing")`, `loader: "missing": module not found`},
		{`import("broken")`, "broken.mk: 1:5: expected next token to be IDENT, got = instead; 2:7: expected next token to be =, got INT instead"},
		{`import("fails")`, "fails.mk: 1:11: DivisionByZero: division by zero: 1 / 0"},
	}

	for _, tt := range tests {
		obj := testEvalWith(t, e, tt.input)
		errObj, ok := obj.(*object.Error)
		if !assert.True(t, ok, "%q: got %T", tt.input, obj) {
			continue
		}
		assert.Equal(t, object.ImportError, errObj.Kind, tt.input)
		assert.Contains(t, errObj.Message, tt.message, tt.input)
	}

	obj := testEval(t, `import("anything")`)
	errObj, ok := obj.(*object.Error)
	require.True(t, ok)
	assert.Equal(t, object.ImportError, errObj.Kind)
	assert.Equal(t, 1, errObj.Line)
	assert.Equal(t, 7, errObj.Column)
}
