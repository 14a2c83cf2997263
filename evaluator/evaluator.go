package evaluator

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"monkeylang/ast"
	"monkeylang/lexer"
	"monkeylang/loader"
	"monkeylang/object"
	"monkeylang/parser"
)

// nil、true、falseはどのコンテキストでも同じもの。
// 毎回objectを生成する必要はないので、Evalではここのポインタを参照させて返すようにする。
var (
	NIL   = &object.Nil{}
	TRUE  = &object.Boolean{Value: true}
	FALSE = &object.Boolean{Value: false}
)

const DefaultMaxDepth = 10000

type Option func(*Evaluator)

// putsの出力先。デフォルトは標準出力。
func WithOutput(w io.Writer) Option {
	return func(e *Evaluator) { e.out = w }
}

// importでモジュールを探すローダー。なければimportはエラーになる。
func WithLoader(l *loader.Loader) Option {
	return func(e *Evaluator) { e.loader = l }
}

// Debugレベルが有効なら、評価したノードを一つずつログに出す。
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

func WithMaxDepth(depth int) Option {
	return func(e *Evaluator) { e.maxDepth = depth }
}

// 評価器。importしたモジュールのキャッシュと関数呼び出しの深さを持つので、一つのセッションで使い回す。
// 並行に使ってはいけない。
type Evaluator struct {
	out      io.Writer
	loader   *loader.Loader
	logger   *zap.Logger
	maxDepth int

	depth   int
	modules map[string]*object.Hash // 読み込み済みのモジュール。キーはローダーが解決したパス
	loading []string                // 読み込み中のモジュール。循環importの検出に使う
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		out:      os.Stdout,
		logger:   zap.NewNop(),
		maxDepth: DefaultMaxDepth,
		modules:  make(map[string]*object.Hash),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// デフォルト設定の評価器でnodeを評価する。
func Eval(node ast.Node, env *object.Environment) object.Object {
	return New().Eval(node, env)
}

// programを評価し、実行時エラーはGoのerrorとして返す。
func (e *Evaluator) Run(program *ast.Program, env *object.Environment) (object.Object, error) {
	result := e.Eval(program, env)
	if err, ok := result.(*object.Error); ok {
		return nil, err
	}
	return result, nil
}

// ASTを辿っていき、評価する。
// 末端のノードであることが確定しているIntegerやBoolなどは自身のノードの値を返す。
// 配下にノードを持つノードの場合(Expressionとか)は、再帰的にEvalを呼び出し続ける。
//
// エラーとreturnについて
// 部分式を評価したら、その結果がErrorかReturnValueでないかを必ず確かめる(isAbrupt)。
// どちらかなら即returnさせて、残りの評価をせずに上に伝える。
// ReturnValueは関数呼び出しの境界で中身が取り出される。Errorはどこでも止まらず、一番上まで伝わる。
//
// envについて
// env は変数への値の束縛に使う。LetStatementの評価がされるたびに更新されていく。
func (e *Evaluator) Eval(node ast.Node, env *object.Environment) object.Object {
	e.trace(node)

	switch node := node.(type) {
	// --------------
	// Statements
	// --------------
	case *ast.Program:
		return e.evalProgram(node, env)
	case *ast.ExpressionStatement:
		return e.Eval(node.Expression, env)
	case *ast.BlockStatement:
		return e.evalStatements(node.Statements, object.NewEnclosedEnvironment(env))
	case *ast.ReturnStatement:
		val := e.Eval(node.ReturnValue, env)
		if isAbrupt(val) {
			return val
		}
		// return文の後に何か書いていても評価されない。
		return &object.ReturnValue{Value: val}
	case *ast.LetStatement:
		val := e.Eval(node.Value, env)
		if isAbrupt(val) {
			return val
		}
		env.Set(node.Name.Value, val) // 評価結果をletで宣言したIDENTに束縛させる
		return NIL

	// --------------
	// Expressions
	// --------------
	case *ast.IntegerLiteral:
		return &object.Integer{Value: node.Value}
	case *ast.StringLiteral:
		return &object.String{Value: node.Value}
	case *ast.Boolean:
		return nativeBoolToBooleanObject(node.Value)
	case *ast.NilLiteral:
		return NIL
	case *ast.PrefixExpression: // ! or -
		right := e.Eval(node.Right, env)
		if isAbrupt(right) {
			return right
		}
		return evalPrefixExpression(node, right)
	case *ast.InfixExpression:
		left := e.Eval(node.Left, env)
		if isAbrupt(left) {
			return left
		}
		right := e.Eval(node.Right, env)
		if isAbrupt(right) {
			return right
		}
		return evalInfixExpression(node, left, right)
	case *ast.IfExpression:
		return e.evalIfExpression(node, env)
	case *ast.BlockExpression:
		return e.evalStatements(node.Statements, object.NewEnclosedEnvironment(env))
	case *ast.Identifier:
		return evalIdentifier(node, env)
	case *ast.FunctionLiteral:
		// 関数が定義された時点のenvを持たせる。これでクロージャになる。
		return &object.Function{Parameters: node.Parameters, Body: node.Body, Env: env}
	case *ast.CallExpression:
		function := e.Eval(node.Function, env)
		if isAbrupt(function) {
			return function
		}
		args, abrupt := e.evalExpressions(node.Arguments, env)
		if abrupt != nil {
			return abrupt
		}
		return e.applyFunction(node, function, args)
	case *ast.ArrayLiteral:
		elements, abrupt := e.evalExpressions(node.Elements, env)
		if abrupt != nil {
			return abrupt
		}
		return &object.Array{Elements: elements}
	case *ast.IndexExpression:
		left := e.Eval(node.Left, env)
		if isAbrupt(left) {
			return left
		}
		index := e.Eval(node.Index, env)
		if isAbrupt(index) {
			return index
		}
		return evalIndexExpression(node, left, index)
	case *ast.HashLiteral:
		return e.evalHashLiteral(node, env)
	}

	return newError(node, object.TypeMismatch, "cannot evaluate %T", node)
}

func (e *Evaluator) trace(node ast.Node) {
	if ce := e.logger.Check(zap.DebugLevel, "eval"); ce != nil {
		line, column := node.Pos()
		ce.Write(zap.String("node", fmt.Sprintf("%T", node)), zap.Int("line", line), zap.Int("column", column))
	}
}

// トップレベルのreturnはプログラムをそこで終わらせ、その値がプログラムの値になる。
func (e *Evaluator) evalProgram(program *ast.Program, env *object.Environment) object.Object {
	result := e.evalStatements(program.Statements, env)
	if returnValue, ok := result.(*object.ReturnValue); ok {
		return returnValue.Value
	}
	return result
}

// 文を順に評価し、最後の文の値を返す。空ならnil。
// ReturnValueかErrorが出たらそこで止めて、そのまま返す。ReturnValueの中身を取り出すのは関数呼び出しの役目。
func (e *Evaluator) evalStatements(stmts []ast.Statement, env *object.Environment) object.Object {
	var result object.Object = NIL

	for _, statement := range stmts {
		result = e.Eval(statement, env)
		if isAbrupt(result) {
			return result
		}
	}

	return result
}

func (e *Evaluator) evalIfExpression(ie *ast.IfExpression, env *object.Environment) object.Object {
	condition := e.Eval(ie.Condition, env)
	if isAbrupt(condition) {
		return condition
	}

	if object.IsTruthy(condition) {
		return e.Eval(ie.Consequence, env)
	} else if ie.Alternative != nil {
		return e.Eval(ie.Alternative, env)
	} else {
		return NIL
	}
}

// envを内側から外側へ探し、見つからなければ組み込み関数を探す。
func evalIdentifier(node *ast.Identifier, env *object.Environment) object.Object {
	if val, ok := env.Get(node.Value); ok {
		return val
	}

	if builtin, ok := builtins[node.Value]; ok {
		return builtin
	}

	return newError(node, object.IdentifierNotFound, "identifier not found: %s", node.Value)
}

// 左から順に評価する。途中でErrorかReturnValueが出たら、それを二つ目の戻り値で返す。
func (e *Evaluator) evalExpressions(exps []ast.Expression, env *object.Environment) ([]object.Object, object.Object) {
	result := make([]object.Object, 0, len(exps))

	for _, exp := range exps {
		evaluated := e.Eval(exp, env)
		if isAbrupt(evaluated) {
			return nil, evaluated
		}
		result = append(result, evaluated)
	}

	return result, nil
}

// キー、値の順にペアを左から評価する。同じキーが何度も出てきたら最後の値が残る。
func (e *Evaluator) evalHashLiteral(node *ast.HashLiteral, env *object.Environment) object.Object {
	hash := object.NewHash()

	for _, pair := range node.Pairs {
		key := e.Eval(pair.Key, env)
		if isAbrupt(key) {
			return key
		}

		hashKey, ok := key.(object.Hashable)
		if !ok {
			return newError(pair.Key, object.UnhashableKey, "unusable as hash key: %s", key.Type())
		}

		value := e.Eval(pair.Value, env)
		if isAbrupt(value) {
			return value
		}

		hash.Set(hashKey, value)
	}

	return hash
}

// nodeは呼び出し式。エラーの位置に使う。組み込み関数から呼ばれる場合はnil。
func (e *Evaluator) applyFunction(node ast.Node, fn object.Object, args []object.Object) object.Object {
	switch fn := fn.(type) {
	case *object.Function:
		if len(args) != len(fn.Parameters) {
			return newError(node, object.ArityMismatch, "wrong number of arguments: want=%d, got=%d", len(fn.Parameters), len(args))
		}
		if e.depth >= e.maxDepth {
			return newError(node, object.RecursionLimit, "maximum call depth of %d exceeded", e.maxDepth)
		}

		e.depth++
		defer func() { e.depth-- }()

		evaluated := e.evalStatements(fn.Body.Statements, extendFunctionEnv(fn, args))
		return unwrapReturnValue(evaluated)
	case *object.Builtin:
		result := fn.Fn(e, args...)
		// 組み込み関数が返したエラーには呼び出し式の位置を付ける
		if err, ok := result.(*object.Error); ok && err.Line == 0 && node != nil {
			err.Line, err.Column = node.Pos()
		}
		return result
	default:
		return newError(node, object.NotCallable, "not a function: %s", fn.Type())
	}
}

// 関数が持っているenv(定義された時点のenv)を外側にした新しいenvに、引数を束縛する。
// 関数本体はこのenvで直接評価する。本体のブロックのために、さらにスコープを作ることはしない。
func extendFunctionEnv(fn *object.Function, args []object.Object) *object.Environment {
	env := object.NewEnclosedEnvironment(fn.Env)

	for paramIdx, param := range fn.Parameters {
		env.Set(param.Value, args[paramIdx])
	}

	return env
}

// 関数の中でreturnされた場合、ReturnValueに包まれた値が返ってくるので中身を取り出す。
// 取り出さないと、呼び出し元の文の評価までそこで止まってしまう。
func unwrapReturnValue(obj object.Object) object.Object {
	if returnValue, ok := obj.(*object.ReturnValue); ok {
		return returnValue.Value
	}

	return obj
}

// 組み込み関数から関数を呼ぶ(mapなど)。
func (e *Evaluator) Apply(fn object.Object, args []object.Object) object.Object {
	return e.applyFunction(nil, fn, args)
}

func (e *Evaluator) Output() io.Writer {
	return e.out
}

// nameのモジュールを読み込んで新しいトップレベルのenvで評価し、トップレベルの束縛を名前→値のハッシュで返す。
// 一度読み込んだモジュールはキャッシュする。読み込み中のモジュールをもう一度importしたら循環としてエラーにする。
func (e *Evaluator) Import(name string) object.Object {
	if e.loader == nil {
		return &object.Error{Kind: object.ImportError, Message: fmt.Sprintf("cannot import %q: no module loader configured", name)}
	}

	resolved, text, err := e.loader.Load(name)
	if err != nil {
		return &object.Error{Kind: object.ImportError, Message: err.Error()}
	}

	if module, ok := e.modules[resolved]; ok {
		return module
	}

	if i := lo.IndexOf(e.loading, resolved); i >= 0 {
		chain := append(append([]string{}, e.loading[i:]...), resolved)
		return &object.Error{Kind: object.ImportError, Message: "import cycle: " + strings.Join(chain, " -> ")}
	}

	program, errs := parser.Parse(lexer.Tokenize(text))
	if len(errs) > 0 {
		msgs := lo.Map(errs, func(err *parser.Error, _ int) string { return err.Error() })
		return &object.Error{Kind: object.ImportError, Message: fmt.Sprintf("%s: %s", resolved, strings.Join(msgs, "; "))}
	}

	e.loading = append(e.loading, resolved)
	defer func() { e.loading = e.loading[:len(e.loading)-1] }()

	env := object.NewEnvironment()
	if err, ok := e.Eval(program, env).(*object.Error); ok {
		return &object.Error{Kind: object.ImportError, Message: fmt.Sprintf("%s: %s", resolved, err.Error())}
	}

	exports := object.NewHash()
	for _, binding := range env.Names() {
		value, _ := env.Get(binding)
		exports.Set(&object.String{Value: binding}, value)
	}
	e.modules[resolved] = exports

	e.logger.Debug("imported module", zap.String("path", resolved), zap.Int("bindings", exports.Len()))

	return exports
}

func evalPrefixExpression(node *ast.PrefixExpression, right object.Object) object.Object {
	switch node.Operator {
	case "!":
		return nativeBoolToBooleanObject(!object.IsTruthy(right))
	case "-":
		integer, ok := right.(*object.Integer)
		if !ok {
			return newError(node, object.TypeMismatch, "unknown operator: -%s", right.Type())
		}
		return &object.Integer{Value: -integer.Value}
	default:
		return newError(node, object.TypeMismatch, "unknown operator: %s%s", node.Operator, right.Type())
	}
}

// == と != はどの型の組み合わせでも使える。それ以外は整数同士か文字列同士のみ。
func evalInfixExpression(node *ast.InfixExpression, left, right object.Object) object.Object {
	switch {
	case node.Operator == "==":
		return nativeBoolToBooleanObject(object.Equal(left, right))
	case node.Operator == "!=":
		return nativeBoolToBooleanObject(!object.Equal(left, right))
	}

	switch left := left.(type) {
	case *object.Integer:
		if right, ok := right.(*object.Integer); ok {
			return evalIntegerInfixExpression(node, left.Value, right.Value)
		}
	case *object.String:
		if right, ok := right.(*object.String); ok {
			return evalStringInfixExpression(node, left.Value, right.Value)
		}
	}

	if left.Type() != right.Type() {
		return newError(node, object.TypeMismatch, "type mismatch: %s %s %s", left.Type(), node.Operator, right.Type())
	}
	return newError(node, object.TypeMismatch, "unknown operator: %s %s %s", left.Type(), node.Operator, right.Type())
}

// 桁あふれは2の補数で折り返す(Goのint64の演算そのまま)。
// / は0方向への切り捨て、% の結果の符号は左辺と同じ。
func evalIntegerInfixExpression(node *ast.InfixExpression, left, right int64) object.Object {
	switch node.Operator {
	case "+":
		return &object.Integer{Value: left + right}
	case "-":
		return &object.Integer{Value: left - right}
	case "*":
		return &object.Integer{Value: left * right}
	case "/":
		if right == 0 {
			return newError(node, object.DivisionByZero, "division by zero: %d / 0", left)
		}
		return &object.Integer{Value: left / right}
	case "%":
		if right == 0 {
			return newError(node, object.DivisionByZero, "modulo by zero: %d %% 0", left)
		}
		return &object.Integer{Value: left % right}
	case "^":
		if right < 0 {
			return newError(node, object.NegativeExponent, "negative exponent: %d ^ %d", left, right)
		}
		return &object.Integer{Value: power(left, right)}
	case "<":
		return nativeBoolToBooleanObject(left < right)
	case ">":
		return nativeBoolToBooleanObject(left > right)
	case "<=":
		return nativeBoolToBooleanObject(left <= right)
	case ">=":
		return nativeBoolToBooleanObject(left >= right)
	default:
		return newError(node, object.TypeMismatch, "unknown operator: int %s int", node.Operator)
	}
}

// 二乗を繰り返すべき乗。exp >= 0。
func power(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// 文字列は + で連結、比較はバイト列の辞書順。
func evalStringInfixExpression(node *ast.InfixExpression, left, right string) object.Object {
	switch node.Operator {
	case "+":
		return &object.String{Value: left + right}
	case "<":
		return nativeBoolToBooleanObject(left < right)
	case ">":
		return nativeBoolToBooleanObject(left > right)
	case "<=":
		return nativeBoolToBooleanObject(left <= right)
	case ">=":
		return nativeBoolToBooleanObject(left >= right)
	default:
		return newError(node, object.TypeMismatch, "unknown operator: string %s string", node.Operator)
	}
}

func evalIndexExpression(node *ast.IndexExpression, left, index object.Object) object.Object {
	switch left := left.(type) {
	case *object.Array:
		i, ok := index.(*object.Integer)
		if !ok {
			return newError(node.Index, object.IndexType, "array index must be int, got %s", index.Type())
		}
		if i.Value < 0 || i.Value >= int64(len(left.Elements)) {
			return newError(node.Index, object.IndexOutOfBounds, "index %d out of bounds for array of length %d", i.Value, len(left.Elements))
		}
		return left.Elements[i.Value]
	case *object.String:
		i, ok := index.(*object.Integer)
		if !ok {
			return newError(node.Index, object.IndexType, "string index must be int, got %s", index.Type())
		}
		// 文字列の添字は文字(rune)単位
		runes := []rune(left.Value)
		if i.Value < 0 || i.Value >= int64(len(runes)) {
			return newError(node.Index, object.IndexOutOfBounds, "index %d out of bounds for string of length %d", i.Value, utf8.RuneCountInString(left.Value))
		}
		return &object.String{Value: string(runes[i.Value])}
	case *object.Hash:
		key, ok := index.(object.Hashable)
		if !ok {
			return newError(node.Index, object.UnhashableKey, "unusable as hash key: %s", index.Type())
		}
		// 存在しないキーはエラーではなくnil
		if value, ok := left.Get(key); ok {
			return value
		}
		return NIL
	default:
		return newError(node, object.IndexType, "index operator not supported: %s", left.Type())
	}
}

func nativeBoolToBooleanObject(input bool) *object.Boolean {
	if input {
		return TRUE
	}
	return FALSE
}

// nodeの位置を持ったエラーを作る。nodeがnilなら位置なし。
func newError(node ast.Node, kind object.ErrorKind, format string, a ...interface{}) *object.Error {
	err := &object.Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
	if node != nil {
		err.Line, err.Column = node.Pos()
	}
	return err
}

// ErrorかReturnValueなら、その時点で評価を打ち切って上に伝える。
func isAbrupt(obj object.Object) bool {
	switch obj.(type) {
	case *object.Error, *object.ReturnValue:
		return true
	}
	return false
}
