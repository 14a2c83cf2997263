package evaluator

import (
	"fmt"
	"unicode/utf8"

	"monkeylang/object"
)

// 組み込み関数。識別子がenvで見つからなかったときにここから探す。起動後に書き換えることはない。
// 引数の数と型はそれぞれの関数で確かめる。返したエラーには、呼び出し側(applyFunction)で呼び出し式の位置が付く。
var builtins = map[string]*object.Builtin{
	"len": {
		Name: "len",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("len", args, 1); err != nil {
				return err
			}

			switch arg := args[0].(type) {
			case *object.String:
				return &object.Integer{Value: int64(utf8.RuneCountInString(arg.Value))}
			case *object.Array:
				return &object.Integer{Value: int64(len(arg.Elements))}
			case *object.Hash:
				return &object.Integer{Value: int64(arg.Len())}
			default:
				return argumentError("len", args[0])
			}
		},
	},
	// 引数を一つずつ、一行に一つ出力する
	"puts": {
		Name: "puts",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			for _, arg := range args {
				fmt.Fprintln(rt.Output(), arg.Inspect())
			}
			return NIL
		},
	},
	"first": {
		Name: "first",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			arr, err := arrayArg("first", args)
			if err != nil {
				return err
			}
			if len(arr.Elements) == 0 {
				return NIL
			}
			return arr.Elements[0]
		},
	},
	"last": {
		Name: "last",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			arr, err := arrayArg("last", args)
			if err != nil {
				return err
			}
			length := len(arr.Elements)
			if length == 0 {
				return NIL
			}
			return arr.Elements[length-1]
		},
	},
	// 先頭以外の要素を新しい配列で返す。元の配列は変えない。
	"rest": {
		Name: "rest",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			arr, err := arrayArg("rest", args)
			if err != nil {
				return err
			}
			length := len(arr.Elements)
			if length == 0 {
				return NIL
			}
			newElements := make([]object.Object, length-1)
			copy(newElements, arr.Elements[1:length])
			return &object.Array{Elements: newElements}
		},
	},
	// 末尾に要素を足した新しい配列を返す。元の配列は変えない。
	"push": {
		Name: "push",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("push", args, 2); err != nil {
				return err
			}
			arr, ok := args[0].(*object.Array)
			if !ok {
				return argumentError("push", args[0])
			}

			length := len(arr.Elements)
			newElements := make([]object.Object, length+1)
			copy(newElements, arr.Elements)
			newElements[length] = args[1]

			return &object.Array{Elements: newElements}
		},
	},
	// 先頭に要素を足した新しい配列を返す。
	"cons": {
		Name: "cons",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("cons", args, 2); err != nil {
				return err
			}
			arr, ok := args[1].(*object.Array)
			if !ok {
				return argumentError("cons", args[1])
			}

			newElements := make([]object.Object, 0, len(arr.Elements)+1)
			newElements = append(newElements, args[0])
			newElements = append(newElements, arr.Elements...)

			return &object.Array{Elements: newElements}
		},
	},
	"type": {
		Name: "type",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("type", args, 1); err != nil {
				return err
			}
			return &object.String{Value: string(args[0].Type())}
		},
	},
	// 添字と違い、範囲外や存在しないキーはエラーにせずnilを返す。
	"get": {
		Name: "get",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("get", args, 2); err != nil {
				return err
			}

			switch collection := args[0].(type) {
			case *object.Array:
				i, ok := args[1].(*object.Integer)
				if !ok {
					return &object.Error{Kind: object.IndexType, Message: fmt.Sprintf("array index must be int, got %s", args[1].Type())}
				}
				if i.Value < 0 || i.Value >= int64(len(collection.Elements)) {
					return NIL
				}
				return collection.Elements[i.Value]
			case *object.Hash:
				key, ok := args[1].(object.Hashable)
				if !ok {
					return &object.Error{Kind: object.UnhashableKey, Message: fmt.Sprintf("unusable as hash key: %s", args[1].Type())}
				}
				if value, ok := collection.Get(key); ok {
					return value
				}
				return NIL
			default:
				return argumentError("get", args[0])
			}
		},
	},
	// map(fn, array) 各要素にfnを適用した新しい配列を返す。
	"map": {
		Name: "map",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("map", args, 2); err != nil {
				return err
			}
			switch args[0].(type) {
			case *object.Function, *object.Builtin:
			default:
				return &object.Error{Kind: object.NotCallable, Message: fmt.Sprintf("not a function: %s", args[0].Type())}
			}
			arr, ok := args[1].(*object.Array)
			if !ok {
				return argumentError("map", args[1])
			}

			result := make([]object.Object, 0, len(arr.Elements))
			for _, element := range arr.Elements {
				mapped := rt.Apply(args[0], []object.Object{element})
				if isAbrupt(mapped) {
					return mapped
				}
				result = append(result, mapped)
			}
			return &object.Array{Elements: result}
		},
	},
	// range(end), range(start, end), range(start, end, step)。endは含まない。stepは正の数のみ。
	"range": {
		Name: "range",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if len(args) < 1 || len(args) > 3 {
				return &object.Error{Kind: object.ArityMismatch, Message: fmt.Sprintf("wrong number of arguments to `range`: want=1..3, got=%d", len(args))}
			}

			bounds := make([]int64, len(args))
			for i, arg := range args {
				integer, ok := arg.(*object.Integer)
				if !ok {
					return argumentError("range", arg)
				}
				bounds[i] = integer.Value
			}

			start, end, step := int64(0), bounds[0], int64(1)
			if len(bounds) >= 2 {
				start, end = bounds[0], bounds[1]
			}
			if len(bounds) == 3 {
				step = bounds[2]
			}
			if step <= 0 {
				return &object.Error{Kind: object.TypeMismatch, Message: fmt.Sprintf("range step must be positive, got %d", step)}
			}

			elements := []object.Object{}
			// i += step がendを越えてあふれないよう、足す前に残りと比べる
			for i := start; i < end; {
				elements = append(elements, &object.Integer{Value: i})
				if step >= end-i {
					break
				}
				i += step
			}
			return &object.Array{Elements: elements}
		},
	},
	// assert(value) / assert(value, message)
	"assert": {
		Name: "assert",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if len(args) != 1 && len(args) != 2 {
				return &object.Error{Kind: object.ArityMismatch, Message: fmt.Sprintf("wrong number of arguments to `assert`: want=1..2, got=%d", len(args))}
			}
			if object.IsTruthy(args[0]) {
				return NIL
			}
			msg := "assertion failed"
			if len(args) == 2 {
				msg += ": " + args[1].Inspect()
			}
			return &object.Error{Kind: object.AssertionFailed, Message: msg}
		},
	},
	// import(path) モジュールのトップレベルの束縛を、名前→値のハッシュで返す。
	"import": {
		Name: "import",
		Fn: func(rt object.Runtime, args ...object.Object) object.Object {
			if err := checkArity("import", args, 1); err != nil {
				return err
			}
			path, ok := args[0].(*object.String)
			if !ok {
				return argumentError("import", args[0])
			}
			return rt.Import(path.Value)
		},
	},
}

func checkArity(name string, args []object.Object, want int) *object.Error {
	if len(args) == want {
		return nil
	}
	return &object.Error{
		Kind:    object.ArityMismatch,
		Message: fmt.Sprintf("wrong number of arguments to `%s`: want=%d, got=%d", name, want, len(args)),
	}
}

func argumentError(name string, arg object.Object) *object.Error {
	return &object.Error{
		Kind:    object.TypeMismatch,
		Message: fmt.Sprintf("argument to `%s` not supported, got %s", name, arg.Type()),
	}
}

func arrayArg(name string, args []object.Object) (*object.Array, *object.Error) {
	if err := checkArity(name, args, 1); err != nil {
		return nil, err
	}
	arr, ok := args[0].(*object.Array)
	if !ok {
		return nil, &object.Error{
			Kind:    object.TypeMismatch,
			Message: fmt.Sprintf("argument to `%s` must be array, got %s", name, args[0].Type()),
		}
	}
	return arr, nil
}
