package object

import (
	"sort"

	"github.com/samber/lo"
)

// 現在のenvで、新しいenvを囲い込む。現在のenvが外側のスコープとなるイメージ。
// 現在のenvは引数で渡されているouter。
// クロージャは生成時のenvをポインタで持つので、外側の束縛が後から変わればそれが見える。
func NewEnclosedEnvironment(outer *Environment) *Environment {
	env := NewEnvironment()
	env.outer = outer
	return env
}

func NewEnvironment() *Environment {
	s := make(map[string]Object)
	return &Environment{store: s, outer: nil} // ルートのスコープにはouterスコープはない。
}

type Environment struct {
	store map[string]Object
	outer *Environment
}

// 内側のスコープで見つからないなら外側のスコープで探す。それを再帰的に行う。
func (e *Environment) Get(name string) (Object, bool) {
	obj, ok := e.store[name]
	if !ok && e.outer != nil {
		obj, ok = e.outer.Get(name)
	}
	return obj, ok
}

// 常に現在のスコープに束縛する。外側に同じ名前があっても上書きはせず、隠すだけ。
func (e *Environment) Set(name string, val Object) Object {
	e.store[name] = val
	return val
}

// 現在のスコープで束縛されている名前を辞書順で返す。外側のスコープは含まない。
func (e *Environment) Names() []string {
	names := lo.Keys(e.store)
	sort.Strings(names)
	return names
}
