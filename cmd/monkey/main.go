package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"monkeylang/config"
	"monkeylang/evaluator"
	"monkeylang/lexer"
	"monkeylang/loader"
	"monkeylang/object"
	"monkeylang/parser"
	"monkeylang/repl"
)

type args struct {
	Config string `arg:"--config" help:"YAML config file"`
	Trace  bool   `arg:"--trace" help:"log every evaluated node at debug level"`
	Expr   string `arg:"-e,--eval" help:"evaluate EXPR and print its value"`
	Script string `arg:"positional" help:"script to run; starts the REPL when omitted"`
}

func (args) Description() string {
	return "monkey runs Monkey programs, or starts an interactive session."
}

func main() {
	os.Exit(run())
}

func run() int {
	var a args
	arg.MustParse(&a)

	cfg := config.Default()
	if a.Config != "" {
		var err error
		if cfg, err = config.Load(a.Config); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if a.Trace {
		cfg.Trace = true
	}
	if cfg.Trace {
		cfg.LogLevel = "debug"
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	e := evaluator.New(
		evaluator.WithOutput(os.Stdout),
		evaluator.WithLoader(loader.New(osfs.New("/"), searchPaths(cfg, a.Script), logger)),
		evaluator.WithLogger(logger),
		evaluator.WithMaxDepth(cfg.MaxDepth),
	)

	switch {
	case a.Expr != "":
		return runSource(e, a.Expr, true)
	case a.Script != "":
		src, err := os.ReadFile(a.Script)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		logger.Debug("running script", zap.String("path", a.Script))
		return runSource(e, string(src), false)
	default:
		repl.Start(e, cfg, logger)
		return 0
	}
}

// importは作業ディレクトリ、スクリプトのあるディレクトリ、設定の検索パスの順に探す。全部絶対パスにする。
func searchPaths(cfg config.Config, script string) []string {
	dirs := []string{"."}
	if script != "" {
		dirs = append(dirs, filepath.Dir(script))
	}
	dirs = append(dirs, cfg.SearchPaths...)

	var abs []string
	for _, dir := range dirs {
		if p, err := filepath.Abs(dir); err == nil {
			abs = append(abs, p)
		}
	}
	return lo.Uniq(abs)
}

func runSource(e *evaluator.Evaluator, src string, printResult bool) int {
	program, errs := parser.Parse(lexer.Tokenize(src))
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}

	result, err := e.Run(program, object.NewEnvironment())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, isNil := result.(*object.Nil); printResult && !isNil {
		fmt.Println(result.Inspect())
	}
	return 0
}
