package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"monkeylang/config"
	"monkeylang/evaluator"
	"monkeylang/lexer"
	"monkeylang/object"
	"monkeylang/parser"
)

// 一行ずつ読むもの。*liner.Stateがこれを満たす。
type LineReader interface {
	Prompt(prompt string) (string, error)
}

// 一回のREPLセッション。トップレベルのenvはセッションの間ずっと使い回すので、前の入力の束縛が見える。
type Session struct {
	eval   *evaluator.Evaluator
	env    *object.Environment
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger

	prompt             string
	continuationPrompt string
}

func NewSession(e *evaluator.Evaluator, cfg config.Config, out, errOut io.Writer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		eval:               e,
		env:                object.NewEnvironment(),
		out:                out,
		errOut:             errOut,
		logger:             logger,
		prompt:             cfg.Prompt,
		continuationPrompt: cfg.ContinuationPrompt,
	}
}

// 入力が終わるか :quit が入力されるまで、読んで評価して表示するのを繰り返す。
// onEntryには評価した入力が一つずつ渡される(履歴の保存用)。nilでもいい。
func (s *Session) Run(r LineReader, onEntry func(string)) {
	for {
		src, ok := s.Read(r)
		if !ok {
			fmt.Fprintln(s.out)
			return
		}

		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			if trimmed == ":quit" {
				return
			}
			fmt.Fprintln(s.out, "unknown command. Type :quit to exit.")
			continue
		}

		s.Exec(src)
		if onEntry != nil {
			onEntry(src)
		}
	}
}

// 一つの入力を読む。構文解析が入力の途中で終わってしまう間は、続きの行を読み足す。
// 入力が終わったらfalse。Ctrl-Cで中断された入力は捨てて、空の入力として返す。
func (s *Session) Read(r LineReader) (string, bool) {
	var b strings.Builder

	for {
		prompt := s.prompt
		if b.Len() > 0 {
			prompt = s.continuationPrompt
		}

		line, err := r.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			s.logger.Warn("failed to read line", zap.Error(err))
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		p := parser.New(lexer.New(b.String()))
		p.ParseProgram()
		if len(p.Errors()) > 0 && p.Incomplete() {
			continue
		}
		return b.String(), true
	}
}

// 一つの入力を構文解析して評価し、結果かエラーを表示する。nilの結果は表示しない。
func (s *Session) Exec(src string) {
	program, errs := parser.Parse(lexer.Tokenize(src))
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(s.errOut, err)
		}
		return
	}

	result, err := s.eval.Run(program, s.env)
	if err != nil {
		fmt.Fprintln(s.errOut, err)
		return
	}
	if _, ok := result.(*object.Nil); ok {
		return
	}
	fmt.Fprintln(s.out, result.Inspect())
}

// 端末でREPLを起動する。履歴はcfg.HistoryFileから読み、終了時に書き戻す。
func Start(e *evaluator.Evaluator, cfg config.Config, logger *zap.Logger) {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if cfg.HistoryFile != "" {
		if f, err := os.Open(cfg.HistoryFile); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			f, err := os.Create(cfg.HistoryFile)
			if err != nil {
				logger.Warn("failed to save history", zap.String("path", cfg.HistoryFile), zap.Error(err))
				return
			}
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}()
	}

	session := NewSession(e, cfg, os.Stdout, os.Stderr, logger)
	session.Run(ln, func(src string) {
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
	})
}
