package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// monkeyコマンドの設定。YAMLファイルから読み、コマンドラインのフラグで上書きする。
type Config struct {
	Prompt             string   `yaml:"prompt"`
	ContinuationPrompt string   `yaml:"continuation_prompt"`
	HistoryFile        string   `yaml:"history_file"`
	SearchPaths        []string `yaml:"search_paths"`
	LogLevel           string   `yaml:"log_level"`
	// 評価したノードを一つずつDebugでログに出す
	Trace bool `yaml:"trace"`
	// 関数呼び出しのネストの上限
	MaxDepth int `yaml:"max_depth"`
}

func Default() Config {
	return Config{
		Prompt:             ">> ",
		ContinuationPrompt: ".. ",
		HistoryFile:        ".monkey_history",
		LogLevel:           "warn",
		MaxDepth:           10000,
	}
}

// pathのYAMLを読み、Default()の値に上書きする。書かれていない項目はデフォルトのまま。
func Load(path string) (Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("%w: max_depth must be positive, got %d", ErrInvalid, c.MaxDepth)
	}
	if c.Prompt == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalid)
	}
	return nil
}

// log_levelに合わせたロガーを作り、グローバルのロガーとしても登録する。
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}

	var zc zap.Config
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	_ = zap.ReplaceGlobals(logger)
	return logger, nil
}
