package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monkeylang/config"
	"monkeylang/evaluator"
)

func TestSearchPaths(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SearchPaths = []string{"/usr/share/monkey", "."}

	paths := searchPaths(cfg, filepath.Join("scripts", "main.mk"))
	assert.Equal(t, []string{cwd, filepath.Join(cwd, "scripts"), "/usr/share/monkey"}, paths)
}

func TestRunSource(t *testing.T) {
	e := evaluator.New(evaluator.WithOutput(io.Discard))

	assert.Equal(t, 0, runSource(e, "let x = 1; x + 1", false))
	assert.Equal(t, 1, runSource(e, "let = 1;", false))
	assert.Equal(t, 1, runSource(e, "1 / 0", false))
}
