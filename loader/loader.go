package loader

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// モジュールファイルの拡張子。import("lib/math") は lib/math.mk を読む。
const Ext = ".mk"

var ErrNotFound = errors.New("module not found")

// importされたモジュールのソースを探して読む。
type Loader struct {
	fs          billy.Filesystem
	searchPaths []string
	logger      *zap.Logger
}

func New(fs billy.Filesystem, searchPaths []string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fs: fs, searchPaths: searchPaths, logger: logger}
}

// 各検索パスからの相対パスとして探し、最後にnameをそのまま探す。最初に見つかったファイルのパスと中身を返す。
// 見つからなければErrNotFoundをラップしたエラー、読み込みに失敗すればそのエラーをラップして返す。
func (l *Loader) Load(name string) (resolved string, text string, err error) {
	for _, candidate := range l.candidates(name) {
		data, err := util.ReadFile(l.fs, candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("loader: read %s: %w", candidate, err)
		}
		l.logger.Debug("loaded module", zap.String("name", name), zap.String("path", candidate), zap.Int("bytes", len(data)))
		return candidate, string(data), nil
	}
	return "", "", fmt.Errorf("loader: %q: %w", name, ErrNotFound)
}

func (l *Loader) candidates(name string) []string {
	if path.Ext(name) != Ext {
		name += Ext
	}
	if path.IsAbs(name) {
		return []string{path.Clean(name)}
	}
	// nameそのままはファイルシステムのルートからの相対になるので、検索パスより後に回す
	var candidates []string
	for _, dir := range l.searchPaths {
		candidates = append(candidates, path.Clean(l.fs.Join(dir, name)))
	}
	candidates = append(candidates, path.Clean(name))
	return lo.Uniq(candidates)
}
