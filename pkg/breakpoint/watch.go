package breakpoint

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pmezard/go-difflib/difflib"
)

// WatchOptions 断点文件监听选项
type WatchOptions struct {
	Logger  *log.Logger
	Debug   bool                 // 打印断点文件的变更diff
	OnApply func(r ApplyResult) // 每次重新加载后回调，可为nil
}

// Watch 监听断点文件，文件变化后重新加载并同步到管理器，直到ctx结束
//
// The parent directory is watched rather than the file itself, editors
// commonly replace the file by rename which drops a watch on the old inode.
func Watch(ctx context.Context, path string, m *Manager, opts WatchOptions) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	last, _ := ioutil.ReadFile(abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			cur, err := ioutil.ReadFile(abs)
			if err != nil {
				// renamed away, wait for the replacement to be created
				continue
			}
			// truncated but not yet written, an emptied list is spelled `breakpoints: []`
			if len(bytes.TrimSpace(cur)) == 0 || bytes.Equal(cur, last) {
				continue
			}
			if opts.Debug {
				logger.Printf("breakpoints file changed:\n%s", unifiedDiff(abs, last, cur))
			}

			specs, err := ParseSpecs(cur, filepath.Dir(abs))
			if err != nil {
				logger.Printf("reload %s: %v", abs, err)
				continue
			}
			last = cur

			res := m.Apply(specs)
			logger.Printf("reload %s: added %d, updated %d, removed %d", abs, res.Added, res.Updated, res.Removed)
			if opts.OnApply != nil {
				opts.OnApply(res)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watch %s: %v", abs, err)
		}
	}
}

func unifiedDiff(name string, a, b []byte) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: name,
		ToFile:   name,
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err.Error()
	}
	return text
}
