package monitoring

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchArtifact 监听模型文件变化
//
// 监听的是所在目录，这样原子替换（写临时文件再rename）也能被发现。
// 只通知，不重新加载；ctx结束时停止。
func WatchArtifact(ctx context.Context, path string, logger *zap.Logger, onChange func(fsnotify.Event)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				logger.Warn("model artifact changed on disk; restart to load it",
					zap.String("path", abs),
					zap.String("op", event.Op.String()))
				onChange(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("artifact watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
