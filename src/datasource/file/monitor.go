// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce 同一文件连续写入事件的合并间隔
const DefaultDebounce = 500 * time.Millisecond

// FileMonitor 监控数据目录中的输入文件，文件写入完成后回调
type FileMonitor struct {
	watchDir string
	watcher  *fsnotify.Watcher
	names    map[string]bool // 只关心的文件名，为空则全部
	debounce time.Duration
	lastMod  map[string]time.Time
	mu       sync.Mutex
}

func NewFileMonitor(dir string, names ...string) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	m := &FileMonitor{
		watchDir: dir,
		watcher:  watcher,
		names:    make(map[string]bool),
		debounce: DefaultDebounce,
		lastMod:  make(map[string]time.Time),
	}
	for _, n := range names {
		m.names[filepath.Base(n)] = true
	}
	return m, nil
}

// SetDebounce 修改合并间隔
func (m *FileMonitor) SetDebounce(d time.Duration) {
	m.mu.Lock()
	m.debounce = d
	m.mu.Unlock()
}

func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}

func (m *FileMonitor) interested(name string) bool {
	if len(m.names) == 0 {
		return true
	}
	return m.names[filepath.Base(name)]
}

// Watch 阻塞监听直到ctx结束或watcher关闭
// 一个debounce间隔内的所有变化(可能涉及多个文件)合并为一次回调，
// names 按文件名排序，回调在调用方goroutine中执行
func (m *FileMonitor) Watch(ctx context.Context, handler func(names []string)) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !m.interested(event.Name) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			m.mu.Lock()
			changed := info.ModTime().After(m.lastMod[event.Name]) || event.Op&fsnotify.Create != 0
			if changed {
				m.lastMod[event.Name] = info.ModTime()
				pending[event.Name] = true
			}
			debounce := m.debounce
			m.mu.Unlock()

			if changed {
				timer.Reset(debounce)
			}
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			pending = make(map[string]bool)
			handler(names)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
