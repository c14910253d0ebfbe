// Package local 维护本地媒体目录的曲目索引，文件增删通过 fsnotify 实时同步。
package local

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"StreamResolve/logger"

	"github.com/fsnotify/fsnotify"
)

// Prefix 本地曲目ID前缀，索引查询时会去掉
const Prefix = "local:"

// Index 本地媒体目录索引，曲目ID为去掉扩展名的文件名
type Index struct {
	dir string

	mu    sync.RWMutex
	files map[string]string

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewIndex 创建索引，调用 Start 后生效
func NewIndex(dir string) *Index {
	return &Index{dir: dir, files: make(map[string]string)}
}

// TrackID 文件名对应的曲目ID
func TrackID(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Start 扫描目录并开始监听
func (i *Index) Start() error {
	if i.watcher != nil {
		return errors.New("local index already started")
	}

	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return err
	}
	i.mu.Lock()
	for _, e := range entries {
		if e.Type().IsRegular() {
			i.files[TrackID(e.Name())] = filepath.Join(i.dir, e.Name())
		}
	}
	count := len(i.files)
	i.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(i.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	i.watcher = watcher

	i.wg.Add(1)
	go i.loop()

	logger.Info("[LocalIndex] 本地媒体目录已加载",
		logger.String("dir", i.dir),
		logger.Int("tracks", count))
	return nil
}

func (i *Index) loop() {
	defer i.wg.Done()
	for {
		select {
		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			i.apply(event)
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("[LocalIndex] 目录监听出错", logger.ErrorField(err))
		}
	}
}

func (i *Index) apply(event fsnotify.Event) {
	id := TrackID(event.Name)
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		i.mu.Lock()
		i.files[id] = event.Name
		i.mu.Unlock()
		logger.Debug("[LocalIndex] 新增曲目", logger.String("trackId", id))
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		i.mu.Lock()
		if i.files[id] == event.Name {
			delete(i.files, id)
		}
		i.mu.Unlock()
		logger.Debug("[LocalIndex] 移除曲目", logger.String("trackId", id))
	}
}

// Contains 曲目是否在本地目录中，支持带 local: 前缀的ID
func (i *Index) Contains(id string) bool {
	_, ok := i.Path(id)
	return ok
}

// Path 曲目文件路径
func (i *Index) Path(id string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	p, ok := i.files[strings.TrimPrefix(id, Prefix)]
	return p, ok
}

// Len 已索引的曲目数
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.files)
}

// Close 停止监听
func (i *Index) Close() error {
	if i.watcher == nil {
		return nil
	}
	err := i.watcher.Close()
	i.wg.Wait()
	return err
}
