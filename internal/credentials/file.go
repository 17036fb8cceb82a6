package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileProvider reads credentials from a YAML file written by `crmlive login`.
// Watch keeps it current when another process logs in, switches project, or logs out.
type FileProvider struct {
	Path string

	mu  sync.RWMutex
	cur Credentials
}

// NewFileProvider loads path. A missing file means logged out, not an error.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{Path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Credentials() (Credentials, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur, p.cur.Usable(time.Now())
}

// Reload re-reads the file.
func (p *FileProvider) Reload() error {
	c, err := readFile(p.Path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cur = c
	p.mu.Unlock()
	return nil
}

// Save writes c to the file with owner-only permissions.
func (p *FileProvider) Save(c Credentials) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(p.Path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	p.mu.Lock()
	p.cur = c
	p.mu.Unlock()
	return nil
}

// Delete removes the file (logout).
func (p *FileProvider) Delete() error {
	err := os.Remove(p.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete credentials: %w", err)
	}
	p.mu.Lock()
	p.cur = Credentials{}
	p.mu.Unlock()
	return nil
}

// Watch reloads the file on change and calls onChange with the new value until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (p *FileProvider) Watch(ctx context.Context, onChange func(Credentials)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch credentials: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	name := filepath.Clean(p.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			prev, _ := p.Credentials()
			if err := p.Reload(); err != nil {
				slog.Warn("credentials: reload failed", "path", p.Path, "err", err)
				continue
			}
			cur, _ := p.Credentials()
			if cur != prev && onChange != nil {
				onChange(cur)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("credentials: watcher error", "err", err)
		}
	}
}

func readFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return c, nil
}
