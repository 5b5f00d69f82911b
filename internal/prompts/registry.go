// Package prompts loads prompt templates from a directory and keeps them
// current via a filesystem watcher.
package prompts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/logging"
)

// Template names the registry serves. Files are <name>.tmpl in the
// prompts directory; built-in defaults cover missing files.
const (
	SystemPrompt = "system"
	TitlePrompt  = "title"
)

// Built-in fallbacks used when the prompts directory does not provide a
// file. The chat template follows the Granite instruct format.
var defaults = map[string]string{
	SystemPrompt: `You are ISC CodeConnect, an assistant for Salesforce developers at IBM.
Answer questions about Apex, Lightning Web Components, SOQL, and Salesforce
platform development. When reasoning through a problem, wrap your working
notes in <analysis> tags before the final answer.
{{if .Context}}
Relevant prior conversations:
{{.Context}}
{{end}}`,
	TitlePrompt: `Write a title of at most six words for a conversation that starts with
the following message. Respond with the title only.

{{.Message}}`,
}

// Registry holds parsed templates and re-parses files as they change on
// disk.
type Registry struct {
	dir    string
	logger *logging.Logger

	mu        sync.RWMutex
	templates map[string]*template.Template

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewRegistry loads templates from dir. Built-in defaults are parsed
// first so every known template name always resolves. If watch is true
// the directory is monitored and edited files are re-parsed in place.
func NewRegistry(dir string, watch bool, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		dir:       dir,
		logger:    logger,
		templates: make(map[string]*template.Template),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for name, text := range defaults {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing built-in template %q: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	if err := r.loadDir(); err != nil {
		return nil, err
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("creating prompt watcher: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching prompt directory: %w", err)
		}
		r.watcher = watcher
		go r.watch()
	} else {
		close(r.done)
	}

	return r, nil
}

// loadDir parses every *.tmpl file in the directory. A missing directory
// is not an error; the defaults carry the registry.
func (r *Registry) loadDir() error {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading prompt directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		if err := r.loadFile(filepath.Join(r.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	name := strings.TrimSuffix(filepath.Base(path), ".tmpl")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading prompt %q: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(data))
	if err != nil {
		return fmt.Errorf("parsing prompt %q: %w", name, err)
	}

	r.mu.Lock()
	r.templates[name] = tmpl
	r.mu.Unlock()
	return nil
}

// watch re-parses templates as files change. A file that fails to parse
// is logged and the previous version stays active.
func (r *Registry) watch() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".tmpl") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			ctx := context.Background()
			if err := r.loadFile(event.Name); err != nil {
				r.logger.Warn(ctx, "prompt reload failed", zap.String("file", event.Name), zap.Error(err))
				continue
			}
			r.logger.Info(ctx, "prompt reloaded", zap.String("file", event.Name))
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn(context.Background(), "prompt watcher error", zap.Error(err))
		}
	}
}

// Render executes the named template with the given data.
func (r *Registry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt %q: %w", name, err)
	}
	return buf.String(), nil
}

// Close stops the watcher, if any.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.stop)
	err := r.watcher.Close()
	<-r.done
	return err
}
