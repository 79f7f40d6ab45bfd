// Package promptmod loads prompt modules — small markdown files describing
// an additional analysis lens ("repeated requests", "frustration signals",
// etc.) — and folds the enabled ones into a stage's base system prompt.
package promptmod

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Definition is one loaded prompt module.
type Definition struct {
	Name         string
	Description  string
	Category     string
	Parameters   map[string]any
	SystemPrompt string
	OutputFormat string
	Examples     string
}

// Loader loads every *.md file under a prompts directory into Definitions,
// keyed by name, and builds a unified system prompt from the enabled
// subset. A Loader may be handed to a Watcher, which rescans it from a
// background goroutine, so every access goes through mu.
type Loader struct {
	dir string

	mu      sync.RWMutex
	loaded  map[string]*Definition
	didScan bool
}

// NewLoader builds a Loader rooted at dir (typically runtimeDir/prompts).
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, loaded: map[string]*Definition{}}
}

// LoadAll (re-)scans the prompts directory, replacing any previously
// loaded definitions. A missing directory yields an empty set, not an
// error: prompt modules are optional.
func (l *Loader) LoadAll() []*Definition {
	loaded := map[string]*Definition{}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.mu.Lock()
		l.loaded = loaded
		l.didScan = true
		l.mu.Unlock()
		return nil
	}

	out := make([]*Definition, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		def, err := parseFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			continue
		}
		loaded[def.Name] = def
		out = append(out, def)
	}

	l.mu.Lock()
	l.loaded = loaded
	l.didScan = true
	l.mu.Unlock()
	return out
}

func (l *Loader) ensureLoaded() {
	l.mu.RLock()
	scanned := l.didScan
	l.mu.RUnlock()
	if !scanned {
		l.LoadAll()
	}
}

// DefaultWatchDebounce matches the teacher's skill-watcher debounce: long
// enough to coalesce an editor's save-then-rename into one rescan.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher keeps a Loader's definitions in sync with its directory by
// rescanning on every filesystem change under it, debounced so a burst of
// writes only triggers a single reload.
type Watcher struct {
	loader   *Loader
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher builds a Watcher for loader. debounce <= 0 falls back to
// DefaultWatchDebounce.
func NewWatcher(loader *Loader, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &Watcher{loader: loader, debounce: debounce}
}

// Start begins watching the loader's prompts directory in the background.
// A directory that doesn't exist yet is tolerated as a no-op, same as
// LoadAll: prompt modules, and therefore their hot-reload, are optional.
// Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	if info, err := os.Stat(w.loader.dir); err != nil || !info.IsDir() {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("promptmod: create watcher: %w", err)
	}
	if err := fw.Add(w.loader.dir); err != nil {
		fw.Close()
		return fmt.Errorf("promptmod: watch %s: %w", w.loader.dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops the watcher and waits for its goroutine to exit. Safe to
// call on a Watcher that was never started.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			w.loader.LoadAll()
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Get returns a single loaded prompt definition by name.
func (l *Loader) Get(name string) (*Definition, bool) {
	l.ensureLoaded()
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.loaded[name]
	return d, ok
}

// Names returns every loaded prompt module's name.
func (l *Loader) Names() []string {
	l.ensureLoaded()
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		names = append(names, name)
	}
	return names
}

// BuildUnifiedSystemPrompt concatenates basePrompt with every enabled
// prompt module's "## {Title Case Name}" section, each carrying its system
// prompt body and, if present, an "### Examples" subsection. enabledNames
// == nil means every loaded module is included.
func (l *Loader) BuildUnifiedSystemPrompt(basePrompt string, enabledNames []string) string {
	l.ensureLoaded()

	var enabledSet map[string]bool
	if enabledNames != nil {
		enabledSet = make(map[string]bool, len(enabledNames))
		for _, n := range enabledNames {
			enabledSet[n] = true
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var b strings.Builder
	b.WriteString(strings.TrimSpace(basePrompt))

	for _, name := range sortedNames(l.loaded) {
		if enabledSet != nil && !enabledSet[name] {
			continue
		}
		def := l.loaded[name]

		b.WriteString("\n\n## ")
		b.WriteString(titleCase(strings.ReplaceAll(name, "-", " ")))
		b.WriteString("\n")

		if def.SystemPrompt != "" {
			b.WriteString(def.SystemPrompt)
			b.WriteString("\n")
		}
		if def.Examples != "" {
			b.WriteString("\n### Examples\n")
			b.WriteString(def.Examples)
			b.WriteString("\n")
		}
	}

	return b.String()
}

func sortedNames(m map[string]*Definition) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

var headerRe = regexp.MustCompile(`^#\s+(.+)$`)

func parseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	sections := splitSections(content)

	name := strings.TrimSuffix(filepath.Base(path), ".md")
	for _, line := range strings.Split(content, "\n") {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m[1])), " ", "-")
			break
		}
	}

	category := strings.TrimSpace(sections["Category"])
	if category == "" {
		category = "analysis"
	}

	return &Definition{
		Name:         name,
		Description:  strings.TrimSpace(sections["Description"]),
		Category:     category,
		Parameters:   parseParameters(sections["Parameters"]),
		SystemPrompt: strings.TrimSpace(sections["System Prompt"]),
		OutputFormat: strings.TrimSpace(sections["Output Format"]),
		Examples:     strings.TrimSpace(sections["Examples"]),
	}, nil
}

// splitSections breaks a markdown document into "## Section" blocks. This
// mirrors internal/resolve/artifacts' own small section-splitter in shape,
// but is kept as an independent, package-private implementation rather
// than a cross-package import: each package that needs this owns its own
// copy, matching how the two sides of the original source never shared
// this helper either.
func splitSections(content string) map[string]string {
	sections := map[string]string{}
	var current string
	var body []string

	flush := func() {
		if current != "" {
			sections[current] = strings.Join(body, "\n")
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			body = nil
			continue
		}
		body = append(body, line)
	}
	flush()

	return sections
}

var paramRe = regexp.MustCompile(`^-\s+(\w+):\s*(.+?)(?:\s*\(.*\))?$`)

func parseParameters(content string) map[string]any {
	params := map[string]any{}
	for _, line := range strings.Split(content, "\n") {
		m := paramRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		params[m[1]] = parseValue(strings.TrimSpace(m[2]))
	}
	return params
}

func parseValue(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
