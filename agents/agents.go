// Package agents indexes agent transcripts under the host's state directory
// so recent sessions can be listed and resumed from the remote UI.
package agents

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cmux-remote/log"

	"github.com/fsnotify/fsnotify"
)

// maxScanLines bounds how much of each transcript is read for a summary.
const maxScanLines = 50

// maxAge filters out transcripts that have not been touched recently.
const maxAge = 14 * 24 * time.Hour

// Summary describes one transcript file.
type Summary struct {
	ID          string `json:"id"`
	ProjectPath string `json:"projectPath"`
	Summary     string `json:"summary"`
	Modified    string `json:"modified"` // ISO-8601
}

// Index caches transcript summaries for the state directory. A filesystem
// watcher marks the cache dirty on changes so handlers rescan only when
// something moved.
type Index struct {
	dir string

	mu      sync.Mutex
	cache   []Summary
	scanned bool
	dirty   bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewIndex returns an index over dir. Call Start to enable watching; without
// it every Sessions call rescans.
func NewIndex(dir string) *Index {
	return &Index{dir: dir, done: make(chan struct{})}
}

// Start begins watching the state directory for changes. A missing directory
// is not an error; the index just reports no sessions.
func (i *Index) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	i.watcher = watcher

	if err := watcher.Add(i.dir); err != nil {
		log.FileOnlyInfoLog.Printf("agents: not watching %s: %v", i.dir, err)
	}

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				i.mu.Lock()
				i.dirty = true
				i.mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.FileOnlyWarningLog.Printf("agents: watcher error: %v", err)
			case <-i.done:
				return
			}
		}
	}()
	return nil
}

// Stop ends the watcher goroutine.
func (i *Index) Stop() {
	close(i.done)
	if i.watcher != nil {
		i.watcher.Close()
	}
}

// Sessions returns up to limit summaries, newest first, rescanning when the
// cache is stale.
func (i *Index) Sessions(limit int) ([]Summary, error) {
	i.mu.Lock()
	fresh := i.scanned && !i.dirty && i.watcher != nil
	cached := i.cache
	i.mu.Unlock()

	if !fresh {
		scanned, err := scanDir(i.dir)
		if err != nil {
			return nil, err
		}
		i.mu.Lock()
		i.cache = scanned
		i.scanned = true
		i.dirty = false
		cached = scanned
		i.mu.Unlock()
	}

	if limit > 0 && len(cached) > limit {
		cached = cached[:limit]
	}
	return cached, nil
}

// Find returns the summary with the given id, or nil.
func (i *Index) Find(id string) *Summary {
	sessions, err := i.Sessions(0)
	if err != nil {
		return nil
	}
	for idx := range sessions {
		if sessions[idx].ID == id {
			return &sessions[idx]
		}
	}
	return nil
}

// scanDir walks the state directory for *.jsonl transcripts.
func scanDir(dir string) ([]Summary, error) {
	var summaries []Summary
	cutoff := time.Now().Add(-maxAge)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A missing state directory, racing delete or unreadable
			// subdirectory is not fatal.
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		if s := summarize(path, info.ModTime()); s != nil {
			summaries = append(summaries, *s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(a, b int) bool {
		return summaries[a].Modified > summaries[b].Modified
	})
	return summaries, nil
}

// transcriptLine is the subset of a transcript record the scanner reads.
type transcriptLine struct {
	Type    string `json:"type"`
	Cwd     string `json:"cwd"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// summarize reads the head of one transcript for its session id, project path
// and first user message.
func summarize(path string, modified time.Time) *Summary {
	f, err := os.Open(path)
	if err != nil {
		log.FileOnlyWarningLog.Printf("agents: opening %s: %v", path, err)
		return nil
	}
	defer f.Close()

	s := Summary{
		ID:       strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		Modified: modified.UTC().Format(time.RFC3339),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 0; scanner.Scan() && n < maxScanLines; n++ {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Cwd != "" && s.ProjectPath == "" {
			s.ProjectPath = line.Cwd
		}
		if s.Summary == "" && line.Type == "user" && line.Message.Role == "user" {
			s.Summary = firstText(line.Message.Content)
		}
		if s.ProjectPath != "" && s.Summary != "" {
			break
		}
	}

	if s.ProjectPath == "" {
		return nil
	}
	return &s
}

// firstText extracts a usable one-liner from a message content field, which
// is either a plain string or an array of typed blocks.
func firstText(content json.RawMessage) string {
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return oneLine(text)
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				return oneLine(b.Text)
			}
		}
	}
	return ""
}

const summaryMaxLen = 120

func oneLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > summaryMaxLen {
		text = text[:summaryMaxLen]
	}
	return text
}
