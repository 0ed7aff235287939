// Package gitdiff computes the uncommitted working-tree changes of a
// workspace directory for the diff endpoint.
package gitdiff

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// FileStat summarizes the change to one file.
type FileStat struct {
	Path    string `json:"path"`
	Status  string `json:"status"` // "modified", "added", "deleted", "renamed"
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// Stats is the diff of a directory's working tree against HEAD. Clean is true
// when the directory is outside a repository or the repository has no commits
// yet; in that case every other field is zero.
type Stats struct {
	Clean   bool       `json:"clean"`
	Added   int        `json:"added"`
	Removed int        `json:"removed"`
	Files   []FileStat `json:"files"`
	Content string     `json:"content,omitempty"`
}

// ForDirectory diffs dir's working tree (staged and unstaged, including
// untracked files) against HEAD.
func ForDirectory(dir string) (*Stats, error) {
	// go-git confirms this is a repository; the diff itself shells out
	// because go-git has no working-tree patch generation.
	_, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return &Stats{Clean: true}, nil
		}
		return nil, fmt.Errorf("opening repository at %s: %w", dir, err)
	}

	// A repository with no commits has no HEAD to diff against.
	if err := exec.Command("git", "-C", dir, "rev-parse", "--verify", "HEAD").Run(); err != nil {
		return &Stats{Clean: true}, nil
	}

	// -N stages untracked files (intent to add) so they show in the diff.
	if out, err := exec.Command("git", "-C", dir, "add", "-N", ".").CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git add -N: %w: %s", err, strings.TrimSpace(string(out)))
	}

	stats := &Stats{Files: []FileStat{}}

	numstat, err := exec.Command("git", "-C", dir, "--no-pager", "diff", "--numstat", "HEAD").Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat: %w", err)
	}
	statuses, err := nameStatuses(dir)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(numstat), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 3 {
			continue
		}
		// Binary files report "-" for both counts.
		added, _ := strconv.Atoi(fields[0])
		removed, _ := strconv.Atoi(fields[1])
		path := fields[2]
		stats.Files = append(stats.Files, FileStat{
			Path:    path,
			Status:  statuses[path],
			Added:   added,
			Removed: removed,
		})
		stats.Added += added
		stats.Removed += removed
	}

	content, err := exec.Command("git", "-C", dir, "--no-pager", "diff", "HEAD").Output()
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	stats.Content = string(content)
	stats.Clean = len(stats.Files) == 0 && stats.Content == ""

	return stats, nil
}

// nameStatuses maps changed paths to a human-readable status word.
func nameStatuses(dir string) (map[string]string, error) {
	out, err := exec.Command("git", "-C", dir, "--no-pager", "diff", "--name-status", "HEAD").Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --name-status: %w", err)
	}
	statuses := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		// Renames and copies list old and new paths; key on the new one.
		path := fields[len(fields)-1]
		switch fields[0][0] {
		case 'A':
			statuses[path] = "added"
		case 'D':
			statuses[path] = "deleted"
		case 'R':
			statuses[path] = "renamed"
		case 'C':
			statuses[path] = "copied"
		default:
			statuses[path] = "modified"
		}
	}
	return statuses, nil
}
