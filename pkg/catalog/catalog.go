// Package catalog implements the Task Catalog (C2): on-disk task discovery,
// the filter-expression language (spec §4.2.2), description templating
// (§4.2.3), and meta.json passthrough (§4.2.4).
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// requiredFiles are the three files that make a task directory well-formed
// (spec §4.2.1).
const (
	descriptionFile = "description.md"
	metaFile        = "meta.json"
	verifierGlob    = "verify.*"
)

// Task identifies one catalog entry by its stable (service, category, name)
// path (spec §3 "Task").
type Task struct {
	Service     string
	Category    string
	Name        string
	Dir         string // absolute directory on disk
	Description string // raw description.md content, pre-templating
	VerifierRel string // verifier file name relative to Dir
	Meta        Meta
}

// Path returns the task's catalog-relative "<service>/<category>/<name>" path.
func (t Task) Path() string {
	return filepath.Join(t.Service, t.Category, t.Name)
}

// VerifierPath returns the absolute path to the task's verifier program.
func (t Task) VerifierPath() string {
	return filepath.Join(t.Dir, t.VerifierRel)
}

// Meta is the task's meta.json. The core reads only category_id,
// category_name, tags, and timeout_seconds (spec §4.2.4); every other key is
// preserved in Extra and passed through untouched to the verifier
// environment.
type Meta struct {
	CategoryID     int            `json:"category_id"`
	CategoryName   string         `json:"category_name"`
	Tags           []string       `json:"tags"`
	TimeoutSeconds *int           `json:"timeout_seconds,omitempty"`
	Extra          map[string]any `json:"-"`
}

// UnmarshalJSON decodes the known fields and retains every other key in Extra.
func (m *Meta) UnmarshalJSON(data []byte) error {
	type known Meta
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range []string{"category_id", "category_name", "tags", "timeout_seconds"} {
		delete(raw, key)
	}

	*m = Meta(k)
	m.Extra = raw
	return nil
}

// Discover walks root, collecting every well-formed task directory
// (<service>/<category>/<name>/ with description.md, meta.json, and a
// verify.<ext> file). Ill-formed entries are skipped with a logged warning,
// not an error (spec §4.2.1).
func Discover(root string) ([]Task, error) {
	services, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading catalog root %q: %w", root, err)
	}

	var tasks []Task
	for _, svc := range services {
		if !svc.IsDir() {
			continue
		}
		svcDir := filepath.Join(root, svc.Name())
		categories, err := os.ReadDir(svcDir)
		if err != nil {
			slog.Warn("catalog: failed to read service directory, skipping", "service", svc.Name(), "error", err)
			continue
		}
		for _, cat := range categories {
			if !cat.IsDir() {
				continue
			}
			catDir := filepath.Join(svcDir, cat.Name())
			names, err := os.ReadDir(catDir)
			if err != nil {
				slog.Warn("catalog: failed to read category directory, skipping",
					"service", svc.Name(), "category", cat.Name(), "error", err)
				continue
			}
			for _, n := range names {
				if !n.IsDir() {
					continue
				}
				taskDir := filepath.Join(catDir, n.Name())
				task, err := loadTask(svc.Name(), cat.Name(), n.Name(), taskDir)
				if err != nil {
					slog.Warn("catalog: ill-formed task, skipping", "path", taskDir, "error", err)
					continue
				}
				tasks = append(tasks, task)
			}
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Path() < tasks[j].Path() })
	return tasks, nil
}

func loadTask(service, category, name, dir string) (Task, error) {
	descPath := filepath.Join(dir, descriptionFile)
	descBytes, err := os.ReadFile(descPath)
	if err != nil {
		return Task{}, fmt.Errorf("missing %s: %w", descriptionFile, err)
	}

	metaPath := filepath.Join(dir, metaFile)
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return Task{}, fmt.Errorf("missing %s: %w", metaFile, err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Task{}, fmt.Errorf("invalid %s: %w", metaFile, err)
	}

	verifierRel, err := findVerifier(dir)
	if err != nil {
		return Task{}, err
	}

	return Task{
		Service:     service,
		Category:    category,
		Name:        name,
		Dir:         dir,
		Description: string(descBytes),
		VerifierRel: verifierRel,
		Meta:        meta,
	}, nil
}

func findVerifier(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, verifierGlob))
	if err != nil {
		return "", fmt.Errorf("globbing verifier: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s file present", verifierGlob)
	}
	return filepath.Base(matches[0]), nil
}
