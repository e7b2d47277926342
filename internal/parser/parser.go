// Package parser reads task files in Markdown or YAML into task specs the
// orchestrator can queue.
package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/harrison/kaizen/internal/models"
)

// Format represents the format of a task file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) task file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) task file
	FormatYAML
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

var (
	ErrDuplicateKey      = errors.New("duplicate task key")
	ErrForwardDependency = errors.New("dependency is not defined before the task")
	ErrMissingKey        = errors.New("task key is required")
	ErrMissingTitle      = errors.New("task title is required")
)

// TaskSpec is one task as written in a task file. DependsOn holds keys of
// tasks defined earlier in the same file.
type TaskSpec struct {
	Key         string          `yaml:"key" json:"key"`
	Title       string          `yaml:"title" json:"title"`
	Type        string          `yaml:"type" json:"type"`
	Priority    models.Priority `yaml:"priority" json:"priority"`
	DependsOn   []string        `yaml:"depends_on" json:"depends_on,omitempty"`
	Description string          `yaml:"description" json:"description"`
}

// TaskFile is a parsed task file.
type TaskFile struct {
	Name     string
	Tasks    []TaskSpec
	FilePath string
}

// Parser is the interface that all task file parsers must implement
type Parser interface {
	// Parse reads from an io.Reader and returns a parsed TaskFile
	Parse(r io.Reader) (*TaskFile, error)
}

// DetectFormat automatically detects the format based on file extension
// Supported extensions:
//   - .md, .markdown -> FormatMarkdown
//   - .yaml, .yml -> FormatYAML
//   - all others -> FormatUnknown
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// NewParser creates a new parser instance for the specified format
// Returns an error if the format is unknown or unsupported
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile is a convenience function that:
//  1. Detects if input is a directory (split task files) or file
//  2. For directories, calls ParseDirectory to merge numbered files
//  3. For files, auto-detects format, opens it, and parses
//  4. Validates the result and stores the absolute path in FilePath
func ParseFile(path string) (*TaskFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}

	var tf *TaskFile
	if info.IsDir() {
		tf, err = ParseDirectory(path)
	} else {
		tf, err = parseFile(path)
	}
	if err != nil {
		return nil, err
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	tf.FilePath = absPath
	return tf, nil
}

// ParseDirectory loads all numbered task files (1-setup.md, 2-build.yaml, ...)
// from a directory in numeric order and merges them into one file.
func ParseDirectory(dirname string) (*TaskFile, error) {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	type numberedFile struct {
		index int
		path  string
		name  string
	}

	var files []numberedFile
	pattern := regexp.MustCompile(`^(\d+)-`)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil || DetectFormat(entry.Name()) == FormatUnknown {
			continue
		}
		var index int
		fmt.Sscanf(match[1], "%d", &index)
		files = append(files, numberedFile{index, filepath.Join(dirname, entry.Name()), entry.Name()})
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].index < files[j].index })

	var parts []*TaskFile
	for _, f := range files {
		tf, err := parseFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
		parts = append(parts, tf)
	}

	merged := MergeTaskFiles(parts...)
	if merged.Name == "" {
		merged.Name = filepath.Base(dirname)
	}
	return merged, nil
}

// parseFile parses a single file without validating it
func parseFile(path string) (*TaskFile, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}

	parser, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	tf, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	if tf.Name == "" {
		tf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tf, nil
}

// MergeTaskFiles concatenates the tasks of several files in order. The name of
// the first named file wins. Duplicate keys are left for Validate to report.
func MergeTaskFiles(files ...*TaskFile) *TaskFile {
	merged := &TaskFile{}
	for _, f := range files {
		if f == nil {
			continue
		}
		if merged.Name == "" {
			merged.Name = f.Name
		}
		merged.Tasks = append(merged.Tasks, f.Tasks...)
	}
	return merged
}

// Validate checks keys, titles and priorities, and that every dependency names
// a task defined earlier in the file. Missing priorities become medium.
func (tf *TaskFile) Validate() error {
	seen := make(map[string]bool, len(tf.Tasks))
	for i := range tf.Tasks {
		t := &tf.Tasks[i]
		if t.Key == "" {
			return fmt.Errorf("task %d: %w", i+1, ErrMissingKey)
		}
		if seen[t.Key] {
			return fmt.Errorf("task %s: %w", t.Key, ErrDuplicateKey)
		}
		if t.Title == "" {
			return fmt.Errorf("task %s: %w", t.Key, ErrMissingTitle)
		}
		if t.Priority == "" {
			t.Priority = models.PriorityMedium
		}
		if !t.Priority.IsValid() {
			return fmt.Errorf("task %s: invalid priority %q", t.Key, t.Priority)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on %s: %w", t.Key, dep, ErrForwardDependency)
			}
		}
		seen[t.Key] = true
	}
	return nil
}

// Text is what gets executed for the task: the description, or the title when
// the task has no body.
func (t TaskSpec) Text() string {
	if t.Description != "" {
		return t.Description
	}
	return t.Title
}
