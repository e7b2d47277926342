package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrison/kaizen/internal/models"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
	}{
		{"plan.md", FormatMarkdown},
		{"plan.MARKDOWN", FormatMarkdown},
		{"plan.yaml", FormatYAML},
		{"dir/plan.yml", FormatYAML},
		{"plan.txt", FormatUnknown},
		{"plan", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.filename); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestNewParser(t *testing.T) {
	if p, err := NewParser(FormatMarkdown); err != nil {
		t.Errorf("markdown: %v", err)
	} else if _, ok := p.(*MarkdownParser); !ok {
		t.Errorf("markdown: got %T", p)
	}
	if p, err := NewParser(FormatYAML); err != nil {
		t.Errorf("yaml: %v", err)
	} else if _, ok := p.(*YAMLParser); !ok {
		t.Errorf("yaml: got %T", p)
	}
	if _, err := NewParser(FormatUnknown); err == nil {
		t.Error("expected error for unknown format")
	}
	if FormatUnknown.String() != "unknown" || FormatYAML.String() != "yaml" {
		t.Error("unexpected Format.String()")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []TaskSpec
		wantErr error
		wantMsg string
	}{
		{
			name:  "valid",
			tasks: []TaskSpec{{Key: "a", Title: "A"}, {Key: "b", Title: "B", DependsOn: []string{"a"}}},
		},
		{
			name:    "missing key",
			tasks:   []TaskSpec{{Title: "A"}},
			wantErr: ErrMissingKey,
		},
		{
			name:    "missing title",
			tasks:   []TaskSpec{{Key: "a"}},
			wantErr: ErrMissingTitle,
		},
		{
			name:    "duplicate key",
			tasks:   []TaskSpec{{Key: "a", Title: "A"}, {Key: "a", Title: "again"}},
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "unknown dependency",
			tasks:   []TaskSpec{{Key: "a", Title: "A", DependsOn: []string{"zzz"}}},
			wantErr: ErrForwardDependency,
		},
		{
			name:    "self dependency",
			tasks:   []TaskSpec{{Key: "a", Title: "A", DependsOn: []string{"a"}}},
			wantErr: ErrForwardDependency,
		},
		{
			name:    "invalid priority",
			tasks:   []TaskSpec{{Key: "a", Title: "A", Priority: "urgent"}},
			wantMsg: "invalid priority",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tf := &TaskFile{Tasks: tt.tasks}
			err := tf.Validate()
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
				}
			case tt.wantMsg != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("Validate() = %v, want %q", err, tt.wantMsg)
				}
			default:
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				for _, task := range tf.Tasks {
					if task.Priority != models.PriorityMedium {
						t.Errorf("task %s priority = %q, want medium", task.Key, task.Priority)
					}
				}
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseFileSingle(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deploy.md", "## Task a: Build\n## Task b: Ship\n**Depends on**: a\n")

	tf, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if tf.Name != "deploy" {
		t.Errorf("Name = %q, want file base name", tf.Name)
	}
	if !filepath.IsAbs(tf.FilePath) {
		t.Errorf("FilePath %q is not absolute", tf.FilePath)
	}
	if len(tf.Tasks) != 2 || tf.Tasks[1].DependsOn[0] != "a" {
		t.Errorf("tasks = %+v", tf.Tasks)
	}
}

func TestParseFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ParseFile(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}

	txt := writeFile(t, dir, "notes.txt", "## Task a: A\n")
	if _, err := ParseFile(txt); err == nil || !strings.Contains(err.Error(), "unknown file format") {
		t.Errorf("expected unknown format error, got %v", err)
	}

	fwd := writeFile(t, dir, "fwd.yaml", "plan:\n  tasks:\n    - key: a\n      title: A\n      depends_on: b\n    - key: b\n      title: B\n")
	if _, err := ParseFile(fwd); !errors.Is(err, ErrForwardDependency) {
		t.Errorf("expected ErrForwardDependency, got %v", err)
	}
}

func TestParseDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "release")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "10-ship.md", "## Task ship: Ship\n**Depends on**: build, test\n")
	writeFile(t, dir, "2-test.yaml", "plan:\n  tasks:\n    - key: test\n      title: Test\n      depends_on: build\n")
	writeFile(t, dir, "1-build.md", "## Task build: Build\n")
	writeFile(t, dir, "README.md", "## Task ignored: Not numbered\n")
	writeFile(t, dir, "3-notes.txt", "ignored")

	tf, err := ParseFile(dir)
	if err != nil {
		t.Fatalf("ParseFile(dir) error = %v", err)
	}

	var keys []string
	for _, task := range tf.Tasks {
		keys = append(keys, task.Key)
	}
	if strings.Join(keys, ",") != "build,test,ship" {
		t.Errorf("keys = %v, want numeric file order", keys)
	}
	if tf.Name != "1-build" {
		t.Errorf("Name = %q, want first file name", tf.Name)
	}
}

func TestParseDirectoryDuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1-a.md", "## Task a: A\n")
	writeFile(t, dir, "2-b.md", "## Task a: Again\n")

	if _, err := ParseFile(dir); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestMergeTaskFiles(t *testing.T) {
	merged := MergeTaskFiles(
		nil,
		&TaskFile{Tasks: []TaskSpec{{Key: "a"}}},
		&TaskFile{Name: "second", Tasks: []TaskSpec{{Key: "b"}}},
		&TaskFile{Name: "third"},
	)
	if merged.Name != "second" {
		t.Errorf("Name = %q, want first non-empty name", merged.Name)
	}
	if len(merged.Tasks) != 2 || merged.Tasks[0].Key != "a" || merged.Tasks[1].Key != "b" {
		t.Errorf("Tasks = %+v", merged.Tasks)
	}
}

func TestTaskSpecText(t *testing.T) {
	if got := (TaskSpec{Title: "T", Description: "D"}).Text(); got != "D" {
		t.Errorf("Text() = %q, want description", got)
	}
	if got := (TaskSpec{Title: "T"}).Text(); got != "T" {
		t.Errorf("Text() = %q, want title", got)
	}
}
