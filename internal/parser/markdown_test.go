package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/harrison/kaizen/internal/models"
)

func TestParseMarkdownTasks(t *testing.T) {
	content := "# Release 1.4\n" +
		"\n" +
		"Intro text that belongs to no task.\n" +
		"\n" +
		"## Task lint: Lint the tree\n" +
		"**Priority**: High\n" +
		"**Type**: check\n" +
		"\n" +
		"Run the linters over every package.\n" +
		"\n" +
		"## Task build: Build the **service**\n" +
		"- **Depends on**: Task lint\n" +
		"\n" +
		"```sh\n" +
		"## Task fake: not a task\n" +
		"**Priority**: low\n" +
		"go build ./...\n" +
		"```\n" +
		"\n" +
		"### Notes\n" +
		"Keep the binary small.\n" +
		"\n" +
		"## Appendix\n" +
		"Not part of any task.\n" +
		"\n" +
		"## Task ship: Ship it\n" +
		"**Depends on**: lint, `build`\n"

	tf, err := NewMarkdownParser().Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if tf.Name != "Release 1.4" {
		t.Errorf("Name = %q, want %q", tf.Name, "Release 1.4")
	}
	if len(tf.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d: %+v", len(tf.Tasks), tf.Tasks)
	}

	lint := tf.Tasks[0]
	if lint.Key != "lint" || lint.Title != "Lint the tree" {
		t.Errorf("lint task = %+v", lint)
	}
	if lint.Priority != models.PriorityHigh || lint.Type != "check" {
		t.Errorf("lint metadata = %s/%s", lint.Priority, lint.Type)
	}
	if lint.Description != "Run the linters over every package." {
		t.Errorf("lint description = %q", lint.Description)
	}

	build := tf.Tasks[1]
	if build.Title != "Build the service" {
		t.Errorf("build title = %q", build.Title)
	}
	if build.Priority != models.PriorityMedium {
		t.Errorf("build priority = %s, want medium (code block metadata must be ignored)", build.Priority)
	}
	if !reflect.DeepEqual(build.DependsOn, []string{"lint"}) {
		t.Errorf("build deps = %v", build.DependsOn)
	}
	for _, want := range []string{"## Task fake: not a task", "go build ./...", "### Notes", "Keep the binary small."} {
		if !strings.Contains(build.Description, want) {
			t.Errorf("build description missing %q:\n%s", want, build.Description)
		}
	}
	if strings.Contains(build.Description, "Not part of any task") {
		t.Error("a level 2 heading must end the task")
	}

	ship := tf.Tasks[2]
	if !reflect.DeepEqual(ship.DependsOn, []string{"lint", "build"}) {
		t.Errorf("ship deps = %v", ship.DependsOn)
	}
	if ship.Description != "" || ship.Text() != "Ship it" {
		t.Errorf("ship without body should execute its title, got %q", ship.Text())
	}
}

func TestParseMarkdownFrontmatter(t *testing.T) {
	content := `---
name: nightly
default_priority: low
default_type: maintenance
---
# Ignored title

## Task 1: Vacuum the database
## Task 2: Rotate logs
**Priority**: critical
**Depends on**: None
`
	tf, err := NewMarkdownParser().Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if tf.Name != "nightly" {
		t.Errorf("Name = %q, want frontmatter name", tf.Name)
	}
	if len(tf.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tf.Tasks))
	}
	if tf.Tasks[0].Priority != models.PriorityLow || tf.Tasks[0].Type != "maintenance" {
		t.Errorf("defaults not applied: %+v", tf.Tasks[0])
	}
	if tf.Tasks[1].Priority != models.PriorityCritical || tf.Tasks[1].DependsOn != nil {
		t.Errorf("task 2 = %+v", tf.Tasks[1])
	}
}

func TestParseMarkdownInvalidPriority(t *testing.T) {
	_, err := NewMarkdownParser().Parse(strings.NewReader("## Task a: A\n**Priority**: urgent\n"))
	if err == nil || !strings.Contains(err.Error(), "task a") {
		t.Errorf("expected priority error naming the task, got %v", err)
	}
}

func TestParseMarkdownBadFrontmatter(t *testing.T) {
	_, err := NewMarkdownParser().Parse(strings.NewReader("---\nname: [unclosed\n---\n## Task a: A\n"))
	if err == nil || !strings.Contains(err.Error(), "frontmatter") {
		t.Errorf("expected frontmatter error, got %v", err)
	}
}

func TestParseDependencies(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"none", nil},
		{"NONE", nil},
		{"1, 2", []string{"1", "2"}},
		{"Task 1, task build", []string{"1", "build"}},
		{"`lint`,, deploy ", []string{"lint", "deploy"}},
	}
	for _, tt := range tests {
		if got := parseDependencies(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseDependencies(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMarkdownForwardDependencyFailsValidation(t *testing.T) {
	tf, err := NewMarkdownParser().Parse(strings.NewReader("## Task a: A\n**Depends on**: b\n## Task b: B\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := tf.Validate(); !errors.Is(err, ErrForwardDependency) {
		t.Errorf("Validate() = %v, want ErrForwardDependency", err)
	}
}
