package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/harrison/kaizen/internal/config"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/orchestrator"
	"github.com/harrison/kaizen/internal/parser"
)

// setupHome points KAIZEN_HOME at a temp dir and optionally writes config.yaml.
func setupHome(t *testing.T, configYAML string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(home, config.ConfigFile), []byte(configYAML), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return home
}

func writeTaskFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write task file: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

const twoTasks = `# Greetings

## Task a: Say hello
**Priority**: high

echo hello

## Task b: Say goodbye
**Depends on**: a

echo goodbye
`

func TestRootCommand(t *testing.T) {
	output, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help returned error: %v", err)
	}
	for _, want := range []string{"kaizen", "run", "validate", "plan", "cycle", "history", "--config"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q:\n%s", want, output)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	output, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("--version returned error: %v", err)
	}
	if !strings.Contains(output, Version) {
		t.Errorf("version output %q does not contain %q", output, Version)
	}
}

func TestRunCommandExecutesTaskFile(t *testing.T) {
	home := setupHome(t, "")
	path := writeTaskFile(t, "greetings.md", twoTasks)

	output, err := execute(t, "run", path)
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, output)
	}
	if got := strings.Count(output, "completed on shell"); got != 2 {
		t.Errorf("expected 2 completed tasks, got %d:\n%s", got, output)
	}
	if !strings.Contains(output, "=== Queue Summary ===") {
		t.Errorf("missing queue summary:\n%s", output)
	}

	for _, name := range []string{"memory.db", filepath.Join("logs", "events.jsonl"), filepath.Join("logs", MetricsFile)} {
		if _, err := os.Stat(filepath.Join(home, name)); err != nil {
			t.Errorf("expected %s in kaizen home: %v", name, err)
		}
	}
	metrics, err := os.ReadFile(filepath.Join(home, "logs", MetricsFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(metrics), "kaizen_orchestrator_") {
		t.Errorf("metrics file has no orchestrator metrics:\n%s", metrics)
	}

	history, err := execute(t, "history", "--type", "task_execution", "echo hello")
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if !strings.Contains(history, "task_execution/general: echo hello completed shell") {
		t.Errorf("history output missing the run:\n%s", history)
	}
}

func TestRunCommandReportsFailures(t *testing.T) {
	setupHome(t, "recovery:\n  enabled: false\n")
	path := writeTaskFile(t, "fail.md", "## Task a: Fail\nexit 3\n\n## Task b: Never\n**Depends on**: a\necho never\n")

	output, err := execute(t, "run", path)
	if err == nil || !strings.Contains(err.Error(), "2 of 2 task(s) failed") {
		t.Fatalf("expected failure summary, got %v\n%s", err, output)
	}
	if strings.Contains(output, "completed on shell") {
		t.Errorf("no task should complete:\n%s", output)
	}
}

func TestRunCommandDryRun(t *testing.T) {
	home := setupHome(t, "")
	path := writeTaskFile(t, "greetings.md", twoTasks)

	output, err := execute(t, "run", "--dry-run", path)
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}
	for _, want := range []string{"Greetings: 2 task(s)", "a [high] Say hello", "b [medium] Say goodbye (after a)"} {
		if !strings.Contains(output, want) {
			t.Errorf("dry run output missing %q:\n%s", want, output)
		}
	}
	if _, err := os.Stat(filepath.Join(home, "memory.db")); !os.IsNotExist(err) {
		t.Errorf("dry run must not open the memory store: %v", err)
	}
}

func TestRunCommandInvalidTaskFile(t *testing.T) {
	setupHome(t, "")
	path := writeTaskFile(t, "bad.md", "## Task a: A\n**Depends on**: b\n")

	if _, err := execute(t, "run", path); err == nil || !strings.Contains(err.Error(), "failed to load task file") {
		t.Errorf("expected load error, got %v", err)
	}
}

type fakeQueue struct {
	calls []fakeCall
}

type fakeCall struct {
	taskType    string
	description string
	priority    models.Priority
	metadata    map[string]interface{}
}

func (q *fakeQueue) AddTask(_ context.Context, taskType, description string, priority models.Priority, metadata map[string]interface{}) (string, error) {
	q.calls = append(q.calls, fakeCall{taskType, description, priority, metadata})
	return "id-" + metadata[MetadataTaskKey].(string), nil
}

func TestQueueTasksMapsKeysToIDs(t *testing.T) {
	tf := &parser.TaskFile{
		FilePath: "/plans/release.md",
		Tasks: []parser.TaskSpec{
			{Key: "build", Title: "Build", Type: "go", Priority: models.PriorityHigh, Description: "go build ./..."},
			{Key: "ship", Title: "Ship", Priority: models.PriorityLow, DependsOn: []string{"build"}},
		},
	}
	q := &fakeQueue{}

	ids, err := queueTasks(context.Background(), q, tf)
	if err != nil {
		t.Fatalf("queueTasks() error = %v", err)
	}
	if ids["build"] != "id-build" || ids["ship"] != "id-ship" {
		t.Errorf("ids = %v", ids)
	}
	if len(q.calls) != 2 {
		t.Fatalf("expected 2 AddTask calls, got %d", len(q.calls))
	}

	build, ship := q.calls[0], q.calls[1]
	if build.taskType != "go" || build.description != "go build ./..." || build.priority != models.PriorityHigh {
		t.Errorf("build call = %+v", build)
	}
	if build.metadata[MetadataTaskFile] != "/plans/release.md" {
		t.Errorf("build metadata = %v", build.metadata)
	}
	if _, ok := build.metadata[orchestrator.MetadataDependencies]; ok {
		t.Error("task without dependencies must not carry the dependency key")
	}
	if ship.taskType != DefaultTaskType || ship.description != "Ship" {
		t.Errorf("ship call = %+v", ship)
	}
	if deps := ship.metadata[orchestrator.MetadataDependencies]; !reflect.DeepEqual(deps, []string{"id-build"}) {
		t.Errorf("ship dependencies = %v", deps)
	}
}

func TestQueueTasksUnknownKey(t *testing.T) {
	tf := &parser.TaskFile{Tasks: []parser.TaskSpec{{Key: "a", Title: "A", DependsOn: []string{"zzz"}}}}
	if _, err := queueTasks(context.Background(), &fakeQueue{}, tf); err == nil {
		t.Error("expected error for unknown dependency key")
	}
}

func TestValidateCommand(t *testing.T) {
	setupHome(t, "")
	good := writeTaskFile(t, "good.yaml", "plan:\n  name: good\n  tasks:\n    - key: 1\n      title: One\n    - key: 2\n      title: Two\n      depends_on: 1\n")
	bad := writeTaskFile(t, "bad.md", "## Task a: A\n## Task a: Again\n")

	output, err := execute(t, "validate", good)
	if err != nil {
		t.Fatalf("validate returned error: %v\n%s", err, output)
	}
	for _, want := range []string{"✓ Configuration valid", "✓ good: 2 task(s)", "2 task(s) valid!"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}

	output, err = execute(t, "validate", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 error(s)") {
		t.Errorf("expected one validation error, got %v", err)
	}
	if !strings.Contains(output, "duplicate task key") {
		t.Errorf("output should name the duplicate key:\n%s", output)
	}
}

func TestValidateCommandInvalidConfig(t *testing.T) {
	setupHome(t, "log_level: loud\n")
	good := writeTaskFile(t, "good.md", "## Task a: A\n")

	output, err := execute(t, "validate", good)
	if err == nil {
		t.Fatal("expected error for invalid configuration")
	}
	if !strings.Contains(output, "✗ Configuration") {
		t.Errorf("output should report the configuration:\n%s", output)
	}
}

func TestConfigFlagOverridesHome(t *testing.T) {
	setupHome(t, "log_level: loud\n")
	custom := writeTaskFile(t, "custom.yaml", "log_level: debug\n")
	good := writeTaskFile(t, "good.md", "## Task a: A\n")

	if output, err := execute(t, "validate", "--config", custom, good); err != nil {
		t.Errorf("validate with --config returned error: %v\n%s", err, output)
	}
	if _, err := execute(t, "validate", "--config", custom, "--log-level", "loud", good); err == nil {
		t.Error("--log-level should override the config file")
	}
}

func TestPlanCommand(t *testing.T) {
	setupHome(t, "")

	output, err := execute(t, "plan", "Set up the database, then build the API and write tests")
	if err != nil {
		t.Fatalf("plan returned error: %v\n%s", err, output)
	}
	for _, want := range []string{"Plan ", "confidence", "  1. ", "Risk: overall"} {
		if !strings.Contains(output, want) {
			t.Errorf("plan output missing %q:\n%s", want, output)
		}
	}
}

func TestPlanCommandJSON(t *testing.T) {
	setupHome(t, "")

	output, err := execute(t, "plan", "--json", "Refactor the parser")
	if err != nil {
		t.Fatalf("plan --json returned error: %v", err)
	}
	var result struct {
		Primary *models.Plan `json:"primary"`
	}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if result.Primary == nil || len(result.Primary.Steps) == 0 {
		t.Errorf("primary plan missing: %s", output)
	}
}

func TestPlanCommandRejectsRiskTolerance(t *testing.T) {
	setupHome(t, "")
	if _, err := execute(t, "plan", "--risk-tolerance", "2", "Refactor the parser"); err == nil {
		t.Error("expected error for risk tolerance above 1")
	}
}

func TestCycleCommandCreate(t *testing.T) {
	setupHome(t, "")

	output, err := execute(t, "cycle", "--title", "Harden CI", "--objective", "improve test coverage")
	if err != nil {
		t.Fatalf("cycle returned error: %v\n%s", err, output)
	}
	for _, want := range []string{`"Harden CI" created with metrics`, "completion_rate: target 100 percent, critical", "test_coverage: target 80 percent"} {
		if !strings.Contains(output, want) {
			t.Errorf("cycle output missing %q:\n%s", want, output)
		}
	}
}

func TestCycleCommandRequiresTitle(t *testing.T) {
	setupHome(t, "")
	if _, err := execute(t, "cycle", "--objective", "x"); err == nil {
		t.Error("expected error without --title")
	}
}

func TestCycleCommandRun(t *testing.T) {
	setupHome(t, "recovery:\n  enabled: false\n")

	output, err := execute(t, "cycle", "--title", "Tidy", "--objective", "echo tidy", "--run")
	if err != nil {
		t.Fatalf("cycle --run returned error: %v\n%s", err, output)
	}
	for _, want := range []string{`"Tidy": completed`, "Steps: ", "Score: "} {
		if !strings.Contains(output, want) {
			t.Errorf("cycle output missing %q:\n%s", want, output)
		}
	}

	history, err := execute(t, "history", "--type", "pdca_cycle")
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if !strings.Contains(history, "pdca_cycle/pdca: Tidy") {
		t.Errorf("cycle was not recorded:\n%s", history)
	}
}

func TestHistoryCommandEmpty(t *testing.T) {
	setupHome(t, "")

	output, err := execute(t, "history", "nothing")
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if !strings.Contains(output, "No matching records") {
		t.Errorf("output = %q", output)
	}
}
