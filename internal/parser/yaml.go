package parser

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harrison/kaizen/internal/models"
)

// YAMLParser reads task files of the form:
//
//	plan:
//	  name: release
//	  default_priority: medium
//	  tasks:
//	    - key: lint
//	      title: Lint the tree
//	      priority: high
//	    - key: build
//	      title: Build
//	      depends_on: [lint]
//	      description: go build ./...
//
// Keys and dependencies may be written as numbers.
type YAMLParser struct{}

type yamlTaskFile struct {
	Plan struct {
		Name            string     `yaml:"name"`
		DefaultPriority string     `yaml:"default_priority"`
		DefaultType     string     `yaml:"default_type"`
		Tasks           []yamlTask `yaml:"tasks"`
	} `yaml:"plan"`
}

type yamlTask struct {
	Key         interface{} `yaml:"key"`
	Title       string      `yaml:"title"`
	Type        string      `yaml:"type"`
	Priority    string      `yaml:"priority"`
	DependsOn   interface{} `yaml:"depends_on"`
	Description string      `yaml:"description"`
}

func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

func (p *YAMLParser) Parse(r io.Reader) (*TaskFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var raw yamlTaskFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	tf := &TaskFile{Name: raw.Plan.Name}
	for i, t := range raw.Plan.Tasks {
		key, err := convertKey(t.Key)
		if err != nil {
			return nil, fmt.Errorf("task %d: key: %w", i+1, err)
		}
		deps, err := convertDependencies(t.DependsOn)
		if err != nil {
			return nil, fmt.Errorf("task %s: depends_on: %w", key, err)
		}

		priority := t.Priority
		if priority == "" {
			priority = raw.Plan.DefaultPriority
		}
		prio, err := models.ParsePriority(strings.ToLower(strings.TrimSpace(priority)))
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", key, err)
		}
		taskType := t.Type
		if taskType == "" {
			taskType = raw.Plan.DefaultType
		}

		tf.Tasks = append(tf.Tasks, TaskSpec{
			Key:         key,
			Title:       strings.TrimSpace(t.Title),
			Type:        taskType,
			Priority:    prio,
			DependsOn:   deps,
			Description: strings.TrimSpace(t.Description),
		})
	}
	return tf, nil
}

// convertKey converts a task key from interface{} to string
func convertKey(val interface{}) (string, error) {
	switch v := val.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case float64:
		if v == float64(int(v)) {
			return fmt.Sprintf("%d", int(v)), nil
		}
		return fmt.Sprintf("%g", v), nil
	default:
		return "", fmt.Errorf("unsupported type: %T", val)
	}
}

// convertDependencies accepts a single key, a comma separated string or a list.
func convertDependencies(val interface{}) ([]string, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case string:
		return parseDependencies(v), nil
	case []interface{}:
		deps := make([]string, 0, len(v))
		for _, item := range v {
			key, err := convertKey(item)
			if err != nil {
				return nil, err
			}
			if key != "" {
				deps = append(deps, key)
			}
		}
		return deps, nil
	default:
		key, err := convertKey(v)
		if err != nil {
			return nil, err
		}
		return []string{key}, nil
	}
}
