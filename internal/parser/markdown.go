package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/kaizen/internal/models"
)

var (
	taskHeadingRegex = regexp.MustCompile(`^Task\s+([\w.-]+):\s+(.+)$`)
	metadataRegex    = regexp.MustCompile(`^\s*(?:[-*]\s+)?\*\*(Priority|Type|Depends on)\*\*:\s*(.*)$`)
	taskPrefixRegex  = regexp.MustCompile(`^(?i:task)\s+(.+)$`)
)

// MarkdownParser reads task files where every task is a level 2 heading:
//
//	## Task build: Compile the service
//	**Priority**: high
//	**Type**: build
//	**Depends on**: lint, Task test
//
//	Free text below the metadata is the task description.
//
// Optional YAML frontmatter sets name, default_priority and default_type.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

type markdownFrontmatter struct {
	Name            string `yaml:"name"`
	DefaultPriority string `yaml:"default_priority"`
	DefaultType     string `yaml:"default_type"`
}

func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

func (p *MarkdownParser) Parse(r io.Reader) (*TaskFile, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var fm markdownFrontmatter
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		if err := yaml.Unmarshal(frontmatter, &fm); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	tf := &TaskFile{Name: fm.Name}

	sections, name := splitSections(doc, content)
	if tf.Name == "" {
		tf.Name = name
	}

	for _, s := range sections {
		spec, err := parseSection(s, fm)
		if err != nil {
			return nil, err
		}
		tf.Tasks = append(tf.Tasks, spec)
	}
	return tf, nil
}

// section is one "## Task" heading and the source up to the next level 1 or 2 heading.
type section struct {
	key   string
	title string
	body  string
}

// splitSections walks the top-level blocks. Headings inside code blocks are not
// heading nodes, so they never start a task. The first level 1 heading is
// returned as the file name.
func splitSections(doc ast.Node, source []byte) ([]section, string) {
	var (
		sections []section
		name     string
		current  *section
		bodyFrom int
	)

	closeSection := func(end int) {
		if current != nil {
			current.body = string(source[bodyFrom:end])
			sections = append(sections, *current)
			current = nil
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level > 2 {
			continue
		}
		start, end, ok := headingBounds(heading, source)
		if !ok {
			continue
		}
		closeSection(start)

		title := strings.TrimSpace(extractText(heading, source))
		if heading.Level == 1 {
			if name == "" {
				name = title
			}
			continue
		}
		if m := taskHeadingRegex.FindStringSubmatch(title); m != nil {
			current = &section{key: m[1], title: strings.TrimSpace(m[2])}
			bodyFrom = end
		}
	}
	closeSection(len(source))
	return sections, name
}

// headingBounds returns the offsets of the start of the heading's first line
// and of the line after it. Empty headings have no position.
func headingBounds(h *ast.Heading, source []byte) (int, int, bool) {
	if h.Lines().Len() == 0 {
		return 0, 0, false
	}
	seg := h.Lines().At(0)
	start := bytes.LastIndexByte(source[:seg.Start], '\n') + 1
	end := len(source)
	if i := bytes.IndexByte(source[seg.Stop:], '\n'); i >= 0 {
		end = seg.Stop + i + 1
	}
	return start, end, true
}

// extractText extracts plain text from an AST node, descending into emphasis
// and code spans.
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
			continue
		}
		buf.WriteString(extractText(c, source))
	}
	return buf.String()
}

// parseSection reads the metadata lines of a task body. Everything else outside
// the metadata becomes the description; code blocks are kept verbatim and never
// read as metadata.
func parseSection(s section, fm markdownFrontmatter) (TaskSpec, error) {
	spec := TaskSpec{Key: s.key, Title: s.title, Type: fm.DefaultType}
	priority := fm.DefaultPriority

	var desc []string
	inCodeBlock := false
	for _, line := range strings.Split(s.body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			desc = append(desc, line)
			continue
		}
		if inCodeBlock {
			desc = append(desc, line)
			continue
		}

		m := metadataRegex.FindStringSubmatch(line)
		if m == nil {
			desc = append(desc, line)
			continue
		}
		value := strings.TrimSpace(m[2])
		switch m[1] {
		case "Priority":
			priority = value
		case "Type":
			spec.Type = value
		case "Depends on":
			spec.DependsOn = parseDependencies(value)
		}
	}

	p, err := models.ParsePriority(strings.ToLower(strings.TrimSpace(priority)))
	if err != nil {
		return TaskSpec{}, fmt.Errorf("task %s: %w", s.key, err)
	}
	spec.Priority = p
	spec.Description = strings.TrimSpace(strings.Join(desc, "\n"))
	return spec, nil
}

// parseDependencies splits "lint, Task test" into keys. "None" means no dependencies.
func parseDependencies(value string) []string {
	if strings.EqualFold(value, "none") || value == "" {
		return nil
	}
	var deps []string
	for _, part := range strings.Split(value, ",") {
		part = strings.Trim(strings.TrimSpace(part), "`")
		if m := taskPrefixRegex.FindStringSubmatch(part); m != nil {
			part = strings.TrimSpace(m[1])
		}
		if part != "" {
			deps = append(deps, part)
		}
	}
	return deps
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns the content without frontmatter and the frontmatter bytes
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	// No closing delimiter found
	return content, nil
}
