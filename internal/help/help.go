// ABOUTME: Markdown help topics served from a configurable directory.
// ABOUTME: Topic names are sanitized so lookups cannot escape the topic dir.

package help

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ErrTopicNotFound indicates no help topic exists under the requested name.
var ErrTopicNotFound = errors.New("help topic not found")

var topicNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Topic describes one available help document.
type Topic struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Store serves markdown help topics from a single directory.
type Store struct {
	dir string
	md  goldmark.Markdown
}

// NewStore creates a help store rooted at dir. An empty dir yields a store
// with no topics.
func NewStore(dir string) *Store {
	return &Store{dir: dir, md: goldmark.New()}
}

// List returns the available topics sorted by name. The title comes from the
// document's first heading, falling back to the file name.
func (s *Store) List() ([]Topic, error) {
	if s.dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading help dir: %w", err)
	}

	var topics []Topic
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")

		title := name
		if data, err := os.ReadFile(filepath.Join(s.dir, e.Name())); err == nil {
			if h := s.firstHeading(data); h != "" {
				title = h
			}
		}
		topics = append(topics, Topic{Name: name, Title: title})
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics, nil
}

// Topic returns the raw markdown for a named topic.
func (s *Store) Topic(name string) (string, error) {
	if s.dir == "" || !topicNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrTopicNotFound, name)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q", ErrTopicNotFound, name)
		}
		return "", fmt.Errorf("reading help topic %q: %w", name, err)
	}
	return string(data), nil
}

// firstHeading extracts the text of the first heading in a markdown document.
func (s *Store) firstHeading(src []byte) string {
	doc := s.md.Parser().Parse(text.NewReader(src))

	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		var b strings.Builder
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(src))
			}
		}
		title = strings.TrimSpace(b.String())
		return ast.WalkStop, nil
	})
	return title
}
