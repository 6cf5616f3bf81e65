// Package extract converts backend XML responses into generic
// records, column info and filter info.
package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Kind selects the response shape a data source expects.
type Kind string

// Supported response kinds.
const (
	KindAggregate Kind = "aggregate"
	KindTasks     Kind = "tasks"
)

// ErrParse is returned for malformed responses.
var ErrParse = errors.New("extract: malformed response")

// StatusError is an application-level error reported inside an otherwise
// well-formed response.
type StatusError struct {
	Status int
	Text   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Text)
}

// Func parses one raw response.
type Func func(raw []byte) (*core.Data, error)

// ForKind returns the extractor for a response kind.
func ForKind(kind Kind) (Func, error) {
	switch kind {
	case KindAggregate, "":
		return Aggregate, nil
	case KindTasks:
		return Tasks, nil
	default:
		return nil, fmt.Errorf("unknown response kind %q", kind)
	}
}

// node is a generic XML element.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *node) child(name string) *node {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *node) children(name string) []*node {
	var out []*node
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			out = append(out, &n.Children[i])
		}
	}
	return out
}

func (n *node) childText(name string) string {
	if c := n.child(name); c != nil {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

func (n *node) isLeaf() bool {
	return len(n.Children) == 0
}

// parseRoot decodes raw XML and checks the status attribute of the root.
func parseRoot(raw []byte) (*node, error) {
	var root node
	dec := xml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	status := root.attr("status")
	if status == "" {
		return &root, nil
	}
	code, err := strconv.Atoi(status)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid status %q", ErrParse, status)
	}
	if code != 200 {
		return nil, &StatusError{Status: code, Text: root.attr("status_text")}
	}
	return &root, nil
}

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Coerce converts a raw text value to float64 when it is a finite number,
// to time.Time when it looks like an ISO-8601 date, and keeps it as a
// string otherwise.
func Coerce(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	if isoDatePattern.MatchString(s) {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return s
}

// dataTypeOf guesses a column data type from a coerced value.
func dataTypeOf(v any) string {
	switch v.(type) {
	case float64:
		return "decimal"
	case time.Time:
		return "iso_time"
	default:
		return "text"
	}
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
