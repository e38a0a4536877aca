package omp

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Node is a generic XML element as returned by the manager.
type Node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []*Node    `xml:",any"`
}

// ParseNode decodes an XML document into a Node tree.
func ParseNode(data []byte) (*Node, error) {
	var root Node
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Name returns the local element name.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.XMLName.Local
}

// Attr returns the value of the named attribute, or "" when absent.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Value returns the element's own character data with surrounding
// whitespace removed.
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Content)
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

// Children returns all direct children with the given name.
func (n *Node) Children(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}

// Find walks a slash separated element path and returns the first match.
// Paths are relative to n; a leading slash makes the first segment match n
// itself, so "/get_tasks_response/task/status" works on a response root.
func (n *Node) Find(path string) *Node {
	nodes := n.findAll(path)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// findAll returns every element reachable through path, in document order.
func (n *Node) findAll(path string) []*Node {
	if n == nil {
		return nil
	}
	segments := splitPath(path)
	current := []*Node{n}
	if strings.HasPrefix(path, "/") {
		if len(segments) == 0 || segments[0] != n.Name() {
			return nil
		}
		segments = segments[1:]
	}
	for _, seg := range segments {
		var next []*Node
		for _, c := range current {
			next = append(next, c.Children(seg)...)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// Text returns the trimmed text of the element at path.
func (n *Node) Text(path string) string {
	return n.Find(path).Value()
}

// AttrAt returns an attribute of the element at path.
func (n *Node) AttrAt(path, attr string) string {
	return n.Find(path).Attr(attr)
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
