package mork

import (
	"fmt"
	"strings"
	"unicode"
)

// Path is an immutable namespace path. The zero value is the root.
type Path struct {
	segments []string
}

// NewPath validates segments and builds a Path.
func NewPath(segments ...string) (Path, error) {
	for _, seg := range segments {
		if err := ValidateSegment(seg); err != nil {
			return Path{}, err
		}
	}
	return Path{segments: append([]string(nil), segments...)}, nil
}

// ParsePath splits "a/b" into a Path. Empty input is the root.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}
	return NewPath(strings.Split(s, "/")...)
}

// ValidateSegment reports whether name can be a namespace segment.
func ValidateSegment(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty namespace segment", ErrInvalidArgument)
	}
	for _, r := range name {
		if r == '/' || r == '(' || r == ')' || r == '$' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: namespace segment %q contains %q", ErrInvalidArgument, name, r)
		}
	}
	return nil
}

// Child returns p with name appended.
func (p Path) Child(name string) (Path, error) {
	if err := ValidateSegment(name); err != nil {
		return Path{}, err
	}
	segments := make([]string, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)
	return Path{segments: append(segments, name)}, nil
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

func (p Path) Len() int { return len(p.segments) }

func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Parent returns the enclosing path; the root is its own parent.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return p
	}
	n := len(p.segments) - 1
	return Path{segments: p.segments[:n:n]}
}

func (p Path) String() string {
	return "/" + strings.Join(p.segments, "/")
}
