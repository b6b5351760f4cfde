// Package userref parses and formats the references used to identify users
// and groups across workspaces.
//
// A fully-qualified reference carries its workspace: "main:alice". A short
// reference ("alice") is relative to whatever workspace it is read in.
// Group targets on a registration code use the same syntax, so "Editors"
// means the Editors group of the target workspace and "docs:Editors" means
// the Editors group of the docs workspace.
package userref

import (
	"errors"
	"strings"
)

// Separator splits the workspace from the local name.
const Separator = ":"

// ErrEmpty is returned when a reference has no local name.
var ErrEmpty = errors.New("empty reference")

// Ref is a parsed reference. Workspace is empty for short references.
type Ref struct {
	Workspace string
	Name      string
}

// Parse splits s into its workspace and local name. Surrounding whitespace is
// ignored. Only the first separator counts, so local names may contain ':'.
func Parse(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	ws, name, found := strings.Cut(s, Separator)
	if !found {
		name, ws = ws, ""
	}
	ws = strings.TrimSpace(ws)
	name = strings.TrimSpace(name)
	if name == "" {
		return Ref{}, ErrEmpty
	}
	return Ref{Workspace: ws, Name: name}, nil
}

// IsQualified reports whether the reference names its workspace.
func (r Ref) IsQualified() bool {
	return r.Workspace != ""
}

// String returns the fully-qualified form when the workspace is known,
// the short form otherwise.
func (r Ref) String() string {
	if r.Workspace == "" {
		return r.Name
	}
	return r.Workspace + Separator + r.Name
}

// RelativeTo returns the canonical form of r as seen from workspace ws:
// the short form when r lives in ws, the fully-qualified form otherwise.
func (r Ref) RelativeTo(ws string) string {
	if r.Workspace == "" || r.Workspace == ws {
		return r.Name
	}
	return r.String()
}

// Qualify returns r with its workspace set to ws when r is short.
func (r Ref) Qualify(ws string) Ref {
	if r.Workspace == "" {
		r.Workspace = ws
	}
	return r
}
