// Package ident provides the strong identity type for addressable agent
// instances, grounded on the teacher's agent.Ident convention.
package ident

import "fmt"

// ID identifies a single agent instance by the pair (class, name). Identity
// is the pair itself: two IDs with the same class and name refer to the same
// logical singleton, regardless of how many times they are constructed.
type ID struct {
	Class string
	Name  string
}

// New constructs an ID from a class and name.
func New(class, name string) ID { return ID{Class: class, Name: name} }

// String renders the ID as "class/name", the canonical key used to namespace
// storage, connections, and actor lookup.
func (id ID) String() string { return fmt.Sprintf("%s/%s", id.Class, id.Name) }

// Valid reports whether both Class and Name are non-empty.
func (id ID) Valid() bool { return id.Class != "" && id.Name != "" }
