// Package models defines the record types of a lair: the entity tree, the
// versioned content blocks attached to entities, and their display order.
package models

import (
	"fmt"

	"github.com/starford/dragonden/internal/apperr"
)

// Kind is the closed set of record kinds.
type Kind string

const (
	KindLibrary  Kind = "Library"
	KindNotebook Kind = "Notebook"
	KindProject  Kind = "Project"
	KindTask     Kind = "Task"
	KindStep     Kind = "Step"
	KindBucket   Kind = "Bucket"
	KindInstance Kind = "Instance"
)

// AllKinds lists every kind in hierarchy order.
var AllKinds = []Kind{KindLibrary, KindNotebook, KindProject, KindTask, KindStep, KindBucket, KindInstance}

// ParseKind converts the persisted type tag into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLibrary, KindNotebook, KindProject, KindTask, KindStep, KindBucket, KindInstance:
		return k, nil
	}
	return "", apperr.Invalid("unknown kind %q", s)
}

// ChildKinds returns the kinds an entity of kind k may parent.
func (k Kind) ChildKinds() []Kind {
	switch k {
	case KindLibrary:
		return []Kind{KindNotebook}
	case KindNotebook:
		return []Kind{KindProject}
	case KindProject:
		return []Kind{KindTask, KindStep}
	case KindTask:
		return []Kind{KindStep}
	case KindBucket:
		return []Kind{KindInstance}
	case KindStep, KindInstance:
		return nil
	}
	panic(fmt.Sprintf("models: unhandled kind %q", string(k)))
}

// CanParent reports whether k may host a child of kind child.
func (k Kind) CanParent(child Kind) bool {
	for _, c := range k.ChildKinds() {
		if c == child {
			return true
		}
	}
	return false
}

// IsTree reports whether k belongs to the library tree (as opposed to the
// bucket side-tree).
func (k Kind) IsTree() bool {
	switch k {
	case KindLibrary, KindNotebook, KindProject, KindTask, KindStep:
		return true
	}
	return false
}

// HasOrder reports whether records of kind k carry an order list.
func (k Kind) HasOrder() bool { return k.IsTree() }

func (k Kind) String() string { return string(k) }
