package repository

import (
	"strings"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

// StructureNode is one entry of the nested structure listing.
type StructureNode struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Kind     models.Kind      `json:"type"`
	Children []*StructureNode `json:"children"`
}

// Structure lists the live subtree below id, or every library when id is
// empty. Deleted records are left out.
func (r *Repository) Structure(id string) ([]*StructureNode, error) {
	if id != "" {
		if err := r.lookup(id); err != nil {
			return nil, err
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var roots []string
	if id == "" {
		roots = r.libraryIDs()
	} else {
		if _, err := r.entity(id); err != nil {
			return nil, err
		}
		roots = []string{id}
	}

	type frame struct {
		id   string
		into *[]*StructureNode
	}
	out := []*StructureNode{}
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: roots[i], into: &out})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e, ok := r.forest.Entities[f.id]
		if !ok || e.Deleted {
			continue
		}
		n := &StructureNode{ID: e.ID, Name: e.Name, Kind: e.Kind, Children: []*StructureNode{}}
		*f.into = append(*f.into, n)
		kids := e.ActiveChildren()
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: kids[i], into: &n.Children})
		}
	}
	return out, nil
}

func (r *Repository) libraryIDs() []string {
	ids := make([]string, 0, len(r.manifest.Libraries))
	for _, loc := range r.manifest.Libraries {
		if id, err := r.idx.ResolveID(loc); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

const (
	treeBranch = "├── "
	treeLast   = "└── "
	treeBlank  = "    "
	treePipe   = "│   "
	treeMore   = "└ ⋯ "
)

// Tree renders the subtree below id as ascii art. depth bounds both the
// number of levels and the number of children shown per record; a truncated
// child list ends with a "⋯" marker.
func (r *Repository) Tree(id string, depth int) (string, error) {
	if depth < 1 {
		return "", apperr.Invalid("tree depth must be positive")
	}
	if err := r.lookup(id); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, err := r.entity(id)
	if err != nil {
		return "", err
	}

	type frame struct {
		id     string
		prefix string
		last   bool
		level  int
		more   bool // marker line instead of a record
	}
	var sb strings.Builder
	sb.WriteString(root.Name + "\n")

	push := func(stack []frame, e *models.Entity, prefix string, level int) []frame {
		if level > depth {
			return stack
		}
		kids := r.liveChildren(e)
		shown := kids
		truncated := len(kids) > depth
		if truncated {
			shown = kids[:depth]
		}
		if truncated {
			stack = append(stack, frame{prefix: prefix, more: true})
		}
		for i := len(shown) - 1; i >= 0; i-- {
			last := i == len(shown)-1 && !truncated
			stack = append(stack, frame{id: shown[i], prefix: prefix, last: last, level: level})
		}
		return stack
	}

	stack := push(nil, root, "", 1)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.more {
			sb.WriteString(f.prefix + treeMore + "\n")
			continue
		}
		e := r.forest.Entities[f.id]
		connector, next := treeBranch, treePipe
		if f.last {
			connector, next = treeLast, treeBlank
		}
		sb.WriteString(f.prefix + connector + e.Name + "\n")
		stack = push(stack, e, f.prefix+next, f.level+1)
	}
	return sb.String(), nil
}

// liveChildren returns the active, loaded, non-deleted children of e.
func (r *Repository) liveChildren(e *models.Entity) []string {
	var out []string
	for _, c := range e.ActiveChildren() {
		if ce, ok := r.forest.Entities[c]; ok && !ce.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// Info describes the shape of the subtree below a record.
type Info struct {
	// Rank is the number of levels below the record.
	Rank        int `json:"rank"`
	NumChildren int `json:"num_children"`
}

// Info returns the rank and descendant count of id, counting live records.
func (r *Repository) Info(id string) (Info, error) {
	if err := r.lookup(id); err != nil {
		return Info{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, err := r.entity(id)
	if err != nil {
		return Info{}, err
	}
	type frame struct {
		id    string
		level int
	}
	var info Info
	stack := []frame{}
	for _, c := range r.liveChildren(root) {
		stack = append(stack, frame{id: c, level: 1})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		info.NumChildren++
		info.Rank = max(info.Rank, f.level)
		for _, c := range r.liveChildren(r.forest.Entities[f.id]) {
			stack = append(stack, frame{id: c, level: f.level + 1})
		}
	}
	return info, nil
}

// NotebookOf returns the notebook that contains id (id itself when it is a
// notebook).
func (r *Repository) NotebookOf(id string) (string, error) {
	if err := r.lookup(id); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entity(id)
	if err != nil {
		return "", err
	}
	if e.Kind == models.KindLibrary {
		return "", apperr.Invalid("%s is a library and has no notebook", id)
	}
	for steps := 0; steps <= len(r.forest.Entities); steps++ {
		if e.Kind == models.KindNotebook {
			return e.ID, nil
		}
		if e.Parent == "" {
			break
		}
		if e, err = r.entity(e.Parent); err != nil {
			return "", err
		}
	}
	return "", apperr.NotFound("%s is not in a notebook", id)
}

// PossibleParents maps the identifier of every live record that may hold
// children in the library tree to its name.
func (r *Repository) PossibleParents() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]string{}
	for id, e := range r.forest.Entities {
		if !e.Deleted && e.Kind.IsTree() && len(e.Kind.ChildKinds()) > 0 {
			out[id] = e.Name
		}
	}
	return out
}

// Libraries maps library names to identifiers.
func (r *Repository) Libraries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]string{}
	for _, id := range r.libraryIDs() {
		out[r.forest.Entities[id].Name] = id
	}
	return out
}

// Kinds lists every record kind.
func (r *Repository) Kinds() []models.Kind {
	return append([]models.Kind(nil), models.AllKinds...)
}
