// Package loader rebuilds the in-memory forest from the record files of a
// lair.
//
// Loading runs in two phases. The walk reads every record reachable from the
// library roots and registers it in the identifier index; only once every
// record is known does the resolution pass rewrite location references into
// identifiers. Records are stored independently, so neither phase may assume
// a parent is read before its children or the other way round.
package loader

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/codec"
	"github.com/starford/dragonden/internal/idindex"
	"github.com/starford/dragonden/internal/models"
)

// Node is the descriptor tree produced by the walk.
type Node struct {
	ID       string
	Name     string
	Kind     models.Kind
	Deleted  bool
	Children []*Node
}

// Forest is the result of a load.
type Forest struct {
	Entities map[string]*models.Entity
	Roots    []*Node
	// Images maps an image location to the instance that owns it.
	Images map[string]string
}

// NewForest returns an empty forest.
func NewForest() *Forest {
	return &Forest{Entities: map[string]*models.Entity{}, Images: map[string]string{}}
}

// Loader reads records through a codec.Store into an identifier index.
type Loader struct {
	store  *codec.Store
	idx    *idindex.Index
	logger *slog.Logger
}

// New creates a loader. A nil logger means slog.Default().
func New(store *codec.Store, idx *idindex.Index, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, idx: idx, logger: logger}
}

type item struct {
	loc    string
	parent *Node  // nil for roots
	via    string // name of the record that declared loc
}

// Load walks every library root, then resolves references across the whole
// record set. The index must be empty.
func (l *Loader) Load(roots []string) (*Forest, error) {
	f := NewForest()
	seen := map[string]bool{}

	stack := make([]item, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, item{loc: idindex.Normalize(roots[i])})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[it.loc] {
			return nil, apperr.Invalid("loader: %s reached twice (declared again by %q)", it.loc, it.via)
		}
		seen[it.loc] = true

		e, err := l.readOne(it.loc)
		if err != nil {
			if it.via != "" {
				return nil, fmt.Errorf("loader: child %s of %q: %w", it.loc, it.via, err)
			}
			return nil, fmt.Errorf("loader: library %s: %w", it.loc, err)
		}
		f.Entities[e.ID] = e

		node := &Node{ID: e.ID, Name: e.Name, Kind: e.Kind, Deleted: e.Deleted}
		if it.parent == nil {
			f.Roots = append(f.Roots, node)
		} else {
			it.parent.Children = append(it.parent.Children, node)
		}
		for i := len(e.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{loc: idindex.Normalize(e.Children[i]), parent: node, via: e.Name})
		}
	}

	if err := l.resolve(f); err != nil {
		return nil, err
	}
	if err := checkCycles(f.Entities); err != nil {
		return nil, err
	}
	l.checkLinks(f.Entities)
	l.logger.Info("loader: loaded",
		slog.Int("records", len(f.Entities)),
		slog.Int("libraries", len(f.Roots)),
	)
	return f, nil
}

func (l *Loader) readOne(loc string) (*models.Entity, error) {
	doc, err := l.store.Read(loc)
	if err != nil {
		return nil, err
	}
	e, err := doc.Entity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	if err := l.idx.Register(e.ID, loc); err != nil {
		return nil, err
	}
	return e, nil
}

// ref turns a stored reference into an identifier. It accepts a location
// registered in the index or an identifier already registered.
func (l *Loader) ref(r string) (string, bool) {
	if r == "" {
		return "", true
	}
	if id, err := l.idx.ResolveID(r); err == nil {
		return id, true
	}
	if l.idx.Has(r) {
		return r, true
	}
	return "", false
}

func (l *Loader) resolve(f *Forest) error {
	// Bucket initialisation adds entities, so iterate over a snapshot.
	entities := make([]*models.Entity, 0, len(f.Entities))
	for _, e := range f.Entities {
		entities = append(entities, e)
	}
	for _, e := range entities {
		if err := l.resolveEntity(f, e); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) resolveEntity(f *Forest, e *models.Entity) error {
	dangling := func(field, r string) error {
		return apperr.NotFound("loader: %s %q of %s: dangling reference", field, r, e.Name)
	}

	id, ok := l.ref(e.Parent)
	if !ok {
		return dangling("parent", e.Parent)
	}
	e.Parent = id

	for i, c := range e.Children {
		id, ok := l.ref(c)
		if !ok {
			return dangling("child", c)
		}
		e.Children[i] = id
	}
	for i := range e.Order {
		o := &e.Order[i]
		if o.Kind != models.TargetEntity {
			continue
		}
		id, ok := l.ref(o.Target)
		if !ok {
			return dangling("order entry", o.Target)
		}
		o.Target = id
	}
	for i, b := range e.Buckets {
		id, ok := l.ref(b)
		if !ok {
			var err error
			if id, err = l.InitBucket(f, b); err != nil {
				return fmt.Errorf("loader: bucket %q of %s: %w", b, e.Name, err)
			}
		}
		e.Buckets[i] = id
	}
	return nil
}

// InitBucket loads the bucket at loc together with its instances, unless it
// is already registered. It returns the bucket identifier.
func (l *Loader) InitBucket(f *Forest, loc string) (string, error) {
	loc = idindex.Normalize(loc)
	if id, err := l.idx.ResolveID(loc); err == nil {
		return id, nil
	}
	b, err := l.readOne(loc)
	if err != nil {
		return "", err
	}
	if b.Kind != models.KindBucket {
		l.idx.Unregister(b.ID)
		return "", apperr.Invalid("loader: %s is a %s, not a Bucket", loc, b.Kind)
	}
	f.Entities[b.ID] = b

	for insLoc := range b.Bucket.Instances {
		in, err := l.readOne(insLoc)
		if err != nil {
			return "", fmt.Errorf("loader: instance %s of bucket %q: %w", insLoc, b.Name, err)
		}
		if pid, ok := l.ref(in.Parent); ok {
			in.Parent = pid
		} else {
			in.Parent = b.ID
		}
		f.Entities[in.ID] = in
		IndexImages(f.Images, in)
	}
	l.logger.Debug("loader: bucket initialised",
		slog.String("bucket", b.Name),
		slog.Int("instances", len(b.Bucket.Instances)),
	)
	return b.ID, nil
}

// IndexImages records every raster image of in under its location.
func IndexImages(images map[string]string, in *models.Entity) {
	if in.Instance == nil {
		return
	}
	for _, img := range in.Instance.Images {
		switch strings.ToLower(path.Ext(img)) {
		case ".png", ".jpg", ".jpeg":
			images[img] = in.ID
		}
	}
}

// checkCycles rejects any parent chain that returns to itself.
func checkCycles(entities map[string]*models.Entity) error {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(entities))
	for start := range entities {
		var chain []string
		cur := start
		for cur != "" && state[cur] == unvisited {
			e, ok := entities[cur]
			if !ok {
				break
			}
			state[cur] = active
			chain = append(chain, cur)
			cur = e.Parent
		}
		if cur != "" && state[cur] == active {
			return apperr.Invalid("loader: parent cycle through %s", entities[cur].Name)
		}
		for _, id := range chain {
			state[id] = done
		}
	}
	return nil
}

// checkLinks warns about parent/child edges that only one side declares.
func (l *Loader) checkLinks(entities map[string]*models.Entity) {
	for _, e := range entities {
		for _, c := range e.Children {
			child, ok := entities[c]
			if ok && child.Parent != e.ID {
				l.logger.Warn("loader: inconsistent parent link",
					slog.String("parent", e.ID),
					slog.String("child", c),
					slog.String("child_parent", child.Parent),
				)
			}
		}
	}
}

