package models

import (
	"maps"
	"slices"
	"time"

	"github.com/starford/dragonden/internal/apperr"
)

// Param is a free-form key/value pair.
type Param struct {
	Key   string
	Value string
}

// BucketData is the payload of a Bucket: data location to instance ID.
type BucketData struct {
	Instances map[string]string
}

// InstanceData is the payload of an Instance.
type InstanceData struct {
	Data         []string
	Analysis     []string
	Images       []string
	StoredParams []string
	Tags         []string
}

// HasTag reports whether tag is set on the instance.
func (d *InstanceData) HasTag(tag string) bool { return slices.Contains(d.Tags, tag) }

// Entity is a node of the lair. In memory every reference (Parent, Children,
// Buckets and entity order entries) holds an identifier; the on-disk form
// holds locations and is produced by the codec.
type Entity struct {
	ID            string
	Kind          Kind
	User          string
	Name          string
	PreviousNames []string
	Parent        string
	Deleted       bool
	Description   string
	Blocks        []*ContentBlock
	Children      []string
	Params        []Param
	Buckets       []string
	Bookmarked    bool
	StartTime     time.Time
	EndTime       time.Time
	Order         Order
	Comments      []*Comment

	// Set only for KindBucket and KindInstance respectively.
	Bucket   *BucketData
	Instance *InstanceData
}

// NewEntity builds a fresh record of the given kind with a new identifier.
// An empty name defaults to the identifier.
func NewEntity(kind Kind, name, user, parent string) *Entity {
	now := Now()
	e := &Entity{
		ID:        NewID(),
		Kind:      kind,
		User:      user,
		Name:      name,
		Parent:    parent,
		StartTime: now,
		EndTime:   now,
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	switch kind {
	case KindBucket:
		e.Bucket = &BucketData{Instances: map[string]string{}}
	case KindInstance:
		e.Instance = &InstanceData{}
	}
	return e
}

// AddChild appends childID to the children and to the order list, directly
// after under when under is not empty. Kind adjacency is the caller's job.
func (e *Entity) AddChild(childID, under string) error {
	if err := e.place(childID, TargetEntity, under); err != nil {
		return err
	}
	e.Children = append(e.Children, childID)
	return nil
}

func (e *Entity) place(target string, kind TargetKind, under string) error {
	if under == "" {
		e.Order.Append(target, kind)
		return nil
	}
	return e.Order.InsertAfter(under, target, kind)
}

// AddBlock attaches a new block holding initial and records it in the order.
func (e *Entity) AddBlock(kind BlockKind, initial Content, author, under string) (*ContentBlock, error) {
	if under != "" && e.Order.IndexOf(under) < 0 {
		return nil, apperr.NotFound("order anchor %s", under)
	}
	b := NewBlock(kind, initial, author)
	if err := e.place(b.ID, TargetBlock, under); err != nil {
		return nil, err
	}
	e.Blocks = append(e.Blocks, b)
	return b, nil
}

// AddTextBlock attaches a text block.
func (e *Entity) AddTextBlock(text, author, under string) (*ContentBlock, error) {
	return e.AddBlock(BlockText, Content{Text: text}, author, under)
}

// AddImageBlock attaches an image block referencing a stored resource.
func (e *Entity) AddImageBlock(path, title, author, under string) (*ContentBlock, error) {
	return e.AddBlock(BlockImage, Content{Path: path, Title: title}, author, under)
}

// AddImageLinkBlock attaches a block pointing at an image owned by an instance.
func (e *Entity) AddImageLinkBlock(path, instanceID, author, under string) (*ContentBlock, error) {
	return e.AddBlock(BlockImageLink, Content{Path: path, InstanceID: instanceID}, author, under)
}

// Block looks a block up by ID.
func (e *Entity) Block(id string) (*ContentBlock, error) {
	for _, b := range e.Blocks {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, apperr.NotFound("content block %s", id)
}

// AmendBlock amends block id and reports whether a version was appended.
func (e *Entity) AmendBlock(id string, c Content, author string) (bool, error) {
	b, err := e.Block(id)
	if err != nil {
		return false, err
	}
	return b.Amend(c, author), nil
}

// DeleteBlock tombstones block id and hides its order entry.
func (e *Entity) DeleteBlock(id string) error {
	b, err := e.Block(id)
	if err != nil {
		return err
	}
	if err := e.Order.Hide(id); err != nil {
		return err
	}
	b.Tombstone()
	return nil
}

// DeleteChild hides child id in the order. The ID stays in Children so the
// tombstoned record is still reached on reload.
func (e *Entity) DeleteChild(id string) error {
	if !slices.Contains(e.Children, id) {
		return apperr.NotFound("child %s of %s", id, e.ID)
	}
	return e.Order.Hide(id)
}

// ActiveChildren returns the children whose order entry is still visible.
func (e *Entity) ActiveChildren() []string {
	out := make([]string, 0, len(e.Children))
	for _, c := range e.Children {
		if i := e.Order.IndexOf(c); i >= 0 && !e.Order[i].Visible {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Rename records the current name in the history and adopts name.
func (e *Entity) Rename(name string) {
	e.PreviousNames = append(e.PreviousNames, e.Name)
	e.Name = name
}

// ToggleBookmark flips the bookmark flag.
func (e *Entity) ToggleBookmark() { e.Bookmarked = !e.Bookmarked }

// SetBucketTarget associates bucketID; a no-op if already set.
func (e *Entity) SetBucketTarget(bucketID string) {
	if !slices.Contains(e.Buckets, bucketID) {
		e.Buckets = append(e.Buckets, bucketID)
	}
}

// UnsetBucketTarget removes bucketID; a no-op if absent.
func (e *Entity) UnsetBucketTarget(bucketID string) {
	e.Buckets = slices.DeleteFunc(e.Buckets, func(s string) bool { return s == bucketID })
}

// SetParam sets key to value, replacing an existing pair.
func (e *Entity) SetParam(key, value string) {
	for i := range e.Params {
		if e.Params[i].Key == key {
			e.Params[i].Value = value
			return
		}
	}
	e.Params = append(e.Params, Param{Key: key, Value: value})
}

// Clone returns a deep copy sharing no mutable state with e.
func (e *Entity) Clone() *Entity {
	c := *e
	c.PreviousNames = slices.Clone(e.PreviousNames)
	c.Children = slices.Clone(e.Children)
	c.Params = slices.Clone(e.Params)
	c.Buckets = slices.Clone(e.Buckets)
	c.Order = slices.Clone(e.Order)
	c.Blocks = make([]*ContentBlock, len(e.Blocks))
	for i, b := range e.Blocks {
		c.Blocks[i] = b.Clone()
	}
	c.Comments = make([]*Comment, len(e.Comments))
	for i, cm := range e.Comments {
		c.Comments[i] = cm.Clone()
	}
	if e.Bucket != nil {
		c.Bucket = &BucketData{Instances: maps.Clone(e.Bucket.Instances)}
	}
	if e.Instance != nil {
		c.Instance = &InstanceData{
			Data:         slices.Clone(e.Instance.Data),
			Analysis:     slices.Clone(e.Instance.Analysis),
			Images:       slices.Clone(e.Instance.Images),
			StoredParams: slices.Clone(e.Instance.StoredParams),
			Tags:         slices.Clone(e.Instance.Tags),
		}
	}
	return &c
}
