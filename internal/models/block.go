package models

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/starford/dragonden/internal/apperr"
)

// BlockKind is the content type of a block. The numeric values are the
// persisted tags and must not change.
type BlockKind int

const (
	BlockText      BlockKind = 1
	BlockImage     BlockKind = 2
	BlockTable     BlockKind = 3
	BlockCode      BlockKind = 4
	BlockImageLink BlockKind = 5
)

// ParseBlockKind validates a persisted block tag.
func ParseBlockKind(v int) (BlockKind, error) {
	switch k := BlockKind(v); k {
	case BlockText, BlockImage, BlockTable, BlockCode, BlockImageLink:
		return k, nil
	}
	return 0, apperr.Invalid("unknown block kind %d", v)
}

// BlockKindByName maps the names used by the API onto block kinds.
var BlockKindByName = map[string]BlockKind{
	"text":       BlockText,
	"image":      BlockImage,
	"table":      BlockTable,
	"code":       BlockCode,
	"image_link": BlockImageLink,
}

func (k BlockKind) String() string {
	for name, v := range BlockKindByName {
		if v == k {
			return name
		}
	}
	return "unknown"
}

// Content is one value held by a block. Text, table and code blocks use Text;
// image blocks use Path and Title; image-link blocks use Path and InstanceID.
type Content struct {
	Text       string `json:"text,omitempty"`
	Path       string `json:"path,omitempty"`
	Title      string `json:"title,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// Version is one entry of a block's history.
type Version struct {
	Content Content   `json:"content"`
	Author  string    `json:"author"`
	Time    time.Time `json:"time"`
}

// ContentBlock is an append-only ledger of versions. History[0] is the
// original and the last element is the current value.
type ContentBlock struct {
	ID        string
	Kind      BlockKind
	CreatedBy string
	CreatedAt time.Time
	Deleted   bool
	History   []Version
}

// Now is the clock used to stamp records.
var Now = func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// NewID returns a fresh record identifier.
func NewID() string { return uuid.NewString() }

// NewBlock creates a block holding a single version.
func NewBlock(kind BlockKind, initial Content, author string) *ContentBlock {
	t := Now()
	return &ContentBlock{
		ID:        NewID(),
		Kind:      kind,
		CreatedBy: author,
		CreatedAt: t,
		History:   []Version{{Content: initial, Author: author, Time: t}},
	}
}

// Current returns the head version.
func (b *ContentBlock) Current() Version {
	return b.History[len(b.History)-1]
}

// Differs reports whether c or author differ from the head version.
func (b *ContentBlock) Differs(c Content, author string) bool {
	head := b.Current()
	return head.Content != c || head.Author != author
}

// Amend appends a version when content or author differ from the head and
// reports whether it did.
func (b *ContentBlock) Amend(c Content, author string) bool {
	if !b.Differs(c, author) {
		return false
	}
	b.History = append(b.History, Version{Content: c, Author: author, Time: Now()})
	return true
}

// Tombstone marks the block deleted. History is kept.
func (b *ContentBlock) Tombstone() { b.Deleted = true }

// Clone returns a deep copy.
func (b *ContentBlock) Clone() *ContentBlock {
	c := *b
	c.History = slices.Clone(b.History)
	return &c
}
