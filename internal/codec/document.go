// Package codec converts entity records to and from their on-disk TOML form.
//
// A Document is the location-keyed projection of a models.Entity: every
// reference it holds (parent, children, bucket links, entity order entries)
// is a location relative to the lair root. Converting between the two is a
// pure transform; neither direction mutates its input.
package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

// Document is one persisted record. Bucket- and instance-only fields are
// omitted for the other kinds.
type Document struct {
	Type          string     `toml:"type"`
	User          string     `toml:"user"`
	ID            string     `toml:"ID"`
	Name          string     `toml:"name"`
	PreviousNames []string   `toml:"previous_names"`
	Parent        string     `toml:"parent"`
	Deleted       bool       `toml:"deleted"`
	Description   string     `toml:"description"`
	ContentBlocks []string   `toml:"content_blocks"`
	Children      []string   `toml:"children"`
	Params        [][]string `toml:"params"`
	DataBuckets   []string   `toml:"data_buckets"`
	Bookmarked    bool       `toml:"bookmarked"`
	StartTime     time.Time  `toml:"start_time"`
	EndTime       time.Time  `toml:"end_time"`
	Order         [][]any    `toml:"order"`
	Comments      []string   `toml:"comments,omitempty"`

	PathToUUID map[string]string `toml:"path_to_uuid,omitempty"`

	Data         []string `toml:"data,omitempty"`
	Analysis     []string `toml:"analysis,omitempty"`
	Images       []string `toml:"images,omitempty"`
	StoredParams []string `toml:"stored_params,omitempty"`
	Tags         []string `toml:"tags,omitempty"`
}

// Marshal renders doc as a TOML table keyed by its display name.
func Marshal(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(map[string]Document{doc.Name: doc}); err != nil {
		return nil, fmt.Errorf("codec: marshal %s: %w", doc.ID, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a record file. The file must hold exactly one table.
func Unmarshal(data []byte) (Document, error) {
	var raw map[string]Document
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Document{}, apperr.Invalid("codec: parse: %v", err)
	}
	if len(raw) != 1 {
		return Document{}, apperr.Invalid("codec: expected one record table, found %d", len(raw))
	}
	var (
		key string
		doc Document
	)
	for k, v := range raw {
		key, doc = k, v
	}
	if doc.Name == "" {
		doc.Name = key
	}
	if doc.ID == "" {
		return Document{}, apperr.Invalid("codec: record %q has no ID", key)
	}
	return doc, nil
}

// FromEntity projects e into its on-disk form. locate maps an identifier to
// its current location; content-block order entries keep their identifier.
func FromEntity(e *models.Entity, locate func(id string) (string, error)) (Document, error) {
	doc := Document{
		Type:          e.Kind.String(),
		User:          e.User,
		ID:            e.ID,
		Name:          e.Name,
		PreviousNames: nonNil(e.PreviousNames),
		Deleted:       e.Deleted,
		Description:   e.Description,
		Bookmarked:    e.Bookmarked,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		ContentBlocks: make([]string, 0, len(e.Blocks)),
		Children:      make([]string, 0, len(e.Children)),
		Params:        make([][]string, 0, len(e.Params)),
		DataBuckets:   make([]string, 0, len(e.Buckets)),
		Order:         make([][]any, 0, len(e.Order)),
	}

	var err error
	if e.Parent != "" {
		if doc.Parent, err = locate(e.Parent); err != nil {
			return Document{}, fmt.Errorf("codec: parent of %s: %w", e.ID, err)
		}
	}
	for _, c := range e.Children {
		loc, err := locate(c)
		if err != nil {
			return Document{}, fmt.Errorf("codec: child of %s: %w", e.ID, err)
		}
		doc.Children = append(doc.Children, loc)
	}
	for _, b := range e.Buckets {
		loc, err := locate(b)
		if err != nil {
			return Document{}, fmt.Errorf("codec: bucket of %s: %w", e.ID, err)
		}
		doc.DataBuckets = append(doc.DataBuckets, loc)
	}
	for _, o := range e.Order {
		target := o.Target
		if o.Kind == models.TargetEntity {
			if target, err = locate(o.Target); err != nil {
				return Document{}, fmt.Errorf("codec: order entry of %s: %w", e.ID, err)
			}
		}
		doc.Order = append(doc.Order, []any{target, string(o.Kind), o.Visible})
	}
	for _, p := range e.Params {
		doc.Params = append(doc.Params, []string{p.Key, p.Value})
	}
	for _, b := range e.Blocks {
		s, err := encodeBlock(b)
		if err != nil {
			return Document{}, err
		}
		doc.ContentBlocks = append(doc.ContentBlocks, s)
	}
	for _, c := range e.Comments {
		s, err := encodeComment(c)
		if err != nil {
			return Document{}, err
		}
		doc.Comments = append(doc.Comments, s)
	}

	if e.Bucket != nil {
		doc.PathToUUID = make(map[string]string, len(e.Bucket.Instances))
		for k, v := range e.Bucket.Instances {
			doc.PathToUUID[k] = v
		}
	}
	if d := e.Instance; d != nil {
		doc.Data = nonNil(d.Data)
		doc.Analysis = nonNil(d.Analysis)
		doc.Images = nonNil(d.Images)
		doc.StoredParams = nonNil(d.StoredParams)
		doc.Tags = nonNil(d.Tags)
	}
	return doc, nil
}

// Entity rebuilds the in-memory record. References are copied verbatim and
// still hold locations until the loader resolves them.
func (d Document) Entity() (*models.Entity, error) {
	kind, err := models.ParseKind(d.Type)
	if err != nil {
		return nil, fmt.Errorf("codec: record %s: %w", d.ID, err)
	}
	e := &models.Entity{
		ID:            d.ID,
		Kind:          kind,
		User:          d.User,
		Name:          d.Name,
		PreviousNames: append([]string(nil), d.PreviousNames...),
		Parent:        d.Parent,
		Deleted:       d.Deleted,
		Description:   d.Description,
		Children:      append([]string(nil), d.Children...),
		Buckets:       append([]string(nil), d.DataBuckets...),
		Bookmarked:    d.Bookmarked,
		StartTime:     d.StartTime,
		EndTime:       d.EndTime,
	}
	for _, p := range d.Params {
		if len(p) != 2 {
			return nil, apperr.Invalid("codec: record %s: param must be a key/value pair", d.ID)
		}
		e.Params = append(e.Params, models.Param{Key: p[0], Value: p[1]})
	}
	for i, raw := range d.Order {
		entry, err := decodeOrderEntry(raw)
		if err != nil {
			return nil, apperr.Invalid("codec: record %s: order entry %d: %v", d.ID, i, err)
		}
		e.Order = append(e.Order, entry)
	}
	for _, s := range d.ContentBlocks {
		b, err := decodeBlock(s)
		if err != nil {
			return nil, fmt.Errorf("codec: record %s: %w", d.ID, err)
		}
		e.Blocks = append(e.Blocks, b)
	}
	for _, s := range d.Comments {
		c, err := decodeComment(s)
		if err != nil {
			return nil, fmt.Errorf("codec: record %s: %w", d.ID, err)
		}
		e.Comments = append(e.Comments, c)
	}

	switch kind {
	case models.KindBucket:
		e.Bucket = &models.BucketData{Instances: make(map[string]string, len(d.PathToUUID))}
		for k, v := range d.PathToUUID {
			e.Bucket.Instances[k] = v
		}
	case models.KindInstance:
		e.Instance = &models.InstanceData{
			Data:         append([]string(nil), d.Data...),
			Analysis:     append([]string(nil), d.Analysis...),
			Images:       append([]string(nil), d.Images...),
			StoredParams: append([]string(nil), d.StoredParams...),
			Tags:         append([]string(nil), d.Tags...),
		}
	}
	return e, nil
}

func decodeOrderEntry(raw []any) (models.OrderEntry, error) {
	if len(raw) != 3 {
		return models.OrderEntry{}, fmt.Errorf("want 3 fields, got %d", len(raw))
	}
	target, ok1 := raw[0].(string)
	kind, ok2 := raw[1].(string)
	visible, ok3 := raw[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return models.OrderEntry{}, fmt.Errorf("want (string, string, bool), got %v", raw)
	}
	switch tk := models.TargetKind(kind); tk {
	case models.TargetEntity, models.TargetBlock:
		return models.OrderEntry{Target: target, Kind: tk, Visible: visible}, nil
	}
	return models.OrderEntry{}, fmt.Errorf("unknown target kind %q", kind)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
