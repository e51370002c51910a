package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

// blockJSON is the string form of a content block stored inside a record.
// History is kept as three parallel arrays; image kinds store each content
// value as a two-element array.
type blockJSON struct {
	ID           string            `json:"ID"`
	CreationUser string            `json:"creation_user"`
	CreationTime time.Time         `json:"creation_time"`
	Deleted      bool              `json:"deleted"`
	Content      []json.RawMessage `json:"content"`
	Dates        []time.Time       `json:"dates"`
	Authors      []string          `json:"authors"`
	BlockType    int               `json:"block_type"`
}

func encodeContent(kind models.BlockKind, c models.Content) (json.RawMessage, error) {
	switch kind {
	case models.BlockImage:
		return json.Marshal([2]string{c.Path, c.Title})
	case models.BlockImageLink:
		return json.Marshal([2]string{c.Path, c.InstanceID})
	default:
		return json.Marshal(c.Text)
	}
}

func decodeContent(kind models.BlockKind, raw json.RawMessage) (models.Content, error) {
	switch kind {
	case models.BlockImage, models.BlockImageLink:
		var pair [2]string
		if err := json.Unmarshal(raw, &pair); err != nil {
			return models.Content{}, err
		}
		if kind == models.BlockImage {
			return models.Content{Path: pair[0], Title: pair[1]}, nil
		}
		return models.Content{Path: pair[0], InstanceID: pair[1]}, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Content{}, err
		}
		return models.Content{Text: s}, nil
	}
}

func encodeBlock(b *models.ContentBlock) (string, error) {
	out := blockJSON{
		ID:           b.ID,
		CreationUser: b.CreatedBy,
		CreationTime: b.CreatedAt,
		Deleted:      b.Deleted,
		BlockType:    int(b.Kind),
	}
	for _, v := range b.History {
		raw, err := encodeContent(b.Kind, v.Content)
		if err != nil {
			return "", fmt.Errorf("codec: encode block %s: %w", b.ID, err)
		}
		out.Content = append(out.Content, raw)
		out.Dates = append(out.Dates, v.Time)
		out.Authors = append(out.Authors, v.Author)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("codec: encode block %s: %w", b.ID, err)
	}
	return string(data), nil
}

func decodeBlock(s string) (*models.ContentBlock, error) {
	var in blockJSON
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return nil, apperr.Invalid("codec: content block: %v", err)
	}
	kind, err := models.ParseBlockKind(in.BlockType)
	if err != nil {
		return nil, err
	}
	n := len(in.Content)
	if n == 0 || len(in.Dates) != n || len(in.Authors) != n {
		return nil, apperr.Invalid("codec: content block %s: history arrays differ in length", in.ID)
	}
	b := &models.ContentBlock{
		ID:        in.ID,
		Kind:      kind,
		CreatedBy: in.CreationUser,
		CreatedAt: in.CreationTime,
		Deleted:   in.Deleted,
		History:   make([]models.Version, 0, n),
	}
	for i := range in.Content {
		c, err := decodeContent(kind, in.Content[i])
		if err != nil {
			return nil, apperr.Invalid("codec: content block %s: version %d: %v", in.ID, i, err)
		}
		b.History = append(b.History, models.Version{Content: c, Author: in.Authors[i], Time: in.Dates[i]})
	}
	return b, nil
}

func encodeComment(c *models.Comment) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("codec: encode comment %s: %w", c.ID, err)
	}
	return string(data), nil
}

func decodeComment(s string) (*models.Comment, error) {
	var c models.Comment
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, apperr.Invalid("codec: comment: %v", err)
	}
	return &c, nil
}
