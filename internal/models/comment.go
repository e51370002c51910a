package models

import (
	"slices"
	"time"

	"github.com/starford/dragonden/internal/apperr"
)

// Reply is one answer in a comment thread.
type Reply struct {
	ID   string    `json:"ID"`
	User string    `json:"user"`
	Body string    `json:"body"`
	Time time.Time `json:"timestamp"`
}

// Comment is attached to an entity. Target is either the entity itself or
// one of its content blocks.
type Comment struct {
	ID        string    `json:"ID"`
	Target    string    `json:"target"`
	CreatedBy string    `json:"creation_user"`
	CreatedAt time.Time `json:"creation_time"`
	Deleted   bool      `json:"deleted"`
	Resolved  bool      `json:"resolved"`
	Body      string    `json:"body"`
	Replies   []Reply   `json:"replies"`
}

// AddComment attaches a new comment to target, which must be e itself or one
// of e's blocks.
func (e *Entity) AddComment(target, body, user string) (*Comment, error) {
	if target != e.ID {
		if _, err := e.Block(target); err != nil {
			return nil, err
		}
	}
	c := &Comment{
		ID:        NewID(),
		Target:    target,
		CreatedBy: user,
		CreatedAt: Now(),
		Body:      body,
	}
	e.Comments = append(e.Comments, c)
	return c, nil
}

// Comment looks a comment up by ID.
func (e *Entity) Comment(id string) (*Comment, error) {
	for _, c := range e.Comments {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, apperr.NotFound("comment %s", id)
}

// AddReply appends a reply to the thread.
func (c *Comment) AddReply(body, user string) Reply {
	r := Reply{ID: NewID(), User: user, Body: body, Time: Now()}
	c.Replies = append(c.Replies, r)
	return r
}

// Clone returns a deep copy.
func (c *Comment) Clone() *Comment {
	cp := *c
	cp.Replies = slices.Clone(c.Replies)
	return &cp
}
