package models

import (
	"github.com/starford/dragonden/internal/apperr"
)

// TargetKind tags what an order entry points at.
type TargetKind string

const (
	TargetEntity TargetKind = "entity"
	TargetBlock  TargetKind = "content_block"
)

// OrderEntry places one child entity or content block in its owner's display
// sequence. Hidden entries keep their slot.
type OrderEntry struct {
	Target  string
	Kind    TargetKind
	Visible bool
}

// Order is an entity's display sequence. It only changes through Append,
// InsertAfter and Hide.
type Order []OrderEntry

// IndexOf returns the position of target, or -1.
func (o Order) IndexOf(target string) int {
	for i, e := range o {
		if e.Target == target {
			return i
		}
	}
	return -1
}

// Append adds a visible entry at the end.
func (o *Order) Append(target string, kind TargetKind) {
	*o = append(*o, OrderEntry{Target: target, Kind: kind, Visible: true})
}

// InsertAfter adds a visible entry directly after anchor. Hidden entries count
// as anchors too; they never move.
func (o *Order) InsertAfter(anchor, target string, kind TargetKind) error {
	i := o.IndexOf(anchor)
	if i < 0 {
		return apperr.NotFound("order anchor %s", anchor)
	}
	s := *o
	s = append(s, OrderEntry{})
	copy(s[i+2:], s[i+1:])
	s[i+1] = OrderEntry{Target: target, Kind: kind, Visible: true}
	*o = s
	return nil
}

// Hide flips target's entry to invisible.
func (o Order) Hide(target string) error {
	i := o.IndexOf(target)
	if i < 0 {
		return apperr.NotFound("order entry %s", target)
	}
	o[i].Visible = false
	return nil
}

// Active returns the visible entries in order.
func (o Order) Active() []OrderEntry {
	out := make([]OrderEntry, 0, len(o))
	for _, e := range o {
		if e.Visible {
			out = append(out, e)
		}
	}
	return out
}
