package core

import "github.com/vovakirdan/flopchat-server/internal/proto"

// Group is a named broadcast topic over live connections.
type Group struct {
	Name    string
	members map[*Conn]struct{}
}

// NewGroup constructs a group with no members.
func NewGroup(name string) *Group {
	return &Group{
		Name:    name,
		members: make(map[*Conn]struct{}),
	}
}

// Add inserts a connection. Returns true if newly added.
func (g *Group) Add(c *Conn) bool {
	if _, exists := g.members[c]; exists {
		return false
	}
	g.members[c] = struct{}{}
	return true
}

// Remove deletes a connection. Returns true if removed.
func (g *Group) Remove(c *Conn) bool {
	if _, exists := g.members[c]; !exists {
		return false
	}
	delete(g.members, c)
	return true
}

// Broadcast offers the frame to every member whose filter accepts its type.
// Slow or closed members miss it.
func (g *Group) Broadcast(f *proto.Frame) (delivered, dropped int) {
	for c := range g.members {
		if c.Accept != nil && !c.Accept(f.Type) {
			continue
		}
		if c.deliver(f) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Accepting returns the members whose filter accepts frameType.
func (g *Group) Accepting(frameType string) []*Conn {
	out := make([]*Conn, 0, len(g.members))
	for c := range g.members {
		if c.Accept == nil || c.Accept(frameType) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.members)
}

// Empty returns true if the group has no members.
func (g *Group) Empty() bool {
	return len(g.members) == 0
}
