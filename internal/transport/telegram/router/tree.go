package router

import (
	"sort"
	"strings"
)

// routeNode is one level of the command tree. Leaves carry the bound
// command, inner nodes group subcommands.
type routeNode struct {
	name     string
	cmd      *Command
	children map[string]*routeNode
}

func newRouteTree() *routeNode {
	return &routeNode{children: map[string]*routeNode{}}
}

// splitRoute turns "remind add" into its path tokens.
func splitRoute(route string) []string {
	fields := strings.Fields(route)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (n *routeNode) insert(path []string, c Command) {
	cur := n
	for _, tok := range path {
		child := cur.children[tok]
		if child == nil {
			child = &routeNode{name: tok, children: map[string]*routeNode{}}
			cur.children[tok] = child
		}
		cur = child
	}
	cur.cmd = &c
}

func (n *routeNode) lookup(path []string) *routeNode {
	cur := n
	for _, tok := range path {
		cur = cur.children[tok]
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (n *routeNode) step(tok string) (*routeNode, bool) {
	child, ok := n.children[tok]
	return child, ok
}

func (n *routeNode) childNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
