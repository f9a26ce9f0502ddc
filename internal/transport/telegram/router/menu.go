package router

import (
	"sort"
	"strings"
	"unicode"

	kit "chimebot/internal/transport"
)

const menuCommandMax = 32

// sanitizeTelegramCommand squeezes an arbitrary name into the shape Telegram
// allows for bot commands: [a-z0-9_], at most 32 chars, starting with a
// letter. Separators collapse into single underscores, anything else is
// dropped.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			pendingSep = true
		}
	}

	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > menuCommandMax {
		out = strings.TrimRight(out[:menuCommandMax], "_")
	}
	return out
}

// menuNameForRoute derives the menu command for a route: path tokens joined
// with underscores, then sanitized ("remind add" becomes "remind_add").
func menuNameForRoute(path []string) (string, bool) {
	if len(path) == 0 {
		return "", false
	}
	name := sanitizeTelegramCommand(strings.Join(path, "_"))
	if name == "" {
		return "", false
	}
	return name, true
}

// menuFromRegistry assembles the command list shown by Telegram clients.
// Top-level entries come first, then underscore shortcuts for nested routes.
// Telegram caps the list at 100 entries.
func menuFromRegistry(tree *routeNode, cmds []Command) []kit.BotCommand {
	type candidate struct {
		name string
		desc string
		rank int
	}
	best := map[string]candidate{}

	consider := func(name, desc string, rank int) {
		name = sanitizeTelegramCommand(name)
		if name == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		cur, ok := best[name]
		if ok && (cur.rank < rank || (cur.rank == rank && len(cur.desc) <= len(desc))) {
			return
		}
		best[name] = candidate{name: name, desc: desc, rank: rank}
	}

	if tree != nil {
		for _, name := range tree.childNames() {
			node, _ := tree.step(name)
			if node == nil {
				continue
			}
			desc := nodeSummary(node)
			if subtreeOwnerOnly(node) {
				desc = "🔒 " + desc
			}
			consider(name, desc, 0)
		}
	}

	for _, c := range cmds {
		path := splitRoute(c.Route)
		if len(path) < 2 {
			// Single-token commands are covered by the top-level pass.
			continue
		}
		name, ok := menuNameForRoute(path)
		if !ok {
			continue
		}
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = strings.Join(path, " ")
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		consider(name, desc, 1)
	}

	list := make([]candidate, 0, len(best))
	for _, c := range best {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].rank != list[j].rank {
			return list[i].rank < list[j].rank
		}
		return list[i].name < list[j].name
	})
	if len(list) > 100 {
		list = list[:100]
	}

	out := make([]kit.BotCommand, len(list))
	for i, c := range list {
		out[i] = kit.BotCommand{Command: c.name, Description: c.desc}
	}
	return out
}
