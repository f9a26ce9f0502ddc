package router

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// helpText renders the help page for path, nil meaning the top-level index.
// Output is Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	tree := m.tree
	aliases := m.aliases
	m.mu.RUnlock()

	node := tree
	resolved := make([]string, 0, len(path))
	for _, tok := range path {
		next, ok := node.step(tok)
		if !ok {
			// Help for an alias shows its target command.
			if leaf := aliases[tok]; leaf != nil && leaf.cmd != nil {
				node = leaf
				resolved = splitRoute(leaf.cmd.Route)
				break
			}
			return helpUnknown()
		}
		node = next
		resolved = append(resolved, tok)
	}

	if len(resolved) == 0 {
		return m.renderIndex(tree)
	}
	return m.renderCommand(node, resolved)
}

func helpUnknown() string {
	return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the command list."
}

type indexRow struct {
	name  string
	desc  string
	owner bool
}

func (m *CommandManager) renderIndex(tree *routeNode) string {
	rows := make([]indexRow, 0, len(tree.children))
	for _, name := range tree.childNames() {
		node, _ := tree.step(name)
		if node == nil {
			continue
		}
		rows = append(rows, indexRow{
			name:  name,
			desc:  nodeSummary(node),
			owner: subtreeOwnerOnly(node),
		})
	}
	// Owner-only entries sink to the bottom, alphabetical within each half.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].owner != rows[j].owner {
			return !rows[i].owner
		}
		return rows[i].name < rows[j].name
	})

	var b strings.Builder
	b.WriteString("📚 <b>Commands</b>\n")
	b.WriteString("Type <code>/help &lt;cmd&gt;</code> for details.\n")
	for _, r := range rows {
		b.WriteString(bullet(r.owner))
		b.WriteString("<code>/" + html.EscapeString(r.name) + "</code>")
		if r.desc != "" {
			b.WriteString(" - " + html.EscapeString(r.desc))
		}
		b.WriteByte('\n')
	}
	b.WriteString("Hint: type <code>/</code> in the message field to get autocomplete.")
	return b.String()
}

func bullet(ownerOnly bool) string {
	if ownerOnly {
		return "• 🔒 "
	}
	return "• "
}

func (m *CommandManager) renderCommand(node *routeNode, path []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 <b>Help</b> <code>%s</code>\n", html.EscapeString("/"+strings.Join(path, " ")))

	switch {
	case node != nil && node.cmd != nil:
		c := node.cmd
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(html.EscapeString(d) + "\n")
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString("🔒 <i>Owner only</i>\n")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.WriteString("<b>Usage</b>\n<code>" + html.EscapeString(u) + "</code>\n")
		}
		if short := commandShortcuts(*c); len(short) > 0 {
			b.WriteString("<b>Shortcuts</b>\n")
			for _, s := range short {
				b.WriteString("• <code>/" + html.EscapeString(s) + "</code>\n")
			}
		}
	default:
		b.WriteString("Command group, pick a subcommand.\n")
		if subtreeOwnerOnly(node) {
			b.WriteString("🔒 <i>Owner only</i>\n")
		}
	}

	if node != nil && len(node.children) > 0 {
		b.WriteString("<b>Subcommands</b>\n")
		for _, name := range node.childNames() {
			child, _ := node.step(name)
			if child == nil {
				continue
			}
			full := "/" + strings.Join(path, " ") + " " + name
			b.WriteString(bullet(subtreeOwnerOnly(child)))
			b.WriteString("<code>" + html.EscapeString(full) + "</code>")
			if d := nodeSummary(child); d != "" {
				b.WriteString(" - " + html.EscapeString(d))
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// nodeSummary is the one-line description shown in lists. Groups without a
// description get a preview of their subcommands instead.
func nodeSummary(n *routeNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	more := false
	if len(kids) > 3 {
		kids = kids[:3]
		more = true
	}
	s := "subcommands: " + strings.Join(kids, ", ")
	if more {
		s += ", …"
	}
	return s
}

// subtreeOwnerOnly reports whether every command under n is owner-gated, in
// which case the whole entry renders locked.
func subtreeOwnerOnly(n *routeNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil && n.cmd.Access != AccessOwnerOnly {
		return false
	}
	for _, child := range n.children {
		if !subtreeOwnerOnly(child) {
			return false
		}
	}
	return true
}

// commandShortcuts lists every single-token way to invoke c: the menu name
// plus declared aliases and their sanitized forms.
func commandShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if menu, ok := menuNameForRoute(splitRoute(c.Route)); ok {
		add(menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.ContainsRune(a, ' ') {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
