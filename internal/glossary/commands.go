package glossary

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	kit "chimebot/internal/transport"
	"chimebot/internal/transport/telegram/router"
)

func sendHTML(ctx context.Context, req *router.Request, text string) {
	_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

// Commands exposes the glossary as /gloss subcommands.
func Commands(svc *Service) []router.Command {
	return []router.Command{
		{
			Route:       "gloss set",
			Description: "save a term definition",
			Usage:       "/gloss set <term> <definition>",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 2 {
					sendHTML(ctx, req, "usage: <code>/gloss set &lt;term&gt; &lt;definition&gt;</code>")
					return nil
				}
				term := req.Args[0]
				if err := svc.Set(ctx, term, strings.Join(req.Args[1:], " ")); err != nil {
					sendHTML(ctx, req, err.Error())
					return nil
				}
				sendHTML(ctx, req, fmt.Sprintf("✅ <b>%s</b> saved.", html.EscapeString(strings.ToLower(term))))
				return nil
			},
		},
		{
			Route:       "gloss get",
			Aliases:     []string{"def"},
			Description: "look up a term",
			Usage:       "/gloss get <term>  (alias: /def <term>)",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					sendHTML(ctx, req, "usage: <code>/gloss get &lt;term&gt;</code>")
					return nil
				}
				def, err := svc.Get(ctx, req.Args[0])
				switch {
				case errors.Is(err, ErrNotFound):
					sendHTML(ctx, req, fmt.Sprintf("no definition for <b>%s</b>", html.EscapeString(req.Args[0])))
				case err != nil:
					sendHTML(ctx, req, err.Error())
				default:
					sendHTML(ctx, req, fmt.Sprintf("<b>%s</b> — %s",
						html.EscapeString(strings.ToLower(req.Args[0])), html.EscapeString(def)))
				}
				return nil
			},
		},
		{
			Route:       "gloss del",
			Description: "delete a term",
			Usage:       "/gloss del <term>",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					sendHTML(ctx, req, "usage: <code>/gloss del &lt;term&gt;</code>")
					return nil
				}
				switch err := svc.Del(ctx, req.Args[0]); {
				case errors.Is(err, ErrNotFound):
					sendHTML(ctx, req, fmt.Sprintf("no definition for <b>%s</b>", html.EscapeString(req.Args[0])))
				case err != nil:
					sendHTML(ctx, req, err.Error())
				default:
					sendHTML(ctx, req, "🗑 Term removed.")
				}
				return nil
			},
		},
		{
			Route:       "gloss list",
			Description: "list all terms",
			Usage:       "/gloss list",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				entries, err := svc.List(ctx)
				if err != nil {
					sendHTML(ctx, req, err.Error())
					return nil
				}
				sendHTML(ctx, req, renderList(entries))
				return nil
			},
		},
	}
}

func renderList(entries []Entry) string {
	if len(entries) == 0 {
		return "No terms yet. Add one with <code>/gloss set term definition</code>."
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "📖 <b>Glossary</b>")
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("• <b>%s</b> — %s",
			html.EscapeString(e.Term), html.EscapeString(e.Definition)))
	}
	return strings.Join(lines, "\n")
}
