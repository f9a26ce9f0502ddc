package agenda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	kit "chimebot/internal/transport"
	"chimebot/internal/transport/telegram/router"
)

func sendHTML(ctx context.Context, req *router.Request, text string) {
	_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

// chatFromFlags resolves the target chat for an entry: --chat wins, the
// invoking chat is the fallback.
func chatFromFlags(req *router.Request) (int64, error) {
	v, ok := req.Flags["chat"]
	if !ok {
		return req.Chat.ChatID, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid --chat: must be a numeric chat id")
	}
	return id, nil
}

// ReminderCommands exposes the daily reminder book as /remind subcommands.
func ReminderCommands(svc *Service) []router.Command {
	return []router.Command{
		{
			Route:       "remind add",
			Aliases:     []string{"ra"},
			Description: "add a daily reminder",
			Usage:       "/remind add HH:MM <text> [--chat id]",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 2 {
					sendHTML(ctx, req, "usage: <code>/remind add HH:MM &lt;text&gt;</code>")
					return nil
				}
				hour, minute, err := parseClockTime(req.Args[0])
				if err != nil {
					sendHTML(ctx, req, err.Error())
					return nil
				}
				chat, err := chatFromFlags(req)
				if err != nil {
					sendHTML(ctx, req, err.Error())
					return nil
				}
				e, err := svc.AddSchedule(ctx, hour, minute, strings.Join(req.Args[1:], " "), chat)
				if err != nil {
					if IsValidation(err) {
						sendHTML(ctx, req, err.Error())
					} else {
						sendHTML(ctx, req, "failed: "+err.Error())
					}
					return nil
				}
				sendHTML(ctx, req, fmt.Sprintf("✅ Reminder <code>#%d</code> set for <b>%s</b> daily.", e.ID, e.Time))
				return nil
			},
		},
		{
			Route:       "remind list",
			Aliases:     []string{"rl"},
			Description: "list daily reminders",
			Usage:       "/remind list",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				text, err := svc.ScheduleList(ctx)
				if err != nil {
					sendHTML(ctx, req, "failed: "+err.Error())
					return nil
				}
				sendHTML(ctx, req, text)
				return nil
			},
		},
		{
			Route:       "remind remove",
			Aliases:     []string{"rr"},
			Description: "remove a reminder by id",
			Usage:       "/remind remove <id>",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					sendHTML(ctx, req, "usage: <code>/remind remove &lt;id&gt;</code>")
					return nil
				}
				id, perr := strconv.ParseInt(req.Args[0], 10, 64)
				if perr != nil {
					sendHTML(ctx, req, "invalid id: must be a number")
					return nil
				}
				switch err := svc.RemoveSchedule(ctx, id); {
				case errors.Is(err, ErrNotFound):
					sendHTML(ctx, req, fmt.Sprintf("no reminder with id %d", id))
				case err != nil:
					sendHTML(ctx, req, "failed: "+err.Error())
				default:
					sendHTML(ctx, req, "🗑 Reminder removed.")
				}
				return nil
			},
		},
	}
}

// TaskCommands exposes the task book and its hourly summary as /task
// subcommands.
func TaskCommands(svc *Service) []router.Command {
	return []router.Command{
		{
			Route:       "task add",
			Aliases:     []string{"ta"},
			Description: "add a task",
			Usage:       "/task add <text> [--urgency low|medium|high] [--due YYYY-MM-DD]",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) == 0 {
					sendHTML(ctx, req, "usage: <code>/task add &lt;text&gt;</code>")
					return nil
				}
				e, err := svc.AddTask(ctx, strings.Join(req.Args, " "), req.Flags["urgency"], req.Flags["due"])
				if err != nil {
					if IsValidation(err) {
						sendHTML(ctx, req, err.Error())
					} else {
						sendHTML(ctx, req, "failed: "+err.Error())
					}
					return nil
				}
				sendHTML(ctx, req, fmt.Sprintf("✅ Task <code>#%d</code> added.", e.ID))
				return nil
			},
		},
		{
			Route:       "task list",
			Aliases:     []string{"tl"},
			Description: "show the task checklist",
			Usage:       "/task list",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				text, err := svc.Checklist(ctx)
				if err != nil {
					sendHTML(ctx, req, "failed: "+err.Error())
					return nil
				}
				sendHTML(ctx, req, text)
				return nil
			},
		},
		{
			Route:       "task remove",
			Aliases:     []string{"tr", "done"},
			Description: "remove a task by id",
			Usage:       "/task remove <id>  (alias: /done <id>)",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					sendHTML(ctx, req, "usage: <code>/task remove &lt;id&gt;</code>")
					return nil
				}
				id, perr := strconv.ParseInt(req.Args[0], 10, 64)
				if perr != nil {
					sendHTML(ctx, req, "invalid id: must be a number")
					return nil
				}
				switch err := svc.RemoveTask(ctx, id); {
				case errors.Is(err, ErrNotFound):
					sendHTML(ctx, req, fmt.Sprintf("no task with id %d", id))
				case err != nil:
					sendHTML(ctx, req, "failed: "+err.Error())
				default:
					sendHTML(ctx, req, "🗑 Task removed.")
				}
				return nil
			},
		},
		{
			Route:       "task auto",
			Description: "toggle the hourly task summary",
			Usage:       "/task auto [on|off] [--chat id]",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) == 0 {
					auto, err := svc.TaskAuto(ctx)
					if err != nil {
						sendHTML(ctx, req, "failed: "+err.Error())
						return nil
					}
					state := "off"
					if auto.Enabled {
						state = "on"
					}
					sendHTML(ctx, req, fmt.Sprintf("Hourly task summary is <b>%s</b>.", state))
					return nil
				}
				var enabled bool
				switch strings.ToLower(req.Args[0]) {
				case "on":
					enabled = true
				case "off":
					enabled = false
				default:
					sendHTML(ctx, req, "usage: <code>/task auto on|off [--chat id]</code>")
					return nil
				}
				var chat int64
				if v, ok := req.Flags["chat"]; ok {
					id, perr := strconv.ParseInt(v, 10, 64)
					if perr != nil || id == 0 {
						sendHTML(ctx, req, "invalid --chat: must be a numeric chat id")
						return nil
					}
					chat = id
				}
				auto, err := svc.SetTaskAuto(ctx, enabled, chat)
				if err != nil {
					sendHTML(ctx, req, "failed: "+err.Error())
					return nil
				}
				if auto.Enabled {
					sendHTML(ctx, req, "🕐 Hourly task summary <b>enabled</b>.")
				} else {
					sendHTML(ctx, req, "Hourly task summary <b>disabled</b>.")
				}
				return nil
			},
		},
	}
}
