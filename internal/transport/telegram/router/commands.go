// Package router matches incoming chat commands against a registered
// command tree and runs the handlers on a bounded worker pool.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

// Access controls who may invoke a command.
type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command describes one routable bot command. Route is the space-separated
// path it is registered under ("ping", "remind add").
type Command struct {
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request carries one parsed invocation into a handler.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// CommandManager routes updates to registered handlers. Handlers run on a
// worker pool so one slow command cannot stall the update feed.
type CommandManager struct {
	mu      sync.RWMutex
	tree    *routeNode
	aliases map[string]*routeNode
	owners  []int64

	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

const jobQueueSize = 256

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	return &CommandManager{
		tree:    newRouteTree(),
		aliases: map[string]*routeNode{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), jobQueueSize),
	}
}

// SetOwners replaces the owner allowlist. Called on config hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry replaces the whole command set. A /help command is added on top
// of whatever the caller registers. Safe to call while dispatching.
func (m *CommandManager) SetRegistry(cmds []Command) {
	all := make([]Command, 0, len(cmds)+1)
	all = append(all, cmds...)
	all = append(all, m.helpCommand())

	tree := newRouteTree()
	aliases := map[string]*routeNode{}
	leaves := make([]Command, 0, len(all))

	for _, c := range all {
		path := splitRoute(c.Route)
		if len(path) == 0 || c.Handle == nil {
			continue
		}
		c := c
		tree.insert(path, c)
		leaves = append(leaves, c)

		leaf := tree.lookup(path)
		if leaf == nil {
			continue
		}
		// The /menu name ("remind_add") doubles as a typed shortcut. The
		// bare base token must stay out of the alias map, or "/remind add"
		// would hit the alias before tree traversal sees the subcommand.
		if menu, ok := menuNameForRoute(path); ok && menu != path[0] {
			if _, taken := aliases[menu]; !taken {
				aliases[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.ContainsRune(a, ' ') {
				continue
			}
			aliases[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, taken := aliases[sa]; !taken {
					aliases[sa] = leaf
				}
			}
		}
	}

	m.mu.Lock()
	m.tree = tree
	m.aliases = aliases
	m.mu.Unlock()

	m.syncMenu(tree, leaves)
}

func (m *CommandManager) helpCommand() Command {
	return Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show command help",
		Usage:       "/help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(req.Args),
				&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	}
}

// syncMenu pushes the registry to the platform command menu when the adapter
// supports that. Fire and forget.
func (m *CommandManager) syncMenu(tree *routeNode, leaves []Command) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := menuFromRegistry(tree, leaves)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Debug("menu sync failed", logx.Err(err))
		}
	}()
}

// offer hands a job to the worker pool without blocking. False means the
// queue is full or already closed.
func (m *CommandManager) offer(job func()) (ok bool) {
	if job == nil {
		return false
	}
	defer func() {
		// Sending on a closed channel panics during shutdown.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- job:
		return true
	default:
		return false
	}
}
