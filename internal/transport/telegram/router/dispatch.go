package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "chimebot/internal/runtime/supervisor"
	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

// DispatchLoop consumes updates until ctx is cancelled or the channel closes.
// It owns the worker pool for the lifetime of the call.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started",
		logx.Int("workers", workers), logx.Int("queue_cap", cap(m.jobs)))

	// offer recovers the send-on-closed panic, so closing here is safe even
	// with producers still routing.
	var once sync.Once
	shutdownPool := func() {
		once.Do(func() { close(m.jobs) })
	}

	for i := 0; i < workers; i++ {
		i := i
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			return m.workLoop(c, i)
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		shutdownPool()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("update feed closed")
				return nil
			}
			m.handleUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) workLoop(ctx context.Context, idx int) error {
	m.log.Debug("command worker started", logx.Int("worker", idx))
	defer m.log.Debug("command worker stopped", logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-m.jobs:
			if !ok {
				return nil
			}
			if job == nil {
				continue
			}
			m.runJob(idx, job)
		}
	}
}

// runJob shields the worker from a panicking job. Middleware already recovers
// inside handlers; this covers everything around them.
func (m *CommandManager) runJob(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("command job panicked",
				logx.Int("worker", idx),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) handleUpdate(ctx context.Context, up kit.Update) {
	if up.Kind == kit.UpdateMessage {
		m.routeMessage(ctx, up)
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	tokens := tokenizeCommandLine(text)
	if len(tokens) == 0 {
		return
	}

	head := strings.TrimPrefix(tokens[0], "/")
	// "/cmd@BotName" in group chats.
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	rest := tokens[1:]

	m.mu.RLock()
	tree := m.tree
	aliases := m.aliases
	m.mu.RUnlock()

	if leaf := aliases[head]; leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		pos, flags, bools := parseFlags(rest)
		m.dispatch(ctx, up, cmd, splitRoute(cmd.Route), pos, rest, flags, bools)
		return
	}

	node, ok := tree.step(head)
	if !ok {
		m.reply(ctx, msg, "unknown command. try /help", nil)
		return
	}
	path := []string{head}
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		next, ok := node.step(rest[0])
		if !ok {
			break
		}
		node = next
		path = append(path, rest[0])
		rest = rest[1:]
	}

	if node.cmd == nil {
		// Bare group like "/remind" answers with its help page.
		m.reply(ctx, msg, m.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}

	cmd := *node.cmd
	pos, flags, bools := parseFlags(rest)
	m.dispatch(ctx, up, cmd, path, pos, rest, flags, bools)
}

func (m *CommandManager) dispatch(ctx context.Context, up kit.Update, cmd Command, path, pos, raw []string, flags map[string]string, bools map[string]bool) {
	msg := up.Message
	if msg == nil {
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		m.reply(ctx, msg, "unauthorized", nil)
		return
	}

	rid := nextRequestID()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)

	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:    msg.FromID,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger:    reqLog,
	}

	handler := wrap(cmd.Handle,
		withRecover(reqLog),
		withRequestLog(reqLog),
		withTimeout(cmd.Timeout),
	)
	if !m.offer(func() { _ = handler(ctx, req) }) {
		m.reply(ctx, msg, "busy, try again", nil)
	}
}

func (m *CommandManager) reply(ctx context.Context, msg *kit.Message, text string, opt *kit.SendOptions) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := m.adapter.SendText(ctx, to, text, opt); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}
