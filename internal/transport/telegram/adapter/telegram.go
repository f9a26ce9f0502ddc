// Package adapter speaks Telegram for the bot: it long-polls for updates,
// normalizes them into transport types, and sends replies with chunking
// under the platform's message size cap.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "chimebot/internal/runtime/supervisor"
	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout, default 10s
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	// updates holds the consumer channel; handlers load it on every event so
	// Start can swap it without touching telebot.
	updates atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates the consumer was too slow to take. Reported in
	// batches; per-update logging would flood under load.
	dropped uint64

	menuMu   sync.Mutex
	menuSeen uint64
	http     *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:  cfg,
		log:  log,
		bot:  bot,
		http: &http.Client{Timeout: 8 * time.Second},
	}
	// Seed the atomic with its concrete type before any handler can fire.
	var none chan<- kit.Update
	a.updates.Store(none)

	bot.Handle(tele.OnText, func(c tele.Context) error {
		a.forward(c.Message())
		return nil
	})
	return a, nil
}

func (a *Adapter) forward(m *tele.Message) {
	if m == nil || m.Sender == nil {
		return
	}
	out, _ := a.updates.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	up := kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
			IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		},
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.updates.Store(out)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup = sup
	a.runMu.Unlock()

	sup.Go0("updates.droplog", func(c context.Context) {
		tick := time.NewTicker(5 * time.Second)
		defer tick.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
				a.log.Warn("updates dropped, consumer behind",
					logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-tick.C:
				report()
			}
		}
	})

	// telebot's Start blocks and knows nothing about contexts; a sibling task
	// turns cancellation into bot.Stop.
	sup.Go0("poll.cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	sup.GoRestart0("poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		// Start returning while the context lives means the poller died.
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var none chan<- kit.Update
	a.updates.Store(none)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping",
		logx.Uint64("dropped_pending", atomic.LoadUint64(&a.dropped)))

	if sup != nil {
		sup.Cancel()
	}
	// bot.Stop should return quickly; keep it off the shutdown path anyway.
	go a.bot.Stop()

	if sup == nil {
		return nil
	}

	// Shutdown must not ride out a full long-poll cycle.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("stop timed out waiting for poller", logx.Err(err))
			return nil
		}
		a.log.Warn("stop finished with error", logx.Err(err))
	}
	return nil
}

const sendLimit = 4000

// chunkMessage splits text into pieces that fit Telegram's message size cap.
// Cuts land on a newline when one falls in the back two thirds of the window,
// and in HTML mode never inside an unclosed tag.
func chunkMessage(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = sendLimit
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var parts []string
	pos := 0
	for pos < len(runes) {
		end := pos + limit
		if end >= len(runes) {
			parts = append(parts, string(runes[pos:]))
			break
		}

		cut := end
		for i := end - 1; i > pos+limit/3; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		if html {
			if open := danglingTagStart(runes[pos:cut]); open > 0 {
				cut = pos + open
			}
		}
		if cut <= pos {
			cut = end
		}

		parts = append(parts, strings.TrimRight(string(runes[pos:cut]), "\n"))
		pos = cut
		for pos < len(runes) && runes[pos] == '\n' {
			pos++
		}
	}
	return parts
}

// danglingTagStart returns the index of a '<' with no matching '>' inside
// the window, or -1 when every tag closed.
func danglingTagStart(window []rune) int {
	open := -1
	for i, r := range window {
		switch r {
		case '<':
			open = i
		case '>':
			open = -1
		}
	}
	return open
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := chunkMessage(text, sendLimit, strings.EqualFold(opt.ParseMode, "HTML"))
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil && ctx.Err() != nil {
			return first, ctx.Err()
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

type menuEntry struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// UpdateMenuCommands pushes the command list into Telegram's "/" autocomplete
// (setMyCommands). Skips the network call when the list has not changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	entries := make([]menuEntry, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		// Telegram caps descriptions at 256 chars and the list at 100 entries.
		if len(desc) > 256 {
			desc = desc[:256]
		}
		entries = append(entries, menuEntry{Command: c.Command, Description: desc})
		if len(entries) >= 100 {
			break
		}
	}

	sum := menuFingerprint(entries)
	if sum == a.menuSeen {
		return nil
	}

	body, err := json.Marshal(struct {
		Commands []menuEntry `json:"commands"`
	}{Commands: entries})
	if err != nil {
		return err
	}

	url := "https://api.telegram.org/bot" + strings.TrimSpace(a.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reply struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	if resp.StatusCode/100 != 2 || !reply.OK {
		if reply.Description != "" {
			return fmt.Errorf("setMyCommands: %s (code=%d http=%d)", reply.Description, reply.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("setMyCommands: http=%d", resp.StatusCode)
	}

	a.menuSeen = sum
	a.log.Info("command menu synced", logx.Int("count", len(entries)))
	return nil
}

func menuFingerprint(entries []menuEntry) uint64 {
	h := fnv.New64a()
	for _, e := range entries {
		h.Write([]byte(e.Command))
		h.Write([]byte{0})
		h.Write([]byte(e.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
