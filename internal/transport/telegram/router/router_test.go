package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func msgUpdate(text string, fromID int64) kit.Update {
	return kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ID: 1, ChatID: 42, FromID: fromID, Text: text},
	}
}

func drainJobs(m *CommandManager) {
	for {
		select {
		case job := <-m.jobs:
			if job != nil {
				job()
			}
		default:
			return
		}
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "plain", in: "/remind add 09:00 standup", want: []string{"/remind", "add", "09:00", "standup"}},
		{name: "quoted", in: `/task add "buy milk" --urgency high`, want: []string{"/task", "add", "buy milk", "--urgency", "high"}},
		{name: "single quotes", in: "/gloss set sla 'service level agreement'", want: []string{"/gloss", "set", "sla", "service level agreement"}},
		{name: "escaped", in: `/gloss set q a\"b`, want: []string{"/gloss", "set", "q", `a"b`}},
		{name: "empty", in: "   ", want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tokenizeCommandLine(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tokenizeCommandLine(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"09:00", "standup", "--chat", "-1001234", "--force", "-v"})
	if !reflect.DeepEqual(pos, []string{"09:00", "standup"}) {
		t.Fatalf("pos = %v", pos)
	}
	if flags["chat"] != "-1001234" {
		t.Fatalf("flags[chat] = %q, want -1001234", flags["chat"])
	}
	if !bools["force"] || !bools["v"] {
		t.Fatalf("bools = %v, want force and v set", bools)
	}
}

func TestParseFlagsNegativeNumberIsPositional(t *testing.T) {
	t.Parallel()
	pos, flags, _ := parseFlags([]string{"-1001234", "--chat=-42"})
	if !reflect.DeepEqual(pos, []string{"-1001234"}) {
		t.Fatalf("pos = %v, want [-1001234]", pos)
	}
	if flags["chat"] != "-42" {
		t.Fatalf("flags[chat] = %q, want -42", flags["chat"])
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"Remind Add", "remind_add"},
		{"task-auto", "task_auto"},
		{"9lives", "cmd_9lives"},
		{"__x__", "x"},
		{"///", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitizeTelegramCommand(tt.in); got != tt.want {
				t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRouteMessageSubcommand(t *testing.T) {
	fa := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), fa, nil)

	var gotArgs []string
	var gotFlags map[string]string
	m.SetRegistry([]Command{
		{
			Route: "remind add",
			Handle: func(ctx context.Context, req *Request) error {
				gotArgs = req.Args
				gotFlags = req.Flags
				return nil
			},
		},
	})

	m.routeMessage(context.Background(), msgUpdate("/remind add 09:00 standup --chat=-77", 5))
	drainJobs(m)

	if !reflect.DeepEqual(gotArgs, []string{"09:00", "standup"}) {
		t.Fatalf("args = %v, want [09:00 standup]", gotArgs)
	}
	if gotFlags["chat"] != "-77" {
		t.Fatalf("flags[chat] = %q, want -77", gotFlags["chat"])
	}
}

func TestRouteMessageAlias(t *testing.T) {
	fa := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), fa, nil)

	called := false
	m.SetRegistry([]Command{
		{
			Route:   "remind list",
			Aliases: []string{"rl"},
			Handle: func(ctx context.Context, req *Request) error {
				called = true
				return nil
			},
		},
	})

	m.routeMessage(context.Background(), msgUpdate("/rl", 5))
	drainJobs(m)
	if !called {
		t.Fatal("alias /rl did not reach handler")
	}

	// Auto alias from the route tokens.
	called = false
	m.routeMessage(context.Background(), msgUpdate("/remind_list", 5))
	drainJobs(m)
	if !called {
		t.Fatal("auto alias /remind_list did not reach handler")
	}
}

func TestRouteMessageUnknown(t *testing.T) {
	fa := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), fa, nil)
	m.SetRegistry(nil)

	m.routeMessage(context.Background(), msgUpdate("/nope", 5))
	drainJobs(m)

	texts := fa.texts()
	if len(texts) != 1 || texts[0] != "unknown command. try /help" {
		t.Fatalf("sent = %v, want unknown-command reply", texts)
	}
}

func TestOwnerOnlyCommand(t *testing.T) {
	fa := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), fa, []int64{7})

	called := false
	m.SetRegistry([]Command{
		{
			Route:  "task auto",
			Access: AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				called = true
				return nil
			},
		},
	})

	// Non-owner is rejected.
	m.routeMessage(context.Background(), msgUpdate("/task auto on", 5))
	drainJobs(m)
	if called {
		t.Fatal("non-owner reached owner-only handler")
	}
	texts := fa.texts()
	if len(texts) != 1 || texts[0] != "unauthorized" {
		t.Fatalf("sent = %v, want [unauthorized]", texts)
	}

	// Owner passes.
	m.routeMessage(context.Background(), msgUpdate("/task auto on", 7))
	drainJobs(m)
	if !called {
		t.Fatal("owner did not reach owner-only handler")
	}
}

func TestHelpListsCommands(t *testing.T) {
	fa := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), fa, nil)
	m.SetRegistry([]Command{
		{Route: "ping", Description: "liveness check", Handle: func(ctx context.Context, req *Request) error { return nil }},
	})

	txt := m.helpText(nil)
	if txt == "" {
		t.Fatal("helpText returned empty string")
	}
	for _, want := range []string{"ping", "help"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("help text missing %q:\n%s", want, txt)
		}
	}
}

func TestDispatchLoopProcessesUpdates(t *testing.T) {
	fa := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), fa, nil)

	done := make(chan struct{})
	m.SetRegistry([]Command{
		{
			Route: "ping",
			Handle: func(ctx context.Context, req *Request) error {
				close(done)
				return nil
			},
		},
	})

	updates := make(chan kit.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(loopDone)
	}()

	updates <- msgUpdate("/ping", 5)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked via dispatch loop")
	}

	cancel()
	select {
	case <-loopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not stop after cancel")
	}
}
