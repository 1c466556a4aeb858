package router

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templatebot/internal/conversation"
	"templatebot/internal/storage"
	"templatebot/internal/task/engine"
	"templatebot/internal/task/scheduler"
	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
)

const owner int64 = 1001

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	kit.Adapter
	out chan sent

	mu   sync.Mutex
	menu []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{out: make(chan sent, 128)} }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.out <- sent{to: to, text: text, opt: opt}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return sent{}
	}
}

func (f *fakeAdapter) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.out:
		t.Fatalf("unexpected message %q", s.text)
	case <-time.After(100 * time.Millisecond):
	}
}

type nopRunner struct{}

func (nopRunner) Enqueue(engine.Task) error { return nil }

type okTester struct{ calls int }

func (o *okTester) SendTest(context.Context) error { o.calls++; return nil }

func privateMsg(from int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: from, FromID: from, Text: text, IsPrivate: true}}
}

type fixture struct {
	m     *CommandManager
	ad    *fakeAdapter
	store storage.Store
	conv  *conversation.Engine
	in    chan kit.Update
}

func start(t *testing.T, opt Options) *fixture {
	t.Helper()
	f := &fixture{ad: newFakeAdapter(), store: storage.NewMemory(), in: make(chan kit.Update, 64)}
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, nopRunner{}, logx.Nop(), nil)
	f.conv = conversation.New(conversation.Deps{Store: f.store, Scheduler: sched, Log: logx.Nop()})
	f.m = NewCommandManager(logx.Nop(), f.ad, owner, opt)
	f.m.SetRegistry(BotCommands(f.conv, &okTester{}), ConversationHandler(f.conv))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.m.DispatchLoop(ctx, f.in)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func TestUnauthorizedCommandIsRefused(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})

	f.in <- privateMsg(666, "/add_template")
	got := f.ad.next(t)
	assert.Equal(t, MsgNoAccess, got.text)
	assert.Equal(t, int64(666), got.to.ChatID)

	_, ok := f.conv.Session(666)
	assert.False(t, ok)
	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnauthorizedPrivateTextIsRefused(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})
	f.in <- privateMsg(666, "hello")
	assert.Equal(t, MsgNoAccess, f.ad.next(t).text)
}

func TestGroupChatterFromOthersIsIgnored(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})
	f.in <- kit.Update{Message: &kit.Message{ChatID: -100, FromID: 666, Text: "hi all"}}
	f.ad.none(t)
}

func TestOwnerCommands(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})

	f.in <- privateMsg(owner, "/start")
	assert.Equal(t, msgWelcome, f.ad.next(t).text)

	f.in <- privateMsg(owner, "/nope")
	assert.Equal(t, msgUnknownCommand, f.ad.next(t).text)

	f.in <- privateMsg(owner, "/list_templates@template_bot")
	assert.Equal(t, "No saved templates.", f.ad.next(t).text)

	f.in <- privateMsg(owner, "/templates")
	assert.Equal(t, "No saved templates.", f.ad.next(t).text)

	f.in <- privateMsg(owner, "/cancel")
	got := f.ad.next(t)
	assert.Equal(t, msgNothingAbort, got.text)
	assert.True(t, got.opt.RemoveMenu)
}

func TestAddTemplateThroughRouter(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})

	for _, step := range []string{"/add_template", "promo", "Hello", "none", "none"} {
		f.in <- privateMsg(owner, step)
		f.ad.next(t)
	}
	tpl, err := f.store.GetByName(context.Background(), "promo")
	require.NoError(t, err)
	assert.Equal(t, "Hello", tpl.Text)
}

func TestConversationRepliesCarryMenus(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})
	_, err := f.store.Create(context.Background(), storage.NewTemplate{Name: "promo"})
	require.NoError(t, err)

	f.in <- privateMsg(owner, "/schedule")
	got := f.ad.next(t)
	assert.Equal(t, []string{"promo"}, got.opt.Menu)
}

func TestIdleMessageGetsHint(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})
	f.in <- privateMsg(owner, "just text")
	assert.Equal(t, msgIdleHint, f.ad.next(t).text)
}

func TestPerSenderOrdering(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, owner, Options{Workers: 4})

	var mu sync.Mutex
	var seen []string
	m.SetRegistry(nil, func(ctx context.Context, req *Request) error {
		// Uneven work must not reorder one sender's messages.
		if n, _ := strconv.Atoi(req.Update.Message.Text); n%3 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		mu.Lock()
		seen = append(seen, req.Update.Message.Text)
		mu.Unlock()
		return nil
	})

	in := make(chan kit.Update, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, in)
	}()

	want := make([]string, 0, 30)
	for i := range 30 {
		s := strconv.Itoa(i)
		want = append(want, s)
		in <- privateMsg(owner, s)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, want, seen)
}

func TestSetOwnerTakesEffect(t *testing.T) {
	t.Parallel()
	f := start(t, Options{})
	f.m.SetOwner(2002)
	f.in <- privateMsg(owner, "/start")
	assert.Equal(t, MsgNoAccess, f.ad.next(t).text)
	f.in <- privateMsg(2002, "/start")
	assert.Equal(t, msgWelcome, f.ad.next(t).text)
}

func TestPublishMenuAndHelp(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, owner, Options{})
	m.SetRegistry([]Command{
		{Name: "start", Description: "Start", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "secret", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
		{Name: "broken"},
	}, nil)

	require.NoError(t, m.PublishMenu(context.Background()))
	ad.mu.Lock()
	menu := ad.menu
	ad.mu.Unlock()
	assert.Equal(t, []kit.BotCommand{
		{Command: "start", Description: "Start"},
		{Command: "help", Description: "Show available commands"},
	}, menu)

	help := m.helpText()
	assert.Contains(t, help, "/start - Start")
	assert.NotContains(t, help, "secret")
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in         string
		name, rest string
		ok         bool
	}{
		{"/start", "start", "", true},
		{"  /Cancel_Schedule  promo day  ", "cancel_schedule", "promo day", true},
		{"/cancel_schedule@my_bot promo", "cancel_schedule", "promo", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		name, rest, ok := parseCommand(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "add_template", sanitizeTelegramCommand("/Add-Template"))
	assert.Equal(t, "cmd_1x", sanitizeTelegramCommand("1x"))
	assert.Equal(t, "", sanitizeTelegramCommand("!!!"))
	assert.Len(t, sanitizeTelegramCommand("a_very_long_command_name_that_goes_beyond_limits"), 32)
}
