package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templatebot/internal/eventbus"
	"templatebot/internal/storage"
	"templatebot/internal/task/engine"
	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
)

type captureSink struct {
	mu   sync.Mutex
	got  []Content
	to   []kit.ChatTarget
	errs []error
}

func (s *captureSink) Deliver(_ context.Context, to kit.ChatTarget, c Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c)
	s.to = append(s.to, to)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

var dest = kit.ChatTarget{ChatID: -100123}

func newService(t *testing.T, sink Sink) (*Service, storage.Store, <-chan eventbus.Event) {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	t.Cleanup(unsub)
	return New(Config{Destination: dest}, store, sink, logx.Nop(), bus), store, ch
}

func nextEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return eventbus.Event{}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tpl    storage.Template
		want   Content
		wantOK bool
	}{
		{"text only", storage.Template{Text: "hi"}, Content{Text: "hi"}, true},
		{"photo with caption", storage.Template{Text: "hi", ImagePath: "a.jpg"}, Content{Text: "hi", ImagePath: "a.jpg"}, true},
		{"photo without caption", storage.Template{ImagePath: "a.jpg"}, Content{ImagePath: "a.jpg"}, true},
		{
			"button",
			storage.Template{Text: "hi", ButtonText: "Open", ButtonURL: "https://x"},
			Content{Text: "hi", Button: &kit.Button{Text: "Open", URL: "https://x"}},
			true,
		},
		{"half button ignored", storage.Template{Text: "hi", ButtonText: "Open"}, Content{Text: "hi"}, true},
		{"empty", storage.Template{Text: "  "}, Content{Text: "  "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Render(tt.tpl)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeliverTemplateSendsCurrentContent(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	svc, store, events := newService(t, sink)
	ctx := context.Background()

	tpl, err := store.Create(ctx, storage.NewTemplate{Name: "promo", Text: "v1"})
	require.NoError(t, err)
	_, err = store.Update(ctx, tpl.ID, storage.Patch{Text: storage.Ptr("v2")})
	require.NoError(t, err)

	require.NoError(t, svc.JobFunc(tpl.ID)(ctx))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "v2", sink.got[0].Text)
	assert.Equal(t, dest, sink.to[0])
	assert.Equal(t, eventbus.DeliverySent, nextEvent(t, events).Type)
}

func TestDeliverTemplateMissingIsSkipped(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	svc, store, events := newService(t, sink)
	ctx := context.Background()

	tpl, err := store.Create(ctx, storage.NewTemplate{Name: "promo", Text: "x"})
	require.NoError(t, err)
	_, err = store.Delete(ctx, tpl.ID)
	require.NoError(t, err)

	err = svc.DeliverTemplate(ctx, tpl.ID)
	require.Error(t, err)
	assert.True(t, engine.IsNoRetry(err))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, sink.got)
	assert.Equal(t, eventbus.DeliverySkipped, nextEvent(t, events).Type)
}

func TestDeliverTemplateSinkFailureIsRetryable(t *testing.T) {
	t.Parallel()
	sink := &captureSink{errs: []error{errors.New("sink down")}}
	svc, store, events := newService(t, sink)
	ctx := context.Background()

	tpl, err := store.Create(ctx, storage.NewTemplate{Name: "promo", Text: "x"})
	require.NoError(t, err)

	err = svc.DeliverTemplate(ctx, tpl.ID)
	require.Error(t, err)
	assert.False(t, engine.IsNoRetry(err))
	assert.Equal(t, eventbus.DeliveryFailed, nextEvent(t, events).Type)

	require.NoError(t, svc.DeliverTemplate(ctx, tpl.ID))
}

func TestDeliverEmptyTemplateSkipped(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	svc, store, _ := newService(t, sink)
	ctx := context.Background()

	tpl, err := store.Create(ctx, storage.NewTemplate{Name: "blank"})
	require.NoError(t, err)
	err = svc.DeliverTemplate(ctx, tpl.ID)
	assert.True(t, engine.IsNoRetry(err))
	assert.Empty(t, sink.got)
}

func TestSendTest(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	svc, _, _ := newService(t, sink)
	require.NoError(t, svc.SendTest(context.Background()))
	require.Len(t, sink.got, 1)
	assert.Equal(t, TestMessage, sink.got[0].Text)
}

func TestRetryHintFromRateLimit(t *testing.T) {
	t.Parallel()
	err := retryHint(&kit.RateLimitedError{After: 3 * time.Second, Err: errors.New("429")})
	var ra engine.RetryAfterError
	require.ErrorAs(t, err, &ra)
	assert.GreaterOrEqual(t, ra.RetryAfter(), 3*time.Second)
	assert.NoError(t, retryHint(nil))
}

type fakeAdapter struct {
	kit.Adapter
	photo, text int
	opt         *kit.SendOptions
}

func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, _ string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.text++
	f.opt = opt
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, _ kit.ChatTarget, _, _ string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.photo++
	f.opt = opt
	return kit.MessageRef{}, nil
}

func TestAdapterSinkChoosesPhotoOrText(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	sink := AdapterSink{Adapter: fa}
	ctx := context.Background()

	require.NoError(t, sink.Deliver(ctx, dest, Content{Text: "hi"}))
	require.NoError(t, sink.Deliver(ctx, dest, Content{Text: "hi", ImagePath: "a.jpg", Button: &kit.Button{Text: "b", URL: "u"}}))
	assert.Equal(t, 1, fa.text)
	assert.Equal(t, 1, fa.photo)
	require.NotNil(t, fa.opt.LinkButton)
	assert.Equal(t, "u", fa.opt.LinkButton.URL)
}

func TestApplySwitchesDestination(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	svc, _, _ := newService(t, sink)

	other := kit.ChatTarget{ChatID: -100999, ThreadID: 7}
	svc.Apply(Config{Destination: other, RatePerSec: 100, Burst: 1})
	require.NoError(t, svc.SendTest(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.to, 1)
	assert.Equal(t, other, sink.to[0])
}
