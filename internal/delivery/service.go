package delivery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"templatebot/internal/eventbus"
	"templatebot/internal/storage"
	"templatebot/internal/task/engine"
	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
)

const TestMessage = "Test message: the bot is working."

// Templates resolves a template id at fire time.
type Templates interface {
	GetByID(ctx context.Context, id int64) (storage.Template, error)
}

type Config struct {
	Destination kit.ChatTarget
	// RatePerSec bounds sends to the destination; 0 disables the limiter.
	RatePerSec float64
	Burst      int
}

type Service struct {
	store Templates
	sink  Sink
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

type Result struct {
	TemplateID int64
	Name       string
	Kind       string // photo or text
	Duration   time.Duration
	Err        string
}

func New(cfg Config, store Templates, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		store: store,
		sink:  sink,
		log:   log.With(logx.String("comp", "delivery")),
		bus:   bus,
		now:   time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the destination and send rate. Sends already waiting on the
// old limiter keep it.
func (s *Service) Apply(cfg Config) {
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(cfg.Burst, 1))
	}
	s.mu.Lock()
	s.cfg, s.limiter = cfg, lim
	s.mu.Unlock()
}

// JobFunc returns the callback registered with the scheduler for a template.
func (s *Service) JobFunc(templateID int64) func(ctx context.Context) error {
	return func(ctx context.Context) error { return s.DeliverTemplate(ctx, templateID) }
}

// DeliverTemplate sends the current content of a template. A missing template
// skips the occurrence without retry; later occurrences still run.
func (s *Service) DeliverTemplate(ctx context.Context, templateID int64) error {
	start := s.now()
	tpl, err := s.store.GetByID(ctx, templateID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("template missing; occurrence skipped", logx.Int64("template_id", templateID))
		s.publish(eventbus.DeliverySkipped, Result{TemplateID: templateID, Err: "template not found"})
		return engine.NoRetry(fmt.Errorf("template %d: %w", templateID, err))
	}
	if err != nil {
		s.log.Error("template lookup failed", logx.Int64("template_id", templateID), logx.Err(err))
		s.publish(eventbus.DeliveryFailed, Result{TemplateID: templateID, Err: err.Error()})
		return fmt.Errorf("template %d: %w", templateID, err)
	}

	c, ok := Render(tpl)
	res := Result{TemplateID: tpl.ID, Name: tpl.Name, Kind: c.kind()}
	if !ok {
		s.log.Warn("template has nothing to send; occurrence skipped", logx.String("template", tpl.Name))
		res.Err = "empty template"
		s.publish(eventbus.DeliverySkipped, res)
		return engine.NoRetry(fmt.Errorf("template %q is empty", tpl.Name))
	}

	err = s.send(ctx, c)
	res.Duration = s.now().Sub(start)
	if err != nil {
		res.Err = err.Error()
		s.log.Error("delivery failed",
			logx.String("template", tpl.Name),
			logx.String("kind", res.Kind),
			logx.Err(err),
		)
		s.publish(eventbus.DeliveryFailed, res)
		if errors.Is(err, fs.ErrNotExist) {
			return engine.NoRetry(err)
		}
		return err
	}
	s.log.Info("template delivered",
		logx.String("template", tpl.Name),
		logx.String("kind", res.Kind),
		logx.Duration("took", res.Duration),
	)
	s.publish(eventbus.DeliverySent, res)
	return nil
}

// SendTest sends the diagnostic message to the destination.
func (s *Service) SendTest(ctx context.Context) error {
	if err := s.send(ctx, Content{Text: TestMessage}); err != nil {
		s.log.Warn("test message failed", logx.Err(err))
		return err
	}
	s.log.Info("test message sent")
	return nil
}

func (s *Service) send(ctx context.Context, c Content) error {
	s.mu.RLock()
	dst, lim := s.cfg.Destination, s.limiter
	s.mu.RUnlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	return s.sink.Deliver(ctx, dst, c)
}

func (s *Service) publish(typ string, r Result) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: r})
}

// Render maps a template to content. It reports false when there is
// neither text nor an image to send.
func Render(t storage.Template) (Content, bool) {
	c := Content{Text: t.Text}
	if t.HasImage() {
		c.ImagePath = t.ImagePath
	}
	if t.HasButton() {
		c.Button = &kit.Button{Text: t.ButtonText, URL: t.ButtonURL}
	}
	return c, c.ImagePath != "" || strings.TrimSpace(c.Text) != ""
}

func (c Content) kind() string {
	if c.ImagePath != "" {
		return "photo"
	}
	return "text"
}
