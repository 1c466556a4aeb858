package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"templatebot/internal/eventbus"
	"templatebot/internal/storage"
	"templatebot/internal/task/scheduler"
	"templatebot/pkg/logx"
)

// startFunc opens a flow; stateDone means no session is created.
type startFunc func(e *Engine, ctx context.Context, s *Session) (State, []Reply)

// stepFunc consumes one message. Returning the current state re-prompts,
// stateDone ends the session.
type stepFunc func(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply)

var starters = map[Flow]startFunc{
	FlowAdd:      startAdd,
	FlowEdit:     startEdit,
	FlowDelete:   startDelete,
	FlowSchedule: startSchedule,
}

var transitions = map[State]stepFunc{
	StateWaitingName:       stepName,
	StateWaitingText:       stepText,
	StateWaitingImage:      stepImage,
	StateWaitingButtonText: stepButtonText,
	StateWaitingButtonURL:  stepButtonURL,

	StateEditWaitingTemplate:  stepEditTemplate,
	StateEditWaitingField:     stepEditField,
	StateEditWaitingValue:     stepEditValue,
	StateEditWaitingButtonURL: stepEditButtonURL,

	StateDeleteWaitingTemplate: stepDeleteTemplate,

	StateScheduleWaitingTemplate:  stepScheduleTemplate,
	StateScheduleWaitingSelection: stepScheduleSelection,
}

var scheduleMenu = []string{
	scheduler.LabelDailyNoon,
	scheduler.LabelEvery12Hours,
	scheduler.LabelEveryMinute,
	optRemoveTimer,
	optCancel,
}

func reply(text string) []Reply { return []Reply{{Text: text}} }

func final(text string) []Reply { return []Reply{{Text: text, RemoveMenu: true}} }

func isToken(s, tok string) bool { return strings.EqualFold(strings.TrimSpace(s), tok) }

// validURL accepts the link schemes Telegram renders as URL buttons.
func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "tg":
		return u.Opaque != "" || u.Host != ""
	default:
		return false
	}
}

// Add template.

func startAdd(_ *Engine, _ context.Context, _ *Session) (State, []Reply) {
	return StateWaitingName, final(msgAskName)
}

func stepName(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	name := strings.TrimSpace(in.Text)
	if name == "" {
		return StateWaitingName, reply(msgEmptyName)
	}
	_, err := e.store.GetByName(ctx, name)
	switch {
	case err == nil:
		e.log.Warn("template name already exists", logx.String("template", name))
		return StateWaitingName, reply(msgDuplicateName)
	case !errors.Is(err, storage.ErrNotFound):
		return e.fail("name lookup failed", err, logx.String("template", name))
	}
	s.Draft.Name = name
	if s.Draft.Complete {
		return e.createTemplate(ctx, s, s.Draft.ButtonText, s.Draft.ButtonURL)
	}
	return StateWaitingText, reply(msgAskText)
}

func stepText(_ *Engine, _ context.Context, s *Session, in Input) (State, []Reply) {
	s.Draft.Text = in.Text
	return StateWaitingImage, reply(msgAskImage)
}

func stepImage(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	switch {
	case in.Media != nil:
		path, err := e.media.Save(ctx, *in.Media)
		if err != nil {
			e.log.Error("image save failed", logx.Err(err))
			return stateDone, final(msgImageFailed)
		}
		s.Draft.ImagePath = path
	case isToken(in.Text, tokenNone):
		s.Draft.ImagePath = ""
	default:
		return StateWaitingImage, reply(msgImageRequired)
	}
	return StateWaitingButtonText, reply(msgAskButtonText)
}

func stepButtonText(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	if isToken(in.Text, tokenNone) {
		return e.createTemplate(ctx, s, "", "")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return StateWaitingButtonText, reply(msgAskButtonText)
	}
	s.Draft.ButtonText = text
	return StateWaitingButtonURL, reply(msgAskButtonURL)
}

func stepButtonURL(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	link := strings.TrimSpace(in.Text)
	if !validURL(link) {
		return StateWaitingButtonURL, reply(msgInvalidURL)
	}
	return e.createTemplate(ctx, s, s.Draft.ButtonText, link)
}

func (e *Engine) createTemplate(ctx context.Context, s *Session, buttonText, buttonURL string) (State, []Reply) {
	t, err := e.store.Create(ctx, storage.NewTemplate{
		Name:       s.Draft.Name,
		Text:       s.Draft.Text,
		ImagePath:  s.Draft.ImagePath,
		ButtonText: buttonText,
		ButtonURL:  buttonURL,
	})
	if errors.Is(err, storage.ErrDuplicateName) {
		// Name taken since the name step; keep the draft and ask again.
		e.log.Warn("template name already exists", logx.String("template", s.Draft.Name))
		s.Draft.ButtonText, s.Draft.ButtonURL, s.Draft.Complete = buttonText, buttonURL, true
		return StateWaitingName, reply(msgDuplicateName)
	}
	if err != nil {
		e.release(s.Draft.ImagePath)
		s.Draft.ImagePath = ""
		return e.fail("template create failed", err, logx.String("template", s.Draft.Name))
	}
	s.Draft.ImagePath = ""
	e.log.Info("template created",
		logx.Int64("template_id", t.ID),
		logx.String("template", t.Name),
		logx.Bool("image", t.HasImage()),
		logx.Bool("button", t.HasButton()),
	)
	e.publish(eventbus.TemplateCreated, t)
	return stateDone, final(msgSaved)
}

// Template pickers shared by edit, delete and schedule.

func (e *Engine) templateMenu(ctx context.Context) ([]string, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	return names, nil
}

func (e *Engine) pick(ctx context.Context, next State, empty, prompt string) (State, []Reply) {
	names, err := e.templateMenu(ctx)
	if err != nil {
		return e.fail("list templates failed", err)
	}
	if len(names) == 0 {
		return stateDone, reply(empty)
	}
	return next, []Reply{{Text: prompt, Menu: names}}
}

// selectTemplate resolves the chosen name into the draft. ok is false when
// the session ended.
func (e *Engine) selectTemplate(ctx context.Context, s *Session, in Input) (st State, out []Reply, ok bool) {
	name := strings.TrimSpace(in.Text)
	t, err := e.store.GetByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Warn("selected template not found", logx.String("template", name), logx.String("flow", s.Flow.String()))
		return stateDone, final(msgNotFound), false
	}
	if err != nil {
		st, out = e.fail("template lookup failed", err, logx.String("template", name))
		return st, out, false
	}
	s.Draft.TemplateID, s.Draft.TemplateName = t.ID, t.Name
	return 0, nil, true
}

// Edit template.

func startEdit(e *Engine, ctx context.Context, _ *Session) (State, []Reply) {
	return e.pick(ctx, StateEditWaitingTemplate, msgNothingToEdit, msgChooseEdit)
}

func stepEditTemplate(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	if st, out, ok := e.selectTemplate(ctx, s, in); !ok {
		return st, out
	}
	return StateEditWaitingField, []Reply{{Text: msgChooseField, Menu: editFieldMenu}}
}

func stepEditField(_ *Engine, _ context.Context, s *Session, in Input) (State, []Reply) {
	switch {
	case isToken(in.Text, optCancel):
		return stateDone, final(msgEditCancelled)
	case isToken(in.Text, optText):
		s.Draft.Field = FieldText
		return StateEditWaitingValue, final(msgAskNewText)
	case isToken(in.Text, optImage):
		s.Draft.Field = FieldImage
		return StateEditWaitingValue, final(msgAskNewImage)
	case isToken(in.Text, optButton):
		s.Draft.Field = FieldButton
		return StateEditWaitingValue, final(msgAskNewButton)
	default:
		return stateDone, final(msgInvalidField)
	}
}

func stepEditValue(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	cur, err := e.store.GetByID(ctx, s.Draft.TemplateID)
	if err != nil {
		return e.updateFailed(s, err)
	}

	switch s.Draft.Field {
	case FieldText:
		if in.Media != nil || strings.TrimSpace(in.Text) == "" {
			return StateEditWaitingValue, reply(msgTextRequired)
		}
		if err := e.updateTemplate(ctx, s, storage.Patch{Text: storage.Ptr(strings.TrimSpace(in.Text))}); err != nil {
			return e.updateFailed(s, err)
		}
		return stateDone, final(msgTextUpdated)

	case FieldImage:
		switch {
		case in.Media != nil:
			path, err := e.media.Save(ctx, *in.Media)
			if err != nil {
				e.log.Error("image save failed", logx.Err(err))
				return stateDone, final(msgImageFailed)
			}
			if err := e.updateTemplate(ctx, s, storage.Patch{ImagePath: storage.Ptr(path)}); err != nil {
				if path != cur.ImagePath {
					e.release(path)
				}
				return e.updateFailed(s, err)
			}
			if cur.ImagePath != path {
				e.release(cur.ImagePath)
			}
			return stateDone, final(msgImageUpdated)
		case isToken(in.Text, tokenNone):
			if err := e.updateTemplate(ctx, s, storage.Patch{ImagePath: storage.Ptr("")}); err != nil {
				return e.updateFailed(s, err)
			}
			e.release(cur.ImagePath)
			return stateDone, final(msgImageRemoved)
		default:
			return StateEditWaitingValue, reply(msgImageRequired)
		}

	case FieldButton:
		if isToken(in.Text, tokenNone) {
			if err := e.updateTemplate(ctx, s, storage.Patch{ButtonText: storage.Ptr(""), ButtonURL: storage.Ptr("")}); err != nil {
				return e.updateFailed(s, err)
			}
			return stateDone, final(msgButtonRemoved)
		}
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return StateEditWaitingValue, reply(msgAskNewButton)
		}
		s.Draft.ButtonText = text
		return StateEditWaitingButtonURL, reply(msgAskNewURL)
	}
	e.log.Error("edit without a field", logx.Int64("template_id", s.Draft.TemplateID))
	return stateDone, final(msgGenericError)
}

func stepEditButtonURL(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	link := strings.TrimSpace(in.Text)
	if !validURL(link) {
		return StateEditWaitingButtonURL, reply(msgInvalidURL)
	}
	// Both button fields change in one patch.
	p := storage.Patch{ButtonText: storage.Ptr(s.Draft.ButtonText), ButtonURL: storage.Ptr(link)}
	if err := e.updateTemplate(ctx, s, p); err != nil {
		return e.updateFailed(s, err)
	}
	return stateDone, final(msgButtonUpdated)
}

func (e *Engine) updateTemplate(ctx context.Context, s *Session, p storage.Patch) error {
	t, err := e.store.Update(ctx, s.Draft.TemplateID, p)
	if err != nil {
		return err
	}
	e.log.Info("template updated",
		logx.Int64("template_id", t.ID),
		logx.String("template", t.Name),
		logx.Int("field", int(s.Draft.Field)),
	)
	e.publish(eventbus.TemplateUpdated, t)
	return nil
}

func (e *Engine) updateFailed(s *Session, err error) (State, []Reply) {
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Warn("template vanished during edit", logx.Int64("template_id", s.Draft.TemplateID))
		return stateDone, final(msgNotFound)
	}
	return e.fail("template update failed", err, logx.Int64("template_id", s.Draft.TemplateID))
}

// Delete template.

func startDelete(e *Engine, ctx context.Context, _ *Session) (State, []Reply) {
	return e.pick(ctx, StateDeleteWaitingTemplate, msgNothingToDelete, msgChooseDelete)
}

func stepDeleteTemplate(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	if st, out, ok := e.selectTemplate(ctx, s, in); !ok {
		return st, out
	}
	t, err := e.store.Delete(ctx, s.Draft.TemplateID)
	if err != nil {
		return e.updateFailed(s, err)
	}
	e.release(t.ImagePath)
	res := e.sched.Cancel(scheduler.JobIDFor(t.ID))

	e.log.Info("template deleted",
		logx.Int64("template_id", t.ID),
		logx.String("template", t.Name),
		logx.String("schedule", res.String()),
	)
	e.publish(eventbus.TemplateDeleted, t)

	msg := fmt.Sprintf("Template '%s' deleted.", t.Name)
	if res == scheduler.Cancelled {
		msg += " Its schedule was removed too."
	}
	return stateDone, final(msg)
}

// Schedule template.

func startSchedule(e *Engine, ctx context.Context, _ *Session) (State, []Reply) {
	return e.pick(ctx, StateScheduleWaitingTemplate, msgNothingToSchedule, msgChooseSchedule)
}

func stepScheduleTemplate(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	if st, out, ok := e.selectTemplate(ctx, s, in); !ok {
		return st, out
	}
	return StateScheduleWaitingSelection, []Reply{{Text: msgChooseTrigger, Menu: scheduleMenu}}
}

func stepScheduleSelection(e *Engine, ctx context.Context, s *Session, in Input) (State, []Reply) {
	id, name := s.Draft.TemplateID, s.Draft.TemplateName
	jobID := scheduler.JobIDFor(id)

	switch {
	case isToken(in.Text, optCancel):
		return stateDone, final(msgScheduleCancelled)
	case isToken(in.Text, optRemoveTimer):
		if e.sched.Cancel(jobID) == scheduler.Cancelled {
			return stateDone, final(fmt.Sprintf("Timer for template '%s' removed.", name))
		}
		return stateDone, final(fmt.Sprintf("No timer is set for template '%s'.", name))
	}

	trig, ok := scheduler.ParseLabel(in.Text)
	if !ok {
		e.log.Warn("unrecognised schedule option", logx.String("option", in.Text))
		return StateScheduleWaitingSelection, []Reply{{Text: msgInvalidTrigger, Menu: scheduleMenu}}
	}

	// Do not install a job for a template deleted since it was picked.
	if _, err := e.store.GetByID(ctx, id); err != nil {
		return e.updateFailed(s, err)
	}
	if err := e.sched.Upsert(jobID, trig, e.jobs.JobFunc(id)); err != nil {
		e.log.Error("schedule upsert failed", logx.String("job", jobID), logx.String("trigger", trig.String()), logx.Err(err))
		return stateDone, final(msgScheduleFailed)
	}
	return stateDone, final(fmt.Sprintf("Template '%s' will be sent %s.", name, trig))
}
