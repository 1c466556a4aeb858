package router

import (
	"context"

	"templatebot/internal/conversation"
	kit "templatebot/internal/transport"
)

const (
	msgWelcome      = "Welcome! I am ready to work."
	msgTestSent     = "Test message sent."
	msgTestFailed   = "Could not send the test message."
	msgFlowAborted  = "Cancelled."
	msgNothingAbort = "Nothing to cancel."
	msgIdleHint     = "Send /help to see available commands."
)

// Conversation is the operator-facing flow engine.
type Conversation interface {
	Begin(ctx context.Context, operatorID int64, flow conversation.Flow) []conversation.Reply
	Handle(ctx context.Context, in conversation.Input) ([]conversation.Reply, bool)
	CancelSchedule(ctx context.Context, operatorID int64, name string) []conversation.Reply
	Abort(operatorID int64) bool
	ListTemplates(ctx context.Context) []conversation.Reply
	ListSchedules(ctx context.Context) []conversation.Reply
}

// Tester sends the diagnostic message to the destination chat.
type Tester interface {
	SendTest(ctx context.Context) error
}

// BotCommands is the operator command set.
func BotCommands(conv Conversation, tester Tester) []Command {
	begin := func(f conversation.Flow) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			return sendReplies(ctx, req, conv.Begin(ctx, req.FromID, f))
		}
	}
	return []Command{
		{
			Name:        "start",
			Description: "Check that the bot is running",
			Handle: func(ctx context.Context, req *Request) error {
				req.Logger.Info("operator started the bot")
				return req.Reply(ctx, msgWelcome, nil)
			},
		},
		{Name: "add_template", Description: "Create a message template", Handle: begin(conversation.FlowAdd)},
		{
			Name:        "list_templates",
			Aliases:     []string{"templates"},
			Description: "List saved templates",
			Handle: func(ctx context.Context, req *Request) error {
				return sendReplies(ctx, req, conv.ListTemplates(ctx))
			},
		},
		{Name: "edit_template", Description: "Edit one field of a template", Handle: begin(conversation.FlowEdit)},
		{Name: "delete_template", Description: "Delete a template", Handle: begin(conversation.FlowDelete)},
		{Name: "schedule", Description: "Set or remove a template's schedule", Handle: begin(conversation.FlowSchedule)},
		{
			Name:        "cancel_schedule",
			Description: "Disable a template's schedule",
			Usage:       "/cancel_schedule <name>",
			Handle: func(ctx context.Context, req *Request) error {
				return sendReplies(ctx, req, conv.CancelSchedule(ctx, req.FromID, req.RawArgs))
			},
		},
		{
			Name:        "schedules",
			Description: "Show active schedules",
			Handle: func(ctx context.Context, req *Request) error {
				return sendReplies(ctx, req, conv.ListSchedules(ctx))
			},
		},
		{
			Name:        "test_schedule",
			Description: "Send a test message to the group",
			Handle: func(ctx context.Context, req *Request) error {
				if err := tester.SendTest(ctx); err != nil {
					_ = req.Reply(ctx, msgTestFailed, nil)
					return err
				}
				return req.Reply(ctx, msgTestSent, nil)
			},
		},
		{
			Name:        "cancel",
			Description: "Abort the current dialog",
			Handle: func(ctx context.Context, req *Request) error {
				text := msgNothingAbort
				if conv.Abort(req.FromID) {
					text = msgFlowAborted
				}
				return req.Reply(ctx, text, &kit.SendOptions{RemoveMenu: true})
			},
		},
	}
}

// ConversationHandler routes non-command messages into the active flow.
func ConversationHandler(conv Conversation) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		msg := req.Update.Message
		out, ok := conv.Handle(ctx, conversation.Input{
			OperatorID: req.FromID,
			Text:       msg.Text,
			Media:      msg.Photo,
		})
		if !ok {
			if msg.IsPrivate {
				return req.Reply(ctx, msgIdleHint, nil)
			}
			return nil
		}
		return sendReplies(ctx, req, out)
	}
}

func sendReplies(ctx context.Context, req *Request, out []conversation.Reply) error {
	for _, r := range out {
		opt := &kit.SendOptions{Menu: r.Menu, RemoveMenu: r.RemoveMenu}
		if err := req.Reply(ctx, r.Text, opt); err != nil {
			return err
		}
	}
	return nil
}
