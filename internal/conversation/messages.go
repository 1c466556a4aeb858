package conversation

const (
	tokenNone = "none"

	optText   = "Text"
	optImage  = "Image"
	optButton = "Button"
	optCancel = "Cancel"

	optRemoveTimer = "Remove timer"
)

const (
	msgGenericError = "Something went wrong. Please try again later."
	msgNotFound     = "Template not found."

	msgAskName       = "Enter the template name:"
	msgEmptyName     = "The name cannot be empty. Enter the template name:"
	msgDuplicateName = "A template with this name already exists. Please choose another name."
	msgAskText       = "Enter the message text:"
	msgAskImage      = "Send an image (or type 'none'):"
	msgImageRequired = "Please send an image or type 'none'."
	msgAskButtonText = "Enter the button text (or type 'none'):"
	msgAskButtonURL  = "Enter the button URL:"
	msgInvalidURL    = "Please send a valid link starting with http://, https:// or tg://."
	msgSaved         = "Template saved."
	msgImageFailed   = "Could not save the image. Please try again later."

	msgNoTemplates   = "No saved templates."
	msgTemplatesHead = "Saved templates:"

	msgNothingToEdit   = "No templates to edit."
	msgChooseEdit      = "Choose a template to edit:"
	msgChooseField     = "Choose a field to edit:"
	msgEditCancelled   = "Template editing cancelled."
	msgInvalidField    = "Please choose a valid field to edit."
	msgAskNewText      = "Enter the new message text:"
	msgAskNewImage     = "Send a new image (or type 'none'):"
	msgAskNewButton    = "Enter the new button text (or type 'none'):"
	msgAskNewURL       = "Enter the new button URL:"
	msgTextRequired    = "Please send the new text as a message."
	msgTextUpdated     = "Template text updated."
	msgImageRemoved    = "Template image removed."
	msgImageUpdated    = "Template image updated."
	msgButtonRemoved   = "Template button removed."
	msgButtonUpdated   = "Template button updated."
	msgNothingToDelete = "No templates to delete."
	msgChooseDelete    = "Choose a template to delete:"

	msgNothingToSchedule = "No templates available. Add a template first."
	msgChooseSchedule    = "Choose a template to send:"
	msgChooseTrigger     = "Choose a delivery schedule:"
	msgScheduleCancelled = "Scheduling cancelled."
	msgInvalidTrigger    = "Invalid schedule option. Try again."
	msgScheduleFailed    = "Could not set up the schedule. The previous schedule, if any, is unchanged."

	msgCancelUsage = "Please specify a template name. Example: /cancel_schedule template1"
	msgNoSchedules = "No active schedules."
)

var (
	editFieldMenu = []string{optText, optImage, optButton, optCancel}
)
