package prompts

// EmptyResponseFallback is the user-facing text recorded when the model
// ends a turn with tool results but no text of its own.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// TitleSystem instructs the title model.
const TitleSystem = "Write a title of at most eight words for a conversation that starts with the user's message. Reply with the title only."
