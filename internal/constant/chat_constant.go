package constant

const (
	ChatMessageRoleUser = "user"
	ChatMessageRoleBot  = "bot"

	DefaultSessionTitle = "New Chat"
)

// Outbound websocket payload types. The envelope shape is always
// {"type": ..., "content": ...}.
const (
	PayloadTypeInfo     = "info"
	PayloadTypeStatus   = "status"
	PayloadTypeChunk    = "chunk"
	PayloadTypeComplete = "complete"
	PayloadTypeError    = "error"
)

// Canned texts. Provider failures never reach the client as protocol errors;
// they degrade into one of these as the full response text.
const (
	StatusProcessingText = "Processing your question..."
	ResponseCompleteText = "Response complete"

	ApologyGenericText = "I apologize, but I encountered an error processing your request."
	ApologyTimeoutText = "The answer service timed out. Please try again."
	ApologyNetworkText = "Connection error. Please check answer service availability."
)
