package dispatch

import "errors"

var (
	// ErrNotQueued indicates no queue entry exists for the chat.
	ErrNotQueued = errors.New("dispatch: chat is not queued")
	// ErrInvalidChatState indicates the chat's lifecycle state does not
	// allow automatic dispatch (escalated or closed).
	ErrInvalidChatState = errors.New("dispatch: chat state does not allow dispatch")
)
