package relay

import (
	"errors"
	"fmt"
)

// ErrNoBoundChat is returned by Send before any chat has messaged the bot.
var ErrNoBoundChat = errors.New("no bound chat")

// APIError is an ok:false reply from the Bot API.
type APIError struct {
	Op          string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: telegram error %d: %s", e.Op, e.Code, e.Description)
}

// TransportError wraps a failure to reach the Bot API or decode its reply.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
