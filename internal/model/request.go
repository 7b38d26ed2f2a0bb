package model

import (
	"github.com/rotisserie/eris"
)

// Message roles accepted by the chat-completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request defaults applied when a record leaves a field unset.
const (
	DefaultModel       = "gpt-3.5-turbo-1106"
	DefaultTemperature = 0.5
	DefaultRetryLimit  = 10
)

// Message is a single role/content pair of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one line of an input batch file.
type Request struct {
	Name        string    `json:"name,omitempty"`
	Messages    []Message `json:"message_param"`
	Temperature *float64  `json:"temperature,omitempty"`
	RetryLimit  int       `json:"retry_limit,omitempty"`
}

// WithDefaults returns a copy of r with the run-level model and the package
// defaults filled in for any unset field.
func (r Request) WithDefaults(model string) Request {
	if r.Name == "" {
		r.Name = model
	}
	if r.Name == "" {
		r.Name = DefaultModel
	}
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.RetryLimit <= 0 {
		r.RetryLimit = DefaultRetryLimit
	}
	return r
}

// Validate checks that the request carries at least one message and that
// every role is one the API understands.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return eris.New("request has no messages")
	}
	for i, m := range r.Messages {
		if !ValidRole(m.Role) {
			return eris.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}

// ValidRole reports whether role is system, user or assistant.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}
