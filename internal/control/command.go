// Package control binds a capture scheduler to the daemon's collaborators:
// it turns fired captures into published events and status updates, and
// applies operator commands arriving over MQTT or HTTP.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Command is an operator request against the scheduler.
type Command string

const (
	CommandStart      Command = "START"
	CommandReset      Command = "RESET"
	CommandInvalidate Command = "INVALIDATE"
)

var (
	// ErrUnknownCommand is returned for payloads that name no Command.
	ErrUnknownCommand = errors.New("control: unknown command")
	// ErrRateLimited is returned when commands arrive faster than allowed.
	ErrRateLimited = errors.New("control: command rate exceeded")
)

// ParseCommand accepts a bare command word (any case) or {"command": "<word>"}.
func ParseCommand(payload []byte) (Command, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var body struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnknownCommand, err)
		}
		s = body.Command
	}
	switch c := Command(strings.ToUpper(strings.TrimSpace(s))); c {
	case CommandStart, CommandReset, CommandInvalidate:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}
