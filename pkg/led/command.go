package led

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCommand = errors.New("unknown led command")

// Command is a control-characteristic instruction.
type Command int

const (
	CommandOpen Command = iota + 1
	CommandClose
	CommandReset
)

// ParseCommand accepts "open", "close" and "reset", ignoring case and
// surrounding space.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return CommandOpen, nil
	case "close":
		return CommandClose, nil
	case "reset":
		return CommandReset, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

func (c Command) String() string {
	switch c {
	case CommandOpen:
		return "open"
	case CommandClose:
		return "close"
	case CommandReset:
		return "reset"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Bytes is the ASCII payload written to the control characteristic.
func (c Command) Bytes() ([]byte, error) {
	switch c {
	case CommandOpen, CommandClose, CommandReset:
		return []byte(c.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, c)
	}
}

func (c Command) MarshalText() ([]byte, error) {
	return c.Bytes()
}

func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
