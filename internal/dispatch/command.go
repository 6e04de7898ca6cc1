package dispatch

import "strings"

// Command is the closed set of requester commands. Anything else parses to
// CommandUnknown.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandActivate
	CommandAcquire
	CommandStatus
	CommandUsage
	CommandCancel
)

var commandNames = map[Command]string{
	CommandStart:    "start",
	CommandActivate: "act",
	CommandAcquire:  "buyacc",
	CommandStatus:   "name",
	CommandUsage:    "mycount",
	CommandCancel:   "deleteacc",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// requiresActivation reports whether the command is gated on a claimed key.
func (c Command) requiresActivation() bool {
	return c != CommandStart && c != CommandActivate
}

// ParseCommand accepts "buyacc", "/buyacc" and "/buyacc@SomeBot", in any case.
func ParseCommand(s string) Command {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if c, ok := commandsByName[strings.ToLower(s)]; ok {
		return c
	}
	return CommandUnknown
}

// ParseText splits a chat message into a command and its arguments. Text that
// does not start with "/" is never a command.
func ParseText(text string) (Command, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return CommandUnknown, nil
	}
	return ParseCommand(fields[0]), fields[1:]
}
