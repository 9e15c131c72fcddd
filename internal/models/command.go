package models

import (
	"strings"
	"time"
)

// Protocol verbs.
const (
	VerbOpen          = "open"
	VerbRelease       = "release"
	VerbStream        = "stream"
	VerbStop          = "stop"
	VerbActiveFile    = "activefile"
	VerbFrameNotify   = "framedonotify"
	VerbFrameNoNotify = "framenonotify"
	VerbClose         = "close"
)

// Protocol replies.
const (
	ReplyOpen         = "Open Command Received"
	ReplyRelease      = "Release Command Received"
	ReplyClose        = "Stop Command Received"
	ReplyUnsubscribed = "Unsubscribed"
	ReplyNotOpen      = "error:device not open"
	NotifyPrefix      = "cap:"
)

const argumentDelimiter = ":"

// Command is one parsed request line, consumed exactly once by the dispatcher.
type Command struct {
	Verb        string
	Argument    string
	HasArgument bool
	Origin      Client
	ReceivedAt  time.Time
}

// ParseCommand splits "<verb>[:<argument>]". The verb is lowercased and trimmed.
func ParseCommand(line string, origin Client) Command {
	line = strings.TrimRight(line, "\r")
	verb, arg, found := strings.Cut(line, argumentDelimiter)
	return Command{
		Verb:        strings.ToLower(strings.TrimSpace(verb)),
		Argument:    arg,
		HasArgument: found,
		Origin:      origin,
		ReceivedAt:  time.Now(),
	}
}

// ErrorReply formats a failed command reply.
func ErrorReply(err error) string {
	return "error:" + err.Error()
}
