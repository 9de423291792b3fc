package main

import "strings"

type commandKind int

const (
	cmdNone commandKind = iota
	cmdSay
	cmdJoin
	cmdLeave
	cmdVideo
	cmdAudio
	cmdReact
	cmdRoster
	cmdRestart
	cmdHelp
	cmdQuit
	cmdUnknown
)

type command struct {
	Kind commandKind
	Arg  string
}

var commandNames = map[string]commandKind{
	"/join":    cmdJoin,
	"/leave":   cmdLeave,
	"/video":   cmdVideo,
	"/audio":   cmdAudio,
	"/react":   cmdReact,
	"/who":     cmdRoster,
	"/restart": cmdRestart,
	"/help":    cmdHelp,
	"/quit":    cmdQuit,
}

// needsArg lists commands that are ignored without an argument.
var needsArg = map[commandKind]bool{
	cmdJoin:    true,
	cmdReact:   true,
	cmdRestart: true,
}

// parseCommand turns one input line into a command. Anything that does
// not start with a slash is chat.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{Kind: cmdNone}
	}
	if !strings.HasPrefix(line, "/") {
		return command{Kind: cmdSay, Arg: line}
	}
	name, arg, _ := strings.Cut(line, " ")
	kind, ok := commandNames[strings.ToLower(name)]
	if !ok {
		return command{Kind: cmdUnknown, Arg: name}
	}
	arg = strings.TrimSpace(arg)
	if needsArg[kind] && arg == "" {
		return command{Kind: cmdHelp}
	}
	return command{Kind: kind, Arg: arg}
}
