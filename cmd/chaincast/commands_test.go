package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want command
	}{
		{"", command{Kind: cmdNone}},
		{"   ", command{Kind: cmdNone}},
		{"hello there", command{Kind: cmdSay, Arg: "hello there"}},
		{"/join  lobby ", command{Kind: cmdJoin, Arg: "lobby"}},
		{"/JOIN lobby", command{Kind: cmdJoin, Arg: "lobby"}},
		{"/join", command{Kind: cmdHelp}},
		{"/leave", command{Kind: cmdLeave}},
		{"/video", command{Kind: cmdVideo}},
		{"/audio", command{Kind: cmdAudio}},
		{"/react 🎉", command{Kind: cmdReact, Arg: "🎉"}},
		{"/who", command{Kind: cmdRoster}},
		{"/restart bob", command{Kind: cmdRestart, Arg: "bob"}},
		{"/quit", command{Kind: cmdQuit}},
		{"/dance now", command{Kind: cmdUnknown, Arg: "/dance"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseCommand(tc.in), tc.in)
	}
}

func TestTokenURL(t *testing.T) {
	got, err := tokenURL("ws://localhost:8080/api/ws")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/token", got)

	got, err = tokenURL("wss://rooms.example.com/api/ws")
	require.NoError(t, err)
	assert.Equal(t, "https://rooms.example.com/api/token", got)

	_, err = tokenURL("not a url")
	assert.Error(t, err)
}
