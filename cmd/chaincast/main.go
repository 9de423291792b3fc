// Chaincast is a terminal client for the room server. It joins a room,
// negotiates media with every participant and relays chat from stdin.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/chaincast/session/internal/adapters/devices"
	"github.com/chaincast/session/internal/adapters/rtc"
	"github.com/chaincast/session/internal/adapters/ws"
	"github.com/chaincast/session/internal/app/orch"
	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	flags := pflag.NewFlagSet("chaincast", pflag.ExitOnError)
	flags.String("url", "ws://localhost:8080/api/ws", "room server websocket URL")
	flags.Bool("synthetic", false, "send generated media instead of opening devices")
	flags.String("log-level", "warn", "zerolog level")
	name := flags.StringP("name", "n", "", "display name")
	room := flags.StringP("room", "r", "", "room to join on start")
	token := flags.String("token", "", "bearer token; fetched from the dev endpoint when empty")
	noMedia := flags.Bool("no-media", false, "join without capturing media")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && flags.Changed("log-level") {
		zerolog.SetGlobalLevel(lvl)
	}

	pterm.Info.Println(fmt.Sprintf("Chaincast v%s", version))
	pterm.Println()

	if *name == "" {
		*name, _ = pterm.DefaultInteractiveTextInput.WithDefaultText("Display name").Show()
		pterm.Println()
	}
	if *token == "" {
		*token, err = fetchToken(ctx, cfg.Client.URL, *name)
		if err != nil {
			pterm.Error.Println(err)
			os.Exit(1)
		}
	}

	capturer, err := newCapturer(cfg.Client.Media.Synthetic)
	if err != nil {
		pterm.Warning.Println(fmt.Sprintf("%v; falling back to synthetic media", err))
		capturer = &devices.Synthetic{}
	}

	ui := newTerminalUI(ctx)
	sess := orch.New(cfg.Client, orch.Deps{
		Dialer:   ws.NewDialer(cfg.Client.URL, cfg.Client.PingPeriod),
		Peers:    rtc.NewFactory(cfg.Client.ICEServers),
		Capturer: capturer,
		Notifier: ui,
	})
	defer sess.Dispose()

	if err := sess.Connect(ctx, *token); err != nil {
		pterm.Error.Println(fmt.Sprintf("connect: %v", err))
		os.Exit(1)
	}
	if !*noMedia {
		if err := sess.InitializeMedia(ctx, true, true); err != nil {
			pterm.Warning.Println(fmt.Sprintf("media: %v", err))
		}
	}
	if *room != "" {
		if err := sess.JoinRoom(ctx, domain.RoomID(*room), domain.RoleMember); err != nil {
			pterm.Error.Println(fmt.Sprintf("join %s: %v", *room, err))
		}
	}

	printHelp()
	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd := parseCommand(line)
			if cmd.Kind == cmdQuit {
				return
			}
			if err := run(ctx, sess, cmd); err != nil {
				pterm.Error.Println(err)
			}
		}
	}
}

func newCapturer(synthetic bool) (core.Capturer, error) {
	if synthetic {
		return &devices.Synthetic{}, nil
	}
	return devices.NewHardware()
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func run(ctx context.Context, s *orch.Orchestrator, cmd command) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cmd.Kind {
	case cmdNone:
		return nil
	case cmdHelp:
		printHelp()
		return nil
	case cmdJoin:
		return s.JoinRoom(ctx, domain.RoomID(cmd.Arg), domain.RoleMember)
	case cmdLeave:
		id, _ := s.Rooms.Current()
		return s.LeaveRoom(ctx, id)
	case cmdVideo:
		on, err := s.ToggleVideo(ctx)
		if err == nil {
			pterm.Info.Println(fmt.Sprintf("video %s", onOff(on)))
		}
		return err
	case cmdAudio:
		on, err := s.ToggleAudio(ctx)
		if err == nil {
			pterm.Info.Println(fmt.Sprintf("audio %s", onOff(on)))
		}
		return err
	case cmdReact:
		return s.AddReaction(ctx, cmd.Arg)
	case cmdRoster:
		printRoster(s)
		return nil
	case cmdRestart:
		return s.RestartPeer(domain.UserID(cmd.Arg))
	case cmdSay:
		return s.SendMessage(ctx, cmd.Arg)
	case cmdUnknown:
		return fmt.Errorf("unknown command %q, try /help", cmd.Arg)
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// tokenURL maps ws(s)://host/... to http(s)://host/api/token.
func tokenURL(wsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL: %s", wsURL)
	}
	scheme := "https"
	if u.Scheme == "ws" || u.Scheme == "http" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/api/token", scheme, u.Host), nil
}

func fetchToken(ctx context.Context, wsURL, name string) (string, error) {
	endpoint, err := tokenURL(wsURL)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("fetch token: empty token")
	}
	return out.Token, nil
}
