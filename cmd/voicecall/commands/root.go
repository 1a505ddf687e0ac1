// Package commands is the voicecall command line: join a room's voice call,
// keep it negotiated by polling, and leave on interrupt.
package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dkeye/VoiceRelay/internal/adapters/media"
	"github.com/dkeye/VoiceRelay/internal/adapters/rtc"
	"github.com/dkeye/VoiceRelay/internal/adapters/storeclient"
	"github.com/dkeye/VoiceRelay/internal/app/call"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

func init() {
	f := RootCmd.Flags()
	f.String("server", "http://localhost:8080", "signaling server base URL")
	f.String("stun", call.DefaultSTUNServer, "STUN server URL")
	f.Duration("poll-interval", call.DefaultPollInterval, "how often the voice session is polled")
	f.String("log", "info", "debug, info, warn, error")
	f.String("transport", "http", "store transport: http or ws")

	for key, flag := range map[string]string{
		"server_url":    "server",
		"stun_url":      "stun",
		"poll_interval": "poll-interval",
		"log_level":     "log",
		"transport":     "transport",
	} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// RootCmd is the root command for voicecall.
var RootCmd = &cobra.Command{
	Use:   "voicecall ROOM",
	Short: "Join the voice call of a room",
	Long: "Join the voice call of a room. Type m to toggle mute, s for status, " +
		"q to leave. Interrupt leaves the call too.",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runVoiceCall,
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func dialStore(ctx context.Context, cfg *config.ClientConfig) (core.SignalingStore, func(), error) {
	if cfg.Transport == "ws" {
		wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(cfg.ServerURL, "/"), "http") + "/api/ws/signal"
		wc, err := storeclient.DialWS(ctx, wsURL, nil)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := wc.Ping(pingCtx); err != nil {
			_ = wc.Close()
			return nil, nil, fmt.Errorf("signal endpoint not answering: %w", err)
		}
		return wc, func() { _ = wc.Close() }, nil
	}
	hc, err := storeclient.NewHTTPClient(cfg.ServerURL)
	if err != nil {
		return nil, nil, err
	}
	return hc, func() {}, nil
}

func runVoiceCall(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel)

	room, err := domain.ParseRoomID(args[0])
	if err != nil {
		return fmt.Errorf("room %q: %w", args[0], err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := dialStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.ServerURL, err)
	}
	defer closeStore()

	mic, err := media.NewMicrophone()
	if err != nil {
		return err
	}
	// Keep the newest connection around for its remote track counters.
	var current atomic.Pointer[rtc.WebRTCConnection]
	newPeer := rtc.NewFactory(mic.RegisterCodecs)
	peers := func(iceServers []string) (core.PeerConnection, error) {
		pc, err := newPeer(iceServers)
		if err != nil {
			return nil, err
		}
		if conn, ok := pc.(*rtc.WebRTCConnection); ok {
			current.Store(conn)
		}
		return pc, nil
	}
	ctl := call.New(store, mic, peers, call.Config{
		ICEServers:   []string{cfg.STUNURL},
		PollInterval: cfg.PollInterval,
	})

	out := cmd.OutOrStdout()
	if err := ctl.Join(ctx, room); err != nil {
		var jerr *call.JoinError
		if errors.As(err, &jerr) {
			fmt.Fprintln(out, jerr.UserMessage())
			for _, step := range jerr.Guidance() {
				fmt.Fprintf(out, "  - %s\n", step)
			}
		}
		return err
	}
	fmt.Fprintf(out, "Joined voice in %s as %s\n", room, ctl.Status().Role)

	lines := readLines(cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return leave(ctl, out)
		case ev := <-ctl.Events():
			printEvent(out, ev)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch strings.TrimSpace(line) {
			case "m":
				if _, err := ctl.ToggleMute(); err != nil {
					fmt.Fprintln(out, err)
				}
			case "s":
				printStatus(out, ctl.Status())
				if conn := current.Load(); conn != nil {
					printTrackStats(out, conn.RemoteStats())
				}
			case "q":
				return leave(ctl, out)
			}
		}
	}
}

func leave(ctl *call.Controller, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := ctl.Leave(ctx)
	if err != nil {
		fmt.Fprintln(out, "Left voice locally; the session could not be ended on the server.")
		return err
	}
	fmt.Fprintln(out, "Left voice")
	return nil
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func printEvent(out io.Writer, ev call.Event) {
	switch ev.Type {
	case call.EventState:
		fmt.Fprintf(out, "voice: %s\n", ev.State)
	case call.EventMute:
		if ev.Muted {
			fmt.Fprintln(out, "voice: muted")
		} else {
			fmt.Fprintln(out, "voice: unmuted")
		}
	case call.EventPollError:
		fmt.Fprintf(out, "Connection problem, retrying: %v\n", ev.Err)
	case call.EventPollRecovered:
		fmt.Fprintln(out, "Connection restored")
	}
}

func printTrackStats(out io.Writer, stats []rtc.TrackStats) {
	if len(stats) == 0 {
		fmt.Fprintln(out, "no remote audio yet")
		return
	}
	for _, st := range stats {
		fmt.Fprintf(out, "track=%s ssrc=%d packets=%d bytes=%d lost=%d reordered=%d\n",
			st.TrackID, st.SSRC, st.Packets, st.Bytes, st.Lost, st.Reordered)
	}
}

func printStatus(out io.Writer, st call.Status) {
	fmt.Fprintf(out, "room=%s state=%s role=%s muted=%t candidates=%d\n",
		st.Room, st.State, st.Role, st.Muted, st.Applied)
	if st.PollErr != nil {
		fmt.Fprintf(out, "last poll failed: %v\n", st.PollErr)
	}
}
