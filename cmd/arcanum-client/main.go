// Command arcanum-client is a terminal duel client: it streams microphone
// PCM from stdin through the recognizer, gates and scores utterances, and
// relays the resulting casts to an arcanum-server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eikq/arcanum/internal/caster"
	"github.com/eikq/arcanum/internal/config"
	"github.com/eikq/arcanum/internal/protocol"
	"github.com/eikq/arcanum/internal/spellbook"
	"github.com/eikq/arcanum/pkg/audio"
	"github.com/eikq/arcanum/pkg/netrelay"
	"github.com/eikq/arcanum/pkg/speech"
	"github.com/eikq/arcanum/pkg/speech/deepgram"
	"github.com/eikq/arcanum/pkg/speech/scripted"
)

// frameMs is the PCM frame length read from stdin per meter measurement.
const frameMs = 20

// keywordBoost is the recognition boost applied to every incantation.
const keywordBoost = 5.0

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "ws://localhost:8080/ws", "relay WebSocket URL")
	nick := flag.String("nick", "", "display name in the duel")
	mode := flag.String("mode", "quick", "quick | bot | create | join")
	code := flag.String("code", "", "room code for -mode join")
	scriptPath := flag.String("script", "", "utterance script file; forces the scripted recognizer")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arcanum-client: %v\n", err)
		return 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.Server.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	book := spellbook.Default()

	rec, err := buildRecognizer(cfg, book, *scriptPath)
	if err != nil {
		slog.Error("failed to build recognizer", "err", err)
		return 1
	}

	// finished closes once the server declares a result.
	finished := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(finished) }) }

	// ── Relay client ──────────────────────────────────────────────────────────
	// Declared before New so the handlers below can close over it; Dial does
	// not happen until after New returns.
	var client *netrelay.Client
	client, err = netrelay.New(netrelay.Config{
		URL: *serverURL,
		Handlers: netrelay.Handlers{
			JoinResult: func(res protocol.JoinResult) {
				if !res.OK {
					slog.Error("join rejected", "message", res.Message)
					finish()
					return
				}
				fmt.Printf("joined room %s as %s\n", res.RoomID, res.PlayerID)
				if err := client.SetReady(true, true); err != nil {
					slog.Warn("failed to report readiness", "err", err)
				}
			},
			QueueWaiting: func(q protocol.QueueWaiting) {
				fmt.Printf("waiting for an opponent (eta %dms)\n", q.ETAMs)
			},
			MatchStart: func(protocol.MatchStart) {
				fmt.Println("both duelists ready, countdown running")
			},
			MatchPlaying: func(protocol.MatchPlaying) {
				fmt.Println("FIGHT")
			},
			Cast: func(c protocol.Cast) {
				if c.From != client.PlayerID() {
					fmt.Printf("<< %s cast %s (power %.2f)\n", c.From, c.SpellID, c.Power)
				}
			},
			OpponentLeft: func(protocol.OpponentLeft) {
				fmt.Println("opponent left the duel")
			},
			MatchFinished: func(m protocol.MatchFinished) {
				switch m.Winner {
				case "":
					fmt.Println("match over: draw")
				case client.PlayerID():
					fmt.Println("match over: you win")
				default:
					fmt.Println("match over: you lose")
				}
				finish()
			},
			Error: func(e protocol.ErrorMsg) {
				slog.Warn("server error", "code", e.Code, "message", e.Message)
			},
		},
	})
	if err != nil {
		slog.Error("invalid relay config", "err", err)
		return 1
	}
	if err := client.Dial(ctx); err != nil {
		slog.Error("failed to reach relay", "url", *serverURL, "err", err)
		return 1
	}
	defer client.Close()

	if err := joinMatch(client, *mode, *code, *nick); err != nil {
		slog.Error("failed to join", "mode", *mode, "err", err)
		return 1
	}

	// ── Cast pipeline ─────────────────────────────────────────────────────────
	meter := audio.NewMeter()
	var readingMu sync.Mutex
	lastReading := audio.Reading{RMS: 0.1, Norm: 0.7} // synthetic level until audio flows

	auto, err := caster.New(caster.Config{
		Book: book,
		OnCast: func(in caster.Intent) {
			err := client.SendCast(in.SpellID, in.Accuracy, in.Loudness, in.Power, in.Assist)
			switch {
			case errors.Is(err, netrelay.ErrThrottled):
				slog.Debug("cast throttled", "spell", in.SpellID)
			case err != nil:
				slog.Warn("cast not sent", "spell", in.SpellID, "err", err)
			default:
				fmt.Printf(">> %s (power %.2f)\n", in.SpellID, in.Power)
			}
		},
		OnReject: func(reason caster.Reason, transcript string) {
			slog.Debug("utterance rejected", "reason", reason, "transcript", transcript)
		},
		MinScore:   cfg.Gate.MinScore,
		MinRMS:     cfg.Gate.MinRMS,
		Cooldown:   time.Duration(cfg.Gate.CooldownMs) * time.Millisecond,
		AlwaysCast: cfg.Gate.AlwaysCast,
		Hotword:    cfg.Gate.Hotword,
	})
	if err != nil {
		slog.Error("failed to build caster", "err", err)
		return 1
	}

	sup, err := speech.NewSupervisor(speech.SupervisorConfig{
		Recognizer: rec,
		Stream: speech.StreamConfig{
			SampleRate: cfg.Speech.SampleRate,
			Language:   cfg.Speech.Language,
			Keywords:   incantationBoosts(book),
		},
		OnResult: func(r speech.Result) {
			if !r.IsFinal {
				return
			}
			readingMu.Lock()
			reading := lastReading
			readingMu.Unlock()
			auto.OnFinal(r.Text, reading)
		},
		OnState: func(st speech.State) {
			slog.Info("recognition state", "state", st)
		},
	})
	if err != nil {
		slog.Error("failed to build supervisor", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sup.Run(gctx); err != nil {
			return fmt.Errorf("recognition: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		pumpAudio(gctx, sup, meter, cfg.Speech.SampleRate, func(r audio.Reading) {
			readingMu.Lock()
			lastReading = r
			readingMu.Unlock()
		})
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-finished:
			stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	return 0
}

// joinMatch issues the room operation selected by -mode.
func joinMatch(client *netrelay.Client, mode, code, nick string) error {
	switch mode {
	case "quick":
		return client.QuickMatch(nick)
	case "bot":
		return client.PlayBot(nick)
	case "create":
		roomCode, err := client.CreateRoom(nick)
		if err != nil {
			return err
		}
		fmt.Printf("room code: %s\n", roomCode)
		return nil
	case "join":
		if code == "" {
			return errors.New("-mode join needs -code")
		}
		return client.JoinRoom(strings.ToUpper(code), nick)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// incantationBoosts biases recognition toward every known spell name and
// alias.
func incantationBoosts(book *spellbook.Book) []speech.KeywordBoost {
	words := book.Incantations()
	boosts := make([]speech.KeywordBoost, 0, len(words))
	for _, w := range words {
		boosts = append(boosts, speech.KeywordBoost{Keyword: w, Boost: keywordBoost})
	}
	return boosts
}

// buildRecognizer selects the speech backend. A -script file forces the
// scripted recognizer regardless of configuration.
func buildRecognizer(cfg *config.Config, book *spellbook.Book, scriptPath string) (speech.Recognizer, error) {
	if scriptPath != "" {
		lines, err := readScript(scriptPath)
		if err != nil {
			return nil, err
		}
		rec, err := scripted.New(lines)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	reg := config.NewRegistry()
	reg.Register("deepgram", func(entry config.SpeechConfig) (speech.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(entry.SampleRate))
		}
		rec, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	reg.Register("scripted", func(entry config.SpeechConfig) (speech.Recognizer, error) {
		// Without a script file, replay the lexicon itself on a loop. Handy
		// for smoke-testing a server without a microphone.
		var lines []scripted.Line
		for _, e := range book.Entries() {
			lines = append(lines, scripted.Line{Text: e.Name, Delay: 2 * time.Second, Confidence: 0.9})
		}
		rec, err := scripted.New(lines, scripted.WithLoop())
		if err != nil {
			return nil, err
		}
		return rec, nil
	})

	entry := cfg.Speech
	if entry.Name == "" {
		entry.Name = "scripted"
	}
	return reg.Create(entry)
}

// readScript parses one utterance per line, "delay_ms text" or bare text.
func readScript(path string) ([]scripted.Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	var lines []scripted.Line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		line := scripted.Line{Text: text, Delay: time.Second, Confidence: 0.9}
		if fields := strings.SplitN(text, " ", 2); len(fields) == 2 {
			var ms int
			if _, err := fmt.Sscanf(fields[0], "%d", &ms); err == nil {
				line.Delay = time.Duration(ms) * time.Millisecond
				line.Text = strings.TrimSpace(fields[1])
			}
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("script %s has no utterances", path)
	}
	return lines, nil
}

// pumpAudio reads 16-bit little-endian PCM frames from stdin, meters them,
// and forwards them to the live recognition session. It returns quietly when
// stdin closes; scripted runs often have no audio at all.
func pumpAudio(ctx context.Context, sup *speech.Supervisor, meter *audio.Meter, sampleRate int, onReading func(audio.Reading)) {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		// Interactive terminal: no PCM stream to read.
		<-ctx.Done()
		return
	}

	frame := make([]byte, sampleRate*2*frameMs/1000)
	for ctx.Err() == nil {
		n, err := io.ReadFull(os.Stdin, frame)
		if n > 0 {
			onReading(meter.Measure(frame[:n]))
			if err := sup.SendAudio(frame[:n]); err != nil {
				slog.Debug("audio dropped", "err", err)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("audio input error", "err", err)
			}
			return
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
