package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/fable-labs/fableflow/bus"
	"github.com/fable-labs/fableflow/config"
	"github.com/fable-labs/fableflow/core"
	"github.com/fable-labs/fableflow/engine"
	"github.com/fable-labs/fableflow/modelclient"
	"github.com/fable-labs/fableflow/prompt"
)

// session bundles everything a live interactive run needs: the configured
// runner plus the IO it renders to and the cleanup accumulated while wiring.
type session struct {
	runner  *engine.Runner
	slot    string
	cleanup []func()
}

func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// addSessionFlags registers the flags shared by the run and resume commands.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "LLM provider name (default: config file)")
	cmd.Flags().StringArray("provider-key", nil, "Set provider API key (repeatable, e.g. --provider-key anthropic=sk-...)")
	cmd.Flags().String("model", "", "Model identifier (default: config file)")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature (default: provider default)")
	cmd.Flags().String("save-dir", "", "Directory for save slots (default: ~/.fableflow/saves)")
	cmd.Flags().String("slot", "autosave", "Autosave slot name")
	cmd.Flags().String("library", "", "Prompt fragment library file (default: ~/.fableflow/library.json)")
	cmd.Flags().String("events-db", "", "Persist run events to a SQLite database at this path")
	cmd.Flags().String("transcript", "", "Write the session transcript to this JSON file on exit")
}

// buildSessionConfig resolves flags, environment and the config file into a
// runner configuration. The returned cleanup funcs close anything opened
// along the way (event bus, event store) and must run after the session ends.
func buildSessionConfig(cmd *cobra.Command) (engine.Config, *engine.FSSaveStore, []func(), error) {
	logger := sessionLogger(cmd)

	defaults, err := config.ResolveDefaults()
	if err != nil {
		return engine.Config{}, nil, nil, exitError(exitRuntime, "resolving defaults: %v", err)
	}

	keyFlags, _ := cmd.Flags().GetStringArray("provider-key")
	flagKeys, err := config.ParseProviderFlags(keyFlags)
	if err != nil {
		return engine.Config{}, nil, nil, exitError(exitInputParse, "%v", err)
	}

	providers, err := config.ResolveProviders(flagKeys)
	if err != nil {
		return engine.Config{}, nil, nil, exitError(exitRuntime, "resolving providers: %v", err)
	}

	providerName, _ := cmd.Flags().GetString("provider")
	if providerName == "" {
		providerName = defaults.Provider
	}
	if providerName == "" {
		return engine.Config{}, nil, nil, exitError(exitProvider,
			"no provider configured (use --provider, FABLEFLOW_PROVIDER_*_API_KEY, or the config file)")
	}

	client, err := modelclient.NewClient(providerName, providers[providerName])
	if err != nil {
		return engine.Config{}, nil, nil, exitError(exitProvider, "creating provider %q: %v", providerName, err)
	}

	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = defaults.Model
	}
	if model == "" {
		return engine.Config{}, nil, nil, exitError(exitInputParse,
			"no model specified (use --model or set defaults.model in the config file)")
	}

	call := core.CallOptions{Model: model}
	if cmd.Flags().Changed("temperature") {
		temp, _ := cmd.Flags().GetFloat64("temperature")
		call.Temperature = &temp
	} else {
		call.Temperature = defaults.Temperature
	}

	libraryPath, _ := cmd.Flags().GetString("library")
	if libraryPath == "" {
		libraryPath = defaults.Library
	}
	library, err := prompt.NewFileLibrary(libraryPath)
	if err != nil {
		return engine.Config{}, nil, nil, exitError(exitRuntime, "opening prompt library: %v", err)
	}

	saveDir, _ := cmd.Flags().GetString("save-dir")
	if saveDir == "" {
		saveDir = defaults.SaveDir
	}
	saves, err := engine.NewFSSaveStore(saveDir)
	if err != nil {
		return engine.Config{}, nil, nil, exitError(exitRuntime, "opening save directory: %v", err)
	}

	slot, _ := cmd.Flags().GetString("slot")

	cfg := engine.Config{
		Client:       client,
		Library:      library,
		Call:         call,
		Saves:        saves,
		AutosaveSlot: slot,
		Logger:       logger,
	}

	var cleanup []func()
	if eventsDB, _ := cmd.Flags().GetString("events-db"); eventsDB != "" {
		store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: eventsDB})
		if err != nil {
			return engine.Config{}, nil, nil, exitError(exitRuntime, "opening event store: %v", err)
		}

		// The runner publishes to the bus and a drain goroutine persists
		// everything the bus fans out, so any future observer can subscribe
		// to the same bus without touching the persistence path.
		eventBus := bus.NewMemBus(bus.MemBusConfig{})
		sub := eventBus.SubscribeAll()
		persist := bus.NewStoreSubscriber(store, logger)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range sub.Events() {
				persist.Handle(ev)
			}
		}()

		cfg.Publisher = eventBus
		cleanup = append(cleanup, func() {
			_ = eventBus.Close()
			<-done
			_ = store.Close()
		})
	}

	return cfg, saves, cleanup, nil
}

// sessionLogger builds a stderr slog.Logger honoring the root --verbose and
// --quiet flags.
func sessionLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// playSession drives the interactive loop: it renders events as they arrive
// and forwards player lines whenever the runner asks for input. It returns
// once the runner reaches a terminal state.
func playSession(cmd *cobra.Command, s *session) error {
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Feed stdin lines through a channel so an interrupt or a runner
	// failure never leaves us blocked on a read.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.runner.Cancel()
	}()

	for ev := range s.runner.Events() {
		renderEvent(out, ev)

		if ev.Kind != engine.EventInputRequested {
			continue
		}
		select {
		case line, ok := <-lines:
			if !ok {
				// Stdin closed: suspend at the next committed boundary.
				s.runner.Cancel()
				continue
			}
			if err := s.runner.SubmitInput(line); err != nil && !errors.Is(err, engine.ErrNotAcceptingInput) {
				return exitError(exitRuntime, "submitting input: %v", err)
			}
		case <-ctx.Done():
		}
	}

	s.runner.Wait()

	if path, _ := cmd.Flags().GetString("transcript"); path != "" {
		if err := writeTranscript(path, s.runner.Transcript()); err != nil {
			return exitError(exitRuntime, "writing transcript: %v", err)
		}
	}

	return sessionResult(cmd, s)
}

// writeTranscript exports the session transcript as indented JSON.
func writeTranscript(path string, entries []engine.ContextEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// renderEvent writes the player-facing rendering of one engine event.
func renderEvent(out io.Writer, ev engine.Event) {
	switch ev.Kind {
	case engine.EventNodeEntered:
		if name := payloadString(ev, "name"); name != "" {
			fmt.Fprintf(out, "\n== %s ==\n\n", name)
		}
	case engine.EventStepCompleted:
		if text := payloadString(ev, "text"); text != "" {
			fmt.Fprintf(out, "%s\n\n", text)
		}
	case engine.EventInputRequested:
		fmt.Fprintf(out, "%s ", payloadString(ev, "prompt"))
	}
}

// sessionResult maps the runner's terminal state to the process outcome.
func sessionResult(cmd *cobra.Command, s *session) error {
	out := cmd.OutOrStdout()

	switch s.runner.State() {
	case engine.StateCompleted:
		fmt.Fprintln(out, "The story is complete.")
		return nil
	case engine.StateSuspended:
		fmt.Fprintf(out, "Session suspended. Continue with: fableflow resume %s\n", s.slot)
		return nil
	default:
		err := s.runner.Err()
		var modelErr *core.ModelError
		if errors.As(err, &modelErr) && modelErr.Kind == core.ModelErrUnauthorized {
			return exitError(exitProvider, "run failed: %v", err)
		}
		return exitError(exitRuntime, "run failed: %v", err)
	}
}

func payloadString(ev engine.Event, key string) string {
	if s, ok := ev.Payload[key].(string); ok {
		return s
	}
	return ""
}
