package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkosler/aide/pkg/agent"
	"github.com/mkosler/aide/pkg/config"
	"github.com/mkosler/aide/pkg/llm"
	"github.com/mkosler/aide/pkg/logger"
	"github.com/mkosler/aide/pkg/session"
	"github.com/mkosler/aide/pkg/summarize"
	"github.com/mkosler/aide/pkg/telemetry"
	"github.com/mkosler/aide/pkg/tokenizer"
	"github.com/mkosler/aide/pkg/tools"
)

const systemPrompt = `You are a coding assistant operating inside the user's workspace.
Use the available tools to inspect files before answering questions about them.
Be concise. When you change your plan, say so.`

var (
	flagConfig   string
	flagLogLevel string
	flagResume   bool
	flagPrompt   string
)

func main() {
	root := &cobra.Command{
		Use:   "aide",
		Short: "Chat-based coding assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(args)
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.Flags().BoolVar(&flagResume, "resume", false, "resume the previous session for this directory")
	root.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "run a single request and exit")

	root.AddCommand(sessionsCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}

func runChat(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := &logger.Config{Level: logger.ParseLevel(flagLogLevel)}
	if cfg.Log != nil {
		if flagLogLevel == "" {
			logCfg.Level = logger.ParseLevel(cfg.Log.Level)
		}
		logCfg.FilePath = cfg.Log.File
	}
	logCfg.Console = logCfg.FilePath == ""
	closer, err := logger.Setup(logCfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	dir := cfg.SessionDir
	if dir == "" {
		dir, err = session.DefaultDir(cwd)
		if err != nil {
			return err
		}
	}

	var sess *session.Session
	if flagResume {
		sess, err = session.Load(dir)
		if err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
	} else {
		sess = session.New(dir)
	}

	client := llm.NewHTTPClient(cfg.Model, cfg.APIKey)
	counter := tokenizer.NewEstimator()
	sink := telemetry.NewSlogSink(slog.Default())
	summarizer := summarize.New(client, counter, sink)

	loopCfg := agent.Config{
		Client:       client,
		Model:        cfg.Model,
		SystemPrompt: systemPrompt,
		Tools:        []agent.Tool{tools.NewReadTool(cwd), tools.NewListTool(cwd)},
		Summarizer:   summarizer,
		Counter:      counter,
		Telemetry:    sink,
		Progress:     consoleProgress{},
	}
	if cfg.Loop != nil {
		loopCfg.MaxRounds = cfg.Loop.MaxRounds
		loopCfg.MaxToolCallsPerTurn = cfg.Loop.MaxToolCallsPerTurn
		loopCfg.TriggerFraction = cfg.Loop.TriggerFraction
		loopCfg.MaxLLMRetries = cfg.Loop.MaxLLMRetries
	}
	loop := agent.NewLoop(sess.Store(), loopCfg)

	if flagPrompt != "" {
		return runOnce(loop, sess, flagPrompt)
	}
	if len(args) > 0 {
		return runOnce(loop, sess, strings.Join(args, " "))
	}
	return repl(loop, sess)
}

func runOnce(loop *agent.Loop, sess *session.Session, request string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	before := len(loop.Store().History())
	text, err := loop.Run(ctx, request)
	if perr := persistTurns(loop, sess, before); perr != nil && err == nil {
		err = perr
	}
	if text != "" {
		fmt.Println(text)
	}
	return err
}

// persistTurns writes the turns a Run completed. Appending is the common
// path; a summarization that back-patched a historical turn makes the
// appended entries stale, so the whole log is rewritten instead.
func persistTurns(loop *agent.Loop, sess *session.Session, before int) error {
	if loop.HistoryPatched() {
		return sess.Rewrite()
	}
	history := loop.Store().History()
	for _, turn := range history[before:] {
		if err := sess.RecordTurn(turn); err != nil {
			return err
		}
	}
	return nil
}

func repl(loop *agent.Loop, sess *session.Session) error {
	fmt.Printf("aide (session %s)\n", sess.ID())
	fmt.Println("Type a request, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			if err := sess.Clear(); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			} else {
				fmt.Println("Session cleared.")
			}
			continue
		}

		before := len(loop.Store().History())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		text, err := loop.Run(ctx, line)
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		if text != "" {
			fmt.Println(text)
		}
		if err := persistTurns(loop, sess, before); err != nil {
			fmt.Fprintln(os.Stderr, "Error: persist session:", err)
		}
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			dirs, err := session.List(filepath.Join(home, ".aide", "sessions"))
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}
			for _, d := range dirs {
				fmt.Println(d)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("model:    %s (%s)\n", cfg.Model.ID, cfg.Model.Provider)
			fmt.Printf("base url: %s\n", cfg.Model.BaseURL)
			fmt.Printf("context:  %d tokens\n", cfg.Model.ContextWindow)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagConfig
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	return cmd
}

type consoleProgress struct{}

func (consoleProgress) Report(message string) {
	fmt.Fprintln(os.Stderr, message)
}
