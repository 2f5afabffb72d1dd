package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jandive/jandive/config"
	"github.com/jandive/jandive/internal/research"
	"github.com/jandive/jandive/internal/safety"
	"github.com/jandive/jandive/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "jandive", Short: "Iterative web research agent"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	var maxIterations int
	var temperature float64
	var offline bool
	var concise bool
	var export string
	var researchCmd = &cobra.Command{
		Use:   "research [query]",
		Short: "Run a research session, or start a REPL when no query is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := server.NewEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			opts := research.Options{
				MaxIterations: maxIterations,
				Temperature:   temperature,
				Offline:       offline,
				Concise:       concise,
				Progress:      printProgress,
			}
			if len(args) > 0 {
				opts.Query = strings.Join(args, " ")
				return runOnce(ctx, eng, opts, export)
			}
			return runREPL(ctx, eng, opts)
		},
	}
	researchCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration budget (0 = config default)")
	researchCmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature (0 = config default)")
	researchCmd.Flags().BoolVar(&offline, "offline", false, "answer from the model alone, no web retrieval")
	researchCmd.Flags().BoolVar(&concise, "concise", false, "short summary instead of a detailed report")
	researchCmd.Flags().StringVar(&export, "export", "", "write the report markdown to this file")

	var serveAddr string
	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = getenv("JANDIVE_HTTP_ADDR", cfg.Server.Address)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := server.NewEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()
			return eng.Serve(ctx, serveAddr)
		},
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var calcCmd = &cobra.Command{
		Use:   "calc [expression]",
		Short: "Evaluate an arithmetic expression in the sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			eval := safety.NewEvaluator(cfg.Safety.MaxEvalMagnitude)
			v, err := eval.Evaluate(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("%g\n", v)
			return nil
		},
	}

	root.AddCommand(researchCmd, serveCmd, calcCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, eng *server.Engine, opts research.Options, export string) error {
	sess, err := eng.Research(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(sess.Report.Markdown)
	if export != "" {
		if werr := os.WriteFile(export, []byte(sess.Report.Markdown), 0o644); werr != nil {
			return fmt.Errorf("export report: %w", werr)
		}
		fmt.Fprintf(os.Stderr, "report written to %s\n", export)
	}
	return nil
}

func runREPL(ctx context.Context, eng *server.Engine, opts research.Options) error {
	fmt.Println("jandive research. Type a question, 'history' for past runs, 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	var conversation []research.Exchange
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case line == "history":
			entries, err := eng.History(ctx, 10)
			if err != nil {
				fmt.Fprintf(os.Stderr, "history: %v\n", err)
				continue
			}
			for _, e := range entries {
				fmt.Printf("%s  %s\n    %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Query, firstLine(e.Summary))
			}
			continue
		}

		runOpts := opts
		runOpts.Query = line
		runOpts.Conversation = conversation
		sess, err := eng.Research(ctx, runOpts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "research: %v\n", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		fmt.Println()
		fmt.Println(sess.Report.Markdown)

		conversation = append(conversation, research.Exchange{Query: line, Summary: sess.Report.Summary})
		if len(conversation) > 5 {
			conversation = conversation[len(conversation)-5:]
		}
	}
}

func printProgress(ev research.ProgressEvent) {
	if ev.Source != nil {
		fmt.Fprintf(os.Stderr, "  [%s] %s (%s)\n", ev.Source.Status, ev.Source.URL, ev.Source.OriginSubQuery)
		return
	}
	fmt.Fprintf(os.Stderr, "[iteration %d] %s: %s\n", ev.Iteration, ev.Phase, ev.Message)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
