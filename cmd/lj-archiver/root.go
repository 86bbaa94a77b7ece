package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/lj-archiver/pkg/config"
	"github.com/Sriram-PR/lj-archiver/pkg/fetch"
	logpkg "github.com/Sriram-PR/lj-archiver/pkg/log"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	logLevel   string
	outputDir  string
	stateDir   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "lj-archiver",
		Short: "Archive LiveJournal posts together with their full comment threads",
		Long: `lj-archiver saves journal posts with every comment, expanding collapsed
threads and paginated discussions, downloads embedded images and userpics once,
and writes each post as JSON next to a per-journal index.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configFile, "config", "config.yaml", "Path to config file (optional)")
	root.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.outputDir, "output", "o", "", "Output base directory (overrides config)")
	root.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "State database directory (overrides config)")

	root.AddCommand(
		newArchiveCmd(opts),
		newLinksCmd(opts),
		newExportCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lj-archiver %s\n", version)
		},
	}
}

// setup creates the logger and the validated configuration for a command run
func (o *globalOptions) setup(stderr io.Writer) (*config.AppConfig, *logrus.Logger, error) {
	log := logpkg.NewLogger(o.logLevel, stderr)

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, log, err
	}
	if o.outputDir != "" {
		cfg.OutputBaseDir = o.outputDir
	}
	if o.stateDir != "" {
		cfg.StateDir = o.stateDir
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Debugf("Config: %s", w)
	}
	if err != nil {
		return nil, log, err
	}
	return &cfg, log, nil
}

// newFetcher builds the shared HTTP fetcher from the configuration
func newFetcher(cfg *config.AppConfig, log *logrus.Entry) *fetch.Fetcher {
	client := fetch.NewClient(cfg.HTTPClientSettings, log)
	return fetch.NewFetcher(client, cfg, log)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, finishing current round and stopping...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// journalFromArg accepts a bare journal name or any link on the journal's host
func journalFromArg(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("journal name is empty")
	}
	if !strings.Contains(arg, ".") && !strings.Contains(arg, "/") {
		return arg, nil
	}
	return parse.ParseJournalUser(arg)
}
