package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/lj-archiver/pkg/calendar"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/scheduler"
)

func newLinksCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "links <journal> <year>",
		Short: "Print the links of every post a journal published in a year",
		Long: fmt.Sprintf(`Walk the year calendar of a journal and print one "<date> <url>" line per post.
The journal may be given by name or by any link on its host. The year must be
within %d-%d.`, parse.MinCalendarYear, parse.MaxCalendarYear),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := journalFromArg(args[0])
			if err != nil {
				return err
			}
			year, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid year %q: %w", args[1], err)
			}
			if year < parse.MinCalendarYear || year > parse.MaxCalendarYear {
				return fmt.Errorf("year %d outside %d-%d", year, parse.MinCalendarYear, parse.MaxCalendarYear)
			}

			cfg, logger, err := global.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			log := logrus.NewEntry(logger)
			collector := calendar.NewCollector(newFetcher(cfg, log), scheduler.Options{
				MaxConcurrent: cfg.MaxConcurrentFetches,
				FetchTimeout:  cfg.FetchTimeout,
				MaxRounds:     cfg.MaxRounds,
			}, log)

			links, err := collector.YearPostLinks(ctx, journal, year)
			if err != nil {
				return err
			}
			return calendar.WriteLinks(cmd.OutOrStdout(), links)
		},
	}
}
