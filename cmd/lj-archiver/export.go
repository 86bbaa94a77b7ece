package main

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/lj-archiver/pkg/export"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

func newExportCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <journal>",
		Short: "Render the archived posts of a journal as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := journalFromArg(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := global.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			dir := filepath.Join(cfg.OutputBaseDir, utils.SanitizeFilename(journal))
			n, err := export.NewExporter(logrus.NewEntry(logger)).Journal(dir, journal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d post(s) to %s\n", n, dir)
			return nil
		},
	}
}
