package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dinvlad/jade-data-repo/internal/common/app"
	"github.com/dinvlad/jade-data-repo/internal/datarepo"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Joins the ingest fleet and works on the flight queue",
		RunE:  runDatarepo,
	}
	return cmd
}

func runDatarepo(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := app.CreateContextWithShutdown()
	defer cancel()

	a, err := datarepo.NewApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info("Starting...")
	return a.Run(ctx)
}
