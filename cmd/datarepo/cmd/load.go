package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"

	"github.com/dinvlad/jade-data-repo/internal/common/app"
	"github.com/dinvlad/jade-data-repo/internal/datarepo"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/ingest"
)

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load ./path/to/request.yaml",
		Short: "Bulk loads an array of files and prints the result",
		Long: `Bulk loads the files listed in a request file, working on the flight queue until the load has
finished, and prints the per-file results.

	Example request.yaml:

	datasetId: 3b4a2b6e-4d39-4f0f-8d1e-65c1f0f3c3a7
	datasetName: genomes
	profileId: default
	loadTag: genomes-2023-01
	maxFailedFileLoads: 10
	loadArray:
	  - sourcePath: /mnt/staging/a.bam
	    targetPath: /samples/a.bam
	    mimeType: application/octet-stream
`,
		Args: cobra.ExactArgs(1),
		RunE: runLoad,
	}
	cmd.Flags().String("loadTag", "", "Load tag of the request; overrides the request file")
	cmd.Flags().Int("maxFailedFileLoads", 0, "Stop launching files after this many failures, -1 never stops; overrides the request file")
	return cmd
}

// maxFailedOverride tells an explicit maxFailedFileLoads apart from an omitted one.
type maxFailedOverride struct {
	MaxFailedFileLoads *int `json:"maxFailedFileLoads"`
}

func readBulkRequest(path string) (*ingest.BulkLoadArrayRequest, *int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	req := &ingest.BulkLoadArrayRequest{}
	if err := yaml.Unmarshal(data, req); err != nil {
		return nil, nil, errors.Wrapf(err, "parsing %s", path)
	}
	override := &maxFailedOverride{}
	if err := yaml.Unmarshal(data, override); err != nil {
		return nil, nil, errors.Wrapf(err, "parsing %s", path)
	}
	return req, override.MaxFailedFileLoads, nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	req, maxFailed, err := readBulkRequest(args[0])
	if err != nil {
		return err
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}

	req.MaxFailedFileLoads = config.Load.MaxFailedFileLoads
	if maxFailed != nil {
		req.MaxFailedFileLoads = *maxFailed
	}
	if cmd.Flags().Changed("maxFailedFileLoads") {
		if req.MaxFailedFileLoads, err = cmd.Flags().GetInt("maxFailedFileLoads"); err != nil {
			return errors.WithStack(err)
		}
	}
	if cmd.Flags().Changed("loadTag") {
		if req.LoadTag, err = cmd.Flags().GetString("loadTag"); err != nil {
			return errors.WithStack(err)
		}
	}

	ctx, cancel := app.CreateContextWithShutdown()
	defer cancel()
	a, err := datarepo.NewApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()

	engineCtx, stopEngine := context.WithCancel(ctx)
	g, engineCtx := errgroup.WithContext(engineCtx)
	g.Go(func() error { return a.RunEngine(engineCtx) })

	result, loadErr := bulkLoad(engineCtx, a, req)
	stopEngine()
	if err := g.Wait(); err != nil && loadErr == nil {
		loadErr = err
	}
	if loadErr != nil {
		return loadErr
	}

	out, err := yaml.Marshal(result)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
	return errors.WithStack(err)
}

func bulkLoad(ctx context.Context, a *datarepo.App, req *ingest.BulkLoadArrayRequest) (*ingest.BulkLoadArrayResult, error) {
	flightId, err := a.Ingest.IngestBulkFileArray(ctx, *req)
	if err != nil {
		return nil, err
	}
	log.Infof("Submitted bulk load of %d files as flight %s", len(req.LoadArray), flightId)
	return a.Ingest.WaitForBulkResult(ctx, flightId)
}
