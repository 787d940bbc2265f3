package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tidespike/internal/alerts"
	"tidespike/internal/config"
	"tidespike/internal/engine"
	"tidespike/internal/ingest"
	"tidespike/internal/normalize"
	"tidespike/internal/report"
	"tidespike/internal/storage"
)

type detectOptions struct {
	input     string
	source    string
	station   string
	begin     string
	end       string
	out       string
	report    bool
	threshold float64
	window    time.Duration
	sigma     float64
	workers   int
}

func newDetectCmd(root *rootOptions) *cobra.Command {
	opts := &detectOptions{}
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Classify a water-level series and report spikes",
		Example: `  tidespike detect --input 8772471.csv --out results.csv --report
  tidespike detect -c tidespike.yaml --source database --station 8772471 --begin 2018-08-01 --end 2018-09-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())
			return runDetect(cmd.Context(), cfg, opts, logger, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "input file (csv or json)")
	f.StringVar(&opts.source, "source", "", "override input.source (file|database)")
	f.StringVarP(&opts.station, "station", "s", "", "station id")
	f.StringVar(&opts.begin, "begin", "", "first timestamp to classify (inclusive)")
	f.StringVar(&opts.end, "end", "", "last timestamp to classify (inclusive)")
	f.StringVarP(&opts.out, "out", "o", "", "write classifications as csv to this path (- for stdout)")
	f.BoolVar(&opts.report, "report", false, "score predictions against accepted levels")
	f.Float64Var(&opts.threshold, "truth-threshold", -1, "accepted-raw difference that marks a true spike (default detection.buffer)")
	f.DurationVar(&opts.window, "window", 0, "override detection.window")
	f.Float64Var(&opts.sigma, "sigma", 0, "override detection.sigma")
	f.IntVar(&opts.workers, "workers", 0, "override detection.workers")
	return cmd
}

func (o *detectOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if o.input != "" {
		cfg.Input.Path = o.input
	}
	if o.source != "" {
		cfg.Input.Source = o.source
	}
	if o.station != "" {
		cfg.Input.Station = o.station
	}
	if o.window > 0 {
		cfg.Detection.Window = o.window
	}
	if cmd.Flags().Changed("sigma") {
		cfg.Detection.Sigma = o.sigma
	}
	if o.workers > 0 {
		cfg.Detection.Workers = o.workers
	}
	return config.Validate(cfg)
}

func runDetect(ctx context.Context, cfg *config.Config, opts *detectOptions, logger *slog.Logger, stdout io.Writer) error {
	batch, err := loadSeries(ctx, cfg, opts.begin, opts.end, logger)
	if err != nil {
		return err
	}
	if batch.Station == "" {
		batch.Station = "unknown"
	}
	if cfg.Input.Dedupe {
		batch.Observations, _ = engine.DedupeObservations(batch.Observations)
	}

	sinks := engine.Sinks{}
	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		sinks.Store = st
	}
	pub, err := alerts.NewKafkaPublisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		sinks.Publisher = pub
	}

	eng, err := engine.NewEngine(cfg, logger, sinks)
	if err != nil {
		return err
	}
	res, err := eng.Process(ctx, batch.Station, batch.Observations)
	if err != nil {
		return err
	}

	if opts.out != "" {
		if err := writeResults(opts.out, stdout, res); err != nil {
			return err
		}
	}
	if opts.out != "-" {
		fmt.Fprintf(stdout, "station %s: %d observations, %d evaluated, %d insufficient history, %d spikes (dropped %d)\n",
			res.Run.Station, res.Run.Observations, res.Run.Evaluated, res.Run.Insufficient, res.Run.Spikes, batch.Dropped)
	}
	if opts.report {
		threshold := opts.threshold
		if threshold < 0 {
			threshold = cfg.Detection.Buffer
		}
		score, err := report.Evaluate(batch.Observations, res.Classifications, threshold)
		if err != nil {
			return err
		}
		if err := score.WriteTable(stdout); err != nil {
			return err
		}
	}
	return res.SinkErr
}

func writeResults(path string, stdout io.Writer, res *engine.Result) error {
	if path == "-" {
		return report.WriteCSV(stdout, res.Classifications)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(f, res.Classifications); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// loadSeries reads the configured input, either a file or the source
// database. --begin and --end bound both sources inclusively.
func loadSeries(ctx context.Context, cfg *config.Config, begin, end string, logger *slog.Logger) (*ingest.Batch, error) {
	from, to, err := parseRange(cfg.Input.Timezone, begin, end)
	if err != nil {
		return nil, err
	}
	switch cfg.Input.Source {
	case "database":
		return loadFromDatabase(ctx, cfg.Input, from, to, logger)
	default:
		if cfg.Input.Path == "" {
			return nil, errors.New("input path required (--input or input.path)")
		}
		batch, err := ingest.LoadFile(cfg.Input.Path, cfg.Input, logger)
		if err != nil {
			return nil, err
		}
		batch.Between(from, to)
		return batch, nil
	}
}

func parseRange(timezone, begin, end string) (from, to time.Time, err error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return from, to, err
	}
	if begin != "" {
		if from, err = normalize.ParseTimestamp(begin, loc); err != nil {
			return from, to, fmt.Errorf("--begin: %w", err)
		}
	}
	if end != "" {
		if to, err = normalize.ParseTimestamp(end, loc); err != nil {
			return from, to, fmt.Errorf("--end: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, errors.New("--end is before --begin")
	}
	return from, to, nil
}

func loadFromDatabase(ctx context.Context, in config.InputConfig, from, to time.Time, logger *slog.Logger) (*ingest.Batch, error) {
	if in.Station == "" {
		return nil, errors.New("station required for database input")
	}
	q := storage.Query{Station: in.Station, Begin: from, End: to, NullValue: in.NullValue}
	src, err := storage.Open(in.Database.Driver, in.Database.DSN)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	obs, err := src.LoadObservations(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", in.Station, err)
	}
	if logger != nil {
		logger.Info("series loaded", "source", "database", "station", in.Station, "observations", len(obs))
	}
	return &ingest.Batch{Station: in.Station, Observations: obs}, nil
}
