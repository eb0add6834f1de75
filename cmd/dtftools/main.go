package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dtfstore.com/internal/export"
	"dtfstore.com/internal/feed"
	"dtfstore.com/internal/tools"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/metrics"
	"dtfstore.com/pkg/xerr"
)

const usage = `usage: dtftools <command> [flags]

commands:
  cat        <input> [-o out] [--symbol S] [--min ms] [--max ms] [--folder dir] [-m] [--csv|--json] [-t] [-a] [-g minutes] [--trades-only]
  check      <input...> [-t seconds]
  numpy      <input> -o out.parquet [-c] [-t] [-a] [-g minutes]
  concat     <input1> <input2> [inputN...] <output>
  split      <input> [-b batch_size]
  repair     <input> [-o output]
  publish    <input> [--topic T] [--nats url] [-t] [-a] [-g minutes]
  influx     <input> [-a] [-g minutes]
  uploadable <dir> [--min-age d] [--upload-config path]

global flags: --config path, --log-level level, --batch-size n
`

func main() {
	metrics.MustRegister()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globals 每个子命令都认的参数
type globals struct {
	config    string
	logLevel  string
	batchSize int
}

func (g *globals) bind(fs *pflag.FlagSet) {
	fs.StringVar(&g.config, "config", "", "config file (default: config/dtf.yaml if present)")
	fs.StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error")
	fs.IntVar(&g.batchSize, "batch-size", 0, "records per chunk when writing")
}

type command struct {
	fs  *pflag.FlagSet
	run func(ctx context.Context, r *tools.Runner, args []string) error
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return tools.ExitUsage
		}
		return tools.ExitOK
	}

	var g globals
	cmds := commands(stdout)
	cmd, ok := cmds[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "dtftools: unknown command %q\n\n%s", args[0], usage)
		return tools.ExitUsage
	}
	g.bind(cmd.fs)
	cmd.fs.SetOutput(stderr)
	if err := cmd.fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return tools.ExitOK
		}
		return tools.ExitUsage
	}

	cfg, err := tools.LoadConfig(g.config)
	if err != nil {
		fmt.Fprintf(stderr, "dtftools: load config: %v\n", err)
		return tools.ExitUsage
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.batchSize > 0 {
		cfg.BatchSize = g.batchSize
	}

	logger.InitWithWriter("dtftools", cfg.LogLevel, stderr, "")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, uuid.NewString())

	start := time.Now()
	err = cmd.run(ctx, tools.New(cfg), cmd.fs.Args())
	code := tools.ExitCode(err)
	if err != nil {
		fmt.Fprintf(stderr, "dtftools %s: %v\n", args[0], err)
		logger.Error(ctx, "command failed", zap.String("cmd", args[0]), zap.Int("exit", code), zap.Error(err))
		return code
	}
	logger.Debug(ctx, "command done", zap.String("cmd", args[0]), zap.Duration("took", time.Since(start)))
	return code
}

func usageErr(format string, args ...any) error {
	return xerr.Newf(xerr.InvalidArgument, format, args...)
}

func format(csv, json bool) (export.Format, error) {
	switch {
	case csv && json:
		return export.Plain, usageErr("--csv and --json are exclusive")
	case csv:
		return export.CSV, nil
	case json:
		return export.JSON, nil
	}
	return export.Plain, nil
}

func commands(stdout io.Writer) map[string]command {
	cmds := map[string]command{}

	// cat
	{
		fs := pflag.NewFlagSet("cat", pflag.ContinueOnError)
		var (
			o            tools.CatOptions
			csv, js      bool
			minutes      int
			minTs, maxTs int64
		)
		fs.StringVarP(&o.Output, "output", "o", "", "write the selected records to a new dtf file")
		fs.StringVar(&o.Symbol, "symbol", "", "expected symbol (required with --folder)")
		fs.Int64Var(&minTs, "min", math.MinInt64, "min timestamp (ms, inclusive)")
		fs.Int64Var(&maxTs, "max", math.MaxInt64, "max timestamp (ms, inclusive)")
		fs.StringVar(&o.Folder, "folder", "", "read every matching dtf file in this folder")
		fs.BoolVarP(&o.Meta, "meta", "m", false, "print metadata only")
		fs.BoolVar(&csv, "csv", false, "csv output")
		fs.BoolVar(&js, "json", false, "json lines output")
		fs.BoolVarP(&o.Timebars, "timebars", "t", false, "aggregate into candles")
		fs.BoolVarP(&o.Aligned, "aligned", "a", false, "align candles to the wall clock grid")
		fs.IntVarP(&minutes, "granularity", "g", 0, "candle size in minutes (default from config)")
		fs.BoolVar(&o.TradesOnly, "trades-only", false, "ignore quotes when aggregating")
		cmds["cat"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if o.Folder == "" && len(args) != 1 {
				return usageErr("cat takes exactly one input")
			}
			if len(args) == 1 {
				o.Input = args[0]
			}
			var err error
			if o.Format, err = format(csv, js); err != nil {
				return err
			}
			o.Min, o.Max = minTs, maxTs
			o.Granularity = time.Duration(minutes) * time.Minute
			return r.Cat(ctx, stdout, o)
		}}
	}

	// check
	{
		fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
		var (
			secs    int
			verbose bool
			js      bool
		)
		fs.IntVarP(&secs, "threshold", "t", 0, "time gap threshold in seconds (default from config, 60)")
		fs.BoolVarP(&verbose, "verbose", "v", false, "print every defect")
		fs.BoolVar(&js, "json", false, "json lines output")
		cmds["check"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) == 0 {
				return usageErr("check needs at least one input")
			}
			f, _ := format(false, js)
			_, err := r.Check(ctx, stdout, tools.CheckOptions{
				Inputs:    args,
				Threshold: time.Duration(secs) * time.Second,
				Verbose:   verbose,
				Format:    f,
			})
			return err
		}}
	}

	// numpy
	{
		fs := pflag.NewFlagSet("numpy", pflag.ContinueOnError)
		var (
			o       tools.NumpyOptions
			minutes int
		)
		fs.StringVarP(&o.Output, "output", "o", "", "parquet output path")
		fs.BoolVarP(&o.Compressed, "compressed", "c", false, "zstd-compress columns")
		fs.BoolVarP(&o.Timebars, "timebars", "t", false, "export candles instead of records")
		fs.BoolVarP(&o.Aligned, "aligned", "a", false, "align candles to the wall clock grid")
		fs.IntVarP(&minutes, "granularity", "g", 0, "candle size in minutes")
		fs.BoolVar(&o.TradesOnly, "trades-only", false, "ignore quotes when aggregating")
		cmds["numpy"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) != 1 {
				return usageErr("numpy takes exactly one input")
			}
			o.Input = args[0]
			o.Granularity = time.Duration(minutes) * time.Minute
			_, err := r.Numpy(ctx, o)
			return err
		}}
	}

	// concat
	{
		fs := pflag.NewFlagSet("concat", pflag.ContinueOnError)
		cmds["concat"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) < 3 {
				return usageErr("concat needs two or more inputs and an output")
			}
			_, err := r.Concat(ctx, args[len(args)-1], args[:len(args)-1]...)
			return err
		}}
	}

	// split
	{
		fs := pflag.NewFlagSet("split", pflag.ContinueOnError)
		var batch int
		fs.IntVarP(&batch, "batch", "b", 0, "records per output file (default --batch-size)")
		cmds["split"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) != 1 {
				return usageErr("split takes exactly one input")
			}
			_, err := r.Split(ctx, stdout, args[0], batch)
			return err
		}}
	}

	// repair
	{
		fs := pflag.NewFlagSet("repair", pflag.ContinueOnError)
		var (
			o  tools.RepairOptions
			js bool
		)
		fs.StringVarP(&o.Output, "output", "o", "", "output path (default <stem>-repaired.dtf)")
		fs.BoolVar(&js, "json", false, "json report")
		cmds["repair"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) != 1 {
				return usageErr("repair takes exactly one input")
			}
			o.Input = args[0]
			o.Format, _ = format(false, js)
			_, err := r.Repair(ctx, stdout, o)
			return err
		}}
	}

	// publish
	{
		fs := pflag.NewFlagSet("publish", pflag.ContinueOnError)
		var (
			o            tools.PublishOptions
			url          string
			minutes      int
			minTs, maxTs int64
		)
		fs.StringVar(&o.Topic, "topic", "", "topic (default dtf:<symbol>)")
		fs.StringVar(&url, "nats", "", "nats url (default nats.url from config)")
		fs.Int64Var(&minTs, "min", math.MinInt64, "min timestamp (ms, inclusive)")
		fs.Int64Var(&maxTs, "max", math.MaxInt64, "max timestamp (ms, inclusive)")
		fs.BoolVarP(&o.Timebars, "timebars", "t", false, "publish candles to candle:<tf>:<symbol>")
		fs.BoolVarP(&o.Aligned, "aligned", "a", false, "align candles to the wall clock grid")
		fs.IntVarP(&minutes, "granularity", "g", 0, "candle size in minutes")
		cmds["publish"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) != 1 {
				return usageErr("publish takes exactly one input")
			}
			if url == "" {
				url = r.Config().Nats.URL
			}
			if url == "" {
				return usageErr("publish: no nats url (--nats or nats.url)")
			}
			b, err := feed.NewNatsBroker(url, nats.Name("dtftools"))
			if err != nil {
				return err
			}
			defer b.Close()

			o.Input, o.Min, o.Max = args[0], minTs, maxTs
			o.Granularity = time.Duration(minutes) * time.Minute
			if _, err := r.Publish(ctx, b, o); err != nil {
				return err
			}
			return b.Flush()
		}}
	}

	// influx
	{
		fs := pflag.NewFlagSet("influx", pflag.ContinueOnError)
		var (
			o       tools.PublishOptions
			minutes int
		)
		fs.BoolVarP(&o.Aligned, "aligned", "a", false, "align candles to the wall clock grid")
		fs.IntVarP(&minutes, "granularity", "g", 0, "candle size in minutes")
		fs.BoolVar(&o.TradesOnly, "trades-only", false, "ignore quotes when aggregating")
		cmds["influx"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) != 1 {
				return usageErr("influx takes exactly one input")
			}
			o.Input, o.Min, o.Max = args[0], math.MinInt64, math.MaxInt64
			o.Granularity = time.Duration(minutes) * time.Minute
			_, err := r.SinkCandles(ctx, o)
			return err
		}}
	}

	// uploadable
	{
		fs := pflag.NewFlagSet("uploadable", pflag.ContinueOnError)
		var o tools.UploadableOptions
		fs.DurationVar(&o.MinAge, "min-age", time.Minute, "skip files modified more recently than this")
		fs.StringVar(&o.ConfigPath, "upload-config", "", "upload plugin config (default: the upload section of --config)")
		cmds["uploadable"] = command{fs: fs, run: func(ctx context.Context, r *tools.Runner, args []string) error {
			if len(args) != 1 {
				return usageErr("uploadable takes exactly one directory")
			}
			o.Dir = args[0]
			_, err := r.Uploadable(ctx, stdout, o)
			return err
		}}
	}

	return cmds
}
