// `iostitch` -- Stitch time-indexed storage telemetry into queryable series and facts
//
// Run `iostitch help` for brief help.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"iostitch/app"
	"iostitch/common"
	"iostitch/config"
	"iostitch/daemon"
	"iostitch/ingest"
	"iostitch/providers/jobinfo"
	"iostitch/providers/lfsstatus"
)

const IostitchVersion = "0.1.0"

func main() {
	err := iostitch()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func iostitch() error {
	out := flag.CommandLine.Output()

	if len(os.Args) < 2 {
		fmt.Fprintf(out, "Required operation missing, try `iostitch help`\n")
		os.Exit(2)
	}

	verb := os.Args[1]
	rest := os.Args[2:]
	switch verb {
	case "help", "-h":
		fmt.Fprintf(out, "Usage: %s command [options]\n", os.Args[0])
		fmt.Fprintf(out, "Commands:\n")
		fmt.Fprintf(out, "  query     - assemble a metric's time series over a date range\n")
		fmt.Fprintf(out, "  jobinfo   - look up a job's start/end time and node list\n")
		fmt.Fprintf(out, "  lfsstatus - look up a file system's fullness at a point in time\n")
		fmt.Fprintf(out, "  ingest    - consume samples from kafka and write period files\n")
		fmt.Fprintf(out, "  cache     - export or import the database result cache\n")
		fmt.Fprintf(out, "  daemon    - serve queries over HTTP\n")
		fmt.Fprintf(out, "  version   - print information about the program\n")
		fmt.Fprintf(out, "  help      - print this message\n")
		fmt.Fprintf(out, "Each command accepts -h to further explain options.\n")
		os.Exit(0)
	case "query":
		return queryCmd(rest)
	case "jobinfo":
		return factCmd(rest, jobinfo.Capability)
	case "lfsstatus":
		return factCmd(rest, lfsstatus.Capability)
	case "ingest":
		return ingestCmd(rest)
	case "cache":
		return cacheCmd(rest)
	case "daemon":
		return daemonCmd(rest)
	case "version":
		fmt.Printf("iostitch version(%s)\n", IostitchVersion)
		os.Exit(0)
	default:
		fmt.Fprintf(out, "Unknown operation %q, try `iostitch help`\n", verb)
		os.Exit(2)
	}
	return nil
}

// sharedArgs are the flags every verb accepts.  The config file name falls back to the user's
// ~/.iostitch defaults and then to $IOSTITCH_CONFIG.
type sharedArgs struct {
	configFile string
	dbURI      string
	verbose    bool
}

func (s *sharedArgs) add(fs *flag.FlagSet) {
	fs.StringVar(&s.configFile, "config", "", "Site configuration `file` (default $IOSTITCH_CONFIG)")
	fs.StringVar(&s.dbURI, "db", "", "Database connection `uri`, overrides the configuration")
	fs.BoolVar(&s.verbose, "v", false, "Print verbose diagnostics")
}

func (s *sharedArgs) load() (*config.Config, error) {
	common.ApplyDefault(&s.configFile, common.DefConfig)
	common.ApplyDefault(&s.dbURI, common.DefDb)
	common.SetVerbose(s.verbose)
	cfg, err := config.Load(s.configFile)
	if err != nil {
		return nil, err
	}
	if s.dbURI != "" {
		cfg.Database = s.dbURI
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func queryCmd(args []string) error {
	var shared sharedArgs
	var metric, selector, fromStr, toStr string
	var strict bool
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	shared.add(fs)
	fs.StringVar(&metric, "metric", "", "Metric `name` from the site configuration (required)")
	fs.StringVar(&selector, "selector", "", "Selector `key` for keyed templates")
	fs.StringVar(&fromStr, "from", "1d", "Start of range, YYYY-MM-DD, Nd, Nw or RFC3339")
	fs.StringVar(&toStr, "to", "", "End of range, exclusive (default now)")
	fs.BoolVar(&strict, "strict", false, "Fail on any data gap instead of printing a partial result")
	fs.Parse(args)
	if metric == "" {
		return fmt.Errorf("-metric is required")
	}

	cfg, err := shared.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	now := time.Now()
	from, err := common.ParseDateUtc(now, fromStr, false)
	if err != nil {
		return err
	}
	to := now
	if toStr != "" {
		to, err = common.ParseDateUtc(now, toStr, true)
		if err != nil {
			return err
		}
	}
	result, err := a.QuerySeries(ctx, metric, selector, from, to, strict)
	if err != nil {
		return err
	}

	// CSV on stdout, one row per grid timestamp, missing cells left empty.  Gaps go to stderr so
	// that the data stream stays clean.
	fmt.Printf("time,%s\n", strings.Join(result.Columns, ","))
	for i, t := range result.Timestamps {
		fields := make([]string, 1, len(result.Columns)+1)
		fields[0] = time.Unix(t, 0).UTC().Format(time.RFC3339)
		for j, v := range result.Values[i] {
			if result.Missing[i][j] || math.IsNaN(v) {
				fields = append(fields, "")
			} else {
				fields = append(fields, fmt.Sprint(v))
			}
		}
		fmt.Println(strings.Join(fields, ","))
	}
	for _, g := range result.Gaps {
		fmt.Fprintf(os.Stderr, "gap: %s: %s\n", g.Range, g.Reason)
	}
	return nil
}

func factCmd(args []string, capability string) error {
	var shared sharedArgs
	var name, atStr string
	fs := flag.NewFlagSet(capability, flag.ExitOnError)
	shared.add(fs)
	switch capability {
	case jobinfo.Capability:
		fs.StringVar(&name, "job", "", "Job `id` to look up (required)")
	case lfsstatus.Capability:
		fs.StringVar(&name, "fs", "", "File system `name` to look up (required)")
	}
	fs.StringVar(&atStr, "at", "", "Reference time, RFC3339 (default now)")
	fs.Parse(args)
	if name == "" {
		return fmt.Errorf("the lookup key is required")
	}
	var at time.Time
	if atStr != "" {
		var err error
		at, err = time.Parse(time.RFC3339, atStr)
		if err != nil {
			return err
		}
	}

	cfg, err := shared.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var req map[string]string
	if capability == jobinfo.Capability {
		req = jobinfo.RequestFor(name, at)
	} else {
		req = lfsstatus.RequestFor(name, at)
	}
	res, outcomes, err := a.ResolveFact(ctx, capability, req)
	if err != nil {
		if shared.verbose {
			for _, o := range outcomes {
				fmt.Fprintf(os.Stderr, "%s: %v\n", o.Provider, o.Err)
			}
		}
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"provider": res.Provider, "value": res.Value})
}

func ingestCmd(args []string) error {
	var shared sharedArgs
	var broker string
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	shared.add(fs)
	fs.StringVar(&broker, "broker", "", "Kafka broker `host:port`, overrides the configuration")
	fs.Parse(args)

	common.ApplyDefault(&broker, common.DefBroker)
	cfg, err := shared.load()
	if err != nil {
		return err
	}
	if broker != "" {
		cfg.Kafka.Broker = broker
	}
	ctx, stop := signalContext()
	defer stop()
	return ingest.Run(ctx, cfg)
}

func cacheCmd(args []string) error {
	var shared sharedArgs
	var exportFile, importFile string
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	shared.add(fs)
	fs.StringVar(&exportFile, "export", "", "Write the accumulated result cache to `file`")
	fs.StringVar(&importFile, "import", "", "Seed the result cache from `file`")
	fs.Parse(args)
	common.ApplyDefault(&exportFile, common.DefCache)
	if (exportFile == "") == (importFile == "") {
		return fmt.Errorf("exactly one of -export and -import is required")
	}

	cfg, err := shared.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	db := a.Db()
	if db == nil {
		return fmt.Errorf("no database or cache file configured")
	}
	if exportFile != "" {
		return db.ExportCache(exportFile)
	}
	return db.ImportCache(importFile)
}

func daemonCmd(args []string) error {
	var shared sharedArgs
	var port uint
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	shared.add(fs)
	fs.UintVar(&port, "port", 0, "HTTP listen `port`")
	fs.Parse(args)

	cfg, err := shared.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return daemon.New(a, port).Start()
}
