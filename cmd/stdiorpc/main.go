// Command stdiorpc runs a declarative scenario suite against a
// newline-delimited JSON-RPC server subprocess and reports per-step
// outcomes. It exits non-zero unless every step succeeded.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/probelabs/stdiorpc"
)

// argList collects repeated -arg flags.
type argList []string

func (a *argList) String() string { return strings.Join(*a, " ") }

func (a *argList) Set(v string) error {
	*a = append(*a, v)

	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		server     = flag.String("server", "", "path to the server executable (required)")
		suitePath  = flag.String("suite", "", "path to the YAML suite file (required)")
		timeout    = flag.Duration("timeout", 10*time.Second, "default per-exchange deadline")
		warmup     = flag.Duration("warmup", 0, "delay between launch and the first request")
		grace      = flag.Duration("grace", 3*time.Second, "grace period before forced kill")
		verbose    = flag.Bool("v", false, "enable harness debug logging")
		showStderr = flag.Bool("stderr", false, "mirror server stderr to this process")
		serverArgs argList
	)

	flag.Var(&serverArgs, "arg", "argument passed to the server (repeatable)")
	flag.Parse()

	if *server == "" || *suitePath == "" {
		fmt.Fprintln(os.Stderr, "usage: stdiorpc -server PATH -suite FILE [-arg X ...]")
		flag.PrintDefaults()

		return 2
	}

	logger := stdiorpc.NopLogger()
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	opts := stdiorpc.Options{
		ServerPath:     *server,
		ServerArgs:     serverArgs,
		WarmUp:         *warmup,
		DefaultTimeout: *timeout,
		GracePeriod:    *grace,
		Logger:         logger,
	}

	if *showStderr {
		opts.Stderr = func(line string) {
			fmt.Fprintln(os.Stderr, "[server] "+line)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := stdiorpc.RunSuiteFile(ctx, opts, *suitePath)
	if report != nil {
		printReport(report)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "stdiorpc: %v\n", err)

		return 1
	}

	if !report.OK() {
		return 1
	}

	return 0
}

func printReport(report *stdiorpc.Report) {
	fmt.Printf("suite %s run %s\n", report.Name, report.RunID)

	for _, step := range report.Steps {
		mark := "ok  "
		if step.Outcome != stdiorpc.Success {
			mark = "FAIL"
		}

		line := fmt.Sprintf("%s %-24s %-14s %s", mark, step.Name, step.Outcome, step.Elapsed.Round(time.Millisecond))
		if step.Detail != "" {
			line += "  " + step.Detail
		}

		fmt.Println(line)
	}

	fmt.Printf("%d step(s) in %s\n", len(report.Steps), report.Elapsed.Round(time.Millisecond))
}
