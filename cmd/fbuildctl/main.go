// Command fbuildctl is the small separate tool SPEC_FULL.md §3 describes
// for querying a running cmd/fbuild or cmd/fworker's admin API remotely,
// wrapping internal/adminclient the way cmd/fbuild/main.go's runWorkerCmd
// wraps internal/control for the in-process case.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/InSimo/fastbuild/internal/adminclient"
	"github.com/InSimo/fastbuild/internal/config"
	"github.com/InSimo/fastbuild/internal/procgroup"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) int32 {
	fs := flag.NewFlagSet("fbuildctl", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:31265", "base URL of the peer's admin API")
	detailed := fs.Bool("detailed", false, "request per-worker/per-CPU detail rows")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: fbuildctl [-addr url] [-detailed] [-timeout d] status|metrics")
	}
	if err := fs.Parse(args); err != nil {
		return procgroup.ExitBadArgs
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return procgroup.ExitBadArgs
	}

	client := adminclient.New(config.Connection{Address: *addr})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch fs.Arg(0) {
	case "status":
		data, err := client.Status(ctx, *detailed)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fbuildctl: status:", err)
			return procgroup.ExitBuildFailure
		}
		fmt.Println(string(data))
	case "metrics":
		text, err := client.MetricsText(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fbuildctl: metrics:", err)
			return procgroup.ExitBuildFailure
		}
		fmt.Print(text)
	default:
		fs.Usage()
		return procgroup.ExitBadArgs
	}
	return procgroup.ExitOK
}
