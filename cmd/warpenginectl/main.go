// Command warpenginectl is an offline maintenance CLI for a warpengine
// data directory: it opens (and reports recovered stats) or verifies
// (scans every log for corruption) a directory, then exits. Unlike the
// teacher's arena-cache-inspect, which polls a running process's debug
// HTTP endpoint, these are offline operations — warpenginectl opens the
// Engine in-process directly against the directory on disk.
//
// © 2025 warpengine authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	warpengine "github.com/arena-db/warpengine/pkg"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	switch os.Args[1] {
	case "open":
		os.Exit(runOpen(ctx, os.Args[2:]))
	case "verify":
		os.Exit(runVerify(ctx, os.Args[2:]))
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: warpenginectl <open|verify> [-json] [-watch interval] <dir>")
}

func runOpen(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "print stats as JSON")
	watch := fs.Duration("watch", 0, "if set, re-print stats on this interval until interrupted")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		return 2
	}
	dir := fs.Arg(0)

	e, err := warpengine.Open(dir)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	print := func() {
		if *jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(e.Stats())
			return
		}
		prettyPrintStats(e.Stats())
	}

	print()
	if *watch <= 0 {
		return 0
	}

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			print()
		case <-ctx.Done():
			return 0
		}
	}
}

func runVerify(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "print report as JSON")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		return 2
	}
	dir := fs.Arg(0)

	report, err := verifyDir(dir)
	if err != nil {
		return fail(err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	} else {
		for _, s := range report.Shards {
			fmt.Printf("shard %d: records=%d truncated=%v next_seq=%d\n", s.ShardID, s.Records, s.Truncated, s.NextSeq)
		}
	}

	if report.AnyCorrupt() {
		return 1
	}
	return 0
}

func prettyPrintStats(s warpengine.Stats) {
	for i, sh := range s.Shards {
		fmt.Printf("shard %d: size=%d hits=%d misses=%d deletions=%d last_seq=%d\n",
			i, sh.Size, sh.Hits, sh.Misses, sh.Deletions, sh.LastSeq)
	}
	fmt.Printf("cache: hits=%d misses=%d evictions=%d tiers=%v\n",
		s.Cache.Hits, s.Cache.Misses, s.Cache.Evictions, s.Cache.TierSizes)
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "warpenginectl:", err)
	return 2
}
