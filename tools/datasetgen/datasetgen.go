// Command datasetgen generates deterministic byte-string key/value
// corpora for driving warpenginectl and bench reproducibly, adapted from
// the teacher's tools/dataset_gen (which emitted bare uint64 keys) to
// emit newline-delimited "key\tvalue" pairs, each field base64-encoded,
// whose raw bytes are sized within the engine's key/value bounds
// (1..4096 bytes, 0..16MiB).
//
// Usage:
//
//	go run ./tools/datasetgen -n 100000 -dist=zipf -seed=42 -out corpus.tsv
//
// © 2025 warpengine authors. MIT License.
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n        = flag.Int("n", 100_000, "number of key/value pairs to generate")
		dist     = flag.String("dist", "uniform", "key distribution: uniform or zipf")
		zipfS    = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV    = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		keyLen   = flag.Int("keylen", 16, "key length in bytes (1..4096)")
		valueLen = flag.Int("vallen", 64, "value length in bytes (0..16777216)")
		seedVal  = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath  = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *keyLen < 1 || *keyLen > 4096 {
		fmt.Fprintln(os.Stderr, "keylen must be in 1..4096")
		os.Exit(1)
	}
	if *valueLen < 0 || *valueLen > 16<<20 {
		fmt.Fprintln(os.Stderr, "vallen must be in 0..16777216")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var idGen func() uint64
	switch *dist {
	case "uniform":
		idGen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		idGen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	key := make([]byte, *keyLen)
	value := make([]byte, *valueLen)

	for i := 0; i < *n; i++ {
		id := idGen()
		fillDeterministic(key, id)
		fillDeterministic(value, id^0x9e3779b97f4a7c15)

		fmt.Fprintf(w, "%s\t%s\n", base64.RawStdEncoding.EncodeToString(key), base64.RawStdEncoding.EncodeToString(value))
	}
}

// fillDeterministic stamps seed across buf so the same id always produces
// the same bytes, without needing len(buf) random draws per record.
func fillDeterministic(buf []byte, seed uint64) {
	for i := range buf {
		seed = seed*6364136223846793005 + 1442695040888963407
		buf[i] = byte(seed >> 56)
	}
}
