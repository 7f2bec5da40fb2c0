// Command extract-dids reads a file of newline-separated handles or
// DIDs, resolves any handles to DIDs against the network, and prints
// the resulting DIDs one per line — for seeding add-list-item.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/symmetric-sync/blocksync/internal/atproto"
)

func main() {
	inputPath := flag.String("in", "", "path to a newline-separated file of handles or DIDs (required)")
	flag.Parse()
	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: extract-dids -in <file>")
		os.Exit(2)
	}

	pdsHost := os.Getenv("PDS_HOST")
	if pdsHost == "" {
		pdsHost = "https://bsky.social"
	}
	client := atproto.New(pdsHost)

	f, err := os.Open(*inputPath)
	if err != nil {
		log.Fatalf("open input file: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "did:") {
			fmt.Println(line)
			continue
		}
		did, err := client.ResolveHandle(ctx, line)
		if err != nil {
			log.Printf("resolve %s: %v", line, err)
			continue
		}
		fmt.Println(did)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input file: %v", err)
	}
}
