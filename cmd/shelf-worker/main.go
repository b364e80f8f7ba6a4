// ABOUTME: Entry point for a shelf-worker library process.
// ABOUTME: Speaks line-delimited JSON-RPC on stdio for exactly one library.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/shelf-gateway/internal/worker"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: shelf-worker <library-root>")
		os.Exit(1)
	}

	// stdout carries the protocol, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(root string) error {
	store, err := worker.OpenStore(root)
	if err != nil {
		return err
	}
	defer store.Close()

	return worker.NewServer(store, os.Stdin, os.Stdout, os.Stderr).Run()
}
