package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/mailprospect/internal/mockverifier"
)

func main() {
	addr := defaultString("MOCK_VERIFIER_ADDR", ":8080")
	key := defaultString("MOCK_VERIFIER_KEY", "")

	fs := flag.NewFlagSet("mock-verifier", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&key, "key", key, "Require this api key on every request (empty disables the check)")
	finishAfter := fs.Int("finish-after", 1, "Number of fileinfo polls before a job finishes")
	_ = fs.Parse(os.Args[1:])

	srv := mockverifier.New()
	srv.FinishAfterPolls = *finishAfter
	srv.RequireKey(key)

	_, _ = fmt.Fprintf(os.Stdout, "mock-verifier listening on %s (finish-after=%d)\n", addr, *finishAfter)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
