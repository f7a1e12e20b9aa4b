package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Asterisk AMI host")
	port := flag.Int("port", 5038, "Asterisk AMI port")
	user := flag.String("user", "admin", "AMI username")
	secret := flag.String("secret", "", "AMI secret")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	replay := flag.String("replay", "", "Print the roster changes a capture file produces")
	localExt := flag.String("local", "", "Extension hidden from the replayed roster")
	flag.Parse()

	switch {
	case *sanitize != "":
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	case *replay != "":
		if err := replayFile(os.Stdout, *replay, *localExt); err != nil {
			fmt.Fprintf(os.Stderr, "replay error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "error: -secret is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := capture(ctx, *host, *port, *user, *secret, *outDir); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
