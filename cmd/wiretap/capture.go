package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/cloudconnect/internal/ami"
	"github.com/sweeney/cloudconnect/internal/pbxfeed"
)

func capture(ctx context.Context, host string, port int, user, secret, outDir string) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	fmt.Printf("connecting to %s...\n", addr)

	sess, err := ami.Dial(ctx, addr, user, secret)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".raw")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)
	fmt.Printf("banner: %s\n", sess.Banner)
	if _, err := fmt.Fprintf(f, "%s\r\n", sess.Banner); err != nil {
		return err
	}

	fmt.Println("streaming events (ctrl+c to stop)...")
	n, err := copyEvents(f, sess)
	fmt.Printf("captured %d events\n", n)
	return err
}

// eventSource is satisfied by *ami.Session and *ami.Reader.
type eventSource interface {
	Next() (ami.Event, bool)
	Err() error
}

func copyEvents(w io.Writer, src eventSource) (int, error) {
	n := 0
	for {
		evt, ok := src.Next()
		if !ok {
			return n, src.Err()
		}
		if _, err := evt.WriteTo(w); err != nil {
			return n, fmt.Errorf("writing capture: %w", err)
		}
		n++
	}
}

func replayFile(w io.Writer, path, localExt string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return replay(w, ami.ParseBytes(data), localExt)
}

// replay feeds events through a pbxfeed and prints each change and the
// roster that results.
func replay(w io.Writer, events []ami.Event, localExt string) error {
	feed := pbxfeed.New(pbxfeed.WithLocalExtension(localExt))
	for _, evt := range events {
		for _, c := range feed.Process(evt) {
			if _, err := fmt.Fprintf(w, "%s %s %s -> %s", c.Phase, c.CallID, c.From.Extension, c.To.Extension); err != nil {
				return err
			}
			if c.Cause != "" {
				fmt.Fprintf(w, " (%s)", c.Cause)
			}
			fmt.Fprintf(w, " roster=%d\n", len(feed.Entries(c.Timestamp)))
		}
	}
	fmt.Fprintf(w, "open calls: %d\n", feed.ActiveCalls())
	return nil
}
