// Command seestarctl is a REPL client for a networked telescope's control
// channel. It connects, prints a prompt, and sends whatever the user types
// as a JSON-RPC method call.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scopinator/seestar"
)

const version = "0.1.0"

func main() {
	host := flag.String("host", "", "telescope hostname or IP (required)")
	controlPort := flag.Int("control-port", seestar.DefaultControlPort, "control channel port")
	imagingPort := flag.Int("imaging-port", seestar.DefaultImagingPort, "imaging channel port")
	verbose := flag.Bool("v", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("seestarctl", version)
		return
	}
	if *host == "" {
		fmt.Fprintln(os.Stderr, "seestarctl: -host is required")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	endpoint := seestar.Endpoint{Host: *host, ControlPort: *controlPort, ImagingPort: *imagingPort}
	client := seestar.NewClient(endpoint, seestar.DefaultConfig(), slogAdapter{logger})

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seestarctl: connect: %v\n", err)
		os.Exit(2)
	}
	defer client.Disconnect()

	if err := runREPL(ctx, client); err != nil {
		fmt.Fprintf(os.Stderr, "seestarctl: %v\n", err)
		os.Exit(1)
	}
}

// slogAdapter satisfies seestar.Logger with a *slog.Logger, so the CLI is
// the only place in the module that imports log/slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
