package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scopinator/seestar"
)

// runREPL drives an interactive (or piped) command loop against an already
// connected Client. Local dot-commands are handled here; anything else is
// sent as a raw JSON-RPC method call, with any text after the method name
// passed as its params.
func runREPL(ctx context.Context, client *seestar.Client) error {
	editor, err := newLineEditor("seestar> ")
	if err != nil {
		return fmt.Errorf("start line editor: %w", err)
	}
	defer editor.Close()

	unsubscribe := client.SubscribeAll(func(ev seestar.Event) {
		fmt.Fprintf(os.Stderr, "\n[event] %s: %s\n", ev.Kind, string(ev.Payload))
	})
	defer unsubscribe()

	for {
		line, err := editor.GetLine()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case ".quit", ".exit":
			return nil
		case ".status":
			printStatus(client.Status())
			continue
		case ".help":
			fmt.Println("Dot-commands: .status .quit .help")
			fmt.Println("Anything else is sent as a method call: <method> [json params].")
			continue
		}

		method, params := splitMethodAndParams(line)
		result, err := client.Send(ctx, method, params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(string(result))
	}
}

// splitMethodAndParams accepts "method" or "method {json}" and returns the
// method name plus a decoded params value (nil if none given, or the raw
// text as a string if it is not valid JSON).
func splitMethodAndParams(line string) (string, any) {
	method, rest, found := strings.Cut(line, " ")
	if !found {
		return method, nil
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return method, nil
	}
	var params any
	if err := json.Unmarshal([]byte(rest), &params); err != nil {
		return method, rest
	}
	return method, params
}

func printStatus(s seestar.Snapshot) {
	fmt.Printf("control connected: %v  imaging connected: %v\n", s.ControlConnected, s.ImagingConnected)
	fmt.Printf("pointing: ra=%.4f dec=%.4f tracking=%v (updated %s)\n",
		s.Pointing.RA, s.Pointing.Dec, s.Pointing.Tracking, s.Pointing.UpdatedAt)
	fmt.Printf("pi: battery=%d%% temp=%.1fC (updated %s)\n",
		s.Pi.BatteryPercent, s.Pi.TemperatureC, s.Pi.UpdatedAt)
	fmt.Printf("view: mode=%s target=%s (updated %s)\n", s.View.Mode, s.View.Target, s.View.UpdatedAt)
	fmt.Printf("stack: stacked=%d dropped=%d skipped=%d (updated %s)\n",
		s.Stack.FramesStacked, s.Stack.FramesDropped, s.Stack.FramesSkipped, s.Stack.UpdatedAt)
}
