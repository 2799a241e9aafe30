package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ghostkeys/internal/interceptor"
	"ghostkeys/internal/logging"
	"ghostkeys/internal/mapper"
	"ghostkeys/internal/metrics"
	"ghostkeys/internal/state"
)

// scriptWait is how long a "wait" token lets pass; longer than the accent
// timeout.
const scriptWait = 600 * time.Millisecond

// scriptStep is the time between two keys of a script.
const scriptStep = 40 * time.Millisecond

func cmdSimulate(args []string) int {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	modeFlag := fs.String("mode", "active", "Mode: active or passthrough")
	verbose := fs.Bool("v", false, "Log every event, characters included")
	showMetrics := fs.Bool("metrics", false, "Print pipeline metrics")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, `Usage: ghostkeys simulate [-mode active|passthrough] [-v] [-metrics] "<keys>"`)
		return 1
	}
	mode, err := state.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logCfg := logging.DefaultConfig()
	logOut := io.Discard
	if *verbose {
		logCfg.Level = logging.LevelDebug
		logCfg.LogCharacters = true
		logOut = os.Stderr
	}
	logger := logging.NewWithWriter(logCfg, logOut).WithComponent("simulate")

	registry := metrics.NewRegistry(logging.AppName)
	text, err := runScript(strings.Join(fs.Args(), " "), mode, interceptor.Options{
		Logger:  logger.Logger,
		Metrics: metrics.NewPipeline(registry),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(text)

	if *showMetrics {
		if err := registry.WritePrometheus(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}

// runScript types script through a simulated hook and returns the text an
// application would receive: forwarded keys as their US characters plus
// everything injected.
func runScript(script string, mode state.OperationMode, opts interceptor.Options) (string, error) {
	sim := interceptor.NewSimulated(opts)
	if err := sim.Start(context.Background(), state.New(mode)); err != nil {
		return "", err
	}
	defer sim.Stop()

	var (
		out strings.Builder
		now = time.Now()
	)
	flushTo := func(at time.Time) {
		sim.Tick(at)
		out.WriteString(string(sim.Output()))
		sim.ResetOutput()
	}

	for _, tok := range strings.Fields(script) {
		switch strings.ToLower(tok) {
		case "wait":
			now = now.Add(scriptWait)
			flushTo(now)
			continue
		case "space":
			tok = " "
		}
		for _, r := range tok {
			k, shift, err := mapper.ParseKey(string(r))
			if err != nil {
				return "", err
			}
			now = now.Add(scriptStep)
			if sim.Press(k, shift, now) == interceptor.Forward {
				out.WriteRune(usChar(k, shift))
			}
			out.WriteString(string(sim.Output()))
			sim.ResetOutput()
		}
	}
	flushTo(now.Add(scriptWait))
	return out.String(), nil
}

var usShifted = map[mapper.Key][2]rune{
	mapper.KeySpace:        {' ', ' '},
	mapper.KeySemicolon:    {';', ':'},
	mapper.KeyApostrophe:   {'\'', '"'},
	mapper.KeyLeftBracket:  {'[', '{'},
	mapper.KeyRightBracket: {']', '}'},
	mapper.KeyBackslash:    {'\\', '|'},
	mapper.KeySlash:        {'/', '?'},
}

// usChar is what a key types on the unmodified US layout.
func usChar(k mapper.Key, shift bool) rune {
	if k.IsLetter() {
		return k.Letter(shift)
	}
	pair := usShifted[k]
	if shift {
		return pair[1]
	}
	return pair[0]
}
