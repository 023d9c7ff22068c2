// gazeread - Gaze-driven read-aloud for eye-tracked reading sessions
//
// gazeread follows a reader's gaze over a text, tracks how long each word
// is fixated and plays the word's recording once the fixation passes the
// word's threshold:
//
//	gazeread thresholds <doc>   Compute and write a document's thresholds
//	gazeread replay <script>    Replay a frame script through a session
//	gazeread inbox              Watch the text directory for new documents
//	gazeread history            List stored sessions and their triggers
//	gazeread fetch <file>       Ask the processing server for a text
//	gazeread config             Show or initialise the configuration
//	gazeread status             Show configuration and storage status
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gazeread/internal/config"
	"gazeread/internal/logging"
	"gazeread/internal/store"
)

// errUsage marks errors that should be followed by the command's usage.
var errUsage = errors.New("usage")

type command struct {
	name  string
	usage string
	run   func(args []string, stdout io.Writer) error
}

var commands = []command{
	{"thresholds", "thresholds <doc> [-o dir] [-cps n] [-print]", cmdThresholds},
	{"replay", "replay <script> [-json] [-metrics] [-no-store] [-user n]", cmdReplay},
	{"inbox", "inbox [-dir path]", cmdInbox},
	{"history", "history [-n count] [-session id] [-verify]", cmdHistory},
	{"fetch", "fetch <file> [-generate]", cmdFetch},
	{"config", "config [-init] [-format toml|json|yaml]", cmdConfig},
	{"status", "status", cmdStatus},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 1
	}

	name := args[0]
	switch name {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(args[1:], stdout)
		switch {
		case err == nil:
			return 0
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "Usage: gazeread %s\n", c.usage)
			return 2
		default:
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stderr, "Unknown command: %s\n\n", name)
	usage(stderr)
	return 1
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `gazeread - Gaze-driven read-aloud

USAGE:
    gazeread <command> [options]

COMMANDS:
    thresholds <doc>    Compute a document's word thresholds
    replay <script>     Replay a frame script (JSON or YAML) through a session
    inbox               Watch the text directory and report new documents
    history             List stored sessions and their most triggered words
    fetch <file>        Ask the processing server for a text or its audio
    config              Show the effective configuration or write a default
    status              Show configuration and storage status
    help                Show this help message

Every command accepts -config <path>. The default is the platform config
directory; GAZEREAD_* environment variables override file values.

REPLAY SCRIPTS:
    document: story.txt
    audio_manifest: story_audio.txt
    frames:
      - {line: 0, word: 2, dt: 0.016, repeat: 40}
      - {none: true, dt: 0.016}`)
}

// newFlagSet returns a flag set with the shared -config flag.
func newFlagSet(name string, stdout io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stdout)
	cfgPath := fs.String("config", "", "Configuration file (default: platform config dir)")
	return fs, cfgPath
}

// parseArgs parses args allowing flags after positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config, component string) (*logging.Logger, error) {
	opts, err := cfg.LoggingOptions()
	if err != nil {
		return nil, err
	}
	opts.Component = component
	return logging.New(opts)
}

// openStore opens the session store, or returns nil when storage is off.
func openStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	return store.OpenWith(cfg.Storage.Path, store.Options{
		BusyTimeout: cfg.StorageBusyTimeout(),
	})
}
