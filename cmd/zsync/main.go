package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zsync-go/zsync/cmd"
	"github.com/zsync-go/zsync/pkg/logging"
	"github.com/zsync-go/zsync/pkg/zsync/events"
	"github.com/zsync-go/zsync/pkg/zsync/orchestrator"
	"github.com/zsync-go/zsync/pkg/zsync/transport"
)

// version is the zsync client's own version string.
const version = "1.0.0"

func rootMain(command *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(version)
		return nil
	}

	if len(arguments) != 1 {
		command.Help()
		if len(arguments) == 0 {
			return nil
		}
		return errors.New("exactly one control file URI or path must be specified")
	}

	if rootConfiguration.debug {
		logging.DebugEnabled = true
	}

	credentials, err := parseCredentials(rootConfiguration.credentials)
	if err != nil {
		return err
	}

	printer := &cmd.StatusLinePrinter{}
	interactive := isatty.IsTerminal(os.Stdout.Fd())

	dispatcher := events.NewDispatcher(logging.RootLogger)
	if !rootConfiguration.quiet {
		dispatcher.Register(newProgressObserver(printer, interactive))
	}

	opts := orchestrator.Options{
		Seeds:               rootConfiguration.seeds,
		OutputPath:          rootConfiguration.output,
		SaveControlFilePath: rootConfiguration.saveControlFile,
		SourceURI:           rootConfiguration.sourceURI,
		Credentials:         credentials,
		Dispatcher:          dispatcher,
		Logger:              logging.RootLogger,
	}

	path, err := runWithSignalHandling(arguments[0], opts)
	printer.BreakIfNonEmpty()
	if err != nil {
		return errors.Wrap(err, "zsync failed")
	}

	fmt.Println("Wrote", path)
	return nil
}

// runWithSignalHandling races orchestrator.Run against the process receiving
// a termination signal. The engine itself has no cancellation token (it
// cancels by having its underlying input closed, per the engine's
// single-threaded design), so a signal here simply causes the command to
// report termination and exit; it does not attempt to unwind the orchestrator
// goroutine, since the process is about to end anyway.
func runWithSignalHandling(uri string, opts orchestrator.Options) (string, error) {
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)
	defer signal.Stop(signalTermination)

	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := orchestrator.Run(uri, opts)
		done <- result{path: path, err: err}
	}()

	select {
	case sig := <-signalTermination:
		return "", errors.Errorf("terminated by signal: %s", sig)
	case r := <-done:
		return r.path, r.err
	}
}

// parseCredentials parses "--auth host:user:pass" entries into a
// transport.StaticCredentials map.
func parseCredentials(entries []string) (transport.StaticCredentials, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	creds := make(transport.StaticCredentials, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, errors.Errorf("malformed --auth entry %q, expected host:user:password", entry)
		}
		creds[parts[0]] = [2]string{parts[1], parts[2]}
	}
	return creds, nil
}

// newProgressObserver constructs an events.Observer that prints run progress
// to a status line, falling back to plain newline-terminated lines when
// standard output isn't a terminal.
func newProgressObserver(printer *cmd.StatusLinePrinter, interactive bool) events.Observer {
	return events.ObserverFunc(func(e events.Event) {
		var message string
		switch e.Kind {
		case events.KindControlFileParsed:
			message = fmt.Sprintf("Parsed control file for %s", e.Path)
		case events.KindSeedScanned:
			message = fmt.Sprintf("Scanned seed %s (%s)", e.Path, humanize.Bytes(uint64(e.Bytes)))
		case events.KindSeedFailed:
			cmd.Warning(fmt.Sprintf("skipping seed %s: %v", e.Path, e.Err))
			return
		case events.KindRangeFetchStarted:
			message = "Fetching remaining data over HTTP"
		case events.KindRangeReceived:
			message = fmt.Sprintf("Received %s at offset %d", humanize.Bytes(uint64(e.Length)), e.Offset)
		case events.KindCompleted:
			printer.Clear()
			return
		case events.KindFailed:
			printer.Clear()
			return
		default:
			return
		}

		if interactive {
			printer.Print(message)
		} else {
			fmt.Println(message)
		}
	})
}

var rootCommand = &cobra.Command{
	Use:          "zsync <control-file>",
	Short:        "zsync reconstructs a remote file locally using whatever matching blocks are already present in local seed files.",
	Args:         cobra.ArbitraryArgs,
	Run:          cmd.Mainify(rootMain),
	SilenceUsage: true,
}

var rootConfiguration struct {
	// seeds is the list of local files to scan for reusable blocks.
	seeds []string
	// output overrides the control file's suggested output filename.
	output string
	// saveControlFile, if set, saves a remote control file locally.
	saveControlFile string
	// sourceURI overrides the base URI used to resolve a relative target
	// URL.
	sourceURI string
	// credentials is a list of "host:user:password" entries.
	credentials []string
	// debug enables verbose logging.
	debug bool
	// quiet suppresses progress output.
	quiet bool
	// version requests the client's version string.
	version bool
}

func init() {
	flags := rootCommand.Flags()
	flags.StringSliceVarP(&rootConfiguration.seeds, "seed", "i", nil, "Scan an additional local file for reusable blocks (may be repeated)")
	flags.StringVarP(&rootConfiguration.output, "output", "o", "", "Write the reconstructed file to this path instead of the control file's suggested name")
	flags.StringVar(&rootConfiguration.saveControlFile, "save-control-file", "", "Save a copy of the (possibly remote) control file to this path")
	flags.StringVar(&rootConfiguration.sourceURI, "url", "", "Override the base URI used to resolve a relative target URL")
	flags.StringSliceVar(&rootConfiguration.credentials, "auth", nil, "Basic-auth credentials for a host, as host:user:password (may be repeated)")
	flags.BoolVar(&rootConfiguration.debug, "debug", false, "Enable verbose debug logging")
	flags.BoolVarP(&rootConfiguration.quiet, "quiet", "q", false, "Suppress progress output")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")
}

func main() {
	// Execute the root command. Mainify already handles and reports errors
	// from rootMain itself; an error here indicates a Cobra-level problem
	// such as invalid flag usage.
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
