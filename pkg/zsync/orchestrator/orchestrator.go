// Package orchestrator drives a complete zsync run end to end: resolving
// the control file, chaining seeds through the block matcher, and falling
// back to a single ranged HTTP fetch for whatever remains.
package orchestrator

import (
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zsync-go/zsync/pkg/logging"
	"github.com/zsync-go/zsync/pkg/zsync/control"
	"github.com/zsync-go/zsync/pkg/zsync/events"
	"github.com/zsync-go/zsync/pkg/zsync/matcher"
	"github.com/zsync-go/zsync/pkg/zsync/output"
	"github.com/zsync-go/zsync/pkg/zsync/rollingbuffer"
	"github.com/zsync-go/zsync/pkg/zsync/seed"
	"github.com/zsync-go/zsync/pkg/zsync/transport"
)

// Options configures a single run. The orchestrator snapshots Options at
// entry (by value) so that a caller reusing the struct across runs cannot
// mutate one run's behavior mid-flight.
type Options struct {
	// Seeds is the list of local file paths to scan for reusable blocks,
	// in the order they should be tried.
	Seeds []string
	// OutputPath overrides the control file's suggested filename. Empty
	// means use the control file's Filename header.
	OutputPath string
	// SaveControlFilePath, if non-empty, saves a remote control file to
	// this path before parsing it.
	SaveControlFilePath string
	// SourceURI, if non-empty, overrides the base URI used to resolve a
	// relative target URL, taking precedence over a URI discovered by
	// fetching a remote control file.
	SourceURI string
	// Credentials supplies Basic-auth credentials for the target host, if
	// the range fetch is challenged.
	Credentials transport.CredentialSource
	// Dispatcher receives lifecycle and progress events. May be nil.
	Dispatcher *events.Dispatcher
	// Logger receives warnings for non-fatal conditions (abandoned seeds,
	// cleanup failures). May be nil.
	Logger *logging.Logger
}

// Run resolves uri (a zsync control file, local or remote) and reconstructs
// the target file it describes, returning the final output path.
func Run(uri string, opts Options) (string, error) {
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(opts.Logger)
	}
	runID := uuid.NewString()
	dispatcher.SetRunID(runID)
	if opts.Logger != nil {
		opts.Logger.Sublogger(runID).Debugf("starting run for %s", uri)
	}

	dispatcher.Started()
	path, err := run(uri, opts, dispatcher)
	if err != nil {
		dispatcher.Failed(err)
		return "", err
	}
	dispatcher.Completed()
	return path, nil
}

func run(uri string, opts Options, dispatcher *events.Dispatcher) (string, error) {
	client := transport.NewClient(nil, opts.Credentials)

	rc, base, err := client.OpenControlFile(uri, opts.SaveControlFilePath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	cf, err := control.Parse(rc)
	if err != nil {
		return "", err
	}
	dispatcher.ControlFileParsed(uri)

	if opts.SourceURI != "" {
		base = opts.SourceURI
	}
	targetURL, err := transport.ResolveTargetURL(cf.URL, base)
	if err != nil {
		return "", err
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = cf.Filename
	}
	if outputPath == "" {
		return "", errors.New("orchestrator: no output path available: control file has no Filename and none was specified")
	}
	outputPath, err = filepath.Abs(outputPath)
	if err != nil {
		return "", errors.Wrap(err, "orchestrator: unable to resolve output path")
	}

	seeds := append([]string(nil), opts.Seeds...)
	if _, err := os.Stat(outputPath); err == nil {
		seeds = append([]string{outputPath}, seeds...)
	}

	w, err := output.New(outputPath, cf, opts.Logger)
	if err != nil {
		return "", err
	}

	idx := matcher.BuildIndex(cf)

	for _, seedPath := range seeds {
		if w.IsComplete() {
			break
		}
		if err := scanSeed(seedPath, cf, idx, w, dispatcher, opts.Logger); err != nil {
			if isOutputFatal(err) {
				w.Abort()
				return "", err
			}
			dispatcher.SeedFailed(seedPath, err)
			if opts.Logger != nil {
				opts.Logger.Warn(errors.Wrapf(err, "abandoning seed %q", seedPath))
			}
			continue
		}
	}

	if !w.IsComplete() {
		ranges := w.MissingRanges()
		dispatcher.RangeFetchStarted()
		if err := client.FetchRanges(targetURL, ranges, w, dispatcher.RangeReceived); err != nil {
			w.Abort()
			return "", err
		}
	}

	return w.Close()
}

// isOutputFatal reports whether err originated from the output writer itself
// (a failure writing to, or verifying, the destination temp file) rather than
// from reading whatever seed is currently being scanned. Seed-read failures
// are category 4 (non-fatal: abandon the seed and try the next one); a
// writer failure is a filesystem problem with the shared destination
// (category 9) or a checksum failure (categories 7/8), and must surface
// immediately rather than being retried against a different seed.
func isOutputFatal(err error) bool {
	var writeErr *output.WriteError
	var checksumErr *output.ChecksumError
	return stderrors.As(err, &writeErr) || stderrors.As(err, &checksumErr)
}

// scanSeed scans a single seed file against the matcher, reporting the seed
// file's size through the dispatcher on success. I/O errors here are non-fatal to the overall
// run (category 4): the caller abandons the seed and moves on. An error
// originating from the output writer itself is the exception — see
// isOutputFatal.
func scanSeed(path string, cf *control.File, idx *matcher.Index, w *output.Writer, dispatcher *events.Dispatcher, logger *logging.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	padded := seed.NewPaddedReader(f, uint64(cf.BlockSize))
	buf := rollingbuffer.New(padded, uint64(cf.BlockSize))
	m := matcher.New(cf, idx)

	if err := m.Scan(buf, &dispatchingWriter{Writer: w, dispatcher: dispatcher}); err != nil {
		return err
	}

	info, err := f.Stat()
	var size int64
	if err == nil {
		size = info.Size()
	}
	dispatcher.SeedScanned(path, size)
	return nil
}

// dispatchingWriter adapts *output.Writer to matcher.Writer while emitting a
// BlockMatched event for every block the matcher successfully writes.
type dispatchingWriter struct {
	*output.Writer
	dispatcher *events.Dispatcher
}

func (d *dispatchingWriter) WriteBlock(k int, data []byte) error {
	alreadyWritten := d.Writer.IsBlockWritten(k)
	if err := d.Writer.WriteBlock(k, data); err != nil {
		return err
	}
	if !alreadyWritten {
		d.dispatcher.BlockMatched(k)
	}
	return nil
}
