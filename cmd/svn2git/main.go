// Command svn2git converts a Subversion repository into a newly created
// bare Git repository. The input is a dump file (optionally compressed),
// a local repository directory, or a repository URL; the output is a
// pack file plus refs under the destination directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eduardosm/svn2git/internal/config"
	"github.com/eduardosm/svn2git/internal/convert"
	"github.com/eduardosm/svn2git/internal/dump"
	"github.com/eduardosm/svn2git/internal/dump/codec"
	"github.com/eduardosm/svn2git/internal/gitobj/delta"
	"github.com/eduardosm/svn2git/internal/logging"
	"github.com/eduardosm/svn2git/internal/packwriter"
	"github.com/eduardosm/svn2git/internal/progress"
	"github.com/eduardosm/svn2git/internal/sourceproc"
)

// deltaWindowBytes bounds the payload bytes retained as delta-base
// candidates while packing.
const deltaWindowBytes = 64 * 1024 * 1024

type cliFlags struct {
	src        string
	dest       string
	convParams string

	objCacheMiB     int
	stderrLogLevel  string
	fileLogLevel    string
	logFile         string
	noProgress      bool
	gitRepack       bool
	legacyYAML      bool
	legacyEncodings []string
}

func newRootCmd() *cobra.Command {
	var flags cliFlags
	cmd := &cobra.Command{
		Use:           "svn2git",
		Short:         "convert a Subversion repository to a bare Git repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.src, "src", "s", "", "dump file, local repository, or repository URL (required)")
	cmd.Flags().StringVarP(&flags.dest, "dest", "d", "", "destination directory for the bare repository (required)")
	cmd.Flags().StringVarP(&flags.convParams, "conv-params", "P", "", "conversion parameters file, TOML or legacy YAML (required)")
	cmd.Flags().IntVar(&flags.objCacheMiB, "obj-cache-size", 384, "object cache size in MiB")
	cmd.Flags().StringVar(&flags.stderrLogLevel, "stderr-log-level", "info", "log level for stderr")
	cmd.Flags().StringVar(&flags.fileLogLevel, "file-log-level", "debug", "log level for --log-file")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "also log to this file")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false, "disable the progress line")
	cmd.Flags().BoolVar(&flags.gitRepack, "git-repack", false, "run git repack on the result")
	cmd.Flags().BoolVar(&flags.legacyYAML, "legacy-yaml", false, "force parsing --conv-params as legacy YAML")
	cmd.Flags().StringSliceVar(&flags.legacyEncodings, "legacy-encoding", nil, "charset(s) to try for non-UTF-8 log messages and author names")
	cmd.MarkFlagRequired("src")
	cmd.MarkFlagRequired("dest")
	cmd.MarkFlagRequired("conv-params")
	return cmd
}

func run(flags cliFlags) error {
	stderrLevel, err := logrus.ParseLevel(flags.stderrLogLevel)
	if err != nil {
		return fmt.Errorf("--stderr-log-level: %w", err)
	}
	fileLevel, err := logrus.ParseLevel(flags.fileLogLevel)
	if err != nil {
		return fmt.Errorf("--file-log-level: %w", err)
	}
	log, err := logging.New(logging.Levels{Stderr: stderrLevel, File: fileLevel, Path: flags.logFile})
	if err != nil {
		return err
	}

	opts, err := config.LoadAs(flags.convParams, flags.legacyYAML)
	if err != nil {
		return err
	}

	var recoder *dump.Recoder
	if len(flags.legacyEncodings) > 0 {
		recoder, err = dump.NewRecoder(flags.legacyEncodings)
		if err != nil {
			return err
		}
	}

	input, closeInput, lastCopyUse, err := openSource(flags.src, log)
	if err != nil {
		return err
	}
	defer closeInput()

	writer, err := packwriter.New(flags.dest, delta.NewSelector(deltaWindowBytes), log)
	if err != nil {
		return err
	}

	var baton *progress.Baton
	if !flags.noProgress {
		baton = progress.New(os.Stdout, int(os.Stdout.Fd()), false)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := convert.Run(ctx, input, convert.Params{
		Opts:        opts,
		CacheBytes:  int64(flags.objCacheMiB) * 1024 * 1024,
		Recoder:     recoder,
		Baton:       baton,
		LastCopyUse: lastCopyUse,
	}, writer, log)

	if err := writer.Close(); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			log.Errorf("finalizing pack: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if err := closeInput(); err != nil {
		return err
	}

	if flags.gitRepack {
		log.Info("running git repack")
		repack := exec.Command("git", "-C", flags.dest, "repack", "-adF")
		repack.Stdout = os.Stdout
		repack.Stderr = os.Stderr
		if err := repack.Run(); err != nil {
			return fmt.Errorf("git repack: %w", err)
		}
	}
	return nil
}

// openSource resolves the --src argument. Dump files are pre-scanned for
// copy-from references so the mirror can release snapshots early; live
// process sources cannot rewind, so they convert without the pre-scan.
func openSource(src string, log *logrus.Logger) (io.Reader, func() error, map[int]int, error) {
	if sourceproc.IsRepository(src) || sourceproc.IsURL(src) {
		stream, err := sourceproc.Open(src, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return stream, onceClose(stream.Close), nil, nil
	}

	scanReader, scanClose, err := codec.Open(src)
	if err != nil {
		return nil, nil, nil, err
	}
	lastCopyUse, err := convert.ScanCopySources(scanReader)
	scanClose()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pre-scanning %s: %w", src, err)
	}

	r, closeFn, err := codec.Open(src)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, onceClose(closeFn), lastCopyUse, nil
}

// onceClose makes a close function safe to call from both the deferred
// cleanup and the happy path.
func onceClose(fn func() error) func() error {
	done := false
	return func() error {
		if done {
			return nil
		}
		done = true
		return fn()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "svn2git: %v\n", err)
		os.Exit(1)
	}
}
