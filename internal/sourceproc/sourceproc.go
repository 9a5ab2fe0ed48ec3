// Package sourceproc produces a dump stream from a live Subversion
// source by running svnadmin or svnrdump as a child process and exposing
// its stdout. The conversion pipeline reads it exactly like a dump file.
package sourceproc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	shutil "github.com/termie/go-shutil"
)

// IsRepository reports whether path looks like a local Subversion
// repository (a directory carrying the repository format file).
func IsRepository(path string) bool {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, "format"))
	return err == nil
}

// IsURL reports whether src names a remote repository svnrdump can reach.
func IsURL(src string) bool {
	for _, scheme := range []string{"http://", "https://", "svn://", "svn+ssh://", "file://"} {
		if strings.HasPrefix(src, scheme) {
			return true
		}
	}
	return false
}

// Stream is a running dump producer. Read drains the child's stdout;
// Close reaps the child and removes any scratch state.
type Stream struct {
	rc      io.ReadCloser
	cmd     *exec.Cmd
	scratch string
	log     *logrus.Logger
}

// Open starts the child process for src. Local repository paths are
// first copied into a scratch directory so the dump never races in-flight
// commits in the original; URLs go through svnrdump with an isolated
// config dir so its auth cache stays out of the user's ~/.subversion.
func Open(src string, log *logrus.Logger) (*Stream, error) {
	scratch, err := os.MkdirTemp("", "svn2git-src-")
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	switch {
	case IsRepository(src):
		repoCopy := filepath.Join(scratch, "repo")
		if err := shutil.CopyTree(src, repoCopy, nil); err != nil {
			os.RemoveAll(scratch)
			return nil, fmt.Errorf("staging repository copy of %s: %w", src, err)
		}
		cmd = exec.Command("svnadmin", "dump", "--quiet", repoCopy)
	case IsURL(src):
		cmd = exec.Command("svnrdump", "dump", "--non-interactive", "--config-dir", scratch, src)
	default:
		os.RemoveAll(scratch)
		return nil, fmt.Errorf("%s is neither a local repository nor a repository URL", src)
	}

	cmd.Stderr = log.WriterLevel(logrus.DebugLevel)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(scratch)
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	log.WithField("component", "sourceproc").Debugf("started %s (pid %d)", strings.Join(cmd.Args, " "), cmd.Process.Pid)
	return &Stream{rc: stdout, cmd: cmd, scratch: scratch, log: log}, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.rc.Read(p)
}

// Close reaps the child. A non-zero exit after a fully consumed stream is
// reported as an error so a truncated dump never converts silently.
func (s *Stream) Close() error {
	s.rc.Close()
	err := s.cmd.Wait()
	if rmErr := os.RemoveAll(s.scratch); rmErr != nil {
		s.log.Warnf("could not remove scratch dir %s: %v", s.scratch, rmErr)
	}
	if err != nil {
		return fmt.Errorf("%s exited: %w", filepath.Base(s.cmd.Path), err)
	}
	return nil
}
