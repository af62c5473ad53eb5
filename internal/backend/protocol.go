package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jamesrr39/goutil/errorsx"
)

// Protocol replies sent by a backend process
const (
	replyReady    = "ready"
	replyHere     = "here"
	replyCaptured = "captured"
	replyError    = "error"
)

// ProtocolInvocation is everything a long-lived tool needs to start
type ProtocolInvocation struct {
	DocumentURL string
	Script      string
	Edge        int
	SettleDelay time.Duration
}

// ProtocolSpec describes a tool that speaks the line protocol on its
// stdin and stdout:
//
//	backend: ready
//	core:    goto X Y
//	backend: here AX AY
//	core:    capture PATH
//	backend: captured PATH
//	core:    exit
//
// The backend may answer any request with "error MESSAGE".
type ProtocolSpec struct {
	Name   string
	Args   func(inv ProtocolInvocation) []string
	Script func(inv ProtocolInvocation) (string, error)
	Env    []string
}

// ProtocolBackend keeps one process per session and scrolls it tile by tile
type ProtocolBackend struct {
	spec       ProtocolSpec
	executable string
	opts       Options
}

// NewProtocolBackend creates a backend for a line protocol tool
func NewProtocolBackend(spec ProtocolSpec, executable string, opts Options) *ProtocolBackend {
	return &ProtocolBackend{
		spec:       spec,
		executable: executable,
		opts:       opts.withDefaults(),
	}
}

func (b *ProtocolBackend) Name() string {
	return b.spec.Name
}

func (b *ProtocolBackend) NeedsScaleProbe() bool {
	return false
}

func (b *ProtocolBackend) MaxCapture() int {
	return b.opts.TileSize
}

func (b *ProtocolBackend) Open(ctx context.Context, document, dir string) (Session, errorsx.Error) {
	document, err := filepath.Abs(document)
	if err != nil {
		return nil, errorsx.Wrap(err)
	}

	inv := ProtocolInvocation{
		DocumentURL: fileURL(document),
		Edge:        b.opts.TileSize,
		SettleDelay: b.opts.SettleDelay,
	}
	if b.spec.Script != nil {
		script, err := b.spec.Script(inv)
		if err != nil {
			return nil, errorsx.Wrap(err)
		}
		inv.Script = filepath.Join(dir, "driver.js")
		if err := os.WriteFile(inv.Script, []byte(script), 0600); err != nil {
			return nil, errorsx.Wrap(err)
		}
	}

	s := &protocolSession{
		name:    b.Name(),
		timeout: b.opts.Timeout,
		edge:    b.opts.TileSize,
		lines:   make(chan string),
		done:    make(chan struct{}),
	}

	s.cmd = exec.CommandContext(ctx, b.executable, b.spec.Args(inv)...)
	s.cmd.Dir = dir
	s.cmd.Env = append(os.Environ(), b.spec.Env...)
	s.cmd.Stderr = &s.stderr
	s.cmd.WaitDelay = b.opts.Timeout

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return nil, errorsx.Wrap(err)
	}
	s.stdin = stdin

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, errorsx.Wrap(err)
	}

	if err := s.cmd.Start(); err != nil {
		return nil, failure(s.name, "start", "could not start "+b.executable, err, "")
	}

	go s.read(stdout)

	if _, err := s.expect(ctx, "start", replyReady); err != nil {
		s.Close()
		if rf, ok := IsRenderFailure(err); ok {
			rf.Stderr = s.stderr.String()
		}
		return nil, err
	}

	return s, nil
}

type protocolSession struct {
	name    string
	timeout time.Duration
	edge    int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	lines  chan string
	done   chan struct{}
	closed bool
}

func (s *protocolSession) read(stdout io.Reader) {
	defer close(s.lines)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.done:
			return
		}
	}
}

func (s *protocolSession) send(op, format string, args ...interface{}) errorsx.Error {
	if _, err := fmt.Fprintf(s.stdin, format+"\n", args...); err != nil {
		return failure(s.name, op, "could not write to backend", err, "")
	}
	return nil
}

// expect waits for the reply verb and returns the rest of its line
func (s *protocolSession) expect(ctx context.Context, op, verb string) (string, errorsx.Error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", failure(s.name, op, "backend exited before replying "+verb, nil, "")
			}
			got, rest := splitReply(line)
			switch got {
			case verb:
				return rest, nil
			case replyError:
				return "", failure(s.name, op, "backend reported: "+rest, nil, "")
			case replyReady, replyHere, replyCaptured:
				return "", failure(s.name, op, fmt.Sprintf("expected %q, got %q", verb, line), nil, "")
			}
			// anything else is console noise from the tool
		case <-timer.C:
			return "", failure(s.name, op, fmt.Sprintf("no %q reply within %s", verb, s.timeout), context.DeadlineExceeded, "")
		case <-ctx.Done():
			return "", failure(s.name, op, "cancelled", ctx.Err(), "")
		}
	}
}

func (s *protocolSession) Capture(ctx context.Context, viewport image.Rectangle, outPath string) (image.Point, errorsx.Error) {
	if s.closed {
		return image.Point{}, failure(s.name, "capture", "session is closed", nil, "")
	}
	if viewport.Dx() > s.edge || viewport.Dy() > s.edge {
		return image.Point{}, failure(s.name, "capture", fmt.Sprintf("viewport %v exceeds the %dpx window", viewport, s.edge), nil, "")
	}

	outPath, err := filepath.Abs(outPath)
	if err != nil {
		return image.Point{}, errorsx.Wrap(err)
	}

	if err := s.send("goto", "goto %d %d", viewport.Min.X, viewport.Min.Y); err != nil {
		return image.Point{}, err
	}
	rest, xerr := s.expect(ctx, "goto", replyHere)
	if xerr != nil {
		return image.Point{}, xerr
	}
	origin, perr := parsePoint(rest)
	if perr != nil {
		return image.Point{}, failure(s.name, "goto", "malformed reply", perr, "")
	}

	if err := s.send("capture", "capture %s", outPath); err != nil {
		return image.Point{}, err
	}
	rest, xerr = s.expect(ctx, "capture", replyCaptured)
	if xerr != nil {
		return image.Point{}, xerr
	}
	if rest != outPath {
		return image.Point{}, failure(s.name, "capture", fmt.Sprintf("backend captured %q, expected %q", rest, outPath), nil, "")
	}
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return image.Point{}, failure(s.name, "capture", "no bitmap was written to "+outPath, err, "")
	}

	return origin, nil
}

// Close asks the backend to exit, and kills it if it does not
func (s *protocolSession) Close() errorsx.Error {
	if s.closed {
		return nil
	}
	s.closed = true

	fmt.Fprintln(s.stdin, "exit")
	s.stdin.Close()

	killed := false
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

drain:
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				break drain
			}
		case <-timer.C:
			s.cmd.Process.Kill()
			killed = true
			break drain
		}
	}
	close(s.done)

	err := s.cmd.Wait()
	if killed {
		return failure(s.name, "exit", fmt.Sprintf("backend did not exit within %s", s.timeout), context.DeadlineExceeded, s.stderr.String())
	}
	if err != nil {
		return failure(s.name, "exit", "process exited abnormally", err, s.stderr.String())
	}

	return nil
}

func splitReply(line string) (string, string) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	return verb, strings.TrimSpace(rest)
}

func parsePoint(s string) (image.Point, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return image.Point{}, fmt.Errorf("expected two coordinates, got %q", s)
	}
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return image.Point{}, err
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return image.Point{}, err
	}
	return image.Pt(x, y), nil
}
