package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/jamesrr39/goutil/errorsx"
)

// Invocation is everything a one-shot tool needs for one capture
type Invocation struct {
	// Document is the absolute path of the SVG, DocumentURL its file URL
	Document    string
	DocumentURL string
	// Output is the absolute path the bitmap must be written to
	Output string
	// Script is the path of the generated script, if the tool uses one
	Script string
	Width  int
	Height int
}

// CommandSpec describes how to run a one-shot rendering tool
type CommandSpec struct {
	Name string
	// Args builds the argument list, without the executable
	Args func(inv Invocation) []string
	// Script, if set, generates a script the tool runs
	Script func(inv Invocation) string
	// Env is added to the environment of the tool
	Env []string
	// Probe marks tools that apply unknown device scaling
	Probe bool
}

// CommandBackend runs a tool once per capture
type CommandBackend struct {
	spec       CommandSpec
	executable string
	opts       Options
}

// NewCommandBackend creates a backend for a one-shot tool
func NewCommandBackend(spec CommandSpec, executable string, opts Options) *CommandBackend {
	return &CommandBackend{
		spec:       spec,
		executable: executable,
		opts:       opts.withDefaults(),
	}
}

func (b *CommandBackend) Name() string {
	return b.spec.Name
}

func (b *CommandBackend) NeedsScaleProbe() bool {
	return b.spec.Probe
}

func (b *CommandBackend) MaxCapture() int {
	return 0
}

func (b *CommandBackend) Open(ctx context.Context, document, dir string) (Session, errorsx.Error) {
	document, err := filepath.Abs(document)
	if err != nil {
		return nil, errorsx.Wrap(err)
	}
	if _, err := os.Stat(document); err != nil {
		return nil, failure(b.Name(), "open", "document is not readable", err, "")
	}

	return &commandSession{backend: b, document: document, dir: dir}, nil
}

type commandSession struct {
	backend  *CommandBackend
	document string
	dir      string
}

func (s *commandSession) Capture(ctx context.Context, viewport image.Rectangle, outPath string) (image.Point, errorsx.Error) {
	name := s.backend.Name()

	if viewport.Min != (image.Point{}) {
		return image.Point{}, failure(name, "capture", fmt.Sprintf("viewport origin %v is not supported by a one-shot tool", viewport.Min), nil, "")
	}
	if viewport.Empty() {
		return image.Point{}, failure(name, "capture", fmt.Sprintf("empty viewport %v", viewport), nil, "")
	}

	outPath, err := filepath.Abs(outPath)
	if err != nil {
		return image.Point{}, errorsx.Wrap(err)
	}
	// a stale bitmap must not be mistaken for this capture's output
	if err := os.Remove(outPath); err != nil && !os.IsNotExist(err) {
		return image.Point{}, errorsx.Wrap(err)
	}

	inv := Invocation{
		Document:    s.document,
		DocumentURL: fileURL(s.document),
		Output:      outPath,
		Width:       viewport.Dx(),
		Height:      viewport.Dy(),
	}

	if s.backend.spec.Script != nil {
		inv.Script = filepath.Join(s.dir, "rasterise.js")
		if err := os.WriteFile(inv.Script, []byte(s.backend.spec.Script(inv)), 0600); err != nil {
			return image.Point{}, errorsx.Wrap(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.backend.opts.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.backend.executable, s.backend.spec.Args(inv)...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.backend.spec.Env...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return image.Point{}, failure(name, "capture", fmt.Sprintf("no bitmap within %s", s.backend.opts.Timeout), ctxErr, stderr.String())
		}
		return image.Point{}, failure(name, "capture", "process exited abnormally", err, stderr.String())
	}

	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return image.Point{}, failure(name, "capture", "no bitmap was written to "+outPath, err, stderr.String())
	}

	return image.Point{}, nil
}

// Close is a no-op, every capture runs its own process
func (s *commandSession) Close() errorsx.Error {
	return nil
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func size(w, h int) string {
	return strconv.Itoa(w) + "," + strconv.Itoa(h)
}

// Firefox screenshots the document with a headless firefox
func Firefox(executable string, opts Options) Backend {
	return NewCommandBackend(CommandSpec{
		Name:  "firefox",
		Probe: true,
		Args: func(inv Invocation) []string {
			return []string{
				"--headless",
				"--window-size", size(inv.Width, inv.Height),
				"--screenshot", inv.Output,
				inv.DocumentURL,
			}
		},
	}, executable, opts)
}

// Chrome screenshots the document with headless chrome or chromium
func Chrome(executable string, opts Options) Backend {
	return NewCommandBackend(CommandSpec{
		Name:  "chrome",
		Probe: true,
		Args: func(inv Invocation) []string {
			return []string{
				"--headless",
				"--disable-gpu",
				"--disable-lcd-text",
				"--disable-extensions",
				"--hide-scrollbars",
				"--window-size=" + size(inv.Width, inv.Height),
				"--screenshot=" + inv.Output,
				inv.DocumentURL,
			}
		},
	}, executable, opts)
}

// PhantomJS renders the document through a phantomjs page script
func PhantomJS(executable string, opts Options) Backend {
	return NewCommandBackend(pageScriptSpec("phantomjs"), executable, opts)
}

// SlimerJS runs the same page script as PhantomJS
func SlimerJS(executable string, opts Options) Backend {
	return NewCommandBackend(pageScriptSpec("slimerjs"), executable, opts)
}

func pageScriptSpec(name string) CommandSpec {
	return CommandSpec{
		Name: name,
		Script: func(inv Invocation) string {
			return fmt.Sprintf(`var page = require('webpage').create();
page.viewportSize = { width: %[1]d, height: %[2]d };
page.open(%[3]s, function (status) {
  if (status !== 'success') {
    console.error('could not load ' + %[3]s);
    phantom.exit(1);
    return;
  }
  page.clipRect = { top: 0, left: 0, width: %[1]d, height: %[2]d };
  page.render(%[4]s);
  phantom.exit();
});
`, inv.Width, inv.Height, jsString(inv.DocumentURL), jsString(inv.Output))
		},
		Args: func(inv Invocation) []string {
			return []string{inv.Script}
		},
	}
}

// Wkhtmltoimage renders the document with wkhtmltoimage
func Wkhtmltoimage(executable string, opts Options) Backend {
	return NewCommandBackend(CommandSpec{
		Name: "wkhtmltoimage",
		Args: func(inv Invocation) []string {
			return []string{
				"-q",
				"--width", strconv.Itoa(inv.Width),
				"--height", strconv.Itoa(inv.Height),
				inv.Document,
				inv.Output,
			}
		},
	}, executable, opts)
}

// Inkscape exports the document with inkscape 1.x
func Inkscape(executable string, opts Options) Backend {
	return NewCommandBackend(CommandSpec{
		Name: "inkscape",
		Args: func(inv Invocation) []string {
			return []string{
				"--export-type=png",
				"--export-filename=" + inv.Output,
				"--export-width=" + strconv.Itoa(inv.Width),
				"--export-height=" + strconv.Itoa(inv.Height),
				"--export-background=#FFFFFF",
				inv.Document,
			}
		},
	}, executable, opts)
}
