// Package backendtest turns a test binary into a fake rendering tool.
//
// A test file declares
//
//	func TestHelperProcess(t *testing.T) { backendtest.Run() }
//
// and builds backends whose executable is Executable() and whose arguments
// start with Args(mode). The re-executed binary then behaves like a
// renderer in the given mode instead of running tests.
package backendtest

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strconv"
	"strings"
	"time"
)

const helperEnv = "MAPRASTER_HELPER_PROCESS"

// Fake renderer modes
const (
	// Screenshot W H OUT writes a W x H bitmap of Pixel
	Screenshot = "screenshot"
	// Half W H OUT renders at half the requested size
	Half = "half"
	// Padded W H OUT adds transparent padding right and below
	Padded = "padded"
	// Transparent W H OUT writes a fully transparent bitmap
	Transparent = "transparent"
	// Silent exits successfully without writing anything
	Silent = "silent"
	// Fail writes to stderr and exits with status 3
	Fail = "fail"
	// Tiler W H EDGE speaks the line protocol over a W x H canvas with an
	// EDGE x EDGE window
	Tiler = "tiler"
	// Refuse speaks the protocol but answers every request with an error
	Refuse = "refuse"
	// Hang never becomes ready
	Hang = "hang"
)

// PaddingX and PaddingY are added by Padded
const (
	PaddingX = 7
	PaddingY = 5
)

// Executable is the path to re-run the test binary
func Executable() string {
	return os.Args[0]
}

// Args returns the argument list that selects a fake renderer mode
func Args(mode string, args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--", mode}, args...)
}

// Env marks the re-executed binary as a fake renderer
func Env() []string {
	return []string{helperEnv + "=1"}
}

// Pixel is the colour a fake renderer draws at canvas position x, y
func Pixel(x, y int) color.RGBA {
	return color.RGBA{R: uint8(x), G: uint8(y), B: uint8((x/256 + y/256) * 40), A: 0xff}
}

// Run acts as the fake renderer and exits when the binary was started by a
// backend. Otherwise it returns immediately.
func Run() {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no mode given")
		os.Exit(2)
	}

	if err := run(args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
	os.Exit(0)
}

func run(mode string, args []string) error {
	switch mode {
	case Screenshot, Half, Padded, Transparent:
		if len(args) != 3 {
			return fmt.Errorf("%s: expected W H OUT, got %q", mode, args)
		}
		w, h, err := dimensions(args[0], args[1])
		if err != nil {
			return err
		}
		return screenshot(mode, w, h, args[2])
	case Silent:
		return nil
	case Fail:
		return fmt.Errorf("renderer crashed")
	case Tiler, Refuse:
		if len(args) != 3 {
			return fmt.Errorf("%s: expected W H EDGE, got %q", mode, args)
		}
		w, h, err := dimensions(args[0], args[1])
		if err != nil {
			return err
		}
		edge, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		return tiler(mode == Refuse, w, h, edge)
	case Hang:
		time.Sleep(time.Minute)
		return nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func dimensions(w, h string) (int, int, error) {
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, err
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func screenshot(mode string, w, h int, path string) error {
	switch mode {
	case Half:
		w, h = w/2, h/2
	case Padded:
		w, h = w+PaddingX, h+PaddingY
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if mode != Transparent {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if mode == Padded && (x >= w-PaddingX || y >= h-PaddingY) {
					continue
				}
				img.SetRGBA(x, y, Pixel(x, y))
			}
		}
	}

	return writePNG(path, img)
}

// tiler scrolls an edge x edge window over a w x h canvas. The window is
// clamped to the canvas like a browser clamps its scroll position.
func tiler(refuse bool, w, h, edge int) error {
	fmt.Println("ready")

	var origin image.Point
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		if refuse && verb != "exit" {
			fmt.Println("error out of memory")
			continue
		}

		switch verb {
		case "goto":
			var x, y int
			if _, err := fmt.Sscanf(rest, "%d %d", &x, &y); err != nil {
				fmt.Println("error bad goto")
				continue
			}
			origin = image.Pt(clamp(x, w-edge), clamp(y, h-edge))
			fmt.Println("console noise while scrolling")
			fmt.Printf("here %d %d\n", origin.X, origin.Y)
		case "capture":
			img := image.NewRGBA(image.Rect(0, 0, edge, edge))
			for y := 0; y < edge; y++ {
				for x := 0; x < edge; x++ {
					img.SetRGBA(x, y, Pixel(origin.X+x, origin.Y+y))
				}
			}
			if err := writePNG(rest, img); err != nil {
				fmt.Printf("error %v\n", err)
				continue
			}
			fmt.Printf("captured %s\n", rest)
		case "exit":
			return nil
		default:
			fmt.Printf("error unknown command %s\n", verb)
		}
	}

	return scanner.Err()
}

func clamp(v, limit int) int {
	if limit < 0 {
		limit = 0
	}
	if v > limit {
		return limit
	}
	if v < 0 {
		return 0
	}
	return v
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
