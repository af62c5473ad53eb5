package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jamesrr39/goutil/gofs"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/internal/pipeline"
	"github.com/kiesman99/mapraster/pkg/tile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mapraster [scene.svg]",
	Short: "Rasterise an SVG map scene with a headless renderer",
	Long: `mapraster turns an SVG map scene into a raster at an exact physical
resolution, using whichever headless renderer is installed (firefox, chrome,
electron, phantomjs, slimerjs, wkhtmltoimage or inkscape).

The scene's root element must carry a physical width and height. The output
is PNG or TIFF with the resolution recorded in the file, and optionally a
world file that georeferences it.

Examples:
  # Render a 1:25000 map at 300 ppi
  mapraster map.svg --scale 25000 -o map.png

  # Rotated map, TIFF output with world file, using electron
  mapraster map.svg --scale 50000 --rotation 12.5 --origin-x 500000 --origin-y 6000000 -f tiff -w -o map.tif --backend electron

  # Use a browser that is not on the PATH
  mapraster map.svg --scale 25000 -o map.png --backend-path chrome=/opt/chrome/chrome

  # Read the scene from stdin and write the raster to stdout
  cat map.svg | mapraster - --scale 25000 > map.png

  # Start HTTP server
  mapraster serve --port 8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no args, show help
		if len(args) == 0 {
			return cmd.Help()
		}
		return runRender(cmd, args[0])
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mapraster.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output")

	// Renderer options, shared with serve
	rootCmd.PersistentFlags().String("backend", "", "renderer to use (default: first available)")
	rootCmd.PersistentFlags().StringToString("backend-path", nil, "renderer executables as NAME=PATH")
	rootCmd.PersistentFlags().Float64("ppi", pipeline.DefaultPPI, "output resolution in pixels per inch")
	rootCmd.PersistentFlags().Int("tile-size", backend.DefaultTileSize, "window size for renderers that capture in tiles")
	rootCmd.PersistentFlags().Duration("settle", backend.DefaultSettleDelay, "time to let a tiled renderer settle after scrolling")
	rootCmd.PersistentFlags().Duration("timeout", backend.DefaultTimeout, "time limit for each renderer round-trip")
	rootCmd.PersistentFlags().String("temp-dir", "", "directory for intermediate files (default: system temp)")
	rootCmd.PersistentFlags().Bool("keep-temp", false, "keep intermediate files")

	// Output options
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.Flags().StringP("format", "f", "png", "output format (png|tiff)")
	rootCmd.Flags().BoolP("worldfile", "w", false, "write world file")

	// Map options
	rootCmd.Flags().Float64("scale", 0, "map scale denominator, e.g. 25000 (required)")
	rootCmd.Flags().Float64("rotation", 0, "map rotation in degrees")
	rootCmd.Flags().Float64("width-mm", 0, "map width in millimetres (default: the scene's width)")
	rootCmd.Flags().Float64("height-mm", 0, "map height in millimetres (default: the scene's height)")
	rootCmd.Flags().Float64("origin-x", 0, "world x coordinate of the top left corner")
	rootCmd.Flags().Float64("origin-y", 0, "world y coordinate of the top left corner")

	for _, name := range []string{"verbose", "backend", "backend-path", "ppi", "tile-size", "settle", "timeout", "temp-dir", "keep-temp"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	for _, name := range []string{"output", "format", "worldfile", "scale", "rotation", "width-mm", "height-mm", "origin-x", "origin-y"} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".mapraster" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mapraster")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(w io.Writer) *logpkg.Logger {
	level := logpkg.LogLevelInfo
	if viper.GetBool("verbose") {
		level = logpkg.LogLevelDebug
	}
	return logpkg.NewLogger(w, level)
}

// pipelineConfig collects the settings shared by every render
func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		Backend:      viper.GetString("backend"),
		BackendPaths: viper.GetStringMapString("backend-path"),
		PPI:          viper.GetFloat64("ppi"),
		TempDir:      viper.GetString("temp-dir"),
		TileSize:     viper.GetInt("tile-size"),
		SettleDelay:  viper.GetDuration("settle"),
		Timeout:      viper.GetDuration("timeout"),
		KeepTemp:     viper.GetBool("keep-temp"),
	}
}

// readScene reads the scene from a file, or stdin for "-". Relative image
// references resolve against the file's directory, or the working directory
// for stdin.
func readScene(cmd *cobra.Command, name string) ([]byte, string, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, "", fmt.Errorf("reading scene from stdin: %v", err)
		}
		dir, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		return data, dir, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, "", fmt.Errorf("reading scene: %v", err)
	}
	dir, err := filepath.Abs(filepath.Dir(name))
	if err != nil {
		return nil, "", err
	}
	return data, dir, nil
}

func runRender(cmd *cobra.Command, sceneFile string) error {
	logger := newLogger(cmd.ErrOrStderr())

	if viper.GetFloat64("scale") <= 0 {
		return fmt.Errorf("map scale is required (use --scale)")
	}

	format, err := tile.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	output := viper.GetString("output")
	worldFile := viper.GetBool("worldfile")
	if worldFile && output == "" {
		return fmt.Errorf("a world file needs an output file (use --output)")
	}

	data, sceneDir, err := readScene(cmd, sceneFile)
	if err != nil {
		return err
	}

	p, perr := pipeline.New(pipelineConfig(), backend.DefaultRegistry(), logger)
	if perr != nil {
		return perr
	}

	req := pipeline.Request{
		Scene:    data,
		SceneDir: sceneDir,
		Format:   format,
		Map: pipeline.Map{
			Scale:    viper.GetFloat64("scale"),
			Rotation: viper.GetFloat64("rotation"),
			WidthMM:  viper.GetFloat64("width-mm"),
			HeightMM: viper.GetFloat64("height-mm"),
			OriginX:  viper.GetFloat64("origin-x"),
			OriginY:  viper.GetFloat64("origin-y"),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	if output == "" {
		result, rerr := p.Render(ctx, req)
		if rerr != nil {
			return rerr
		}
		if _, err := cmd.OutOrStdout().Write(result.ImageData); err != nil {
			return fmt.Errorf("writing output: %v", err)
		}
		logger.Info("rendered %dx%d px in %s", result.Width, result.Height, time.Since(start).Round(time.Millisecond))
		return nil
	}

	result, rerr := p.RenderToFile(ctx, gofs.NewOsFs(), req, output, worldFile)
	if rerr != nil {
		return rerr
	}
	logger.Info("rendered %dx%d px in %s, %g m per pixel", result.Width, result.Height, time.Since(start).Round(time.Millisecond), result.Resolution)

	return nil
}
