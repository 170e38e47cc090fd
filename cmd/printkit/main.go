package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultAddr      = ":8080"
	defaultQRLevel   = "M"
	defaultMaxBodyMB = 32
	defaultProofDir  = "proof"
)

var errPreflightFailed = errors.New("preflight check failed")

// cliOptions holds the settings shared by every subcommand.
type cliOptions struct {
	Logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "printkit",
		Short: "Render, preflight and stamp print-ready pages",
		Long: `printkit turns print documents (JSON page layouts with a physical print
specification) into print-resolution PNG files.

Pages are checked against their trim, bleed and safe areas before they are
rendered, and generated QR codes can be stamped into template overlays.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", defaultLogFormat, "Log format (text, json)")
	flags.BoolP("verbose", "v", false, "Enable verbose output (same as --log-level debug)")

	root.AddCommand(
		newRenderCmd(),
		newPreflightCmd(),
		newCompositeCmd(),
		newProofCmd(),
		newTemplatesCmd(),
		newServeCmd(),
	)
	return root
}

func readCLIOptions(cmd *cobra.Command) (cliOptions, error) {
	flags := cmd.Flags()
	level, _ := flags.GetString("log-level")
	format, _ := flags.GetString("log-format")
	verbose, _ := flags.GetBool("verbose")

	level = strings.ToLower(strings.TrimSpace(level))
	if _, ok := parseLogLevel(level); !ok {
		return cliOptions{}, fmt.Errorf("--log-level must be one of debug, info, warn, error: got %q", level)
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "text" && format != "json" {
		return cliOptions{}, fmt.Errorf("--log-format must be text or json: got %q", format)
	}
	if verbose {
		level = "debug"
	}
	return cliOptions{Logger: buildLogger(cmd.ErrOrStderr(), level, format)}, nil
}

func parseLogLevel(level string) (slog.Level, bool) {
	switch level {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, _ := parseLogLevel(strings.ToLower(level))
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// defaultOutputPath names a rendered page after its document.
func defaultOutputPath(inputPath, pageID string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "-" + pageID + ".png"
}

// parseRect reads "x,y,w,h".
func parseRect(flag, s string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("--%s must be x,y,w,h: got %q", flag, s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("--%s must be x,y,w,h: %q is not a number", flag, p)
		}
		out[i] = v
	}
	return out, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
