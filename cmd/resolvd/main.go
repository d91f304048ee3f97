// Package main implements the resolvd CLI for tracking error resolutions
// and fix effectiveness.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/resolvd/internal/config"
	"github.com/fyrsmithlabs/resolvd/internal/logging"
	"github.com/fyrsmithlabs/resolvd/internal/resolution"
	"github.com/fyrsmithlabs/resolvd/internal/telemetry"
)

var (
	// persistent flags
	configPath string
	outputJSON bool

	// version is overridden at build time via -ldflags.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "resolvd",
	Short: "Track error resolutions and fix effectiveness",
	Long: `resolvd records how production errors get fixed, detects when a
"fixed" error comes back, scores how well fixes hold, and suggests
fix approaches that have worked for similar errors.

State lives in a local JSON snapshot; no server is required.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.config/resolvd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

// runtime bundles everything a subcommand needs, with a single Close.
type runtime struct {
	svc    resolution.Service
	logger *zap.Logger
	tel    *telemetry.Telemetry
}

// initRuntime loads config and wires logger, telemetry, and the tracker
// service. Callers must Close it to flush state to disk.
func initRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger, err := logging.New(&logging.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Stdout: true,
		Stderr: true,
		Fields: map[string]string{"service": "resolvd"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		TLSSkipVerify:  cfg.Telemetry.TLSSkipVerify,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		ExportInterval: cfg.Telemetry.ExportInterval.Duration(),
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	svc, err := resolution.NewService(&resolution.Config{
		StorageDir:             cfg.Storage.Dir,
		RecurrenceWindow:       cfg.Tracker.RecurrenceWindow.Duration(),
		EffectivenessThreshold: cfg.Tracker.EffectivenessThreshold,
		MinSuccessRate:         cfg.Tracker.MinSuccessRate,
		ConfidenceZ:            cfg.Tracker.ConfidenceZ,
		SnapshotInterval:       cfg.Storage.SnapshotInterval.Duration(),
		RetentionDays:          cfg.Storage.RetentionDays,
	}, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("starting tracker: %w", err)
	}

	return &runtime{svc: svc, logger: logger, tel: tel}, nil
}

// Close flushes the snapshot, telemetry, and logs.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.svc.Shutdown(ctx); err != nil {
		r.logger.Warn("tracker shutdown", zap.Error(err))
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		r.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = logging.Sync(r.logger)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseContextPairs turns key=value arguments into an occurrence
// context map.
func parseContextPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("context entry %q is not key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
