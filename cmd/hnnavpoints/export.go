package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/WazeDev/hn-navpoints/internal/api"
	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/engine"
	"github.com/WazeDev/hn-navpoints/internal/fetch"
	"github.com/WazeDev/hn-navpoints/internal/influx"
	"github.com/WazeDev/hn-navpoints/internal/layer"
	"github.com/WazeDev/hn-navpoints/internal/logging"
	"github.com/WazeDev/hn-navpoints/internal/monitor"
	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

var (
	exportSegments string
	exportExtent   string
	exportZoom     int
	exportSnapshot string
	exportStatus   string
	exportTimeout  time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Draw house numbers for a segment file onto the configured layers",
	Long: "Runs the engine once against the configured house number service " +
		"for the segments in --segments and reports what was drawn.",
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportSegments, "segments", "", "JSON file with the segments to annotate")
	exportCmd.Flags().StringVar(&exportExtent, "extent", "", "Visible extent as minX,minY,maxX,maxY in EPSG:3857")
	exportCmd.Flags().IntVar(&exportZoom, "zoom", 18, "Map zoom level")
	exportCmd.Flags().StringVar(&exportSnapshot, "snapshot", "", "Write the in-memory sqlite layers to this file")
	exportCmd.Flags().StringVar(&exportStatus, "status-file", "", "Write engine status to this file every second")
	exportCmd.Flags().DurationVar(&exportTimeout, "timeout", 2*time.Minute, "Time allowed for all fetches")
	_ = exportCmd.MarkFlagRequired("segments")
	rootCmd.AddCommand(exportCmd)
}

// exportSummary is printed as JSON when the run completes.
type exportSummary struct {
	LayerType string `json:"layerType"`
	State     string `json:"state"`
	Segments  int    `json:"segments"`
	Lines     int    `json:"lines"`
	Labels    int    `json:"labels"`
	Duration  string `json:"duration"`
}

func runExport(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	segs, err := readSegments(exportSegments)
	if err != nil {
		return err
	}
	extent := extentOf(segs)
	if exportExtent != "" {
		if extent, err = parseExtent(exportExtent); err != nil {
			return err
		}
	}

	env, err := newRuntimeEnv()
	if err != nil {
		return err
	}
	defer env.close(5 * time.Second)

	sess := session.NewContext(config.GetSettings())
	logger := env.logger(sess.LogAttrs)

	layers, err := layer.New(config.GetLayerConfig(), layer.Dependencies{Logger: logger, DBLogger: env.zlog})
	if err != nil {
		return err
	}
	if err := layers.Init(); err != nil {
		_ = layers.Close()
		return err
	}
	defer func() {
		if err := layers.Close(); err != nil {
			logger.Error("Failed to close layers", "error", err)
		}
	}()

	fetchOpts := []fetch.Option{fetch.WithConcurrency(config.GetFetchConfig().Concurrency)}
	if ic := config.GetInfluxConfig(); ic.Enabled {
		if err := os.MkdirAll(config.GetString("logsDir"), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		telemetry := influx.NewManager(env.zlog, backupPath("hn_fetch.lp.gz"))
		if err := telemetry.Connect(ctx, ic); err != nil {
			logger.Warn("Fetch telemetry disabled", "error", err)
		} else {
			defer telemetry.Close()
			fetchOpts = append(fetchOpts, fetch.WithObserver(telemetry))
		}
	}

	apiCfg := config.GetAPIConfig()
	source := api.New(apiCfg.ServerURL, apiCfg.HouseNumbersPath, apiCfg.Timeout)

	h := host.Host{
		Segments: newStaticSegments(segs),
		Viewport: staticViewport{zoom: exportZoom, extent: extent},
		Bus:      nopBus{},
	}
	r, err := engine.New(h, layers.Lines, layers.Labels, source, sess,
		engine.WithLogger(logger),
		engine.WithDispatcherLogger(logging.NewDispatcherLogger(env.zlog)),
		engine.WithFetchOptions(fetchOpts...),
	)
	if err != nil {
		return err
	}
	r.Start(ctx)
	defer r.Close()

	if exportStatus != "" {
		mon := monitor.NewService(monitor.Dependencies{
			Engine:     r,
			Layers:     []host.Layer{layers.Lines, layers.Labels},
			StatusPath: exportStatus,
			Logger:     logger,
		})
		if err := mon.Start(); err != nil {
			return err
		}
		defer mon.Stop()
	}

	if err := r.Enable(ctx); err != nil {
		return err
	}
	settleCtx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	if err := r.Settle(settleCtx); err != nil {
		return fmt.Errorf("waiting for house numbers: %w", err)
	}

	if err := layers.Flush(); err != nil {
		return err
	}
	if exportSnapshot != "" {
		if err := layers.Snapshot(exportSnapshot); err != nil {
			return err
		}
	}

	summary := exportSummary{
		LayerType: layers.Type,
		State:     r.State().String(),
		Segments:  len(segs),
		Lines:     count(layers.Lines),
		Labels:    count(layers.Labels),
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func count(l host.Layer) int {
	if c, ok := l.(interface{ Len() int }); ok {
		return c.Len()
	}
	return 0
}

func readSegments(path string) ([]core.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments: %w", err)
	}
	var segs []core.Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("parse segments %s: %w", path, err)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("no segments in %s", path)
	}
	return segs, nil
}

func parseExtent(s string) (core.Extent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Extent{}, fmt.Errorf("extent needs 4 values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Extent{}, fmt.Errorf("extent value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return core.Extent{}, fmt.Errorf("extent min exceeds max")
	}
	return core.Extent{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}, nil
}

// extentOf bounds every segment vertex.
func extentOf(segs []core.Segment) core.Extent {
	var e core.Extent
	first := true
	for _, s := range segs {
		for _, p := range s.Geometry {
			if first {
				e = core.Extent{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
				first = false
				continue
			}
			e.MinX = min(e.MinX, p.X)
			e.MinY = min(e.MinY, p.Y)
			e.MaxX = max(e.MaxX, p.X)
			e.MaxY = max(e.MaxY, p.Y)
		}
	}
	return e
}
