package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/twpayne/go-dem"
	"github.com/twpayne/go-dem/internal/logger"
)

var errSyntax = errors.New("syntax: dem points [flags] file.csv | dem raster [flags] -bbox minX,minY,maxX,maxY")

// commonFlags are the flags shared by all subcommands.
type commonFlags struct {
	provider    string
	crs         string
	zoom        int
	concurrency int
	timeout     time.Duration
	units       string
	resampling  string
	apiKey      string
	logLevel    string
	logConsole  bool
	output      string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newFlagSet(name string, defaultProvider string) (*flag.FlagSet, *commonFlags) {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &commonFlags{}
	flagSet.StringVar(&f.provider, "provider", getEnv("DEM_PROVIDER", defaultProvider), "provider")
	flagSet.StringVar(&f.crs, "crs", os.Getenv("DEM_CRS"), "CRS of input coordinates, for example EPSG:4326 (required)")
	flagSet.IntVar(&f.zoom, "z", 10, "zoom level")
	flagSet.IntVar(&f.concurrency, "concurrency", 8, "maximum concurrent requests")
	flagSet.DurationVar(&f.timeout, "timeout", 0, "timeout")
	flagSet.StringVar(&f.units, "units", "meters", "elevation units (meters or feet)")
	flagSet.StringVar(&f.resampling, "resampling", "nearest", "resampling (nearest or bilinear)")
	flagSet.StringVar(&f.apiKey, "api-key", "", "API key, overriding the provider's environment variable")
	flagSet.StringVar(&f.logLevel, "log-level", getEnv("LOG_LEVEL", "warn"), "log level")
	flagSet.BoolVar(&f.logConsole, "log-console", strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true", "log in console format")
	flagSet.StringVar(&f.output, "o", "", "output file (default stdout)")
	return flagSet, f
}

// options returns the library options selected by f.
func (f *commonFlags) options(zl zerolog.Logger) ([]dem.Option, error) {
	units, err := dem.ParseUnits(f.units)
	if err != nil {
		return nil, err
	}
	resampling, err := dem.ParseResampling(f.resampling)
	if err != nil {
		return nil, err
	}
	return []dem.Option{
		dem.WithProvider(f.provider),
		dem.WithSourceCRS(f.crs),
		dem.WithZoom(f.zoom),
		dem.WithConcurrency(f.concurrency),
		dem.WithTimeout(f.timeout),
		dem.WithUnits(units),
		dem.WithResampling(resampling),
		dem.WithAPIKey(f.apiKey),
		dem.WithLogger(zl),
	}, nil
}

func (f *commonFlags) logger() zerolog.Logger {
	return logger.Build(logger.Config{
		Level:     f.logLevel,
		Console:   f.logConsole,
		Component: "dem",
	}, os.Stderr)
}

// createOutput returns the output selected by f.
func (f *commonFlags) createOutput() (io.WriteCloser, error) {
	if f.output == "" || f.output == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(f.output)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func runPoints(ctx context.Context, args []string) error {
	flagSet, f := newFlagSet("points", dem.DefaultPointProvider)
	xColumn := flagSet.String("x", "x", "x or longitude column")
	yColumn := flagSet.String("y", "y", "y or latitude column")
	elevationColumn := flagSet.String("elevation-column", "elevation", "elevation column")
	dataset := flagSet.String("dataset", "", "dataset, for providers that serve several")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errSyntax
	}

	zl := f.logger()
	options, err := f.options(zl)
	if err != nil {
		return err
	}
	options = append(options, dem.WithDataset(*dataset), dem.WithElevationColumn(*elevationColumn))

	var r io.Reader = os.Stdin
	if name := flagSet.Arg(0); name != "-" {
		file, err := os.Open(name)
		if err != nil {
			return err
		}
		defer file.Close()
		r = file
	}
	header, points, err := readPoints(r, *xColumn, *yColumn)
	if err != nil {
		return err
	}

	elevatedPoints, err := dem.GetPoints(ctx, points, options...)
	if err != nil {
		return err
	}

	output, err := f.createOutput()
	if err != nil {
		return err
	}
	defer output.Close()
	if err := writePoints(output, header, elevatedPoints, *elevationColumn, zl); err != nil {
		return err
	}
	return output.Close()
}

// readPoints reads points from CSV with a header row. Every column, including
// the coordinate columns, is kept as an attribute.
func readPoints(r io.Reader, xColumn, yColumn string) ([]string, *dem.PointSet, error) {
	csvReader := csv.NewReader(r)
	header, err := csvReader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}
	xIndex, yIndex := -1, -1
	for i, name := range header {
		switch name {
		case xColumn:
			xIndex = i
		case yColumn:
			yIndex = i
		}
	}
	if xIndex == -1 || yIndex == -1 {
		return nil, nil, fmt.Errorf("header: missing %q or %q column", xColumn, yColumn)
	}

	points := &dem.PointSet{}
	for line := 2; ; line++ {
		record, err := csvReader.Read()
		switch {
		case errors.Is(err, io.EOF):
			return header, points, nil
		case err != nil:
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(record[xIndex]), 64)
		if err != nil {
			x = math.NaN()
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(record[yIndex]), 64)
		if err != nil {
			y = math.NaN()
		}
		attributes := make([]dem.Attribute, len(header))
		for i, name := range header {
			attributes[i] = dem.Attribute{Name: name, Value: record[i]}
		}
		points.Records = append(points.Records, dem.PointRecord{
			X:          x,
			Y:          y,
			Attributes: attributes,
		})
	}
}

// writePoints writes elevatedPoints as CSV. Points whose elevations could not
// be resolved have an empty elevation.
func writePoints(w io.Writer, header []string, elevatedPoints []dem.ElevatedPoint, elevationColumn string, zl zerolog.Logger) error {
	if !slices.Contains(header, elevationColumn) {
		header = append(header, elevationColumn)
	}
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(header); err != nil {
		return err
	}
	for _, elevatedPoint := range elevatedPoints {
		if elevatedPoint.Err != nil {
			zl.Warn().Err(elevatedPoint.Err).Int("index", elevatedPoint.Index).Msg("no elevation")
		}
		columns := elevatedPoint.Columns()
		record := make([]string, len(columns))
		for i, column := range columns {
			switch value := column.Value.(type) {
			case float64:
				if !math.IsNaN(value) {
					record[i] = strconv.FormatFloat(value, 'f', -1, 64)
				}
			default:
				record[i] = fmt.Sprint(value)
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func runRaster(ctx context.Context, args []string) error {
	flagSet, f := newFlagSet("raster", dem.DefaultRasterProvider)
	bbox := flagSet.String("bbox", "", "bounding box minX,minY,maxX,maxY")
	targetCRS := flagSet.String("target-crs", "", "CRS of the output raster (default EPSG:3857)")
	expand := flagSet.Float64("expand", 0, "expand the bounding box by this much on every side")
	maxTiles := flagSet.Int("max-tiles", 512, "maximum number of tiles")
	negativeToNoData := flagSet.Bool("negative-to-nodata", false, "replace negative elevations with nodata")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *bbox == "" || flagSet.NArg() != 0 {
		return errSyntax
	}
	bound, err := parseBBox(*bbox)
	if err != nil {
		return err
	}

	zl := f.logger()
	options, err := f.options(zl)
	if err != nil {
		return err
	}
	options = append(options,
		dem.WithTargetCRS(*targetCRS),
		dem.WithExpand(*expand),
		dem.WithMaxTiles(*maxTiles),
		dem.WithNegativeToNoData(*negativeToNoData),
	)

	mosaic, err := dem.GetRaster(ctx, bound, options...)
	if err != nil {
		return err
	}
	for _, missing := range mosaic.Missing {
		zl.Warn().Err(missing.Err).Stringer("tile", missing.Coord).Msg("missing tile")
	}

	output, err := f.createOutput()
	if err != nil {
		return err
	}
	defer output.Close()
	if err := dem.WriteASCIIGrid(output, mosaic); err != nil {
		return err
	}
	return output.Close()
}

func parseBBox(s string) (orb.Bound, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return orb.Bound{}, fmt.Errorf("%s: invalid bbox", s)
	}
	var values [4]float64
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%s: invalid bbox: %w", s, err)
		}
		values[i] = value
	}
	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}

func run() error {
	if len(os.Args) < 2 {
		return errSyntax
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	switch os.Args[1] {
	case "points":
		return runPoints(ctx, os.Args[2:])
	case "raster":
		return runRaster(ctx, os.Args[2:])
	default:
		return errSyntax
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
