package subtiler

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
)

// Resolution is the pixel size, in degrees, of every produced sub-tile along
// both axes. It is 9/32768 degrees (31.25m at the equator), which aligns pixel
// edges with the GIBS tile pyramid at its native zoom level. It must not be
// changed or rounded.
const Resolution = 2.74658203125e-4

// TargetSRS is the coordinate reference system of every produced sub-tile
const TargetSRS = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// A Reprojector writes to dst the portion of the src raster covered by
// bounds, reprojected to TargetSRS at Resolution.
type Reprojector interface {
	Reproject(src, dst string, bounds orb.Bound) error
}

// Warper is the GDAL backed Reprojector. Output files are tiled LZW
// compressed GeoTIFFs.
type Warper struct {
	creationOptions map[string]string
	configOptions   []string
	switches        []string
}

type WarperOption func(w *Warper) error

// WarpCreationOptions adds or overrides GTiff creation options, given as
// KEY=VALUE. An empty value removes a default option. TILED and COMPRESS are
// fixed and cannot be changed.
func WarpCreationOptions(opts ...string) WarperOption {
	return func(w *Warper) error {
		for _, co := range opts {
			k, v, ok := strings.Cut(co, "=")
			if !ok || k == "" {
				return ErrInvalidOption{fmt.Sprintf("invalid creation option %q, expecting KEY=VALUE", co)}
			}
			k = strings.ToUpper(k)
			if k == "TILED" || k == "COMPRESS" {
				return ErrInvalidOption{fmt.Sprintf("%s creation option cannot be changed", k)}
			}
			if v == "" {
				delete(w.creationOptions, k)
			} else {
				w.creationOptions[k] = v
			}
		}
		return nil
	}
}

// WarpConfigOptions sets GDAL configuration options (KEY=VALUE) for the
// duration of each warp.
func WarpConfigOptions(opts ...string) WarperOption {
	return func(w *Warper) error {
		for _, co := range opts {
			if !strings.Contains(co, "=") {
				return ErrInvalidOption{fmt.Sprintf("invalid config option %q, expecting KEY=VALUE", co)}
			}
		}
		w.configOptions = append(w.configOptions, opts...)
		return nil
	}
}

// WarpSwitches adds gdalwarp switches (e.g. "-r", "bilinear"). Switches that
// would change the output CRS, resolution, extent, size or format are
// rejected.
func WarpSwitches(switches ...string) WarperOption {
	return func(w *Warper) error {
		if err := checkSwitches(switches); err != nil {
			return err
		}
		w.switches = append(w.switches, switches...)
		return nil
	}
}

func checkSwitches(sw []string) error {
	for _, s := range sw {
		switch s {
		case "-t_srs", "-tr", "-te", "-te_srs", "-ts", "-tap", "-of", "-co", "-outsize", "-overwrite":
			return ErrInvalidOption{fmt.Sprintf("%s switch not allowed", s)}
		}
	}
	return nil
}

func NewWarper(options ...WarperOption) (*Warper, error) {
	w := &Warper{
		creationOptions: map[string]string{
			"TILED":    "YES",
			"COMPRESS": "LZW",
		},
	}
	for _, o := range options {
		if err := o(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (w *Warper) copts() []string {
	copts := make([]string, 0, len(w.creationOptions))
	for k, v := range w.creationOptions {
		copts = append(copts, k+"="+v)
	}
	sort.Strings(copts)
	return copts
}

func (w *Warper) warpSwitches(bounds orb.Bound) []string {
	sw := make([]string, 0, len(w.switches)+10)
	sw = append(sw, w.switches...)
	res := formatFloat(Resolution)
	sw = append(sw,
		"-t_srs", TargetSRS,
		"-tr", res, res,
		"-te",
		formatFloat(bounds.Min.Lon()),
		formatFloat(bounds.Min.Lat()),
		formatFloat(bounds.Max.Lon()),
		formatFloat(bounds.Max.Lat()),
	)
	return sw
}

// Command returns the gdalwarp command line equivalent to Reproject(src,dst,bounds)
func (w *Warper) Command(src, dst string, bounds orb.Bound) []string {
	cmd := []string{"gdalwarp"}
	cmd = append(cmd, w.warpSwitches(bounds)...)
	cmd = append(cmd, "-of", "GTiff")
	for _, co := range w.copts() {
		cmd = append(cmd, "-co", co)
	}
	for _, co := range w.configOptions {
		cmd = append(cmd, "--config", co)
	}
	return append(cmd, src, dst)
}

func openSource(src string) (*godal.Dataset, error) {
	ds, err := godal.Open(src, godal.RasterOnly())
	if err != nil {
		return nil, &ErrSourceImageUnreadable{Path: src, Err: err}
	}
	if _, err := ds.GeoTransform(); err != nil {
		ds.Close()
		return nil, &ErrSourceImageUnreadable{Path: src, Err: fmt.Errorf("no geotransform: %w", err)}
	}
	if ds.Projection() == "" {
		ds.Close()
		return nil, &ErrSourceImageUnreadable{Path: src, Err: fmt.Errorf("no spatial reference")}
	}
	return ds, nil
}

// Reproject warps src into dst. Bounds that do not overlap the source image
// are not an error: the output is then filled with nodata.
//
// Only the source header is checked upfront. Pixel data that cannot be read
// (e.g. truncated strips) makes the warp itself fail, and that error is not an
// *ErrSourceImageUnreadable.
func (w *Warper) Reproject(src, dst string, bounds orb.Bound) error {
	ds, err := openSource(src)
	if err != nil {
		return err
	}
	defer ds.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	outds, err := ds.Warp(dst, w.warpSwitches(bounds),
		godal.CreationOption(w.copts()...),
		godal.ConfigOption(w.configOptions...),
		godal.GTiff)
	if err != nil {
		return fmt.Errorf("warp %s: %w", dst, err)
	}
	if err := outds.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// Footprint returns the lon/lat bounding box of the corners of src. It is an
// approximation which does not account for images crossing the antimeridian.
func (w *Warper) Footprint(src string) (orb.Bound, error) {
	ds, err := openSource(src)
	if err != nil {
		return orb.Bound{}, err
	}
	defer ds.Close()
	st := ds.Structure()
	gt, _ := ds.GeoTransform()
	sx, sy := float64(st.SizeX), float64(st.SizeY)
	xs := []float64{gt[0], gt[0] + sx*gt[1], gt[0] + sy*gt[2], gt[0] + sx*gt[1] + sy*gt[2]}
	ys := []float64{gt[3], gt[3] + sx*gt[4], gt[3] + sy*gt[5], gt[3] + sx*gt[4] + sy*gt[5]}

	srcSR := ds.SpatialRef()
	defer srcSR.Close()
	dstSR, err := godal.NewSpatialRefFromProj4(TargetSRS)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("target srs: %w", err)
	}
	defer dstSR.Close()
	trn, err := godal.NewTransform(srcSR, dstSR)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("new transform: %w", err)
	}
	defer trn.Close()
	ok := make([]bool, 4)
	if err := trn.TransformEx(xs, ys, nil, ok); err != nil {
		return orb.Bound{}, fmt.Errorf("transform corners: %w", err)
	}
	mp := orb.MultiPoint{}
	for i := range xs {
		if !ok[i] || math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			return orb.Bound{}, fmt.Errorf("corner %d could not be transformed", i)
		}
		mp = append(mp, orb.Point{xs[i], ys[i]})
	}
	return mp.Bound(), nil
}
