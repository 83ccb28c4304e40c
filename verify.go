package subtiler

import (
	"fmt"
	"math"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"github.com/paulmach/orb"
)

const (
	subfileTypeNone = 0
	compressionLZW  = 5

	gtModelTypeGeoKey    = 1024
	geographicTypeGeoKey = 2048
	modelTypeGeographic  = 2
	geographicTypeWGS84  = 4326
)

// the subset of tags needed to check a produced sub-tile
type geoIFD struct {
	SubfileType        uint32    `tiff:"field,tag=254"`
	ImageWidth         uint64    `tiff:"field,tag=256"`
	ImageLength        uint64    `tiff:"field,tag=257"`
	Compression        uint16    `tiff:"field,tag=259"`
	SamplesPerPixel    uint16    `tiff:"field,tag=277"`
	TileWidth          uint16    `tiff:"field,tag=322"`
	TileLength         uint16    `tiff:"field,tag=323"`
	ModelPixelScaleTag []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag   []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag []uint16  `tiff:"field,tag=34735"`
	NoData             string    `tiff:"field,tag=42113"`
}

// RasterInfo describes the full resolution image of a GeoTIFF file
type RasterInfo struct {
	Width, Height         int
	Bands                 int
	TileWidth, TileHeight int
	Compression           uint16
	PixelSizeX            float64
	PixelSizeY            float64
	Bounds                orb.Bound
	ModelType             uint16
	GeographicType        uint16
	NoData                string
}

func (ri RasterInfo) Tiled() bool {
	return ri.TileWidth > 0 && ri.TileHeight > 0
}

// geoKey returns the inline value of key from a GeoKeyDirectory
func geoKey(dir []uint16, key uint16) uint16 {
	if len(dir) < 4 {
		return 0
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		e := dir[4+4*i : 4+4*i+4]
		if e[0] == key && e[1] == 0 {
			return e[3]
		}
	}
	return 0
}

// InspectGeoTIFF reads the georeferencing and layout of the first full
// resolution image of a (Big)TIFF file.
func InspectGeoTIFF(r tiff.ReadAtReadSeeker) (RasterInfo, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("parse tiff: %w", err)
	}
	var gifd *geoIFD
	for i, tifd := range tif.IFDs() {
		cur := &geoIFD{}
		if err := tiff.UnmarshalIFD(tifd, cur); err != nil {
			return RasterInfo{}, fmt.Errorf("unmarshal ifd %d: %w", i, err)
		}
		if cur.SubfileType == subfileTypeNone {
			gifd = cur
			break
		}
	}
	if gifd == nil {
		return RasterInfo{}, fmt.Errorf("no full resolution image")
	}
	ri := RasterInfo{
		Width:          int(gifd.ImageWidth),
		Height:         int(gifd.ImageLength),
		Bands:          int(gifd.SamplesPerPixel),
		TileWidth:      int(gifd.TileWidth),
		TileHeight:     int(gifd.TileLength),
		Compression:    gifd.Compression,
		ModelType:      geoKey(gifd.GeoKeyDirectoryTag, gtModelTypeGeoKey),
		GeographicType: geoKey(gifd.GeoKeyDirectoryTag, geographicTypeGeoKey),
		NoData:         gifd.NoData,
	}
	if len(gifd.ModelPixelScaleTag) >= 2 {
		ri.PixelSizeX, ri.PixelSizeY = gifd.ModelPixelScaleTag[0], gifd.ModelPixelScaleTag[1]
	}
	if len(gifd.ModelTiePointTag) >= 6 {
		tp := gifd.ModelTiePointTag
		ulx := tp[3] - tp[0]*ri.PixelSizeX
		uly := tp[4] + tp[1]*ri.PixelSizeY
		ri.Bounds = orb.Bound{
			Min: orb.Point{ulx, uly - float64(ri.Height)*ri.PixelSizeY},
			Max: orb.Point{ulx + float64(ri.Width)*ri.PixelSizeX, uly},
		}
	}
	return ri, nil
}

// sameResolution compares to 12 significant digits
func sameResolution(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Abs(b)
}

// Check returns an error if ri is not laid out as a sub-tile must be: tiled,
// LZW compressed, WGS84 geographic, with a pixel size of Resolution.
func (ri RasterInfo) Check() error {
	switch {
	case !ri.Tiled():
		return fmt.Errorf("not tiled")
	case ri.Compression != compressionLZW:
		return fmt.Errorf("compression %d, expecting LZW (%d)", ri.Compression, compressionLZW)
	case ri.ModelType != modelTypeGeographic:
		return fmt.Errorf("model type %d, expecting geographic (%d)", ri.ModelType, modelTypeGeographic)
	case ri.GeographicType != geographicTypeWGS84:
		return fmt.Errorf("geographic type %d, expecting WGS84 (%d)", ri.GeographicType, geographicTypeWGS84)
	case !sameResolution(ri.PixelSizeX, Resolution) || !sameResolution(ri.PixelSizeY, Resolution):
		return fmt.Errorf("pixel size %.15gx%.15g, expecting %.15g", ri.PixelSizeX, ri.PixelSizeY, Resolution)
	}
	return nil
}

// VerifyGeoTIFF inspects the file at path and checks its layout. Layout
// problems are reported as *ErrOutputMismatch.
func VerifyGeoTIFF(path string) (RasterInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	ri, err := InspectGeoTIFF(f)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	if err := ri.Check(); err != nil {
		return ri, &ErrOutputMismatch{Path: path, msg: err.Error()}
	}
	return ri, nil
}
