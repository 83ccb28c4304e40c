package subtiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// A Request asks for the source image at SourcePath, which belongs to the
// source grid cell GridCode, to be split into sub-tiles under WorkDir.
type Request struct {
	SourcePath string
	WorkDir    string
	GridCode   GridCode
}

func (r Request) validate() error {
	switch {
	case r.SourcePath == "":
		return ErrInvalidRequest{"missing source path"}
	case r.WorkDir == "":
		return ErrInvalidRequest{"missing working directory"}
	case r.GridCode.Key() == "":
		return ErrInvalidRequest{"missing grid code"}
	}
	return nil
}

// An Output is a produced sub-tile file
type Output struct {
	Path    string
	Subtile Subtile
}

// Result lists the produced sub-tiles, in intersection index order
type Result []Output

func (r Result) Paths() []string {
	paths := make([]string, len(r))
	for i := range r {
		paths[i] = r[i].Path
	}
	return paths
}

type footprinter interface {
	Footprint(src string) (orb.Bound, error)
}

type commander interface {
	Command(src, dst string, bounds orb.Bound) []string
}

// A Transformer splits source images into GIBS aligned sub-tiles. A single
// Transformer may be used concurrently for different requests as long as its
// Reprojector allows it (the default Warper does).
type Transformer struct {
	index       *Index
	reprojector Reprojector
	logger      *zap.Logger
	verify      bool
}

type TransformerOption func(t *Transformer) error

// WithReprojector replaces the default GDAL Warper
func WithReprojector(r Reprojector) TransformerOption {
	return func(t *Transformer) error {
		if r == nil {
			return ErrInvalidOption{"reprojector must not be nil"}
		}
		t.reprojector = r
		return nil
	}
}

func WithLogger(l *zap.Logger) TransformerOption {
	return func(t *Transformer) error {
		if l == nil {
			return ErrInvalidOption{"logger must not be nil"}
		}
		t.logger = l
		return nil
	}
}

// VerifyOutputs makes Transform check each written sub-tile with
// VerifyGeoTIFF before moving on to the next one.
func VerifyOutputs() TransformerOption {
	return func(t *Transformer) error {
		t.verify = true
		return nil
	}
}

func NewTransformer(index *Index, options ...TransformerOption) (*Transformer, error) {
	if index == nil {
		return nil, ErrInvalidOption{"index must not be nil"}
	}
	t := &Transformer{
		index:  index,
		logger: zap.NewNop(),
	}
	for _, o := range options {
		if err := o(t); err != nil {
			return nil, err
		}
	}
	if t.reprojector == nil {
		w, err := NewWarper()
		if err != nil {
			return nil, err
		}
		t.reprojector = w
	}
	return t, nil
}

// Transform produces one file per sub-tile intersecting req.GridCode, under
// WorkDir/<source stem>/<gid>/. Sub-tiles are processed sequentially in index
// order and the first failure aborts the request. Files written before the
// failure are left in place.
func (t *Transformer) Transform(req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	subtiles, err := t.index.Lookup(req.GridCode)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(req.SourcePath)
	stemDir := filepath.Join(req.WorkDir, strings.TrimSuffix(base, filepath.Ext(base)))
	logger := t.logger.With(
		zap.String("source", req.SourcePath),
		zap.String("grid_code", req.GridCode.String()))

	var footprint *orb.Bound
	if fp, ok := t.reprojector.(footprinter); ok {
		b, err := fp.Footprint(req.SourcePath)
		var unreadable *ErrSourceImageUnreadable
		switch {
		case errors.As(err, &unreadable):
			return nil, err
		case err != nil:
			logger.Warn("cannot compute source footprint", zap.Error(err))
		default:
			footprint = &b
		}
	}

	result := make(Result, 0, len(subtiles))
	for _, st := range subtiles {
		name, err := SubtileName(base, req.GridCode, st.GID)
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(stemDir, st.GID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sub-tile directory: %w", err)
		}
		dst, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("absolute path of %s: %w", name, err)
		}
		if footprint != nil && !footprint.Intersects(st.Bounds) {
			logger.Debug("sub-tile outside of source footprint, output will be empty",
				zap.String("gid", st.GID))
		}
		if c, ok := t.reprojector.(commander); ok {
			logger.Debug("warp", zap.String("command", shellescape.QuoteCommand(c.Command(req.SourcePath, dst, st.Bounds))))
		}
		if err := t.reprojector.Reproject(req.SourcePath, dst, st.Bounds); err != nil {
			return nil, fmt.Errorf("sub-tile %s: %w", st.GID, err)
		}
		if t.verify {
			if _, err := VerifyGeoTIFF(dst); err != nil {
				return nil, fmt.Errorf("sub-tile %s: %w", st.GID, err)
			}
		}
		logger.Info("created sub-tile", zap.String("gid", st.GID), zap.String("path", dst))
		result = append(result, Output{Path: dst, Subtile: st})
	}
	return result, nil
}
