package subtiler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"sigs.k8s.io/yaml"
)

// IndexVersion is the only intersection index document version understood by
// this package.
const IndexVersion = 1

// A Subtile is a cell of the destination (GIBS) grid that intersects a source
// grid cell. Bounds are in WGS84 longitude/latitude degrees, Min holding the
// (west,south) corner and Max the (east,north) one.
type Subtile struct {
	GID    string
	Bounds orb.Bound
}

func (st Subtile) validate() error {
	if st.GID == "" {
		return fmt.Errorf("empty gid")
	}
	b := st.Bounds
	if !(b.Min.Lon() < b.Max.Lon()) || !(b.Min.Lat() < b.Max.Lat()) {
		return fmt.Errorf("gid %s: degenerate bounds %v", st.GID, b)
	}
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 || b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return fmt.Errorf("gid %s: bounds %v outside of [-180,180]x[-90,90]", st.GID, b)
	}
	return nil
}

// An Index maps source grid cell keys (see GridCode.Key) to the ordered list
// of destination sub-tiles they intersect. An Index must not be modified once
// it has been handed to a Transformer; lookups are then safe for concurrent use.
type Index struct {
	SourceGrid      string
	DestinationGrid string
	cells           map[string][]Subtile
}

func NewIndex(sourceGrid, destinationGrid string) *Index {
	return &Index{
		SourceGrid:      sourceGrid,
		DestinationGrid: destinationGrid,
		cells:           map[string][]Subtile{},
	}
}

// Add appends a sub-tile to the list of the given source cell key. Order of
// insertion is the order returned by Lookup.
func (idx *Index) Add(key string, st Subtile) error {
	if key == "" {
		return &ErrInvalidIndex{"empty cell key"}
	}
	if err := st.validate(); err != nil {
		return &ErrInvalidIndex{fmt.Sprintf("cell %s: %v", key, err)}
	}
	idx.cells[key] = append(idx.cells[key], st)
	return nil
}

// Lookup returns the sub-tiles intersecting the given source grid cell, in
// index order. The code is normalized with GridCode.Key before lookup.
func (idx *Index) Lookup(code GridCode) ([]Subtile, error) {
	sts, ok := idx.cells[code.Key()]
	if !ok || len(sts) == 0 {
		return nil, &ErrUnknownGridCell{Code: code}
	}
	ret := make([]Subtile, len(sts))
	copy(ret, sts)
	return ret, nil
}

// Len returns the number of source cells in the index
func (idx *Index) Len() int {
	return len(idx.cells)
}

// Keys returns the sorted source cell keys
func (idx *Index) Keys() []string {
	keys := make([]string, 0, len(idx.cells))
	for k := range idx.cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type indexDocument struct {
	Version         int                        `json:"version"`
	SourceGrid      string                     `json:"source_grid,omitempty"`
	DestinationGrid string                     `json:"destination_grid,omitempty"`
	Cells           map[string][]subtileRecord `json:"cells"`
}

type subtileRecord struct {
	GID    string  `json:"gid"`
	MinLon float64 `json:"minlon"`
	MinLat float64 `json:"minlat"`
	MaxLon float64 `json:"maxlon"`
	MaxLat float64 `json:"maxlat"`
}

// ReadIndex decodes a versioned intersection index document. Both JSON and
// YAML encodings are accepted.
func ReadIndex(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	doc := indexDocument{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ErrInvalidIndex{err.Error()}
	}
	if doc.Version != IndexVersion {
		return nil, &ErrInvalidIndex{fmt.Sprintf("unsupported version %d (want %d)", doc.Version, IndexVersion)}
	}
	if len(doc.Cells) == 0 {
		return nil, &ErrInvalidIndex{"no cells"}
	}
	idx := NewIndex(doc.SourceGrid, doc.DestinationGrid)
	for key, recs := range doc.Cells {
		if len(recs) == 0 {
			return nil, &ErrInvalidIndex{fmt.Sprintf("cell %s has no sub-tiles", key)}
		}
		for _, rec := range recs {
			st := Subtile{
				GID: rec.GID,
				Bounds: orb.Bound{
					Min: orb.Point{rec.MinLon, rec.MinLat},
					Max: orb.Point{rec.MaxLon, rec.MaxLat},
				},
			}
			if err := idx.Add(key, st); err != nil {
				return nil, err
			}
		}
	}
	return idx, nil
}

// LoadIndexFile reads the index document stored at path
func LoadIndexFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()
	idx, err := ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return idx, nil
}

// Write encodes the index as a JSON document that ReadIndex can load back.
func (idx *Index) Write(w io.Writer) error {
	doc := indexDocument{
		Version:         IndexVersion,
		SourceGrid:      idx.SourceGrid,
		DestinationGrid: idx.DestinationGrid,
		Cells:           make(map[string][]subtileRecord, len(idx.cells)),
	}
	for key, sts := range idx.cells {
		recs := make([]subtileRecord, len(sts))
		for i, st := range sts {
			recs[i] = subtileRecord{
				GID:    st.GID,
				MinLon: st.Bounds.Min.Lon(),
				MinLat: st.Bounds.Min.Lat(),
				MaxLon: st.Bounds.Max.Lon(),
				MaxLat: st.Bounds.Max.Lat(),
			}
		}
		doc.Cells[key] = recs
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(doc)
}

// An IndexLoader loads an index file at most once. All callers of Index share
// the same immutable *Index (or the same load error). A process is expected
// to hold a single IndexLoader for its lifetime.
type IndexLoader struct {
	path string
	once sync.Once
	idx  *Index
	err  error
}

func NewIndexLoader(path string) *IndexLoader {
	return &IndexLoader{path: path}
}

func (l *IndexLoader) Index() (*Index, error) {
	l.once.Do(func() {
		l.idx, l.err = LoadIndexFile(l.path)
	})
	return l.idx, l.err
}
