package subtiler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// GridCodeMarker is the letter the archive prefixes to MGRS tile ids in
// granule names and attributes (T01WCU for tile 01WCU).
const GridCodeMarker = 'T'

// A GridCode identifies a cell of the source (MGRS) tiling grid, as it appears
// in granule metadata and file names, i.e. possibly carrying the leading
// GridCodeMarker.
type GridCode string

// Key returns the code used to look up the cell in an intersection index: the
// code with a single leading GridCodeMarker removed. Codes without the marker
// are returned unchanged.
func (c GridCode) Key() string {
	s := string(c)
	if len(s) > 0 && s[0] == GridCodeMarker {
		return s[1:]
	}
	return s
}

func (c GridCode) String() string {
	return string(c)
}

var ErrGridCodeNotFound = errors.New("grid code not found")

var (
	gridCodeField = regexp.MustCompile(`^T\w{5}$`)
	gridCodeAny   = regexp.MustCompile(`[_.](T\w{5})[_.]`)
)

// GridCodeFromName extracts the grid code from an OPERA style granule id or
// file name, e.g. OPERA_L3_DSWx-HLS_T01WCU_20210827T002611Z_... gives T01WCU.
// The fourth underscore separated field is preferred, otherwise the first
// T-prefixed 6 character token delimited by '_' or '.' is used.
func GridCodeFromName(name string) (GridCode, error) {
	fields := strings.Split(name, "_")
	if len(fields) <= 3 {
		return "", fmt.Errorf("%s: too few fields: %w", name, ErrGridCodeNotFound)
	}
	if gridCodeField.MatchString(fields[3]) {
		return GridCode(fields[3]), nil
	}
	if m := gridCodeAny.FindStringSubmatch(name); m != nil {
		return GridCode(m[1]), nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrGridCodeNotFound)
}

// GridCodeFromGranule extracts the grid code from a UMM-G granule document.
// The MGRS_TILE_ID additional attribute wins, the GranuleUR is parsed with
// GridCodeFromName otherwise.
func GridCodeFromGranule(umm []byte) (GridCode, error) {
	if !gjson.ValidBytes(umm) {
		return "", fmt.Errorf("granule metadata is not valid json")
	}
	tid := gjson.GetBytes(umm, `AdditionalAttributes.#(Name=="MGRS_TILE_ID").Values.0`)
	if tid.Exists() && tid.String() != "" {
		return GridCode(tid.String()), nil
	}
	ur := gjson.GetBytes(umm, "GranuleUR")
	if !ur.Exists() {
		return "", fmt.Errorf("no MGRS_TILE_ID attribute and no GranuleUR: %w", ErrGridCodeNotFound)
	}
	return GridCodeFromName(ur.String())
}
