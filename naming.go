package subtiler

import (
	"path/filepath"
	"strings"
)

// SubtileName derives the file name of a sub-tile by inserting "_<gid>" right
// after the grid code in the stem of filename. The extension and every other
// part of the name are kept verbatim:
//
//	OPERA_L3_DSWx-HLS_T01WCU_20210827T002611Z_BROWSE.tif
//	OPERA_L3_DSWx-HLS_T01WCU_318143_20210827T002611Z_BROWSE.tif
//
// The grid code is expected to appear exactly once in the stem. If it appears
// more than once only the first occurrence is used.
func SubtileName(filename string, code GridCode, gid string) (string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	c := string(code)
	i := strings.Index(stem, c)
	if c == "" || i < 0 {
		return "", &ErrGridCodeNotInFilename{Code: code, Filename: filename}
	}
	i += len(c)
	return stem[:i] + "_" + gid + stem[i:] + ext, nil
}
