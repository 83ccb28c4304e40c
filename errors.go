package subtiler

import "fmt"

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

type ErrInvalidRequest struct {
	msg string
}

func (err ErrInvalidRequest) Error() string {
	return "invalid request: " + err.msg
}

// ErrUnknownGridCell is returned when a grid code has no entry in the
// intersection index. The image cannot be served and retrying will not help.
type ErrUnknownGridCell struct {
	Code GridCode
}

func (err *ErrUnknownGridCell) Error() string {
	return fmt.Sprintf("grid code %s (key %s) not found in intersection index", err.Code, err.Code.Key())
}

// ErrGridCodeNotInFilename is returned when the grid code passed alongside a
// file does not appear in that file's name.
type ErrGridCodeNotInFilename struct {
	Code     GridCode
	Filename string
}

func (err *ErrGridCodeNotInFilename) Error() string {
	return fmt.Sprintf("grid code %s does not appear in filename %s", err.Code, err.Filename)
}

// ErrSourceImageUnreadable is returned when the source raster cannot be
// opened or carries no georeferencing (geotransform and spatial reference).
// Only the dataset header is inspected: corrupt pixel data is reported by
// the warp step as a plain error.
type ErrSourceImageUnreadable struct {
	Path string
	Err  error
}

func (err *ErrSourceImageUnreadable) Error() string {
	return fmt.Sprintf("source image %s unreadable: %v", err.Path, err.Err)
}

func (err *ErrSourceImageUnreadable) Unwrap() error {
	return err.Err
}

type ErrInvalidIndex struct {
	msg string
}

func (err *ErrInvalidIndex) Error() string {
	return "invalid intersection index: " + err.msg
}

// ErrOutputMismatch is returned by output verification when a written
// sub-tile does not carry the expected layout.
type ErrOutputMismatch struct {
	Path string
	msg  string
}

func (err *ErrOutputMismatch) Error() string {
	return fmt.Sprintf("%s: %s", err.Path, err.msg)
}
