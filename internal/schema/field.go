package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Field describes one typed attribute of a collection.
// ID stays stable across renames so imports can rename without losing data.
type Field struct {
	ID          string
	Name        string
	Type        FieldType
	System      bool
	Required    bool
	Presentable bool
	Unique      bool
	Options     FieldOptions
}

// Clone returns a deep copy of the field.
func (f Field) Clone() Field {
	cloned := f
	cloned.Options = cloneFieldOptions(f.Options)
	return cloned
}

// ResolvedOptions returns the field options, defaulting to the zero options of the field type.
func (f Field) ResolvedOptions() FieldOptions {
	if f.Options != nil {
		return f.Options
	}
	options, err := defaultFieldOptions(f.Type)
	if err != nil {
		return nil
	}
	return options
}

// ErrInvalidThumbSize indicates a thumbnail size that is not a "WxH" pair of positive integers.
var ErrInvalidThumbSize = errors.New("schema: invalid thumb size")

var thumbSizePattern = regexp.MustCompile(`^(\d+)x(\d+)$`)

// ThumbSize is a parsed thumbnail dimension.
type ThumbSize struct {
	Width  int
	Height int
}

// String renders the size in its "WxH" wire form.
func (s ThumbSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseThumbSize parses a "WxH" thumbnail size with positive dimensions.
func ParseThumbSize(raw string) (ThumbSize, error) {
	matches := thumbSizePattern.FindStringSubmatch(raw)
	if matches == nil {
		return ThumbSize{}, fmt.Errorf("%w: %q", ErrInvalidThumbSize, raw)
	}
	width, err := strconv.Atoi(matches[1])
	if err != nil {
		return ThumbSize{}, fmt.Errorf("%w: %q", ErrInvalidThumbSize, raw)
	}
	height, err := strconv.Atoi(matches[2])
	if err != nil {
		return ThumbSize{}, fmt.Errorf("%w: %q", ErrInvalidThumbSize, raw)
	}
	if width <= 0 || height <= 0 {
		return ThumbSize{}, fmt.Errorf("%w: %q must have positive dimensions", ErrInvalidThumbSize, raw)
	}
	return ThumbSize{Width: width, Height: height}, nil
}
