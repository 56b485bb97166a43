// Package errs defines the coded error values shared by every layer of the
// engine. Codes are 32-bit integers partitioned by layer in the upper byte,
// with the lower 24 bits giving a layer-specific subcode, so a caller can
// tell at a glance which layer rejected an image.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. The upper byte selects the layer.
type Code uint32

// Layer bytes.
const (
	LayerAux  = 0x01 << 24
	LayerImg  = 0x02 << 24
	LayerVs   = 0x03 << 24
	LayerPool = 0x04 << 24
	LayerFs   = 0x05 << 24
)

// Auxiliary codes.
const (
	AuxMalloc    Code = LayerAux | 0x01
	AuxUnsupFunc Code = LayerAux | 0x02
	AuxArg       Code = LayerAux | 0x03
)

// Image-layer codes.
const (
	ImgNoFile         Code = LayerImg | 0x01
	ImgUnknownType    Code = LayerImg | 0x02
	ImgOpen           Code = LayerImg | 0x03
	ImgRead           Code = LayerImg | 0x04
	ImgOffsetTooLarge Code = LayerImg | 0x05
	ImgSeek           Code = LayerImg | 0x06
	ImgUnsupType      Code = LayerImg | 0x07
)

// Volume-system codes.
const (
	VsMagic     Code = LayerVs | 0x01
	VsMultType  Code = LayerVs | 0x02
	VsBlockNum  Code = LayerVs | 0x03
	VsArg       Code = LayerVs | 0x04
	VsRead      Code = LayerVs | 0x05
	VsUnsupType Code = LayerVs | 0x06
)

// Pool codes.
const (
	PoolCorrupt   Code = LayerPool | 0x01
	PoolUnsupType Code = LayerPool | 0x02
	PoolArg       Code = LayerPool | 0x03
	PoolRead      Code = LayerPool | 0x04
	PoolMagic     Code = LayerPool | 0x05
)

// Filesystem codes.
const (
	FsMagic     Code = LayerFs | 0x01
	FsCorrupt   Code = LayerFs | 0x02
	FsUnsupType Code = LayerFs | 0x03
	FsUnsupFunc Code = LayerFs | 0x04
	FsRead      Code = LayerFs | 0x05
	FsArg       Code = LayerFs | 0x06
	FsBlockNum  Code = LayerFs | 0x07
	FsInodeNum  Code = LayerFs | 0x08
	FsInodeCor  Code = LayerFs | 0x09
	FsCrypto    Code = LayerFs | 0x0A
	FsGenFs     Code = LayerFs | 0x0B
)

// Layer returns the layer byte of the code.
func (c Code) Layer() uint32 {
	return uint32(c) & 0xFF000000
}

func (c Code) String() string {
	switch c.Layer() {
	case LayerAux:
		return fmt.Sprintf("aux(0x%06X)", uint32(c)&0xFFFFFF)
	case LayerImg:
		return fmt.Sprintf("img(0x%06X)", uint32(c)&0xFFFFFF)
	case LayerVs:
		return fmt.Sprintf("vs(0x%06X)", uint32(c)&0xFFFFFF)
	case LayerPool:
		return fmt.Sprintf("pool(0x%06X)", uint32(c)&0xFFFFFF)
	case LayerFs:
		return fmt.Sprintf("fs(0x%06X)", uint32(c)&0xFFFFFF)
	}
	return fmt.Sprintf("unknown(0x%08X)", uint32(c))
}

// Error is the engine's error value: a code, the operation that failed, a
// human-readable message, and an optional wrapped cause.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s (%v)", e.Code, e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with a formatted message.
func New(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code from err, or zero when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
