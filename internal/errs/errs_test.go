package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestCodeLayer(t *testing.T) {
	if ImgRead.Layer() != LayerImg {
		t.Errorf("ImgRead layer = 0x%08X, want 0x%08X", ImgRead.Layer(), uint32(LayerImg))
	}
	if VsMagic.Layer() != LayerVs {
		t.Errorf("VsMagic layer = 0x%08X, want 0x%08X", VsMagic.Layer(), uint32(LayerVs))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Wrap(ImgRead, "raw.ReadAt", cause)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("wrapped cause lost: %v", err)
	}
	if CodeOf(err) != ImgRead {
		t.Errorf("CodeOf = %v, want %v", CodeOf(err), ImgRead)
	}
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	inner := New(FsInodeNum, "FileByInum", "inode %d out of range", 99)
	outer := fmt.Errorf("opening file: %w", inner)
	if CodeOf(outer) != FsInodeNum {
		t.Errorf("CodeOf through fmt wrap = %v, want %v", CodeOf(outer), FsInodeNum)
	}
	if !Is(outer, FsInodeNum) {
		t.Error("Is(outer, FsInodeNum) = false")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(errors.New("plain")) != 0 {
		t.Error("plain error should carry no code")
	}
}
