// Package bsdiff implements the binary-diff codec used for update patches: a
// fixed, bsdiff4-compatible format of a 32-byte header followed by three
// bzip2-compressed streams (control, diff, extra). Correctness of Apply does
// not depend on how good a match Diff found: the diff stream always
// carries the exact byte delta against the source, so any valid split of
// copy/extra/seek round-trips; match quality only affects how well the
// result compresses.
package bsdiff

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// ErrPatchCorrupt is returned for a malformed header, a truncated stream, or
// a source-read underrun while applying a patch.
var ErrPatchCorrupt = fmt.Errorf("patch-corrupt")

var magic = []byte("BSDIFF40")

const headerSize = 32

// Diff produces a bsdiff4-compatible patch that transforms old into new.
func Diff(old, new []byte) ([]byte, error) {
	anchors := findAnchors(old, new)
	ctrl, diffBytes, extraBytes := buildPayload(old, new, anchors)

	ctrlComp, err := compress(ctrl)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: compressing control stream: %w", err)
	}
	diffComp, err := compress(diffBytes)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: compressing diff stream: %w", err)
	}
	extraComp, err := compress(extraBytes)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: compressing extra stream: %w", err)
	}

	var out bytes.Buffer
	out.Write(magic)
	var lenBuf [8]byte
	putInt64(lenBuf[:], int64(len(ctrlComp)))
	out.Write(lenBuf[:])
	putInt64(lenBuf[:], int64(len(diffComp)))
	out.Write(lenBuf[:])
	putInt64(lenBuf[:], int64(len(new)))
	out.Write(lenBuf[:])
	out.Write(ctrlComp)
	out.Write(diffComp)
	out.Write(extraComp)
	return out.Bytes(), nil
}

// Apply reconstructs the target bytes given source and a patch produced by
// Diff (or any compatible bsdiff4 encoder).
func Apply(source, patch []byte) ([]byte, error) {
	if len(patch) < headerSize {
		return nil, fmt.Errorf("%w: header truncated", ErrPatchCorrupt)
	}
	if !bytes.Equal(patch[0:8], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrPatchCorrupt)
	}

	ctrlLen := getInt64(patch[8:16])
	diffLen := getInt64(patch[16:24])
	newSize := getInt64(patch[24:32])
	if ctrlLen < 0 || diffLen < 0 || newSize < 0 {
		return nil, fmt.Errorf("%w: negative length in header", ErrPatchCorrupt)
	}

	ctrlStart := int64(headerSize)
	diffStart := ctrlStart + ctrlLen
	extraStart := diffStart + diffLen
	if diffStart < ctrlStart || extraStart < diffStart || extraStart > int64(len(patch)) {
		return nil, fmt.Errorf("%w: truncated stream", ErrPatchCorrupt)
	}

	ctrlBytes, err := decompress(patch[ctrlStart:diffStart])
	if err != nil {
		return nil, fmt.Errorf("%w: control stream: %v", ErrPatchCorrupt, err)
	}
	diffBytes, err := decompress(patch[diffStart:extraStart])
	if err != nil {
		return nil, fmt.Errorf("%w: diff stream: %v", ErrPatchCorrupt, err)
	}
	extraBytes, err := decompress(patch[extraStart:])
	if err != nil {
		return nil, fmt.Errorf("%w: extra stream: %v", ErrPatchCorrupt, err)
	}
	if len(ctrlBytes)%24 != 0 {
		return nil, fmt.Errorf("%w: misaligned control stream", ErrPatchCorrupt)
	}

	result := make([]byte, 0, newSize)
	oldPos, diffPos, extraPos := 0, 0, 0

	for i := 0; i < len(ctrlBytes); i += 24 {
		x := getInt64(ctrlBytes[i : i+8])
		y := getInt64(ctrlBytes[i+8 : i+16])
		z := getInt64(ctrlBytes[i+16 : i+24])
		if x < 0 || y < 0 {
			return nil, fmt.Errorf("%w: negative control value", ErrPatchCorrupt)
		}
		if diffPos+int(x) > len(diffBytes) {
			return nil, fmt.Errorf("%w: diff stream underrun", ErrPatchCorrupt)
		}
		if oldPos < 0 || oldPos+int(x) > len(source) {
			return nil, fmt.Errorf("%w: source underrun", ErrPatchCorrupt)
		}
		for k := 0; k < int(x); k++ {
			result = append(result, diffBytes[diffPos+k]+source[oldPos+k])
		}
		diffPos += int(x)
		oldPos += int(x)

		if extraPos+int(y) > len(extraBytes) {
			return nil, fmt.Errorf("%w: extra stream underrun", ErrPatchCorrupt)
		}
		result = append(result, extraBytes[extraPos:extraPos+int(y)]...)
		extraPos += int(y)

		oldPos += int(z)
	}

	if int64(len(result)) != newSize {
		return nil, fmt.Errorf("%w: result size %d does not match header %d", ErrPatchCorrupt, len(result), newSize)
	}
	return result, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: 9})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// putInt64 writes x as an 8-byte sign-magnitude little-endian integer: the
// magnitude occupies bytes 0-6 plus the low 7 bits of byte 7, and bit 7 of
// byte 7 carries the sign.
func putInt64(b []byte, x int64) {
	neg := x < 0
	u := uint64(x)
	if neg {
		u = uint64(-x)
	}
	for i := 0; i < 8; i++ {
		b[i] = byte(u)
		u >>= 8
	}
	if neg {
		b[7] |= 0x80
	}
}

func getInt64(b []byte) int64 {
	neg := b[7]&0x80 != 0
	u := uint64(b[7] &^ 0x80)
	for i := 6; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}
	if neg {
		return -int64(u)
	}
	return int64(u)
}
