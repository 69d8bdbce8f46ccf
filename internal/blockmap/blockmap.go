package blockmap

import (
	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// SupportedVersion is the only block-map format version this client accepts.
// Old and new maps must both carry it or the differential path is refused.
const SupportedVersion = "2"

// File describes one logical file inside a container as an ordered block
// sequence. Blocks are contiguous: block i starts where block i-1 ends, and
// together they cover the file's full byte length.
type File struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`

	// Checksums[i] and Sizes[i] describe block i. Kept as parallel slices to
	// match the wire format.
	Checksums []string `json:"checksums"`
	Sizes     []int64  `json:"sizes"`
}

// BlockMap is the top-level structure of a .blockmap payload.
type BlockMap struct {
	Version string `json:"version"`
	Files   []File `json:"files"`
}

// BlockCount returns the number of blocks in the file.
func (f *File) BlockCount() int { return len(f.Sizes) }

// Size returns the total byte length covered by the file's blocks.
func (f *File) Size() int64 {
	var total int64
	for _, s := range f.Sizes {
		total += s
	}
	return total
}

// offsets returns the absolute container offset of each block, plus a final
// entry holding the end offset of the last block.
func (f *File) offsets() []int64 {
	out := make([]int64, len(f.Sizes)+1)
	pos := f.Offset
	for i, s := range f.Sizes {
		out[i] = pos
		pos += s
	}
	out[len(f.Sizes)] = pos
	return out
}

// validate checks structural invariants of a decoded map.
func (m *BlockMap) validate() error {
	if m.Version != SupportedVersion {
		return errcode.New(errcode.InvalidBlockMap, "unsupported block map version %q (supported: %s)", m.Version, SupportedVersion)
	}
	for i := range m.Files {
		f := &m.Files[i]
		if len(f.Checksums) != len(f.Sizes) {
			return errcode.New(errcode.InvalidBlockMap, "file %q: %d checksums but %d sizes", f.Name, len(f.Checksums), len(f.Sizes))
		}
		if f.Offset < 0 {
			return errcode.New(errcode.InvalidBlockMap, "file %q: negative offset %d", f.Name, f.Offset)
		}
		for j, s := range f.Sizes {
			if s <= 0 {
				return errcode.New(errcode.InvalidBlockMap, "file %q: block %d has non-positive size %d", f.Name, j, s)
			}
		}
	}
	return nil
}
