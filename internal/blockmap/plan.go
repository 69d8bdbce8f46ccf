package blockmap

import "fmt"

// OpKind distinguishes the two operation types in a download plan.
type OpKind int

const (
	// OpCopy reads a byte range from the locally cached old file.
	OpCopy OpKind = iota
	// OpDownload fetches a byte range of the remote new file.
	OpDownload
)

func (k OpKind) String() string {
	if k == OpCopy {
		return "copy"
	}
	return "download"
}

// Operation is one unit of a download plan: a half-open byte range [Start,
// End) in the old file (copy) or the new file (download). Operations are
// emitted in ascending destination order and their lengths concatenate to
// exactly the new file's size. For download operations Start/End also equal
// the destination range, because the new file is the destination.
type Operation struct {
	Kind  OpKind
	Start int64
	End   int64
}

// Len returns the operation's byte length.
func (o Operation) Len() int64 { return o.End - o.Start }

// Plan is an ordered operation sequence reconstructing the new file.
type Plan struct {
	Operations []Operation

	// CopyBytes and DownloadBytes are precomputed totals for progress
	// reporting. CopyBytes+DownloadBytes == NewSize.
	CopyBytes     int64
	DownloadBytes int64
	NewSize       int64
}

// DownloadOpCount returns the number of download operations in the plan.
func (p *Plan) DownloadOpCount() int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == OpDownload {
			n++
		}
	}
	return n
}

// PlanOptions tunes plan construction.
type PlanOptions struct {
	// MaxDownloadOps caps the number of download operations. When the
	// coalesced plan still exceeds it, small copy ranges wedged between
	// downloads are converted to downloads and the neighbors merged, trading
	// extra bytes for fewer round trips. Zero or negative means no cap.
	MaxDownloadOps int
}

// BuildPlan diffs the old file's block list against the new one and returns
// the operations needed to reconstruct the new file. A nil or empty old file
// degenerates to a single whole-file download; an empty new file yields an
// empty plan.
func BuildPlan(oldFile, newFile *File, opts PlanOptions) (*Plan, error) {
	if newFile == nil {
		return nil, fmt.Errorf("new block map file is required")
	}
	newSize := newFile.Size()
	if newFile.BlockCount() == 0 {
		return &Plan{NewSize: 0}, nil
	}

	plan := &Plan{NewSize: newSize}
	newOffsets := newFile.offsets()

	if oldFile == nil || oldFile.BlockCount() == 0 {
		plan.Operations = []Operation{{Kind: OpDownload, Start: newOffsets[0], End: newOffsets[len(newOffsets)-1]}}
		plan.DownloadBytes = newSize
		return plan, nil
	}

	oldOffsets := oldFile.offsets()

	// Index old blocks by checksum. Multiple old blocks may share a checksum;
	// all positions are kept so the locality preference below can pick the one
	// at the same index as the new block.
	oldIndex := make(map[string][]int, oldFile.BlockCount())
	for i, sum := range oldFile.Checksums {
		oldIndex[sum] = append(oldIndex[sum], i)
	}

	for i, sum := range newFile.Checksums {
		if candidates := oldIndex[sum]; len(candidates) > 0 {
			j := pickOldBlock(candidates, i)
			// A colliding checksum with a different size is treated as a miss.
			if oldFile.Sizes[j] == newFile.Sizes[i] {
				appendOp(plan, Operation{Kind: OpCopy, Start: oldOffsets[j], End: oldOffsets[j+1]})
				continue
			}
		}
		appendOp(plan, Operation{Kind: OpDownload, Start: newOffsets[i], End: newOffsets[i+1]})
	}

	if opts.MaxDownloadOps > 0 {
		flattenDownloads(plan, opts.MaxDownloadOps)
	}
	recomputeTotals(plan)
	return plan, nil
}

// pickOldBlock chooses among old blocks sharing a checksum. Preferring the
// block at the new block's own index keeps copies local when content merely
// shifted, falling back to the first match otherwise. The choice only affects
// read locality, not correctness.
func pickOldBlock(candidates []int, newIndex int) int {
	for _, c := range candidates {
		if c == newIndex {
			return c
		}
	}
	return candidates[0]
}

// appendOp adds op, extending the previous operation when both are the same
// kind and byte-adjacent in their source file.
func appendOp(p *Plan, op Operation) {
	if n := len(p.Operations); n > 0 {
		last := &p.Operations[n-1]
		if last.Kind == op.Kind && last.End == op.Start {
			last.End = op.End
			return
		}
	}
	p.Operations = append(p.Operations, op)
}

// flattenDownloads reduces the download operation count to at most max by
// repeatedly converting the copy run wedged between two downloads with the
// smallest total length into downloaded bytes, merging the whole wedge into
// one request. A wedge may span several copy operations when adjacent new
// blocks copy from non-contiguous old ranges; destination coverage is still
// contiguous, and download operation coordinates equal destination
// coordinates, so the merged request spans the bounding downloads directly.
func flattenDownloads(p *Plan, max int) {
	for p.DownloadOpCount() > max {
		// Locate the cheapest maximal run of consecutive copies that has a
		// download on both sides. [bestStart, bestEnd) indexes the run.
		bestStart, bestEnd := -1, -1
		var bestLen int64
		for i := 0; i < len(p.Operations); {
			if p.Operations[i].Kind != OpCopy {
				i++
				continue
			}
			j := i
			var runLen int64
			for j < len(p.Operations) && p.Operations[j].Kind == OpCopy {
				runLen += p.Operations[j].Len()
				j++
			}
			if i > 0 && j < len(p.Operations) && (bestStart == -1 || runLen < bestLen) {
				bestStart, bestEnd, bestLen = i, j, runLen
			}
			i = j
		}
		if bestStart == -1 {
			// No copies sit between two downloads; the count cannot shrink
			// further without widening the plan past the new file.
			return
		}
		merged := Operation{
			Kind:  OpDownload,
			Start: p.Operations[bestStart-1].Start,
			End:   p.Operations[bestEnd].End,
		}
		ops := append(p.Operations[:bestStart-1], merged)
		p.Operations = append(ops, p.Operations[bestEnd+1:]...)
	}
}

func recomputeTotals(p *Plan) {
	p.CopyBytes, p.DownloadBytes = 0, 0
	for _, op := range p.Operations {
		if op.Kind == OpCopy {
			p.CopyBytes += op.Len()
		} else {
			p.DownloadBytes += op.Len()
		}
	}
}
