// Package diff implements the software block-difference detector used
// by the CPU full-frame grabber: a fixed 32x32 block grid compared
// against the previous frame, with adjacent changed blocks merged by
// union-find into a small set of dirty rectangles.
package diff

import "github.com/haefele/remoteviewer/internal/screen"

// BlockSize is the fixed grid cell used for the block-compare pass.
const BlockSize = 32

// AbortRatio is the fraction of changed blocks above which the diff
// is abandoned in favor of re-emitting a full keyframe.
const AbortRatio = 0.80

// Detect compares current against previous (both tightly packed BGRA
// frames of width x height) and returns the merged set of changed
// rectangles. It returns (nil, true) when current==previous pixel-for-
// pixel (an empty, non-nil slice would also signal "no changes"; nil
// is used here for the zero-regions case per the no-allocation path).
// It returns (nil, false) when more than AbortRatio of blocks changed,
// signaling the caller should upgrade to a keyframe instead.
func Detect(current, previous []byte, width, height int32) ([]screen.Rect, bool) {
	cols := (width + BlockSize - 1) / BlockSize
	rows := (height + BlockSize - 1) / BlockSize
	total := int(cols * rows)
	if total == 0 {
		return nil, true
	}

	changed := make([]bool, total)
	changedCount := 0

	// Row-major enumeration order, as specified.
	for by := int32(0); by < rows; by++ {
		y0 := by * BlockSize
		y1 := y0 + BlockSize
		if y1 > height {
			y1 = height
		}
		for bx := int32(0); bx < cols; bx++ {
			x0 := bx * BlockSize
			x1 := x0 + BlockSize
			if x1 > width {
				x1 = width
			}
			idx := int(by*cols + bx)
			if blockChanged(current, previous, width, x0, y0, x1, y1) {
				changed[idx] = true
				changedCount++
			}
		}
	}

	if changedCount == 0 {
		return nil, true
	}
	if float64(changedCount)/float64(total) > AbortRatio {
		return nil, false
	}

	return mergeChangedBlocks(changed, cols, rows, width, height), true
}

// blockChanged compares one block's rows between current and previous,
// short-circuiting on the first differing row.
func blockChanged(current, previous []byte, frameWidth, x0, y0, x1, y1 int32) bool {
	rowBytes := (x1 - x0) * 4
	stride := int64(frameWidth) * 4
	for y := y0; y < y1; y++ {
		rowStart := int64(y)*stride + int64(x0)*4
		a := current[rowStart : rowStart+int64(rowBytes)]
		b := previous[rowStart : rowStart+int64(rowBytes)]
		if !equalBytes(a, b) {
			return true
		}
	}
	return false
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return true // length mismatch treated as "changed"
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// unionFind merges changed blocks whose inflated rectangles intersect.
// Tie-break rule: the smaller root index always wins, matching the
// spec's determinism requirement.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		uf.parent[rb] = ra
	} else {
		uf.parent[ra] = rb
	}
}

// mergeChangedBlocks inflates each changed block's rectangle by
// BlockSize/2, unions overlapping groups, and returns the bounding
// rectangle (un-inflated back to the original block extents) of each
// group, keyed by group in ascending representative order for
// determinism.
func mergeChangedBlocks(changed []bool, cols, rows, width, height int32) []screen.Rect {
	n := len(changed)
	uf := newUnionFind(n)

	blockRect := func(idx int) screen.Rect {
		bx := int32(idx) % cols
		by := int32(idx) / cols
		x0 := bx * BlockSize
		y0 := by * BlockSize
		x1 := x0 + BlockSize
		y1 := y0 + BlockSize
		if x1 > width {
			x1 = width
		}
		if y1 > height {
			y1 = height
		}
		return screen.Rect{Left: x0, Top: y0, Right: x1, Bottom: y1}
	}

	inflated := make([]screen.Rect, n)
	for i, c := range changed {
		if c {
			inflated[i] = blockRect(i).Inflate(BlockSize / 2)
		}
	}

	for idx := 0; idx < n; idx++ {
		if !changed[idx] {
			continue
		}
		bx := int32(idx) % cols
		by := int32(idx) / cols
		// Right and down neighbors suffice: union is symmetric and the
		// row-major scan already visited (and will visit) all others.
		if bx+1 < cols {
			right := idx + 1
			if changed[right] && inflated[idx].Intersects(inflated[right]) {
				uf.union(idx, right)
			}
		}
		if by+1 < rows {
			down := idx + int(cols)
			if changed[down] && inflated[idx].Intersects(inflated[down]) {
				uf.union(idx, down)
			}
		}
	}

	groups := make(map[int]screen.Rect)
	var order []int
	for idx := 0; idx < n; idx++ {
		if !changed[idx] {
			continue
		}
		root := uf.find(idx)
		r := blockRect(idx)
		if existing, ok := groups[root]; ok {
			groups[root] = existing.Union(r)
		} else {
			groups[root] = r
			order = append(order, root)
		}
	}

	// order already ascending since we appended in row-major scan order
	// of first occurrence per root; roots are re-parented to smaller
	// indices so re-sort to guarantee deterministic output order.
	result := make([]screen.Rect, 0, len(order))
	seen := make(map[int]bool)
	for idx := 0; idx < n; idx++ {
		if !changed[idx] {
			continue
		}
		root := uf.find(idx)
		if seen[root] {
			continue
		}
		seen[root] = true
		result = append(result, groups[root])
	}
	return result
}
