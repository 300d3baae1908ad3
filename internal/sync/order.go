package sync

import (
	"encoding/json"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
)

// SortHighlights orders highlights in place for projection into the
// graph. Time mode preserves remote fetch order, which the source
// already returns time-sorted. Location mode orders by position within
// the source document.
func SortHighlights(hs []omnivore.Highlight, order string, pageType omnivore.PageType) {
	if order != "location" {
		return
	}
	sort.SliceStable(hs, func(i, j int) bool {
		return compareLocation(&hs[i], &hs[j], pageType) < 0
	})
}

// compareLocation ranks two highlights by document position. The
// explicit position percentage wins when both carry one; file-type
// items fall back to the patch's page coordinates (top, then left),
// everything else to the character offset decoded from the patch.
func compareLocation(a, b *omnivore.Highlight, pageType omnivore.PageType) int {
	if a.PositionPercent > 0 && b.PositionPercent > 0 {
		switch {
		case a.PositionPercent < b.PositionPercent:
			return -1
		case a.PositionPercent > b.PositionPercent:
			return 1
		}
		return 0
	}

	if pageType == omnivore.PageTypeFile {
		pa, pb := patchPoint(a.Patch), patchPoint(b.Patch)
		if pa.top != pb.top {
			if pa.top < pb.top {
				return -1
			}
			return 1
		}
		switch {
		case pa.left < pb.left:
			return -1
		case pa.left > pb.left:
			return 1
		}
		return 0
	}

	return patchOffset(a.Patch) - patchOffset(b.Patch)
}

// patchOffset decodes the character offset of a highlight from its
// diff-match-patch text. Unparseable or empty patches sort first.
func patchOffset(patch string) int {
	if patch == "" {
		return 0
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patch)
	if err != nil || len(patches) == 0 {
		return 0
	}
	return patches[0].Start1
}

type point struct {
	left, top float64
}

// patchPoint decodes the bounding box a file-reader highlight stores in
// its patch field as JSON.
func patchPoint(patch string) point {
	var parsed struct {
		BBox []float64 `json:"bbox"`
	}
	if err := json.Unmarshal([]byte(patch), &parsed); err != nil || len(parsed.BBox) != 4 {
		return point{}
	}
	return point{left: parsed.BBox[0], top: parsed.BBox[1]}
}
