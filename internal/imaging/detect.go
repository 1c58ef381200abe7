/**
 * Text region detection
 *
 * Connected-component analysis over a binary image. Components are grown
 * into bounding boxes, noise-filtered, merged into blocks when their boxes
 * sit close together, and returned in deterministic reading order.
 */

package imaging

import (
	"image"
	"sort"

	"github.com/pagelens/ocr-worker/internal/config"
)

// Region is an axis-aligned bounding box identifying a candidate text area.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the region has non-positive dimensions.
func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// regionFromRect builds a Region from a rectangle.
func regionFromRect(rect image.Rectangle) Region {
	return Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
}

// Detector finds candidate text regions in binary images
type Detector struct {
	cfg config.ImageProcessingConfig
}

// NewDetector creates a detector with the given parameters
func NewDetector(cfg config.ImageProcessingConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns the bounding boxes of candidate text blocks in a binary
// image. An image with no foreground pixels yields an empty slice, not an
// error. Regions are ordered top-to-bottom then left-to-right, tie-broken
// by width then height.
func (d *Detector) Detect(binary *image.Gray) []Region {
	boxes := d.components(binary)

	// Drop specks below the configured minimum size
	filtered := boxes[:0]
	for _, b := range boxes {
		if b.Dx() >= d.cfg.MinRegionWidth && b.Dy() >= d.cfg.MinRegionHeight {
			filtered = append(filtered, b)
		}
	}

	merged := mergeBoxes(filtered, d.cfg.RegionMergeGap)

	regions := make([]Region, 0, len(merged))
	for _, b := range merged {
		regions = append(regions, regionFromRect(b))
	}

	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Width != b.Width {
			return a.Width < b.Width
		}
		return a.Height < b.Height
	})

	if d.cfg.MaxRegions > 0 && len(regions) > d.cfg.MaxRegions {
		regions = regions[:d.cfg.MaxRegions]
	}

	return regions
}

// components labels 4-connected foreground components and returns one
// bounding box per component. Iterative flood fill; recursion would
// overflow on large filled areas.
func (d *Detector) components(binary *image.Gray) []image.Rectangle {
	bounds := binary.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	visited := make([]bool, w*h)
	var boxes []image.Rectangle
	var stack []image.Point

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if visited[y*w+x] {
				continue
			}
			if binary.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y != Foreground {
				visited[y*w+x] = true
				continue
			}

			// New component: flood fill and track its extent
			minX, minY, maxX, maxY := x, y, x, y
			stack = stack[:0]
			stack = append(stack, image.Pt(x, y))
			visited[y*w+x] = true

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				if p.X < minX {
					minX = p.X
				}
				if p.X > maxX {
					maxX = p.X
				}
				if p.Y < minY {
					minY = p.Y
				}
				if p.Y > maxY {
					maxY = p.Y
				}

				for _, n := range [4]image.Point{
					{p.X - 1, p.Y}, {p.X + 1, p.Y}, {p.X, p.Y - 1}, {p.X, p.Y + 1},
				} {
					if n.X < 0 || n.X >= w || n.Y < 0 || n.Y >= h {
						continue
					}
					idx := n.Y*w + n.X
					if visited[idx] {
						continue
					}
					visited[idx] = true
					if binary.GrayAt(bounds.Min.X+n.X, bounds.Min.Y+n.Y).Y == Foreground {
						stack = append(stack, n)
					}
				}
			}

			boxes = append(boxes, image.Rect(
				bounds.Min.X+minX,
				bounds.Min.Y+minY,
				bounds.Min.X+maxX+1,
				bounds.Min.Y+maxY+1,
			))
		}
	}

	return boxes
}

// mergeBoxes repeatedly unions boxes whose gap-inflated rectangles overlap,
// until no further merges happen. Characters on the same line collapse into
// one text block this way.
func mergeBoxes(boxes []image.Rectangle, gap int) []image.Rectangle {
	if gap <= 0 || len(boxes) < 2 {
		return boxes
	}

	merged := append([]image.Rectangle(nil), boxes...)
	for {
		changed := false
		for i := 0; i < len(merged); i++ {
			for j := i + 1; j < len(merged); j++ {
				inflated := merged[i].Inset(-gap)
				if inflated.Overlaps(merged[j]) {
					merged[i] = merged[i].Union(merged[j])
					merged = append(merged[:j], merged[j+1:]...)
					changed = true
					j--
				}
			}
		}
		if !changed {
			return merged
		}
	}
}
