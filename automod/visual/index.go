package visual

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// number of random samples used to pick each k-d tree split
const pivotSamples = 100

// A single descriptor row, tagged with the index of the corpus image it belongs to.
type descPoint struct {
	vec   []float32
	image int
}

var _ kdtree.Comparable = descPoint{}

func (p descPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(descPoint)
	return float64(p.vec[d]) - float64(q.vec[d])
}

func (p descPoint) Dims() int {
	return len(p.vec)
}

// squared euclidean distance, as kdtree expects
func (p descPoint) Distance(c kdtree.Comparable) float64 {
	return sqDist(p.vec, c.(descPoint).vec)
}

func sqDist(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

type descPoints []descPoint

var _ kdtree.Interface = descPoints{}

func (p descPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p descPoints) Len() int                      { return len(p) }
func (p descPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p descPoints) Pivot(d kdtree.Dim) int {
	return descPlane{descPoints: p, Dim: d}.Pivot()
}

type descPlane struct {
	kdtree.Dim
	descPoints
}

func (p descPlane) Less(i, j int) bool {
	return p.descPoints[i].vec[p.Dim] < p.descPoints[j].vec[p.Dim]
}
func (p descPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfRandoms(p, pivotSamples))
}
func (p descPlane) Slice(start, end int) kdtree.SortSlicer {
	p.descPoints = p.descPoints[start:end]
	return p
}
func (p descPlane) Swap(i, j int) {
	p.descPoints[i], p.descPoints[j] = p.descPoints[j], p.descPoints[i]
}

type neighbor struct {
	image int
	dist  float64
}

// Approximate nearest-neighbor index over every descriptor of a set of corpus images.
type groupIndex struct {
	tree *kdtree.Tree
	size int
}

func newGroupIndex(corpus []*Descriptors) *groupIndex {
	var pts descPoints
	for img, d := range corpus {
		for r := 0; r < d.Len(); r++ {
			pts = append(pts, descPoint{vec: d.Row(r), image: img})
		}
	}
	if len(pts) == 0 {
		return &groupIndex{}
	}
	return &groupIndex{
		tree: kdtree.New(pts, false),
		size: len(pts),
	}
}

// Returns the two nearest neighbors of a query descriptor (euclidean distance), or fewer if the index is that small.
func (gi *groupIndex) nearest2(q []float32) []neighbor {
	if gi.tree == nil {
		return nil
	}
	keep := kdtree.NewNKeeper(2)
	gi.tree.NearestSet(keep, descPoint{vec: q, image: -1})
	out := make([]neighbor, 0, 2)
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, neighbor{image: cd.Comparable.(descPoint).image, dist: math.Sqrt(cd.Dist)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// Exact two nearest neighbor distances of q among all rows of d. ok is false if d has fewer than two rows.
func bruteNearest2(q []float32, d *Descriptors) (best, second float64, ok bool) {
	if d.Len() < 2 {
		return 0, 0, false
	}
	best, second = math.Inf(1), math.Inf(1)
	for r := 0; r < d.Len(); r++ {
		dist := sqDist(q, d.Row(r))
		if dist < best {
			best, second = dist, best
		} else if dist < second {
			second = dist
		}
	}
	return math.Sqrt(best), math.Sqrt(second), true
}
