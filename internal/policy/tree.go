package policy

import (
	"context"
	"math/rand"
	"sort"
)

// #region tree-node

// TreeNode is one node of a fitted decision tree in flat form.
// Feature is -1 on leaves. Samples go left when value <= Threshold.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Label     int     `json:"label"`
}

// #endregion tree-node

// #region builder

const giniEpsilon = 1e-12

type treeBuilder struct {
	ctx             context.Context
	x               [][]float64
	y               []int
	classes         int
	features        int
	maxDepth        int
	minSamplesSplit int
	rng             *rand.Rand
	nodes           []TreeNode
}

// fitTree grows a CART tree with Gini impurity. Candidate features are
// visited in an order drawn from the seeded rng at every node; among splits
// of equal impurity the first visited wins, and within a feature the lowest
// threshold wins. Equal inputs and seed therefore yield an identical tree.
func fitTree(ctx context.Context, x [][]float64, y []int, classes int, maxDepth, minSamplesSplit int, seed int64) ([]TreeNode, error) {
	b := &treeBuilder{
		ctx:             ctx,
		x:               x,
		y:               y,
		classes:         classes,
		maxDepth:        maxDepth,
		minSamplesSplit: minSamplesSplit,
		rng:             rand.New(rand.NewSource(seed)),
	}
	if len(x) > 0 {
		b.features = len(x[0])
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	if _, err := b.build(idx, 0); err != nil {
		return nil, err
	}
	return b.nodes, nil
}

func (b *treeBuilder) build(idx []int, depth int) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	counts := b.countClasses(idx)
	self := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Feature: -1, Label: majority(counts)})

	parentGini := gini(counts, len(idx))
	if parentGini <= giniEpsilon ||
		len(idx) < b.minSamplesSplit ||
		(b.maxDepth > 0 && depth >= b.maxDepth) {
		return self, nil
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return self, nil
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l, err := b.build(left, depth+1)
	if err != nil {
		return 0, err
	}
	r, err := b.build(right, depth+1)
	if err != nil {
		return 0, err
	}
	b.nodes[self] = TreeNode{Feature: feature, Threshold: threshold, Left: l, Right: r, Label: b.nodes[self].Label}
	return self, nil
}

// #endregion builder

// #region split

func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	bestFeature, bestThreshold := -1, 0.0
	bestScore := 0.0
	found := false

	order := b.rng.Perm(b.features)
	sorted := make([]int, len(idx))
	n := float64(len(idx))

	for _, f := range order {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		leftCounts := make([]int, b.classes)
		rightCounts := b.countClasses(sorted)
		for k := 0; k < len(sorted)-1; k++ {
			cls := b.y[sorted[k]]
			leftCounts[cls]++
			rightCounts[cls]--

			cur, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if cur == next {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			score := (nl*gini(leftCounts, k+1) + nr*gini(rightCounts, len(sorted)-k-1)) / n
			if !found || score < bestScore-giniEpsilon {
				found = true
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (b *treeBuilder) countClasses(idx []int) []int {
	counts := make([]int, b.classes)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	sum := 0.0
	t := float64(total)
	for _, c := range counts {
		p := float64(c) / t
		sum += p * p
	}
	return 1 - sum
}

// majority returns the most frequent label; ties go to the lowest label.
func majority(counts []int) int {
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return best
}

// #endregion split

// #region predict

func predict(nodes []TreeNode, vec []float64) int {
	i := 0
	for nodes[i].Feature >= 0 {
		if vec[nodes[i].Feature] <= nodes[i].Threshold {
			i = nodes[i].Left
		} else {
			i = nodes[i].Right
		}
	}
	return nodes[i].Label
}

// #endregion predict
