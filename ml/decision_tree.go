package ml

import (
	"cmp"
	"errors"
	"math"
	"slices"
)

const varianceEpsilon = 1e-12

// RegressionTree is a CART tree stored as a flat node slice; node 0 is the
// root and children are addressed by index.
type RegressionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

type TreeParams struct {
	// MaxDepth <= 0 grows until leaves are pure or too small to split.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
}

type treeBuilder struct {
	features [][]float64
	targets  []float64
	params   TreeParams
	order    []int
}

// Train fits the tree on the rows listed in sample (duplicates allowed, which
// is how bootstrap draws are expressed). A nil sample means every row once.
func (dt *RegressionTree) Train(features [][]float64, targets []float64, sample []int, params TreeParams) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	for _, row := range features {
		if len(row) != width {
			return errors.New("ragged feature matrix")
		}
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}
	if sample == nil {
		sample = make([]int, len(features))
		for i := range sample {
			sample[i] = i
		}
	}
	if len(sample) == 0 {
		return errors.New("empty sample")
	}

	b := &treeBuilder{
		features: features,
		targets:  targets,
		params:   params,
		order:    make([]int, len(sample)),
	}
	dt.Nodes = b.buildNode(append([]int(nil), sample...), 0)
	return nil
}

func (dt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, ErrNotFitted
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

func (b *treeBuilder) buildNode(indices []int, depth int) []TreeNode {
	mean, variance := b.meanVariance(indices)
	leaf := []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      mean,
		Samples:    len(indices),
		IsLeaf:     true,
	}}

	if len(indices) < b.params.MinSamplesSplit ||
		len(indices) < 2*b.params.MinSamplesLeaf ||
		(b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) ||
		variance <= varianceEpsilon {
		return leaf
	}

	feature, threshold, ok := b.findBestSplit(indices)
	if !ok {
		return leaf
	}

	left, right := partition(b.features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}

	leftNodes := b.buildNode(left, depth+1)
	rightNodes := b.buildNode(right, depth+1)

	root := TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		Value:      mean,
		Samples:    len(indices),
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, shiftChildren(leftNodes, 1)...)
	nodes = append(nodes, shiftChildren(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// findBestSplit maximises sumL²/nL + sumR²/nR, which is equivalent to
// minimising the children's summed squared error.
func (b *treeBuilder) findBestSplit(indices []int) (int, float64, bool) {
	n := len(indices)
	total := 0.0
	for _, idx := range indices {
		total += b.targets[idx]
	}

	order := b.order[:n]
	bestFeature := -1
	bestThreshold := 0.0
	bestScore := math.Inf(-1)
	minLeaf := b.params.MinSamplesLeaf

	for feature := 0; feature < len(b.features[indices[0]]); feature++ {
		copy(order, indices)
		slices.SortFunc(order, func(a, c int) int {
			return cmp.Compare(b.features[a][feature], b.features[c][feature])
		})

		leftSum := 0.0
		for i := 0; i < n-1; i++ {
			leftSum += b.targets[order[i]]
			current := b.features[order[i]][feature]
			next := b.features[order[i+1]][feature]
			if current == next {
				continue
			}
			nLeft := i + 1
			nRight := n - nLeft
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nLeft) + rightSum*rightSum/float64(nRight)
			if score > bestScore {
				bestScore = score
				bestFeature = feature
				bestThreshold = current + (next-current)/2
				// midpoint can round up to next for adjacent floats
				if bestThreshold >= next {
					bestThreshold = current
				}
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) meanVariance(indices []int) (float64, float64) {
	if len(indices) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, idx := range indices {
		sum += b.targets[idx]
	}
	mean := sum / float64(len(indices))
	variance := 0.0
	for _, idx := range indices {
		diff := b.targets[idx] - mean
		variance += diff * diff
	}
	return mean, variance / float64(len(indices))
}

func partition(features [][]float64, indices []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, idx := range indices {
		if features[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	return left, right
}

func shiftChildren(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}
