package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/features"
)

const (
	KindLinear       = "linear"
	KindTreeEnsemble = "tree_ensemble"
)

// Artifact is the on-disk form of a frozen regression model
type Artifact struct {
	Kind         string   `json:"kind"`
	Version      string   `json:"version"`
	NumFeatures  int      `json:"num_features"`
	WindowSize   int      `json:"window_size"`
	FeatureNames []string `json:"feature_names,omitempty"`

	// linear
	Coefficients []float64 `json:"coefficients,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`

	// tree_ensemble, in the XGBoost JSON dump layout
	BaseScore float64     `json:"base_score,omitempty"`
	Trees     []*treeNode `json:"trees,omitempty"`
}

// ArtifactPredictor evaluates a loaded artifact in-process
type ArtifactPredictor struct {
	source    string
	artifact  Artifact
	ensemble  []compiledTree
	dimension int
}

// LoadArtifact reads and validates a frozen artifact against the feature
// layout and the pipeline window size.
func LoadArtifact(path string, windowSize int) (*ArtifactPredictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictor artifact: %v", err)
	}
	return ParseArtifact(data, path, windowSize)
}

// ParseArtifact validates an artifact held in memory. source names it in errors.
func ParseArtifact(data []byte, source string, windowSize int) (*ArtifactPredictor, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, contractErrorf(source, "artifact is not valid JSON: %v", err)
	}

	if a.NumFeatures != features.Length {
		return nil, contractErrorf(source, "artifact declares %d features, extractor produces %d", a.NumFeatures, features.Length)
	}
	if a.WindowSize != windowSize {
		return nil, contractErrorf(source, "artifact trained on window %d, pipeline window is %d", a.WindowSize, windowSize)
	}
	if len(a.FeatureNames) > 0 {
		want := features.Names()
		if len(a.FeatureNames) != len(want) {
			return nil, contractErrorf(source, "artifact lists %d feature names, want %d", len(a.FeatureNames), len(want))
		}
		for i := range want {
			if a.FeatureNames[i] != want[i] {
				return nil, contractErrorf(source, "feature %d is %q, layout expects %q", i, a.FeatureNames[i], want[i])
			}
		}
	}

	p := &ArtifactPredictor{source: source, artifact: a, dimension: a.NumFeatures}

	switch a.Kind {
	case KindLinear:
		if len(a.Coefficients) != a.NumFeatures {
			return nil, contractErrorf(source, "linear artifact has %d coefficients, want %d", len(a.Coefficients), a.NumFeatures)
		}
	case KindTreeEnsemble:
		if len(a.Trees) == 0 {
			return nil, contractErrorf(source, "tree ensemble has no trees")
		}
		resolve := featureResolver(a.FeatureNames)
		for i, root := range a.Trees {
			tree, err := compileTree(root, a.NumFeatures, resolve)
			if err != nil {
				return nil, contractErrorf(source, "tree %d: %v", i, err)
			}
			p.ensemble = append(p.ensemble, tree)
		}
	default:
		return nil, contractErrorf(source, "unsupported artifact kind %q", a.Kind)
	}

	klog.V(2).InfoS("Loaded predictor artifact",
		"source", source,
		"kind", a.Kind,
		"version", a.Version,
		"features", a.NumFeatures,
		"windowSize", a.WindowSize,
		"trees", len(p.ensemble))

	return p, nil
}

// Dimension returns the feature vector length the artifact accepts
func (p *ArtifactPredictor) Dimension() int {
	return p.dimension
}

// Kind returns the artifact kind
func (p *ArtifactPredictor) Kind() string {
	return p.artifact.Kind
}

// Version returns the artifact version label
func (p *ArtifactPredictor) Version() string {
	return p.artifact.Version
}

// Predict evaluates the artifact on one feature vector
func (p *ArtifactPredictor) Predict(ctx context.Context, x []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(x) != p.dimension {
		return 0, contractErrorf(p.source, "got %d features, artifact expects %d", len(x), p.dimension)
	}

	switch p.artifact.Kind {
	case KindLinear:
		y := p.artifact.Intercept
		for i, c := range p.artifact.Coefficients {
			y += c * x[i]
		}
		return y, nil
	default:
		y := p.artifact.BaseScore
		for _, tree := range p.ensemble {
			y += tree.eval(x)
		}
		return y, nil
	}
}

// featureResolver maps a split feature reference ("f12" or a layout name) to
// its vector index.
func featureResolver(names []string) func(string) (int, bool) {
	byName := make(map[string]int, len(names))
	for i, n := range names {
		byName[n] = i
	}
	return func(ref string) (int, bool) {
		if i, ok := byName[ref]; ok {
			return i, true
		}
		if strings.HasPrefix(ref, "f") {
			if i, err := strconv.Atoi(ref[1:]); err == nil {
				return i, true
			}
		}
		return 0, false
	}
}

// treeNode is one node of an XGBoost JSON dump
type treeNode struct {
	NodeID         int         `json:"nodeid"`
	Split          string      `json:"split,omitempty"`
	SplitCondition float64     `json:"split_condition,omitempty"`
	Yes            int         `json:"yes,omitempty"`
	No             int         `json:"no,omitempty"`
	Missing        int         `json:"missing,omitempty"`
	Children       []*treeNode `json:"children,omitempty"`
	Leaf           *float64    `json:"leaf,omitempty"`
}

type compiledNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	yes       int
	no        int
	missing   int
}

// compiledTree is a flattened tree indexed by node id
type compiledTree struct {
	nodes map[int]compiledNode
	root  int
}

func compileTree(root *treeNode, numFeatures int, resolve func(string) (int, bool)) (compiledTree, error) {
	if root == nil {
		return compiledTree{}, fmt.Errorf("empty tree")
	}
	t := compiledTree{nodes: make(map[int]compiledNode), root: root.NodeID}
	if err := t.add(root, numFeatures, resolve); err != nil {
		return t, err
	}
	for id, n := range t.nodes {
		if n.leaf {
			continue
		}
		for _, child := range []int{n.yes, n.no, n.missing} {
			if _, ok := t.nodes[child]; !ok {
				return t, fmt.Errorf("node %d references missing child %d", id, child)
			}
		}
	}
	if err := t.checkAcyclic(t.root, map[int]bool{}); err != nil {
		return t, err
	}
	return t, nil
}

func (t compiledTree) checkAcyclic(id int, path map[int]bool) error {
	if path[id] {
		return fmt.Errorf("cycle through node %d", id)
	}
	n := t.nodes[id]
	if n.leaf {
		return nil
	}
	path[id] = true
	defer delete(path, id)
	for _, child := range []int{n.yes, n.no, n.missing} {
		if err := t.checkAcyclic(child, path); err != nil {
			return err
		}
	}
	return nil
}

func (t *compiledTree) add(n *treeNode, numFeatures int, resolve func(string) (int, bool)) error {
	if n == nil {
		return fmt.Errorf("empty node")
	}
	if _, dup := t.nodes[n.NodeID]; dup {
		return fmt.Errorf("duplicate node id %d", n.NodeID)
	}
	if n.Leaf != nil {
		t.nodes[n.NodeID] = compiledNode{leaf: true, value: *n.Leaf}
		return nil
	}

	idx, ok := resolve(n.Split)
	if !ok {
		return fmt.Errorf("node %d splits on unknown feature %q", n.NodeID, n.Split)
	}
	if idx < 0 || idx >= numFeatures {
		return fmt.Errorf("node %d splits on feature %d, vector has %d", n.NodeID, idx, numFeatures)
	}
	missing := n.Missing
	if missing == 0 && n.Yes != 0 {
		missing = n.Yes
	}
	t.nodes[n.NodeID] = compiledNode{
		feature:   idx,
		threshold: n.SplitCondition,
		yes:       n.Yes,
		no:        n.No,
		missing:   missing,
	}
	for _, c := range n.Children {
		if err := t.add(c, numFeatures, resolve); err != nil {
			return err
		}
	}
	return nil
}

func (t compiledTree) eval(x []float64) float64 {
	id := t.root
	for {
		n := t.nodes[id]
		if n.leaf {
			return n.value
		}
		v := x[n.feature]
		switch {
		case math.IsNaN(v):
			id = n.missing
		case v < n.threshold:
			id = n.yes
		default:
			id = n.no
		}
	}
}
