package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/features"
)

func linearArtifact() Artifact {
	coef := make([]float64, features.Length)
	coef[features.Index("co", "last")] = 1.0
	coef[features.Index("co", "slope")] = 2.0
	return Artifact{
		Kind:         KindLinear,
		Version:      "test-1",
		NumFeatures:  features.Length,
		WindowSize:   10,
		FeatureNames: features.Names(),
		Coefficients: coef,
		Intercept:    10,
	}
}

func leaf(id int, v float64) *treeNode {
	return &treeNode{NodeID: id, Leaf: &v}
}

func treeArtifact(split string) Artifact {
	return Artifact{
		Kind:        KindTreeEnsemble,
		Version:     "xgb-test",
		NumFeatures: features.Length,
		WindowSize:  10,
		BaseScore:   0.5,
		Trees: []*treeNode{
			{
				NodeID: 0, Split: split, SplitCondition: 300, Yes: 1, No: 2, Missing: 1,
				Children: []*treeNode{leaf(1, 100), leaf(2, 500)},
			},
			{
				NodeID: 0, Split: "f5", SplitCondition: 50, Yes: 1, No: 2, Missing: 2,
				Children: []*treeNode{leaf(1, -1), leaf(2, 4)},
			},
		},
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestLinearArtifactPredict(t *testing.T) {
	p, err := ParseArtifact(mustJSON(t, linearArtifact()), "linear.json", 10)
	require.NoError(t, err)
	assert.Equal(t, features.Length, p.Dimension())
	assert.Equal(t, KindLinear, p.Kind())
	assert.Equal(t, "test-1", p.Version())

	x := make([]float64, features.Length)
	x[features.Index("co", "last")] = 200
	x[features.Index("co", "slope")] = 5

	got, err := p.Predict(context.Background(), x)
	require.NoError(t, err)
	assert.InDelta(t, 220.0, got, 1e-9) // 10 + 200 + 2*5
}

func TestTreeEnsemblePredict(t *testing.T) {
	for _, split := range []string{"f12", "co_last"} {
		t.Run(split, func(t *testing.T) {
			a := treeArtifact(split)
			if split == "co_last" {
				a.FeatureNames = features.Names()
			}
			p, err := ParseArtifact(mustJSON(t, a), "tree.json", 10)
			require.NoError(t, err)

			x := make([]float64, features.Length)
			x[12] = 250 // co_last < 300 -> 100
			x[5] = 80   // pm25_mean >= 50 -> 4
			got, err := p.Predict(context.Background(), x)
			require.NoError(t, err)
			assert.InDelta(t, 104.5, got, 1e-9)

			x[12] = 900
			x[5] = 10
			got, err = p.Predict(context.Background(), x)
			require.NoError(t, err)
			assert.InDelta(t, 499.5, got, 1e-9)

			x[12] = math.NaN() // missing -> yes branch
			got, err = p.Predict(context.Background(), x)
			require.NoError(t, err)
			assert.InDelta(t, 99.5, got, 1e-9)
		})
	}
}

func TestArtifactContractViolations(t *testing.T) {
	tests := []struct {
		name     string
		artifact func() interface{}
	}{
		{"wrong dimension", func() interface{} {
			a := linearArtifact()
			a.NumFeatures = 29
			return a
		}},
		{"wrong window", func() interface{} {
			a := linearArtifact()
			a.WindowSize = 20
			return a
		}},
		{"feature names reordered", func() interface{} {
			a := linearArtifact()
			names := features.Names()
			names[0], names[1] = names[1], names[0]
			a.FeatureNames = names
			return a
		}},
		{"coefficient count", func() interface{} {
			a := linearArtifact()
			a.Coefficients = a.Coefficients[:29]
			return a
		}},
		{"unknown kind", func() interface{} {
			a := linearArtifact()
			a.Kind = "neural_net"
			return a
		}},
		{"split beyond vector", func() interface{} { return treeArtifact("f30") }},
		{"split on unknown name", func() interface{} { return treeArtifact("ozone_mean") }},
		{"empty ensemble", func() interface{} {
			a := treeArtifact("f1")
			a.Trees = nil
			return a
		}},
		{"missing child", func() interface{} {
			a := treeArtifact("f1")
			a.Trees[0].No = 7
			return a
		}},
		{"cycle", func() interface{} {
			a := treeArtifact("f1")
			a.Trees[0].Children[1] = &treeNode{NodeID: 2, Split: "f2", SplitCondition: 1, Yes: 0, No: 1, Missing: 1}
			return a
		}},
		{"null tree", func() interface{} {
			return json.RawMessage(`{"kind":"tree_ensemble","num_features":30,"window_size":10,"trees":[null]}`)
		}},
		{"null child", func() interface{} {
			a := treeArtifact("f1")
			a.Trees[0].Children[0] = nil
			return a
		}},
		{"not json", func() interface{} { return json.RawMessage(`"nope"`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArtifact(mustJSON(t, tt.artifact()), "bad.json", 10)
			var cerr *ModelContractError
			require.True(t, errors.As(err, &cerr), "expected ModelContractError, got %v", err)
			assert.Equal(t, "bad.json", cerr.Source)
		})
	}
}

func TestPredictRejectsWrongLength(t *testing.T) {
	p, err := ParseArtifact(mustJSON(t, linearArtifact()), "linear.json", 10)
	require.NoError(t, err)

	_, err = p.Predict(context.Background(), make([]float64, 12))
	var cerr *ModelContractError
	assert.True(t, errors.As(err, &cerr))
}

func TestLoadArtifactFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smoke_model.json")
	require.NoError(t, os.WriteFile(path, mustJSON(t, linearArtifact()), 0644))

	p, err := LoadArtifact(path, 10)
	require.NoError(t, err)
	assert.Equal(t, features.Length, p.Dimension())

	_, err = LoadArtifact(filepath.Join(dir, "missing.json"), 10)
	assert.Error(t, err)
}
