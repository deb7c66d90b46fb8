package abtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

func newManager() *store.Manager {
	return store.NewManager(kvstore.NewMemory(0))
}

func TestAssignmentIsStickyAndDeterministic(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(DefaultExperiments())
	require.NoError(t, err)

	m := newManager()
	first, err := e.Assign(ctx, m, "visitor-1", rules.Facts{}, "hero_headline")
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := e.Assign(ctx, m, "visitor-1", rules.Facts{}, "hero_headline")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// a fresh device store with the same visitor id hashes to the same bucket
	other, err := e.Assign(ctx, newManager(), "visitor-1", rules.Facts{}, "hero_headline")
	require.NoError(t, err)
	assert.Equal(t, first.ID, other.ID)

	x, _ := e.Experiment("hero_headline")
	total := 0
	for _, v := range x.Variants {
		total += v.Performance.Impressions
	}
	assert.Equal(t, 2, total, "one impression per device store")

	_, err = e.Assign(ctx, m, "visitor-1", rules.Facts{}, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBucketFollowsWeights(t *testing.T) {
	variants := []models.Variant{{ID: "a", Weight: 3}, {ID: "b", Weight: 1}}
	counts := make([]int, 2)
	for i := 0; i < 4000; i++ {
		counts[Bucket(fmt.Sprintf("visitor-%d", i), "exp", variants)]++
	}
	assert.InDelta(t, 3000, counts[0], 200)
	assert.InDelta(t, 1000, counts[1], 200)
}

func TestTargetingExcludesVisitors(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(DefaultExperiments())
	require.NoError(t, err)

	v, err := e.Assign(ctx, newManager(), "v1", rules.Facts{}, "pricing_layout")
	require.NoError(t, err)
	assert.Nil(t, v)

	f := rules.Facts{Behavior: &models.BehaviorPattern{PricingViews: 1}}
	v, err = e.Assign(ctx, newManager(), "v1", f, "pricing_layout")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestConvertCountsOncePerVisitor(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(DefaultExperiments())
	require.NoError(t, err)
	m := newManager()

	ok, err := e.Convert(ctx, m, "hero_headline")
	require.NoError(t, err)
	assert.False(t, ok, "not assigned yet")

	v, err := e.Assign(ctx, m, "v1", rules.Facts{}, "hero_headline")
	require.NoError(t, err)
	clicked, err := e.RecordClick(ctx, m, "hero_headline")
	require.NoError(t, err)
	assert.True(t, clicked)

	ok, err = e.Convert(ctx, m, "hero_headline")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Convert(ctx, m, "hero_headline")
	require.NoError(t, err)
	assert.False(t, ok)

	x, _ := e.Experiment("hero_headline")
	for _, variant := range x.Variants {
		if variant.ID == v.ID {
			assert.Equal(t, 1, variant.Performance.Conversions)
			assert.Equal(t, 1, variant.Performance.Clicks)
		}
	}
}

func TestRecordClickNeedsAssignment(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(DefaultExperiments())
	require.NoError(t, err)

	clicked, err := e.RecordClick(ctx, newManager(), "hero_headline")
	require.NoError(t, err)
	assert.False(t, clicked)

	_, err = e.RecordClick(ctx, newManager(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareZTest(t *testing.T) {
	r := Compare(
		models.Performance{Impressions: 1000, Conversions: 100},
		models.Performance{Impressions: 1000, Conversions: 150},
	)
	assert.InDelta(t, 3.38, r.ZScore, 0.01)
	assert.Less(t, r.PValue, 0.001)
	assert.True(t, r.Significant)
	assert.InDelta(t, 0.5, r.Lift, 1e-9)

	weak := Compare(
		models.Performance{Impressions: 100, Conversions: 10},
		models.Performance{Impressions: 100, Conversions: 12},
	)
	assert.False(t, weak.Significant)

	empty := Compare(models.Performance{}, models.Performance{Impressions: 10})
	assert.Equal(t, 1.0, empty.PValue)
	assert.False(t, empty.Significant)
}

func TestResultsPickWinner(t *testing.T) {
	e, err := NewEngine([]models.Experiment{{
		ID: "x",
		Variants: []models.Variant{
			{ID: "control", Control: true, Performance: models.Performance{Impressions: 1000, Conversions: 100}},
			{ID: "worse", Performance: models.Performance{Impressions: 1000, Conversions: 50}},
			{ID: "better", Performance: models.Performance{Impressions: 1000, Conversions: 160}},
		},
	}})
	require.NoError(t, err)

	res, err := e.Results("x")
	require.NoError(t, err)
	assert.Equal(t, "control", res.Control)
	assert.Len(t, res.Variants, 2)
	// "worse" is significant too, but below the control
	assert.Equal(t, "better", res.Winner)

	x, _ := e.Experiment("x")
	assert.Equal(t, "better", x.Winner)
	assert.Equal(t, models.ExperimentRunning, x.Status)
}
