package interpreter

import (
	"testing"

	"browsernerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"submit", "button"}, tokenize("the Submit button"))
	assert.Equal(t, []string{"email"}, tokenize(`"email"`))
	assert.Nil(t, tokenize("the a an"))
}

func TestScoreElement(t *testing.T) {
	t.Run("exact word hit scores full", func(t *testing.T) {
		e := types.Element{Tag: "button", Text: "Submit order"}
		got := scoreElement([]string{"submit"}, e)
		assert.InDelta(t, exactHitScore, got, 1e-9)
	})

	t.Run("substring hit scores partial", func(t *testing.T) {
		e := types.Element{Tag: "input", ID: "subscription-toggle"}
		got := scoreElement([]string{"sub"}, e)
		assert.InDelta(t, partialHitScore, got, 1e-9)
	})

	t.Run("category bonus applies once", func(t *testing.T) {
		e := types.Element{Tag: "input", Placeholder: "Search products"}
		// "search" hits the placeholder exactly and matches the input tag.
		got := scoreElement([]string{"search"}, e)
		assert.InDelta(t, exactHitScore+categoryBonus, got, 1e-9)
	})

	t.Run("no hit scores zero", func(t *testing.T) {
		e := types.Element{Tag: "a", Text: "Privacy policy"}
		assert.Zero(t, scoreElement([]string{"checkout"}, e))
	})
}

func TestGround(t *testing.T) {
	snap := &types.PageSnapshot{
		URL: "https://shop.example/cart",
		Elements: []types.Element{
			{Index: 0, Tag: "input", Placeholder: "Search products", Name: "q"},
			{Index: 1, Tag: "button", Text: "Checkout"},
			{Index: 2, Tag: "a", Text: "Help"},
		},
	}

	t.Run("clear winner", func(t *testing.T) {
		scored, status := ground("checkout button", snap)
		require.Equal(t, groundOK, status)
		assert.Equal(t, 1, scored[0].Element.Index)
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, status := ground("newsletter signup", snap)
		assert.Equal(t, groundEmpty, status)
	})

	t.Run("two equal candidates are ambiguous", func(t *testing.T) {
		twin := &types.PageSnapshot{Elements: []types.Element{
			{Index: 0, Tag: "button", Text: "Delete"},
			{Index: 1, Tag: "button", Text: "Delete"},
		}}
		scored, status := ground("delete", twin)
		assert.Equal(t, groundAmbiguous, status)
		assert.Len(t, scored, 2)
	})

	t.Run("weak best is below threshold", func(t *testing.T) {
		weak := &types.PageSnapshot{Elements: []types.Element{
			{Index: 0, Tag: "div", Class: "promotions"},
		}}
		// One partial hit out of many tokens lands under the threshold.
		_, status := ground("quarterly revenue promo export settings", weak)
		assert.Equal(t, groundWeak, status)
	})
}

func TestTopN(t *testing.T) {
	scored := []ScoredCandidate{{Score: 3}, {Score: 2}, {Score: 1}}
	assert.Len(t, topN(scored, 2), 2)
	assert.Len(t, topN(scored, 5), 3)
}
