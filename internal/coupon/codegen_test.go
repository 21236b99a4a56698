package coupon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCode(t *testing.T) {
	code, err := RandomCode("SALE-", 8)
	require.NoError(t, err)
	assert.Len(t, code, 13)
	assert.Equal(t, "SALE-", code[:5])

	for _, ch := range code[5:] {
		assert.Contains(t, codeAlphabet, string(ch))
	}
}

func TestGenerator_Reserve(t *testing.T) {
	repo := newMemRepo()
	g := NewGenerator(repo, "", 8, 100)

	c := activeCoupon("launch10")
	require.NoError(t, g.Reserve(context.Background(), c))
	assert.Equal(t, "LAUNCH10", c.Code)
	assert.NotEmpty(t, c.ID)

	// Same code again, any casing: the storage constraint wins.
	dup := activeCoupon("Launch10")
	err := g.Reserve(context.Background(), dup)
	require.ErrorIs(t, err, ErrCodeTaken)
}

func TestGenerator_Reserve_InvalidDefinition(t *testing.T) {
	g := NewGenerator(newMemRepo(), "", 8, 100)

	c := activeCoupon("BADPCT")
	c.DiscountValue = dec("250")
	err := g.Reserve(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 100")
}

func TestGenerator_Generate(t *testing.T) {
	repo := newMemRepo()
	g := NewGenerator(repo, "BULK-", 8, 10_000)

	template := *activeCoupon("IGNORED")
	template.ID = ""

	codes, err := g.Generate(context.Background(), 200, 8, template)
	require.NoError(t, err)
	require.Len(t, codes, 200)

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		_, dup := seen[code]
		assert.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}

		stored, err := repo.FindByCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, stored.Status)
	}
}

func TestGenerator_Generate_SurvivesCollisions(t *testing.T) {
	repo := newMemRepo()
	// A generator with a tiny keyspace: 1-char codes over a 31-char
	// alphabet. Asking for a handful must still succeed via retries.
	g := NewGenerator(repo, "", 1, 100)

	template := *activeCoupon("IGNORED")
	template.ID = ""

	codes, err := g.Generate(context.Background(), 5, 2, template)
	require.NoError(t, err)
	assert.Len(t, codes, 5)
}
