package discount

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stackNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func percent(code string, cat Category, pct int64) *Discount {
	return &Discount{
		Code:     code,
		Kind:     KindPercentage,
		Value:    decimal.NewFromInt(pct),
		Category: cat,
		CanStack: true,
		Active:   true,
	}
}

func fixed(code string, cat Category, amount int64) *Discount {
	return &Discount{
		Code:     code,
		Kind:     KindFixedAmount,
		Value:    decimal.NewFromInt(amount),
		Category: cat,
		CanStack: true,
		Active:   true,
	}
}

func inputs(ds ...*Discount) []Input {
	out := make([]Input, 0, len(ds))
	for _, d := range ds {
		out = append(out, Input{Code: d.Code, Discount: d})
	}
	return out
}

func appliedCodes(res StackResult) []string {
	var codes []string
	for _, a := range res.Applied {
		codes = append(codes, a.Discount.Code)
	}
	return codes
}

func TestStack_AdjacentCategories(t *testing.T) {
	save10 := percent("SAVE10", CategoryProduct, 10)
	pay5 := fixed("PAY5", CategoryPayment, 50000)

	res := Stack(decimal.NewFromInt(1000000), inputs(save10, pay5), stackNow)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, []string{"SAVE10", "PAY5"}, appliedCodes(res))
	assert.Empty(t, res.Applied[0].StackedWith)
	assert.Equal(t, "SAVE10", res.Applied[1].StackedWith)
	assert.True(t, decimal.NewFromInt(150000).Equal(res.Total), "got %s", res.Total)
	assert.Empty(t, res.Rejected)
	assert.Empty(t, res.Errors)
}

func TestStack_SameCategoryConflict(t *testing.T) {
	low := fixed("LOW", CategoryProduct, 10000)
	high := percent("HIGH", CategoryProduct, 5)

	res := Stack(decimal.NewFromInt(1000000), inputs(low, high), stackNow)

	assert.Equal(t, []string{"HIGH"}, appliedCodes(res))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "LOW", res.Rejected[0].Discount.Code)
	assert.Equal(t, ReasonSameCategory, res.Rejected[0].Reason)
	assert.True(t, decimal.NewFromInt(50000).Equal(res.Total))
}

func TestStack_TieKeepsInputOrder(t *testing.T) {
	first := fixed("FIRST", CategorySeasonal, 100)
	second := fixed("SECOND", CategorySeasonal, 100)

	res := Stack(decimal.NewFromInt(1000), inputs(first, second), stackNow)

	assert.Equal(t, []string{"FIRST"}, appliedCodes(res))
}

func TestStack_BelowMinimum(t *testing.T) {
	d := fixed("BIG", CategoryPromotion, 50000)
	d.MinOrderAmount = decimal.NewFromInt(500000)

	res := Stack(decimal.NewFromInt(300000), inputs(d), stackNow)

	assert.Empty(t, res.Applied)
	assert.True(t, res.Total.IsZero())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "BIG", res.Errors[0].Code)
	assert.ErrorIs(t, res.Errors[0].Err, ErrBelowMinimum)
}

func TestStack_UnknownCode(t *testing.T) {
	res := Stack(decimal.NewFromInt(100), []Input{{Code: "NOPE"}}, stackNow)

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0].Err, ErrNotFound)
	assert.True(t, res.Total.IsZero())
}

func TestStack_NotStackable(t *testing.T) {
	solo := percent("SOLO", CategoryProduct, 10)
	solo.CanStack = false
	pay := fixed("PAY", CategoryPayment, 100)

	res := Stack(decimal.NewFromInt(10000), inputs(solo, pay), stackNow)

	assert.Equal(t, []string{"SOLO"}, appliedCodes(res))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "PAY", res.Rejected[0].Discount.Code)
	assert.Equal(t, ReasonNotStackable, res.Rejected[0].Reason)
}

func TestStack_NonAdjacentNeighbours(t *testing.T) {
	// payment and customer are both adjacent to product but not to each other.
	prod := percent("PROD", CategoryProduct, 10)
	pay := fixed("PAY", CategoryPayment, 100)
	cust := fixed("CUST", CategoryCustomer, 100)

	res := Stack(decimal.NewFromInt(10000), inputs(prod, pay, cust), stackNow)

	assert.Equal(t, []string{"PROD", "PAY"}, appliedCodes(res))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "CUST", res.Rejected[0].Discount.Code)
	assert.Equal(t, ReasonNotStackable, res.Rejected[0].Reason)
}

func TestStack_EncounterOrderDecidesPrimary(t *testing.T) {
	seasonal := fixed("SUMMER", CategorySeasonal, 10)
	product := fixed("PROD", CategoryProduct, 1000)

	res := Stack(decimal.NewFromInt(10000), inputs(seasonal, product), stackNow)

	assert.Equal(t, []string{"SUMMER"}, appliedCodes(res))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonNotStackable, res.Rejected[0].Reason)
}

func TestStack_RemainingExhausted(t *testing.T) {
	big := fixed("BIG", CategoryProduct, 900)
	pay := fixed("PAY", CategoryPayment, 500)
	pay.MinOrderAmount = decimal.NewFromInt(500)

	res := Stack(decimal.NewFromInt(1000), inputs(big, pay), stackNow)

	assert.Equal(t, []string{"BIG"}, appliedCodes(res))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonNotApplicable, res.Rejected[0].Reason)
	assert.True(t, decimal.NewFromInt(900).Equal(res.Total))
}

func TestStack_CapsAtOrderAmount(t *testing.T) {
	prod := fixed("PROD", CategoryProduct, 800)
	pay := fixed("PAY", CategoryPayment, 800)

	res := Stack(decimal.NewFromInt(1000), inputs(prod, pay), stackNow)

	require.Len(t, res.Applied, 2)
	assert.True(t, decimal.NewFromInt(200).Equal(res.Applied[1].Amount))
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Total))
}

func randomDiscounts(r *rand.Rand, n int) []*Discount {
	cats := Categories()
	ds := make([]*Discount, 0, n)
	for i := range n {
		d := &Discount{
			Code:     fmt.Sprintf("C%d", i),
			Category: cats[r.IntN(len(cats))],
			CanStack: r.IntN(4) != 0,
			Active:   true,
		}
		if r.IntN(2) == 0 {
			d.Kind = KindPercentage
			d.Value = decimal.NewFromInt(int64(r.IntN(100) + 1))
		} else {
			d.Kind = KindFixedAmount
			d.Value = decimal.NewFromInt(int64(r.IntN(5000)))
		}
		if r.IntN(3) == 0 {
			d.MaxDiscountAmount = decimal.NewNullDecimal(decimal.NewFromInt(int64(r.IntN(2000))))
		}
		if r.IntN(3) == 0 {
			d.MinOrderAmount = decimal.NewFromInt(int64(r.IntN(3000)))
		}
		ds = append(ds, d)
	}
	return ds
}

func TestStack_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := range 2000 {
		amount := decimal.NewFromInt(int64(r.IntN(10000)))
		ds := randomDiscounts(r, r.IntN(8))

		res := Stack(amount, inputs(ds...), stackNow)

		require.False(t, res.Total.IsNegative(), "iteration %d", i)
		require.True(t, res.Total.LessThanOrEqual(amount), "iteration %d: %s > %s", i, res.Total, amount)
		for x, a := range res.Applied {
			for _, b := range res.Applied[x+1:] {
				require.True(t, CanCombine(a.Discount, b.Discount),
					"iteration %d: %s(%s) with %s(%s)", i,
					a.Discount.Code, a.Discount.Category, b.Discount.Code, b.Discount.Category)
			}
		}
		accounted := len(res.Applied) + len(res.Rejected) + len(res.Errors)
		require.Equal(t, len(ds), accounted, "iteration %d", i)
	}
}
