package discount

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Rejection reasons reported by Stack.
const (
	ReasonSameCategory  = "same-category conflict"
	ReasonNotStackable  = "category not stackable with already-applied categories"
	ReasonNotApplicable = "not applicable to remaining amount"
)

// Input is a discount code as entered by the caller together with the
// discount it resolved to. Discount is nil when the code does not exist.
type Input struct {
	Code     string
	Discount *Discount
}

// Applied is a discount the stacker chose to apply.
type Applied struct {
	Discount *Discount
	Amount   decimal.Decimal
	// StackedWith is the code of the primary discount this one was stacked
	// onto, empty for primaries.
	StackedWith string
}

// Rejection is a valid discount the stacker did not apply.
type Rejection struct {
	Discount *Discount
	Reason   string
}

// CodeError is a code that failed resolution or validation before stacking.
type CodeError struct {
	Code string
	Err  error
}

// StackResult is the outcome of Stack.
type StackResult struct {
	Total    decimal.Decimal
	Applied  []Applied
	Rejected []Rejection
	Errors   []CodeError
}

type candidate struct {
	discount *Discount
	amount   decimal.Decimal
}

// Stack greedily picks which of the given discounts apply to an order of the
// given amount.
//
// Candidates are grouped by category and ordered by amount, highest first;
// ties keep input order. Categories are visited in the order their first
// member appears in the input. The top candidate of each visited category
// becomes a primary, and the top candidates of adjacent categories are
// stacked onto it. A discount is only ever applied when it can be combined
// with every discount applied before it.
//
// Stack never fails: codes that are missing or invalid land in Errors and
// valid codes that lose out land in Rejected.
func Stack(amount decimal.Decimal, inputs []Input, now time.Time) StackResult {
	var (
		res    StackResult
		order  []Category
		groups = map[Category][]candidate{}
	)
	for _, in := range inputs {
		d := in.Discount
		if d == nil {
			res.Errors = append(res.Errors, CodeError{Code: in.Code, Err: ErrNotFound})
			continue
		}
		if err := d.Check(amount, now); err != nil {
			res.Errors = append(res.Errors, CodeError{Code: in.Code, Err: err})
			continue
		}
		if _, ok := groups[d.Category]; !ok {
			order = append(order, d.Category)
		}
		groups[d.Category] = append(groups[d.Category], candidate{
			discount: d,
			amount:   d.AmountFor(amount),
		})
	}
	for _, c := range order {
		slices.SortStableFunc(groups[c], func(a, b candidate) int {
			return b.amount.Cmp(a.amount)
		})
	}

	remaining := amount
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	processed := make(map[Category]bool, len(order))

	// fits reports whether c may join the applied set at the current
	// remaining amount.
	fits := func(c candidate) (bool, string) {
		for _, a := range res.Applied {
			if !CanCombine(a.Discount, c.discount) {
				return false, ReasonNotStackable
			}
		}
		if !remaining.IsPositive() || c.discount.Check(remaining, now) != nil {
			return false, ReasonNotApplicable
		}
		return true, ""
	}
	apply := func(c candidate, stackedWith string) {
		v := decimal.Min(c.amount, remaining)
		remaining = remaining.Sub(v)
		res.Applied = append(res.Applied, Applied{
			Discount:    c.discount,
			Amount:      v,
			StackedWith: stackedWith,
		})
	}
	reject := func(cs []candidate, reason string) {
		for _, c := range cs {
			res.Rejected = append(res.Rejected, Rejection{Discount: c.discount, Reason: reason})
		}
	}

	for _, primaryCat := range order {
		if processed[primaryCat] {
			continue
		}
		processed[primaryCat] = true
		group := groups[primaryCat]
		primary := group[0]
		if ok, reason := fits(primary); !ok {
			reject(group, reason)
			continue
		}
		apply(primary, "")
		reject(group[1:], ReasonSameCategory)

		for _, cat := range order {
			if processed[cat] || !Compatible(primaryCat, cat) {
				continue
			}
			top := groups[cat][0]
			if ok, _ := fits(top); !ok {
				// Left for the outer loop, which records why.
				continue
			}
			processed[cat] = true
			apply(top, primary.discount.Code)
			reject(groups[cat][1:], ReasonSameCategory)
		}
	}

	total := decimal.Zero
	for _, a := range res.Applied {
		total = total.Add(a.Amount)
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	res.Total = decimal.Min(total, amount)
	return res
}
