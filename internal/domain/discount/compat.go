package discount

// compatible is the category adjacency table. It is symmetric and not
// transitive: payment and customer discounts both combine with product
// discounts but not with each other.
var compatible = map[Category]map[Category]struct{}{
	CategoryProduct:   {CategoryPayment: {}, CategoryCustomer: {}},
	CategoryPayment:   {CategoryProduct: {}, CategorySeasonal: {}},
	CategoryCustomer:  {CategoryProduct: {}, CategoryPromotion: {}},
	CategorySeasonal:  {CategoryPayment: {}, CategoryPromotion: {}},
	CategoryPromotion: {CategoryCustomer: {}, CategorySeasonal: {}},
}

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryProduct,
		CategoryPayment,
		CategoryCustomer,
		CategorySeasonal,
		CategoryPromotion,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := compatible[c]
	return ok
}

// Compatible reports whether discounts of categories a and b may be applied
// to the same order.
func Compatible(a, b Category) bool {
	_, ok := compatible[a][b]
	return ok
}

// CanCombine reports whether a and b may be applied together: their
// categories are adjacent and both allow stacking.
func CanCombine(a, b *Discount) bool {
	return a.CanStack && b.CanStack && Compatible(a.Category, b.Category)
}
