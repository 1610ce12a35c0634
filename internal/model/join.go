package model

// JoinKey names one participating slot of a synthetic join: elements
// carrying elementLabel are indexed by the value of propertyName.
type JoinKey struct {
	ElementLabel string
	Property     string
}

// JoinSpec is a synthetic join declaration (spec section 3): equality of
// the designated property values across the participating labels
// materialises a virtual relation carrying JoinLabel.
type JoinSpec struct {
	JoinLabel string
	Keys      []JoinKey
}
