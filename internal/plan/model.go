package plan

import "errors"

var (
	ErrUnknownPlan       = errors.New("unknown_plan")
	ErrSalesAssistedPlan = errors.New("sales_assisted_plan")
)

// Category distinguishes self-serve plans from plans that require a sales
// contact before checkout.
type Category string

const (
	CategorySelfServe     Category = "self_serve"
	CategorySalesAssisted Category = "sales_assisted"
)

// Config is the immutable pricing and fulfillment metadata for one plan.
type Config struct {
	ID               string
	DisplayName      string
	AmountMinorUnits int64
	Currency         string
	MinutesGranted   int
	Category         Category
}
