package plan

import "strings"

// Resolver maps a plan identifier to its catalog entry.
type Resolver interface {
	Resolve(planID string) (Config, error)
}

// Catalog is the authoritative plan table. Both the purchase orchestrator and
// the event reconciler resolve through it, so minutes and price can never
// drift between the two paths.
type Catalog struct {
	plans map[string]Config
}

func NewCatalog() *Catalog {
	return &Catalog{plans: defaultPlans()}
}

func (c *Catalog) Resolve(planID string) (Config, error) {
	cfg, ok := c.plans[strings.ToLower(strings.TrimSpace(planID))]
	if !ok {
		return Config{}, ErrUnknownPlan
	}
	return cfg, nil
}

func defaultPlans() map[string]Config {
	plans := []Config{
		{
			ID:               "starter",
			DisplayName:      "Starter",
			AmountMinorUnits: 4900,
			Currency:         "USD",
			MinutesGranted:   250,
			Category:         CategorySelfServe,
		},
		{
			ID:               "growth",
			DisplayName:      "Growth",
			AmountMinorUnits: 9900,
			Currency:         "USD",
			MinutesGranted:   600,
			Category:         CategorySelfServe,
		},
		{
			ID:               "scale",
			DisplayName:      "Scale",
			AmountMinorUnits: 19900,
			Currency:         "USD",
			MinutesGranted:   1500,
			Category:         CategorySelfServe,
		},
		{
			ID:               "enterprise",
			DisplayName:      "Enterprise",
			AmountMinorUnits: 0,
			Currency:         "USD",
			MinutesGranted:   0,
			Category:         CategorySalesAssisted,
		},
	}

	out := make(map[string]Config, len(plans))
	for _, p := range plans {
		out[p.ID] = p
	}
	return out
}
