package webhook

// PlanTable maps payment-provider plan ids to the credits they grant.
type PlanTable map[string]int64

// DefaultPlans returns the catalog plans.
func DefaultPlans() PlanTable {
	return PlanTable{
		"plan_starter":  50,
		"plan_pro":      200,
		"plan_ultimate": 500,
	}
}

// Credits looks up the grant amount for a plan id.
func (table PlanTable) Credits(planID string) (int64, bool) {
	amount, known := table[planID]
	return amount, known
}
