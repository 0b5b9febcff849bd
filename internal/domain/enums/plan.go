package enums

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPremium:
		return true
	}
	return false
}
