package decision

import (
	"math"

	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/pkg/models"
)

// EstimateCost returns the operator-facing cost in abstract budget units:
// tier base x type multiplier x urgent multiplier (top priority only),
// rounded to the nearest unit. It plays no part in scheduling.
func EstimateCost(costs config.CostTable, a models.Analysis) int {
	base := costs.TierBase[a.Tier()]

	multiplier, ok := costs.TypeMultiplier[a.Type]
	if !ok {
		multiplier = 1
	}

	cost := base * multiplier
	if a.Priority >= models.TopPriority && costs.UrgentMultiplier > 0 {
		cost *= costs.UrgentMultiplier
	}
	return int(math.Round(cost))
}
