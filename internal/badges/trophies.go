package badges

import "github.com/pulsehq/pulse/backend/internal/stats"

// Tier is a ranked display label for a metric value.
type Tier string

const (
	TierNone     Tier = "none"
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierLegend   Tier = "legend"
)

// Breakpoint maps a minimum metric value to a tier.
type Breakpoint struct {
	Min  int  `yaml:"min"`
	Tier Tier `yaml:"tier"`
}

// TierTable holds the ascending breakpoints for one metric.
type TierTable struct {
	Metric      Metric       `yaml:"metric"`
	Breakpoints []Breakpoint `yaml:"breakpoints"`
}

// tierFor locates the highest breakpoint not exceeding the value.
func (t TierTable) tierFor(value int) Tier {
	tier := TierNone
	for _, breakpoint := range t.Breakpoints {
		if value < breakpoint.Min {
			break
		}
		tier = breakpoint.Tier
	}
	return tier
}

// Trophy is one ranked metric for display.
type Trophy struct {
	Metric Metric `json:"metric"`
	Tier   Tier   `json:"tier"`
	Value  int    `json:"value"`
}

// TierCalculator assigns trophies from the loaded tier tables.
type TierCalculator struct {
	tables []TierTable
}

// NewTierCalculator constructs a calculator over the given tables.
func NewTierCalculator(tables []TierTable) *TierCalculator {
	return &TierCalculator{tables: tables}
}

// Trophies returns one trophy per configured metric. The repository count is
// supplied by the caller since it lives with the commit events, not on the
// snapshot. Purely for display ranking; never gates functionality.
func (c *TierCalculator) Trophies(snapshot stats.ProfileStatsSnapshot, repositoryCount int) []Trophy {
	trophies := make([]Trophy, 0, len(c.tables))
	for _, table := range c.tables {
		value := repositoryCount
		if table.Metric != MetricRepositoryCount {
			if snapshotVal, ok := snapshotValue(snapshot, table.Metric); ok {
				value = snapshotVal
			} else {
				continue
			}
		}
		trophies = append(trophies, Trophy{
			Metric: table.Metric,
			Tier:   table.tierFor(value),
			Value:  value,
		})
	}
	return trophies
}
