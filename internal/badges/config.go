package badges

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config bundles the static badge and trophy configuration.
type Config struct {
	Badges   []Definition `yaml:"badges"`
	Trophies []TierTable  `yaml:"trophies"`
}

// LoadBadgeFile reads badge definitions from a YAML file.
func LoadBadgeFile(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("badges: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("badges: parse %s: %w", path, err)
	}
	if err := validateDefinitions(cfg.Badges); err != nil {
		return nil, err
	}
	return cfg.Badges, nil
}

// LoadTrophyFile reads trophy tier tables from a YAML file.
func LoadTrophyFile(path string) ([]TierTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("badges: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("badges: parse %s: %w", path, err)
	}
	if err := validateTables(cfg.Trophies); err != nil {
		return nil, err
	}
	return cfg.Trophies, nil
}

func validateDefinitions(definitions []Definition) error {
	seen := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if definition.ID == "" {
			return fmt.Errorf("badges: definition with empty id")
		}
		if _, dup := seen[definition.ID]; dup {
			return fmt.Errorf("badges: duplicate definition id %q", definition.ID)
		}
		seen[definition.ID] = struct{}{}
		if definition.Threshold <= 0 {
			return fmt.Errorf("badges: definition %q has non-positive threshold", definition.ID)
		}
	}
	return nil
}

func validateTables(tables []TierTable) error {
	for _, table := range tables {
		previous := -1
		for _, breakpoint := range table.Breakpoints {
			if breakpoint.Min <= previous {
				return fmt.Errorf("badges: tier table %s breakpoints must ascend", table.Metric)
			}
			previous = breakpoint.Min
		}
	}
	return nil
}

// DefaultBadges is the compiled-in badge set used when no config file is
// provided.
func DefaultBadges() []Definition {
	return []Definition{
		{ID: "first-commit", Label: "First Commit", Metric: MetricTotalCommits, Threshold: 1},
		{ID: "committed-100", Label: "Century", Metric: MetricTotalCommits, Threshold: 100},
		{ID: "committed-1000", Label: "Machine", Metric: MetricTotalCommits, Threshold: 1000},
		{ID: "streak-7", Label: "One Week Streak", Metric: MetricLongestStreak, Threshold: 7},
		{ID: "streak-30", Label: "One Month Streak", Metric: MetricLongestStreak, Threshold: 30},
		{ID: "active-100", Label: "Regular", Metric: MetricActiveDays, Threshold: 100},
		{ID: "lines-10000", Label: "Wordsmith", Metric: MetricAdditions, Threshold: 10000},
	}
}

// DefaultTrophies is the compiled-in tier configuration used when no config
// file is provided.
func DefaultTrophies() []TierTable {
	standard := []Breakpoint{
		{Min: 1, Tier: TierBronze},
		{Min: 50, Tier: TierSilver},
		{Min: 200, Tier: TierGold},
		{Min: 500, Tier: TierPlatinum},
		{Min: 1000, Tier: TierLegend},
	}
	lines := []Breakpoint{
		{Min: 1, Tier: TierBronze},
		{Min: 1000, Tier: TierSilver},
		{Min: 10000, Tier: TierGold},
		{Min: 50000, Tier: TierPlatinum},
		{Min: 200000, Tier: TierLegend},
	}
	return []TierTable{
		{Metric: MetricTotalCommits, Breakpoints: standard},
		{Metric: MetricLongestStreak, Breakpoints: []Breakpoint{
			{Min: 1, Tier: TierBronze},
			{Min: 7, Tier: TierSilver},
			{Min: 30, Tier: TierGold},
			{Min: 100, Tier: TierPlatinum},
			{Min: 365, Tier: TierLegend},
		}},
		{Metric: MetricActiveDays, Breakpoints: standard},
		{Metric: MetricAdditions, Breakpoints: lines},
		{Metric: MetricDeletions, Breakpoints: lines},
		{Metric: MetricRepositoryCount, Breakpoints: []Breakpoint{
			{Min: 1, Tier: TierBronze},
			{Min: 3, Tier: TierSilver},
			{Min: 10, Tier: TierGold},
			{Min: 25, Tier: TierPlatinum},
			{Min: 50, Tier: TierLegend},
		}},
	}
}
