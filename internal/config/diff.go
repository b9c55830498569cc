package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RankingChanged bool
	NewRanking     *RankingConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: the LLM
// provider, store DSN, and tag schema are fixed at process start.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !rankingEqual(old.Ranking, new.Ranking) {
		d.RankingChanged = true
		d.NewRanking = new.Ranking
	}

	return d
}

// rankingEqual reports whether two ranking configs (possibly nil) describe
// the same effective weights.
func rankingEqual(old, new *RankingConfig) bool {
	if old == nil && new == nil {
		return true
	}
	if old == nil || new == nil {
		return false
	}
	return floatPtrEqual(old.NameWeight, new.NameWeight) &&
		floatPtrEqual(old.CategoryWeight, new.CategoryWeight) &&
		floatPtrEqual(old.TagOverlapWeight, new.TagOverlapWeight) &&
		floatPtrEqual(old.SeasonWeight, new.SeasonWeight)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
