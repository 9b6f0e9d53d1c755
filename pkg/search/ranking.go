package search

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// ErrInvalidRankingConfig is returned by RankingConfig.Validate.
var ErrInvalidRankingConfig = errors.New("invalid ranking config")

// RankingConfig holds the tunable constants of the relevance formula.
type RankingConfig struct {
	// PrimaryWeight and SecondaryWeight weight a query token match found in
	// the primary or secondary text.
	PrimaryWeight   float64 `yaml:"primary_weight" json:"primary_weight"`
	SecondaryWeight float64 `yaml:"secondary_weight" json:"secondary_weight"`

	// IDFDampening blends a match weight between flat (0) and full IDF (1).
	IDFDampening float64 `yaml:"idf_dampening" json:"idf_dampening"`
	// MinIDF floors the IDF of very common tokens.
	MinIDF float64 `yaml:"min_idf" json:"min_idf"`

	// CoverageWeight scales the bonus for matching a larger share of the query tokens.
	CoverageWeight float64 `yaml:"coverage_weight" json:"coverage_weight"`

	// ProximityWeight is added, scaled by closeness, when query tokens appear
	// within ProximityWindow word positions of each other in the primary text.
	ProximityWeight float64 `yaml:"proximity_weight" json:"proximity_weight"`
	ProximityWindow int     `yaml:"proximity_window" json:"proximity_window"`

	// PhraseBonus is added when the whole folded query occurs in the primary text.
	PhraseBonus float64 `yaml:"phrase_bonus" json:"phrase_bonus"`

	// RecencyBoost is the maximum extra multiplier for a just-updated record;
	// it halves every RecencyHalfLife.
	RecencyBoost    float64       `yaml:"recency_boost" json:"recency_boost"`
	RecencyHalfLife time.Duration `yaml:"recency_half_life" json:"recency_half_life"`

	// StatusMultipliers scale non-active records. Missing statuses count as 1.
	StatusMultipliers map[Status]float64 `yaml:"status_multipliers" json:"status_multipliers"`
	// TypeBoosts scale whole entity types. Missing types count as 1.
	TypeBoosts map[EntityType]float64 `yaml:"type_boosts" json:"type_boosts"`
}

// DefaultRankingConfig returns the built-in ranking constants.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		PrimaryWeight:   3.0,
		SecondaryWeight: 1.0,
		IDFDampening:    0.6,
		MinIDF:          0.1,
		CoverageWeight:  0.5,
		ProximityWeight: 1.5,
		ProximityWindow: 3,
		PhraseBonus:     2.0,
		RecencyBoost:    0.25,
		RecencyHalfLife: 90 * 24 * time.Hour,
		StatusMultipliers: map[Status]float64{
			StatusActive:    1.0,
			StatusPending:   0.9,
			StatusInactive:  0.6,
			StatusSuspended: 0.5,
			StatusArchived:  0.4,
		},
		TypeBoosts: map[EntityType]float64{},
	}
}

// Validate checks that the constants keep the ranking invariants: primary
// matches outweigh secondary ones, penalties never reach zero and recency
// stays bounded.
func (c RankingConfig) Validate() error {
	var problems []string
	if c.SecondaryWeight <= 0 {
		problems = append(problems, "secondary_weight must be > 0")
	}
	if c.PrimaryWeight <= c.SecondaryWeight {
		problems = append(problems, "primary_weight must be greater than secondary_weight")
	}
	if c.IDFDampening < 0 || c.IDFDampening > 1 {
		problems = append(problems, "idf_dampening must be within [0, 1]")
	}
	if c.MinIDF < 0 {
		problems = append(problems, "min_idf must be >= 0")
	}
	if c.CoverageWeight < 0 {
		problems = append(problems, "coverage_weight must be >= 0")
	}
	if c.ProximityWeight < 0 || c.ProximityWindow < 0 {
		problems = append(problems, "proximity_weight and proximity_window must be >= 0")
	}
	if c.PhraseBonus < 0 {
		problems = append(problems, "phrase_bonus must be >= 0")
	}
	if c.RecencyBoost < 0 || c.RecencyBoost > 1 {
		problems = append(problems, "recency_boost must be within [0, 1]")
	}
	if c.RecencyHalfLife <= 0 {
		problems = append(problems, "recency_half_life must be > 0")
	}
	for st, m := range c.StatusMultipliers {
		if !st.Valid() {
			problems = append(problems, fmt.Sprintf("status_multipliers: unknown status %q", st))
		} else if m <= 0 || m > 1 {
			problems = append(problems, fmt.Sprintf("status_multipliers[%s] must be within (0, 1]", st))
		}
	}
	for t, b := range c.TypeBoosts {
		if !t.Valid() {
			problems = append(problems, fmt.Sprintf("type_boosts: unknown entity type %q", t))
		} else if b <= 0 {
			problems = append(problems, fmt.Sprintf("type_boosts[%s] must be > 0", t))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRankingConfig, strings.Join(problems, "; "))
	}
	return nil
}

// idfWeight returns the dampened IDF weight of a token with document
// frequency df in a corpus of n records.
func (c RankingConfig) idfWeight(df, n int) float64 {
	if df > n {
		n = df
	}
	idf := math.Log(1 + (float64(n-df)+0.5)/(float64(df)+0.5))
	if idf < c.MinIDF {
		idf = c.MinIDF
	}
	return 1 - c.IDFDampening + c.IDFDampening*idf
}

// recencyMultiplier is 1+RecencyBoost for a just-updated record and decays
// monotonically towards 1.
func (c RankingConfig) recencyMultiplier(updatedAt, now time.Time) float64 {
	age := now.Sub(updatedAt)
	if age < 0 {
		age = 0
	}
	halfLives := float64(age) / float64(c.RecencyHalfLife)
	return 1 + c.RecencyBoost*math.Pow(0.5, halfLives)
}

func (c RankingConfig) statusMultiplier(s Status) float64 {
	if m, ok := c.StatusMultipliers[s]; ok {
		return m
	}
	return 1
}

func (c RankingConfig) typeBoost(t EntityType) float64 {
	if b, ok := c.TypeBoosts[t]; ok {
		return b
	}
	return 1
}

// ScoredRecord is a ranked candidate.
type ScoredRecord struct {
	Record *IndexRecord
	Score  float64
	// Matched is the number of distinct query tokens found in the record.
	Matched int
}

// Ranker scores candidates against a query. The configuration can be
// swapped while queries are running.
type Ranker struct {
	cfg atomic.Pointer[RankingConfig]
}

// NewRanker creates a ranker with a validated configuration.
func NewRanker(cfg RankingConfig) (*Ranker, error) {
	r := &Ranker{}
	if err := r.SetConfig(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Config returns the active configuration.
func (r *Ranker) Config() RankingConfig {
	return *r.cfg.Load()
}

// SetConfig validates and atomically installs a new configuration. The old
// configuration stays active when validation fails.
func (r *Ranker) SetConfig(cfg RankingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfg.Store(&cfg)
	return nil
}

// Rank scores candidates against query and returns matches best first.
// Deleted records and records sharing no token with the query are dropped.
// An empty query yields no results.
func (r *Ranker) Rank(query string, candidates []*IndexRecord, stats CorpusStats, now time.Time) []ScoredRecord {
	queryTokens := IndexTokens(query)
	if len(queryTokens) == 0 {
		return nil
	}
	cfg := r.cfg.Load()

	weights := make(map[string]float64, len(queryTokens))
	for _, tok := range queryTokens {
		weights[tok] = cfg.idfWeight(stats.DocFreq[tok], stats.TotalDocs)
	}
	phrase := FoldText(query)
	multiWord := len(Normalize(query)) > 1

	out := make([]ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		if rec == nil || rec.IsDeleted {
			continue
		}
		scored, ok := cfg.score(rec, queryTokens, weights, phrase, multiWord, now)
		if ok {
			out = append(out, scored)
		}
	}

	SortScored(out)
	return out
}

func (c *RankingConfig) score(rec *IndexRecord, queryTokens []string, weights map[string]float64,
	phrase string, multiWord bool, now time.Time) (ScoredRecord, bool) {

	primaryWords := Normalize(rec.PrimaryText)
	primary := tokenSet(primaryWords)
	secondary := tokenSet(Normalize(rec.SecondaryText))

	text := 0.0
	matched := 0
	for _, tok := range queryTokens {
		switch {
		case primary[tok]:
			text += c.PrimaryWeight * weights[tok]
		case secondary[tok]:
			text += c.SecondaryWeight * weights[tok]
		default:
			continue
		}
		matched++
	}
	if matched == 0 {
		return ScoredRecord{}, false
	}

	coverage := float64(matched) / float64(len(queryTokens))
	text *= 1 + c.CoverageWeight*coverage

	if len(queryTokens) > 1 && c.ProximityWindow > 0 {
		text += c.ProximityWeight * proximity(queryTokens, primaryWords, c.ProximityWindow)
	}
	if multiWord && phrase != "" && strings.Contains(" "+FoldText(rec.PrimaryText)+" ", " "+phrase+" ") {
		text += c.PhraseBonus
	}

	score := text *
		c.recencyMultiplier(rec.UpdatedAt, now) *
		c.statusMultiplier(rec.Status) *
		c.typeBoost(rec.EntityType)

	return ScoredRecord{Record: rec, Score: score, Matched: matched}, true
}

// proximity returns a closeness in [0, 1] averaged over adjacent query token
// pairs: 1 when the pair is adjacent in words, falling linearly to 0 beyond window.
func proximity(queryTokens, words []string, window int) float64 {
	positions := make(map[string][]int, len(queryTokens))
	for i, w := range words {
		positions[w] = append(positions[w], i)
	}

	total := 0.0
	pairs := len(queryTokens) - 1
	for i := 0; i < pairs; i++ {
		a, b := positions[queryTokens[i]], positions[queryTokens[i+1]]
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		d := minDistance(a, b)
		if d <= window {
			total += float64(window-d+1) / float64(window)
		}
	}
	return total / float64(pairs)
}

func minDistance(a, b []int) int {
	best := math.MaxInt
	for _, x := range a {
		for _, y := range b {
			d := x - y
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
			}
		}
	}
	return best
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// SortScored orders by score desc, then UpdatedAt desc, EntityID asc and
// EntityType asc so equal scores have a stable, deterministic order.
func SortScored(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		if a.Record.EntityID != b.Record.EntityID {
			return a.Record.EntityID < b.Record.EntityID
		}
		return a.Record.EntityType < b.Record.EntityType
	})
}
