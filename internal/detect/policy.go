package detect

import (
	"fmt"
	"math"

	"github.com/colthorp/localekit-go/internal/locale"
)

// Policy holds the fusion constants. Only the ordering properties matter:
// agreement raises confidence above every agreeing prior, disagreement
// lowers it.
type Policy struct {
	User     float64 `json:"user"`
	Stored   float64 `json:"stored"`
	Geo      float64 `json:"geo"`
	Browser  float64 `json:"browser"`
	Timezone float64 `json:"timezone"`
	Default  float64 `json:"default"`

	// ConsistencyBonus is added per extra agreeing signal.
	ConsistencyBonus float64 `json:"consistency_bonus"`
	// DisagreementPenalty is the fraction of the winner's weight removed
	// per dissenting signal.
	DisagreementPenalty float64 `json:"disagreement_penalty"`
	// MinConfidence floors a penalized single-signal result.
	MinConfidence float64 `json:"min_confidence"`
	// StoredMinConfidence is the lowest stored confidence that still
	// counts as evidence.
	StoredMinConfidence float64 `json:"stored_min_confidence"`
}

// DefaultPolicy returns the standard weights.
func DefaultPolicy() Policy {
	return Policy{
		User:                1.0,
		Stored:              0.95,
		Geo:                 0.8,
		Browser:             0.7,
		Timezone:            0.6,
		Default:             0.3,
		ConsistencyBonus:    0.15,
		DisagreementPenalty: 0.15,
		MinConfidence:       0.1,
		StoredMinConfidence: 0.5,
	}
}

// Validate reports constants outside their usable ranges.
func (p Policy) Validate() error {
	weights := map[string]float64{
		"user": p.User, "stored": p.Stored, "geo": p.Geo, "browser": p.Browser,
		"timezone": p.Timezone, "default": p.Default, "min confidence": p.MinConfidence,
		"stored min confidence": p.StoredMinConfidence,
	}
	for name, w := range weights {
		if w < 0 || w > 1 || math.IsNaN(w) {
			return fmt.Errorf("%s weight %v outside [0,1]", name, w)
		}
	}
	if p.ConsistencyBonus <= 0 || p.ConsistencyBonus > 1 {
		return fmt.Errorf("consistency bonus %v outside (0,1]", p.ConsistencyBonus)
	}
	if p.DisagreementPenalty < 0 || p.DisagreementPenalty >= 1 {
		return fmt.Errorf("disagreement penalty %v outside [0,1)", p.DisagreementPenalty)
	}
	return nil
}

// Weight returns the prior weight of src.
func (p Policy) Weight(src locale.Source) float64 {
	switch src {
	case locale.SourceUser:
		return p.User
	case locale.SourceStored:
		return p.Stored
	case locale.SourceGeo:
		return p.Geo
	case locale.SourceBrowser:
		return p.Browser
	case locale.SourceTimezone:
		return p.Timezone
	}
	return p.Default
}

// Fuse combines signal outcomes into one result. Unavailable outcomes are
// kept in the details but carry no weight.
func (p Policy) Fuse(def locale.Locale, signals []SignalOutcome) Result {
	details := Details{Strategy: StrategyFusion, Signals: signals}

	type group struct {
		locale  locale.Locale
		members []SignalOutcome
		total   float64
		max     float64
	}
	var groups []*group
	byLocale := make(map[locale.Locale]*group)
	available := 0
	strongest := 0.0
	for _, s := range signals {
		if !s.Available {
			continue
		}
		available++
		strongest = math.Max(strongest, s.Weight)
		g, ok := byLocale[s.Locale]
		if !ok {
			g = &group{locale: s.Locale}
			byLocale[s.Locale] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, s)
		g.total += s.Weight
		g.max = math.Max(g.max, s.Weight)
	}

	if available == 0 {
		details.Strategy = StrategyDefault
		return Result{Locale: def, Source: locale.SourceDefault, Confidence: p.Default, Details: details}
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if g.total > best.total || (g.total == best.total && g.max > best.max) {
			best = g
		}
	}
	details.Agreeing = len(best.members)
	details.Dissenting = available - details.Agreeing

	// Agreement is boosted from the strongest prior in play, dissenters
	// included, so a combined result always outranks any single signal.
	if details.Agreeing >= 2 {
		conf := strongest + p.ConsistencyBonus*float64(details.Agreeing-1)
		return Result{
			Locale:     best.locale,
			Source:     locale.SourceCombined,
			Confidence: roundConfidence(math.Min(1, conf)),
			Details:    details,
		}
	}

	winner := best.members[0]
	conf := winner.Weight * (1 - p.DisagreementPenalty*float64(details.Dissenting))
	conf = math.Max(conf, p.MinConfidence)
	return Result{
		Locale:     winner.Locale,
		Source:     winner.Source,
		Confidence: roundConfidence(conf),
		Details:    details,
	}
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1000) / 1000
}
