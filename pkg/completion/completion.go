// Package completion scores how complete an application is.
package completion

import "github.com/anggasct/admitflow"

// MaxScore is the upper clamp
const MaxScore = 100.0

// Weights controls how sections and documents contribute to the score
type Weights struct {
	// SectionPoints is awarded per required profile section present
	SectionPoints float64
	// DocumentPoints is awarded per uploaded document
	DocumentPoints float64
	// MaxScoredDocuments caps how many documents contribute
	MaxScoredDocuments int
}

// DefaultWeights gives 40 points to the profile and 60 to documents
var DefaultWeights = Weights{
	SectionPoints:      10,
	DocumentPoints:     15,
	MaxScoredDocuments: 4,
}

// Calculator scores applications with a fixed set of weights
type Calculator struct {
	weights Weights
}

// New creates a calculator. Zero-valued weights fall back to DefaultWeights.
func New(weights Weights) *Calculator {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Calculator{weights: weights}
}

// Weights returns the calculator's weights
func (c *Calculator) Weights() Weights {
	return c.weights
}

// Score returns the completion rate in [0,100]. Each required section is
// all-or-nothing; sections outside the required set and duplicates
// contribute nothing, and negative counts are treated as zero.
func (c *Calculator) Score(sections []admitflow.ProfileSection, documentCount int) float64 {
	seen := make(map[admitflow.ProfileSection]bool, len(sections))
	score := 0.0
	for _, s := range sections {
		if !s.Valid() || seen[s] {
			continue
		}
		seen[s] = true
		score += c.weights.SectionPoints
	}

	if documentCount > c.weights.MaxScoredDocuments {
		documentCount = c.weights.MaxScoredDocuments
	}
	if documentCount > 0 {
		score += float64(documentCount) * c.weights.DocumentPoints
	}

	switch {
	case score < 0:
		return 0
	case score > MaxScore:
		return MaxScore
	}
	return score
}

// ScoreApplication scores an application from its own sections and documents
func (c *Calculator) ScoreApplication(app *admitflow.Application) float64 {
	if app == nil {
		return 0
	}
	return c.Score(app.ProfileSections, len(app.Documents))
}

var defaultCalculator = New(DefaultWeights)

// Score scores with DefaultWeights
func Score(sections []admitflow.ProfileSection, documentCount int) float64 {
	return defaultCalculator.Score(sections, documentCount)
}

// ScoreApplication scores an application with DefaultWeights
func ScoreApplication(app *admitflow.Application) float64 {
	return defaultCalculator.ScoreApplication(app)
}
