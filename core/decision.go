package core

import "github.com/signalsfoundry/onboard-cloud-filter/model"

const (
	// CloudProbabilityCutoff binarizes per-pixel probabilities. Pixels strictly
	// above it count as cloud.
	CloudProbabilityCutoff = 0.5
	// DefaultCloudThreshold is the largest cloud fraction still downlinked.
	DefaultCloudThreshold = 0.10
)

// Decide reduces a coverage map to the fraction of pixels binarized as cloud
// and compares it with threshold. Only fractions strictly above threshold are
// discarded. An empty map has zero coverage.
func Decide(cm model.CoverageMap, threshold float64) (float64, model.Disposition) {
	fraction := CloudFraction(cm)
	if fraction > threshold {
		return fraction, model.Discard
	}
	return fraction, model.Keep
}

// CloudFraction returns count(p > 0.5) / total pixels.
func CloudFraction(cm model.CoverageMap) float64 {
	if len(cm.Prob) == 0 {
		return 0
	}
	cloudy := 0
	for _, p := range cm.Prob {
		if p > CloudProbabilityCutoff {
			cloudy++
		}
	}
	return float64(cloudy) / float64(len(cm.Prob))
}
