package vector

import (
	"fmt"
	"math"
	"time"
)

// Federation limits. Remote snapshots are read-only attachments; the local
// index always participates at weight 1.0.
const (
	// MaxRemotes caps attached remote snapshots per query.
	MaxRemotes = 3

	// PerRemoteTimeout bounds each remote's scan; a slow remote is skipped,
	// not fatal.
	PerRemoteTimeout = 5 * time.Second

	// FederatedTimeout bounds the whole federated query.
	FederatedTimeout = 15 * time.Second
)

// Decay schedule names accepted in settings.
const (
	DecayGolden      = "golden"
	DecayExponential = "exponential"
	DecayLinear      = "linear"
)

// DecayWeights returns the score multiplier for each remote position
// (0-based, nearest first). golden uses inverse powers of phi so each
// remote contributes about 62% of the one before it; exponential halves;
// linear steps down by a quarter.
func DecayWeights(schedule string, n int) ([]float64, error) {
	if n < 0 || n > MaxRemotes {
		return nil, fmt.Errorf("remote count %d exceeds maximum %d", n, MaxRemotes)
	}
	weights := make([]float64, n)
	phi := (1 + math.Sqrt(5)) / 2
	for i := 0; i < n; i++ {
		switch schedule {
		case DecayGolden, "":
			weights[i] = math.Pow(phi, -float64(i+1))
		case DecayExponential:
			weights[i] = math.Pow(0.5, float64(i+1))
		case DecayLinear:
			weights[i] = 1 - 0.25*float64(i+1)
		default:
			return nil, fmt.Errorf("unknown decay schedule %q", schedule)
		}
	}
	return weights, nil
}

// ValidateFederationConfig checks a proposed remote list against the decay
// schedule and remote cap before anything is attached.
func ValidateFederationConfig(schedule string, remotes []string) error {
	if len(remotes) > MaxRemotes {
		return fmt.Errorf("federation supports at most %d remotes, got %d", MaxRemotes, len(remotes))
	}
	seen := make(map[string]bool, len(remotes))
	for _, r := range remotes {
		if r == "" {
			return fmt.Errorf("remote path must not be empty")
		}
		if seen[r] {
			return fmt.Errorf("duplicate remote %q", r)
		}
		seen[r] = true
	}
	_, err := DecayWeights(schedule, len(remotes))
	return err
}
