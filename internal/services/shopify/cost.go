package shopify

import (
	"regexp"
	"strings"
)

// CostEstimator predicts the point cost of a query before it is sent.
type CostEstimator interface {
	Estimate(query string) float64
}

// CostEstimatorFunc adapts a function to CostEstimator.
type CostEstimatorFunc func(query string) float64

func (f CostEstimatorFunc) Estimate(query string) float64 { return f(query) }

var connectionArg = regexp.MustCompile(`first\s*:`)

// HeuristicEstimator counts one point per whitespace separated token plus ten
// per paginated connection. It overestimates small queries, which the bucket
// corrects once the server reports the actual cost.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(query string) float64 {
	cost := len(strings.Fields(query)) + 10*len(connectionArg.FindAllStringIndex(query, -1))
	if cost < 1 {
		cost = 1
	}
	return float64(cost)
}
