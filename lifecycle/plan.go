package lifecycle

import (
	"slices"

	"github.com/GoCodeAlone/modkernel/module"
)

// PlanBatches splits modules into batches of at most maxConcurrency
// names. Without an explicit order, modules are grouped into priority
// tiers (CRITICAL first) and sorted by name inside each tier; a batch
// never spans two tiers. With an explicit order, the listed names that
// are present are chunked as given.
func PlanBatches(configs []module.Config, maxConcurrency int, order []string) [][]string {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	if len(order) > 0 {
		known := make(map[string]struct{}, len(configs))
		for _, cfg := range configs {
			known[cfg.Name] = struct{}{}
		}
		names := make([]string, 0, len(order))
		for _, name := range order {
			if _, ok := known[name]; !ok || slices.Contains(names, name) {
				continue
			}
			names = append(names, name)
		}
		return chunk(names, maxConcurrency)
	}

	tiers := make(map[int][]string)
	for _, cfg := range configs {
		rank := cfg.EffectivePriority().Rank()
		tiers[rank] = append(tiers[rank], cfg.Name)
	}
	ranks := make([]int, 0, len(tiers))
	for rank := range tiers {
		ranks = append(ranks, rank)
	}
	slices.Sort(ranks)

	var batches [][]string
	for _, rank := range ranks {
		names := tiers[rank]
		slices.Sort(names)
		batches = append(batches, chunk(names, maxConcurrency)...)
	}
	return batches
}

// reversePlan flips batch order and the order inside each batch.
func reversePlan(batches [][]string) [][]string {
	out := make([][]string, 0, len(batches))
	for i := len(batches) - 1; i >= 0; i-- {
		b := slices.Clone(batches[i])
		slices.Reverse(b)
		out = append(out, b)
	}
	return out
}

func chunk(names []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(names); start += size {
		end := min(start+size, len(names))
		out = append(out, slices.Clone(names[start:end]))
	}
	return out
}
