package module

import "slices"

// ResolveOrder returns the names of configs in install order: every module
// after its dependencies, ties broken by priority tier then name. A
// dependency that names no config in the set, or a cycle, yields a
// *DependencyError.
func ResolveOrder(configs []Config) ([]string, error) {
	byName := make(map[string]Config, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}

	roots := slices.Clone(configs)
	SortByPriority(roots)

	var (
		result  = make([]string, 0, len(configs))
		visited = make(map[string]bool, len(configs))
		onPath  = make(map[string]bool)
		path    []string
	)

	var visit func(name string) error
	visit = func(name string) error {
		if onPath[name] {
			start := slices.Index(path, name)
			chain := append(slices.Clone(path[start:]), name)
			return &DependencyError{Module: name, Chain: chain, Err: ErrCircularDependency}
		}
		if visited[name] {
			return nil
		}
		onPath[name] = true
		path = append(path, name)

		deps := slices.Clone(byName[name].Dependencies)
		slices.SortFunc(deps, func(a, b string) int {
			return ComparePriority(byName[a].EffectivePriority(), a, byName[b].EffectivePriority(), b)
		})
		for _, dep := range deps {
			if _, ok := byName[dep]; !ok {
				return &DependencyError{Module: name, Dependency: dep, Err: ErrDependencyMissing}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		onPath[name] = false
		visited[name] = true
		result = append(result, name)
		return nil
	}

	for _, c := range roots {
		if err := visit(c.Name); err != nil {
			return nil, err
		}
	}
	return result, nil
}
