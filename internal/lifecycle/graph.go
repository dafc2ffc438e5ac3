package lifecycle

import "fmt"

// Graph maps component names to descriptors. Insertion order is kept so that
// independent components start in declaration order.
type Graph struct {
	order       []string
	descriptors map[string]Descriptor
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		descriptors: make(map[string]Descriptor),
	}
}

// Add registers a descriptor. Dependencies may be added later; they are only
// checked by Resolve.
func (g *Graph) Add(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	if d.Start == nil {
		return fmt.Errorf("component %s: start function must not be nil", d.Name)
	}
	if _, exists := g.descriptors[d.Name]; exists {
		return &Error{Kind: KindDuplicateComponent, Component: d.Name}
	}

	deps := make([]string, len(d.DependsOn))
	copy(deps, d.DependsOn)
	d.DependsOn = deps

	g.order = append(g.order, d.Name)
	g.descriptors[d.Name] = d
	return nil
}

// MustAdd is Add for static graphs; it panics on error.
func (g *Graph) MustAdd(d Descriptor) {
	if err := g.Add(d); err != nil {
		panic(err)
	}
}

// Descriptor returns the descriptor registered under name.
func (g *Graph) Descriptor(name string) (Descriptor, bool) {
	d, ok := g.descriptors[name]
	return d, ok
}

// Names returns component names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of components.
func (g *Graph) Len() int {
	return len(g.order)
}

type mark int

const (
	unvisited mark = iota
	visiting
	visited
)

// Resolve returns a start order in which every component comes after all of its
// dependencies. Unknown dependencies and cycles are reported before anything is
// started. Ties are broken by declaration order.
func (g *Graph) Resolve() ([]string, error) {
	for _, name := range g.order {
		for _, dep := range g.descriptors[name].DependsOn {
			if _, ok := g.descriptors[dep]; !ok {
				return nil, &Error{Kind: KindUnknownDependency, Component: name, Dependency: dep}
			}
		}
	}

	marks := make(map[string]mark, len(g.order))
	sorted := make([]string, 0, len(g.order))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visited:
			return nil
		case visiting:
			return &Error{Kind: KindCycleDetected, Component: name, Cycle: cyclePath(path, name)}
		}

		marks[name] = visiting
		path = append(path, name)

		// Dependencies first, in declared order
		for _, dep := range g.descriptors[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		marks[name] = visited
		sorted = append(sorted, name)
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// cyclePath extracts the cycle ending at name from the current DFS path.
func cyclePath(path []string, name string) []string {
	for i, n := range path {
		if n == name {
			cycle := make([]string, 0, len(path)-i+1)
			cycle = append(cycle, path[i:]...)
			return append(cycle, name)
		}
	}
	return []string{name}
}
