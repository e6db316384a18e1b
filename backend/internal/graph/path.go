package graph

// Adjacency is an undirected neighbor list built from edges in creation order
type Adjacency map[string][]string

// BuildAdjacency treats every edge as undirected. Neighbors keep the order
// in which their edges were created; parallel edges of different relation
// types add the neighbor once.
func BuildAdjacency(edges []Edge) Adjacency {
	adj := make(Adjacency)
	seen := make(map[string]struct{})
	for _, e := range edges {
		key := PairKey(e.SourceID, e.TargetID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}
	return adj
}

// ShortestPath runs an unweighted BFS from `from` to `to`. On ties the first
// path found in neighbor order wins. The boolean is false when no path exists.
func ShortestPath(adj Adjacency, from, to string) ([]string, bool) {
	if from == to {
		return []string{from}, true
	}

	parent := map[string]string{from: ""}
	queue := []string{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range adj[current] {
			if _, visited := parent[next]; visited {
				continue
			}
			parent[next] = current
			if next == to {
				return tracePath(parent, from, to), true
			}
			queue = append(queue, next)
		}
	}

	return nil, false
}

func tracePath(parent map[string]string, from, to string) []string {
	var reversed []string
	for at := to; at != from; at = parent[at] {
		reversed = append(reversed, at)
	}
	reversed = append(reversed, from)

	path := make([]string, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}
	return path
}
