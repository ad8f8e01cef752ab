package workflow

import "strconv"

// Graph is the backend-native JSON representation of a diffusion pipeline:
// a map from node id to node. Construction of this shape is the one part
// of the workflow lifecycle treated as a black box by the surrounding
// contract — only its output shape, (graph, sampler_node_id,
// output_node_id), matters to the dispatcher and executor.
type Graph map[string]GraphNode

// GraphNode is one node in the graph: its class and keyword inputs, which
// may be literal values or [node_id, output_index] references to another
// node's output.
type GraphNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// ref builds a [node_id, output_index] edge reference.
func ref(nodeID string, outputIndex int) []any {
	return []any{nodeID, outputIndex}
}

// nodeIDGen hands out a linearly growing sequence of node ids, starting
// at "1".
type nodeIDGen struct{ next int }

func newNodeIDGen() *nodeIDGen { return &nodeIDGen{next: 1} }

func (g *nodeIDGen) Next() string {
	id := strconv.Itoa(g.next)
	g.next++
	return id
}
