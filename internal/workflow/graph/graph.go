package graph

import "fmt"

// NodeType is a workflow node's execution kind (§4.7.2).
type NodeType string

const (
	NodeAction     NodeType = "action"
	NodeDecision   NodeType = "decision"
	NodeHumanInput NodeType = "human_input"
	NodeParallel   NodeType = "parallel"
	NodeConverge   NodeType = "converge"
	NodeSubgraph   NodeType = "subgraph"
)

// Node is one vertex in the workflow graph. NextNodes and FallbackNode are
// non-owning indices into the owning Workflow's Nodes slice (§9 design
// note): the generational-arena-with-index-edges shape keeps back-edges
// (retry loops) representable without introducing owning reference cycles.
type Node struct {
	ID            int
	Name          string
	Type          NodeType
	ActionPrompt  string // action nodes: the prompt template
	AssignedAgent string // action nodes: agent name to resolve
	ConditionExpr string // decision nodes: the §4.6 condition grammar
	NextNodes     []int
	FallbackNode  *int
}

// Workflow owns its nodes; EntryNode is the index of the node execution
// starts from, nil until SetEntry is called.
type Workflow struct {
	ID        string
	Nodes     []Node
	EntryNode *int
}

// NewWorkflow constructs an empty workflow.
func NewWorkflow(id string) *Workflow {
	return &Workflow{ID: id}
}

// AddNode validates name (and, for decision nodes, condition_expr) and
// appends n to the graph, returning its assigned index.
func (w *Workflow) AddNode(n Node) (int, error) {
	if err := ValidateName(n.Name); err != nil {
		return 0, err
	}
	if n.Type == NodeDecision && n.ConditionExpr != "" {
		if err := ValidateConditionExpr(n.ConditionExpr); err != nil {
			return 0, err
		}
	}
	id := len(w.Nodes)
	n.ID = id
	w.Nodes = append(w.Nodes, n)
	return id, nil
}

// SetEntry marks nodeID as the execution entry point.
func (w *Workflow) SetEntry(nodeID int) error {
	if nodeID < 0 || nodeID >= len(w.Nodes) {
		return fmt.Errorf("graph: node id %d out of range", nodeID)
	}
	w.EntryNode = &nodeID
	return nil
}

// Node returns the node at index id.
func (w *Workflow) Node(id int) (Node, error) {
	if id < 0 || id >= len(w.Nodes) {
		return Node{}, fmt.Errorf("graph: node id %d out of range", id)
	}
	return w.Nodes[id], nil
}

// evalCondition evaluates the §4.6/§4.7.3 grammar "key == value" or
// "key != value" against state. A missing key makes != true and == false.
func evalCondition(expr string, state *State) (bool, error) {
	if idx := indexOf(expr, "!="); idx >= 0 {
		key := trimSpace(expr[:idx])
		want := trimSpace(expr[idx+2:])
		got, ok := state.Get(key)
		if !ok {
			return true, nil
		}
		return got != want, nil
	}
	if idx := indexOf(expr, "=="); idx >= 0 {
		key := trimSpace(expr[:idx])
		want := trimSpace(expr[idx+2:])
		got, ok := state.Get(key)
		if !ok {
			return false, nil
		}
		return got == want, nil
	}
	return false, fmt.Errorf("graph: condition_expr %q is neither == nor != form", expr)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// Next computes the successor of nodeID per the §4.7.3 router: empty
// next_nodes terminates the workflow; a set condition_expr selects
// next_nodes[0] on true or FallbackNode on false; an unset condition
// returns next_nodes[0] unconditionally (the linear path).
func (w *Workflow) Next(nodeID int, state *State) (*int, error) {
	node, err := w.Node(nodeID)
	if err != nil {
		return nil, err
	}
	if len(node.NextNodes) == 0 {
		return nil, nil
	}
	if node.ConditionExpr == "" {
		next := node.NextNodes[0]
		return &next, nil
	}
	ok, err := evalCondition(node.ConditionExpr, state)
	if err != nil {
		return nil, err
	}
	if ok {
		next := node.NextNodes[0]
		return &next, nil
	}
	return node.FallbackNode, nil
}
