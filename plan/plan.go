// Package plan walks a single fragment's plan tree. It is a pure,
// read-only tree walk: the plan itself is produced by an external
// planner/frontend (out of scope here, see spec.md §1) and handed to
// the coordinator already built.
package plan

// NodeType identifies the kind of a PlanNode. The coordinator only
// ever needs to distinguish exchange and scan nodes from everything
// else, so the set here is deliberately small.
type NodeType int

const (
	NodeTypeOther NodeType = iota
	NodeTypeExchange
	NodeTypeScan
)

// NodeID identifies a node within a single fragment's plan tree.
type NodeID int

// InvalidNodeID is returned by the lookups below when no matching
// node exists.
const InvalidNodeID NodeID = -1

// Node is one node of a plan tree. Children are ordered left-to-right
// exactly as the frontend emitted them; "leftmost" throughout this
// package means first in pre-order traversal of this ordering.
type Node struct {
	ID       NodeID
	Type     NodeType
	Children []*Node
}

// Fragment is a single plan fragment: a subtree of the overall query
// plan that executes as one unit on each assigned host.
type Fragment struct {
	Idx  int
	Root *Node
}

// FindLeftmostNode returns the id of the leftmost node (pre-order,
// first-child-first) whose type is in types, or InvalidNodeID if no
// such node exists in plan's tree.
func FindLeftmostNode(root *Node, types ...NodeType) NodeID {
	if root == nil {
		return InvalidNodeID
	}
	want := make(map[NodeType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	return findLeftmost(root, want)
}

func findLeftmost(n *Node, want map[NodeType]bool) NodeID {
	if want[n.Type] {
		return n.ID
	}
	for _, child := range n.Children {
		if id := findLeftmost(child, want); id != InvalidNodeID {
			return id
		}
	}
	return InvalidNodeID
}

// LeftmostScanNode returns the id of the leftmost scan node in f, or
// InvalidNodeID if f contains no scan node.
func LeftmostScanNode(f *Fragment) NodeID {
	return FindLeftmostNode(f.Root, NodeTypeScan)
}

// FindLeftmostInputFragment returns the index (within fragments) of
// the fragment that feeds f's leftmost exchange node. It returns -1 if
// f contains no exchange node — i.e. f is a leaf fragment with no
// remote input — or if exchangeSenderFragment has no entry for that
// exchange.
//
// exchangeSenderFragment maps an exchange node's id to the index of
// the fragment whose output feeds it; this mapping is carried on the
// plan by the frontend (each ExchangeNode knows which fragment
// produces its input) and handed in here rather than re-derived,
// since the coordinator has no independent way to know it.
func FindLeftmostInputFragment(f *Fragment, exchangeSenderFragment map[NodeID]int) int {
	leftmost := FindLeftmostNode(f.Root, NodeTypeExchange)
	if leftmost == InvalidNodeID {
		return -1
	}
	idx, ok := exchangeSenderFragment[leftmost]
	if !ok {
		return -1
	}
	return idx
}

// IsLeaf reports whether f has no input fragment, i.e. it is a scan-
// only fragment with nothing feeding an exchange.
func IsLeaf(f *Fragment, exchangeSenderFragment map[NodeID]int) bool {
	return FindLeftmostInputFragment(f, exchangeSenderFragment) < 0
}

// ScanNodes returns the ids of every scan node in f, in pre-order.
func ScanNodes(f *Fragment) []NodeID {
	var out []NodeID
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Type == NodeTypeScan {
			out = append(out, n.ID)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(f.Root)
	return out
}
