package mork

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/GriffinCanCode/morkclient/protocol"
)

// ExplorerState is the traversal state of an Explorer.
type ExplorerState int

const (
	ExplorerUnstarted ExplorerState = iota
	ExplorerProducing
	ExplorerExhausted
)

func (s ExplorerState) String() string {
	switch s {
	case ExplorerUnstarted:
		return "unstarted"
	case ExplorerProducing:
		return "producing"
	case ExplorerExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Explorer walks the stored structure of a namespace one level at a time.
// Level 0 holds the distinct first elements of the stored facts; each later
// level holds the children of the nodes dispatched in the level before it.
// Explorers never mutate server state.
type Explorer struct {
	session *Session

	mu      sync.Mutex
	state   ExplorerState
	current *Level
}

// State returns the traversal state.
func (e *Explorer) State() ExplorerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset returns the explorer to the unstarted state.
func (e *Explorer) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = ExplorerUnstarted
	e.current = nil
}

// Next returns the next level. The first call fetches the root level; later
// calls collect the children of the previous level's dispatched nodes. It
// returns ErrExhausted when there is nothing left, and the call after that
// starts again from the root. A failed fetch leaves the cursor where it was.
func (e *Explorer) Next(ctx context.Context) (*Level, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case ExplorerExhausted:
		e.state = ExplorerUnstarted
		e.current = nil
		fallthrough
	case ExplorerUnstarted:
		entries, err := e.session.explore(ctx, "")
		if err != nil {
			return nil, err
		}
		return e.advance(&Level{nodes: newNodes(entries, 0)})
	default:
		var nodes []*Node
		for _, n := range e.current.nodes {
			nodes = append(nodes, n.Children()...)
		}
		return e.advance(&Level{depth: e.current.depth + 1, nodes: nodes})
	}
}

func (e *Explorer) advance(level *Level) (*Level, error) {
	if len(level.nodes) == 0 {
		e.state = ExplorerExhausted
		e.current = nil
		return nil, ErrExhausted
	}
	e.state = ExplorerProducing
	e.current = level
	return level, nil
}

// Levels ranges over the levels from the root, restarting the explorer
// first. Iteration stops after the last level; a fetch failure is yielded
// once and ends the sequence.
func (e *Explorer) Levels(ctx context.Context) iter.Seq2[*Level, error] {
	return func(yield func(*Level, error) bool) {
		e.Reset()
		for {
			level, err := e.Next(ctx)
			if errors.Is(err, ErrExhausted) {
				return
			}
			if !yield(level, err) || err != nil {
				return
			}
		}
	}
}

// Level is a snapshot of one depth of the explored structure.
type Level struct {
	depth int
	nodes []*Node
}

func (l *Level) Depth() int { return l.depth }

func (l *Level) Len() int { return len(l.nodes) }

// Nodes returns the level's nodes in server order.
func (l *Level) Nodes() []*Node {
	return append([]*Node(nil), l.nodes...)
}

// Values returns the values of every node, in order.
func (l *Level) Values() [][]string {
	out := make([][]string, len(l.nodes))
	for i, n := range l.nodes {
		out[i] = n.Values()
	}
	return out
}

// DispatchAll dispatches every node of the level on s, stopping at the
// first failure.
func (l *Level) DispatchAll(ctx context.Context, s *Session) error {
	for _, n := range l.nodes {
		if err := n.Dispatch(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Node is one element of a level.
type Node struct {
	token  string
	values []string
	depth  int

	mu         sync.Mutex
	dispatched bool
	children   []*Node
}

func newNodes(entries []protocol.ExploreEntry, depth int) []*Node {
	nodes := make([]*Node, len(entries))
	for i, entry := range entries {
		nodes[i] = &Node{
			token:  entry.Token,
			values: append([]string(nil), entry.Values...),
			depth:  depth,
		}
	}
	return nodes
}

// Token identifies the node to the server.
func (n *Node) Token() string { return n.token }

func (n *Node) Depth() int { return n.depth }

// Values returns the literal values at the node.
func (n *Node) Values() []string {
	return append([]string(nil), n.values...)
}

// Dispatch fetches the node's children on s so they appear in the next
// level. Dispatching an already dispatched node does nothing; a failed
// dispatch may be retried.
func (n *Node) Dispatch(ctx context.Context, s *Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dispatched {
		return nil
	}
	entries, err := s.explore(ctx, n.token)
	if err != nil {
		return err
	}
	n.children = newNodes(entries, n.depth+1)
	n.dispatched = true
	return nil
}

// Dispatched reports whether the node's children have been fetched.
func (n *Node) Dispatched() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dispatched
}

// Children returns the fetched children; nil until dispatched.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Node(nil), n.children...)
}
