package dialog

import "fmt"

// Dialog is a complete named graph of nodes (spec.md §4.7): the unit a
// Dialog Runtime loads and validates before driving a call through it.
type Dialog struct {
	Name  string
	Nodes map[[20]byte]*Node

	// Globals holds the apply-globals destinations available to any
	// node whose ApplyGlobals flag is set, keyed by the same option
	// digit/string an OPTION node's own OptionItems use.
	Globals map[string]Destination

	EntryNode string
}

// NewDialog builds an empty Dialog ready to have nodes added.
func NewDialog(name, entryNode string) *Dialog {
	return &Dialog{
		Name:      name,
		Nodes:     make(map[[20]byte]*Node),
		Globals:   make(map[string]Destination),
		EntryNode: entryNode,
	}
}

// AddNode registers a node under its NameHash.
func (d *Dialog) AddNode(n *Node) {
	d.Nodes[NameHash(n.Name)] = n
}

// Node looks up a node by name.
func (d *Dialog) Node(name string) (*Node, bool) {
	n, ok := d.Nodes[NameHash(name)]
	return n, ok
}

// NodeByHash looks up a node by its precomputed name hash.
func (d *Dialog) NodeByHash(hash [20]byte) (*Node, bool) {
	n, ok := d.Nodes[hash]
	return n, ok
}

// Entry returns the dialog's starting node.
func (d *Dialog) Entry() (*Node, error) {
	n, ok := d.Node(d.EntryNode)
	if !ok {
		return nil, fmt.Errorf("dialog %q: entry node %q not found", d.Name, d.EntryNode)
	}
	return n, nil
}
