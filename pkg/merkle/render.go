package merkle

import (
	"fmt"
	"strings"
)

// Render draws the node array as an indented tree, one "index) hash" line per node,
// left subtree first.
func (t *StandardTree) Render() string {
	var sb strings.Builder
	type frame struct {
		index  int
		prefix string
		last   bool
		root   bool
	}
	stack := []frame{{index: 0, root: true}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		childPrefix := f.prefix
		if !f.root {
			connector := "├─ "
			childPrefix += "│  "
			if f.last {
				connector = "└─ "
				childPrefix = f.prefix + "   "
			}
			sb.WriteString(f.prefix)
			sb.WriteString(connector)
		}
		sb.WriteString(fmt.Sprintf("%d) %s\n", f.index, HashHex(t.tree[f.index])))

		if r := rightChild(f.index); r < len(t.tree) {
			stack = append(stack,
				frame{index: r, prefix: childPrefix, last: true},
				frame{index: leftChild(f.index), prefix: childPrefix},
			)
		}
	}
	return sb.String()
}
