package ast

import (
	"fmt"
	"io"
)

// Dot writes root as a Graphviz "dot" graph to w, wired in behind the compile command's
// "-dot" flag as an optional debugging aid.
func Dot(w io.Writer, root *Node) error {
	fmt.Fprintln(w, "digraph ast {")
	fmt.Fprintln(w, "  node [shape=box, fontname=\"monospace\"];")

	id := 0
	var walk func(n *Node) int
	walk = func(n *Node) int {
		if n == nil {
			return -1
		}
		my := id
		id++

		fmt.Fprintf(w, "  n%d [label=%q];\n", my, dotLabel(n))

		link := func(child *Node, edge string) {
			c := walk(child)
			if c >= 0 {
				fmt.Fprintf(w, "  n%d -> n%d [label=%q];\n", my, c, edge)
			}
		}

		switch n.Kind {
		case KBody:
			for i, c := range n.Children {
				link(c, fmt.Sprintf("%d", i))
			}
		case KIf:
			link(n.Condition, "cond")
			link(n.Block, "body")
			link(n.Elif, "elif")
		case KElse:
			link(n.Block, "body")
		case KWhile:
			link(n.Condition, "cond")
			link(n.Block, "body")
		case KCmp, KLog, KArit:
			link(n.Left, "left")
			link(n.Right, "right")
		case KFunc:
			for i, a := range n.Args {
				link(a, fmt.Sprintf("arg%d", i))
			}
		case KLstr:
			for i, f := range n.Format {
				link(f, fmt.Sprintf("%d", i))
			}
		case KAccess:
			link(n.Index, "index")
		}

		return my
	}

	walk(root)
	fmt.Fprintln(w, "}")
	return nil
}

func dotLabel(n *Node) string {
	switch n.Kind {
	case KConst:
		return fmt.Sprintf("const %d", n.ConstVal)
	case KVar:
		return fmt.Sprintf("var #%d", n.VarID)
	case KAccess:
		return fmt.Sprintf("access #%d", n.VarID)
	case KStr:
		return fmt.Sprintf("str #%d", n.StrID)
	case KFunc:
		return fmt.Sprintf("func %s", n.FuncID)
	case KVFunc:
		return fmt.Sprintf("vfunc %s", n.VFuncID)
	case KCmp:
		return fmt.Sprintf("cmp %s", n.CmpOp)
	case KLog:
		return fmt.Sprintf("log %s", n.LogOp)
	case KArit:
		return fmt.Sprintf("arit %s", n.AritOp)
	case KBody:
		return fmt.Sprintf("body #%d", n.BodyID)
	default:
		return n.Kind.String()
	}
}
