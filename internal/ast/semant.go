package ast

import "github.com/theeyeofcthulhu/least/internal/compiler"

// argClass is the type-class a function signature checks an argument against.
type argClass int

const (
	classNumGeneral argClass = iota // any node that evaluates to an int.
	classInMemory                   // must address memory: Var(int) or Access.
	classExactVar                   // must be a bare, freshly named Var node.
	classExactConst                 // must be a Const node.
	classLstr                       // must be an Lstr node.
)

type argSpec struct {
	class    argClass
	defines  bool
	defineAs compiler.VarType
}

type funcSpec struct {
	name string
	args []argSpec
}

// funcSpecs is the per-function signature table: each builtin's fixed arity and, per
// argument, the class it must belong to and whether it defines a new variable.
var funcSpecs = map[compiler.FuncID]funcSpec{
	compiler.FuncPrint:  {"print", []argSpec{{class: classLstr}}},
	compiler.FuncExit:   {"exit", []argSpec{{class: classNumGeneral}}},
	compiler.FuncRead:   {"read", []argSpec{{class: classInMemory, defines: true, defineAs: compiler.TypeStr}}},
	compiler.FuncSet:    {"set", []argSpec{{class: classInMemory}, {class: classNumGeneral}}},
	compiler.FuncAdd:    {"add", []argSpec{{class: classInMemory}, {class: classNumGeneral}}},
	compiler.FuncSub:    {"sub", []argSpec{{class: classInMemory}, {class: classNumGeneral}}},
	compiler.FuncPutchar: {"putchar", []argSpec{{class: classNumGeneral}}},
	compiler.FuncInt: {"int", []argSpec{
		{class: classExactVar, defines: true, defineAs: compiler.TypeInt},
		{class: classNumGeneral},
	}},
	compiler.FuncStr: {"str", []argSpec{
		{class: classExactVar, defines: true, defineAs: compiler.TypeStr},
		{class: classLstr},
	}},
	compiler.FuncArray: {"array", []argSpec{
		{class: classExactVar, defines: true, defineAs: compiler.TypeArray},
		{class: classExactConst},
	}},
	compiler.FuncBreak:    {"break", nil},
	compiler.FuncContinue: {"continue", nil},
}

// Check runs the semantic pass over root: post-order traversal checking function signatures,
// variable definedness and types, and assigning stack offsets.
// It panics with a *diagnostic.Fatal on any semantic error.
func Check(ctx *compiler.Context, root *Node) {
	checkNode(ctx, root)
}

func checkNode(ctx *compiler.Context, n *Node) {
	if n == nil {
		return
	}
	ctx.Err.SetLine(n.Line + 1)

	switch n.Kind {
	case KBody:
		for _, c := range n.Children {
			checkNode(ctx, c)
		}
	case KIf:
		checkNode(ctx, n.Condition)
		checkNode(ctx, n.Block)
		checkNode(ctx, n.Elif)
	case KElse:
		checkNode(ctx, n.Block)
	case KWhile:
		checkNode(ctx, n.Condition)
		checkNode(ctx, n.Block)
	case KCmp:
		checkNode(ctx, n.Left)
		checkNode(ctx, n.Right)
	case KLog:
		checkNode(ctx, n.Left)
		checkNode(ctx, n.Right)
	case KArit:
		checkNode(ctx, n.Left)
		checkNode(ctx, n.Right)
	case KLstr:
		for _, f := range n.Format {
			checkNode(ctx, f)
		}
	case KFunc:
		checkFunc(ctx, n)
	case KVar:
		v := ctx.Var(n.VarID)
		ctx.Err.OnFalse(v.Defined, "use of undefined variable %q", v.Name)
		ctx.Err.OnFalse(!v.IsArray, "%q is an array; use %s{index}", v.Name, v.Name)
	case KAccess:
		checkNode(ctx, n.Index)
		v := ctx.Var(n.VarID)
		ctx.Err.OnFalse(v.Defined, "use of undefined variable %q", v.Name)
		ctx.Err.OnFalse(v.IsArray, "%q is not an array", v.Name)
	case KConst, KStr, KVFunc:
		// leaves; nothing further to check.
	}
}

func checkFunc(ctx *compiler.Context, n *Node) {
	spec, ok := funcSpecs[n.FuncID]
	ctx.Err.OnFalse(ok, "internal error: unknown function id %v", n.FuncID)
	ctx.Err.OnFalse(len(n.Args) == len(spec.args),
		"%s: expected %d argument(s), got %d", spec.name, len(spec.args), len(n.Args))

	for i, a := range spec.args {
		arg := n.Args[i]
		ctx.Err.SetLine(arg.Line + 1)
		checkArgClass(ctx, spec.name, i, a.class, arg)

		if a.defines {
			v := ctx.Var(arg.VarID)
			if n.FuncID == compiler.FuncRead && v.Defined {
				// read may target a variable a prior str declaration already defined,
				// reusing its stack slot instead of redefining it.
				ctx.Err.OnFalse(v.Type == a.defineAs, "redefinition of %q with a different type", v.Name)
			} else {
				ctx.Err.OnFalse(!v.Defined, "redefinition of %q", v.Name)
				v.Defined = true
				v.Type = a.defineAs
			}
		} else {
			checkNode(ctx, arg)
		}
	}

	switch n.FuncID {
	case compiler.FuncInt:
		v := ctx.Var(n.Args[0].VarID)
		v.StackUnits = 1
		v.StackOffset = ctx.AllocateStack(1)
	case compiler.FuncArray:
		v := ctx.Var(n.Args[0].VarID)
		v.IsArray = true
		count := n.Args[1].ConstVal
		ctx.Err.OnFalse(count > 0, "array size must be positive, got %d", count)
		v.StackUnits = count
		v.StackOffset = ctx.AllocateStack(count)
	case compiler.FuncStr:
		v := ctx.Var(n.Args[0].VarID)
		v.StackUnits = 1
		v.StackOffset = ctx.AllocateStack(1)
	case compiler.FuncRead:
		v := ctx.Var(n.Args[0].VarID)
		if v.StackUnits == 0 {
			v.StackUnits = 1
			v.StackOffset = ctx.AllocateStack(1)
		}
	}
}

func checkArgClass(ctx *compiler.Context, fn string, idx int, class argClass, arg *Node) {
	switch class {
	case classNumGeneral:
		ok := false
		switch arg.Kind {
		case KConst, KArit, KAccess:
			ok = true
		case KVar:
			t := ctx.Var(arg.VarID).Type
			ok = t == compiler.TypeInt || t == compiler.TypeUnsure
		case KVFunc:
			ok = arg.ReturnType == compiler.TypeInt
		}
		ctx.Err.OnFalse(ok, "%s: argument %d must evaluate to an int", fn, idx)
	case classInMemory:
		ctx.Err.OnFalse(arg.Kind == KVar || arg.Kind == KAccess,
			"%s: argument %d must be a variable or array access", fn, idx)
	case classExactVar:
		ctx.Err.OnFalse(arg.Kind == KVar, "%s: argument %d must be a plain variable name", fn, idx)
	case classExactConst:
		ctx.Err.OnFalse(arg.Kind == KConst, "%s: argument %d must be a constant", fn, idx)
	case classLstr:
		ctx.Err.OnFalse(arg.Kind == KLstr, "%s: argument %d must be a string literal", fn, idx)
	}
}
