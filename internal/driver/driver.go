// Package driver wires the compiler's passes together: lex, parse, check, lower, and encode.
// Writing the ELF object is left to the caller. It exists as its own package, rather than living in internal/compiler,
// because compiler is a leaf dependency of lexer/ast/codegen/objfile -- orchestrating all of
// them from inside compiler itself would be an import cycle. Pass wiring belongs in a driver
// layer above the leaf packages it threads together, not inside one of them.
package driver

import (
	"fmt"

	"github.com/theeyeofcthulhu/least/internal/ast"
	"github.com/theeyeofcthulhu/least/internal/codegen"
	"github.com/theeyeofcthulhu/least/internal/compiler"
	"github.com/theeyeofcthulhu/least/internal/diagnostic"
	"github.com/theeyeofcthulhu/least/internal/lexer"
	"github.com/theeyeofcthulhu/least/internal/log"
)

// Result holds everything a caller might want out of a successful compile: the populated
// context (for -dot, which needs the AST, and for diagnostics), the AST root, and the encoded
// instruction stream ready for internal/objfile.
type Result struct {
	Ctx    *compiler.Context
	Root   *ast.Node
	Text   []byte
	Relas  []codegen.RelaEntry
	Labels []codegen.Label
}

// Compile runs every pass over source in order and recovers the single panic/recover boundary
// every pass shares (internal/diagnostic), converting a *diagnostic.Fatal into a plain error.
// Non-fatal failures (the encoder rejecting an unencodable instruction) are returned directly.
func Compile(file, source string, logger *log.Logger) (result Result, err error) {
	defer diagnostic.Recover(&err)

	ctx := compiler.New(file, logger)

	toks := lexer.Lex(ctx, source)
	logger.Debug("lexed source", "tokens", len(toks))

	root := ast.Parse(ctx, toks)
	logger.Debug("parsed source", "variables", len(ctx.Variables), "strings", len(ctx.Strings))

	ast.Check(ctx, root)
	logger.Debug("checked program", "stack_words", ctx.StackSize)

	ins := codegen.Lower(ctx, root)
	logger.Debug("lowered program", "instructions", len(ins))

	text, relas, labels, encErr := codegen.Encode(ins)
	if encErr != nil {
		return Result{}, fmt.Errorf("driver: %w", encErr)
	}
	logger.Debug("generated object", "text_bytes", len(text), "rodata_bytes", rodataSize(ctx))

	return Result{Ctx: ctx, Root: root, Text: text, Relas: relas, Labels: labels}, nil
}

func rodataSize(ctx *compiler.Context) int {
	n := 0
	for _, s := range ctx.Strings {
		n += len(s)
	}
	return n
}
