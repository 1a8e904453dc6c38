package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/theeyeofcthulhu/least/internal/ast"
	"github.com/theeyeofcthulhu/least/internal/cli"
	"github.com/theeyeofcthulhu/least/internal/diagnostic"
	"github.com/theeyeofcthulhu/least/internal/driver"
	"github.com/theeyeofcthulhu/least/internal/log"
	"github.com/theeyeofcthulhu/least/internal/objfile"
)

// Compile is the command that translates least source into an ELF64 relocatable object.
//
//	leastc compile [-o a.o] [-dot FILE] [-r] [-debug] FILE
func Compile() cli.Command {
	return &compile{output: "a.o"}
}

type compile struct {
	debug  bool
	run    bool
	output string
	dot    string
	fs     *flag.FlagSet
}

func (compile) Description() string {
	return "compile source into an ELF64 relocatable object"
}

func (compile) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `compile [-o a.o] [-dot FILE] [-r] FILE

Compile least source into an ELF64 relocatable object.`)

	return err
}

func (c *compile) FlagSet() *cli.FlagSet {
	if c.fs != nil {
		return c.fs
	}

	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&c.run, "r", false, "link and run the produced executable")
	fs.StringVar(&c.output, "o", "a.o", "output `filename`")
	fs.StringVar(&c.dot, "dot", "", "also write a Graphviz dump of the AST to `filename`")
	c.fs = fs

	return fs
}

// Run reads args[0], compiles it, and writes the object file. A -dot path additionally dumps
// the AST as Graphviz; -r best-effort links and runs the result (failure here is reported but
// does not change the compiler's own exit code.
func (c *compile) Run(_ context.Context, args []string, _ io.Writer, logger *log.Logger) int {
	if c.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) != 1 {
		logger.Error("expected exactly one source file")
		return 1
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		diagnostic.Print(&diagnostic.Fatal{File: args[0], Msg: fmt.Sprintf("cannot read source file: %v", err)})
		return 1
	}

	result, err := driver.Compile(args[0], string(source), logger)
	if err != nil {
		diagnostic.Print(err)
		return 1
	}

	if c.dot != "" {
		if err := c.writeDot(result.Root); err != nil {
			logger.Error("dot dump failed", "file", c.dot, "err", err)
			return 1
		}
	}

	if err := objfile.WriteFile(c.output, result.Ctx, result.Text, result.Relas, result.Labels); err != nil {
		diagnostic.Print(&diagnostic.Fatal{File: c.output, Msg: fmt.Sprintf("cannot write object file: %v", err)})
		return 1
	}

	logger.Debug("compiled object", "out", c.output, "text_bytes", len(result.Text))

	if c.run {
		c.linkAndRun(logger)
	}

	return 0
}

func (c *compile) writeDot(root *ast.Node) error {
	f, err := os.Create(c.dot)
	if err != nil {
		return err
	}
	defer f.Close()

	return ast.Dot(f, root)
}

// linkAndRun shells out to cc to link the object against the prebuilt uprint/putchar runtime
// (out of scope, kept best-effort: a missing linker or runtime objects is reported
// but does not flip the compiler's own success exit code).
func (c *compile) linkAndRun(logger *log.Logger) {
	exe := c.output + ".bin"

	link := exec.Command("cc", "-no-pie", "-o", exe, c.output, "uprint.o", "putchar.o")
	if out, err := link.CombinedOutput(); err != nil {
		logger.Warn("link failed", "err", err, "output", string(out))
		return
	}

	run := exec.Command(exe)
	run.Stdout = os.Stdout
	run.Stderr = os.Stderr

	if err := run.Run(); err != nil {
		logger.Warn("run failed", "err", err)
	}
}
