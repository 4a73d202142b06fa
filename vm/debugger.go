package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Debugger: line-oriented stepping console over a VM
// ---------------------------------------------------------------------------

// Debugger drives a VM one command at a time:
//
//	r  execute the next instruction
//	s  show the next instruction and the stack
//	c  execute the next instruction, then show
//	h  list commands
//	q  quit
//
// An empty line repeats the previous command; before any command that is s.
type Debugger struct {
	vm   *VM
	in   *bufio.Scanner
	out  io.Writer
	last string
}

// NewDebugger creates a debugger reading commands from in and writing its
// prompts and listings to out. Program output still goes to the VM's own
// writer.
func NewDebugger(vm *VM, in io.Reader, out io.Writer) *Debugger {
	return &Debugger{
		vm:   vm,
		in:   bufio.NewScanner(in),
		out:  out,
		last: "s",
	}
}

// Run processes commands until the program halts, an instruction fails,
// the user quits, input ends, or ctx is cancelled.
func (d *Debugger) Run(ctx context.Context) error {
	for !d.vm.IsHalted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(d.out, "> ")
		if !d.in.Scan() {
			fmt.Fprintln(d.out)
			return d.in.Err()
		}

		cmd := strings.TrimSpace(d.in.Text())
		if cmd == "" {
			cmd = d.last
		}
		d.last = cmd

		switch cmd {
		case "r":
			if err := d.vm.Step(); err != nil {
				return err
			}
		case "s":
			d.show()
		case "c":
			if err := d.vm.Step(); err != nil {
				return err
			}
			d.show()
		case "h":
			d.help()
		case "q":
			return nil
		default:
			fmt.Fprintf(d.out, "unknown command %q, h for help\n", cmd)
		}
	}
	fmt.Fprintln(d.out, "<Halted>")
	return nil
}

// show prints the next instruction and the stack, bottom first.
func (d *Debugger) show() {
	fmt.Fprintln(d.out, "<Next Instruction>")
	if in, ok := d.vm.CurrentInstruction(); ok {
		fmt.Fprintln(d.out, in)
	} else {
		fmt.Fprintln(d.out, "<end of code>")
	}

	var sb strings.Builder
	sb.WriteString("[")
	for _, v := range d.vm.StackSnapshot() {
		sb.WriteString(" ")
		sb.WriteString(v.String())
	}
	sb.WriteString(" ]")
	fmt.Fprintf(d.out, "<Stack>\n%s\n\n", sb.String())
}

func (d *Debugger) help() {
	fmt.Fprintln(d.out, "r - run the next instruction")
	fmt.Fprintln(d.out, "s - show the next instruction and the stack")
	fmt.Fprintln(d.out, "c - run the next instruction, then show")
	fmt.Fprintln(d.out, "h - print this help")
	fmt.Fprintln(d.out, "q - quit")
}
