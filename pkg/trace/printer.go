package trace

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/multierr"

	"github.com/go-delve/pstack/pkg/config"
)

// Printer writes thread traces in a human readable form.
type Printer struct {
	out    io.Writer
	showSP bool

	header *color.Color
	addr   *color.Color
	name   *color.Color
	faint  *color.Color
}

// NewPrinter returns a printer writing to out. With config.ColorAuto
// colors are used only if out is a terminal.
func NewPrinter(out io.Writer, mode config.ColorMode, showSP bool) *Printer {
	p := &Printer{
		out:    out,
		showSP: showSP,
		header: color.New(color.Bold),
		addr:   color.New(color.FgBlue),
		name:   color.New(color.FgGreen),
		faint:  color.New(color.Faint),
	}

	enable := false
	switch mode {
	case config.ColorAlways:
		enable = true
	case config.ColorAuto:
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			enable = true
		}
	}
	if enable {
		if f, ok := out.(*os.File); ok {
			p.out = colorable.NewColorable(f)
		}
	}
	for _, c := range []*color.Color{p.header, p.addr, p.name, p.faint} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Print writes the header of tt followed by one line per element.
func (p *Printer) Print(tt ThreadTrace) error {
	err := p.printf("%s\n", p.header.Sprintf("trace for thread %d:", tt.Tid))
	for i, e := range tt.Elements {
		line := fmt.Sprintf("  #%d %s", i, p.addr.Sprintf("%#x", e.IP))
		if p.showSP {
			line += " " + p.faint.Sprintf("[sp=%#x]", e.SP)
		}
		if e.Symbolized {
			line += " " + p.name.Sprint(e.Name)
		} else {
			line += " " + e.Name
		}
		err = multierr.Append(err, p.printf("%s\n", line))
	}
	return err
}

func (p *Printer) printf(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(p.out, format, args...)
	return err
}
