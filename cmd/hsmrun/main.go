package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"

	hsm "github.com/goliatone/go-hsm"
	"github.com/goliatone/go-hsm/graph"
)

var cli struct {
	Verbose bool `help:"Enable debug logging." short:"v"`

	Validate ValidateCmd `cmd:"" help:"Parse and compile a machine document, reporting any configuration errors."`
	Graph    GraphCmd    `cmd:"" help:"Render a machine document as a Mermaid or DOT diagram."`
	Run      RunCmd      `cmd:"" help:"Compile a machine document and fire a sequence of events against it."`
}

type ValidateCmd struct {
	File string `arg:"" type:"existingfile" help:"Machine document (YAML)."`
}

type GraphCmd struct {
	File      string `arg:"" type:"existingfile" help:"Machine document (YAML)."`
	Format    string `enum:"mermaid,dot" default:"mermaid" help:"Output format."`
	Direction string `enum:"tb,bt,lr,rl" default:"tb" help:"Mermaid flow direction."`
}

type RunCmd struct {
	File   string            `arg:"" type:"existingfile" help:"Machine document (YAML)."`
	Events []string          `name:"event" short:"e" help:"Events to fire in order."`
	Guards map[string]bool   `name:"guard" help:"Guard results, e.g. --guard is_ready=true. Unlisted guards report false."`
	Update int               `help:"Number of update ticks to run after the events."`
	Args   map[string]string `name:"arg" help:"String args forwarded to every fire, keyed for readability only."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("hsmrun"),
		kong.Description("Inspect and exercise hierarchical state machine documents."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func (c *ValidateCmd) Run() error {
	doc, f, err := loadDocument(c.File, nil)
	if err != nil {
		return err
	}
	fmt.Printf("ok: machine %q, %d states, %d transitions\n", f.ID(), len(f.States()), len(doc.Transitions))
	return nil
}

func (c *GraphCmd) Run() error {
	_, f, err := loadDocument(c.File, nil)
	if err != nil {
		return err
	}

	switch c.Format {
	case "dot":
		fmt.Print(graph.DOT[string, string](f))
	default:
		fmt.Print(graph.Mermaid[string, string](f, parseDirection(c.Direction)))
	}
	return nil
}

func (c *RunCmd) Run() error {
	_, f, err := loadDocument(c.File, c.Guards)
	if err != nil {
		return err
	}

	inst, err := f.Create(&runContext{})
	if err != nil {
		return err
	}

	fmt.Printf("start: %s\n", inst.CurrentState())
	args := flattenArgs(c.Args)
	for _, event := range c.Events {
		if err := inst.Fire(event, args...); err != nil {
			if hsm.IsEventNotAccepted(err) {
				fmt.Printf("fire %s: not accepted in %s\n", event, inst.CurrentState())
				continue
			}
			return err
		}
		fmt.Printf("fire %s: now in %s\n", event, inst.CurrentState())
	}
	for i := 0; i < c.Update; i++ {
		if err := inst.Update(args...); err != nil {
			return err
		}
	}
	fmt.Printf("final: %s\n", inst.CurrentState())
	return nil
}

// runContext is the recipient handed to every callback when running from the
// command line.
type runContext struct{}

// loadDocument builds a factory from a document file with stub callbacks:
// every referenced action prints its name, every referenced guard reports the
// value configured on the command line (false when unlisted).
func loadDocument(path string, guardValues map[string]bool) (*hsm.MachineDocument, *hsm.Factory[string, string, *runContext], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read document: %w", err)
	}

	doc, err := hsm.ParseMachineDocument(data)
	if err != nil {
		return nil, nil, err
	}

	guards := hsm.NewGuardRegistry[*runContext]()
	for _, name := range doc.GuardNames() {
		name := name
		result := guardValues[name]
		if err := guards.Register(name, hsm.Check[*runContext](func() bool {
			if cli.Verbose {
				fmt.Printf("guard %s -> %s\n", name, strconv.FormatBool(result))
			}
			return result
		})); err != nil {
			return nil, nil, err
		}
	}

	actions := hsm.NewActionRegistry[*runContext]()
	for _, name := range doc.ActionNames() {
		name := name
		if err := actions.Register(name, hsm.Action[*runContext](func() error {
			if cli.Verbose {
				fmt.Printf("action %s\n", name)
			}
			return nil
		})); err != nil {
			return nil, nil, err
		}
	}

	f, err := hsm.BuildMachine(doc, guards, actions)
	if err != nil {
		return nil, nil, err
	}
	return doc, f, nil
}

func parseDirection(s string) graph.Direction {
	switch strings.ToLower(s) {
	case "bt":
		return graph.BottomToTop
	case "lr":
		return graph.LeftToRight
	case "rl":
		return graph.RightToLeft
	default:
		return graph.TopToBottom
	}
}

func flattenArgs(m map[string]string) []any {
	if len(m) == 0 {
		return nil
	}
	out := make([]any, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
