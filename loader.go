package hsm

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MachineDocument is the declarative YAML/JSON form of a machine. Guards and
// actions are referenced by name and resolved against registries when the
// document is built.
type MachineDocument struct {
	Machine     MachineHeader   `yaml:"machine"`
	States      []StateDoc      `yaml:"states"`
	Transitions []TransitionDoc `yaml:"transitions"`
}

// MachineHeader carries machine-level settings.
type MachineHeader struct {
	ID           string `yaml:"id"`
	Initial      string `yaml:"initial"`
	EntryPolicy  string `yaml:"entry_policy"`
	ExitPolicy   string `yaml:"exit_policy"`
	InitialEntry string `yaml:"initial_entry"`
}

// StateDoc declares one state with optional parent and named callbacks.
type StateDoc struct {
	Name   string   `yaml:"name"`
	Parent string   `yaml:"parent"`
	Entry  []string `yaml:"entry"`
	Exit   []string `yaml:"exit"`
	Update []string `yaml:"update"`
}

// TransitionDoc declares the chain for one (state, event) pair.
type TransitionDoc struct {
	From        string    `yaml:"from"`
	Event       string    `yaml:"event"`
	Steps       []StepDoc `yaml:"steps"`
	EntryPolicy string    `yaml:"entry_policy"`
	ExitPolicy  string    `yaml:"exit_policy"`
}

// StepDoc is one chain node; exactly one of its fields may be set. An If step
// carries its branch chain in Then.
type StepDoc struct {
	Do   string    `yaml:"do"`
	If   string    `yaml:"if"`
	Then []StepDoc `yaml:"then"`
	GoTo string    `yaml:"goto"`
	Self bool      `yaml:"self"`
	Stay bool      `yaml:"stay"`
}

// ParseMachineDocument parses YAML (or JSON, which yaml handles too) into a
// validated document.
func ParseMachineDocument(data []byte) (*MachineDocument, error) {
	var doc MachineDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, cloneError(ErrConfiguration, "failed to parse machine document", err, nil)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate performs document-level checks ahead of compilation.
func (d *MachineDocument) Validate() error {
	meta := machineMeta(d.Machine.ID)
	if len(d.States) == 0 {
		return cloneError(ErrConfiguration, "machine document declares no states", nil, meta)
	}
	if strings.TrimSpace(d.Machine.Initial) == "" {
		return cloneError(ErrConfiguration, "machine document requires an initial state", nil, meta)
	}
	seen := make(map[string]struct{}, len(d.States))
	for _, st := range d.States {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return cloneError(ErrConfiguration, "machine document has a state with empty name", nil, meta)
		}
		if _, dup := seen[name]; dup {
			return cloneError(ErrConfiguration,
				fmt.Sprintf("machine document has duplicate state %q", name), nil, meta)
		}
		seen[name] = struct{}{}
	}
	for _, tr := range d.Transitions {
		if strings.TrimSpace(tr.From) == "" || strings.TrimSpace(tr.Event) == "" {
			return cloneError(ErrConfiguration,
				"machine document transition requires from and event", nil, meta)
		}
		if err := validateSteps(tr.Steps, meta); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(steps []StepDoc, meta map[string]any) error {
	for _, s := range steps {
		set := 0
		if strings.TrimSpace(s.Do) != "" {
			set++
		}
		if strings.TrimSpace(s.If) != "" {
			set++
		}
		if strings.TrimSpace(s.GoTo) != "" {
			set++
		}
		if s.Self {
			set++
		}
		if s.Stay {
			set++
		}
		if set != 1 {
			return cloneError(ErrConfiguration,
				"machine document step must set exactly one of do, if, goto, self, stay", nil, meta)
		}
		if len(s.Then) > 0 && strings.TrimSpace(s.If) == "" {
			return cloneError(ErrConfiguration,
				"machine document step uses then without if", nil, meta)
		}
		if err := validateSteps(s.Then, meta); err != nil {
			return err
		}
	}
	return nil
}

// GuardNames returns every guard name the document references.
func (d *MachineDocument) GuardNames() []string {
	set := map[string]struct{}{}
	var walk func([]StepDoc)
	walk = func(steps []StepDoc) {
		for _, s := range steps {
			if name := strings.TrimSpace(s.If); name != "" {
				set[name] = struct{}{}
			}
			walk(s.Then)
		}
	}
	for _, tr := range d.Transitions {
		walk(tr.Steps)
	}
	return sortedKeys(set)
}

// ActionNames returns every action name the document references.
func (d *MachineDocument) ActionNames() []string {
	set := map[string]struct{}{}
	var walk func([]StepDoc)
	walk = func(steps []StepDoc) {
		for _, s := range steps {
			if name := strings.TrimSpace(s.Do); name != "" {
				set[name] = struct{}{}
			}
			walk(s.Then)
		}
	}
	for _, st := range d.States {
		for _, name := range st.Entry {
			set[strings.TrimSpace(name)] = struct{}{}
		}
		for _, name := range st.Exit {
			set[strings.TrimSpace(name)] = struct{}{}
		}
		for _, name := range st.Update {
			set[strings.TrimSpace(name)] = struct{}{}
		}
	}
	for _, tr := range d.Transitions {
		walk(tr.Steps)
	}
	delete(set, "")
	return sortedKeys(set)
}

// BuildMachine resolves the document against the provided registries and
// compiles it into a factory keyed by state and event names.
func BuildMachine[R any](doc *MachineDocument, guards *GuardRegistry[R], actions *ActionRegistry[R]) (*Factory[string, string, R], error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	meta := machineMeta(doc.Machine.ID)

	b := NewBuilder[string, string, R]().
		ID(doc.Machine.ID).
		Initial(strings.TrimSpace(doc.Machine.Initial))

	for _, field := range []struct {
		value string
		apply func(Policy) *Builder[string, string, R]
	}{
		{doc.Machine.EntryPolicy, b.DefaultEntryPolicy},
		{doc.Machine.ExitPolicy, b.DefaultExitPolicy},
		{doc.Machine.InitialEntry, b.InitialEntryPolicy},
	} {
		p, err := ParsePolicy(field.value)
		if err != nil {
			return nil, err
		}
		field.apply(p)
	}

	resolveAction := func(name string) (Callback[R], error) {
		cb, ok := actions.Lookup(strings.TrimSpace(name))
		if !ok {
			return Callback[R]{}, cloneError(ErrConfiguration,
				fmt.Sprintf("action %q not found", name), nil, meta)
		}
		return cb, nil
	}

	for _, st := range doc.States {
		sb := b.State(strings.TrimSpace(st.Name))
		if parent := strings.TrimSpace(st.Parent); parent != "" {
			sb.SubstateOf(parent)
		}
		for _, name := range st.Entry {
			cb, err := resolveAction(name)
			if err != nil {
				return nil, err
			}
			sb.OnEntry(cb)
		}
		for _, name := range st.Exit {
			cb, err := resolveAction(name)
			if err != nil {
				return nil, err
			}
			sb.OnExit(cb)
		}
		for _, name := range st.Update {
			cb, err := resolveAction(name)
			if err != nil {
				return nil, err
			}
			sb.OnUpdate(cb)
		}
	}

	for _, trDoc := range doc.Transitions {
		tb := b.State(strings.TrimSpace(trDoc.From)).On(strings.TrimSpace(trDoc.Event))
		if p, err := ParsePolicy(trDoc.EntryPolicy); err != nil {
			return nil, err
		} else if p != PolicyDefault {
			tb.WithEntryPolicy(p)
		}
		if p, err := ParsePolicy(trDoc.ExitPolicy); err != nil {
			return nil, err
		} else if p != PolicyDefault {
			tb.WithExitPolicy(p)
		}
		nodes, err := buildDocNodes(trDoc.Steps, guards, actions, meta)
		if err != nil {
			return nil, err
		}
		tb.tr.nodes = append(tb.tr.nodes, nodes...)
	}

	return b.Finalize()
}

// LoadMachine parses and builds a machine document in one call.
func LoadMachine[R any](data []byte, guards *GuardRegistry[R], actions *ActionRegistry[R]) (*Factory[string, string, R], error) {
	doc, err := ParseMachineDocument(data)
	if err != nil {
		return nil, err
	}
	return BuildMachine(doc, guards, actions)
}

func buildDocNodes[R any](steps []StepDoc, guards *GuardRegistry[R], actions *ActionRegistry[R], meta map[string]any) ([]chainNode[string, R], error) {
	var nodes []chainNode[string, R]
	for _, s := range steps {
		switch {
		case strings.TrimSpace(s.Do) != "":
			cb, ok := actions.Lookup(strings.TrimSpace(s.Do))
			if !ok {
				return nil, cloneError(ErrConfiguration,
					fmt.Sprintf("action %q not found", s.Do), nil, meta)
			}
			nodes = append(nodes, chainNode[string, R]{kind: nodeAction, action: cb})
		case strings.TrimSpace(s.If) != "":
			guard, ok := guards.Lookup(strings.TrimSpace(s.If))
			if !ok {
				return nil, cloneError(ErrConfiguration,
					fmt.Sprintf("guard %q not found", s.If), nil, meta)
			}
			children, err := buildDocNodes(s.Then, guards, actions, meta)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, chainNode[string, R]{kind: nodeBranch, guard: guard, children: children})
		case strings.TrimSpace(s.GoTo) != "":
			nodes = append(nodes, chainNode[string, R]{kind: nodeGoTo, dest: strings.TrimSpace(s.GoTo)})
		case s.Self:
			nodes = append(nodes, chainNode[string, R]{kind: nodeGoToSelf})
		case s.Stay:
			nodes = append(nodes, chainNode[string, R]{kind: nodeStay})
		}
	}
	return nodes, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
