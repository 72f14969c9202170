package harness

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// scenarioSchema is the CUE shape of a scenario file. Definitions are
// closed, so unknown fields fail here before the YAML decoder sees them.
const scenarioSchema = `
#Scenario: {
	name:        string & !=""
	description: string
	peers: [string, ...string]
	root_id?: string & !=""
	orphans?: "attach" | "detach"
	steps: [...#Step]
	assertions: [#Assertion, ...#Assertion]
}

#Step: #Move | #Rename | #Set | #Undo | #Redo | #Sync

#Move: {
	action: "move"
	peer:   string
	child:  string & !=""
	parent: string & !=""
}

#Rename: {
	action: "rename"
	peer:   string
	id:     string & !=""
	name:   string
}

#Set: {
	action: "set"
	peer:   string
	id:     string & !=""
	key:    string & !=""
	value?: int | string | null
}

#Undo: {
	action: "undo"
	peer:   string
}

#Redo: {
	action: "redo"
	peer:   string
}

#Sync: {
	action:     "sync"
	from?:      string
	to?:        string
	order?:     "forward" | "reverse"
	duplicate?: bool
}

#Assertion: #Parent | #Name | #Rooted | #Detached | #Converged

#Parent: {
	type:   "parent"
	peer?:  string
	node:   string & !=""
	parent: string & !=""
}

#Name: {
	type:  "name"
	peer?: string
	node:  string & !=""
	name:  string
}

#Rooted: {
	type:  "rooted"
	peer?: string
	nodes: [string, ...string]
}

#Detached: {
	type:  "detached"
	peer?: string
	nodes: [...string]
}

#Converged: {
	type: "converged"
}
`

var (
	schemaMu    sync.Mutex // a cue.Context is not safe for concurrent use
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaCtx   *cue.Context
)

// scenarioDef compiles the schema once per process.
func scenarioDef() (*cue.Context, cue.Value) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaValue = schemaCtx.CompileString(scenarioSchema, cue.Filename("scenario.cue"))
	})
	return schemaCtx, schemaValue.LookupPath(cue.ParsePath("#Scenario"))
}

// SchemaError is one schema violation.
type SchemaError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e SchemaError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// CheckSchema validates raw scenario YAML against the scenario schema.
// Returns nil when the document conforms.
func CheckSchema(data []byte) []SchemaError {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []SchemaError{{Message: fmt.Sprintf("failed to parse YAML: %v", err)}}
	}
	if doc == nil {
		return []SchemaError{{Message: "scenario is empty"}}
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, def := scenarioDef()
	if err := def.Err(); err != nil {
		return []SchemaError{{Message: fmt.Sprintf("schema: %v", err)}}
	}

	v := ctx.Encode(doc)
	err := def.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var out []SchemaError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, SchemaError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		out = append(out, SchemaError{Message: err.Error()})
	}
	return out
}
