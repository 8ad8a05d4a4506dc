package contracts

// Kind discriminates the construct variants a bundle may contain.
type Kind string

const (
	KindTypeDecl  Kind = "TypeDecl"
	KindFact      Kind = "Fact"
	KindPersona   Kind = "Persona"
	KindEntity    Kind = "Entity"
	KindRule      Kind = "Rule"
	KindOperation Kind = "Operation"
	KindFlow      Kind = "Flow"
	KindSystem    Kind = "System"
	KindBundle    Kind = "Bundle"
)

// Kinds lists the construct kinds in canonical bundle order.
var Kinds = []Kind{
	KindTypeDecl, KindPersona, KindFact, KindEntity,
	KindRule, KindOperation, KindFlow, KindSystem,
}

// Construct is implemented by every bundle member.
type Construct interface {
	ConstructID() string
	ConstructKind() Kind
	Origin() Provenance
}

// TypeDecl names a reusable type.
type TypeDecl struct {
	ID   string     `json:"id"`
	Body *Type      `json:"body"`
	Prov Provenance `json:"provenance"`
}

func (t *TypeDecl) ConstructID() string   { return t.ID }
func (t *TypeDecl) ConstructKind() Kind   { return KindTypeDecl }
func (t *TypeDecl) Origin() Provenance    { return t.Prov }

// Fact declares an externally supplied typed input. Source descriptors are
// opaque to the core; the runtime receives facts already resolved to values.
type Fact struct {
	ID      string         `json:"id"`
	Type    *Type          `json:"type"`
	Default *Value         `json:"default,omitempty"`
	Source  map[string]any `json:"source,omitempty"`
	Prov    Provenance     `json:"provenance"`
}

func (f *Fact) ConstructID() string { return f.ID }
func (f *Fact) ConstructKind() Kind { return KindFact }
func (f *Fact) Origin() Provenance  { return f.Prov }

// Persona is an abstract authority role. Mapping concrete identities onto
// personas happens outside the core.
type Persona struct {
	ID   string     `json:"id"`
	Prov Provenance `json:"provenance"`
}

func (p *Persona) ConstructID() string { return p.ID }
func (p *Persona) ConstructKind() Kind { return KindPersona }
func (p *Persona) Origin() Provenance  { return p.Prov }

// Transition is a legal (from, to) state pair of an entity.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Entity is a finite state machine declaration. Runtime instances are keyed
// by string; contracts that never declare multiple instances degenerate to
// the single synthetic instance id.
type Entity struct {
	ID          string       `json:"id"`
	States      []string     `json:"states"`
	Initial     string       `json:"initial"`
	Transitions []Transition `json:"transitions"`
	InstanceKey string       `json:"instance_key,omitempty"` // fact ref
	Prov        Provenance   `json:"provenance"`
}

func (e *Entity) ConstructID() string { return e.ID }
func (e *Entity) ConstructKind() Kind { return KindEntity }
func (e *Entity) Origin() Provenance  { return e.Prov }

// HasState reports whether s is a declared state of the entity.
func (e *Entity) HasState(s string) bool {
	for _, st := range e.States {
		if st == s {
			return true
		}
	}
	return false
}

// HasTransition reports whether (from, to) is a declared transition.
func (e *Entity) HasTransition(from, to string) bool {
	for _, tr := range e.Transitions {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

// Produce is a rule's production clause.
type Produce struct {
	VerdictType string `json:"verdict_type"`
	PayloadType *Type  `json:"payload_type,omitempty"`
	Payload     *Expr  `json:"payload,omitempty"`
}

// Rule produces a verdict when its predicate holds over a snapshot.
type Rule struct {
	ID      string     `json:"id"`
	Stratum int        `json:"stratum"`
	When    *Expr      `json:"when"`
	Produce Produce    `json:"produce"`
	Prov    Provenance `json:"provenance"`
}

func (r *Rule) ConstructID() string { return r.ID }
func (r *Rule) ConstructKind() Kind { return KindRule }
func (r *Rule) Origin() Provenance  { return r.Prov }

// Effect declares a state transition an operation applies on success. An
// empty Outcome means the effect applies under every outcome of the
// operation.
type Effect struct {
	Entity  string `json:"entity"`
	From    string `json:"from"`
	To      string `json:"to"`
	Outcome string `json:"outcome,omitempty"`
}

// Operation is a persona-gated atomic action. Invocations either apply all
// their effects or none.
type Operation struct {
	ID              string     `json:"id"`
	AllowedPersonas []string   `json:"allowed_personas"`
	Precondition    *Expr      `json:"precondition,omitempty"`
	Effects         []Effect   `json:"effects"`
	ErrorContract   []string   `json:"error_contract,omitempty"`
	Outcomes        []string   `json:"outcomes,omitempty"`
	Prov            Provenance `json:"provenance"`
}

func (o *Operation) ConstructID() string { return o.ID }
func (o *Operation) ConstructKind() Kind { return KindOperation }
func (o *Operation) Origin() Provenance  { return o.Prov }

// AllowsPersona reports whether p may invoke the operation.
func (o *Operation) AllowsPersona(p string) bool {
	for _, a := range o.AllowedPersonas {
		if a == p {
			return true
		}
	}
	return false
}

// EffectsFor returns the effects applicable under the named outcome:
// effects labeled with it plus unlabeled effects.
func (o *Operation) EffectsFor(outcome string) []Effect {
	var out []Effect
	for _, e := range o.Effects {
		if e.Outcome == "" || e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

// SnapshotAtInitiation is the only snapshot mode: the verdict set is frozen
// when the flow enters and never recomputed.
const SnapshotAtInitiation = "at_initiation"

// Flow is an acyclic step graph orchestrating operations.
type Flow struct {
	ID           string           `json:"id"`
	SnapshotMode string           `json:"snapshot_mode"`
	Entry        string           `json:"entry"`
	Steps        map[string]*Step `json:"steps"`
	Prov         Provenance       `json:"provenance"`
}

func (f *Flow) ConstructID() string { return f.ID }
func (f *Flow) ConstructKind() Kind { return KindFlow }
func (f *Flow) Origin() Provenance  { return f.Prov }

// Trigger relates a flow outcome in one member contract to a flow entry in
// another.
type Trigger struct {
	FromContract string `json:"from_contract"`
	FromFlow     string `json:"from_flow"`
	Outcome      string `json:"outcome"`
	ToContract   string `json:"to_contract"`
	ToFlow       string `json:"to_flow"`
	Persona      string `json:"persona"`
}

// System composes member contracts with shared personas/entities and
// cross-contract triggers.
type System struct {
	ID             string     `json:"id"`
	Members        []string   `json:"members"`
	SharedPersonas []string   `json:"shared_personas,omitempty"`
	SharedEntities []string   `json:"shared_entities,omitempty"`
	Triggers       []Trigger  `json:"triggers,omitempty"`
	Prov           Provenance `json:"provenance"`
}

func (s *System) ConstructID() string { return s.ID }
func (s *System) ConstructKind() Kind { return KindSystem }
func (s *System) Origin() Provenance  { return s.Prov }
