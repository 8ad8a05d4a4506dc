package parser

import "github.com/riverline-labs/tenor/core/pkg/contracts"

// File is one parsed source file.
type File struct {
	Path    string
	Imports []*ImportDecl
	Decls   []Decl
}

// HasOnlyTypeLibraryDecls reports whether the file contains solely type and
// persona declarations (plus imports), the shape allowed for transitive
// imports.
func (f *File) HasOnlyTypeLibraryDecls() bool {
	for _, d := range f.Decls {
		switch d.(type) {
		case *TypeDeclNode, *PersonaDecl:
		default:
			return false
		}
	}
	return true
}

// Decl is a top-level declaration.
type Decl interface {
	Pos() contracts.Provenance
	DeclID() string
}

// ImportDecl brings another file's declarations into the compilation unit.
type ImportDecl struct {
	Path string
	Prov contracts.Provenance
}

func (d *ImportDecl) Pos() contracts.Provenance { return d.Prov }
func (d *ImportDecl) DeclID() string            { return d.Path }

// ContractDecl names the compilation unit. At most one per root file.
type ContractDecl struct {
	ID   string
	Prov contracts.Provenance
}

func (d *ContractDecl) Pos() contracts.Provenance { return d.Prov }
func (d *ContractDecl) DeclID() string            { return d.ID }

// TypeDeclNode declares a named type. The body may contain unresolved
// TypeNamed references.
type TypeDeclNode struct {
	ID   string
	Body *contracts.Type
	Prov contracts.Provenance
}

func (d *TypeDeclNode) Pos() contracts.Provenance { return d.Prov }
func (d *TypeDeclNode) DeclID() string            { return d.ID }

// PersonaDecl declares an authority role.
type PersonaDecl struct {
	ID   string
	Prov contracts.Provenance
}

func (d *PersonaDecl) Pos() contracts.Provenance { return d.Prov }
func (d *PersonaDecl) DeclID() string            { return d.ID }

// SourceDecl declares an opaque source descriptor facts may reference.
type SourceDecl struct {
	ID    string
	Props map[string]string
	Prov  contracts.Provenance
}

func (d *SourceDecl) Pos() contracts.Provenance { return d.Prov }
func (d *SourceDecl) DeclID() string            { return d.ID }

// FactDecl declares a typed external input.
type FactDecl struct {
	ID      string
	Type    *contracts.Type
	Default *contracts.Value
	Source  string // source decl ref, optional
	Prov    contracts.Provenance
}

func (d *FactDecl) Pos() contracts.Provenance { return d.Prov }
func (d *FactDecl) DeclID() string            { return d.ID }

// EntityDecl declares a finite state machine.
type EntityDecl struct {
	ID          string
	States      []string
	Initial     string
	Transitions []contracts.Transition
	InstanceKey string
	Prov        contracts.Provenance
}

func (d *EntityDecl) Pos() contracts.Provenance { return d.Prov }
func (d *EntityDecl) DeclID() string            { return d.ID }

// RuleDecl declares a stratified rule. When and Payload may contain
// unresolved ExprIdent leaves.
type RuleDecl struct {
	ID          string
	Stratum     int
	When        *contracts.Expr
	VerdictType string
	PayloadType *contracts.Type
	Payload     *contracts.Expr
	Prov        contracts.Provenance
}

func (d *RuleDecl) Pos() contracts.Provenance { return d.Prov }
func (d *RuleDecl) DeclID() string            { return d.ID }

// OperationDecl declares a persona-gated operation.
type OperationDecl struct {
	ID              string
	AllowedPersonas []string
	Precondition    *contracts.Expr
	Effects         []contracts.Effect
	ErrorContract   []string
	Outcomes        []string
	Prov            contracts.Provenance
}

func (d *OperationDecl) Pos() contracts.Provenance { return d.Prov }
func (d *OperationDecl) DeclID() string            { return d.ID }

// FlowDecl declares a step graph. Steps are already in interchange shape,
// with unresolved references inside conditions.
type FlowDecl struct {
	ID    string
	Entry string
	Steps map[string]*contracts.Step
	Prov  contracts.Provenance
}

func (d *FlowDecl) Pos() contracts.Provenance { return d.Prov }
func (d *FlowDecl) DeclID() string            { return d.ID }

// SystemDecl composes contracts.
type SystemDecl struct {
	ID             string
	Members        []string
	SharedPersonas []string
	SharedEntities []string
	Triggers       []contracts.Trigger
	Prov           contracts.Provenance
}

func (d *SystemDecl) Pos() contracts.Provenance { return d.Prov }
func (d *SystemDecl) DeclID() string            { return d.ID }
