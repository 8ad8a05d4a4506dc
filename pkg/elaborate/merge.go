package elaborate

import (
	"fmt"
	"sort"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

// passMerge merges the declarations of every reached file into a single
// unit, detecting missing imports, import cycles, imports inside
// non-type-library files, and same-kind id duplicates.
func passMerge(u *unit) contracts.ElaborationErrors {
	var errs contracts.ElaborationErrors
	errf := func(kind contracts.ErrKind, prov contracts.Provenance, id, format string, args ...any) {
		errs = append(errs, &contracts.ElaborationError{
			Kind: kind, Message: fmt.Sprintf(format, args...), ConstructID: id, Prov: prov,
		})
	}

	missing := make([]string, 0, len(u.tree.Missing))
	for path := range u.tree.Missing {
		missing = append(missing, path)
	}
	sort.Strings(missing)
	for _, path := range missing {
		prov := contracts.Provenance{}
		if via := u.tree.Missing[path]; via != nil {
			prov = via.Prov
		}
		errf(contracts.ErrImport, prov, "", "imported file not found: %s", path)
	}

	errs = append(errs, detectImportCycles(u.tree)...)

	// Imported files must be self-contained type libraries before they may
	// import further files; anything else keeps its imports in the root.
	for _, path := range u.tree.Order {
		f := u.tree.Files[path]
		if path == u.tree.Root {
			continue
		}
		if len(f.Imports) > 0 && !f.HasOnlyTypeLibraryDecls() {
			errf(contracts.ErrImport, f.Imports[0].Prov, "",
				"file %s is not a type library and may not contain imports", path)
		}
	}

	u.typesByID = map[string]*parser.TypeDeclNode{}
	u.factsByID = map[string]*parser.FactDecl{}
	u.entitiesByID = map[string]*parser.EntityDecl{}
	u.rulesByID = map[string]*parser.RuleDecl{}
	u.opsByID = map[string]*parser.OperationDecl{}
	u.flowsByID = map[string]*parser.FlowDecl{}
	u.personaSet = map[string]bool{}
	u.sourcesByID = map[string]*parser.SourceDecl{}

	dup := func(kind string, id string, prov contracts.Provenance, exists bool) bool {
		if exists {
			errf(contracts.ErrDuplicateID, prov, id, "duplicate %s id %q", kind, id)
		}
		return exists
	}

	for _, path := range u.tree.Order {
		for _, d := range u.tree.Files[path].Decls {
			switch decl := d.(type) {
			case *parser.ContractDecl:
				if path == u.tree.Root {
					u.contractID = decl.ID
				}
			case *parser.TypeDeclNode:
				if !dup("type", decl.ID, decl.Prov, u.typesByID[decl.ID] != nil) {
					u.typesByID[decl.ID] = decl
					u.typeDecls = append(u.typeDecls, decl)
				}
			case *parser.PersonaDecl:
				if !dup("persona", decl.ID, decl.Prov, u.personaSet[decl.ID]) {
					u.personaSet[decl.ID] = true
					u.personas = append(u.personas, decl)
				}
			case *parser.SourceDecl:
				if !dup("source", decl.ID, decl.Prov, u.sourcesByID[decl.ID] != nil) {
					u.sourcesByID[decl.ID] = decl
					u.sources = append(u.sources, decl)
				}
			case *parser.FactDecl:
				if !dup("fact", decl.ID, decl.Prov, u.factsByID[decl.ID] != nil) {
					u.factsByID[decl.ID] = decl
					u.facts = append(u.facts, decl)
				}
			case *parser.EntityDecl:
				if !dup("entity", decl.ID, decl.Prov, u.entitiesByID[decl.ID] != nil) {
					u.entitiesByID[decl.ID] = decl
					u.entities = append(u.entities, decl)
				}
			case *parser.RuleDecl:
				if !dup("rule", decl.ID, decl.Prov, u.rulesByID[decl.ID] != nil) {
					u.rulesByID[decl.ID] = decl
					u.rules = append(u.rules, decl)
				}
			case *parser.OperationDecl:
				if !dup("operation", decl.ID, decl.Prov, u.opsByID[decl.ID] != nil) {
					u.opsByID[decl.ID] = decl
					u.operations = append(u.operations, decl)
				}
			case *parser.FlowDecl:
				if !dup("flow", decl.ID, decl.Prov, u.flowsByID[decl.ID] != nil) {
					u.flowsByID[decl.ID] = decl
					u.flows = append(u.flows, decl)
				}
			case *parser.SystemDecl:
				exists := false
				for _, s := range u.systems {
					if s.ID == decl.ID {
						exists = true
					}
				}
				if !dup("system", decl.ID, decl.Prov, exists) {
					u.systems = append(u.systems, decl)
				}
			}
		}
	}
	return errs
}

func detectImportCycles(tree *parser.Tree) contracts.ElaborationErrors {
	var errs contracts.ElaborationErrors
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(path string, stack []string)
	visit = func(path string, stack []string) {
		color[path] = grey
		f := tree.Files[path]
		if f == nil {
			color[path] = black
			return
		}
		for _, imp := range f.Imports {
			target := parser.ResolveImport(path, imp.Path)
			switch color[target] {
			case white:
				visit(target, append(stack, path))
			case grey:
				errs = append(errs, &contracts.ElaborationError{
					Kind:    contracts.ErrImport,
					Message: fmt.Sprintf("import cycle: %s imports %s which is already on the import path", path, target),
					Prov:    imp.Prov,
				})
			}
		}
		color[path] = black
	}
	visit(tree.Root, nil)
	return errs
}
