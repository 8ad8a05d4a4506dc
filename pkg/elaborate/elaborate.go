// Package elaborate turns parsed source trees into canonical interchange
// bundles. Elaboration runs six passes — merge, type resolution, reference
// resolution, stratum and predicate validation, entity/flow well-formedness,
// canonicalization — batching errors per pass and aborting before
// canonicalization when any pass fails.
package elaborate

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

const tracerName = "tenor/elaborate"

// Elaborator drives the pass pipeline. Zero value is not usable; construct
// with New.
type Elaborator struct {
	loader parser.Loader
	log    *slog.Logger
}

// Option configures an Elaborator.
type Option func(*Elaborator)

// WithLoader substitutes the source loader (default: the OS filesystem).
func WithLoader(l parser.Loader) Option {
	return func(e *Elaborator) { e.loader = l }
}

// WithLogger installs a logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Elaborator) {
		if l != nil {
			e.log = l
		}
	}
}

// New constructs an Elaborator.
func New(opts ...Option) *Elaborator {
	e := &Elaborator{
		loader: parser.OSLoader,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Elaborate parses the root file, scans its imports, and runs the pass
// pipeline. On failure the returned error is a contracts.ElaborationErrors
// batch from the first failing pass. Elaboration is deterministic: the same
// sources yield a byte-identical canonical bundle.
func (e *Elaborator) Elaborate(ctx context.Context, root string) (*contracts.Bundle, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "elaborate")
	defer span.End()
	span.SetAttributes(attribute.String("tenor.root", root))

	tree := parser.ParseTree(root, e.loader)
	if len(tree.Errs) > 0 {
		errs := make(contracts.ElaborationErrors, 0, len(tree.Errs))
		for _, se := range tree.Errs {
			errs = append(errs, &contracts.ElaborationError{
				Kind:    contracts.ErrSyntax,
				Message: se.Message,
				Prov:    contracts.Provenance{File: se.File, Line: se.Line},
			})
		}
		return nil, errs
	}
	return e.ElaborateTree(ctx, tree)
}

// ElaborateTree runs passes 1–6 over an already parsed tree.
func (e *Elaborator) ElaborateTree(ctx context.Context, tree *parser.Tree) (*contracts.Bundle, error) {
	u := &unit{tree: tree, contractID: defaultContractID(tree.Root)}

	passes := []struct {
		name string
		run  func(*unit) contracts.ElaborationErrors
	}{
		{"merge", passMerge},
		{"type_resolution", passTypeResolution},
		{"reference_resolution", passReferenceResolution},
		{"stratum_validation", passStratumValidation},
		{"wellformedness", passWellformedness},
	}
	for i, pass := range passes {
		if errs := pass.run(u); len(errs) > 0 {
			e.log.DebugContext(ctx, "elaboration pass failed",
				"pass", pass.name, "index", i+1, "errors", len(errs))
			return nil, errs
		}
		e.log.DebugContext(ctx, "elaboration pass ok", "pass", pass.name, "index", i+1)
	}

	b, errs := passCanonicalize(u)
	if len(errs) > 0 {
		return nil, errs
	}
	e.log.DebugContext(ctx, "elaborated", "contract", b.ContractID, "constructs", len(b.Constructs))
	return b, nil
}

// unit is the working state threaded through the passes.
type unit struct {
	tree       *parser.Tree
	contractID string

	typeDecls  []*parser.TypeDeclNode
	personas   []*parser.PersonaDecl
	sources    []*parser.SourceDecl
	facts      []*parser.FactDecl
	entities   []*parser.EntityDecl
	rules      []*parser.RuleDecl
	operations []*parser.OperationDecl
	flows      []*parser.FlowDecl
	systems    []*parser.SystemDecl

	typesByID    map[string]*parser.TypeDeclNode
	factsByID    map[string]*parser.FactDecl
	entitiesByID map[string]*parser.EntityDecl
	rulesByID    map[string]*parser.RuleDecl
	opsByID      map[string]*parser.OperationDecl
	flowsByID    map[string]*parser.FlowDecl
	personaSet   map[string]bool
	sourcesByID  map[string]*parser.SourceDecl

	// verdict type → producing rule, built in pass 4.
	producers map[string]*parser.RuleDecl
}

func defaultContractID(root string) string {
	base := filepath.Base(root)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
