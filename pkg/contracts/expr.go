package contracts

// ExprKind discriminates predicate and payload expression nodes.
type ExprKind string

const (
	ExprLiteral        ExprKind = "literal"
	ExprFactRef        ExprKind = "fact_ref"
	ExprVar            ExprKind = "var" // quantifier-bound variable
	ExprField          ExprKind = "field"
	ExprVerdictPresent ExprKind = "verdict_present"
	ExprCompare        ExprKind = "compare"
	ExprAnd            ExprKind = "and"
	ExprOr             ExprKind = "or"
	ExprNot            ExprKind = "not"
	ExprForAll         ExprKind = "forall"
	ExprExists         ExprKind = "exists"

	// ExprIdent is an unresolved identifier. It only exists between parsing
	// and elaboration pass 3, which rewrites it to fact_ref or var.
	ExprIdent ExprKind = "ident"
)

// CompareOp is a comparison operator over comparable types.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
)

// Expr is a node in the closed predicate/payload expression tree.
// Predicates are Exprs whose resolved type is Bool; payload expressions are
// value-producing subsets (literal, fact_ref, var, field).
//
// Expressions never mutate state; they are total functions over the snapshot
// inputs, modulo the typed evaluation errors the evaluator surfaces.
type Expr struct {
	Kind ExprKind   `json:"kind"`
	Prov Provenance `json:"provenance"`

	// literal
	Literal *Value `json:"literal,omitempty"`

	// fact_ref / ident / var
	Ref string `json:"ref,omitempty"`

	// field access: Recv.FieldName
	Recv      *Expr  `json:"recv,omitempty"`
	FieldName string `json:"field_name,omitempty"`

	// verdict_present
	VerdictType string `json:"verdict_type,omitempty"`

	// compare
	Op    CompareOp `json:"op,omitempty"`
	Left  *Expr     `json:"left,omitempty"`
	Right *Expr     `json:"right,omitempty"`

	// and / or (n-ary, left-to-right) and not (single operand)
	Args []*Expr `json:"args,omitempty"`

	// forall / exists: ∀ Binder ∈ Domain . Body
	Binder string `json:"binder,omitempty"`
	Domain *Expr  `json:"domain,omitempty"`
	Body   *Expr  `json:"body,omitempty"`
}

// Walk visits e and every descendant in depth-first order. Visiting stops
// early when fn returns false for a node (its children are skipped).
func (e *Expr) Walk(fn func(*Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	e.Recv.Walk(fn)
	e.Left.Walk(fn)
	e.Right.Walk(fn)
	for _, a := range e.Args {
		a.Walk(fn)
	}
	e.Domain.Walk(fn)
	e.Body.Walk(fn)
}

// FactRefs returns the set of fact ids referenced anywhere under e, in
// first-seen order.
func (e *Expr) FactRefs() []string {
	var out []string
	seen := map[string]bool{}
	e.Walk(func(n *Expr) bool {
		if n.Kind == ExprFactRef && !seen[n.Ref] {
			seen[n.Ref] = true
			out = append(out, n.Ref)
		}
		return true
	})
	return out
}

// VerdictRefs returns the verdict types consulted via verdict_present under
// e, in first-seen order.
func (e *Expr) VerdictRefs() []string {
	var out []string
	seen := map[string]bool{}
	e.Walk(func(n *Expr) bool {
		if n.Kind == ExprVerdictPresent && !seen[n.VerdictType] {
			seen[n.VerdictType] = true
			out = append(out, n.VerdictType)
		}
		return true
	})
	return out
}
