package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

const subscriptionSrc = `
contract subscription

persona approver

fact seats: int
fact limit: int = 10

entity Subscription {
  states: trial, active
  initial: trial
  transitions: trial -> active
}

rule seats_ok @0 {
  when seats ≤ limit
  produce seats_ok
}

operation activate {
  personas: approver
  precondition: verdict_present(seats_ok)
  effects: Subscription trial -> active
}

flow activation {
  entry s1
  step s1: operation activate by approver {
    on success -> end(activated)
    on failure terminate(failed)
  }
}
`

func TestParseFile_FullContract(t *testing.T) {
	f, errs := ParseFile("subscription.tenor", subscriptionSrc)
	require.Empty(t, errs)
	require.Len(t, f.Decls, 8)

	fact := f.Decls[2].(*FactDecl)
	assert.Equal(t, "seats", fact.ID)
	assert.Equal(t, contracts.TypeInt, fact.Type.Kind)

	withDefault := f.Decls[3].(*FactDecl)
	require.NotNil(t, withDefault.Default)
	assert.Equal(t, int64(10), withDefault.Default.Int)

	ent := f.Decls[4].(*EntityDecl)
	assert.Equal(t, []string{"trial", "active"}, ent.States)
	assert.Equal(t, "trial", ent.Initial)
	require.Len(t, ent.Transitions, 1)

	rule := f.Decls[5].(*RuleDecl)
	assert.Equal(t, 0, rule.Stratum)
	assert.Equal(t, "seats_ok", rule.VerdictType)
	require.Equal(t, contracts.ExprCompare, rule.When.Kind)
	assert.Equal(t, contracts.OpLe, rule.When.Op)
	assert.Equal(t, contracts.ExprIdent, rule.When.Left.Kind)
}

func TestParseFile_UnicodeAndASCIIOperatorsAgree(t *testing.T) {
	unicode := `rule r @0 { when ¬(a = b) ∧ c ≥ d ∨ e ≠ f produce v }`
	ascii := `rule r @0 { when not (a = b) and c >= d or e != f produce v }`

	fu, errsU := ParseFile("u.tenor", unicode)
	fa, errsA := ParseFile("a.tenor", ascii)
	require.Empty(t, errsU)
	require.Empty(t, errsA)

	ru := fu.Decls[0].(*RuleDecl)
	ra := fa.Decls[0].(*RuleDecl)
	assert.Equal(t, shape(ru.When), shape(ra.When))
}

// shape strips provenance so trees from different files compare equal.
func shape(e *contracts.Expr) string {
	if e == nil {
		return ""
	}
	out := string(e.Kind) + "/" + e.Ref + string(e.Op)
	for _, c := range []*contracts.Expr{e.Recv, e.Left, e.Right, e.Domain, e.Body} {
		out += "(" + shape(c) + ")"
	}
	for _, a := range e.Args {
		out += "[" + shape(a) + "]"
	}
	return out
}

func TestParseFile_QuantifiersAndFieldAccess(t *testing.T) {
	src := `rule all_small @0 { when ∀ it ∈ items => it.qty ≤ 3 produce all_small }`
	f, errs := ParseFile("q.tenor", src)
	require.Empty(t, errs)

	when := f.Decls[0].(*RuleDecl).When
	require.Equal(t, contracts.ExprForAll, when.Kind)
	assert.Equal(t, "it", when.Binder)
	assert.Equal(t, contracts.ExprIdent, when.Domain.Kind)
	require.Equal(t, contracts.ExprCompare, when.Body.Kind)
	assert.Equal(t, contracts.ExprField, when.Body.Left.Kind)
	assert.Equal(t, "qty", when.Body.Left.FieldName)

	src = `rule any_large @1 { when ∃ it ∈ items => it.qty > 100 produce any_large }`
	f, errs = ParseFile("q2.tenor", src)
	require.Empty(t, errs)
	assert.Equal(t, contracts.ExprExists, f.Decls[0].(*RuleDecl).When.Kind)
}

func TestParseFile_Literals(t *testing.T) {
	src := `
fact price: money(USD) = 10.50 USD
fact rate: decimal(10,2) = 0.25
fact opened: date = 2024-03-01
fact label: text = "hello"
fact ok: bool = true
`
	f, errs := ParseFile("lit.tenor", src)
	require.Empty(t, errs)
	require.Len(t, f.Decls, 5)

	price := f.Decls[0].(*FactDecl)
	require.Equal(t, contracts.TypeMoney, price.Default.Kind)
	assert.Equal(t, "10.50", price.Default.Money.Amount)
	assert.Equal(t, "USD", price.Default.Money.Currency)
	assert.Equal(t, "USD", price.Type.Currency)

	rate := f.Decls[1].(*FactDecl)
	assert.Equal(t, 10, rate.Type.Precision)
	assert.Equal(t, 2, rate.Type.Scale)
	assert.Equal(t, "0.25", rate.Default.Decimal)

	opened := f.Decls[2].(*FactDecl)
	assert.Equal(t, "2024-03-01", opened.Default.Date)
}

func TestParseFile_RecoversAtDeclarationBoundaries(t *testing.T) {
	src := `
fact broken: !!!
persona ok_one
entity Broken { states }
persona ok_two
`
	f, errs := ParseFile("bad.tenor", src)
	require.GreaterOrEqual(t, len(errs), 2, "both broken declarations should report")

	var personas []string
	for _, d := range f.Decls {
		if p, ok := d.(*PersonaDecl); ok {
			personas = append(personas, p.ID)
		}
	}
	assert.Equal(t, []string{"ok_one", "ok_two"}, personas,
		"declarations after an error should still parse")
}

func TestParseFile_ParallelFlow(t *testing.T) {
	src := `
flow f {
  entry par
  step par: parallel {
    branch q {
      entry qs
      step qs: operation op_a by p { on success -> end(done) on failure terminate(bad) }
    }
    branch c {
      entry cs
      step cs: operation op_b by p { on success -> end(done) on failure terminate(bad) }
    }
    join {
      on all_success -> next_step
      on any_failure terminate(failed)
    }
  }
  step next_step: operation op_c by p {
    on success -> end(shipped)
    on failure compensate(op_undo by p on failure -> end(stuck)) then -> end(reverted)
  }
}
`
	f, errs := ParseFile("par.tenor", src)
	require.Empty(t, errs)

	fl := f.Decls[0].(*FlowDecl)
	par := fl.Steps["par"]
	require.Equal(t, contracts.StepParallel, par.Kind)
	require.Len(t, par.Branches, 2)
	assert.Equal(t, "qs", par.Branches[0].Entry)
	require.NotNil(t, par.Join)
	assert.Equal(t, "next_step", par.Join.OnAllSuccess.Step)
	assert.Equal(t, contracts.HandlerTerminate, par.Join.OnAnyFailure.Kind)

	hold := fl.Steps["next_step"]
	require.Equal(t, contracts.HandlerCompensate, hold.OnFailure.Kind)
	require.Len(t, hold.OnFailure.Steps, 1)
	assert.Equal(t, "op_undo", hold.OnFailure.Steps[0].Op)
	assert.Equal(t, "stuck", hold.OnFailure.Steps[0].OnFailure.Terminal)
	assert.Equal(t, "reverted", hold.OnFailure.Then.Terminal)
}

func TestParseTree_ImportsResolveRelatively(t *testing.T) {
	loader := MapLoader{
		"contracts/main.tenor": `
import "lib/types.tenor"
persona admin
fact payload: Address
`,
		"contracts/lib/types.tenor": `
type Address = record { city: text, zip: text }
`,
	}
	tree := ParseTree("contracts/main.tenor", loader)
	require.Empty(t, tree.Errs)
	require.Empty(t, tree.Missing)
	require.Len(t, tree.Files, 2)
	assert.Equal(t, []string{"contracts/main.tenor", "contracts/lib/types.tenor"}, tree.Order)

	lib := tree.Files["contracts/lib/types.tenor"]
	assert.True(t, lib.HasOnlyTypeLibraryDecls())
}

func TestParseTree_MissingImportRecorded(t *testing.T) {
	loader := MapLoader{"main.tenor": `import "gone.tenor"`}
	tree := ParseTree("main.tenor", loader)
	require.Len(t, tree.Missing, 1)
	_, ok := tree.Missing["gone.tenor"]
	assert.True(t, ok)
}
