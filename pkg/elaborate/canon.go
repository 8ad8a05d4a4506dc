package elaborate

import (
	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// passCanonicalize lowers the validated declarations into a Bundle in
// canonical order and proves the bundle serializes canonically. The etag is
// derived from the canonical bytes on demand, never stored in the bundle.
func passCanonicalize(u *unit) (*contracts.Bundle, contracts.ElaborationErrors) {
	var cs []contracts.Construct
	for _, d := range u.typeDecls {
		cs = append(cs, &contracts.TypeDecl{ID: d.ID, Body: d.Body, Prov: d.Prov})
	}
	for _, d := range u.personas {
		cs = append(cs, &contracts.Persona{ID: d.ID, Prov: d.Prov})
	}
	for _, d := range u.facts {
		var source map[string]any
		if d.Source != "" {
			src := u.sourcesByID[d.Source]
			source = map[string]any{"id": src.ID}
			for k, v := range src.Props {
				source[k] = v
			}
		}
		cs = append(cs, &contracts.Fact{
			ID: d.ID, Type: d.Type, Default: d.Default, Source: source, Prov: d.Prov,
		})
	}
	for _, d := range u.entities {
		cs = append(cs, &contracts.Entity{
			ID: d.ID, States: d.States, Initial: d.Initial,
			Transitions: d.Transitions, InstanceKey: d.InstanceKey, Prov: d.Prov,
		})
	}
	for _, d := range u.rules {
		cs = append(cs, &contracts.Rule{
			ID: d.ID, Stratum: d.Stratum, When: d.When,
			Produce: contracts.Produce{
				VerdictType: d.VerdictType,
				PayloadType: d.PayloadType,
				Payload:     d.Payload,
			},
			Prov: d.Prov,
		})
	}
	for _, d := range u.operations {
		cs = append(cs, &contracts.Operation{
			ID: d.ID, AllowedPersonas: d.AllowedPersonas,
			Precondition: d.Precondition, Effects: d.Effects,
			ErrorContract: d.ErrorContract, Outcomes: d.Outcomes, Prov: d.Prov,
		})
	}
	for _, d := range u.flows {
		cs = append(cs, &contracts.Flow{
			ID: d.ID, SnapshotMode: contracts.SnapshotAtInitiation,
			Entry: d.Entry, Steps: d.Steps, Prov: d.Prov,
		})
	}
	for _, d := range u.systems {
		cs = append(cs, &contracts.System{
			ID: d.ID, Members: d.Members,
			SharedPersonas: d.SharedPersonas, SharedEntities: d.SharedEntities,
			Triggers: d.Triggers, Prov: d.Prov,
		})
	}

	b := contracts.NewBundle(u.contractID, cs)
	if _, err := canonicalize.Bundle(b); err != nil {
		return nil, contracts.ElaborationErrors{{
			Kind:    contracts.ErrTypeMismatch,
			Message: "bundle does not canonicalize: " + err.Error(),
		}}
	}
	return b, nil
}
