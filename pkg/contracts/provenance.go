package contracts

import "fmt"

// Provenance points a construct or finding back at its source location.
// Constructs synthesized during elaboration carry the location of the
// declaration they were derived from.
type Provenance struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (p Provenance) String() string {
	if p.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}
