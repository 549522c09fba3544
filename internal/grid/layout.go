// Package grid flattens a participant→sample→sequencing-group→assay tree into
// table rows with row-span annotations. Layout math lives here; the rendering
// layer only honors the spans and skips the cells this package did not emit.
package grid

import (
	"strconv"

	"github.com/patrick91/metamist/internal/format"
	"github.com/patrick91/metamist/internal/model"
)

// Level identifies which nesting level a cell belongs to.
type Level int

const (
	LevelParticipant Level = iota
	LevelSample
	LevelSequencingGroup
	LevelAssay
)

// Cell is one table cell. Span is the number of consecutive rows the cell
// visually covers; cells for spanned-over rows are not emitted at all.
type Cell struct {
	Level Level
	Field string
	Value string
	Span  int
}

// Row is one flat table row. Stripe alternates by participant, not by row.
type Row struct {
	Cells  []Cell
	Stripe bool
}

// Layout flattens participants into rows. Every sample yields at least one
// row: a sample without sequencing groups gets an empty placeholder group,
// and a group without assays gets an empty placeholder assay.
func Layout(participants []model.NestedParticipant, sampleKeys, groupKeys, assayKeys []string) []Row {
	var rows []Row

	for pi, p := range participants {
		stripe := pi%2 == 1
		pSpan := participantSpan(p)

		for si, s := range p.Samples {
			groups := s.Groups
			if len(groups) == 0 {
				groups = []model.NestedSequencingGroup{{}}
			}

			for gi, g := range groups {
				assays := g.Assays
				if len(assays) == 0 {
					assays = []model.NestedAssay{{}}
				}

				for ai, a := range assays {
					row := Row{Stripe: stripe}

					if si == 0 && gi == 0 && ai == 0 {
						row.Cells = append(row.Cells, Cell{
							Level: LevelParticipant,
							Field: "external_ids",
							Value: format.ExternalIDs(p.ExternalIDs),
							Span:  pSpan,
						})
					}
					if gi == 0 && ai == 0 {
						span := sampleSpan(s)
						for _, key := range sampleKeys {
							row.Cells = append(row.Cells, Cell{
								Level: LevelSample,
								Field: key,
								Value: sampleField(s, key),
								Span:  span,
							})
						}
					}
					if ai == 0 {
						span := groupSpan(g)
						for _, key := range groupKeys {
							row.Cells = append(row.Cells, Cell{
								Level: LevelSequencingGroup,
								Field: key,
								Value: groupField(g, key),
								Span:  span,
							})
						}
					}
					for _, key := range assayKeys {
						row.Cells = append(row.Cells, Cell{
							Level: LevelAssay,
							Field: key,
							Value: assayField(a, key),
							Span:  1,
						})
					}

					rows = append(rows, row)
				}
			}
		}
	}

	return rows
}

// groupSpan is the number of rows a sequencing group covers: its assay count,
// with the empty placeholder assay counting as one.
func groupSpan(g model.NestedSequencingGroup) int {
	if len(g.Assays) == 0 {
		return 1
	}
	return len(g.Assays)
}

// sampleSpan is the total row count across the sample's sequencing groups,
// never less than one.
func sampleSpan(s model.NestedSample) int {
	if len(s.Groups) == 0 {
		return 1
	}
	span := 0
	for _, g := range s.Groups {
		span += groupSpan(g)
	}
	return span
}

func participantSpan(p model.NestedParticipant) int {
	span := 0
	for _, s := range p.Samples {
		span += sampleSpan(s)
	}
	return span
}

func sampleField(s model.NestedSample, key string) string {
	switch key {
	case "id":
		return formatID(s.ID)
	case "external_ids":
		return format.ExternalIDs(s.ExternalIDs)
	case "type":
		return s.Type
	case "created_date":
		return s.CreatedDate
	}
	return format.Any(s.Meta[key])
}

func groupField(g model.NestedSequencingGroup, key string) string {
	switch key {
	case "id":
		return formatID(g.ID)
	case "type":
		return g.Type
	case "technology":
		return g.Technology
	case "platform":
		return g.Platform
	}
	return format.Any(g.Meta[key])
}

func assayField(a model.NestedAssay, key string) string {
	switch key {
	case "id":
		return formatID(a.ID)
	case "type":
		return a.Type
	}
	return format.Any(a.Meta[key])
}

// formatID renders a row ID, leaving synthesized placeholders blank.
func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
