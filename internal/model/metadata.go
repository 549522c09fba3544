package model

// NestedParticipant is one participant with its full sample nesting, as
// returned by the project summary endpoint and consumed by the grid layout.
type NestedParticipant struct {
	ID          int64             `json:"id"`
	ExternalIDs map[string]string `json:"external_ids"`
	Meta        map[string]any    `json:"meta,omitempty"`
	Samples     []NestedSample    `json:"samples"`
}

// NestedSample is a sample and its sequencing groups.
type NestedSample struct {
	ID          int64                   `json:"id"`
	ExternalIDs map[string]string       `json:"external_ids"`
	Type        string                  `json:"type"`
	Meta        map[string]any          `json:"meta,omitempty"`
	CreatedDate string                  `json:"created_date,omitempty"`
	Groups      []NestedSequencingGroup `json:"sequencing_groups"`
}

// NestedSequencingGroup is a set of assays sequenced together for a sample.
type NestedSequencingGroup struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	Technology string         `json:"technology"`
	Platform   string         `json:"platform"`
	Meta       map[string]any `json:"meta,omitempty"`
	Assays     []NestedAssay  `json:"assays"`
}

// NestedAssay is a single sequencing run on a sequencing group.
type NestedAssay struct {
	ID   int64          `json:"id"`
	Type string         `json:"type"`
	Meta map[string]any `json:"meta,omitempty"`
}

// PagingLinks carries the paging block of a summary response.
type PagingLinks struct {
	Self  string `json:"self"`
	Next  string `json:"next,omitempty"`
	Token string `json:"token,omitempty"`
}

// ProjectSummary is a page of a project's participant tree plus the field
// labels each nesting level should display.
type ProjectSummary struct {
	Participants []NestedParticipant `json:"participants"`
	TotalSamples int                 `json:"total_samples"`

	SampleKeys          []string `json:"sample_keys"`
	SequencingGroupKeys []string `json:"sequencing_group_keys"`
	AssayKeys           []string `json:"assay_keys"`

	Links *PagingLinks `json:"_links,omitempty"`
}
