package model

// Row is one rendered row of a region page.
type Row struct {
	ID       string `json:"id"`
	Disabled bool   `json:"disabled,omitempty"`
}

// MasterState is the tri-state value of the "select all on page" checkbox.
type MasterState string

const (
	MasterUnchecked     MasterState = "unchecked"
	MasterChecked       MasterState = "checked"
	MasterIndeterminate MasterState = "indeterminate"
)

// SelectionSnapshot is the read-only view of a selection tracker handed to
// rendering subscribers.
type SelectionSnapshot struct {
	SelectionKey string          `json:"selection_key"`
	Checked      map[string]bool `json:"checked"`
	Count        int             `json:"count"`
	Total        int             `json:"total"`
	Master       MasterState     `json:"master"`
	PageSelected bool            `json:"page_selected"`
	Message      string          `json:"message,omitempty"`
	Pending      int             `json:"pending"`
}
