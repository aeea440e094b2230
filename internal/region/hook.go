package region

import (
	"context"

	"github.com/pitabwire/dataregion/model"
)

// ChangeKind names the mutating operation passed to a Hook.
type ChangeKind string

const (
	ChangeOffset          ChangeKind = "offset"
	ChangeMaxRows         ChangeKind = "max_rows"
	ChangeShowRows        ChangeKind = "show_rows"
	ChangeSort            ChangeKind = "sort"
	ChangeClearSort       ChangeKind = "clear_sort"
	ChangeFilter          ChangeKind = "filter"
	ChangeClearFilter     ChangeKind = "clear_filter"
	ChangeClearAllFilters ChangeKind = "clear_all_filters"
	ChangeView            ChangeKind = "view"
	ChangeParameters      ChangeKind = "parameters"
	ChangeClearParameters ChangeKind = "clear_parameters"
	ChangeContainerFilter ChangeKind = "container_filter"
	ChangeRefresh         ChangeKind = "refresh"
)

// Change describes a pending mutation. Params are the pairs the operation
// will append, Skip the prefixes it will remove and Drop the exact keys it
// will remove, all before the region name is applied.
type Change struct {
	Kind   ChangeKind
	Region string
	Params model.Pairs
	Skip   []string
	Drop   []string

	// commit applies in-memory side effects once the hook has agreed.
	commit func()
}

// Decision is the result of a Hook.
type Decision int

const (
	Proceed Decision = iota
	Veto
)

// Hook is consulted before every mutation. Returning Veto cancels the
// mutation without touching any state.
type Hook func(ctx context.Context, c Change) Decision

func proceedAll(context.Context, Change) Decision { return Proceed }
