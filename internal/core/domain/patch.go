package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxPatchesPerItem is the number of patch slots on a preorder line.
const MaxPatchesPerItem = 2

var (
	ErrTooManyPatches   = fmt.Errorf("at most %d patches per item", MaxPatchesPerItem)
	ErrDuplicatePatch   = errors.New("patches on an item must be distinct")
	ErrBlankPatchName   = errors.New("patch name cannot be blank")
	ErrInvalidPatchSlot = fmt.Errorf("patch slot must be between 0 and %d", MaxPatchesPerItem-1)
)

type Patch struct {
	ID        uint
	Name      string
	Price     decimal.Decimal
	ImageURL  string
	CreatedAt time.Time
}

// PatchSlots holds the patches of one line item. An empty string is an empty slot.
type PatchSlots [MaxPatchesPerItem]string

// NewPatchSlots fills slots in order. Requests with more than two names,
// blank names or duplicates are rejected rather than truncated. Names compare
// case-insensitively, as the catalog does.
func NewPatchSlots(names []string) (PatchSlots, error) {
	var slots PatchSlots
	if len(names) > MaxPatchesPerItem {
		return slots, ErrTooManyPatches
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return PatchSlots{}, ErrBlankPatchName
		}
		if slots.Contains(name) {
			return PatchSlots{}, ErrDuplicatePatch
		}
		slots[i] = name
	}
	return slots, nil
}

func (p PatchSlots) Contains(name string) bool {
	for _, s := range p {
		if s != "" && strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// Names returns the occupied slots in slot order.
func (p PatchSlots) Names() []string {
	var names []string
	for _, s := range p {
		if s != "" {
			names = append(names, s)
		}
	}
	return names
}

// Set replaces the patch at slot. The other slot must not hold the same name.
func (p *PatchSlots) Set(slot int, name string) error {
	if slot < 0 || slot >= MaxPatchesPerItem {
		return ErrInvalidPatchSlot
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankPatchName
	}
	for i, s := range p {
		if i != slot && strings.EqualFold(s, name) {
			return ErrDuplicatePatch
		}
	}
	p[slot] = name
	return nil
}

func (p *PatchSlots) Clear(slot int) error {
	if slot < 0 || slot >= MaxPatchesPerItem {
		return ErrInvalidPatchSlot
	}
	p[slot] = ""
	return nil
}

// PatchIndex resolves names against catalog entries ignoring case, so a
// request may spell a patch differently from the catalog.
type PatchIndex map[string]Patch

func NewPatchIndex(found map[string]Patch) PatchIndex {
	idx := make(PatchIndex, len(found))
	for _, p := range found {
		idx[strings.ToLower(p.Name)] = p
	}
	return idx
}

func (x PatchIndex) Lookup(name string) (Patch, bool) {
	p, ok := x[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
