package inventory

import (
	"errors"
	"fmt"
	"strings"

	"realmexchange/internal/domain"
)

// Counts is an item multiset keyed by item type.
type Counts map[string]int

// CountItems tallies a flat item list into a multiset.
func CountItems(items []string) Counts {
	c := Counts{}
	for _, item := range items {
		if item == "" {
			continue
		}
		c[item]++
	}
	return c
}

// ParseRaw decodes the comma-delimited inventory encoding used by the
// account directory. Empty segments are dropped.
func ParseRaw(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// EncodeRaw is the inverse of ParseRaw.
func EncodeRaw(items []string) string {
	return strings.Join(items, ",")
}

// ValidatePrice checks that a price has at least the structure callers must
// guarantee: unique item types and positive quantities. Quantities for the
// same type must be pre-merged by the caller.
func ValidatePrice(price []domain.RequiredItem) error {
	seen := map[string]bool{}
	for _, line := range price {
		if line.Item == "" {
			return errors.New("price item type is required")
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("price quantity for %s must be positive", line.Item)
		}
		if seen[line.Item] {
			return fmt.Errorf("duplicate price item %s; merge quantities", line.Item)
		}
		seen[line.Item] = true
	}
	return nil
}

// Shortfall reports the first price line, in price order, that the aggregate
// holdings cannot cover. The bool is false when everything is covered.
func Shortfall(accounts []domain.Account, price []domain.RequiredItem) (domain.RequiredItem, int, bool) {
	held := Counts{}
	for _, acc := range accounts {
		for item, n := range CountItems(acc.Items) {
			held[item] += n
		}
	}
	for _, line := range price {
		if held[line.Item] < line.Quantity {
			return line, held[line.Item], true
		}
	}
	return domain.RequiredItem{}, 0, false
}

// Allocate selects whole accounts, first-fit in the given order, until the
// price is covered. An account is selected if it contributes at least one
// still-needed item. Returns the selected account ids, or ok=false when the
// scan exhausts all accounts with the price still uncovered.
//
// The pass is deterministic for a fixed account order but not minimal: a
// smaller feasible subset may exist under a different ordering. That is an
// accepted trade-off; callers wanting a precise shortfall message should use
// Shortfall first, since a failed allocation only proves this ordering ran
// out of accounts.
func Allocate(accounts []domain.Account, price []domain.RequiredItem) ([]string, bool) {
	remaining := Counts{}
	for _, line := range price {
		remaining[line.Item] = line.Quantity
	}

	var selected []string
	for _, acc := range accounts {
		if covered(remaining) {
			break
		}
		contributed := false
		counts := CountItems(acc.Items)
		for item, need := range remaining {
			if need <= 0 {
				continue
			}
			have := counts[item]
			if have == 0 {
				continue
			}
			if have > need {
				have = need
			}
			remaining[item] = need - have
			contributed = true
		}
		if contributed {
			selected = append(selected, acc.ID)
		}
	}
	if !covered(remaining) {
		return nil, false
	}
	return selected, true
}

func covered(remaining Counts) bool {
	for _, need := range remaining {
		if need > 0 {
			return false
		}
	}
	return true
}
