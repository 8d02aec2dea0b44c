package inventory

import (
	"reflect"
	"testing"

	"realmexchange/internal/domain"
)

func acc(id string, items ...string) domain.Account {
	return domain.Account{ID: id, Items: items}
}

func price(lines ...domain.RequiredItem) []domain.RequiredItem {
	return lines
}

func TestAllocateSingleAccountCovers(t *testing.T) {
	accounts := []domain.Account{
		acc("y", "Potion of Attack", "Potion of Attack", "Sword"),
	}
	selected, ok := Allocate(accounts, price(domain.RequiredItem{Item: "Potion of Attack", Quantity: 2}))
	if !ok {
		t.Fatalf("expected feasible allocation")
	}
	if !reflect.DeepEqual(selected, []string{"y"}) {
		t.Fatalf("unexpected selection %v", selected)
	}
}

func TestAllocateSpansAccounts(t *testing.T) {
	accounts := []domain.Account{
		acc("y1", "Potion of Attack"),
		acc("y2", "Potion of Attack"),
	}
	selected, ok := Allocate(accounts, price(domain.RequiredItem{Item: "Potion of Attack", Quantity: 2}))
	if !ok {
		t.Fatalf("expected feasible allocation")
	}
	if !reflect.DeepEqual(selected, []string{"y1", "y2"}) {
		t.Fatalf("expected both accounts, got %v", selected)
	}
}

func TestAllocateSkipsUselessAccounts(t *testing.T) {
	accounts := []domain.Account{
		acc("junk", "Sword", "Shield"),
		acc("pay", "Potion of Attack"),
	}
	selected, ok := Allocate(accounts, price(domain.RequiredItem{Item: "Potion of Attack", Quantity: 1}))
	if !ok {
		t.Fatalf("expected feasible allocation")
	}
	if !reflect.DeepEqual(selected, []string{"pay"}) {
		t.Fatalf("expected only the paying account, got %v", selected)
	}
}

func TestAllocateInfeasible(t *testing.T) {
	accounts := []domain.Account{acc("y", "Potion of Attack")}
	_, ok := Allocate(accounts, price(domain.RequiredItem{Item: "Potion of Attack", Quantity: 2}))
	if ok {
		t.Fatalf("expected infeasible")
	}
}

func TestAllocateEmptyPrice(t *testing.T) {
	selected, ok := Allocate([]domain.Account{acc("y", "Sword")}, nil)
	if !ok {
		t.Fatalf("empty price must be feasible")
	}
	if len(selected) != 0 {
		t.Fatalf("empty price must select nothing, got %v", selected)
	}
}

// Coverage property: every selected set must cover the price in aggregate,
// even when the greedy pass picks more accounts than a smarter solver would.
func TestAllocateCoverageProperty(t *testing.T) {
	cases := []struct {
		name     string
		accounts []domain.Account
		price    []domain.RequiredItem
	}{
		{
			name: "superset selection",
			accounts: []domain.Account{
				acc("a", "Gem"),
				acc("b", "Gem", "Gem"),
			},
			price: price(domain.RequiredItem{Item: "Gem", Quantity: 2}),
		},
		{
			name: "multi item",
			accounts: []domain.Account{
				acc("a", "Gem", "Sword"),
				acc("b", "Sword"),
				acc("c", "Gem"),
			},
			price: price(
				domain.RequiredItem{Item: "Gem", Quantity: 2},
				domain.RequiredItem{Item: "Sword", Quantity: 2},
			),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			selected, ok := Allocate(tc.accounts, tc.price)
			if !ok {
				t.Fatalf("expected feasible allocation")
			}
			byID := map[string]domain.Account{}
			for _, a := range tc.accounts {
				byID[a.ID] = a
			}
			held := Counts{}
			for _, id := range selected {
				for item, n := range CountItems(byID[id].Items) {
					held[item] += n
				}
			}
			for _, line := range tc.price {
				if held[line.Item] < line.Quantity {
					t.Fatalf("selected set short on %s: %d < %d", line.Item, held[line.Item], line.Quantity)
				}
			}
		})
	}
}

func TestShortfallReportsFirstPriceLine(t *testing.T) {
	accounts := []domain.Account{acc("y", "Potion of Attack")}
	line, held, short := Shortfall(accounts, price(
		domain.RequiredItem{Item: "Potion of Attack", Quantity: 2},
		domain.RequiredItem{Item: "Gem", Quantity: 1},
	))
	if !short {
		t.Fatalf("expected shortfall")
	}
	if line.Item != "Potion of Attack" || line.Quantity != 2 || held != 1 {
		t.Fatalf("unexpected shortfall %s held=%d required=%d", line.Item, held, line.Quantity)
	}
}

func TestShortfallAggregatesAcrossAccounts(t *testing.T) {
	accounts := []domain.Account{
		acc("y1", "Gem"),
		acc("y2", "Gem"),
	}
	if _, _, short := Shortfall(accounts, price(domain.RequiredItem{Item: "Gem", Quantity: 2})); short {
		t.Fatalf("aggregate holdings cover the price")
	}
}

func TestValidatePrice(t *testing.T) {
	if err := ValidatePrice(price(domain.RequiredItem{Item: "Gem", Quantity: 1})); err != nil {
		t.Fatalf("valid price rejected: %v", err)
	}
	if err := ValidatePrice(price(domain.RequiredItem{Item: "", Quantity: 1})); err == nil {
		t.Fatalf("empty item type accepted")
	}
	if err := ValidatePrice(price(domain.RequiredItem{Item: "Gem", Quantity: 0})); err == nil {
		t.Fatalf("zero quantity accepted")
	}
	if err := ValidatePrice(price(
		domain.RequiredItem{Item: "Gem", Quantity: 1},
		domain.RequiredItem{Item: "Gem", Quantity: 2},
	)); err == nil {
		t.Fatalf("duplicate item type accepted")
	}
}

func TestParseEncodeRaw(t *testing.T) {
	items := ParseRaw("Gem,,Sword,Gem")
	if !reflect.DeepEqual(items, []string{"Gem", "Sword", "Gem"}) {
		t.Fatalf("unexpected parse %v", items)
	}
	if EncodeRaw(items) != "Gem,Sword,Gem" {
		t.Fatalf("unexpected encode %q", EncodeRaw(items))
	}
	if ParseRaw("") != nil {
		t.Fatalf("empty raw must parse to nil")
	}
}
