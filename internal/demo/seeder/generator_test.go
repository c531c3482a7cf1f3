package seeder

import (
	"reflect"
	"testing"
	"time"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	fixedNow := time.Date(2026, 2, 19, 7, 30, 0, 0, time.UTC)

	g1 := NewGenerator(42, 10)
	g2 := NewGenerator(42, 10)
	g1.now = func() time.Time { return fixedNow }
	g2.now = func() time.Time { return fixedNow }

	if !reflect.DeepEqual(g1.Customers(), g2.Customers()) {
		t.Fatal("customers differ for identical seeds")
	}
	for i := 0; i < 5; i++ {
		o1 := g1.NextOrder()
		o2 := g2.NextOrder()
		if !reflect.DeepEqual(o1, o2) {
			t.Fatalf("order %d differs: %#v vs %#v", i, o1, o2)
		}
	}
}

func TestGeneratorOrderIDsMonotonic(t *testing.T) {
	g := NewGenerator(99, 5)
	g.now = func() time.Time { return time.Unix(0, 0).UTC() }

	for i := 1; i <= 50; i++ {
		order := g.NextOrder()
		if order.ID != int64(i) {
			t.Fatalf("order ID = %d, want %d", order.ID, i)
		}
		if order.CustomerID < 1 || order.CustomerID > 5 {
			t.Fatalf("customer ID out of range: %d", order.CustomerID)
		}
		if order.Amount <= 0 {
			t.Fatalf("amount = %f", order.Amount)
		}
	}
}
