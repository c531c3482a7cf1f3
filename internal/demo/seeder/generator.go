package seeder

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Customer struct {
	ID         int64
	Name       string
	Country    string
	SignedUpAt time.Time
}

type Order struct {
	ID         int64
	CustomerID int64
	Status     string
	Amount     float64
	Currency   string
	Device     string
	PlacedAt   time.Time
}

// Generator produces a deterministic sample retail dataset for a given
// seed, so repeated runs against the same demo database are stable.
type Generator struct {
	rnd           *rand.Rand
	customerCount int
	sequence      int64
	now           func() time.Time
}

func NewGenerator(seed int64, customerCount int) *Generator {
	return &Generator{
		rnd:           rand.New(rand.NewSource(seed)),
		customerCount: customerCount,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Customers() []Customer {
	firstNames := []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Radia", "Ken"}
	lastNames := []string{"Fletcher", "Okafor", "Tanaka", "Muller", "Silva", "Novak", "Haugen", "Reyes"}

	customers := make([]Customer, 0, g.customerCount)
	for i := 1; i <= g.customerCount; i++ {
		signedUp := g.now().AddDate(0, 0, -g.rnd.Intn(720))
		customers = append(customers, Customer{
			ID:         int64(i),
			Name:       fmt.Sprintf("%s %s", pickOne(g.rnd, firstNames), pickOne(g.rnd, lastNames)),
			Country:    pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
			SignedUpAt: signedUp,
		})
	}
	return customers
}

func (g *Generator) NextOrder() Order {
	g.sequence++
	status := g.pickStatus()
	return Order{
		ID:         g.sequence,
		CustomerID: int64(g.rnd.Intn(g.customerCount) + 1),
		Status:     status,
		Amount:     g.pickAmount(status),
		Currency:   "USD",
		Device:     pickOne(g.rnd, []string{"desktop", "mobile", "tablet"}),
		PlacedAt:   g.now().Add(-time.Duration(g.rnd.Intn(90*24)) * time.Hour),
	}
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 10:
		return "pending"
	case p < 35:
		return "paid"
	case p < 60:
		return "shipped"
	case p < 93:
		return "delivered"
	default:
		return "cancelled"
	}
}

func (g *Generator) pickAmount(status string) float64 {
	base := 10 + g.rnd.Float64()*290
	if status == "cancelled" {
		return round2(base * 0.5)
	}
	return round2(base)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
