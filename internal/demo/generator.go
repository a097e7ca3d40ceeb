package demo

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const dateLayout = "2006-01-02"

type Customer struct {
	CustomerID int64  `parquet:"customer_id"`
	Name       string `parquet:"name"`
	Region     string `parquet:"region"`
	Country    string `parquet:"country"`
	Segment    string `parquet:"segment"`
	SignupDate string `parquet:"signup_date"`
}

type Order struct {
	OrderID    int64   `parquet:"order_id"`
	CustomerID int64   `parquet:"customer_id"`
	OrderDate  string  `parquet:"order_date"`
	Product    string  `parquet:"product"`
	Category   string  `parquet:"category"`
	Channel    string  `parquet:"channel"`
	Quantity   int64   `parquet:"quantity"`
	UnitPrice  float64 `parquet:"unit_price"`
	Amount     float64 `parquet:"amount"`
}

type product struct {
	name     string
	category string
	price    float64
}

var catalog = []product{
	{"Trail Runner", "Footwear", 129.00},
	{"City Sneaker", "Footwear", 89.50},
	{"Rain Shell", "Apparel", 149.00},
	{"Merino Tee", "Apparel", 45.00},
	{"Daypack 20L", "Bags", 79.00},
	{"Travel Duffel", "Bags", 119.00},
	{"Water Bottle", "Accessories", 19.90},
	{"Headlamp", "Accessories", 39.00},
}

var countries = []struct{ country, region string }{
	{"US", "North America"},
	{"CA", "North America"},
	{"DE", "Europe"},
	{"GB", "Europe"},
	{"FR", "Europe"},
	{"IN", "Asia Pacific"},
	{"JP", "Asia Pacific"},
	{"BR", "Latin America"},
}

// Generator produces a deterministic sales dataset for a given seed and
// start date.
type Generator struct {
	rnd   *rand.Rand
	start time.Time
	days  int
}

func NewGenerator(seed int64, start time.Time, days int) *Generator {
	if days <= 0 {
		days = 1
	}
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		start: start.UTC().Truncate(24 * time.Hour),
		days:  days,
	}
}

func (g *Generator) Customers(n int) []Customer {
	out := make([]Customer, 0, n)
	for i := 1; i <= n; i++ {
		place := countries[g.rnd.Intn(len(countries))]
		out = append(out, Customer{
			CustomerID: int64(i),
			Name:       fmt.Sprintf("Customer %04d", i),
			Region:     place.region,
			Country:    place.country,
			Segment:    g.pickSegment(),
			SignupDate: g.pickDate().Format(dateLayout),
		})
	}
	return out
}

// Orders draws n orders over customers. It returns nil when there are no
// customers to attribute orders to.
func (g *Generator) Orders(n int, customers []Customer) []Order {
	if len(customers) == 0 {
		return nil
	}
	out := make([]Order, 0, n)
	for i := 1; i <= n; i++ {
		customer := customers[g.rnd.Intn(len(customers))]
		item := catalog[g.rnd.Intn(len(catalog))]
		quantity := int64(1 + g.rnd.Intn(4))
		unitPrice := round2(item.price * (0.85 + g.rnd.Float64()*0.3))
		out = append(out, Order{
			OrderID:    int64(i),
			CustomerID: customer.CustomerID,
			OrderDate:  g.pickDate().Format(dateLayout),
			Product:    item.name,
			Category:   item.category,
			Channel:    g.pickChannel(),
			Quantity:   quantity,
			UnitPrice:  unitPrice,
			Amount:     round2(unitPrice * float64(quantity)),
		})
	}
	return out
}

func (g *Generator) pickDate() time.Time {
	return g.start.AddDate(0, 0, g.rnd.Intn(g.days))
}

func (g *Generator) pickSegment() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 60:
		return "Consumer"
	case p < 85:
		return "Small Business"
	default:
		return "Enterprise"
	}
}

func (g *Generator) pickChannel() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 55:
		return "web"
	case p < 85:
		return "mobile"
	default:
		return "store"
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
