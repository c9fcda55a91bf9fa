package parsers

import (
	"bytes"
	"fmt"
	"io"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/pkg/errors"
)

// Fixtures is the catalog a closure runs against: locations, products,
// tanks, payment methods and opening cash balances.
type Fixtures struct {
	Locations      []models.Location      `json:"locations"`
	Products       []models.Product       `json:"products"`
	Tanks          []models.Tank          `json:"tanks"`
	PaymentMethods []models.PaymentMethod `json:"payment_methods"`
	CashLedgers    []models.CashLedger    `json:"cash_ledgers"`
}

// Entries without an "active" key are active.
type fixtureFile struct {
	Locations []models.Location `json:"locations"`
	Products  []struct {
		models.Product
		Active *bool `json:"active"`
	} `json:"products"`
	Tanks []struct {
		models.Tank
		Active *bool `json:"active"`
	} `json:"tanks"`
	PaymentMethods []struct {
		models.PaymentMethod
		Active *bool `json:"active"`
	} `json:"payment_methods"`
	CashLedgers []models.CashLedger `json:"cash_ledgers"`
}

func active(flag *bool) bool {
	return flag == nil || *flag
}

// Seeder accepts catalog rows. *memory.Store implements it.
type Seeder interface {
	AddLocation(models.Location) models.Location
	AddProduct(models.Product) models.Product
	AddTank(models.Tank) models.Tank
	AddPaymentMethod(models.PaymentMethod) models.PaymentMethod
	AddCashLedger(models.CashLedger) models.CashLedger
}

// LoadFixtures reads fixtures from a JSON file
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeFixtures(bytes.NewReader(data), path)
}

// DecodeFixtures decodes and checks fixtures. Every tank must reference a
// listed location and product, and codes must be unique.
func DecodeFixtures(r io.Reader, name string) (*Fixtures, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, name, err)
	}

	var raw fixtureFile
	if err := decodeStrict(data, &raw); err != nil {
		return nil, jsonError(name, data, err)
	}

	f := &Fixtures{
		Locations:   raw.Locations,
		CashLedgers: raw.CashLedgers,
	}
	for _, p := range raw.Products {
		p.Product.Active = active(p.Active)
		f.Products = append(f.Products, p.Product)
	}
	for _, t := range raw.Tanks {
		t.Tank.Active = active(t.Active)
		f.Tanks = append(f.Tanks, t.Tank)
	}
	for _, m := range raw.PaymentMethods {
		m.PaymentMethod.Active = active(m.Active)
		f.PaymentMethods = append(f.PaymentMethods, m.PaymentMethod)
	}

	if err := f.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidData, name, nil, err).
			WithSuggestion("Give every location, product and tank an explicit id and reference them by id")
	}
	return f, nil
}

// Validate checks identifiers and references between fixture rows
func (f *Fixtures) Validate() error {
	locations := make(map[uint]bool)
	for _, l := range f.Locations {
		if l.ID == 0 {
			return fmt.Errorf("location %q has no id", l.Name)
		}
		if locations[l.ID] {
			return fmt.Errorf("duplicate location id %d", l.ID)
		}
		locations[l.ID] = true
	}

	products := make(map[uint]bool)
	codes := make(map[string]bool)
	for _, p := range f.Products {
		if p.ID == 0 || p.Code == "" {
			return fmt.Errorf("product %q needs an id and a code", p.Code)
		}
		if products[p.ID] || codes[p.Code] {
			return fmt.Errorf("duplicate product %d/%s", p.ID, p.Code)
		}
		products[p.ID] = true
		codes[p.Code] = true
	}

	for _, t := range f.Tanks {
		if !locations[t.LocationID] {
			return fmt.Errorf("tank %d references unknown location %d", t.ID, t.LocationID)
		}
		if !products[t.ProductID] {
			return fmt.Errorf("tank %d references unknown product %d", t.ID, t.ProductID)
		}
	}

	methods := make(map[string]bool)
	for _, m := range f.PaymentMethods {
		code := models.NormalizeMethodCode(m.Code)
		if code == "" || methods[code] {
			return fmt.Errorf("payment method code %q is empty or repeated", m.Code)
		}
		if m.Bucket != "" {
			if _, ok := models.ParseBucket(m.Bucket); !ok {
				return fmt.Errorf("payment method %s has unknown bucket %q", m.Code, m.Bucket)
			}
		}
		methods[code] = true
	}

	for _, l := range f.CashLedgers {
		if !locations[l.LocationID] {
			return fmt.Errorf("cash ledger references unknown location %d", l.LocationID)
		}
	}
	return nil
}

// Apply seeds every fixture row into s
func (f *Fixtures) Apply(s Seeder) {
	for _, l := range f.Locations {
		s.AddLocation(l)
	}
	for _, p := range f.Products {
		s.AddProduct(p)
	}
	for _, t := range f.Tanks {
		s.AddTank(t)
	}
	for _, m := range f.PaymentMethods {
		s.AddPaymentMethod(m)
	}
	for _, l := range f.CashLedgers {
		s.AddCashLedger(l)
	}
}

// Records returns the non-empty fixture tables in insertion order, each as
// a pointer to its slice, for bulk loading into a database.
func (f *Fixtures) Records() []interface{} {
	var records []interface{}
	if len(f.Locations) > 0 {
		records = append(records, &f.Locations)
	}
	if len(f.Products) > 0 {
		records = append(records, &f.Products)
	}
	if len(f.Tanks) > 0 {
		records = append(records, &f.Tanks)
	}
	if len(f.PaymentMethods) > 0 {
		records = append(records, &f.PaymentMethods)
	}
	if len(f.CashLedgers) > 0 {
		records = append(records, &f.CashLedgers)
	}
	return records
}
