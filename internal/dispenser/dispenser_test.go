package dispenser

import (
	"context"
	"errors"
	"testing"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCatalog() *memory.Store {
	st := memory.New()
	st.AddProduct(models.Product{Code: "REG", Name: "Regular", Unit: "litros", IsFuel: true, SalePrice: d("4.00"), Active: true})
	st.AddProduct(models.Product{Code: "DSL", Name: "Diesel", Unit: "galones", IsFuel: true, SalePrice: d("15.00"), Active: true})
	st.AddProduct(models.Product{Code: "BAD", Name: "Broken", Unit: "barrels", IsFuel: true, SalePrice: d("1"), Active: true})
	return st
}

func hose(prev, curr, unit string) models.HoseReading {
	return models.HoseReading{HoseID: "H1", ProductCode: "REG", PreviousReading: d(prev), CurrentReading: d(curr), Unit: unit}
}

func TestCalculate_GallonMeterPricedPerLiter(t *testing.T) {
	calc := NewCalculator(newCatalog())

	res, err := calc.Calculate(context.Background(), "D1", hose("1000.00", "1050.00", "galones"))
	require.NoError(t, err)
	require.Equal(t, models.HoseOK, res.Status)
	require.NotNil(t, res.Line)

	line := res.Line
	assert.True(t, res.Delta.Equal(d("50")), "delta %s", res.Delta)
	assert.True(t, line.QuantityGallons.Equal(d("50")))
	assert.True(t, line.QuantityLiters.Equal(d("189.27")), "liters %s", line.QuantityLiters)
	assert.True(t, line.Quantity.Equal(d("189.27")), "quantity in product unit %s", line.Quantity)
	assert.True(t, line.Value.Equal(d("757.08")), "value %s", line.Value)
	assert.True(t, line.PricePerLiter.Equal(d("4")))
	assert.True(t, line.PricePerGallon.Equal(d("15.14")))
	assert.Equal(t, "D1/H1", line.Ref)
	assert.Equal(t, "D1", line.DispenserID)
	assert.True(t, line.IsFuel)
	assert.Empty(t, res.Issues)
}

func TestCalculate_DeltaRules(t *testing.T) {
	tests := []struct {
		name       string
		reading    models.HoseReading
		wantStatus models.HoseStatus
		wantCode   models.IssueCode
		wantSev    models.Severity
		wantDelta  string
	}{
		{
			name:       "rounds delta to two decimals",
			reading:    hose("10.004", "20.011", "litros"),
			wantStatus: models.HoseOK,
			wantDelta:  "10.01",
		},
		{
			name:       "negative delta",
			reading:    hose("500", "499.5", "litros"),
			wantStatus: models.HoseRejected,
			wantCode:   models.IssueNegativeDelta,
			wantSev:    models.SeverityError,
			wantDelta:  "-0.5",
		},
		{
			name:       "zero delta",
			reading:    hose("500", "500", "litros"),
			wantStatus: models.HoseZeroDelta,
			wantCode:   models.IssueZeroDelta,
			wantSev:    models.SeverityWarning,
			wantDelta:  "0",
		},
		{
			name:       "unknown unit",
			reading:    hose("1", "2", "barrels"),
			wantStatus: models.HoseRejected,
			wantCode:   models.IssueInvalidUnit,
			wantSev:    models.SeverityError,
			wantDelta:  "1",
		},
		{
			name:       "count unit on a volume product",
			reading:    hose("1", "2", "unidades"),
			wantStatus: models.HoseRejected,
			wantCode:   models.IssueInvalidUnit,
			wantSev:    models.SeverityError,
			wantDelta:  "1",
		},
	}

	calc := NewCalculator(newCatalog())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := calc.Calculate(context.Background(), "D1", tt.reading)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.True(t, res.Delta.Equal(d(tt.wantDelta)), "delta %s", res.Delta)

			if tt.wantCode == "" {
				assert.Empty(t, res.Issues)
				assert.NotNil(t, res.Line)
				return
			}
			require.Len(t, res.Issues, 1)
			assert.Equal(t, tt.wantCode, res.Issues[0].Code)
			assert.Equal(t, tt.wantSev, res.Issues[0].Severity)
			assert.Equal(t, "D1/H1", res.Issues[0].Line)
			assert.Nil(t, res.Line)
		})
	}
}

func TestCalculate_UnknownProduct(t *testing.T) {
	calc := NewCalculator(newCatalog())
	reading := hose("1", "2", "litros")
	reading.ProductCode = "NOPE"

	res, err := calc.Calculate(context.Background(), "D2", reading)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, models.IssueUnknownProduct, res.Issues[0].Code)
	assert.Equal(t, "NOPE", res.Issues[0].ProductCode)
	assert.Equal(t, models.HoseRejected, res.Status)
}

func TestCalculate_ProductWithInvalidUnit(t *testing.T) {
	calc := NewCalculator(newCatalog())
	reading := hose("1", "2", "litros")
	reading.ProductCode = "BAD"

	res, err := calc.Calculate(context.Background(), "D1", reading)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, models.IssueInvalidUnit, res.Issues[0].Code)
}

type brokenCatalog struct{}

func (brokenCatalog) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	return nil, errors.New("connection reset")
}

func TestCalculate_CatalogFailure(t *testing.T) {
	calc := NewCalculator(brokenCatalog{})
	_, err := calc.Calculate(context.Background(), "D1", hose("1", "2", "litros"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestCompute_LiterMeterGallonProduct(t *testing.T) {
	product := &models.Product{ID: 2, Code: "DSL", Unit: "galones", IsFuel: true, SalePrice: d("15.00")}
	line, issue := Compute("D3/H1", product, hose("0", "378.54", "litros"))
	require.Nil(t, issue)

	assert.True(t, line.QuantityLiters.Equal(d("378.54")))
	assert.True(t, line.QuantityGallons.Equal(d("100")), "gallons %s", line.QuantityGallons)
	assert.True(t, line.Quantity.Equal(d("100")))
	assert.True(t, line.Value.Equal(d("1500")))
	assert.True(t, line.PricePerLiter.Equal(d("3.96")), "per liter %s", line.PricePerLiter)
}
