package parsers

import (
	"fmt"
	"strings"
)

// Standard column names of a hose reading file
const (
	ColumnDispenser     = "dispenser_id"
	ColumnHose          = "hose_id"
	ColumnProduct       = "product_code"
	ColumnPrevious      = "previous_reading"
	ColumnCurrent       = "current_reading"
	ColumnUnit          = "unit"
	ColumnPaymentMethod = "payment_method"
	ColumnPaymentAmount = "payment_amount"
	ColumnNote          = "note"
)

// standardColumns is the column order assumed when a file has no header row
var standardColumns = []string{
	ColumnDispenser,
	ColumnHose,
	ColumnProduct,
	ColumnPrevious,
	ColumnCurrent,
	ColumnUnit,
	ColumnPaymentMethod,
	ColumnPaymentAmount,
	ColumnNote,
}

// HoseCSVConfig holds configuration for parsing hose reading files
type HoseCSVConfig struct {
	Parse *ParseConfig `json:"-"`

	// ColumnAliases lists alternative headers accepted for each standard column
	ColumnAliases map[string][]string `json:"column_aliases,omitempty"`

	// DefaultUnit is used for rows without a unit; empty makes the unit column required
	DefaultUnit string `json:"default_unit,omitempty"`

	// SkipInvalidRows records bad rows in the parse statistics instead of failing
	SkipInvalidRows bool `json:"skip_invalid_rows"`
}

// DefaultHoseCSVConfig returns the aliases seen in dispenser console exports
func DefaultHoseCSVConfig() *HoseCSVConfig {
	return &HoseCSVConfig{
		Parse: DefaultParseConfig(),
		ColumnAliases: map[string][]string{
			ColumnDispenser:     {"dispenser", "surtidor", "pump", "bomba"},
			ColumnHose:          {"hose", "manguera", "nozzle"},
			ColumnProduct:       {"product", "producto", "fuel", "combustible"},
			ColumnPrevious:      {"previous", "opening_reading", "lectura_anterior", "lectura_inicial"},
			ColumnCurrent:       {"current", "closing_reading", "lectura_actual", "lectura_final"},
			ColumnUnit:          {"unidad", "uom"},
			ColumnPaymentMethod: {"method", "metodo_pago", "forma_pago"},
			ColumnPaymentAmount: {"amount", "monto", "importe"},
			ColumnNote:          {"notes", "nota", "observacion"},
		},
		SkipInvalidRows: false,
	}
}

// Validate checks if the configuration is usable
func (c *HoseCSVConfig) Validate() error {
	if c.Parse == nil {
		return fmt.Errorf("parse configuration cannot be nil")
	}
	if c.Parse.Delimiter == 0 || c.Parse.Delimiter == '"' || c.Parse.Delimiter == '\n' {
		return fmt.Errorf("invalid delimiter %q", c.Parse.Delimiter)
	}
	for column, aliases := range c.ColumnAliases {
		if !isStandardColumn(column) {
			return fmt.Errorf("aliases given for unknown column %q", column)
		}
		for _, alias := range aliases {
			if strings.TrimSpace(alias) == "" {
				return fmt.Errorf("empty alias for column %q", column)
			}
		}
	}
	return nil
}

// ColumnNames returns the standard name followed by its aliases
func (c *HoseCSVConfig) ColumnNames(standardName string) []string {
	return append([]string{standardName}, c.ColumnAliases[standardName]...)
}

// RequiredColumns lists the columns a file must provide
func (c *HoseCSVConfig) RequiredColumns() []string {
	required := []string{ColumnDispenser, ColumnHose, ColumnProduct, ColumnPrevious, ColumnCurrent}
	if c.DefaultUnit == "" {
		required = append(required, ColumnUnit)
	}
	return required
}

func isStandardColumn(name string) bool {
	for _, column := range standardColumns {
		if column == name {
			return true
		}
	}
	return false
}
