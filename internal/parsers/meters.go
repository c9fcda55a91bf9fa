package parsers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
)

// HoseReadingParser reads hose meter readings from CSV. Each row is one
// hose; a hose repeated on several rows with the same readings contributes
// one payment allocation per row.
type HoseReadingParser struct {
	*BaseParser
	config *HoseCSVConfig
}

// NewHoseReadingParser creates a parser. A nil config uses DefaultHoseCSVConfig.
func NewHoseReadingParser(config *HoseCSVConfig) (*HoseReadingParser, error) {
	if config == nil {
		config = DefaultHoseCSVConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "hose_csv", nil, err)
	}
	return &HoseReadingParser{
		BaseParser: NewBaseParser(config.Parse),
		config:     config,
	}, nil
}

// ParseFile parses the hose reading file at path
func (p *HoseReadingParser) ParseFile(ctx context.Context, path string) ([]models.DispenserReading, *ParseStats, error) {
	file, err := p.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return p.Parse(ctx, file, path)
}

type hoseColumns struct {
	dispenser, hose, product, previous, current, unit, method, amount, note int
}

type hoseRow struct {
	dispenserID string
	hose        models.HoseReading
	payment     *models.PaymentAllocation
}

// Parse reads hose readings from r; name identifies the input in errors.
// Dispensers and hoses keep the order of their first row.
func (p *HoseReadingParser) Parse(ctx context.Context, r io.Reader, name string) ([]models.DispenserReading, *ParseStats, error) {
	parseCtx := NewParseContext(ctx, name)
	reader := p.NewReader(r)
	stats := NewParseStats()
	log := p.logger.WithField("file", name)

	if err := p.ReadHeaders(reader, parseCtx, standardColumns); err != nil {
		return nil, stats, err
	}
	cols, err := p.resolveColumns(parseCtx)
	if err != nil {
		return nil, stats, err
	}

	var dispensers []models.DispenserReading
	dispenserIndex := make(map[string]int)
	hoseIndex := make(map[string]int)

	for {
		record, err := p.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}
		stats.RecordsParsed++

		row, perr := p.parseRow(record, cols, parseCtx)
		if perr == nil {
			perr = mergeRow(&dispensers, dispenserIndex, hoseIndex, row, parseCtx)
		}
		if perr != nil {
			stats.AddError(perr)
			if !p.config.SkipInvalidRows {
				return nil, stats, errors.ParseError(
					errors.CodeInvalidData, name, perr.Line, perr.Field, perr.Value, perr,
				)
			}
			log.WithField("line", perr.Line).Warn(perr.Message)
			continue
		}
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.LineNumber

	log.WithFields(logger.Fields{
		"dispensers": len(dispensers),
		"records":    stats.RecordsValid,
		"errors":     stats.ErrorCount,
	}).Debug("Parsed hose readings")
	return dispensers, stats, nil
}

func (p *HoseReadingParser) resolveColumns(parseCtx *ParseContext) (hoseColumns, error) {
	find := func(column string) int {
		return parseCtx.FindColumn(p.config.ColumnNames(column)...)
	}
	cols := hoseColumns{
		dispenser: find(ColumnDispenser),
		hose:      find(ColumnHose),
		product:   find(ColumnProduct),
		previous:  find(ColumnPrevious),
		current:   find(ColumnCurrent),
		unit:      find(ColumnUnit),
		method:    find(ColumnPaymentMethod),
		amount:    find(ColumnPaymentAmount),
		note:      find(ColumnNote),
	}

	var missing []string
	for _, column := range p.config.RequiredColumns() {
		if find(column) == -1 {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return cols, errors.ParseError(
			errors.CodeMissingColumn,
			parseCtx.File,
			parseCtx.LineNumber,
			strings.Join(missing, ", "),
			"",
			nil,
		).WithSuggestion(fmt.Sprintf("Available headers: %v", parseCtx.Headers))
	}
	return cols, nil
}

func (p *HoseReadingParser) parseRow(record []string, cols hoseColumns, parseCtx *ParseContext) (hoseRow, *ParseError) {
	row := hoseRow{
		dispenserID: fieldAt(record, cols.dispenser),
		hose: models.HoseReading{
			HoseID:      fieldAt(record, cols.hose),
			ProductCode: strings.ToUpper(fieldAt(record, cols.product)),
			Unit:        fieldAt(record, cols.unit),
			Note:        fieldAt(record, cols.note),
		},
	}
	if row.hose.Unit == "" {
		row.hose.Unit = p.config.DefaultUnit
	}

	for _, f := range []struct {
		column string
		index  int
		value  string
	}{
		{ColumnDispenser, cols.dispenser, row.dispenserID},
		{ColumnHose, cols.hose, row.hose.HoseID},
		{ColumnProduct, cols.product, row.hose.ProductCode},
		{ColumnUnit, cols.unit, row.hose.Unit},
	} {
		if f.value == "" {
			return row, parseCtx.AddError(f.index, f.column, "", "value is required", nil)
		}
	}

	var perr *ParseError
	if row.hose.PreviousReading, perr = readingAt(record, cols.previous, ColumnPrevious, parseCtx); perr != nil {
		return row, perr
	}
	if row.hose.CurrentReading, perr = readingAt(record, cols.current, ColumnCurrent, parseCtx); perr != nil {
		return row, perr
	}

	method := fieldAt(record, cols.method)
	rawAmount := fieldAt(record, cols.amount)
	switch {
	case method == "" && rawAmount == "":
	case method == "":
		return row, parseCtx.AddError(cols.method, ColumnPaymentMethod, "", "payment amount given without a method", nil)
	case rawAmount == "":
		return row, parseCtx.AddError(cols.amount, ColumnPaymentAmount, "", "payment method given without an amount", nil)
	default:
		amount, err := models.ParseDecimalFromString(rawAmount)
		if err != nil {
			return row, parseCtx.AddError(cols.amount, ColumnPaymentAmount, rawAmount, "invalid amount", err)
		}
		if amount.IsNegative() {
			return row, parseCtx.AddError(cols.amount, ColumnPaymentAmount, rawAmount, "amount cannot be negative", nil)
		}
		row.payment = &models.PaymentAllocation{Method: method, Amount: amount}
	}

	return row, nil
}

func readingAt(record []string, index int, column string, parseCtx *ParseContext) (decimal.Decimal, *ParseError) {
	raw := fieldAt(record, index)
	value, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return decimal.Zero, parseCtx.AddError(index, column, raw, "invalid meter reading", err)
	}
	if value.IsNegative() {
		return decimal.Zero, parseCtx.AddError(index, column, raw, "meter reading cannot be negative", nil)
	}
	return value, nil
}

// mergeRow adds the row's hose to its dispenser, or appends the row's
// payment when the hose was already read.
func mergeRow(dispensers *[]models.DispenserReading, dispenserIndex, hoseIndex map[string]int, row hoseRow, parseCtx *ParseContext) *ParseError {
	di, ok := dispenserIndex[row.dispenserID]
	if !ok {
		di = len(*dispensers)
		dispenserIndex[row.dispenserID] = di
		*dispensers = append(*dispensers, models.DispenserReading{DispenserID: row.dispenserID})
	}
	d := &(*dispensers)[di]

	key := row.dispenserID + "\x00" + row.hose.HoseID
	hi, seen := hoseIndex[key]
	if !seen {
		if row.payment != nil {
			row.hose.Payments = []models.PaymentAllocation{*row.payment}
		}
		hoseIndex[key] = len(d.Hoses)
		d.Hoses = append(d.Hoses, row.hose)
		return nil
	}

	existing := &d.Hoses[hi]
	if existing.ProductCode != row.hose.ProductCode ||
		existing.Unit != row.hose.Unit ||
		!existing.PreviousReading.Equal(row.hose.PreviousReading) ||
		!existing.CurrentReading.Equal(row.hose.CurrentReading) {
		return parseCtx.AddError(-1, ColumnHose, row.hose.HoseID, "conflicting readings for a hose already read", nil)
	}
	if row.payment == nil {
		return parseCtx.AddError(-1, ColumnHose, row.hose.HoseID, "hose listed twice without a payment", nil)
	}
	existing.Payments = append(existing.Payments, *row.payment)
	return nil
}

// MergeDispensers overlays readings onto base. Hoses of a dispenser present
// in both are replaced by hose id; new dispensers and hoses are appended.
func MergeDispensers(base, readings []models.DispenserReading) []models.DispenserReading {
	merged := make([]models.DispenserReading, len(base))
	for i, d := range base {
		merged[i] = models.DispenserReading{
			DispenserID: d.DispenserID,
			Hoses:       append([]models.HoseReading(nil), d.Hoses...),
		}
	}

	for _, d := range readings {
		target := -1
		for i := range merged {
			if merged[i].DispenserID == d.DispenserID {
				target = i
				break
			}
		}
		if target == -1 {
			merged = append(merged, d)
			continue
		}

	hoses:
		for _, h := range d.Hoses {
			for i := range merged[target].Hoses {
				if merged[target].Hoses[i].HoseID == h.HoseID {
					merged[target].Hoses[i] = h
					continue hoses
				}
			}
			merged[target].Hoses = append(merged[target].Hoses, h)
		}
	}
	return merged
}
