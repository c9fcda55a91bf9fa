// Package reporter renders shift closure results.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the closure result for programmatic consumption
//   - CSV: one row per computed sale line, payment method and issue
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"fuel-shift-reconciliation/internal/models"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeLines    bool `json:"include_lines"`
	IncludeTanks    bool `json:"include_tanks"`
	IncludeCash     bool `json:"include_cash"`
	IncludeWarnings bool `json:"include_warnings"`

	// Console lists longer than this are truncated; zero disables truncation
	MaxListItems int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	// Sort payment methods by amount instead of first appearance
	SortMethodsByAmount bool `json:"sort_methods_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:              FormatConsole,
		IncludeLines:        true,
		IncludeTanks:        true,
		IncludeCash:         true,
		IncludeWarnings:     true,
		MaxListItems:        50,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
		SortMethodsByAmount: false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates closure reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes the report for result to writer
func (rg *ReportGenerator) GenerateReport(result *models.ClosureResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("closure result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// errWriter keeps the first write error so the console report can be
// written without checking every Fprintf.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (rg *ReportGenerator) generateConsoleReport(result *models.ClosureResult, writer io.Writer) error {
	w := &errWriter{w: writer}

	w.printf("SHIFT CLOSURE REPORT\n")
	w.printf("Location:   %d\n", result.LocationID)
	if result.ShiftID != nil {
		w.printf("Shift:      %d (%s)\n", *result.ShiftID, result.Reference)
	}
	w.printf("Status:     %s\n", strings.ToUpper(string(result.Status)))
	if result.ConsolidatedMode {
		w.printf("Payments:   consolidated\n")
	}
	w.printf("Processed:  %s\n\n", result.ProcessedAt.Format(time.RFC3339))

	if rg.config.IncludeLines && len(result.Dispensers) > 0 {
		w.printf("=== DISPENSERS ===\n")
		rg.printDispensers(w, result.Dispensers)
		w.printf("\n")
	}

	if rg.config.IncludeLines && len(result.ProductSales.Lines) > 0 {
		w.printf("=== PRODUCT SALES ===\n")
		rg.printLines(w, result.ProductSales.Lines)
		w.printf("Total: %s\n\n", result.ProductSales.TotalValue.StringFixed(2))
	}

	if rg.config.IncludeTanks && len(result.Tanks.Tanks) > 0 {
		w.printf("=== TANKS ===\n")
		rg.printTanks(w, result.Tanks)
		w.printf("\n")
	}

	w.printf("=== FINANCIAL SUMMARY ===\n")
	rg.printFinancial(w, result.Financial, result.Transactions)
	w.printf("\n")

	if rg.config.IncludeCash && (len(result.Cash.Applied) > 0 || len(result.Cash.Discarded) > 0) {
		w.printf("=== CASH LEDGER ===\n")
		rg.printCash(w, result.Cash)
		w.printf("\n")
	}

	if len(result.Errors) > 0 {
		w.printf("=== ERRORS (%d) ===\n", len(result.Errors))
		rg.printIssues(w, result.Errors)
		w.printf("\n")
	}

	if rg.config.IncludeWarnings && len(result.Warnings) > 0 {
		w.printf("=== WARNINGS (%d) ===\n", len(result.Warnings))
		rg.printIssues(w, result.Warnings)
	}

	return w.err
}

func (rg *ReportGenerator) generateJSONReport(result *models.ClosureResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

var csvHeaders = []string{
	"Type",
	"Ref",
	"Product",
	"Unit",
	"Quantity",
	"Liters",
	"Gallons",
	"Unit_Price",
	"Value",
	"Allocation_Source",
	"Allocations",
	"Notes",
}

func (rg *ReportGenerator) generateCSVReport(result *models.ClosureResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	write := func(record []string) error {
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
		return nil
	}

	if rg.config.CSVHeaders {
		if err := write(csvHeaders); err != nil {
			return err
		}
	}

	for _, line := range computedLines(result) {
		if err := write(lineRecord(line)); err != nil {
			return err
		}
	}

	for _, m := range rg.methods(result.Financial.Methods) {
		record := []string{
			"payment", m.Method, "", "", "", "", "", "",
			m.Amount.StringFixed(2), string(m.Bucket), m.Percentage.StringFixed(2) + "%", "",
		}
		if err := write(record); err != nil {
			return err
		}
	}

	issues := result.Errors
	if rg.config.IncludeWarnings {
		issues = append(append([]models.Issue{}, result.Errors...), result.Warnings...)
	}
	for _, issue := range issues {
		record := []string{
			string(issue.Severity), issue.Line, issue.ProductCode, "", "", "", "", "",
			amountString(issue.Amount), "", string(issue.Code), issue.Message,
		}
		if err := write(record); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// computedLines lists accepted hose lines in dispenser order followed by
// product sale lines.
func computedLines(result *models.ClosureResult) []models.ComputedSaleLine {
	var lines []models.ComputedSaleLine
	for _, d := range result.Dispensers {
		for _, h := range d.Hoses {
			if h.Line != nil {
				lines = append(lines, *h.Line)
			}
		}
	}
	return append(lines, result.ProductSales.Lines...)
}

func lineRecord(line models.ComputedSaleLine) []string {
	liters, gallons := "", ""
	if line.IsFuel || !line.QuantityLiters.IsZero() {
		liters = line.QuantityLiters.StringFixed(2)
		gallons = line.QuantityGallons.StringFixed(2)
	}
	notes := ""
	if line.MatchedLine != "" {
		notes = "matched " + line.MatchedLine
	}
	return []string{
		string(line.Source),
		line.Ref,
		line.ProductCode,
		line.Unit,
		line.Quantity.String(),
		liters,
		gallons,
		line.UnitPrice.StringFixed(2),
		line.Value.StringFixed(2),
		string(line.AllocationSource),
		formatAllocations(line.Allocations),
		notes,
	}
}

func formatAllocations(shares []models.AllocationShare) string {
	parts := make([]string, 0, len(shares))
	for _, s := range shares {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Method, s.Amount.StringFixed(2)))
	}
	return strings.Join(parts, "; ")
}

func amountString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printDispensers(w *errWriter, dispensers []models.DispenserSummary) {
	for _, d := range dispensers {
		w.printf("Dispenser %s: %s gal / %s L, %s\n",
			d.DispenserID,
			d.TotalGallons.StringFixed(2),
			d.TotalLiters.StringFixed(2),
			d.TotalValue.StringFixed(2))
		for _, h := range d.Hoses {
			w.printf("  %s %-8s %s -> %s (delta %s) %s",
				h.HoseID, h.ProductCode,
				h.PreviousReading.String(), h.CurrentReading.String(),
				h.Delta.String(), h.Status)
			if h.Line != nil {
				w.printf(", value %s [%s]", h.Line.Value.StringFixed(2), h.Line.AllocationSource)
			}
			if h.Shortfall != nil {
				w.printf(", short %s", h.Shortfall.StringFixed(2))
			}
			w.printf("\n")
		}
	}
}

func (rg *ReportGenerator) printLines(w *errWriter, lines []models.ComputedSaleLine) {
	for i, line := range lines {
		w.printf("  %d. %s %s %s @ %s = %s",
			i+1,
			line.ProductCode,
			line.Quantity.String(),
			line.Unit,
			line.UnitPrice.StringFixed(2),
			line.Value.StringFixed(2))
		if len(line.Allocations) > 0 {
			w.printf(" (%s)", formatAllocations(line.Allocations))
		}
		w.printf("\n")

		if rg.truncate(w, i, len(lines)) {
			break
		}
	}
}

func (rg *ReportGenerator) printTanks(w *errWriter, summary models.TankSummary) {
	for _, t := range summary.Tanks {
		w.printf("  Tank %d: height %s, volume %s of %s (%s%%)\n",
			t.TankID,
			t.Height.String(),
			t.Volume.StringFixed(2),
			t.Capacity.StringFixed(2),
			t.Occupancy.StringFixed(2))
		for _, warning := range t.Warnings {
			w.printf("    ! %s\n", warning)
		}
	}
	w.printf("Total: %s of %s (%s%%)\n",
		summary.TotalVolume.StringFixed(2),
		summary.TotalCapacity.StringFixed(2),
		summary.Occupancy.StringFixed(2))
}

func (rg *ReportGenerator) printFinancial(w *errWriter, fin models.FinancialSummary, count models.TransactionCount) {
	w.printf("Declared Total: %s\n", fin.DeclaredTotal.StringFixed(2))
	w.printf("Computed Total: %s\n", fin.ComputedTotal.StringFixed(2))
	w.printf("Variance:       %s\n", fin.Variance.StringFixed(2))
	if !fin.Variance.IsZero() && !fin.ComputedTotal.IsZero() {
		pct := fin.Variance.Abs().Div(fin.ComputedTotal).Mul(decimal.NewFromInt(100))
		w.printf("Variance %%:     %s%%\n", pct.StringFixed(2))
	}
	w.printf("Balanced:       %t\n", fin.Balanced)
	if count.Declared != nil {
		w.printf("Transactions:   %d declared, %d computed\n", *count.Declared, count.Computed)
	} else {
		w.printf("Transactions:   %d computed\n", count.Computed)
	}

	methods := rg.methods(fin.Methods)
	if len(methods) == 0 {
		return
	}
	w.printf("\nPayment Methods:\n")
	for _, m := range methods {
		w.printf("  %-12s %-9s %12s (%s%%)\n", m.Method, m.Bucket, m.Amount.StringFixed(2), m.Percentage.StringFixed(2))
	}
	b := fin.Buckets
	w.printf("Buckets: cash %s, card %s, transfer %s, voucher %s, loyalty %s, other %s\n",
		b.Cash.StringFixed(2), b.Card.StringFixed(2), b.Transfer.StringFixed(2),
		b.Voucher.StringFixed(2), b.Loyalty.StringFixed(2), b.Other.StringFixed(2))
}

func (rg *ReportGenerator) printCash(w *errWriter, cash models.CashLedgerEffect) {
	w.printf("Opening Balance: %s\n", cash.OpeningBalance.StringFixed(2))
	w.printf("Inflows:         %s\n", cash.TotalInflows.StringFixed(2))
	w.printf("Outflows:        %s\n", cash.TotalOutflows.StringFixed(2))
	w.printf("Closing Balance: %s\n", cash.ClosingBalance.StringFixed(2))
	for _, e := range cash.Applied {
		kind := "manual"
		if e.Automatic {
			kind = "automatic"
		}
		w.printf("  + %-7s %10s %s (%s)\n", e.Type, e.Amount.StringFixed(2), e.Concept, kind)
	}
	for _, e := range cash.Discarded {
		w.printf("  - %-7s %10s %s (discarded)\n", e.Type, e.Amount.StringFixed(2), e.Concept)
	}
}

func (rg *ReportGenerator) printIssues(w *errWriter, issues []models.Issue) {
	for i, issue := range issues {
		w.printf("  - %s", issue.String())
		if issue.Amount != nil {
			w.printf(" (amount: %s)", issue.Amount.StringFixed(2))
		}
		w.printf("\n")

		if rg.truncate(w, i, len(issues)) {
			break
		}
	}
}

// truncate prints the remainder notice once i reaches the list limit.
func (rg *ReportGenerator) truncate(w *errWriter, i, total int) bool {
	limit := rg.config.MaxListItems
	if limit == 0 || total <= limit || i < limit-1 {
		return false
	}
	w.printf("  ... and %d more\n", total-limit)
	return true
}

func (rg *ReportGenerator) methods(methods []models.MethodTotal) []models.MethodTotal {
	if !rg.config.SortMethodsByAmount {
		return methods
	}
	sorted := append([]models.MethodTotal(nil), methods...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.GreaterThan(sorted[j].Amount)
	})
	return sorted
}

func (rg *ReportGenerator) filterResultForOutput(result *models.ClosureResult) *models.ClosureResult {
	filtered := *result
	if !rg.config.IncludeLines {
		filtered.Dispensers = nil
		filtered.ProductSales.Lines = nil
	}
	if !rg.config.IncludeTanks {
		filtered.Tanks = models.TankSummary{}
	}
	if !rg.config.IncludeCash {
		filtered.Cash = models.CashLedgerEffect{}
	}
	if !rg.config.IncludeWarnings {
		filtered.Warnings = nil
	}
	filtered.Financial.Methods = rg.methods(result.Financial.Methods)
	return &filtered
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
