// Package parsers loads closure inputs from files.
//
// Parser types:
//   - HoseReadingParser: meter readings exported by dispenser consoles as CSV
//   - LoadRequest: a full shift closure request as JSON
//   - LoadFixtures: catalog data (locations, products, tanks, payment
//     methods, cash ledgers) for seeding a store
//
// The CSV parser accepts the header spellings found in console exports,
// such as "Manguera" or "lectura_actual", through column aliases.
//
// Example usage:
//
//	parser, err := parsers.NewHoseReadingParser(nil)
//	dispensers, stats, err := parser.ParseFile(ctx, "meters.csv")
//	req.Dispensers = parsers.MergeDispensers(req.Dispensers, dispensers)
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"
)

// ParseError represents an error that occurred during CSV parsing
type ParseError struct {
	Line    int
	Column  int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d, column %d (%s='%s'): %s: %v",
			e.Line, e.Column, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d, column %d (%s='%s'): %s",
		e.Line, e.Column, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		Comment:          '#',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     4096,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("csv_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	Errors     []*ParseError
	ctx        context.Context
}

// NewParseContext creates a new parsing context for the named input
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	return pc.ctx.Err() != nil
}

// AddError adds a parsing error for the current line
func (pc *ParseContext) AddError(column int, field, value, message string, err error) *ParseError {
	parseErr := &ParseError{
		Line:    pc.LineNumber,
		Column:  column,
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
	pc.Errors = append(pc.Errors, parseErr)
	return parseErr
}

// GetColumnIndex returns the index of a column by name, or -1 if not found.
// Names are compared case-insensitively with spaces and dashes treated as
// underscores.
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[normalizeHeader(name)]; exists {
		return index
	}
	return -1
}

// FindColumn returns the index of the first present name, or -1.
func (pc *ParseContext) FindColumn(names ...string) int {
	for _, name := range names {
		if index := pc.GetColumnIndex(name); index != -1 {
			return index
		}
	}
	return -1
}

func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

// OpenFile opens a CSV file. The caller closes the returned file.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	return file, nil
}

// NewReader wraps r in a csv.Reader configured for this parser
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	return reader
}

// validateEncoding checks the first lines of the file for valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil
}

// ReadHeaders reads the header row. Without a header row the default
// column order is used.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, defaults []string) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = append([]string(nil), defaults...)
		bp.buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithSuggestion("Ensure the file contains header and data rows")
		}
		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.File,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.Headers = headers
	bp.buildHeaderMap(parseCtx)

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read CSV headers")
	return nil
}

func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		key := normalizeHeader(header)
		if _, dup := parseCtx.HeaderMap[key]; !dup {
			parseCtx.HeaderMap[key] = i
		}
	}
}

// ReadRecord reads the next non-empty record. It returns io.EOF at the end
// of the input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeCancelled, "csv parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		parseCtx.LineNumber++
		if err != nil {
			return nil, errors.ParseError(
				errors.CodeInvalidFormat,
				parseCtx.File,
				parseCtx.LineNumber,
				"record",
				"",
				err,
			)
		}

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.File,
						parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i),
						field[:50]+"...",
						fmt.Errorf("field size limit exceeded"),
					).WithSuggestion(fmt.Sprintf("Reduce field size to under %d bytes", bp.config.MaxFieldSize))
				}
			}
		}

		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// fieldAt returns the trimmed value at index, or "" when the column is
// absent or the record is short.
func fieldAt(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Errors: make([]*ParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns up to maxSamples error messages
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
