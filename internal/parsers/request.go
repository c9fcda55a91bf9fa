package parsers

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/pkg/errors"
)

// LoadRequest reads a shift closure request from a JSON file. The request
// is decoded but not validated; the engine validates it.
func LoadRequest(path string) (*models.ShiftClosureRequest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(bytes.NewReader(data), path)
}

// DecodeRequest decodes a closure request. Unknown fields are rejected so
// misspelled keys do not silently drop data.
func DecodeRequest(r io.Reader, name string) (*models.ShiftClosureRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, name, err)
	}

	var req models.ShiftClosureRequest
	if err := decodeStrict(data, &req); err != nil {
		return nil, jsonError(name, data, err)
	}
	return &req, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after the JSON document")
	}
	return nil
}

// jsonError converts a decoding failure into a parse error with the line
// it occurred on.
func jsonError(name string, data []byte, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case stderrors.As(err, &syntaxErr):
		return errors.ParseError(errors.CodeInvalidFormat, name, lineOf(data, syntaxErr.Offset), "json", "", err)
	case stderrors.As(err, &typeErr):
		return errors.ParseError(errors.CodeInvalidData, name, lineOf(data, typeErr.Offset), typeErr.Field, typeErr.Value, err).
			WithSuggestion(fmt.Sprintf("Field %s must be a %s", typeErr.Field, typeErr.Type))
	case stderrors.Is(err, io.EOF):
		return errors.ParseError(errors.CodeInvalidFormat, name, 1, "json", "", err).
			WithSuggestion("The file is empty")
	default:
		return errors.ParseError(errors.CodeInvalidData, name, 0, "json", "", err)
	}
}

func lineOf(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return bytes.Count(data[:offset], []byte("\n")) + 1
}
