package datasource

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

// FileOperations reads operations from a JSON file on every fetch. The file
// holds either a JSON array or newline-delimited objects.
type FileOperations struct {
	name string
	path string
}

// NewFileOperations creates a file-backed operation source
func NewFileOperations(name, path string) *FileOperations {
	return &FileOperations{name: name, path: path}
}

// Name returns the source name
func (f *FileOperations) Name() string { return f.name }

// FetchOperations returns the file's operations timestamped inside period
func (f *FileOperations) FetchOperations(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var operations []billing.Operation
	if err := decodeFile(f.path, &operations); err != nil {
		return nil, fmt.Errorf("read operations %s: %w", f.path, err)
	}
	return filterOperations(operations, period), nil
}

// FileBilling reads billing export rows from a JSON file on every fetch
type FileBilling struct {
	name string
	path string
}

// NewFileBilling creates a file-backed billing source
func NewFileBilling(name, path string) *FileBilling {
	return &FileBilling{name: name, path: path}
}

// Name returns the source name
func (f *FileBilling) Name() string { return f.name }

// FetchBillingRecords returns the file's records whose usage starts inside period
func (f *FileBilling) FetchBillingRecords(ctx context.Context, period billing.Period) ([]billing.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []billing.Record
	if err := decodeFile(f.path, &records); err != nil {
		return nil, fmt.Errorf("read billing records %s: %w", f.path, err)
	}
	return filterRecords(records, period), nil
}

// decodeFile fills out, a pointer to a slice, from a JSON array or a stream
// of JSON objects.
func decodeFile[T any](path string, out *[]T) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	first, err := peekNonSpace(reader)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(reader)
	if first == '[' {
		return decoder.Decode(out)
	}

	for {
		var item T
		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		*out = append(*out, item)
	}
}

func peekNonSpace(reader *bufio.Reader) (byte, error) {
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, reader.UnreadByte()
	}
}
