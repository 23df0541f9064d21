package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidInput is returned for rejected uploads, form keys and names.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatasetNotFound is returned when a dataset directory does not exist.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrFileNotFound is returned when a file inside a dataset does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrDatasetExists is returned when creating a dataset whose directory is taken.
	ErrDatasetExists = errors.New("dataset already exists")

	// ErrCorruptArchive is returned when an uploaded zip cannot be read.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrStorageFull is returned when there is insufficient storage space.
	ErrStorageFull = errors.New("insufficient storage space")
)

// DatasetError wraps an error with dataset context.
type DatasetError struct {
	Dataset string
	Op      string
	Err     error
}

func (e *DatasetError) Error() string {
	if e.Dataset != "" {
		return e.Op + " [" + e.Dataset + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *DatasetError) Unwrap() error {
	return e.Err
}

// NewDatasetError creates a new DatasetError.
func NewDatasetError(dataset, op string, err error) *DatasetError {
	return &DatasetError{
		Dataset: dataset,
		Op:      op,
		Err:     err,
	}
}
