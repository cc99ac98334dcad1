package models

import "github.com/pkg/errors"

// ErrEmptyBatch is returned for a batch with no data and no upstream error
var ErrEmptyBatch = errors.New("data cannot be empty when there is no error")
