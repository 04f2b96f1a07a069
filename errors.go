package cuckoo

import "errors"

var (
	// ErrWrongType is returned when a key holds a value that is not a cuckoo filter.
	ErrWrongType = errors.New("cuckoo: key holds the wrong kind of value")

	// ErrAlreadyExists is returned when reserving or loading a header over an existing key.
	ErrAlreadyExists = errors.New("cuckoo: item exists")

	// ErrInvalidArgument is returned when a parameter is outside its valid range.
	ErrInvalidArgument = errors.New("cuckoo: invalid argument")

	// ErrInsufficientMemory is returned when the memory guard refuses an allocation.
	ErrInsufficientMemory = errors.New("cuckoo: insufficient memory")

	// ErrMaxExpansions is returned when a scaling filter already has the
	// maximum number of generations and the active one is full.
	ErrMaxExpansions = errors.New("cuckoo: maximum expansions reached")

	// ErrFilterFull is returned when a non-scaling filter (expansion 0) is full.
	ErrFilterFull = errors.New("cuckoo: non scaling filter is full")

	// ErrNotFound is returned when an operation needs an existing filter and there is none.
	ErrNotFound = errors.New("cuckoo: not found")

	// ErrCorruptData is returned when a serialized chunk fails validation.
	ErrCorruptData = errors.New("cuckoo: corrupt data")
)
