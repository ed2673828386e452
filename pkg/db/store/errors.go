package store

import "errors"

var (
	// ErrSchemaMismatch is returned when the project file was written by a
	// different schema version and may not be opened without upgrading.
	ErrSchemaMismatch = errors.New("project schema version mismatch")

	// ErrIntegrityViolation is returned when an image with the same
	// (path, filename, frame) already exists.
	ErrIntegrityViolation = errors.New("duplicate image entry")

	// ErrReplacementMissing is returned when path rows of a moved project do
	// not resolve, even after applying the replacement file.
	ErrReplacementMissing = errors.New("project paths could not be resolved")

	// ErrUnsavedChanges is returned when a modified temporary project is
	// closed without saving or discarding it.
	ErrUnsavedChanges = errors.New("temporary project has unsaved changes")

	ErrNotFound = errors.New("record not found")
)
