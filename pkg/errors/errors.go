// Package errors provides the structured error hierarchy shared by every
// subsystem of hydrodb.
//
// The error system is built around a foundational baseError that carries a
// standardized error code, a human-readable message, the causing error, and a
// map of structured details. Domain-specific error types (StorageError,
// ChannelError, ValidationError) extend the base with the context their layer
// can capture at the point of failure: a storage error knows which file and
// byte offset were involved, a channel error knows which record index and
// timestamp, a validation error knows which field and rule.
//
// Error codes are the programmatic contract. Callers never parse messages;
// they branch on GetErrorCode or the Is*/As* helpers. The code taxonomy
// distinguishes failures that set the owning object's sticky failure state
// (IO_ERROR, and CORRUPT_FORMAT when not even the first part of a channel
// can be opened) from those that are returned
// without side effects (NOT_FOUND, EMPTY, READ_ONLY, INVALID_INPUT,
// OUT_OF_ORDER_TIME).
package errors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError checks if the given error is a ValidationError or contains
// one in its error chain.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsStorageError determines if an error is related to storage operations, such
// as file I/O, disk space issues, or segment file corruption. Storage errors
// often require different handling strategies than other error types because
// they may indicate hardware issues or data integrity concerns.
func IsStorageError(err error) bool {
	var se *StorageError
	return stdErrors.As(err, &se)
}

// IsChannelError identifies errors that occurred during channel-engine
// operations such as appends, reads, or time searches.
func IsChannelError(err error) bool {
	var ce *ChannelError
	return stdErrors.As(err, &ce)
}

// AsValidationError safely extracts a ValidationError from an error chain,
// providing access to validation-specific context such as which field failed
// and what rule was violated.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsStorageError extracts StorageError context from an error chain, providing
// access to storage-specific information such as part numbers, file offsets,
// file names, and paths.
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsChannelError extracts ChannelError context, providing access to the
// channel name, operation, record index, and timestamp involved.
func AsChannelError(err error) (*ChannelError, bool) {
	var ce *ChannelError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error that supports it, or
// returns ErrorCodeInternal for errors that don't have specific codes. This
// function provides a consistent way to categorize errors for monitoring and
// handling purposes.
func GetErrorCode(err error) ErrorCode {
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}

	if se, ok := AsStorageError(err); ok {
		return se.Code()
	}

	if ce, ok := AsChannelError(err); ok {
		return ce.Code()
	}

	return ErrorCodeInternal
}

// GetErrorDetails extracts structured details from any error that supports
// them, returning an empty map for errors without details.
func GetErrorDetails(err error) map[string]any {
	if ve, ok := AsValidationError(err); ok {
		if details := ve.Details(); details != nil {
			return details
		}
	}

	if se, ok := AsStorageError(err); ok {
		if details := se.Details(); details != nil {
			return details
		}
	}

	if ce, ok := AsChannelError(err); ok {
		if details := ce.Details(); details != nil {
			return details
		}
	}

	return make(map[string]any)
}

// ClassifyDirectoryCreationError analyzes directory creation failures and
// returns appropriate error codes based on the underlying system error. This
// helps clients understand exactly what went wrong and how they might fix it.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"Insufficient permissions to create directory",
		).WithPath(path).
			WithDetail("operation", "directory_creation").
			WithDetail("required_permission", "write")
	}

	if errno, ok := classifyErrno(err); ok {
		switch errno {
		case syscall.ENOSPC:
			return NewStorageError(
				err, ErrorCodeDiskFull,
				"Insufficient disk space to create directory",
			).WithPath(path).WithDetail("operation", "directory_creation")
		case syscall.EROFS:
			return NewStorageError(
				err, ErrorCodeFilesystemReadonly,
				"Cannot create directory on read-only filesystem",
			).WithPath(path).WithDetail("operation", "directory_creation")
		}
	}

	return NewStorageError(
		err, ErrorCodeIO, "Failed to create directory",
	).WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError analyzes file opening failures and returns appropriate
// error codes based on the underlying system error. This provides much more
// specific information than a generic I/O error.
func ClassifyFileOpenError(err error, filePath, fileName string) error {
	if os.IsPermission(err) {
		return NewStorageError(
			err, ErrorCodePermissionDenied,
			"Insufficient permissions to open file",
		).WithPath(filePath).
			WithFileName(fileName).
			WithDetail("operation", "file_open").
			WithDetail("required_permission", "read_write")
	}

	if errno, ok := classifyErrno(err); ok {
		switch errno {
		case syscall.ENOSPC:
			return NewStorageError(
				err, ErrorCodeDiskFull,
				"Insufficient disk space to create file",
			).WithPath(filePath).
				WithFileName(fileName).
				WithDetail("operation", "file_open")
		case syscall.EROFS:
			return NewStorageError(
				err, ErrorCodeFilesystemReadonly,
				"Cannot create file on read-only filesystem",
			).WithPath(filePath).
				WithFileName(fileName).
				WithDetail("operation", "file_open")
		}
	}

	return NewStorageError(err, ErrorCodeIO, "Failed to open file").
		WithPath(filePath).
		WithFileName(fileName).
		WithDetail("operation", "file_open")
}

// ClassifySyncError analyzes sync operation failures and returns appropriate
// error codes. Sync failures can indicate various underlying issues from disk
// space problems to filesystem corruption.
func ClassifySyncError(err error, fileName, filePath string, offset int64) error {
	if errno, ok := classifyErrno(err); ok {
		switch errno {
		case syscall.ENOSPC:
			return NewStorageError(
				err, ErrorCodeDiskFull,
				"Cannot sync file: insufficient disk space",
			).WithFileName(fileName).
				WithPath(filePath).
				WithOffset(offset).
				WithDetail("operation", "file_sync")
		case syscall.EROFS:
			return NewStorageError(
				err, ErrorCodeFilesystemReadonly,
				"Cannot sync file: filesystem is read-only",
			).WithFileName(fileName).
				WithPath(filePath).
				WithOffset(offset).
				WithDetail("operation", "file_sync")
		case syscall.EIO:
			// I/O error during sync often indicates hardware or corruption issues.
			return NewStorageError(
				err, ErrorCodeIO,
				"I/O error during file sync - possible hardware or corruption issue",
			).WithFileName(fileName).
				WithPath(filePath).
				WithOffset(offset).
				WithDetail("operation", "file_sync").
				WithDetail("severity", "high")
		}
	}

	return NewStorageError(
		err, ErrorCodeIO, "Failed to sync file to disk",
	).WithFileName(fileName).WithPath(filePath).WithOffset(offset).
		WithDetail("operation", "file_sync")
}

// classifyErrno digs the syscall errno out of an *os.PathError, if present.
func classifyErrno(err error) (syscall.Errno, bool) {
	var pathErr *os.PathError
	if stdErrors.As(err, &pathErr) {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			return errno, true
		}
	}
	return 0, false
}
