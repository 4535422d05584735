package histsync

import "fmt"

// MissingParameterError is returned when a required parameter is empty.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Param)
}

// CacheWriteError is returned when a document could not be stored.
type CacheWriteError struct {
	Collection string
	Key        string
	Err        error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("caching %s %q: %v", e.Collection, e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// CacheDeleteError is returned when a document could not be removed,
// including when it was never cached.
type CacheDeleteError struct {
	Collection string
	Key        string
	Err        error
}

func (e *CacheDeleteError) Error() string {
	return fmt.Sprintf("uncaching %s %q: %v", e.Collection, e.Key, e.Err)
}

func (e *CacheDeleteError) Unwrap() error { return e.Err }
