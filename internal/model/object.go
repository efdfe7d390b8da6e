package model

import (
	"errors"
	"time"
)

// ErrObjectNotFound is returned by object stores when a key holds no object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}
