package models

import "errors"

// ErrNotFound is returned by repositories when an entity does not exist.
// Repositories translate driver-level errors (pgx.ErrNoRows) into this sentinel
// so services never depend on the database driver.
var ErrNotFound = errors.New("not found")
