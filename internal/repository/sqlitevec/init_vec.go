//go:build sqlite_vec && cgo

package sqlitevec

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Registers the sqlite-vec extension with the mattn driver so every new
// connection can create and query vec0 tables.
func init() {
	vec.Auto()
}
