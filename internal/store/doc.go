// Package store defines the append-only sink that category URL sets are
// persisted into, and the Persister that fans a partition out to it.
// Driver specific implementations live in subpackages; this package must not
// import database drivers.
package store
