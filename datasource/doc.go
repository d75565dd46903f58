// Package datasource provides the external collaborators of a query run:
// a ConnectionStore resolving connection ids, and a DataAccess opened per
// run for schema introspection and read-only query execution.
//
// SQLite is supported out of the box through modernc.org/sqlite, both as the
// connection store backend and as a queryable database.
package datasource
