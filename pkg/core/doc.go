// Package core defines the shared language of the vulndash system.
//
// This package contains:
//   - Query identity (Filter, Keyword, FilterInfo)
//   - Result shape (Record, Column, ColumnInfo, Data)
//   - Chart generation parameters (GenParams)
//   - Service interfaces (PreferenceStore)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
