// Package menucache memoizes per-category menu snapshots, fans out rating
// aggregate lookups, reconciles freshly submitted ratings and enforces the
// once-per-day rating guard.
//
// A Cache owns every snapshot it hands out; callers always receive deep
// copies. Rebuilds run outside the per-category lock and are ordered by a
// per-category generation ticket, so a slow build never overwrites a newer
// one.
package menucache
