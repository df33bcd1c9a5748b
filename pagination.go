package main

import "fmt"

// Hard cap on pages per fetch. A well-formed upstream never gets close; a
// server that keeps returning the same continuation token would otherwise
// loop forever.
const maxPages = 1000

// pageFunc fetches and consumes one page. cursor is empty on the first call.
// It returns the continuation token for the next page and more=false when the
// API signals exhaustion (empty page, more=false, or absent cursor - the
// predicate is per-API and lives in the caller).
type pageFunc func(cursor string) (next string, more bool, err error)

// fetchPages walks an API's pages in a single pass until the caller reports
// exhaustion.
func fetchPages(fn pageFunc) error {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		next, more, err := fn(cursor)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if next == cursor && next != "" {
			return fmt.Errorf("%w: continuation token %q did not advance", ErrPagination, next)
		}
		cursor = next
	}
	return fmt.Errorf("%w: exceeded %d pages", ErrPagination, maxPages)
}
