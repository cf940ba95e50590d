package sqlite

import "testing"

// NewSQLiteTest returns a fresh in-memory store, closed when the test ends.
// Exported so service and handler tests can share the same setup.
func NewSQLiteTest(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
