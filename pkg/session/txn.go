package session

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// TxnCounter issues transaction ids for PUT /send requests. The counter
// starts at zero and is incremented before every render, so the first id
// carries 1. The random prefix keeps two sessions (or two runs of the same
// session) from ever producing the same id.
type TxnCounter struct {
	prefix string
	n      atomic.Uint64
}

// NewTxnCounter returns a counter with a fresh random prefix.
func NewTxnCounter() *TxnCounter {
	return &TxnCounter{prefix: uuid.NewString()}
}

// Next returns the next transaction id.
func (c *TxnCounter) Next() string {
	n := c.n.Add(1)
	return c.prefix + "." + strconv.FormatUint(n, 10)
}

// Issued reports how many ids have been handed out.
func (c *TxnCounter) Issued() uint64 {
	return c.n.Load()
}
