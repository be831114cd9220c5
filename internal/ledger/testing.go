package ledger

// SeedBalance is a test helper that credits an in-memory account from the card
// suspense account, creating both when missing, so the ledger stays balanced.
func SeedBalance(l Ledger, code string, amount int64) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	suspense := SuspenseAccount(RailCard)
	current := mem.balances[code]
	mem.balances[suspense] -= amount - current
	mem.balances[code] = amount
}
