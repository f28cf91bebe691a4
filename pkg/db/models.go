package db

import "time"

// Classification represents a row in the wallet_classifications table.
type Classification struct {
	ID       string    `json:"id"`
	IsWallet bool      `json:"is_wallet"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// ClassificationCounts summarizes stored classifications.
type ClassificationCounts struct {
	Wallets   int64 `json:"wallets"`
	Processes int64 `json:"processes"`
}

// Total is the number of stored classifications.
func (c ClassificationCounts) Total() int64 {
	return c.Wallets + c.Processes
}
