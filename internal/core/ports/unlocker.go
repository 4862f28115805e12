package ports

import "context"

// Unlocker is an interface that provides a way to retrieve passphrases automatically
type Unlocker interface {
	// GetPassword retrieves the passphrase protecting the seed of a party
	GetPassword(ctx context.Context) (string, error)
}
