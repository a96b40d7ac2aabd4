package repositories

import (
	"errors"
	"fmt"
)

// NotFoundError represents an entity not found error
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (nfe *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v not found", nfe.Entity, nfe.ID)
}

// InsufficientCoinsError is returned when a debit would overdraw a balance.
type InsufficientCoinsError struct {
	Balance  int64
	Required int64
}

func (ice *InsufficientCoinsError) Error() string {
	return fmt.Sprintf("insufficient coins: have %d, need %d", ice.Balance, ice.Required)
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
