package services

import "fmt"

// NoActiveRotationError is returned when an operation requires an active
// quest or store rotation and none exists.
type NoActiveRotationError struct {
	Kind string
}

func (e *NoActiveRotationError) Error() string {
	return fmt.Sprintf("no active %s rotation", e.Kind)
}

// RotationExpiredError is returned when the referenced rotation's window has
// closed.
type RotationExpiredError struct {
	RotationID string
}

func (e *RotationExpiredError) Error() string {
	return fmt.Sprintf("rotation %s has expired", e.RotationID)
}

// InvalidRotationItemCountError is returned when a store rotation is
// requested with an out-of-range slot count.
type InvalidRotationItemCountError struct {
	Count int
	Min   int
	Max   int
}

func (e *InvalidRotationItemCountError) Error() string {
	return fmt.Sprintf("rotation item count %d outside allowed range [%d, %d]", e.Count, e.Min, e.Max)
}

// QuestNotFoundError is returned when a progress row does not exist or does
// not belong to the caller.
type QuestNotFoundError struct {
	ProgressID int64
}

func (e *QuestNotFoundError) Error() string {
	return fmt.Sprintf("quest progress %d not found", e.ProgressID)
}

// QuestNotCompletedError is returned when a claim targets an incomplete
// quest.
type QuestNotCompletedError struct {
	ProgressID int64
}

func (e *QuestNotCompletedError) Error() string {
	return fmt.Sprintf("quest progress %d is not completed", e.ProgressID)
}

// QuestAlreadyClaimedError is returned when a claim targets an already
// settled quest.
type QuestAlreadyClaimedError struct {
	ProgressID int64
}

func (e *QuestAlreadyClaimedError) Error() string {
	return fmt.Sprintf("quest progress %d already claimed", e.ProgressID)
}

// InvalidQuestPatchError is returned when an admin quest patch carries no
// fields or an inconsistent combination.
type InvalidQuestPatchError struct {
	Reason string
}

func (e *InvalidQuestPatchError) Error() string {
	return fmt.Sprintf("invalid quest patch: %s", e.Reason)
}

// InvalidQuantityError is returned when a key purchase uses a quantity
// outside the allowed bundles.
type InvalidQuantityError struct {
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid purchase quantity %d", e.Quantity)
}

// InvalidKeyTypeError is returned when a key purchase names an unknown key
// type.
type InvalidKeyTypeError struct {
	KeyType string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type %q", e.KeyType)
}

// InsufficientCoinsError is returned when a purchase would overdraw the
// user's balance.
type InsufficientCoinsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCoinsError) Error() string {
	return fmt.Sprintf("insufficient coins: have %d, need %d", e.Balance, e.Required)
}

// AlreadyOwnedError is returned when a user buys a cosmetic they own.
type AlreadyOwnedError struct {
	ItemID int64
}

func (e *AlreadyOwnedError) Error() string {
	return fmt.Sprintf("item %d already owned", e.ItemID)
}

// ItemNotInRotationError is returned when a purchase targets an item absent
// from the current rotation.
type ItemNotInRotationError struct {
	ItemID int64
}

func (e *ItemNotInRotationError) Error() string {
	return fmt.Sprintf("item %d is not in the current rotation", e.ItemID)
}
