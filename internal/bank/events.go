package bank

// Opened is the first event of an Account.
type Opened struct {
	Owner string
}

// Deposited records a deposit.
type Deposited struct {
	Amount int
}

// Withdrawn records a withdrawal.
type Withdrawn struct {
	Amount int
}

// CommunicationRecorded is implemented by events that record contact with the
// account owner. They never affect the balance.
type CommunicationRecorded interface {
	Channel() string
}

// EmailSent records an email to the account owner.
type EmailSent struct {
	Subject string
}

// Channel returns "email".
func (EmailSent) Channel() string { return "email" }

// CallLogged records a phone call with the account owner.
type CallLogged struct {
	Minutes int
}

// Channel returns "phone".
func (CallLogged) Channel() string { return "phone" }

// InterestAccrued records interest credited to a SavingsAccount.
type InterestAccrued struct {
	Amount int
}

// AccountState is the snapshot state of an Account.
type AccountState struct {
	Owner          string
	Balance        int
	Communications int
}

// SavingsState is the snapshot state of a SavingsAccount.
type SavingsState struct {
	AccountState
	Interest int
}
