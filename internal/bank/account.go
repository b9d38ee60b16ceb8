// Package bank is a small event-sourced banking domain used by the tests and
// the command-line demo.
package bank

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Account is a bank account.
type Account struct {
	aggregate.Base

	owner          string
	balance        int
	communications int
}

// Open opens a new Account.
func Open(id uuid.UUID, owner string, opts ...aggregate.Option) (*Account, error) {
	a := &Account{}
	if err := aggregate.Init(a, id, opts...); err != nil {
		return nil, err
	}
	if _, err := aggregate.Next(a, Opened{Owner: owner}); err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	return a, nil
}

// DeclareHandlers declares the apply handlers of Account.
func (a *Account) DeclareHandlers(t *dispatch.Table) {
	dispatch.On(t, (*Account).opened)
	dispatch.On(t, (*Account).deposited)
	dispatch.On(t, (*Account).withdrawn)
	dispatch.On(t, (*Account).communicated)
	dispatch.OnSnapshot(t, (*Account).restore)
}

// ResetState resets the Account to its zero state.
func (a *Account) ResetState() {
	a.owner = ""
	a.balance = 0
	a.communications = 0
}

// TakeSnapshot captures the state of the Account.
func (a *Account) TakeSnapshot() (snapshot.Snapshot, bool) {
	return aggregate.Capture(a, a.state()), true
}

// ConflictsWith returns false if every attempted event records a
// communication, because communications never touch the balance.
func (a *Account) ConflictsWith(committed, attempted []event.Event) bool {
	for _, evt := range attempted {
		if _, ok := evt.Data().(CommunicationRecorded); !ok {
			return true
		}
	}
	return false
}

// Owner returns the account owner.
func (a *Account) Owner() string { return a.owner }

// Balance returns the account balance.
func (a *Account) Balance() int { return a.balance }

// Communications returns the number of recorded communications.
func (a *Account) Communications() int { return a.communications }

// Deposit deposits amount.
func (a *Account) Deposit(amount int) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrInvalidAmount)
	}
	_, err := aggregate.Next(a, Deposited{Amount: amount})
	return err
}

// Withdraw withdraws amount.
func (a *Account) Withdraw(amount int) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, ErrInvalidAmount)
	}
	if amount > a.balance {
		return fmt.Errorf("withdraw %d from balance %d: %w", amount, a.balance, ErrInsufficientFunds)
	}
	_, err := aggregate.Next(a, Withdrawn{Amount: amount})
	return err
}

// SendEmail records an email to the owner.
func (a *Account) SendEmail(subject string) error {
	_, err := aggregate.Next(a, EmailSent{Subject: subject})
	return err
}

// LogCall records a phone call with the owner.
func (a *Account) LogCall(minutes int) error {
	_, err := aggregate.Next(a, CallLogged{Minutes: minutes})
	return err
}

func (a *Account) state() AccountState {
	return AccountState{
		Owner:          a.owner,
		Balance:        a.balance,
		Communications: a.communications,
	}
}

func (a *Account) opened(e Opened) {
	a.owner = e.Owner
}

func (a *Account) deposited(e Deposited) {
	a.balance += e.Amount
}

func (a *Account) withdrawn(e Withdrawn) {
	a.balance -= e.Amount
}

func (a *Account) communicated(CommunicationRecorded) {
	a.communications++
}

func (a *Account) restore(s AccountState) {
	a.owner = s.Owner
	a.balance = s.Balance
	a.communications = s.Communications
}
