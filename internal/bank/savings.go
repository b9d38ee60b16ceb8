package bank

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
)

// SavingsAccount is an Account that accrues interest. It inherits the
// handlers of Account.
type SavingsAccount struct {
	Account

	interest int
}

// OpenSavings opens a new SavingsAccount.
func OpenSavings(id uuid.UUID, owner string, opts ...aggregate.Option) (*SavingsAccount, error) {
	s := &SavingsAccount{}
	if err := aggregate.Init(s, id, opts...); err != nil {
		return nil, err
	}
	if _, err := aggregate.Next(s, Opened{Owner: owner}); err != nil {
		return nil, fmt.Errorf("open savings account: %w", err)
	}
	return s, nil
}

// DeclareHandlers declares the apply handlers of SavingsAccount.
func (s *SavingsAccount) DeclareHandlers(t *dispatch.Table) {
	dispatch.Extends(t, func(s *SavingsAccount) *Account { return &s.Account })
	dispatch.On(t, (*SavingsAccount).interestAccrued)
	dispatch.OnSnapshot(t, (*SavingsAccount).restoreSavings)
}

// ResetState resets the SavingsAccount to its zero state.
func (s *SavingsAccount) ResetState() {
	s.Account.ResetState()
	s.interest = 0
}

// TakeSnapshot captures the state of the SavingsAccount.
func (s *SavingsAccount) TakeSnapshot() (snapshot.Snapshot, bool) {
	return aggregate.Capture(s, SavingsState{
		AccountState: s.state(),
		Interest:     s.interest,
	}), true
}

// Interest returns the total accrued interest.
func (s *SavingsAccount) Interest() int { return s.interest }

// Accrue credits interest at the given rate in basis points of the balance.
func (s *SavingsAccount) Accrue(basisPoints int) error {
	amount := s.balance * basisPoints / 10000
	if amount <= 0 {
		return nil
	}
	_, err := aggregate.Next(s, InterestAccrued{Amount: amount})
	return err
}

func (s *SavingsAccount) interestAccrued(e InterestAccrued) {
	s.balance += e.Amount
	s.interest += e.Amount
}

func (s *SavingsAccount) restoreSavings(state SavingsState) {
	s.restore(state.AccountState)
	s.interest = state.Interest
}
