package bank

import (
	"fmt"
	"reflect"

	"github.com/modernice/mnemo/logical"
)

// Alias is the logical type alias of the bank domain.
const Alias = "bank"

var types = map[string]reflect.Type{
	"Account":         reflect.TypeOf(&Account{}),
	"SavingsAccount":  reflect.TypeOf(&SavingsAccount{}),
	"Opened":          reflect.TypeOf(Opened{}),
	"Deposited":       reflect.TypeOf(Deposited{}),
	"Withdrawn":       reflect.TypeOf(Withdrawn{}),
	"EmailSent":       reflect.TypeOf(EmailSent{}),
	"CallLogged":      reflect.TypeOf(CallLogged{}),
	"InterestAccrued": reflect.TypeOf(InterestAccrued{}),
	"AccountState":    reflect.TypeOf(AccountState{}),
	"SavingsState":    reflect.TypeOf(SavingsState{}),
}

// Register maps the aggregate, event and snapshot types of the bank domain
// to their logical types in reg. Every type is registered at version 1, for
// example "bank:Deposited:v1".
func Register(reg *logical.Registry) error {
	for name, typ := range types {
		l, err := logical.New(Alias, name, logical.Version(1))
		if err != nil {
			return fmt.Errorf("logical type of %v: %w", typ, err)
		}
		if err := reg.AddMapping(l, typ); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a Registry with the bank domain registered.
func NewRegistry() *logical.Registry {
	reg := logical.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
