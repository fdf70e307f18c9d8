package accounts

import "time"

// AccountType enumerates the five fundamental account classes.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Code identifies a finance account in the seeded chart.
type Code string

const (
	CodeCash      Code = "1000-CASH"
	CodeAR        Code = "1100-AR"
	CodeInventory Code = "1200-INVENTORY"
	CodeInputTax  Code = "1300-INPUT-TAX"
	CodeAP        Code = "2100-AP"
	CodeOutputTax Code = "2200-OUTPUT-TAX"
	CodeEquity    Code = "3000-EQUITY"
	CodeSales     Code = "4000-SALES"
	CodeCOGS      Code = "5000-COGS"
	CodeExpense   Code = "6100-EXPENSE"
)

// RequiredCodes lists every code posting handlers depend on. A chart missing
// any of them is a fatal configuration error, not a retryable one.
func RequiredCodes() []Code {
	return []Code{
		CodeCash,
		CodeAR,
		CodeInventory,
		CodeInputTax,
		CodeAP,
		CodeOutputTax,
		CodeEquity,
		CodeSales,
		CodeCOGS,
		CodeExpense,
	}
}

// Account is read-mostly reference data seeded once.
type Account struct {
	ID        int64
	Code      Code
	Name      string
	Type      AccountType
	SubType   string
	IsContra  bool
	Currency  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
