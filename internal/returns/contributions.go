package returns

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// MonthlyContribution is one month's net external investor flow.
type MonthlyContribution struct {
	Month string          `json:"month"` // YYYY-MM
	Net   decimal.Decimal `json:"net"`
}

// AccountContribution is one account's net external flow.
type AccountContribution struct {
	AccountID string          `json:"account_id"`
	Net       decimal.Decimal `json:"net"`
}

// ContributionsReport rolls up external deposits and withdrawals.
type ContributionsReport struct {
	Total      decimal.Decimal       `json:"total"`
	Deposits   decimal.Decimal       `json:"deposits"`
	Withdrawn  decimal.Decimal       `json:"withdrawn"`
	FlowCount  int                   `json:"flow_count"`
	ByMonth    []MonthlyContribution `json:"by_month"`
	ByAccount  []AccountContribution `json:"by_account"`
}

// Contributions summarizes external investor flows, optionally scoped to
// one account. Internal transfer legs are excluded.
func (c *Calculator) Contributions(ctx context.Context, accountID string) (ContributionsReport, error) {
	rows, err := c.store.ListCashActivity(ctx, accountID)
	if err != nil {
		return ContributionsReport{}, err
	}
	rep := ContributionsReport{
		Total:     decimal.Zero,
		Deposits:  decimal.Zero,
		Withdrawn: decimal.Zero,
	}
	byMonth := make(map[string]decimal.Decimal)
	byAccount := make(map[string]decimal.Decimal)
	for i := range rows {
		r := &rows[i]
		if !r.External {
			continue
		}
		signed := r.SignedAmount()
		rep.Total = rep.Total.Add(signed)
		if signed.IsPositive() {
			rep.Deposits = rep.Deposits.Add(signed)
		} else {
			rep.Withdrawn = rep.Withdrawn.Add(signed)
		}
		rep.FlowCount++
		month := r.PostedAt.Format("2006-01")
		byMonth[month] = byMonth[month].Add(signed)
		byAccount[r.AccountID] = byAccount[r.AccountID].Add(signed)
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	for _, m := range months {
		rep.ByMonth = append(rep.ByMonth, MonthlyContribution{Month: m, Net: byMonth[m]})
	}

	accounts := make([]string, 0, len(byAccount))
	for a := range byAccount {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	for _, a := range accounts {
		rep.ByAccount = append(rep.ByAccount, AccountContribution{AccountID: a, Net: byAccount[a]})
	}
	return rep, nil
}
