package core

import "sort"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// PeriodSummary totals a set of transactions. Transfer legs move money
// between the user's own accounts and are left out of income and expense.
type PeriodSummary struct {
	Income     Money            `json:"income"`
	Expense    Money            `json:"expense"`
	Net        Money            `json:"net"`
	Count      int              `json:"count"`
	ByCategory []CategoryAmount `json:"by_category"`
}

// Summarize aggregates the transactions; ByCategory holds expenses only,
// largest first.
func Summarize(txs []TransactionDetail) PeriodSummary {
	s := PeriodSummary{Income: Zero, Expense: Zero, Net: Zero, Count: len(txs)}
	byCat := map[string]Money{}
	for _, t := range txs {
		if t.IsTransferLeg() {
			continue
		}
		switch t.Type {
		case Income:
			s.Income = s.Income.Add(t.Amount)
		case Expense:
			s.Expense = s.Expense.Add(t.Amount)
			name := CategoryUncategorized
			if t.Category != nil {
				name = t.Category.Name
			}
			if cur, ok := byCat[name]; ok {
				byCat[name] = cur.Add(t.Amount)
			} else {
				byCat[name] = t.Amount
			}
		}
	}
	s.Net = s.Income.Sub(s.Expense)
	s.ByCategory = make([]CategoryAmount, 0, len(byCat))
	for name, amt := range byCat {
		s.ByCategory = append(s.ByCategory, CategoryAmount{Name: name, Amount: amt})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		ci, cj := s.ByCategory[i].Amount.Cents(), s.ByCategory[j].Amount.Cents()
		if ci != cj {
			return ci > cj
		}
		return s.ByCategory[i].Name < s.ByCategory[j].Name
	})
	return s
}
