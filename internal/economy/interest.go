package economy

import "time"

const day = 24 * time.Hour

// maxCatchUpDays bounds how many missed days a single application compounds.
const maxCatchUpDays = 366

// Policy configures daily interest and the low-balance maintenance fee.
type Policy struct {
	// DailyRateBP is the daily interest rate in basis points of the bank balance.
	DailyRateBP int64 `yaml:"daily_rate_bp" json:"daily_rate_bp"`
	// FeeThreshold: bank balances strictly below it pay MaintenanceFee each day.
	FeeThreshold   int64 `yaml:"fee_threshold" json:"fee_threshold"`
	MaintenanceFee int64 `yaml:"maintenance_fee" json:"maintenance_fee"`
}

// DefaultPolicy is 1% daily interest with no maintenance fee.
func DefaultPolicy() Policy {
	return Policy{DailyRateBP: 100}
}

// Charge summarises one application of the policy.
type Charge struct {
	Days     int   `json:"days"`
	Interest int64 `json:"interest"`
	Fees     int64 `json:"fees"`
}

// ApplyInterestAndFees compounds one step per full day elapsed since
// a.LastInterestAt: interest first, then the fee if the balance is under the
// threshold. The bank balance never goes negative. An account that has never
// accrued starts its clock at now.
func ApplyInterestAndFees(a Account, now time.Time, p Policy) (Account, Charge) {
	if a.LastInterestAt.IsZero() {
		a.LastInterestAt = now
		return a, Charge{}
	}
	elapsed := now.Sub(a.LastInterestAt)
	if elapsed < day {
		return a, Charge{}
	}
	days := int(elapsed / day)
	steps := min(days, maxCatchUpDays)

	var ch Charge
	for i := 0; i < steps; i++ {
		if p.DailyRateBP > 0 && a.Bank > 0 {
			in := a.Bank * p.DailyRateBP / 10000
			a.Bank += in
			ch.Interest += in
		}
		if p.MaintenanceFee > 0 && a.Bank < p.FeeThreshold {
			fee := min(p.MaintenanceFee, a.Bank)
			a.Bank -= fee
			ch.Fees += fee
		}
	}
	ch.Days = days
	a.LastInterestAt = a.LastInterestAt.Add(time.Duration(days) * day)
	return a, ch
}
