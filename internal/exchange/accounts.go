package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ch3fx/internal/config"
)

func (a *Account) normalize() {
	if a.Inventory == nil {
		a.Inventory = map[string]int{}
	}
	if a.PurchaseDates == nil {
		a.PurchaseDates = map[string][]string{}
	}
	for sym, qty := range a.Inventory {
		if qty <= 0 {
			delete(a.Inventory, sym)
		}
	}
}

// account returns id's account, opening it with the starting balance on
// first use.
func (u Users) account(id string, econ config.Economy) *Account {
	if a, ok := u[id]; ok {
		return a
	}
	a := &Account{
		Balance:       fromFloat(econ.StartingBalance),
		Bank:          decimal.Zero,
		Inventory:     map[string]int{},
		PurchaseDates: map[string][]string{},
		Earned:        decimal.Zero,
	}
	u[id] = a
	return a
}

// errNoChange lets a mutateUsers callback skip the save.
var errNoChange = errors.New("no change")

func (s *Service) mutateUsers(ctx context.Context, fn func(Users) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, _, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return s.save(ctx, nil, u)
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Deposit moves amount from the cash balance into the bank.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Account, error) {
	if err := positive(amount); err != nil {
		return Account{}, err
	}
	var out Account
	err := s.mutateUsers(ctx, func(u Users) error {
		a := u.account(userID, s.econ)
		if a.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		a.Balance = a.Balance.Sub(amount)
		a.Bank = a.Bank.Add(amount)
		out = *a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("bank deposit", "user", userID, "amount", amount)
	return out, nil
}

func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (Account, error) {
	if err := positive(amount); err != nil {
		return Account{}, err
	}
	var out Account
	err := s.mutateUsers(ctx, func(u Users) error {
		a := u.account(userID, s.econ)
		if a.Bank.LessThan(amount) {
			return ErrInsufficientFunds
		}
		a.Bank = a.Bank.Sub(amount)
		a.Balance = a.Balance.Add(amount)
		out = *a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("bank withdraw", "user", userID, "amount", amount)
	return out, nil
}

// Gift transfers cash between two users.
func (s *Service) Gift(ctx context.Context, from, to string, amount decimal.Decimal) (Account, error) {
	if err := positive(amount); err != nil {
		return Account{}, err
	}
	if from == to {
		return Account{}, fmt.Errorf("%w: cannot gift yourself", ErrInvalidAmount)
	}
	var out Account
	err := s.mutateUsers(ctx, func(u Users) error {
		src := u.account(from, s.econ)
		if src.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		dst := u.account(to, s.econ)
		src.Balance = src.Balance.Sub(amount)
		dst.Balance = dst.Balance.Add(amount)
		out = *src
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("gift", "from", from, "to", to, "amount", amount)
	return out, nil
}

// ClaimDaily pays the daily reward once per reference-timezone day.
func (s *Service) ClaimDaily(ctx context.Context, userID string, now time.Time) (RewardResult, error) {
	today := s.Today(now)
	amount := round2(fromFloat(s.uniform(s.econ.DailyRewardMin, s.econ.DailyRewardMax)))
	var out RewardResult
	err := s.mutateUsers(ctx, func(u Users) error {
		a := u.account(userID, s.econ)
		if a.LastDaily == today {
			return ErrAlreadyClaimed
		}
		a.LastDaily = today
		a.Balance = a.Balance.Add(amount)
		out = RewardResult{UserID: userID, Amount: amount, Balance: a.Balance}
		return nil
	})
	if err != nil {
		return RewardResult{}, err
	}
	s.log.Info("daily claimed", "user", userID, "amount", amount)
	return out, nil
}

// earn credits up to amount without passing the daily earning cap. The cap
// counter resets when the reference-timezone date changes.
func (s *Service) earn(a *Account, amount decimal.Decimal, today string) decimal.Decimal {
	if a.EarnDate != today {
		a.EarnDate = today
		a.Earned = decimal.Zero
	}
	room := fromFloat(s.econ.DailyCap).Sub(a.Earned)
	if !room.IsPositive() {
		return decimal.Zero
	}
	if amount.GreaterThan(room) {
		amount = room
	}
	a.Earned = a.Earned.Add(amount)
	a.Balance = a.Balance.Add(amount)
	return amount
}

// RewardMessage pays a chat message author. A zero Amount means the daily cap
// was already reached.
func (s *Service) RewardMessage(ctx context.Context, userID string, now time.Time) (RewardResult, error) {
	today := s.Today(now)
	amount := decimal.NewFromInt(int64(s.uniformInt(s.econ.MessageRewardMin, s.econ.MessageRewardMax)))
	var out RewardResult
	err := s.mutateUsers(ctx, func(u Users) error {
		a := u.account(userID, s.econ)
		paid := s.earn(a, amount, today)
		out = RewardResult{UserID: userID, Amount: paid, Balance: a.Balance}
		return nil
	})
	if err != nil {
		return RewardResult{}, err
	}
	s.log.Debug("message reward", "user", userID, "amount", out.Amount)
	return out, nil
}

// RewardReaction pays both the message author and the reactor. Reacting to
// your own message pays nothing.
func (s *Service) RewardReaction(ctx context.Context, authorID, reactorID string, now time.Time) ([]RewardResult, error) {
	if authorID == reactorID {
		return nil, nil
	}
	today := s.Today(now)
	authorAmt := decimal.NewFromInt(int64(s.uniformInt(s.econ.ReactionAuthorMin, s.econ.ReactionAuthorMax)))
	reactorAmt := decimal.NewFromInt(int64(s.uniformInt(s.econ.ReactionReactorMin, s.econ.ReactionReactorMax)))
	var out []RewardResult
	err := s.mutateUsers(ctx, func(u Users) error {
		author := u.account(authorID, s.econ)
		paid := s.earn(author, authorAmt, today)
		out = append(out, RewardResult{UserID: authorID, Amount: paid, Balance: author.Balance})
		reactor := u.account(reactorID, s.econ)
		paid = s.earn(reactor, reactorAmt, today)
		out = append(out, RewardResult{UserID: reactorID, Amount: paid, Balance: reactor.Balance})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("reaction reward", "author", authorID, "reactor", reactorID)
	return out, nil
}

// AdjustBalance is an admin override; the result may be negative.
func (s *Service) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (Account, error) {
	var out Account
	err := s.mutateUsers(ctx, func(u Users) error {
		a := u.account(userID, s.econ)
		a.Balance = a.Balance.Add(delta)
		out = *a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("balance adjusted", "user", userID, "delta", delta, "balance", out.Balance)
	return out, nil
}

// AwardAll credits amount to every known account and returns how many were paid.
func (s *Service) AwardAll(ctx context.Context, amount decimal.Decimal) (int, error) {
	if err := positive(amount); err != nil {
		return 0, err
	}
	var n int
	err := s.mutateUsers(ctx, func(u Users) error {
		for _, a := range u {
			a.Balance = a.Balance.Add(amount)
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("awarded all users", "amount", amount, "users", n)
	return n, nil
}

// Account returns a snapshot of userID's account, opening it if needed.
func (s *Service) Account(ctx context.Context, userID string) (Account, error) {
	var out Account
	err := s.mutateUsers(ctx, func(u Users) error {
		_, existed := u[userID]
		out = *u.account(userID, s.econ)
		if existed {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

// holders lists accounts with a positive position in symbol, most shares
// first and user ID ascending on ties.
func holders(u Users, symbol string) []Holding {
	var out []Holding
	for id, a := range u {
		if qty := a.Inventory[symbol]; qty > 0 {
			out = append(out, Holding{UserID: id, Shares: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Shares != out[j].Shares {
			return out[i].Shares > out[j].Shares
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
