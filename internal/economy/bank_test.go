package economy

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestBank(t *testing.T) (*Bank, *InMemory) {
	t.Helper()
	store := NewInMemory()
	b, err := NewBank(store)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	return b, store
}

func TestCreditDepositWithdraw(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	if _, _, err := b.Credit(ctx, "g1", "u1", 1000); err != nil {
		t.Fatal(err)
	}
	a, _, err := b.Deposit(ctx, "g1", "u1", 600)
	if err != nil {
		t.Fatal(err)
	}
	if a.Wallet != 400 || a.Bank != 600 {
		t.Fatalf("after deposit: wallet=%d bank=%d", a.Wallet, a.Bank)
	}
	a, _, err = b.Withdraw(ctx, "g1", "u1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if a.Wallet != 500 || a.Bank != 500 {
		t.Fatalf("after withdraw: wallet=%d bank=%d", a.Wallet, a.Bank)
	}
}

func TestInsufficientFunds(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()
	_, _, _ = b.Credit(ctx, "g1", "u1", 100)

	if _, _, err := b.Deposit(ctx, "g1", "u1", 200); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("deposit: expected ErrInsufficientFunds, got %v", err)
	}
	if _, _, err := b.Withdraw(ctx, "g1", "u1", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("withdraw: expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := b.Transfer(ctx, "g1", "u1", "u2", 101); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("transfer: expected ErrInsufficientFunds, got %v", err)
	}
	a, _ := b.Account(ctx, "g1", "u1")
	if a.Wallet != 100 || a.Bank != 0 {
		t.Fatalf("balances changed by rejected operations: %+v", a)
	}
}

func TestInvalidAmountsAndSameAccount(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()
	if _, _, err := b.Credit(ctx, "g1", "u1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := b.Transfer(ctx, "g1", "u1", "u1", 5); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	b, store := newTestBank(t)
	ctx := context.Background()
	_, _, _ = b.Credit(ctx, "g1", "a", 10000)
	_, _, _ = b.Credit(ctx, "g1", "b", 10000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = b.Transfer(ctx, "g1", "a", "b", 100)
		}()
		go func() {
			defer wg.Done()
			_, _ = b.Transfer(ctx, "g1", "b", "a", 70)
		}()
	}
	wg.Wait()

	accts, _ := store.ListAccounts(ctx, "g1")
	var total int64
	for _, a := range accts {
		total += a.Total()
	}
	if total != 20000 {
		t.Fatalf("conservation violated: total=%d", total)
	}
	a, _ := b.Account(ctx, "g1", "a")
	if a.Wallet != 10000-50*100+50*70 {
		t.Fatalf("unexpected balance for a: %d", a.Wallet)
	}
}

func TestSetProfileMergesFields(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()
	loc, bday := "Lisbon", "04-12"

	if _, err := b.SetProfile(ctx, "g1", "u1", Profile{Location: &loc}); err != nil {
		t.Fatal(err)
	}
	a, err := b.SetProfile(ctx, "g1", "u1", Profile{Birthday: &bday})
	if err != nil {
		t.Fatal(err)
	}
	if a.Profile.Location == nil || *a.Profile.Location != "Lisbon" || a.Profile.Birthday == nil {
		t.Fatalf("unexpected profile: %+v", a.Profile)
	}
	empty := ""
	a, _ = b.SetProfile(ctx, "g1", "u1", Profile{Location: &empty})
	if a.Profile.Location != nil {
		t.Fatalf("location not cleared: %v", *a.Profile.Location)
	}
}
