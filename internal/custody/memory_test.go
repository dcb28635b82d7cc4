package custody

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"raffle/internal/lottery"
	"raffle/internal/token"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	gelo := token.NewContract("juno1gelotoken")
	juno := token.NewNative("ujunox")

	m := NewMemory("raffle")
	m.Mint("alice", token.Coin{Token: gelo, Amount: 100})

	require.ErrorIs(t, m.Collect(ctx, "alice", token.Coin{Token: gelo, Amount: 10}), ErrAllowance)

	m.Approve("alice", token.Coin{Token: gelo, Amount: 500})
	require.ErrorIs(t, m.Collect(ctx, "alice", token.Coin{Token: gelo, Amount: 200}), ErrBalance)

	require.NoError(t, m.Collect(ctx, "alice", token.Coin{Token: gelo, Amount: 60}))
	require.Equal(t, uint64(40), m.Balance("alice", gelo))
	require.Equal(t, uint64(60), m.Balance("raffle", gelo))
	require.Equal(t, uint64(440), m.Allowance("alice", gelo))

	t.Run("send is all or nothing", func(t *testing.T) {
		err := m.Send(ctx, []lottery.Transfer{
			{Recipient: "bob", Token: gelo, Amount: 50},
			{Recipient: "carol", Token: gelo, Amount: 20},
		})
		require.ErrorIs(t, err, ErrBalance)
		require.Equal(t, uint64(0), m.Balance("bob", gelo))
		require.Empty(t, m.Sent())
	})

	t.Run("native transfers need no balance", func(t *testing.T) {
		err := m.Send(ctx, []lottery.Transfer{
			{Recipient: "bob", Token: gelo, Amount: 50},
			{Recipient: "bob", Token: juno, Amount: 1000},
		})
		require.NoError(t, err)
		require.Equal(t, uint64(50), m.Balance("bob", gelo))
		require.Equal(t, uint64(1000), m.Balance("bob", juno))
		require.Equal(t, uint64(10), m.Balance("raffle", gelo))
		require.Len(t, m.Sent(), 2)
	})
}

type journal struct {
	books []Book
	fail  bool
}

func (j *journal) SaveBook(_ context.Context, book Book) error {
	if j.fail {
		return errors.New("disk full")
	}
	j.books = append(j.books, book)
	return nil
}

func TestMemory_Journal(t *testing.T) {
	ctx := context.Background()
	gelo := token.NewContract("juno1gelotoken")

	j := &journal{}
	m := NewMemory("raffle", WithJournal(j))

	require.ErrorIs(t, m.Deposit(ctx, "alice", token.Coin{Token: token.NewNative("ujunox"), Amount: 1}), token.ErrUnknownToken)
	require.NoError(t, m.Deposit(ctx, "alice", token.Coin{Token: gelo, Amount: 100}))
	require.NoError(t, m.Collect(ctx, "alice", token.Coin{Token: gelo, Amount: 100}))
	require.Len(t, j.books, 2)
	require.Equal(t, uint64(100), j.books[1].Balances["raffle"][gelo])

	t.Run("failed journal rolls back", func(t *testing.T) {
		j.fail = true
		err := m.Send(ctx, []lottery.Transfer{{Recipient: "bob", Token: gelo, Amount: 40}})
		require.Error(t, err)
		require.Equal(t, uint64(100), m.Balance("raffle", gelo))
		require.Equal(t, uint64(0), m.Balance("bob", gelo))
		require.Empty(t, m.Sent())
		j.fail = false
	})

	t.Run("restored book keeps custody funds", func(t *testing.T) {
		raw, err := json.Marshal(m.Book())
		require.NoError(t, err)
		var book Book
		require.NoError(t, json.Unmarshal(raw, &book))

		restarted := NewMemory("raffle")
		restarted.Restore(book)
		require.NoError(t, restarted.Send(ctx, []lottery.Transfer{{Recipient: "bob", Token: gelo, Amount: 100}}))
		require.Equal(t, uint64(100), restarted.Balance("bob", gelo))
	})
}
