package lottery_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raffle/internal/custody"
	"raffle/internal/draw"
	"raffle/internal/lottery"
	"raffle/internal/token"
)

var (
	ctx  = context.Background()
	juno = token.NewNative("ujunox")
	gelo = token.NewContract("juno1gelotoken")
)

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func fixedConfig(price uint64, targets lottery.Targets, royalties ...lottery.Royalty) lottery.RoundConfig {
	return lottery.RoundConfig{
		Name:        "Test Round",
		TicketPrice: price,
		Targets:     targets,
		Selection:   lottery.Selection{Method: lottery.Method{Fixed: []uint8{100}}},
		Token:       juno,
		Royalties:   royalties,
	}
}

// sequence pins the ticket ranks every draw of the test resolves to.
func sequence(values ...uint64) lottery.Option {
	return lottery.WithEntropy(func(*lottery.Lottery, *lottery.Round) (draw.Entropy, error) {
		return draw.NewSequence(values...), nil
	})
}

func newEngine(t *testing.T, req lottery.InstantiateRequest, opts ...lottery.Option) (*lottery.Engine, *custody.Memory) {
	t.Helper()
	if req.Owner == "" {
		req.Owner = "owner"
	}
	if req.Count == 0 {
		req.Count = 1
	}
	state, err := lottery.NewState(req, time.Unix(1700000000, 0))
	require.NoError(t, err)

	memory := custody.NewMemory("raffle")
	return lottery.NewEngine(state, memory, opts...), memory
}

func single(cfg lottery.RoundConfig) lottery.InstantiateRequest {
	return lottery.InstantiateRequest{Name: "Test Lottery", Activate: true, Configs: []lottery.RoundConfig{cfg}}
}

func buy(t *testing.T, e *lottery.Engine, wallet string, count uint32) *lottery.OrderReceipt {
	t.Helper()
	round, err := e.GetRound(lottery.RoundQuery{})
	require.NoError(t, err)

	cost := round.Config.TicketPrice * uint64(count)
	receipt, err := e.BuyTickets(ctx, lottery.BuyRequest{
		Wallet: wallet,
		Count:  count,
		Funds:  []token.Coin{{Token: round.Config.Token, Amount: cost}},
	})
	require.NoError(t, err)
	return receipt
}

func full(index uint32) lottery.RoundQuery {
	return lottery.RoundQuery{Index: &index, Winners: true, Players: true, Orders: true}
}

func TestEngine_EndsWhenTicketTargetReached(t *testing.T) {
	e, _ := newEngine(t, single(fixedConfig(10000, lottery.Targets{TicketCount: u64(10)})), sequence(0))

	receipt := buy(t, e, "alice", 9)
	require.Equal(t, lottery.RoundActive, receipt.RoundStatus)
	require.NotEmpty(t, receipt.ID)

	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, lottery.RoundActive, round.Status)
	require.Nil(t, round.Winners)
	require.Equal(t, lottery.Counts{Tickets: 9, Wallets: 1, Orders: 1, Drawings: 1}, round.Counts)

	receipt, err = e.BuyTickets(ctx, lottery.BuyRequest{
		Wallet:   "bob",
		Count:    1,
		Message:  str("Test Message"),
		IsPublic: true,
		Funds:    []token.Coin{{Token: juno, Amount: 10000}},
	})
	require.NoError(t, err)
	require.Equal(t, lottery.RoundComplete, receipt.RoundStatus)

	round, err = e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, lottery.RoundComplete, round.Status)
	require.Equal(t, "bob", *round.EndedBy)
	require.Equal(t, []lottery.Winner{{Wallet: "alice", Amount: 100000, Position: 0}}, round.Winners)
	require.Equal(t, lottery.Counts{Tickets: 10, Wallets: 2, Orders: 2, Drawings: 1}, round.Counts)

	require.Equal(t, []lottery.Player{
		{Wallet: "alice", TicketCount: 9, OrderIndices: []uint32{0}},
		{Wallet: "bob", TicketCount: 1, OrderIndices: []uint32{1}},
	}, round.Players)
	require.Equal(t, "VGVzdCBNZXNzYWdl", *round.Orders[1].Message)
	require.True(t, round.Orders[1].IsPublic)
	require.Nil(t, round.Orders[0].Message)

	require.Equal(t, []lottery.Claim{
		{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 100000}}},
	}, e.GetClaims())
	require.Equal(t, lottery.StatusComplete, e.GetLottery().Status)
}

func TestEngine_EndsWhenWalletTargetReached(t *testing.T) {
	e, _ := newEngine(t, single(fixedConfig(10000, lottery.Targets{WalletCount: u32(2)})), sequence(1))

	buy(t, e, "alice", 1)
	buy(t, e, "alice", 1)
	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, lottery.RoundActive, round.Status)
	require.Equal(t, []uint32{0, 1}, round.Players[0].OrderIndices)

	buy(t, e, "bob", 1)
	round, err = e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, lottery.RoundComplete, round.Status)
	require.Equal(t, "bob", *round.EndedBy)
	require.Equal(t, uint64(30000), round.Winners[0].Amount)
	require.Equal(t, "alice", round.Winners[0].Wallet)
}

func TestEngine_RoyaltyClaims(t *testing.T) {
	cfg := fixedConfig(10000, lottery.Targets{TicketCount: u64(2)}, lottery.Royalty{Wallet: "owner", Pct: 5})
	e, _ := newEngine(t, single(cfg), sequence(1))

	buy(t, e, "alice", 1)
	buy(t, e, "bob", 1)

	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, uint64(19000), round.Winners[0].Amount)
	require.Equal(t, []lottery.Claim{
		{Wallet: "bob", Rewards: []token.Coin{{Token: juno, Amount: 19000}}},
		{Wallet: "owner", Rewards: []token.Coin{{Token: juno, Amount: 1000}}},
	}, e.GetClaims())
}

func TestEngine_AutosendRoyalty(t *testing.T) {
	cfg := fixedConfig(10000, lottery.Targets{TicketCount: u64(2)}, lottery.Royalty{Wallet: "house", Pct: 1, Autosend: true})
	e, memory := newEngine(t, single(cfg), sequence(0))

	buy(t, e, "alice", 2)

	require.Equal(t, []lottery.Transfer{{Recipient: "house", Token: juno, Amount: 200}}, memory.Sent())
	require.Equal(t, []lottery.Claim{
		{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 19800}}},
	}, e.GetClaims())

	balances, err := e.GetBalances()
	require.NoError(t, err)
	require.Equal(t, uint64(19800), balances.Native[0].Amount)
}

func TestEngine_DistributesIncentives(t *testing.T) {
	cfg := fixedConfig(10000, lottery.Targets{TicketCount: u64(2)}, lottery.Royalty{Wallet: "owner", Pct: 5})
	e, memory := newEngine(t, single(cfg), sequence(1))

	memory.Mint("owner", token.Coin{Token: gelo, Amount: 100000000})
	memory.Approve("owner", token.Coin{Token: gelo, Amount: 10000})

	_, err := e.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  "owner",
		Message: str("Take my coins!"),
		Rewards: []lottery.IncentiveReward{
			{Reward: token.Coin{Token: juno, Amount: 5000}},
			{Reward: token.Coin{Token: gelo, Amount: 10000}},
		},
		Funds: []token.Coin{{Token: juno, Amount: 5000}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(10000), memory.Balance("raffle", gelo))

	_, err = e.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  "alice",
		Message: str("Gift from God"),
		Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Token: juno, Amount: 2000}, Position: u32(0)}},
		Funds:   []token.Coin{{Token: juno, Amount: 2000}},
	})
	require.NoError(t, err)

	incentives, err := e.GetIncentives(nil)
	require.NoError(t, err)
	require.Len(t, incentives, 2)
	require.Equal(t, "owner", incentives[0].Source)
	require.Equal(t, "VGFrZSBteSBjb2lucyE=", *incentives[0].Message)
	require.Nil(t, incentives[0].Rewards[1].Position)
	require.Equal(t, "R2lmdCBmcm9tIEdvZA==", *incentives[1].Message)
	require.Equal(t, uint32(0), *incentives[1].Rewards[0].Position)

	buy(t, e, "alice", 1)
	buy(t, e, "bob", 1)

	require.Equal(t, []lottery.Claim{
		{Wallet: "bob", Rewards: []token.Coin{{Token: gelo, Amount: 10000}, {Token: juno, Amount: 26000}}},
		{Wallet: "owner", Rewards: []token.Coin{{Token: juno, Amount: 1000}}},
	}, e.GetClaims())

	balances, err := e.GetBalances()
	require.NoError(t, err)
	require.Equal(t, uint64(27000), balances.Native[0].Amount)
	require.Equal(t, "ujunox", *balances.Native[0].Denom)
	require.Equal(t, uint64(10000), balances.Cw20[0].Amount)
	require.Equal(t, "juno1gelotoken", *balances.Cw20[0].Address)

	set, err := e.ClaimRewards(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, set.Transfers, 2)
	require.Equal(t, uint64(10000), memory.Balance("bob", gelo))
	require.Equal(t, uint64(0), memory.Balance("raffle", gelo))

	balances, err = e.GetBalances()
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balances.Native[0].Amount)
	require.Empty(t, balances.Cw20)
	require.Equal(t, []lottery.Claim{
		{Wallet: "owner", Rewards: []token.Coin{{Token: juno, Amount: 1000}}},
	}, e.GetClaims())

	_, err = e.ClaimRewards(ctx, "owner")
	require.NoError(t, err)
	require.Empty(t, e.GetClaims())

	balances, err = e.GetBalances()
	require.NoError(t, err)
	require.Empty(t, balances.Native)
	require.Empty(t, balances.Cw20)

	_, err = e.ClaimRewards(ctx, "owner")
	require.ErrorIs(t, err, lottery.ErrNothingToClaim)
}

func TestEngine_RotatesRounds(t *testing.T) {
	foo := fixedConfig(1000, lottery.Targets{TicketCount: u64(2)})
	foo.Name = "Foo Round"
	bar := fixedConfig(1000, lottery.Targets{TicketCount: u64(2)})
	bar.Name = "Bar Round"

	e, _ := newEngine(t, lottery.InstantiateRequest{
		Name:     "Test Lottery",
		Activate: true,
		Count:    4,
		Configs:  []lottery.RoundConfig{foo, bar},
	}, sequence(0))

	for i := uint32(0); i < 4; i++ {
		round, err := e.GetRound(lottery.RoundQuery{})
		require.NoError(t, err)
		require.Equal(t, i, round.Index)
		require.Equal(t, i, e.GetLottery().Rounds.Index)
		require.Equal(t, []string{"Foo Round", "Bar Round"}[i%2], round.Config.Name)

		buy(t, e, "alice", 1)
		buy(t, e, "bob", 1)
	}

	require.Equal(t, lottery.StatusComplete, e.GetLottery().Status)
	for i := uint32(0); i < 4; i++ {
		round, err := e.GetRound(full(i))
		require.NoError(t, err)
		require.Equal(t, lottery.RoundComplete, round.Status)
	}

	_, err := e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "alice", Count: 1, Funds: []token.Coin{{Token: juno, Amount: 1000}}})
	require.ErrorIs(t, err, lottery.ErrInvalidRound)

	_, err = e.GetRound(full(4))
	require.ErrorIs(t, err, lottery.ErrInvalidRound)
}

func TestEngine_PercentSelection(t *testing.T) {
	cfg := lottery.RoundConfig{
		TicketPrice: 101,
		Targets:     lottery.Targets{TicketCount: u64(4)},
		Selection:   lottery.Selection{Method: lottery.Method{Percent: &lottery.Percent{Pct: 50}}},
		Token:       juno,
	}
	// rank 3 is bob's ticket; once removed, rank 0 is alice's
	e, _ := newEngine(t, single(cfg), sequence(3, 0))

	buy(t, e, "alice", 3)
	buy(t, e, "bob", 1)

	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, uint32(2), round.Counts.Drawings)
	require.Equal(t, []lottery.Winner{
		{Wallet: "bob", Amount: 202, Position: 0},
		{Wallet: "alice", Amount: 202, Position: 1},
	}, round.Winners)
}

func TestEngine_WithReplacement(t *testing.T) {
	cfg := lottery.RoundConfig{
		TicketPrice: 100,
		Targets:     lottery.Targets{TicketCount: u64(2)},
		Selection: lottery.Selection{
			Method:          lottery.Method{Percent: &lottery.Percent{Pct: 100, Max: u32(3)}},
			WithReplacement: true,
		},
		Token: juno,
	}
	e, _ := newEngine(t, single(cfg), sequence(0, 0, 0))

	buy(t, e, "alice", 1)
	buy(t, e, "bob", 1)

	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Len(t, round.Winners, 2)
	require.Equal(t, "alice", round.Winners[0].Wallet)
	require.Equal(t, "alice", round.Winners[1].Wallet)
	require.Equal(t, []lottery.Claim{
		{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 200}}},
	}, e.GetClaims())
}

func TestEngine_RejectsPurchases(t *testing.T) {
	cfg := fixedConfig(100, lottery.Targets{TicketCount: u64(100)})
	cfg.MaxTicketsPerWallet = u32(5)
	e, _ := newEngine(t, single(cfg))

	cases := map[string]struct {
		req  lottery.BuyRequest
		want error
	}{
		"zero tickets": {
			req:  lottery.BuyRequest{Wallet: "alice", Count: 0},
			want: lottery.ErrInvalidAmount,
		},
		"over the wallet limit": {
			req:  lottery.BuyRequest{Wallet: "alice", Count: 6, Funds: []token.Coin{{Token: juno, Amount: 600}}},
			want: lottery.ErrWalletLimitExceeded,
		},
		"underpaid": {
			req:  lottery.BuyRequest{Wallet: "alice", Count: 2, Funds: []token.Coin{{Token: juno, Amount: 100}}},
			want: lottery.ErrInsufficientFunds,
		},
		"overpaid": {
			req:  lottery.BuyRequest{Wallet: "alice", Count: 1, Funds: []token.Coin{{Token: juno, Amount: 101}}},
			want: lottery.ErrInsufficientFunds,
		},
		"wrong denom": {
			req:  lottery.BuyRequest{Wallet: "alice", Count: 1, Funds: []token.Coin{{Token: token.NewNative("uatom"), Amount: 100}}},
			want: lottery.ErrInsufficientFunds,
		},
		"extra denom": {
			req: lottery.BuyRequest{Wallet: "alice", Count: 1, Funds: []token.Coin{
				{Token: juno, Amount: 100},
				{Token: token.NewNative("uatom"), Amount: 1},
			}},
			want: lottery.ErrInsufficientFunds,
		},
		"no wallet": {
			req:  lottery.BuyRequest{Count: 1, Funds: []token.Coin{{Token: juno, Amount: 100}}},
			want: lottery.ErrUnauthorized,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.BuyTickets(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	// nothing above changed the round
	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, lottery.RoundPending, round.Status)
	require.Equal(t, lottery.Counts{Drawings: 1}, round.Counts)
	require.Empty(t, round.Orders)

	buy(t, e, "alice", 3)
	_, err = e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "alice", Count: 3, Funds: []token.Coin{{Token: juno, Amount: 300}}})
	require.ErrorIs(t, err, lottery.ErrWalletLimitExceeded)
	buy(t, e, "alice", 2)
}

func TestEngine_ContractTokenTickets(t *testing.T) {
	cfg := fixedConfig(50, lottery.Targets{TicketCount: u64(2)})
	cfg.Token = gelo
	e, memory := newEngine(t, single(cfg), sequence(0))

	memory.Mint("alice", token.Coin{Token: gelo, Amount: 1000})

	_, err := e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "alice", Count: 1})
	require.ErrorIs(t, err, lottery.ErrInsufficientFunds)

	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Empty(t, round.Orders)

	memory.Approve("alice", token.Coin{Token: gelo, Amount: 100})
	_, err = e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "alice", Count: 2})
	require.NoError(t, err)
	require.Equal(t, uint64(900), memory.Balance("alice", gelo))

	_, err = e.ClaimRewards(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1000), memory.Balance("alice", gelo))
}

func TestEngine_DurationTarget(t *testing.T) {
	start := time.Unix(1700000000, 0)
	now := start
	clock := lottery.WithClock(func() time.Time { return now })

	cfg := fixedConfig(100, lottery.Targets{DurationMinutes: u32(10)})
	e, _ := newEngine(t, single(cfg), clock, sequence(0))

	_, err := e.CloseRound(ctx, "keeper")
	require.ErrorIs(t, err, lottery.ErrInvalidRound)

	buy(t, e, "alice", 1)

	now = start.Add(5 * time.Minute)
	_, err = e.CloseRound(ctx, "keeper")
	require.ErrorIs(t, err, lottery.ErrInvalidRound)
	buy(t, e, "bob", 1)

	now = start.Add(10 * time.Minute)
	closed, err := e.CloseRound(ctx, "keeper")
	require.NoError(t, err)
	require.Equal(t, lottery.RoundComplete, closed.Status)
	require.Equal(t, "keeper", *closed.EndedBy)
	require.Equal(t, uint64(200), closed.Winners[0].Amount)
}

func TestEngine_DurationTargetOnPurchase(t *testing.T) {
	start := time.Unix(1700000000, 0)
	now := start
	cfg := fixedConfig(100, lottery.Targets{DurationMinutes: u32(10), TicketCount: u64(50)})
	e, _ := newEngine(t, single(cfg), lottery.WithClock(func() time.Time { return now }), sequence(0))

	buy(t, e, "alice", 1)
	now = start.Add(11 * time.Minute)
	receipt := buy(t, e, "bob", 1)
	require.Equal(t, lottery.RoundComplete, receipt.RoundStatus)
}

func TestEngine_ActivateAndCancel(t *testing.T) {
	req := single(fixedConfig(100, lottery.Targets{TicketCount: u64(10)}))
	req.Activate = false
	e, memory := newEngine(t, req)

	_, err := e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "alice", Count: 1, Funds: []token.Coin{{Token: juno, Amount: 100}}})
	require.ErrorIs(t, err, lottery.ErrInvalidRound)

	require.ErrorIs(t, e.Activate(ctx, "mallory"), lottery.ErrUnauthorized)
	require.NoError(t, e.Activate(ctx, "owner"))
	require.ErrorIs(t, e.Activate(ctx, "owner"), lottery.ErrInvalidRound)

	round, err := e.GetRound(lottery.RoundQuery{})
	require.NoError(t, err)
	require.Equal(t, lottery.RoundActive, round.Status)

	buy(t, e, "alice", 2)
	memory.Mint("sponsor", token.Coin{Token: gelo, Amount: 70})
	memory.Approve("sponsor", token.Coin{Token: gelo, Amount: 70})
	_, err = e.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  "sponsor",
		Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Token: gelo, Amount: 70}}},
	})
	require.NoError(t, err)

	require.ErrorIs(t, e.Cancel(ctx, "alice"), lottery.ErrUnauthorized)
	require.NoError(t, e.Cancel(ctx, "owner"))

	round, err = e.GetRound(lottery.RoundQuery{})
	require.NoError(t, err)
	require.Equal(t, lottery.RoundCanceled, round.Status)
	require.Nil(t, round.Winners)
	require.Equal(t, lottery.StatusCanceled, e.GetLottery().Status)

	require.Equal(t, []lottery.Claim{
		{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 200}}},
		{Wallet: "sponsor", Rewards: []token.Coin{{Token: gelo, Amount: 70}}},
	}, e.GetClaims())

	_, err = e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "alice", Count: 1, Funds: []token.Coin{{Token: juno, Amount: 100}}})
	require.ErrorIs(t, err, lottery.ErrInvalidRound)
	require.ErrorIs(t, e.Cancel(ctx, "owner"), lottery.ErrInvalidRound)

	_, err = e.ClaimRewards(ctx, "sponsor")
	require.NoError(t, err)
	require.Equal(t, uint64(70), memory.Balance("sponsor", gelo))
}

func TestEngine_RejectsIncentives(t *testing.T) {
	e, _ := newEngine(t, single(fixedConfig(100, lottery.Targets{TicketCount: u64(1)})))

	_, err := e.AddIncentives(ctx, lottery.IncentiveRequest{Wallet: "sponsor"})
	require.ErrorIs(t, err, lottery.ErrInvalidAmount)

	_, err = e.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  "sponsor",
		Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Token: juno, Amount: 0}}},
	})
	require.ErrorIs(t, err, lottery.ErrInvalidAmount)

	_, err = e.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  "sponsor",
		Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Amount: 5}}},
	})
	require.ErrorIs(t, err, lottery.ErrUnknownToken)

	_, err = e.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  "sponsor",
		Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Token: juno, Amount: 5}}},
		Funds:   []token.Coin{{Token: juno, Amount: 4}},
	})
	require.ErrorIs(t, err, lottery.ErrInsufficientFunds)

	incentives, err := e.GetIncentives(nil)
	require.NoError(t, err)
	require.Empty(t, incentives)
}

type failingStore struct {
	saves int
	fail  bool
	last  *lottery.State
}

func (s *failingStore) Save(_ context.Context, state *lottery.State) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.saves++
	s.last = state.Clone()
	return nil
}

// flakyCustody fails Send while down; with partial set it sends that many
// transfers first.
type flakyCustody struct {
	*custody.Memory
	down    bool
	partial int
}

func (c *flakyCustody) Send(ctx context.Context, transfers []lottery.Transfer) error {
	if !c.down {
		return c.Memory.Send(ctx, transfers)
	}
	if c.partial > 0 {
		if err := c.Memory.Send(ctx, transfers[:c.partial]); err != nil {
			return err
		}
		return &lottery.SendError{Sent: c.partial, Err: errors.New("lite server timeout")}
	}
	return errors.New("lite server timeout")
}

func TestEngine_AtomicOnStoreFailure(t *testing.T) {
	store := &failingStore{}
	e, _ := newEngine(t, single(fixedConfig(100, lottery.Targets{TicketCount: u64(2)})), lottery.WithStore(store), sequence(0))

	buy(t, e, "alice", 1)
	require.Equal(t, 1, store.saves)

	store.fail = true
	_, err := e.BuyTickets(ctx, lottery.BuyRequest{Wallet: "bob", Count: 1, Funds: []token.Coin{{Token: juno, Amount: 100}}})
	require.Error(t, err)

	round, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, lottery.RoundActive, round.Status)
	require.Equal(t, uint64(1), round.Counts.Tickets)
	require.Nil(t, round.Winners)
	require.Empty(t, e.GetClaims())
}

func TestEngine_ClaimNotPaidWhenStoreFails(t *testing.T) {
	store := &failingStore{}
	e, memory := newEngine(t, single(fixedConfig(100, lottery.Targets{TicketCount: u64(1)})), lottery.WithStore(store), sequence(0))
	buy(t, e, "alice", 1)

	store.fail = true
	_, err := e.ClaimRewards(ctx, "alice")
	require.Error(t, err)
	require.Empty(t, memory.Sent())
	require.Empty(t, e.GetPayouts())
	require.Equal(t, []lottery.Claim{{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 100}}}}, e.GetClaims())

	store.fail = false
	set, err := e.ClaimRewards(ctx, "alice")
	require.NoError(t, err)
	require.False(t, set.Pending)

	_, err = e.ClaimRewards(ctx, "alice")
	require.ErrorIs(t, err, lottery.ErrNothingToClaim)
	require.Equal(t, []lottery.Transfer{{Recipient: "alice", Token: juno, Amount: 100}}, memory.Sent())
	require.Empty(t, store.last.Outbox)
}

func TestEngine_Outbox(t *testing.T) {
	setup := func(t *testing.T) (*lottery.Engine, *flakyCustody, *failingStore) {
		state, err := lottery.NewState(lottery.InstantiateRequest{
			Owner:    "owner",
			Name:     "Outbox Lottery",
			Activate: true,
			Count:    1,
			Configs:  []lottery.RoundConfig{fixedConfig(100, lottery.Targets{TicketCount: u64(1)})},
		}, time.Unix(1700000000, 0))
		require.NoError(t, err)

		funds := &flakyCustody{Memory: custody.NewMemory("raffle")}
		store := &failingStore{}
		e := lottery.NewEngine(state, funds, lottery.WithStore(store), sequence(0))

		funds.Mint("sponsor", token.Coin{Token: gelo, Amount: 70})
		funds.Approve("sponsor", token.Coin{Token: gelo, Amount: 70})
		_, err = e.AddIncentives(ctx, lottery.IncentiveRequest{
			Wallet:  "sponsor",
			Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Token: gelo, Amount: 70}}},
		})
		require.NoError(t, err)
		buy(t, e, "alice", 1)
		return e, funds, store
	}
	paid := []lottery.Transfer{
		{Recipient: "alice", Token: gelo, Amount: 70},
		{Recipient: "alice", Token: juno, Amount: 100},
	}

	t.Run("failed send stays queued", func(t *testing.T) {
		e, funds, store := setup(t)
		funds.down = true

		set, err := e.ClaimRewards(ctx, "alice")
		require.NoError(t, err)
		require.True(t, set.Pending)
		require.Empty(t, e.GetClaims())
		require.Empty(t, funds.Sent())
		require.Len(t, store.last.Outbox, 1)
		require.Equal(t, set.ID, store.last.Outbox[0].ID)

		_, err = e.ClaimRewards(ctx, "alice")
		require.ErrorIs(t, err, lottery.ErrNothingToClaim)

		pending, err := e.FlushPayouts(ctx)
		require.Error(t, err)
		require.Len(t, pending, 1)

		funds.down = false
		pending, err = e.FlushPayouts(ctx)
		require.NoError(t, err)
		require.Empty(t, pending)
		require.Empty(t, e.GetPayouts())
		require.Empty(t, store.last.Outbox)
		require.ElementsMatch(t, paid, funds.Sent())
	})

	t.Run("partial send keeps the rest", func(t *testing.T) {
		e, funds, store := setup(t)
		funds.down = true
		funds.partial = 1

		set, err := e.ClaimRewards(ctx, "alice")
		require.NoError(t, err)
		require.True(t, set.Pending)
		require.Len(t, funds.Sent(), 1)

		pending := e.GetPayouts()
		require.Len(t, pending, 1)
		require.Len(t, pending[0].Transfers, 1)
		require.Len(t, store.last.Outbox[0].Transfers, 1)

		funds.down = false
		pending, err = e.FlushPayouts(ctx)
		require.NoError(t, err)
		require.Empty(t, pending)
		require.ElementsMatch(t, paid, funds.Sent())
	})
}

func TestEngine_ProjectionsDoNotMutate(t *testing.T) {
	e, _ := newEngine(t, single(fixedConfig(100, lottery.Targets{TicketCount: u64(10)})))
	buy(t, e, "alice", 1)

	first, err := e.GetRound(full(0))
	require.NoError(t, err)
	first.Orders = append(first.Orders, lottery.TicketOrder{Wallet: "mallory", TicketCount: 1})
	first.Players[0].TicketCount = 99

	second, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	require.Equal(t, uint64(1), second.Players[0].TicketCount)

	third, err := e.GetRound(full(0))
	require.NoError(t, err)
	require.Equal(t, second, third)

	bare, err := e.GetRound(lottery.RoundQuery{})
	require.NoError(t, err)
	require.Nil(t, bare.Orders)
	require.Nil(t, bare.Players)
	require.Nil(t, bare.Winners)
}

// Random rounds must always keep ticket counts consistent and allocate
// exactly the pot plus incentives.
func TestEngine_Invariants(t *testing.T) {
	for seed := int64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewSource(seed))

		price := uint64(rng.Intn(1000) + 1)
		cfg := lottery.RoundConfig{
			TicketPrice: price,
			Targets:     lottery.Targets{TicketCount: u64(uint64(rng.Intn(40) + 1))},
			Token:       juno,
			Selection:   lottery.Selection{WithReplacement: rng.Intn(2) == 0},
			Royalties: []lottery.Royalty{
				{Wallet: "house", Pct: uint8(rng.Intn(20)), Autosend: true},
				{Wallet: "dev", Pct: uint8(rng.Intn(20))},
			},
		}
		if rng.Intn(2) == 0 {
			cfg.Selection.Method.Percent = &lottery.Percent{Pct: uint8(rng.Intn(100) + 1)}
		} else {
			cfg.Selection.Method.Fixed = []uint8{50, 30, 20}[:rng.Intn(3)+1]
		}

		e, memory := newEngine(t, single(cfg), lottery.WithEntropy(lottery.HashEntropySource([]byte{byte(seed)})))

		incentive := uint64(rng.Intn(500) + 1)
		_, err := e.AddIncentives(ctx, lottery.IncentiveRequest{
			Wallet:  "sponsor",
			Rewards: []lottery.IncentiveReward{{Reward: token.Coin{Token: juno, Amount: incentive}, Position: u32(uint32(rng.Intn(3)))}},
			Funds:   []token.Coin{{Token: juno, Amount: incentive}},
		})
		require.NoError(t, err)

		wallets := []string{"a", "b", "c", "d", "e"}
		for {
			round, err := e.GetRound(full(0))
			require.NoError(t, err)

			var players, orders uint64
			for _, p := range round.Players {
				players += p.TicketCount
			}
			for _, o := range round.Orders {
				orders += uint64(o.TicketCount)
			}
			require.Equal(t, round.Counts.Tickets, players)
			require.Equal(t, round.Counts.Tickets, orders)

			if round.Status == lottery.RoundComplete {
				require.NotNil(t, round.Winners)

				var claimed uint64
				balances, err := e.GetBalances()
				require.NoError(t, err)
				for _, b := range balances.Native {
					claimed += b.Amount
				}
				for _, tr := range memory.Sent() {
					claimed += tr.Amount
				}
				require.Equal(t, price*round.Counts.Tickets+incentive, claimed, "seed %d", seed)
				break
			}
			require.Nil(t, round.Winners)

			buy(t, e, wallets[rng.Intn(len(wallets))], uint32(rng.Intn(5)+1))
		}
	}
}
