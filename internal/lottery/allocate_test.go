package lottery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"raffle/internal/token"
)

var (
	juno = token.NewNative("ujunox")
	gelo = token.NewContract("juno1gelotoken")
)

func closedRound(price, tickets uint64, method Method, royalties ...Royalty) *Round {
	return &Round{
		Index:  0,
		Status: RoundClosed,
		Config: RoundConfig{
			TicketPrice: price,
			Selection:   Selection{Method: method},
			Token:       juno,
			Royalties:   royalties,
		},
		Counts: Counts{Tickets: tickets},
	}
}

func pos(p uint32) *uint32 { return &p }

func TestProportionalSplit(t *testing.T) {
	shares, err := ProportionalSplit(100000, []uint64{100})
	require.NoError(t, err)
	require.Equal(t, []uint64{100000}, shares)

	shares, err = ProportionalSplit(1000, []uint64{60, 30})
	require.NoError(t, err)
	require.Equal(t, []uint64{666, 334}, shares)

	shares, err = ProportionalSplit(10, []uint64{1, 1, 1})
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 3, 4}, shares)

	shares, err = ProportionalSplit(math.MaxUint64, []uint64{50, 50})
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), shares[0]+shares[1])

	_, err = ProportionalSplit(10, nil)
	require.ErrorIs(t, err, ErrInvalidRound)
}

func TestAllocate(t *testing.T) {
	t.Run("single fixed winner takes the pot", func(t *testing.T) {
		round := closedRound(10000, 10, Method{Fixed: []uint8{100}})
		alloc, err := Allocate(round, []Winner{{Wallet: "bob"}}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, []Credit{{Wallet: "bob", Coin: token.Coin{Token: juno, Amount: 100000}}}, alloc.Credits)
		require.Equal(t, uint64(100000), alloc.Winners[0].Amount)
		require.Empty(t, alloc.Autosend)
	})

	t.Run("royalty claim is cut from the pot", func(t *testing.T) {
		round := closedRound(10000, 2, Method{Fixed: []uint8{100}}, Royalty{Wallet: "house", Pct: 5})
		alloc, err := Allocate(round, []Winner{{Wallet: "bob"}}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, []Credit{
			{Wallet: "bob", Coin: token.Coin{Token: juno, Amount: 19000}},
			{Wallet: "house", Coin: token.Coin{Token: juno, Amount: 1000}},
		}, alloc.Credits)
	})

	t.Run("autosend royalties never become claims", func(t *testing.T) {
		round := closedRound(101, 4, Method{Percent: &Percent{Pct: 50}}, Royalty{Wallet: "house", Pct: 10, Autosend: true})
		alloc, err := Allocate(round, []Winner{{Wallet: "bob"}, {Wallet: "alice", Position: 1}}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, []Transfer{{Recipient: "house", Token: juno, Amount: 40}}, alloc.Autosend)
		require.Equal(t, []Credit{
			{Wallet: "alice", Coin: token.Coin{Token: juno, Amount: 182}},
			{Wallet: "bob", Coin: token.Coin{Token: juno, Amount: 182}},
		}, alloc.Credits)
	})

	t.Run("targeted second token is not taxed", func(t *testing.T) {
		round := closedRound(10000, 2, Method{Fixed: []uint8{100}}, Royalty{Wallet: "house", Pct: 5})
		incentives := []IncentivePackage{{
			Source:  "sponsor",
			Rewards: []IncentiveReward{{Reward: token.Coin{Token: gelo, Amount: 10000}, Position: pos(0)}},
		}}
		alloc, err := Allocate(round, []Winner{{Wallet: "bob"}}, incentives, nil)
		require.NoError(t, err)
		require.Contains(t, alloc.Credits, Credit{Wallet: "bob", Coin: token.Coin{Token: gelo, Amount: 10000}})
		require.Contains(t, alloc.Credits, Credit{Wallet: "house", Coin: token.Coin{Token: juno, Amount: 1000}})
	})

	t.Run("untargeted incentives follow position weights", func(t *testing.T) {
		round := closedRound(100, 9, Method{Fixed: []uint8{60, 30}})
		incentives := []IncentivePackage{{
			Source: "sponsor",
			Rewards: []IncentiveReward{
				{Reward: token.Coin{Token: gelo, Amount: 90}},
				{Reward: token.Coin{Token: juno, Amount: 50}, Position: pos(7)},
			},
		}}
		winners := []Winner{{Wallet: "alice"}, {Wallet: "bob", Position: 1}}
		alloc, err := Allocate(round, winners, incentives, nil)
		require.NoError(t, err)

		// 900 ticket pot + 50 fallen back from an undrawn position
		require.Equal(t, uint64(633), alloc.Winners[0].Amount)
		require.Equal(t, uint64(317), alloc.Winners[1].Amount)
		require.Contains(t, alloc.Credits, Credit{Wallet: "alice", Coin: token.Coin{Token: gelo, Amount: 60}})
		require.Contains(t, alloc.Credits, Credit{Wallet: "bob", Coin: token.Coin{Token: gelo, Amount: 30}})
	})

	t.Run("same wallet on two positions gets one merged credit", func(t *testing.T) {
		round := closedRound(10, 3, Method{Percent: &Percent{Pct: 100, Max: pos(2)}})
		alloc, err := Allocate(round, []Winner{{Wallet: "alice"}, {Wallet: "alice", Position: 1}}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, []Credit{{Wallet: "alice", Coin: token.Coin{Token: juno, Amount: 30}}}, alloc.Credits)
	})

	t.Run("pot overflow fails closed", func(t *testing.T) {
		round := closedRound(math.MaxUint64, 2, Method{Fixed: []uint8{100}})
		_, err := Allocate(round, []Winner{{Wallet: "bob"}}, nil, nil)
		require.ErrorIs(t, err, ErrArithmeticOverflow)
	})

	t.Run("a lossy splitter is rejected", func(t *testing.T) {
		round := closedRound(10, 3, Method{Fixed: []uint8{100}})
		lossy := func(total uint64, weights []uint64) ([]uint64, error) {
			return []uint64{total - 1}, nil
		}
		_, err := Allocate(round, []Winner{{Wallet: "bob"}}, nil, lossy)
		require.ErrorIs(t, err, ErrConservation)
	})

	t.Run("no winners", func(t *testing.T) {
		_, err := Allocate(closedRound(10, 1, Method{Fixed: []uint8{100}}), nil, nil, nil)
		require.ErrorIs(t, err, ErrInvalidRound)
	})
}

func TestClaims(t *testing.T) {
	claims := make(Claims)
	require.ErrorIs(t, claims.Credit("alice", juno, 0), ErrInvalidAmount)
	require.ErrorIs(t, claims.Credit("alice", token.Token{}, 1), ErrUnknownToken)

	require.NoError(t, claims.Credit("bob", juno, 26000))
	require.NoError(t, claims.Credit("bob", gelo, 10000))
	require.NoError(t, claims.Credit("alice", juno, 500))
	require.NoError(t, claims.Credit("alice", juno, 500))

	require.Equal(t, []Claim{
		{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 1000}}},
		{Wallet: "bob", Rewards: []token.Coin{{Token: gelo, Amount: 10000}, {Token: juno, Amount: 26000}}},
	}, claims.List())

	balances, err := claims.Balances()
	require.NoError(t, err)
	require.Len(t, balances.Native, 1)
	require.Equal(t, uint64(27000), balances.Native[0].Amount)
	require.Equal(t, "ujunox", *balances.Native[0].Denom)
	require.Nil(t, balances.Native[0].Address)
	require.Equal(t, uint64(10000), balances.Cw20[0].Amount)

	transfers, err := claims.Settle("bob")
	require.NoError(t, err)
	require.Equal(t, []Transfer{
		{Recipient: "bob", Token: gelo, Amount: 10000},
		{Recipient: "bob", Token: juno, Amount: 26000},
	}, transfers)
	require.Equal(t, []Claim{{Wallet: "alice", Rewards: []token.Coin{{Token: juno, Amount: 1000}}}}, claims.List())

	_, err = claims.Settle("bob")
	require.ErrorIs(t, err, ErrNothingToClaim)

	rebuilt, err := ClaimsFromList(claims.List())
	require.NoError(t, err)
	require.Equal(t, claims, rebuilt)
}

func TestRoundConfig_Validate(t *testing.T) {
	valid := func() RoundConfig {
		tickets := uint64(10)
		return RoundConfig{
			TicketPrice: 100,
			Targets:     Targets{TicketCount: &tickets},
			Selection:   Selection{Method: Method{Fixed: []uint8{100}}},
			Token:       juno,
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(c *RoundConfig){
		"zero price":      func(c *RoundConfig) { c.TicketPrice = 0 },
		"no targets":      func(c *RoundConfig) { c.Targets = Targets{} },
		"no method":       func(c *RoundConfig) { c.Selection.Method = Method{} },
		"both methods":    func(c *RoundConfig) { c.Selection.Method.Percent = &Percent{Pct: 10} },
		"fixed over 100":  func(c *RoundConfig) { c.Selection.Method.Fixed = []uint8{70, 40} },
		"zero fixed":      func(c *RoundConfig) { c.Selection.Method.Fixed = []uint8{0} },
		"percent over 100": func(c *RoundConfig) {
			c.Selection.Method = Method{Percent: &Percent{Pct: 101}}
		},
		"royalties over 100": func(c *RoundConfig) {
			c.Royalties = []Royalty{{Wallet: "a", Pct: 60}, {Wallet: "b", Pct: 41}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg = valid()
	cfg.Token = token.Token{}
	require.ErrorIs(t, cfg.Validate(), ErrUnknownToken)
}

func TestAllocate_RoyaltiesBeyondPot(t *testing.T) {
	round := closedRound(100, 10, Method{Fixed: []uint8{100}}, Royalty{Wallet: "house", Pct: 60}, Royalty{Wallet: "dev", Pct: 60})
	_, err := Allocate(round, []Winner{{Wallet: "bob"}}, nil, nil)
	require.ErrorIs(t, err, ErrConservation)
}

func TestDraw_TooManyPositions(t *testing.T) {
	round := closedRound(1, 1<<33, Method{Percent: &Percent{Pct: 100}})
	round.Config.Selection.WithReplacement = true
	round.Players = []Player{{Wallet: "whale", TicketCount: 1 << 33}}

	state := &State{}
	tr := &transition{engine: NewEngine(state, nil), state: state}
	_, err := tr.draw(round)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	require.Zero(t, round.Counts.Drawings)
}
