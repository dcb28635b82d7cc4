package chain

import (
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
)

const (
	// NativeDenom is the only native token custody can pay out, in nanotons.
	NativeDenom = "ton"

	jettonTransferOp = 0x0f8a7ea5
)

// NativeMessage pays amount nanotons to recipient.
func NativeMessage(recipient ton.AccountID, amount uint64) wallet.Message {
	return wallet.Message{
		Amount:  tlb.Grams(amount),
		Address: recipient,
		Bounce:  false,
		Mode:    wallet.DefaultMessageMode,
	}
}

// JettonTransferBody builds a TEP-74 transfer asking the custody jetton wallet
// to move amount to destination; excess gas returns to responseTo.
func JettonTransferBody(queryID, amount uint64, destination, responseTo ton.AccountID, forwardTon uint64) (*boc.Cell, error) {
	cell := boc.NewCell()

	if err := cell.WriteUint(jettonTransferOp, 32); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(queryID, 64); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, tlb.Grams(amount)); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, destination.ToMsgAddress()); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, responseTo.ToMsgAddress()); err != nil {
		return nil, err
	}
	// no custom payload
	if err := cell.WriteBit(false); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, tlb.Grams(forwardTon)); err != nil {
		return nil, err
	}
	// empty inline forward payload
	if err := cell.WriteBit(false); err != nil {
		return nil, err
	}
	return cell, nil
}

// JettonMessage carries a transfer body to the custody's own jetton wallet,
// attaching gas for the transfer.
func JettonMessage(jettonWallet ton.AccountID, gas uint64, body *boc.Cell) wallet.Message {
	return wallet.Message{
		Amount:  tlb.Grams(gas),
		Address: jettonWallet,
		Bounce:  true,
		Mode:    wallet.DefaultMessageMode,
		Body:    body,
	}
}
