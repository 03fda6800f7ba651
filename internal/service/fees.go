package service

// Transfer fee tiers. Each ceiling is the largest net amount the fee covers;
// the requested amount is gross, so a tier applies while requested-fee fits.
var transferFeeTiers = []struct {
	ceiling int64
	fee     int64
}{
	{ceiling: 5000, fee: 10},
	{ceiling: 50000, fee: 25},
}

const transferFeeTop = 50

// TransferAmount splits a requested payout into the amount to send and the
// flat fee withheld for the processor. send+fee always equals requested.
func TransferAmount(requested int64) (send, fee int64) {
	if requested <= 0 {
		return 0, 0
	}
	fee = transferFeeTop
	for _, t := range transferFeeTiers {
		if requested-t.fee <= t.ceiling {
			fee = t.fee
			break
		}
	}
	if fee >= requested {
		return 0, requested
	}
	return requested - fee, fee
}
