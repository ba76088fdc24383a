package cli

import (
	"fmt"
	"io"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/output"
	"github.com/mrz1836/keyward/pkg/recovery"
)

// recoveryReport is a recovery as shown to the operator. JSON output is the
// result itself; text output summarizes inputs, outputs and fees and prints
// what to do with the transaction.
type recoveryReport struct {
	*recovery.Result

	coin     *chain.Coin
	outPath  string    // where the offline bundle or result was written
	warnings io.Writer // receives warnings in text mode
}

// RenderText implements output.TextRenderer.
func (r *recoveryReport) RenderText(w io.Writer) error {
	coin, fees := r.coin, r.Fees

	out(w, "Recovery:  %s (%s)\n", r.Policy, r.Coin)
	out(w, "Scanned:   %d addresses, %d unspents, %s %s\n",
		r.AddressesScanned, len(r.Unspents), coin.FormatAmount(fees.TotalInput), coin.ID)
	outln(w)

	inputs := output.NewTable("CHAIN", "INDEX", "ADDRESS", "VALUE").AlignRight(1, 3)
	for _, u := range r.Unspents {
		inputs.AddRow(u.Chain.String(), fmt.Sprint(u.Index), u.Address, coin.FormatAmount(u.Value))
	}
	if err := inputs.Render(w); err != nil {
		return err
	}
	outln(w)

	outputs := output.NewTable("OUTPUT", "VALUE").AlignRight(1)
	for _, o := range r.Outputs {
		outputs.AddRow(o.Address, coin.FormatAmount(o.Value))
	}
	if err := outputs.Render(w); err != nil {
		return err
	}
	outln(w)

	rate := fmt.Sprintf("%d/vB", fees.FeePerByte)
	if fees.FeeRateFallback {
		rate += " (fallback)"
	}
	out(w, "Network fee: %s (%d vB at %s)\n", coin.FormatAmount(fees.NetworkFee), fees.VirtualSize, rate)
	if fees.KrsFee > 0 {
		out(w, "Service fee: %s\n", coin.FormatAmount(fees.KrsFee))
	}
	out(w, "TxID:        %s\n", r.TxID)
	if r.Verification.Status != recovery.VerificationNotApplicable {
		out(w, "Verified:    %s\n", r.Verification.Status)
	}
	outln(w)

	switch {
	case r.Complete():
		out(w, "Signed transaction:\n%s\n", r.TxHex)
	case r.Bundle != nil && r.outPath != "":
		out(w, "Offline signing bundle written to %s\n", r.outPath)
	case r.Bundle != nil:
		out(w, "Unsigned transaction:\n%s\n", r.TxHex)
	default:
		out(w, "Half-signed PSBT for the key recovery service:\n%s\n", r.PSBT)
	}

	if r.warnings != nil {
		for _, warning := range r.Warnings {
			output.Warn(r.warnings, "%s", warning)
		}
	}
	return nil
}
