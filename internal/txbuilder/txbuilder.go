// Package txbuilder assembles the recovery transaction from discovered
// unspents, signs it in policy order and finalizes it for broadcast.
//
// A Transaction wraps a PSBT. Partial signatures are kept in the PSBT so a
// half-signed transaction can be handed to a key recovery service and an
// unsigned one can be exported as an offline signing bundle.
package txbuilder

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/discovery"
	"github.com/mrz1836/keyward/internal/wallet"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// TxVersion is the version of recovery transactions.
const TxVersion = 2

// Errors returned while signing and finalizing.
var (
	ErrAlreadyFinal       = errors.New("transaction is already finalized")
	ErrMissingSignature   = errors.New("input lacks the signatures needed to finalize")
	ErrMissingDerivation  = errors.New("unspent has no derived script material")
	ErrRoleCannotSign     = errors.New("role has no private key")
	ErrNotFinal           = errors.New("transaction is not finalized")
	ErrUnexpectedSigner   = errors.New("role is not a recovery signer")
	ErrDuplicateSignature = errors.New("role has already signed")
)

// Output is a payment made by the recovery transaction.
type Output struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// Params describes the transaction to build.
type Params struct {
	Coin     *chain.Coin
	Unspents []discovery.WalletUnspent
	Keys     *wallet.RootKeys

	Destination string
	Amount      int64

	// FeeAddress receives FeeAmount when both are set.
	FeeAddress string
	FeeAmount  int64

	// PrevTxs holds funding transactions keyed by txid. Legacy p2sh inputs
	// found here carry the full transaction as their non-witness UTXO.
	PrevTxs map[string]*wire.MsgTx
}

// Transaction is a recovery transaction moving through the signing states
// unsigned, half-signed and final.
type Transaction struct {
	coin     *chain.Coin
	keys     *wallet.RootKeys
	packet   *psbt.Packet
	unspents []discovery.WalletUnspent
	outputs  []Output

	fetcher   *txscript.MultiPrevOutFetcher
	sigHashes *txscript.TxSigHashes

	signers []wallet.Role
	final   *wire.MsgTx
}

// Build creates an unsigned transaction spending every unspent.
func Build(p Params) (*Transaction, error) {
	if len(p.Unspents) == 0 {
		return nil, kwerr.ErrNoFundsFound
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: recovery amount %d", kwerr.ErrInvalidInput, p.Amount)
	}

	tx := wire.NewMsgTx(TxVersion)
	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(p.Unspents)))

	for _, u := range p.Unspents {
		if u.Derived == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDerivation, u.ID)
		}
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: unspent %s: %w", kwerr.ErrInvalidTransaction, u.ID, err)
		}
		op := wire.NewOutPoint(hash, u.Vout)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		fetcher.AddPrevOut(*op, wire.NewTxOut(u.Value, u.Derived.Script.PkScript))
	}

	outputs := []Output{{Address: p.Destination, Value: p.Amount}}
	if p.FeeAddress != "" && p.FeeAmount > 0 {
		outputs = append(outputs, Output{Address: p.FeeAddress, Value: p.FeeAmount})
	}
	for i, o := range outputs {
		script, err := p.Coin.PayToAddress(o.Address)
		if err != nil {
			sentinel := kwerr.ErrInvalidDestinationAddress
			if i > 0 {
				sentinel = kwerr.ErrConfigInvalid
			}
			return nil, kwerr.WithDetails(kwerr.WithCause(sentinel, err), map[string]string{
				"address": o.Address,
				"coin":    p.Coin.ID.String(),
			})
		}
		if o.Value < p.Coin.DustLimit {
			return nil, kwerr.WithDetails(kwerr.ErrInsufficientRecoveryBalance, map[string]string{
				"output":     strconv.Itoa(i),
				"value":      strconv.FormatInt(o.Value, 10),
				"dust_limit": strconv.FormatInt(p.Coin.DustLimit, 10),
			})
		}
		tx.AddTxOut(wire.NewTxOut(o.Value, script))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kwerr.ErrInvalidTransaction, err)
	}

	t := &Transaction{
		coin:      p.Coin,
		keys:      p.Keys,
		packet:    packet,
		unspents:  append([]discovery.WalletUnspent(nil), p.Unspents...),
		outputs:   outputs,
		fetcher:   fetcher,
		sigHashes: txscript.NewTxSigHashes(tx, fetcher),
	}
	for i, u := range t.unspents {
		t.describeInput(i)
		if u.Derived.ScriptType.IsSegwit() {
			continue
		}
		prev := p.PrevTxs[u.TxID]
		if prev == nil {
			continue
		}
		if err := checkPrevTx(prev, u); err != nil {
			return nil, err
		}
		packet.Inputs[i].NonWitnessUtxo = prev
	}
	return t, nil
}

// checkPrevTx confirms that prev is the transaction that created u.
func checkPrevTx(prev *wire.MsgTx, u discovery.WalletUnspent) error {
	if got := prev.TxHash().String(); got != u.TxID {
		return fmt.Errorf("%w: previous transaction %s supplied for %s", kwerr.ErrInvalidTransaction, got, u.ID)
	}
	if int(u.Vout) >= len(prev.TxOut) {
		return fmt.Errorf("%w: previous transaction has no output %d", kwerr.ErrInvalidTransaction, u.Vout)
	}
	out := prev.TxOut[u.Vout]
	if out.Value != u.Value || !bytes.Equal(out.PkScript, u.Derived.Script.PkScript) {
		return fmt.Errorf("%w: previous output of %s does not match the unspent", kwerr.ErrInvalidTransaction, u.ID)
	}
	return nil
}

// describeInput fills the PSBT input with what a signer needs: the spent
// output, the scripts and the key derivations.
func (t *Transaction) describeInput(i int) {
	u := t.unspents[i]
	d := u.Derived
	in := &t.packet.Inputs[i]

	in.WitnessUtxo = wire.NewTxOut(u.Value, d.Script.PkScript)

	if d.ScriptType.IsTaproot() {
		in.SighashType = txscript.SigHashDefault
		in.TaprootInternalKey = d.Script.InternalKey
		in.TaprootMerkleRoot = d.Script.MerkleRoot
		in.TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
			ControlBlock: d.Script.ControlBlock,
			Script:       d.Script.TapLeafScript,
			LeafVersion:  txscript.BaseLeafVersion,
		}}
		if t.keys == nil {
			return
		}
		for _, role := range []wallet.Role{wallet.RoleUser, wallet.RoleBackup} {
			in.TaprootBip32Derivation = append(in.TaprootBip32Derivation, &psbt.TaprootBip32Derivation{
				XOnlyPubKey:          schnorr.SerializePubKey(d.PubKeys[roleIndex(role)]),
				LeafHashes:           [][]byte{d.Script.TapLeafHash},
				MasterKeyFingerprint: t.keys.Fingerprint(role),
				Bip32Path:            t.keys.Path(role, u.Derived.Chain, u.Derived.Index),
			})
		}
		return
	}

	in.SighashType = txscript.SigHashAll
	in.RedeemScript = d.Script.RedeemScript
	in.WitnessScript = d.Script.WitnessScript
	if t.keys == nil {
		return
	}
	for _, role := range wallet.Roles() {
		in.Bip32Derivation = append(in.Bip32Derivation, &psbt.Bip32Derivation{
			PubKey:               d.PubKeys[roleIndex(role)].SerializeCompressed(),
			MasterKeyFingerprint: t.keys.Fingerprint(role),
			Bip32Path:            t.keys.Path(role, u.Derived.Chain, u.Derived.Index),
		})
	}
}

// Packet returns the underlying PSBT.
func (t *Transaction) Packet() *psbt.Packet {
	return t.packet
}

// Unspents returns the consumed unspents in input order.
func (t *Transaction) Unspents() []discovery.WalletUnspent {
	return t.unspents
}

// Outputs returns the payments in output order.
func (t *Transaction) Outputs() []Output {
	return t.outputs
}

// Signers returns the roles that have signed, in signing order.
func (t *Transaction) Signers() []wallet.Role {
	return append([]wallet.Role(nil), t.signers...)
}

// IsFinal reports whether every input carries a complete spend.
func (t *Transaction) IsFinal() bool {
	return t.final != nil
}

// UnsignedTx returns the transaction template without signatures.
func (t *Transaction) UnsignedTx() *wire.MsgTx {
	return t.packet.UnsignedTx
}

// UnsignedHex returns the serialized unsigned transaction.
func (t *Transaction) UnsignedHex() (string, error) {
	return serializeHex(t.packet.UnsignedTx)
}

// PSBTBase64 returns the base64 PSBT including any partial signatures.
func (t *Transaction) PSBTBase64() (string, error) {
	return t.packet.B64Encode()
}

// SignedTx returns the finalized transaction.
func (t *Transaction) SignedTx() (*wire.MsgTx, error) {
	if t.final == nil {
		return nil, ErrNotFinal
	}
	return t.final, nil
}

// Hex returns the serialized finalized transaction.
func (t *Transaction) Hex() (string, error) {
	tx, err := t.SignedTx()
	if err != nil {
		return "", err
	}
	return serializeHex(tx)
}

// TxID returns the id of the finalized transaction, or of the unsigned
// template before finalization. The two agree for all-segwit inputs.
func (t *Transaction) TxID() string {
	if t.final != nil {
		return t.final.TxHash().String()
	}
	return t.packet.UnsignedTx.TxHash().String()
}

// TotalInput returns the sum of the spent values.
func (t *Transaction) TotalInput() int64 {
	var total int64
	for _, u := range t.unspents {
		total += u.Value
	}
	return total
}

func serializeHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func roleIndex(role wallet.Role) int {
	for i, r := range wallet.Roles() {
		if r == role {
			return i
		}
	}
	return -1
}
