package wallet

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mrz1836/keyward/internal/chain"
)

// ErrUnsupportedScriptType is returned for a script type the coin cannot derive.
var ErrUnsupportedScriptType = errors.New("unsupported script type")

// ScriptMaterial is everything needed to fund and later spend one wallet output.
type ScriptMaterial struct {
	PkScript      []byte
	RedeemScript  []byte // p2sh and p2shP2wsh
	WitnessScript []byte // p2shP2wsh and p2wsh

	// Taproot script-path spend through the user+backup leaf.
	TapLeafScript []byte
	TapLeafHash   []byte
	ControlBlock  []byte
	InternalKey   []byte // x-only
	MerkleRoot    []byte
}

// DerivedAddress is a 2-of-3 wallet address at a (chain, index) position.
type DerivedAddress struct {
	Address    string
	ScriptType chain.ScriptType
	Chain      uint32
	Index      uint32
	PubKeys    [3]*btcec.PublicKey // user, backup, bitgo
	Script     ScriptMaterial
}

// DeriveAddress derives the wallet address and its spend scripts for a
// script type at (chain, index). The result depends only on its inputs.
func (k *RootKeys) DeriveAddress(coin *chain.Coin, st chain.ScriptType, chainCode, index uint32) (*DerivedAddress, error) {
	if !coin.Supports(st) {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedScriptType, st, coin.ID)
	}

	pubs, err := k.PublicKeys(chainCode, index)
	if err != nil {
		return nil, err
	}

	addr, material, err := BuildScripts(st, pubs, coin.Params)
	if err != nil {
		return nil, err
	}

	return &DerivedAddress{
		Address:    addr.EncodeAddress(),
		ScriptType: st,
		Chain:      chainCode,
		Index:      index,
		PubKeys:    pubs,
		Script:     material,
	}, nil
}

// BuildScripts builds the output script, the address and the spend scripts
// for three public keys in user, backup, bitgo order.
func BuildScripts(st chain.ScriptType, pubs [3]*btcec.PublicKey, params *chaincfg.Params) (btcutil.Address, ScriptMaterial, error) {
	var material ScriptMaterial

	switch st {
	case chain.ScriptP2SH:
		ms, err := MultisigScript(pubs)
		if err != nil {
			return nil, material, err
		}
		addr, err := btcutil.NewAddressScriptHash(ms, params)
		if err != nil {
			return nil, material, fmt.Errorf("p2sh address: %w", err)
		}
		material.RedeemScript = ms
		return finishAddress(addr, material)

	case chain.ScriptP2SHP2WSH, chain.ScriptP2WSH:
		ms, err := MultisigScript(pubs)
		if err != nil {
			return nil, material, err
		}
		material.WitnessScript = ms
		h := sha256.Sum256(ms)

		if st == chain.ScriptP2WSH {
			addr, err := btcutil.NewAddressWitnessScriptHash(h[:], params)
			if err != nil {
				return nil, material, fmt.Errorf("p2wsh address: %w", err)
			}
			return finishAddress(addr, material)
		}

		redeem, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(h[:]).Script()
		if err != nil {
			return nil, material, fmt.Errorf("p2shP2wsh redeem script: %w", err)
		}
		addr, err := btcutil.NewAddressScriptHash(redeem, params)
		if err != nil {
			return nil, material, fmt.Errorf("p2shP2wsh address: %w", err)
		}
		material.RedeemScript = redeem
		return finishAddress(addr, material)

	case chain.ScriptP2TR, chain.ScriptP2TRMusig2:
		return taprootScripts(st, pubs, params)

	default:
		return nil, material, fmt.Errorf("%w: %s", ErrUnsupportedScriptType, st)
	}
}

// MultisigScript returns OP_2 <user> <backup> <bitgo> OP_3 OP_CHECKMULTISIG.
func MultisigScript(pubs [3]*btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_2)
	for _, pub := range pubs {
		b.AddData(pub.SerializeCompressed())
	}
	script, err := b.AddOp(txscript.OP_3).AddOp(txscript.OP_CHECKMULTISIG).Script()
	if err != nil {
		return nil, fmt.Errorf("multisig script: %w", err)
	}
	return script, nil
}

// TapLeafScript returns <a> OP_CHECKSIGVERIFY <b> OP_CHECKSIG over x-only keys.
func TapLeafScript(a, b *btcec.PublicKey) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(a)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddData(schnorr.SerializePubKey(b)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, fmt.Errorf("tap leaf script: %w", err)
	}
	return script, nil
}

// taprootScripts builds the script tree for the taproot wallet types. The
// internal key is the MuSig2 aggregate of the user and bitgo keys, so the
// key path needs the co-signer; recovery always spends the user+backup leaf.
func taprootScripts(st chain.ScriptType, pubs [3]*btcec.PublicKey, params *chaincfg.Params) (btcutil.Address, ScriptMaterial, error) {
	var material ScriptMaterial
	user, backup, bitgo := pubs[0], pubs[1], pubs[2]

	pairs := [][2]*btcec.PublicKey{{user, backup}, {backup, bitgo}}
	recoveryLeaf := 0
	if st == chain.ScriptP2TR {
		pairs = [][2]*btcec.PublicKey{{user, bitgo}, {user, backup}, {backup, bitgo}}
		recoveryLeaf = 1
	}

	leaves := make([]txscript.TapLeaf, 0, len(pairs))
	for _, p := range pairs {
		script, err := TapLeafScript(p[0], p[1])
		if err != nil {
			return nil, material, err
		}
		leaves = append(leaves, txscript.NewBaseTapLeaf(script))
	}

	agg, _, _, err := musig2.AggregateKeys([]*btcec.PublicKey{user, bitgo}, false)
	if err != nil {
		return nil, material, fmt.Errorf("aggregate internal key: %w", err)
	}
	internal := agg.PreTweakedKey

	tree := txscript.AssembleTaprootScriptTree(leaves...)
	root := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internal, root[:])

	proof := tree.LeafMerkleProofs[recoveryLeaf]
	cb := proof.ToControlBlock(internal)
	cbBytes, err := cb.ToBytes()
	if err != nil {
		return nil, material, fmt.Errorf("control block: %w", err)
	}

	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params)
	if err != nil {
		return nil, material, fmt.Errorf("taproot address: %w", err)
	}

	leafHash := proof.TapLeaf.TapHash()
	material.TapLeafScript = proof.TapLeaf.Script
	material.TapLeafHash = leafHash[:]
	material.ControlBlock = cbBytes
	material.InternalKey = schnorr.SerializePubKey(internal)
	material.MerkleRoot = root[:]
	return finishAddress(addr, material)
}

func finishAddress(addr btcutil.Address, material ScriptMaterial) (btcutil.Address, ScriptMaterial, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, material, fmt.Errorf("output script: %w", err)
	}
	material.PkScript = pkScript
	return addr, material, nil
}
