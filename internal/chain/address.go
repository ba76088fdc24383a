package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// ErrInvalidAddress indicates an address that does not decode for the coin.
var ErrInvalidAddress = errors.New("invalid address")

// DecodeAddress decodes an address and checks it belongs to the coin's network.
func (c *Coin) DecodeAddress(address string) (btcutil.Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	addr, err := btcutil.DecodeAddress(address, c.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if !addr.IsForNet(c.Params) {
		return nil, fmt.Errorf("%w: not a %s address", ErrInvalidAddress, c.ID)
	}
	return addr, nil
}

// PayToAddress returns the output script paying to an address of the coin.
func (c *Coin) PayToAddress(address string) ([]byte, error) {
	addr, err := c.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return script, nil
}
