// Package sign implements the request signature used by the token endpoints
// of the thisav and av.gl players.
package sign

import (
	"math/big"
)

// DefaultKey is the XOR key applied by the players.
const DefaultKey byte = 0x7B

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var base = big.NewInt(int64(len(alphabet)))

// Sign signs value with DefaultKey.
func Sign(value string) string {
	return SignWithKey(value, DefaultKey)
}

// SignWithKey XORs every UTF-8 byte of value with key, reads the result as a
// big-endian unsigned integer and renders it in base 62.
func SignWithKey(value string, key byte) string {
	data := []byte(value)
	for i := range data {
		data[i] ^= key
	}

	num := new(big.Int).SetBytes(data)
	if num.Sign() == 0 {
		return alphabet[:1]
	}

	var (
		out []byte
		rem = new(big.Int)
	)
	for num.Sign() > 0 {
		num.DivMod(num, base, rem)
		out = append(out, alphabet[rem.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
