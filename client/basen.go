package client

import "math/big"

const alphabetBase62 = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var basenZero big.Int

// baseNEncoder encodes arbitrary bytes into an arbitrary-base alphabet.
// Used to shorten operation ids for logs.
type baseNEncoder struct {
	alphabet string
}

func newBaseNEncoder(alphabet string) *baseNEncoder {
	return &baseNEncoder{alphabet}
}

func (e *baseNEncoder) Encode(data []byte) string {
	var value big.Int

	value.SetBytes(data)

	baseInt64 := int64(len(e.alphabet))

	var base big.Int

	result := []byte{}

	for value.Cmp(&basenZero) != 0 {
		base.SetInt64(baseInt64)
		_, remainder := value.DivMod(&value, &base, &base)
		result = append(result, e.alphabet[remainder.Int64()])
	}

	return string(result)
}
