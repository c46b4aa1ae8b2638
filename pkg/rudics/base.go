// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rudics

import "fmt"

// convertBase re-expresses the big-endian digit string src (each digit < from)
// as a big-endian digit string in base to. Leading zero digits are carried
// over one-for-one so that the conversion is length-preserving at the top end
// and exactly invertible.
func convertBase(src []byte, from, to int) ([]byte, error) {
	zeros := 0
	for zeros < len(src) && src[zeros] == 0 {
		zeros++
	}

	num := make([]byte, 0, len(src)-zeros)
	for _, d := range src[zeros:] {
		if int(d) >= from {
			return nil, fmt.Errorf("%w: digit %d in base %d", ErrBadDigitBase, d, from)
		}
		num = append(num, d)
	}

	// Repeated long division; remainders come out least significant first
	var out []byte
	for len(num) > 0 {
		rem := 0
		quotient := num[:0]
		for _, d := range num {
			acc := rem*from + int(d)
			q := acc / to
			rem = acc % to
			if len(quotient) > 0 || q != 0 {
				quotient = append(quotient, byte(q))
			}
		}
		out = append(out, byte(rem))
		num = quotient
	}

	result := make([]byte, zeros, zeros+len(out))
	for i := len(out) - 1; i >= 0; i-- {
		result = append(result, out[i])
	}
	return result, nil
}
