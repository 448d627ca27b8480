package referential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compressToUTF16 mirrors lz-string's own compressToUTF16 (bitsPerChar
// 15, char offset 32), the exact inverse of decompressFromUTF16. This
// mirror exists solely so the tests below can produce known-good
// compressed blobs to decode, the same way the vendor's own JS client
// would have produced them.
type lzBitWriter struct {
	val      int
	position int
	out      []int
}

func (w *lzBitWriter) writeBits(count, value int) {
	for i := 0; i < count; i++ {
		bit := value & 1
		value >>= 1
		w.val = (w.val << 1) | bit
		if w.position == 14 {
			w.out = append(w.out, w.val)
			w.val = 0
			w.position = 0
		} else {
			w.position++
		}
	}
}

func (w *lzBitWriter) flush() {
	for {
		w.val = w.val << 1
		if w.position == 14 {
			w.out = append(w.out, w.val)
			return
		}
		w.position++
	}
}

func compressToUTF16(input string) string {
	if input == "" {
		return ""
	}

	dictionary := make(map[string]int)
	dictionaryToCreate := make(map[string]bool)
	dictSize := 3
	numBits := 2
	enlargeIn := 2

	w := &lzBitWriter{}

	emitToken := func(token string) {
		if dictionaryToCreate[token] {
			r := []rune(token)[0]
			if r < 256 {
				w.writeBits(numBits, 0)
				w.writeBits(8, int(r))
			} else {
				w.writeBits(numBits, 1)
				w.writeBits(16, int(r))
			}
			enlargeIn--
			if enlargeIn == 0 {
				enlargeIn = 1 << uint(numBits)
				numBits++
			}
			delete(dictionaryToCreate, token)
		} else {
			w.writeBits(numBits, dictionary[token])
		}
		enlargeIn--
		if enlargeIn == 0 {
			enlargeIn = 1 << uint(numBits)
			numBits++
		}
	}

	var cw string
	for _, r := range input {
		c := string(r)
		if _, ok := dictionary[c]; !ok {
			dictionary[c] = dictSize
			dictSize++
			dictionaryToCreate[c] = true
		}

		wc := cw + c
		if _, ok := dictionary[wc]; ok {
			cw = wc
			continue
		}

		emitToken(cw)
		dictionary[wc] = dictSize
		dictSize++
		cw = c
	}

	if cw != "" {
		emitToken(cw)
	}

	w.writeBits(numBits, 2) // end-of-stream marker
	w.flush()

	out := make([]rune, len(w.out))
	for i, v := range w.out {
		out[i] = rune(v + 32)
	}
	return string(out) + " "
}

func TestDecompressFromUTF16_RoundTripsShortString(t *testing.T) {
	for _, plaintext := range []string{"a", "ab", "aaaa", "abcabcabc"} {
		compressed := compressToUTF16(plaintext)
		decoded, ok := decompressFromUTF16(compressed)
		require.True(t, ok, "plaintext %q", plaintext)
		assert.Equal(t, plaintext, decoded, "plaintext %q", plaintext)
	}
}

func TestDecompressFromUTF16_RoundTripsReferentialJSON(t *testing.T) {
	plaintext := `[{"index":"15","value":"mode_used"},{"index":"16","value":"setpoint_h_normal"},{"index":"34","value":"ring_function"}]`

	compressed := compressToUTF16(plaintext)
	decoded, ok := decompressFromUTF16(compressed)
	require.True(t, ok)
	assert.Equal(t, plaintext, decoded)
}

func TestDecompressFromUTF16_EmptyStringIsEmpty(t *testing.T) {
	decoded, ok := decompressFromUTF16("")
	require.True(t, ok)
	assert.Equal(t, "", decoded)
}

func TestDecompressFromUTF16_UnrecognisedLeadTokenFailsCleanly(t *testing.T) {
	// A single character whose top two bits (the leading token
	// selector) are both 1 decodes to the unused value 3, which
	// decompressFromUTF16 must reject rather than panic on.
	garbage := string(rune(24576 + 32))
	_, ok := decompressFromUTF16(garbage)
	assert.False(t, ok)
}
