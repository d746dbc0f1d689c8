package keys

import (
	"bytes"
	"crypto/aes"

	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/sliceops"
)

// Resolves reports whether the resolvable private address rpa was generated
// from this IRK (Core v5.x Vol 3 Part H 2.2.2, the ah function).
func (k IdentityKey) Resolves(rpa btcontrol.Address) bool {
	if rpa.Kind() != btcontrol.LERandom || len(k.Value) != ValueSize {
		return false
	}

	a := rpa.Bytes()
	if a[0]&0xC0 != 0x40 {
		return false
	}

	// keys arrive little-endian, e() works most significant octet first
	block, err := aes.NewCipher(sliceops.SwapBuf(k.Value))
	if err != nil {
		return false
	}

	var in, out [16]byte
	copy(in[13:], a[0:3])
	block.Encrypt(out[:], in[:])

	return bytes.Equal(out[13:], a[3:6])
}
