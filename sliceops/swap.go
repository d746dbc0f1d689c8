// Package sliceops holds byte slice helpers shared by the wire codecs.
package sliceops

// SwapBuf returns a reversed copy of in. Bluetooth puts multi-octet values
// on the wire least significant octet first.
func SwapBuf(in []byte) []byte {
	a := make([]byte, len(in))
	for i, v := range in {
		a[len(in)-1-i] = v
	}
	return a
}
