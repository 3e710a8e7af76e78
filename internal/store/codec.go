// SPDX-License-Identifier: MIT

package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Lock payloads leave the process (redis), so they use deterministic CBOR:
// the same LockRecord always encodes to the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor decoder: %v", err))
	}
}

func marshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
