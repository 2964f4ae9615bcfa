package cow

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Volume-level records (superblock, snapshot catalog) are CBOR with core
// deterministic encoding so identical state always produces identical
// bytes. Per-object records are XDR: fixed layout, cheap to decode on the
// hot path.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cow: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cow: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func marshalXDR(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func unmarshalXDR(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("xdr decode %T: %w", v, err)
	}
	return nil
}
