package bridge

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Messages cross the boundary as CBOR so neither side can hold a reference
// into the other's memory.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Row values are read back as float64; keep floats at full width.
	encOptions.ShortestFloat = cbor.ShortestFloatNone
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Column and bind values decode into any. SQLite integers are
		// signed, so never hand back uint64.
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Endpoint is one side of the boundary. A side only ever closes its own Out.
type Endpoint struct {
	In  <-chan []byte
	Out chan<- []byte
}

// Pipe returns the two connected ends of a boundary. Messages sent on one
// end arrive on the other in send order.
func Pipe(buffer int) (client, worker Endpoint) {
	requests := make(chan []byte, buffer)
	responses := make(chan []byte, buffer)
	return Endpoint{In: responses, Out: requests}, Endpoint{In: requests, Out: responses}
}
