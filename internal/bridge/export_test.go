package bridge

// DecodeRequest decodes a message read from a worker endpoint.
func DecodeRequest(msg []byte) (Request, bool) {
	var req Request
	if err := unmarshal(msg, &req); err != nil {
		return Request{}, false
	}
	return req, true
}

// EncodeResponse encodes resp for a worker endpoint. It panics on failure.
func EncodeResponse(resp Response) []byte {
	data, err := marshal(resp)
	if err != nil {
		panic(err)
	}
	return data
}

// EncodeRequest encodes req for a client endpoint. It panics on failure.
func EncodeRequest(req Request) []byte {
	data, err := marshal(req)
	if err != nil {
		panic(err)
	}
	return data
}
