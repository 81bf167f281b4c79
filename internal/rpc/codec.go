package rpc

import "encoding/json"

// jsonCodec replaces connect's default protobuf-backed "json" codec with a
// plain encoding/json one, since the fabric's RPC surface is hand-modeled
// request/response structs (spec §6) rather than generated proto messages.
// Grounded on connectutil's manual (non-codegen) use of connect.Interceptor;
// this extends the same "use the library, skip the generator" approach to
// the codec.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
