package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dps/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding. Message
// types are written by name, byte slices as base64.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Deserialize resets msg first, omitted fields must not keep stale values
func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return json.Unmarshal(b, msg)
}
