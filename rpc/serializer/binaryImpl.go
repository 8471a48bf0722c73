package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dps/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	MsgType (1) | flags (2) | present fields in flag order
//
// Strings and byte slices are prefixed with their uint32 length, Keys with its
// uint32 element count. Ok lives in the flags only.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasNamespace uint16 = 1 << iota
	hasKey
	hasTTL
	hasValue
	hasKeys
	hasNumber
	hasOk
	hasErr // followed by the one byte error code
	hasMeta
)

const headerLen = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerLen

	putBytes := func(data []byte) {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(data)))
		pos += 4
		pos += copy(result[pos:], data)
	}
	putString := func(s string) {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(s)))
		pos += 4
		pos += copy(result[pos:], s)
	}

	if msg.Namespace != "" {
		flags |= hasNamespace
		putString(msg.Namespace)
	}
	if msg.Key != "" {
		flags |= hasKey
		putString(msg.Key)
	}
	if msg.TTL > 0 {
		flags |= hasTTL
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.TTL)
		pos += 8
	}
	if msg.Value != nil {
		flags |= hasValue
		putBytes(msg.Value)
	}
	if msg.Keys != nil {
		flags |= hasKeys
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Keys)))
		pos += 4
		for _, k := range msg.Keys {
			putString(k)
		}
	}
	if msg.Number > 0 {
		flags |= hasNumber
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Number)
		pos += 8
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		putString(msg.Err)
		result[pos] = byte(msg.Code)
		pos++
	}
	if msg.Meta != nil {
		flags |= hasMeta
		putBytes(msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerLen {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerLen}

	var err error
	if flags&hasNamespace != 0 {
		if msg.Namespace, err = r.readString("namespace"); err != nil {
			return err
		}
	}
	if flags&hasKey != 0 {
		if msg.Key, err = r.readString("key"); err != nil {
			return err
		}
	}
	if flags&hasTTL != 0 {
		if msg.TTL, err = r.readUint64("ttl"); err != nil {
			return err
		}
	}
	if flags&hasValue != 0 {
		if msg.Value, err = r.readBytes("value"); err != nil {
			return err
		}
	}
	if flags&hasKeys != 0 {
		n, err := r.readUint32("key count")
		if err != nil {
			return err
		}
		// every key needs at least its length prefix
		if int(n) > (len(data)-r.pos)/4 {
			return fmt.Errorf("data too short for %d keys", n)
		}
		msg.Keys = make([]string, n)
		for i := range msg.Keys {
			if msg.Keys[i], err = r.readString("keys"); err != nil {
				return err
			}
		}
	}
	if flags&hasNumber != 0 {
		if msg.Number, err = r.readUint64("number"); err != nil {
			return err
		}
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasErr != 0 {
		if msg.Err, err = r.readString("error"); err != nil {
			return err
		}
		code, err := r.readByte("error code")
		if err != nil {
			return err
		}
		msg.Code = common.ErrCode(code)
	}
	if flags&hasMeta != 0 {
		if msg.Meta, err = r.readBytes("meta"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerLen

	if msg.Namespace != "" {
		size += 4 + len(msg.Namespace)
	}
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.TTL > 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Keys != nil {
		size += 4
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Number > 0 {
		size += 8
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) + 1
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}

// reader reads length prefixed fields and reports which field was truncated
type reader struct {
	data []byte
	pos  int
}

func (r *reader) need(n int, field string) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("data too short for %s", field)
	}
	return nil
}

func (r *reader) readByte(field string) (byte, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) readUint32(field string) (uint32, error) {
	if err := r.need(4, field+" length"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) readUint64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// readBytes returns an owned copy, empty (not nil) for zero length
func (r *reader) readBytes(field string) ([]byte, error) {
	n, err := r.readUint32(field)
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n), field+" data"); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

func (r *reader) readString(field string) (string, error) {
	n, err := r.readUint32(field)
	if err != nil {
		return "", err
	}
	if err := r.need(int(n), field+" data"); err != nil {
		return "", err
	}
	v := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}
