// Package schan implements the S-Channel message format: the fixed layout command and response
// messages exchanged with the switch chip's internal command bus.
package schan

import (
	"encoding/binary"
	"fmt"

	"go.viam.com/switchbus/utils"
)

const (
	// MaxWords is the size of the S-Channel message buffer in 32-bit words.
	MaxWords = 22
	// MaxWriteWords is the largest payload a write command can carry (header and address take the
	// first two words).
	MaxWriteWords = MaxWords - 2
	// MaxResponseWords is the largest payload a read response can carry (the header takes the
	// first word).
	MaxResponseWords = MaxWords - 1
	// WordBytes is the width of a message word.
	WordBytes = 4
)

// Opcode is the S-Channel command or acknowledge code carried in bits 31:26 of the header.
type Opcode uint32

// Known opcodes.
const (
	ReadMemoryCmd      Opcode = 0x07
	ReadMemoryAck      Opcode = 0x08
	WriteMemoryCmd     Opcode = 0x09
	WriteMemoryAck     Opcode = 0x0a
	ReadRegisterCmd    Opcode = 0x0b
	ReadRegisterAck    Opcode = 0x0c
	WriteRegisterCmd   Opcode = 0x0d
	WriteRegisterAck   Opcode = 0x0e
	TableInsertCmd     Opcode = 0x24
	TableInsertDoneMsg Opcode = 0x25
	TableDeleteCmd     Opcode = 0x26
	TableDeleteDoneMsg Opcode = 0x27
	TableLookupCmd     Opcode = 0x28
	TableLookupDoneMsg Opcode = 0x29
)

var opcodeNames = map[Opcode]string{
	ReadMemoryCmd:      "READ_MEMORY_CMD",
	ReadMemoryAck:      "READ_MEMORY_ACK",
	WriteMemoryCmd:     "WRITE_MEMORY_CMD",
	WriteMemoryAck:     "WRITE_MEMORY_ACK",
	ReadRegisterCmd:    "READ_REGISTER_CMD",
	ReadRegisterAck:    "READ_REGISTER_ACK",
	WriteRegisterCmd:   "WRITE_REGISTER_CMD",
	WriteRegisterAck:   "WRITE_REGISTER_ACK",
	TableInsertCmd:     "TABLE_INSERT_CMD",
	TableInsertDoneMsg: "TABLE_INSERT_DONE",
	TableDeleteCmd:     "TABLE_DELETE_CMD",
	TableDeleteDoneMsg: "TABLE_DELETE_DONE",
	TableLookupCmd:     "TABLE_LOOKUP_CMD",
	TableLookupDoneMsg: "TABLE_LOOKUP_DONE",
}

var acks = map[Opcode]Opcode{
	ReadMemoryCmd:    ReadMemoryAck,
	WriteMemoryCmd:   WriteMemoryAck,
	ReadRegisterCmd:  ReadRegisterAck,
	WriteRegisterCmd: WriteRegisterAck,
	TableInsertCmd:   TableInsertDoneMsg,
	TableDeleteCmd:   TableDeleteDoneMsg,
	TableLookupCmd:   TableLookupDoneMsg,
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(0x%02x)", uint32(op))
}

// Ack returns the opcode the bus answers a command with. ok is false if op is not a command.
func (op Opcode) Ack() (ack Opcode, ok bool) {
	ack, ok = acks[op]
	return
}

// IsCommand reports whether op is a command that the bus acknowledges.
func (op Opcode) IsCommand() bool {
	_, ok := acks[op]
	return ok
}

// CarriesData reports whether a command with this opcode carries payload words after the address.
// Only for these commands is the header's data length interpreted by the hardware as the amount
// of data to send.
func (op Opcode) CarriesData() bool {
	switch op {
	case WriteMemoryCmd, WriteRegisterCmd, TableInsertCmd, TableDeleteCmd, TableLookupCmd:
		return true
	default:
		return false
	}
}

// Header field positions and widths.
const (
	opcodeShift  = 26
	opcodeMask   = 0x3f
	dstBlkShift  = 19
	dstBlkMask   = 0x7f
	accTypeShift = 14
	accTypeMask  = 0x1f
	dataLenShift = 7
	dataLenMask  = 0x7f
	errShift     = 6
	eCodeShift   = 4
	eCodeMask    = 0x3
	dmaShift     = 3
	bankIDShift  = 1
	bankIDMask   = 0x3
)

// Header is the unpacked form of the first word of every S-Channel message.
type Header struct {
	Opcode  Opcode
	DstBlk  uint32
	AccType uint32
	// DataLen is in bytes.
	DataLen uint32
	Err     bool
	ECode   uint32
	DMA     bool
	BankID  uint32
	Nack    bool
}

// Validate returns an error if any field does not fit in its bit range.
func (h Header) Validate() error {
	switch {
	case uint32(h.Opcode) > opcodeMask:
		return utils.NewParamError("opcode 0x%x does not fit in 6 bits", uint32(h.Opcode))
	case h.DstBlk > dstBlkMask:
		return utils.NewParamError("destination block %d does not fit in 7 bits", h.DstBlk)
	case h.AccType > accTypeMask:
		return utils.NewParamError("access type %d does not fit in 5 bits", h.AccType)
	case h.DataLen > dataLenMask:
		return utils.NewParamError("data length %d does not fit in 7 bits", h.DataLen)
	case h.ECode > eCodeMask:
		return utils.NewParamError("error code %d does not fit in 2 bits", h.ECode)
	case h.BankID > bankIDMask:
		return utils.NewParamError("bank id %d does not fit in 2 bits", h.BankID)
	}
	return nil
}

// Pack returns the wire word for h. Fields are truncated to their widths; call Validate first
// when the inputs are not trusted.
func (h Header) Pack() uint32 {
	w := (uint32(h.Opcode)&opcodeMask)<<opcodeShift |
		(h.DstBlk&dstBlkMask)<<dstBlkShift |
		(h.AccType&accTypeMask)<<accTypeShift |
		(h.DataLen&dataLenMask)<<dataLenShift |
		(h.ECode&eCodeMask)<<eCodeShift |
		(h.BankID&bankIDMask)<<bankIDShift
	if h.Err {
		w |= 1 << errShift
	}
	if h.DMA {
		w |= 1 << dmaShift
	}
	if h.Nack {
		w |= 1
	}
	return w
}

// ParseHeader unpacks a header word.
func ParseHeader(w uint32) Header {
	return Header{
		Opcode:  Opcode((w >> opcodeShift) & opcodeMask),
		DstBlk:  (w >> dstBlkShift) & dstBlkMask,
		AccType: (w >> accTypeShift) & accTypeMask,
		DataLen: (w >> dataLenShift) & dataLenMask,
		Err:     w&(1<<errShift) != 0,
		ECode:   (w >> eCodeShift) & eCodeMask,
		DMA:     w&(1<<dmaShift) != 0,
		BankID:  (w >> bankIDShift) & bankIDMask,
		Nack:    w&1 != 0,
	}
}

func (h Header) String() string {
	return fmt.Sprintf("%v dstblk=%d acctype=%d datalen=%d", h.Opcode, h.DstBlk, h.AccType, h.DataLen)
}

// Message is the physical S-Channel message buffer. A read command uses [header, address], a
// write command [header, address, data...] and a read response [header, data...].
type Message [MaxWords]uint32

// Clear zeroes the whole message.
func (m *Message) Clear() {
	*m = Message{}
}

// Header returns the unpacked header word.
func (m *Message) Header() Header {
	return ParseHeader(m[0])
}

// SetHeader packs h into the header word.
func (m *Message) SetHeader(h Header) {
	m[0] = h.Pack()
}

// Address returns the address word of a command.
func (m *Message) Address() uint32 {
	return m[1]
}

// CommandData returns the payload of a write-type command.
func (m *Message) CommandData(wsize int) []uint32 {
	return m[2 : 2+wsize]
}

// ResponseData returns the payload of a response.
func (m *Message) ResponseData(wsize int) []uint32 {
	return m[1 : 1+wsize]
}

// Words returns the first n raw words of the message. The slice aliases the message.
func (m *Message) Words(n int) []uint32 {
	return m[:n]
}

// SetWords overwrites the leading words of the message with words.
func (m *Message) SetWords(words []uint32) error {
	if len(words) > MaxWords {
		return utils.NewParamError("%d words exceed message size %d", len(words), MaxWords)
	}
	copy(m[:], words)
	return nil
}

// Bytes returns the first n words of the message as little-endian bytes, the representation used
// on byte stream links.
func (m *Message) Bytes(n int) ([]byte, error) {
	if n < 0 || n > MaxWords {
		return nil, utils.NewParamError("%d words exceed message size %d", n, MaxWords)
	}
	buf := make([]byte, 0, n*WordBytes)
	for _, w := range m[:n] {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf, nil
}

// SetBytes overwrites the leading words of the message from little-endian bytes.
func (m *Message) SetBytes(b []byte) error {
	if len(b)%WordBytes != 0 {
		return utils.NewParamError("%d bytes is not a whole number of words", len(b))
	}
	if len(b)/WordBytes > MaxWords {
		return utils.NewParamError("%d words exceed message size %d", len(b)/WordBytes, MaxWords)
	}
	for i := 0; i < len(b)/WordBytes; i++ {
		m[i] = binary.LittleEndian.Uint32(b[i*WordBytes:])
	}
	return nil
}

// CommandWords returns how many words a command occupies on the bus and how many words its
// response occupies, for a payload of wsize words.
func CommandWords(op Opcode, wsize int) (writeWords, readWords int) {
	if op.CarriesData() {
		if op == TableLookupCmd {
			return 2 + wsize, 1 + wsize
		}
		return 2 + wsize, 1
	}
	return 2, 1 + wsize
}

// EncodeCommand builds a command message. The data length field is set to 4*wsize bytes. For
// commands that carry data, data must hold exactly wsize words, otherwise data is ignored.
func EncodeCommand(op Opcode, acctype, dstblk, address uint32, wsize int, data []uint32) (*Message, error) {
	msg := &Message{}
	if err := encodeCommand(msg, op, acctype, dstblk, address, wsize, data); err != nil {
		return nil, err
	}
	return msg, nil
}

func encodeCommand(msg *Message, op Opcode, acctype, dstblk, address uint32, wsize int, data []uint32) error {
	if !op.IsCommand() {
		return utils.NewParamError("%v is not a command", op)
	}
	if wsize < 0 {
		return utils.NewParamError("negative word count %d", wsize)
	}
	if op.CarriesData() {
		if wsize > MaxWriteWords {
			return utils.NewParamError("write of %d words exceeds capacity %d", wsize, MaxWriteWords)
		}
		if len(data) != wsize {
			return utils.NewParamError("%d data words given for word count %d", len(data), wsize)
		}
	} else if wsize > MaxResponseWords {
		return utils.NewParamError("read of %d words exceeds response capacity %d", wsize, MaxResponseWords)
	}

	hdr := Header{Opcode: op, AccType: acctype, DstBlk: dstblk, DataLen: uint32(WordBytes * wsize)}
	if err := hdr.Validate(); err != nil {
		return err
	}

	msg.Clear()
	msg.SetHeader(hdr)
	msg[1] = address
	if op.CarriesData() {
		copy(msg.CommandData(wsize), data)
	}
	return nil
}

// DecodeResponse returns the opcode of a response and a copy of its first wsize payload words.
func DecodeResponse(msg *Message, wsize int) (Opcode, []uint32, error) {
	if wsize < 0 || wsize > MaxResponseWords {
		return 0, nil, utils.NewParamError("response of %d words exceeds capacity %d", wsize, MaxResponseWords)
	}
	out := make([]uint32, wsize)
	copy(out, msg.ResponseData(wsize))
	return msg.Header().Opcode, out, nil
}
