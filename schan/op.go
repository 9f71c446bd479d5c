package schan

import (
	"go.viam.com/switchbus/utils"
)

// Command is one decoded command as stored in FIFO command memory.
type Command struct {
	Header  Header
	Address uint32
	// Data holds the payload of commands that carry data, nil otherwise.
	Data []uint32
}

// WordCount returns the payload size of the command in words, derived from the header's data
// length.
func (c Command) WordCount() int {
	return int(c.Header.DataLen) / WordBytes
}

// AppendOp encodes one command the same way EncodeCommand does and appends its bus words to buf.
// FIFO backends walk the result with ParseOp.
func AppendOp(buf []uint32, op Opcode, acctype, dstblk, address uint32, wsize int, data []uint32) ([]uint32, error) {
	var msg Message
	if err := encodeCommand(&msg, op, acctype, dstblk, address, wsize, data); err != nil {
		return buf, err
	}
	n, _ := CommandWords(op, wsize)
	return append(buf, msg[:n]...), nil
}

// ParseOp decodes the command at the start of buf and returns the remaining words.
func ParseOp(buf []uint32) (Command, []uint32, error) {
	if len(buf) < 2 {
		return Command{}, buf, utils.NewParamError("command needs 2 words, %d left", len(buf))
	}
	hdr := ParseHeader(buf[0])
	if !hdr.Opcode.IsCommand() {
		return Command{}, buf, utils.NewParamError("%v is not a command", hdr.Opcode)
	}
	cmd := Command{Header: hdr, Address: buf[1]}
	wsize := cmd.WordCount()
	n, _ := CommandWords(hdr.Opcode, wsize)
	if len(buf) < n {
		return Command{}, buf, utils.NewParamError("%v needs %d words, %d left", hdr.Opcode, n, len(buf))
	}
	if hdr.Opcode.CarriesData() {
		cmd.Data = append([]uint32(nil), buf[2:n]...)
	}
	return cmd, buf[n:], nil
}

// ParseOps decodes exactly numOps commands from buf.
func ParseOps(buf []uint32, numOps uint32) ([]Command, error) {
	// Every command takes at least a header and an address word.
	if uint64(numOps)*2 > uint64(len(buf)) {
		return nil, utils.NewParamError("%d ops cannot fit in %d words", numOps, len(buf))
	}
	cmds := make([]Command, 0, numOps)
	for i := uint32(0); i < numOps; i++ {
		cmd, rest, err := ParseOp(buf)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
		buf = rest
	}
	return cmds, nil
}
