package cmicx

// CMICx register map of the S-Channel and S-Channel FIFO blocks, as byte offsets into the CMIC
// register window.
const (
	// WindowSize covers every register below.
	WindowSize = 0x20000

	schanBase    = 0x10000
	schanStride  = 0x100
	schanCtrlOff = 0x00
	schanMsgOff  = 0x0c

	fifoBase       = 0x11000
	fifoStride     = 0x100
	fifoCmdBase    = 0x12000
	fifoCmdStride  = 0x1000
	fifoRespBase   = 0x14000
	fifoRespStride = 0x4000
	fifoCtrlOff    = 0x00
	fifoStatusOff  = 0x04
	fifoNumOpsOff  = 0x08
)

// SCHAN_CTRL bits.
const (
	SchanCtrlStart        uint32 = 1 << 0
	SchanCtrlDone         uint32 = 1 << 1
	SchanCtrlAbort        uint32 = 1 << 2
	SchanCtrlSERCheckFail uint32 = 1 << 20
	SchanCtrlNak          uint32 = 1 << 21
	SchanCtrlTimeout      uint32 = 1 << 22

	schanCtrlErrors = SchanCtrlSERCheckFail | SchanCtrlNak | SchanCtrlTimeout
)

// FIFO_CTRL bits.
const (
	FifoCtrlStart     uint32 = 1 << 0
	FifoCtrlAbort     uint32 = 1 << 1
	FifoCtrlIgnoreSER uint32 = 1 << 2
	FifoCtrlCCMDMA    uint32 = 1 << 3
)

// FIFO_STATUS fields.
const (
	FifoStatusDoneCountMask uint32 = 0xffff
	FifoStatusError         uint32 = 1 << 16
	FifoStatusDone          uint32 = 1 << 17
)

// Channel counts and FIFO geometry.
const (
	SchanChannels   = 5
	FifoChannels    = 2
	FifoCmdMemWords = 352

	// FifoRespMemWords fits the responses of a command memory full of maximum size reads.
	FifoRespMemWords = fifoRespStride / 4
)

// SchanCtrl is the control register of PIO S-Channel ch.
func SchanCtrl(ch int) uint32 {
	return schanBase + uint32(ch)*schanStride + schanCtrlOff
}

// SchanMessage is message word n of PIO S-Channel ch.
func SchanMessage(ch, n int) uint32 {
	return schanBase + uint32(ch)*schanStride + schanMsgOff + 4*uint32(n)
}

// FifoCtrl is the control register of FIFO channel ch.
func FifoCtrl(ch int) uint32 {
	return fifoBase + uint32(ch)*fifoStride + fifoCtrlOff
}

// FifoStatus is the status register of FIFO channel ch.
func FifoStatus(ch int) uint32 {
	return fifoBase + uint32(ch)*fifoStride + fifoStatusOff
}

// FifoNumOps holds the number of queued ops of FIFO channel ch.
func FifoNumOps(ch int) uint32 {
	return fifoBase + uint32(ch)*fifoStride + fifoNumOpsOff
}

// FifoCmd is word n of the command memory of FIFO channel ch.
func FifoCmd(ch, n int) uint32 {
	return fifoCmdBase + uint32(ch)*fifoCmdStride + 4*uint32(n)
}

// FifoResp is word n of the response memory of FIFO channel ch.
func FifoResp(ch, n int) uint32 {
	return fifoRespBase + uint32(ch)*fifoRespStride + 4*uint32(n)
}
