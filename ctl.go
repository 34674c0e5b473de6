package fjpool

// ctlWord is the pool's packed control word. All three sub-fields move
// together in a single CAS so observers never see a torn combination.
//
// Bit layout (high to low):
//
//	AC (48..63) active workers minus target parallelism, signed
//	TC (32..47) total workers minus target parallelism, signed
//	SP ( 0..31) scan state of the most recently parked worker; 0 = none
//
// SP is the head of a Treiber stack of idle workers. The stack links are
// kept in each worker queue's stackPred field rather than in nodes.
type ctlWord int64

const (
	acShift = 48
	tcShift = 32

	acUnit ctlWord = 1 << acShift
	tcUnit ctlWord = 1 << tcShift

	acMask ctlWord = -1 << acShift
	tcMask ctlWord = 0xffff << tcShift
	spMask ctlWord = 0xffffffff
	ucMask ctlWord = ^spMask

	// addWorker is the sign bit of TC: set while fewer than parallelism
	// workers exist.
	addWorker ctlWord = 1 << (tcShift + 15)
)

// Scan state and registry index bits.
const (
	smask    = 0xffff
	maxCap   = 0x7fff
	evenMask = 0xfffe
	sqMask   = 0x007e

	scanning int32 = 1
	inactive int32 = -1 << 31
	ssSeq    int32 = 1 << 16
)

// newCtl returns the control word of a pool with no workers.
func newCtl(parallelism int32) ctlWord {
	np := ctlWord(-parallelism)
	return (np<<acShift)&acMask | (np<<tcShift)&tcMask
}

// packCtl assembles a control word from its sub-fields.
func packCtl(ac, tc, sp int32) ctlWord {
	return (ctlWord(ac)<<acShift)&acMask |
		(ctlWord(tc)<<tcShift)&tcMask |
		ctlWord(sp)&spMask
}

// ac returns the active count relative to parallelism.
func (c ctlWord) ac() int32 { return int32(c >> acShift) }

// tc returns the total count relative to parallelism.
func (c ctlWord) tc() int32 { return int32(int16(c >> tcShift)) }

// sp returns the scan state of the top idle worker, 0 if none.
func (c ctlWord) sp() int32 { return int32(c) }

// withDelta adjusts AC and TC by the given amounts, leaving SP untouched.
func (c ctlWord) withDelta(ac, tc int32) ctlWord {
	return acMask&(c+ctlWord(ac)*acUnit) |
		tcMask&(c+ctlWord(tc)*tcUnit) |
		spMask&c
}

// push records a worker with scan state ns as the new idle-stack head and
// removes it from the active count.
func (c ctlWord) push(ns int32) ctlWord {
	return spMask&ctlWord(ns) | ucMask&(c-acUnit)
}

// pop replaces the idle-stack head by its predecessor and adds inc to the
// active count (acUnit to activate, 0 to hand over an existing slot).
func (c ctlWord) pop(pred int32, inc ctlWord) ctlWord {
	return ucMask&(c+inc) | spMask&ctlWord(pred)
}
