// Package cpu implements the Sharp LR35902 execution core: registers, flag
// computation, the full unprefixed and CB-prefixed opcode pages (dispatched
// by decoding each opcode into x/y/z/p/q bit fields, the same decomposition
// internal/opcode uses to build its metadata tables), interrupt dispatch,
// and the HALT/STOP/EI-delay/illegal-opcode-lock edge cases.
package cpu

import (
	"github.com/coregb/gbcore/internal/bus"
	"github.com/coregb/gbcore/internal/opcode"
)

// CPU is the full SM83 register file plus the scheduling flags (IME, HALT,
// EI-delay, illegal-opcode lock) interrupt dispatch and HALT depend on.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME     bool
	halted  bool
	eiDelay int // counts down from 2 to 0 after EI; IME flips true on the 2->1->0 step
	haltBug bool
	locked  bool

	bus *bus.Bus
}

// New creates a CPU with SP=0xFFFE, PC=0x0000 — the state a boot ROM expects
// to start executing from.
func New(b *bus.Bus) *CPU {
	return &CPU{bus: b, SP: 0xFFFE, PC: 0x0000}
}

// SetPC allows tests or a boot stub to set the program counter directly.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// Bus exposes the underlying bus for tests/tools.
func (c *CPU) Bus() *bus.Bus { return c.bus }

// Locked reports whether the CPU has executed an illegal opcode and frozen.
func (c *CPU) Locked() bool { return c.locked }

// Halted reports whether the CPU is currently stalled in HALT.
func (c *CPU) Halted() bool { return c.halted }

// ResetNoBoot sets registers to typical DMG post-boot state, for running a
// cartridge directly without a boot ROM.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.IME = false
	c.halted = false
	c.eiDelay = 0
	c.haltBug = false
	c.locked = false
}

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

func (c *CPU) setZNHC(z, n, h, cy bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if cy {
		f |= flagC
	}
	c.F = f
}

// ALU helpers: every 8-bit arithmetic/logic op returns the result bundled
// with its four flags, so the caller never has to duplicate flag math per
// opcode family (register form, immediate form, (HL) form all share one
// helper call).

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z, n = res == 0, false
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z, n = res == 0, false
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z, n = res == 0, true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z, n = res == 0, true
	h = (a & 0x0F) < (b&0x0F)+ci
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	return res, res == 0, false, true, false
}

func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	return res, res == 0, false, false, false
}

func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	return res, res == 0, false, false, false
}

func (c *CPU) cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = c.sub8(a, b)
	return
}

func (c *CPU) inc8(a byte) (res byte, z, h bool) {
	res = a + 1
	return res, res == 0, (a & 0x0F) == 0x0F
}

func (c *CPU) dec8(a byte) (res byte, z, h bool) {
	res = a - 1
	return res, res == 0, (a & 0x0F) == 0x00
}

func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

func (c *CPU) fetch8() byte {
	b := c.read8(c.PC)
	c.PC++
	return b
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | hi<<8
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read8(addr))
	hi := uint16(c.read8(addr + 1))
	return lo | hi<<8
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.read16(c.SP)
	c.SP += 2
	return v
}

// reg8 reads r[z]; z==6 is the (HL) indirect operand.
func (c *CPU) reg8(z byte) byte {
	switch z {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) setReg8(z byte, v byte) {
	switch z {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

func (c *CPU) getRP(p byte) uint16 {
	switch p {
	case 0:
		return c.getBC()
	case 1:
		return c.getDE()
	case 2:
		return c.getHL()
	default:
		return c.SP
	}
}

func (c *CPU) setRP(p byte, v uint16) {
	switch p {
	case 0:
		c.setBC(v)
	case 1:
		c.setDE(v)
	case 2:
		c.setHL(v)
	default:
		c.SP = v
	}
}

func (c *CPU) getRP2(p byte) uint16 {
	switch p {
	case 0:
		return c.getBC()
	case 1:
		return c.getDE()
	case 2:
		return c.getHL()
	default:
		return c.getAF()
	}
}

func (c *CPU) setRP2(p byte, v uint16) {
	switch p {
	case 0:
		c.setBC(v)
	case 1:
		c.setDE(v)
	case 2:
		c.setHL(v)
	default:
		c.setAF(v)
	}
}

func (c *CPU) condition(y byte) bool {
	switch y {
	case 0:
		return c.F&flagZ == 0
	case 1:
		return c.F&flagZ != 0
	case 2:
		return c.F&flagC == 0
	default:
		return c.F&flagC != 0
	}
}

func (c *CPU) alu(y byte, a, b byte) (res byte, z, n, h, cy bool) {
	switch y {
	case 0:
		return c.add8(a, b)
	case 1:
		return c.adc8(a, b, c.F&flagC != 0)
	case 2:
		return c.sub8(a, b)
	case 3:
		return c.sbc8(a, b, c.F&flagC != 0)
	case 4:
		return c.and8(a, b)
	case 5:
		return c.xor8(a, b)
	case 6:
		return c.or8(a, b)
	default:
		z, n, h, cy = c.cp8(a, b)
		return a, z, n, h, cy
	}
}

// addSPSigned implements the shared flag/arithmetic core of ADD SP,d and
// LD HL,SP+d: both add a signed 8-bit immediate to SP and set flags from the
// unsigned low-byte addition, Z and N always cleared.
func (c *CPU) addSPSigned(d int8) (res uint16, h, cy bool) {
	sp := c.SP
	sum := uint16(int32(sp) + int32(d))
	h = (sp&0x0F)+(uint16(byte(d))&0x0F) > 0x0F
	cy = (sp&0xFF)+uint16(byte(d)) > 0xFF
	return sum, h, cy
}

// serviceInterrupt dispatches the highest-priority (lowest-numbered) pending-and-enabled
// interrupt: pushes PC, jumps to the vector, clears IME and the IF bit, and
// costs 20 cycles. Returns 0 if nothing is pending.
func (c *CPU) serviceInterrupt() int {
	k, ok := c.bus.IRQ().Lowest()
	if !ok {
		return 0
	}
	vector := c.bus.IRQ().Service(k)
	c.halted = false
	c.IME = false
	c.push16(c.PC)
	c.PC = vector
	return 20
}

// Step executes exactly one instruction (or one interrupt dispatch, or one
// HALT-stalled tick) and returns the T-cycles it consumed; the caller is
// responsible for feeding that count to the bus/PPU/timer scheduler.
func (c *CPU) Step() (cycles int) {
	pcAtEntry := c.PC
	lastOp, haveOp := byte(0), false
	defer func() {
		if r := recover(); r != nil {
			panic(bus.NewFault(r, pcAtEntry, true, lastOp, haveOp))
		}
	}()

	// EI's enable is delayed: the instruction immediately following EI must
	// still run with interrupts disabled. eiDelay counts 2 -> 1 -> 0 across the
	// next two Step() entries; IME only flips true once it reaches 0, which
	// happens at the start of the Step() for the instruction after that one.
	if c.eiDelay > 0 {
		c.eiDelay--
		if c.eiDelay == 0 {
			c.IME = true
		}
	}

	if c.locked {
		// A locked CPU spins without advancing PC, reporting 4 idle T-cycles
		// per call like HALT so callers counting cycles keep progressing.
		return 4
	}

	if c.halted {
		if c.IME {
			if cyc := c.serviceInterrupt(); cyc != 0 {
				return cyc
			}
			return 4
		}
		if _, ok := c.bus.IRQ().Lowest(); ok {
			c.halted = false
		} else {
			return 4
		}
	}

	if c.IME {
		if cyc := c.serviceInterrupt(); cyc != 0 {
			return cyc
		}
	}

	pcBefore := c.PC
	op := c.fetch8()
	lastOp, haveOp = op, true
	if c.haltBug {
		c.PC = pcBefore
		c.haltBug = false
	}

	if op == 0xCB {
		return c.execCB()
	}
	return c.exec(op)
}

func (c *CPU) exec(op byte) int {
	d := opcode.Unprefixed[op]
	y, z, p := d.Y, d.Z, d.P

	switch d.Family {
	case opcode.FamNOP:
		return 4
	case opcode.FamLD_RR_NN:
		c.setRP(p, c.fetch16())
		return 12
	case opcode.FamADD_HL_RR:
		hl := c.getHL()
		rp := c.getRP(p)
		sum := uint32(hl) + uint32(rp)
		h := (hl&0x0FFF)+(rp&0x0FFF) > 0x0FFF
		c.setHL(uint16(sum))
		c.setZNHC(c.F&flagZ != 0, false, h, sum > 0xFFFF)
		return 8
	case opcode.FamLD_MEM_A:
		addr := c.ldMemAddr(p)
		c.write8(addr, c.A)
		return 8
	case opcode.FamLD_A_MEM:
		addr := c.ldMemAddr(p)
		c.A = c.read8(addr)
		return 8
	case opcode.FamINC_RR:
		c.setRP(p, c.getRP(p)+1)
		return 8
	case opcode.FamDEC_RR:
		c.setRP(p, c.getRP(p)-1)
		return 8
	case opcode.FamINC_R:
		v, z, h := c.inc8(c.reg8(y))
		c.setReg8(y, v)
		c.F = (c.F & flagC) | b2f(z, flagZ) | b2f(h, flagH)
		return int(d.Cycles)
	case opcode.FamDEC_R:
		v, z, h := c.dec8(c.reg8(y))
		c.setReg8(y, v)
		c.F = (c.F & flagC) | flagN | b2f(z, flagZ) | b2f(h, flagH)
		return int(d.Cycles)
	case opcode.FamLD_R_N:
		c.setReg8(y, c.fetch8())
		return int(d.Cycles)
	case opcode.FamRotateA:
		c.rotateA(y)
		return 4
	case opcode.FamLD_NN_SP:
		c.write16(c.fetch16(), c.SP)
		return 20
	case opcode.FamSTOP:
		c.fetch8() // STOP is followed by one ignored byte on DMG
		return 4
	case opcode.FamJR:
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		return 12
	case opcode.FamJR_CC:
		off := int8(c.fetch8())
		if c.condition(y - 4) {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12
		}
		return 8
	case opcode.FamDAA:
		c.daa()
		return 4
	case opcode.FamCPL:
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
		return 4
	case opcode.FamSCF:
		c.F = (c.F & flagZ) | flagC
		return 4
	case opcode.FamCCF:
		c.F = (c.F & (flagZ | flagC)) ^ flagC
		return 4
	case opcode.FamLD_R_R:
		c.setReg8(y, c.reg8(z))
		return int(d.Cycles)
	case opcode.FamHALT:
		if !c.IME {
			if _, ok := c.bus.IRQ().Lowest(); ok {
				c.haltBug = true
				return 4
			}
		}
		c.halted = true
		return 4
	case opcode.FamALU_A_R:
		res, z, n, h, cy := c.alu(y, c.A, c.reg8(z))
		c.A = res
		c.setZNHC(z, n, h, cy)
		return int(d.Cycles)
	case opcode.FamALU_A_N:
		res, z, n, h, cy := c.alu(y, c.A, c.fetch8())
		c.A = res
		c.setZNHC(z, n, h, cy)
		return 8
	case opcode.FamRET_CC:
		if c.condition(y) {
			c.PC = c.pop16()
			return 20
		}
		return 8
	case opcode.FamPOP:
		c.setRP2(p, c.pop16())
		return 12
	case opcode.FamRET:
		c.PC = c.pop16()
		return 16
	case opcode.FamRETI:
		c.PC = c.pop16()
		c.IME = true
		return 16
	case opcode.FamJP_HL:
		c.PC = c.getHL()
		return 4
	case opcode.FamLD_SP_HL:
		c.SP = c.getHL()
		return 8
	case opcode.FamLDH_N_A:
		addr := 0xFF00 + uint16(c.fetch8())
		c.write8(addr, c.A)
		return 12
	case opcode.FamADD_SP_D:
		d8 := int8(c.fetch8())
		sum, h, cy := c.addSPSigned(d8)
		c.SP = sum
		c.setZNHC(false, false, h, cy)
		return 16
	case opcode.FamLDH_A_N:
		addr := 0xFF00 + uint16(c.fetch8())
		c.A = c.read8(addr)
		return 12
	case opcode.FamLD_HL_SPD:
		d8 := int8(c.fetch8())
		sum, h, cy := c.addSPSigned(d8)
		c.setHL(sum)
		c.setZNHC(false, false, h, cy)
		return 12
	case opcode.FamJP_CC_NN:
		addr := c.fetch16()
		if c.condition(y) {
			c.PC = addr
			return 16
		}
		return 12
	case opcode.FamLD_C_A:
		c.write8(0xFF00+uint16(c.C), c.A)
		return 8
	case opcode.FamLD_NN_A:
		c.write8(c.fetch16(), c.A)
		return 16
	case opcode.FamLD_A_C:
		c.A = c.read8(0xFF00 + uint16(c.C))
		return 8
	case opcode.FamLD_A_NN:
		c.A = c.read8(c.fetch16())
		return 16
	case opcode.FamJP_NN:
		c.PC = c.fetch16()
		return 16
	case opcode.FamDI:
		c.IME = false
		c.eiDelay = 0
		return 4
	case opcode.FamEI:
		c.eiDelay = 2
		return 4
	case opcode.FamCALL_CC_NN:
		addr := c.fetch16()
		if c.condition(y) {
			c.push16(c.PC)
			c.PC = addr
			return 24
		}
		return 12
	case opcode.FamCALL_NN:
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return 24
	case opcode.FamPUSH:
		c.push16(c.getRP2(p))
		return 16
	case opcode.FamRST:
		c.push16(c.PC)
		c.PC = uint16(y) * 8
		return 16
	default: // FamIllegal
		c.locked = true
		return 0
	}
}

func (c *CPU) ldMemAddr(p byte) uint16 {
	switch p {
	case 0:
		return c.getBC()
	case 1:
		return c.getDE()
	case 2:
		hl := c.getHL()
		c.setHL(hl + 1)
		return hl
	default:
		hl := c.getHL()
		c.setHL(hl - 1)
		return hl
	}
}

func (c *CPU) rotateA(y byte) {
	switch y {
	case 0: // RLCA
		cy := c.A&0x80 != 0
		c.A = c.A<<1 | b2b(cy)
		c.setZNHC(false, false, false, cy)
	case 1: // RRCA
		cy := c.A&0x01 != 0
		c.A = c.A>>1 | b2b(cy)<<7
		c.setZNHC(false, false, false, cy)
	case 2: // RLA
		cy := c.A&0x80 != 0
		c.A = c.A<<1 | b2b(c.F&flagC != 0)
		c.setZNHC(false, false, false, cy)
	default: // RRA
		cy := c.A&0x01 != 0
		c.A = c.A>>1 | b2b(c.F&flagC != 0)<<7
		c.setZNHC(false, false, false, cy)
	}
}

func (c *CPU) daa() {
	a := c.A
	cf := c.F&flagC != 0
	if c.F&flagN == 0 {
		if cf || a > 0x99 {
			a += 0x60
			cf = true
		}
		if c.F&flagH != 0 || a&0x0F > 9 {
			a += 0x06
		}
	} else {
		if cf {
			a -= 0x60
		}
		if c.F&flagH != 0 {
			a -= 0x06
		}
	}
	c.A = a
	c.setZNHC(c.A == 0, c.F&flagN != 0, false, cf)
}

func (c *CPU) execCB() int {
	cb := c.fetch8()
	d := opcode.CBPrefixed[cb]
	y, z := d.Y, d.Z

	switch d.Family {
	case opcode.FamRotateR:
		v := c.reg8(z)
		res, cy := c.rotateR(y, v)
		c.setReg8(z, res)
		c.setZNHC(res == 0, false, false, cy)
		return int(d.Cycles)
	case opcode.FamBIT:
		v := c.reg8(z)
		zero := v&(1<<y) == 0
		c.F = (c.F & flagC) | flagH | b2f(zero, flagZ)
		return int(d.Cycles)
	case opcode.FamRES:
		c.setReg8(z, c.reg8(z)&^(1<<y))
		return int(d.Cycles)
	default: // FamSET
		c.setReg8(z, c.reg8(z)|(1<<y))
		return int(d.Cycles)
	}
}

// rotateR implements the eight CB-page rotate/shift operations (RLC/RRC/RL/
// RR/SLA/SRA/SWAP/SRL), which — unlike RLCA/RRCA/RLA/RRA — set Z from the
// result.
func (c *CPU) rotateR(y byte, v byte) (res byte, cy bool) {
	switch y {
	case 0: // RLC
		cy = v&0x80 != 0
		res = v<<1 | b2b(cy)
	case 1: // RRC
		cy = v&0x01 != 0
		res = v>>1 | b2b(cy)<<7
	case 2: // RL
		cy = v&0x80 != 0
		res = v<<1 | b2b(c.F&flagC != 0)
	case 3: // RR
		cy = v&0x01 != 0
		res = v>>1 | b2b(c.F&flagC != 0)<<7
	case 4: // SLA
		cy = v&0x80 != 0
		res = v << 1
	case 5: // SRA
		cy = v&0x01 != 0
		res = v>>1 | (v & 0x80)
	case 6: // SWAP
		res = v<<4 | v>>4
		cy = false
	default: // SRL
		cy = v&0x01 != 0
		res = v >> 1
	}
	return
}

func b2b(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func b2f(v bool, flag byte) byte {
	if v {
		return flag
	}
	return 0
}
