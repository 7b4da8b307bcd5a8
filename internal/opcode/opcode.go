// Package opcode holds the read-only SM83 instruction metadata tables: two
// flat 256-entry descriptor arrays (unprefixed and CB-prefixed) built once at
// init time from the same x/y/z bit-field decomposition the CPU itself uses
// to dispatch, so the metadata and the execution path can never disagree
// about what a given byte means.
package opcode

// Family groups opcodes by the shape of work CPU.Step must do for them, not
// by mnemonic; CPU.Step switches on Family after consulting the x/y/z fields
// directly, mirroring the descriptor build below.
type Family uint8

const (
	FamNOP Family = iota
	FamLD_RR_NN
	FamLD_MEM_A // LD (BC/DE/HLI/HLD),A
	FamLD_A_MEM // LD A,(BC/DE/HLI/HLD)
	FamINC_RR
	FamDEC_RR
	FamINC_R
	FamDEC_R
	FamLD_R_N
	FamRotateA // RLCA/RRCA/RLA/RRA
	FamLD_NN_SP
	FamADD_HL_RR
	FamSTOP
	FamJR
	FamJR_CC
	FamDAA
	FamCPL
	FamSCF
	FamCCF
	FamLD_R_R
	FamHALT
	FamALU_A_R
	FamALU_A_N
	FamRET_CC
	FamPOP
	FamRET
	FamRETI
	FamJP_HL
	FamLD_SP_HL
	FamLDH_N_A
	FamADD_SP_D
	FamLDH_A_N
	FamLD_HL_SPD
	FamJP_CC_NN
	FamLD_C_A
	FamLD_NN_A
	FamLD_A_C
	FamLD_A_NN
	FamJP_NN
	FamCBPrefix
	FamDI
	FamEI
	FamCALL_CC_NN
	FamCALL_NN
	FamPUSH
	FamRST
	FamIllegal
	// CB-prefixed families
	FamRotateR // RLC/RRC/RL/RR/SLA/SRA/SWAP/SRL r
	FamBIT
	FamRES
	FamSET
)

// RegName names r[z] and rp[p]/rp2[p] register-field decodings, for
// disassembly/tracing only; execution never looks these up by string.
var RegName = [8]string{"B", "C", "D", "E", "H", "L", "(HL)", "A"}
var RPName = [4]string{"BC", "DE", "HL", "SP"}
var RP2Name = [4]string{"BC", "DE", "HL", "AF"}
var CCName = [4]string{"NZ", "Z", "NC", "C"}
var ALUName = [8]string{"ADD", "ADC", "SUB", "SBC", "AND", "XOR", "OR", "CP"}
var RotName = [8]string{"RLC", "RRC", "RL", "RR", "SLA", "SRA", "SWAP", "SRL"}

// Descriptor is one opcode's static shape: byte length including the opcode
// itself, base cycle count, the alternate (branch-not-taken) cycle count for
// conditional control flow (equal to Cycles when there's no alternate), and
// the Family tag CPU.Step keys its execution off of.
type Descriptor struct {
	Mnemonic  string
	Family    Family
	Length    byte
	Cycles    byte
	CyclesAlt byte
	Y, Z, P, Q byte // decoded bit fields, kept for CPU.Step and tracing
}

var Unprefixed [256]Descriptor
var CBPrefixed [256]Descriptor

func init() {
	for op := 0; op < 256; op++ {
		Unprefixed[op] = decodeUnprefixed(byte(op))
		CBPrefixed[op] = decodeCB(byte(op))
	}
}

func fields(op byte) (x, y, z, p, q byte) {
	x = (op >> 6) & 3
	y = (op >> 3) & 7
	z = op & 7
	p = y >> 1
	q = y & 1
	return
}

func regLen(z byte) byte {
	if z == 6 {
		return 8
	}
	return 4
}

func decodeUnprefixed(op byte) Descriptor {
	x, y, z, p, q := fields(op)
	d := Descriptor{Y: y, Z: z, P: p, Q: q}

	switch x {
	case 0:
		switch z {
		case 0:
			switch {
			case y == 0:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "NOP", FamNOP, 1, 4
			case y == 1:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD (nn),SP", FamLD_NN_SP, 3, 20
			case y == 2:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "STOP", FamSTOP, 2, 4
			case y == 3:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "JR d", FamJR, 2, 12
			default:
				d.Mnemonic = "JR " + CCName[y-4] + ",d"
				d.Family, d.Length, d.Cycles, d.CyclesAlt = FamJR_CC, 2, 12, 8
			}
		case 1:
			if q == 0 {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD "+RPName[p]+",nn", FamLD_RR_NN, 3, 12
			} else {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "ADD HL,"+RPName[p], FamADD_HL_RR, 1, 8
			}
		case 2:
			names := [2][4]string{
				{"LD (BC),A", "LD (DE),A", "LD (HL+),A", "LD (HL-),A"},
				{"LD A,(BC)", "LD A,(DE)", "LD A,(HL+)", "LD A,(HL-)"},
			}
			fam := FamLD_MEM_A
			if q == 1 {
				fam = FamLD_A_MEM
			}
			d.Mnemonic, d.Family, d.Length, d.Cycles = names[q][p], fam, 1, 8
		case 3:
			if q == 0 {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "INC "+RPName[p], FamINC_RR, 1, 8
			} else {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "DEC "+RPName[p], FamDEC_RR, 1, 8
			}
		case 4:
			d.Mnemonic, d.Family, d.Length, d.Cycles = "INC "+RegName[y], FamINC_R, 1, regLen(y)
		case 5:
			d.Mnemonic, d.Family, d.Length, d.Cycles = "DEC "+RegName[y], FamDEC_R, 1, regLen(y)
		case 6:
			cyc := byte(8)
			if y == 6 {
				cyc = 12
			}
			d.Mnemonic, d.Family, d.Length, d.Cycles = "LD "+RegName[y]+",n", FamLD_R_N, 2, cyc
		case 7:
			names := [8]string{"RLCA", "RRCA", "RLA", "RRA", "DAA", "CPL", "SCF", "CCF"}
			fams := [8]Family{FamRotateA, FamRotateA, FamRotateA, FamRotateA, FamDAA, FamCPL, FamSCF, FamCCF}
			d.Mnemonic, d.Family, d.Length, d.Cycles = names[y], fams[y], 1, 4
		}
	case 1:
		if z == 6 && y == 6 {
			d.Mnemonic, d.Family, d.Length, d.Cycles = "HALT", FamHALT, 1, 4
		} else {
			cyc := byte(4)
			if z == 6 || y == 6 {
				cyc = 8
			}
			d.Mnemonic, d.Family, d.Length, d.Cycles = "LD "+RegName[y]+","+RegName[z], FamLD_R_R, 1, cyc
		}
	case 2:
		d.Mnemonic, d.Family, d.Length, d.Cycles = ALUName[y]+" A,"+RegName[z], FamALU_A_R, 1, regLen(z)
	case 3:
		switch z {
		case 0:
			switch {
			case y <= 3:
				d.Mnemonic = "RET " + CCName[y]
				d.Family, d.Length, d.Cycles, d.CyclesAlt = FamRET_CC, 1, 20, 8
			case y == 4:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LDH (n),A", FamLDH_N_A, 2, 12
			case y == 5:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "ADD SP,d", FamADD_SP_D, 2, 16
			case y == 6:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LDH A,(n)", FamLDH_A_N, 2, 12
			case y == 7:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD HL,SP+d", FamLD_HL_SPD, 2, 12
			}
		case 1:
			if q == 0 {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "POP "+RP2Name[p], FamPOP, 1, 12
			} else {
				switch p {
				case 0:
					d.Mnemonic, d.Family, d.Length, d.Cycles = "RET", FamRET, 1, 16
				case 1:
					d.Mnemonic, d.Family, d.Length, d.Cycles = "RETI", FamRETI, 1, 16
				case 2:
					d.Mnemonic, d.Family, d.Length, d.Cycles = "JP HL", FamJP_HL, 1, 4
				case 3:
					d.Mnemonic, d.Family, d.Length, d.Cycles = "LD SP,HL", FamLD_SP_HL, 1, 8
				}
			}
		case 2:
			switch {
			case y <= 3:
				d.Mnemonic = "JP " + CCName[y] + ",nn"
				d.Family, d.Length, d.Cycles, d.CyclesAlt = FamJP_CC_NN, 3, 16, 12
			case y == 4:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD (C),A", FamLD_C_A, 1, 8
			case y == 5:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD (nn),A", FamLD_NN_A, 3, 16
			case y == 6:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD A,(C)", FamLD_A_C, 1, 8
			case y == 7:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "LD A,(nn)", FamLD_A_NN, 3, 16
			}
		case 3:
			switch y {
			case 0:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "JP nn", FamJP_NN, 3, 16
			case 1:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "CB", FamCBPrefix, 1, 4
			case 6:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "DI", FamDI, 1, 4
			case 7:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "EI", FamEI, 1, 4
			default:
				d.Mnemonic, d.Family, d.Length, d.Cycles = "ILLEGAL", FamIllegal, 1, 4
			}
		case 4:
			if y <= 3 {
				d.Mnemonic = "CALL " + CCName[y] + ",nn"
				d.Family, d.Length, d.Cycles, d.CyclesAlt = FamCALL_CC_NN, 3, 24, 12
			} else {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "ILLEGAL", FamIllegal, 1, 4
			}
		case 5:
			if q == 0 {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "PUSH "+RP2Name[p], FamPUSH, 1, 16
			} else if p == 0 {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "CALL nn", FamCALL_NN, 3, 24
			} else {
				d.Mnemonic, d.Family, d.Length, d.Cycles = "ILLEGAL", FamIllegal, 1, 4
			}
		case 6:
			d.Mnemonic, d.Family, d.Length, d.Cycles = ALUName[y]+" A,n", FamALU_A_N, 2, 8
		case 7:
			d.Mnemonic, d.Family, d.Length, d.Cycles = "RST", FamRST, 1, 16
		}
	}
	if d.Mnemonic == "" {
		d.Mnemonic, d.Family, d.Length, d.Cycles = "ILLEGAL", FamIllegal, 1, 4
	}
	if d.CyclesAlt == 0 {
		d.CyclesAlt = d.Cycles
	}
	return d
}

func decodeCB(cb byte) Descriptor {
	x, y, z, p, q := fields(cb)
	cyc := byte(8)
	if z == 6 {
		cyc = 16
	}
	var mnem string
	var fam Family
	switch x {
	case 0:
		mnem, fam = RotName[y]+" "+RegName[z], FamRotateR
	case 1:
		mnem, fam = "BIT", FamBIT
		if z == 6 {
			cyc = 12
		}
	case 2:
		mnem, fam = "RES", FamRES
	case 3:
		mnem, fam = "SET", FamSET
	}
	return Descriptor{Mnemonic: mnem, Family: fam, Length: 1, Cycles: cyc, CyclesAlt: cyc, Y: y, Z: z, P: p, Q: q}
}
