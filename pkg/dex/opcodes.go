package dex

import "fmt"

// Opcode is a dalvik opcode (the low byte of an instruction's first code unit)
type Opcode uint8

const (
	OpNop                     Opcode = 0x00
	OpReturnVoid              Opcode = 0x0e
	OpCheckCast               Opcode = 0x1f
	OpIget                    Opcode = 0x52
	OpIgetWide                Opcode = 0x53
	OpIgetObject              Opcode = 0x54
	OpIgetBoolean             Opcode = 0x55
	OpIgetByte                Opcode = 0x56
	OpIgetChar                Opcode = 0x57
	OpIgetShort               Opcode = 0x58
	OpIput                    Opcode = 0x59
	OpIputWide                Opcode = 0x5a
	OpIputObject              Opcode = 0x5b
	OpIputBoolean             Opcode = 0x5c
	OpIputByte                Opcode = 0x5d
	OpIputChar                Opcode = 0x5e
	OpIputShort               Opcode = 0x5f
	OpInvokeVirtual           Opcode = 0x6e
	OpReturnVoidNoBarrier     Opcode = 0x73
	OpInvokeVirtualRange      Opcode = 0x74
	OpIgetQuick               Opcode = 0xe3
	OpIgetWideQuick           Opcode = 0xe4
	OpIgetObjectQuick         Opcode = 0xe5
	OpIputQuick               Opcode = 0xe6
	OpIputWideQuick           Opcode = 0xe7
	OpIputObjectQuick         Opcode = 0xe8
	OpInvokeVirtualQuick      Opcode = 0xe9
	OpInvokeVirtualRangeQuick Opcode = 0xea
	OpIputBooleanQuick        Opcode = 0xeb
	OpIputByteQuick           Opcode = 0xec
	OpIputCharQuick           Opcode = 0xed
	OpIputShortQuick          Opcode = 0xee
	OpIgetBooleanQuick        Opcode = 0xef
	OpIgetByteQuick           Opcode = 0xf0
	OpIgetCharQuick           Opcode = 0xf1
	OpIgetShortQuick          Opcode = 0xf2
	OpInvokePolymorphic       Opcode = 0xfa
	OpInvokePolymorphicRange  Opcode = 0xfb
	OpInvokeCustom            Opcode = 0xfc
	OpInvokeCustomRange       Opcode = 0xfd
	OpConstMethodHandle       Opcode = 0xfe
	OpConstMethodType         Opcode = 0xff
)

// payload pseudo-instruction identifiers (full first code unit)
const (
	PackedSwitchSignature  uint16 = 0x0100
	SparseSwitchSignature  uint16 = 0x0200
	FillArrayDataSignature uint16 = 0x0300
)

// Format is a dalvik instruction format id such as 22c
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format3rc
	Format45cc
	Format4rcc
	Format51l
)

var formatNames = [...]string{
	"10x", "12x", "11n", "11x", "10t", "20t", "22x", "21t", "21s", "21h", "21c", "23x", "22b",
	"22t", "22s", "22c", "30t", "32x", "31i", "31t", "31c", "35c", "3rc", "45cc", "4rcc", "51l",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// Size returns the instruction length in code units (the leading digit of the format id)
func (f Format) Size() uint32 {
	return uint32(formatNames[f][0] - '0')
}

type opcodeInfo struct {
	name   string
	format Format
}

var opcodeTable [256]opcodeInfo

func fill(start Opcode, format Format, names ...string) {
	for i, name := range names {
		opcodeTable[int(start)+i] = opcodeInfo{name, format}
	}
}

func unused(start, end Opcode) {
	for op := int(start); op <= int(end); op++ {
		opcodeTable[op] = opcodeInfo{fmt.Sprintf("unused-%02x", op), Format10x}
	}
}

var binops = []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}

func arith(start Opcode, format Format, suffix string) {
	var names []string
	for _, typ := range []string{"int", "long"} {
		for _, op := range binops {
			names = append(names, op+"-"+typ+suffix)
		}
	}
	for _, typ := range []string{"float", "double"} {
		for _, op := range binops[:5] {
			names = append(names, op+"-"+typ+suffix)
		}
	}
	fill(start, format, names...)
}

func init() {
	fill(0x00, Format10x, "nop")
	fill(0x01, Format12x, "move")
	fill(0x02, Format22x, "move/from16")
	fill(0x03, Format32x, "move/16")
	fill(0x04, Format12x, "move-wide")
	fill(0x05, Format22x, "move-wide/from16")
	fill(0x06, Format32x, "move-wide/16")
	fill(0x07, Format12x, "move-object")
	fill(0x08, Format22x, "move-object/from16")
	fill(0x09, Format32x, "move-object/16")
	fill(0x0a, Format11x, "move-result", "move-result-wide", "move-result-object", "move-exception")
	fill(0x0e, Format10x, "return-void")
	fill(0x0f, Format11x, "return", "return-wide", "return-object")
	fill(0x12, Format11n, "const/4")
	fill(0x13, Format21s, "const/16")
	fill(0x14, Format31i, "const")
	fill(0x15, Format21h, "const/high16")
	fill(0x16, Format21s, "const-wide/16")
	fill(0x17, Format31i, "const-wide/32")
	fill(0x18, Format51l, "const-wide")
	fill(0x19, Format21h, "const-wide/high16")
	fill(0x1a, Format21c, "const-string")
	fill(0x1b, Format31c, "const-string/jumbo")
	fill(0x1c, Format21c, "const-class")
	fill(0x1d, Format11x, "monitor-enter", "monitor-exit")
	fill(0x1f, Format21c, "check-cast")
	fill(0x20, Format22c, "instance-of")
	fill(0x21, Format12x, "array-length")
	fill(0x22, Format21c, "new-instance")
	fill(0x23, Format22c, "new-array")
	fill(0x24, Format35c, "filled-new-array")
	fill(0x25, Format3rc, "filled-new-array/range")
	fill(0x26, Format31t, "fill-array-data")
	fill(0x27, Format11x, "throw")
	fill(0x28, Format10t, "goto")
	fill(0x29, Format20t, "goto/16")
	fill(0x2a, Format30t, "goto/32")
	fill(0x2b, Format31t, "packed-switch", "sparse-switch")
	fill(0x2d, Format23x, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")
	fill(0x32, Format22t, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")
	fill(0x38, Format21t, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")
	unused(0x3e, 0x43)

	kinds := []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	for i, prefix := range []string{"aget", "aput", "iget", "iput", "sget", "sput"} {
		format := Format23x
		switch prefix {
		case "iget", "iput":
			format = Format22c
		case "sget", "sput":
			format = Format21c
		}
		for j, kind := range kinds {
			fill(Opcode(0x44+i*7+j), format, prefix+kind)
		}
	}

	invokes := []string{"virtual", "super", "direct", "static", "interface"}
	for i, kind := range invokes {
		fill(Opcode(0x6e+i), Format35c, "invoke-"+kind)
		fill(Opcode(0x74+i), Format3rc, "invoke-"+kind+"/range")
	}
	fill(0x73, Format10x, "return-void-no-barrier")
	unused(0x79, 0x7a)

	fill(0x7b, Format12x,
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double",
		"long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double",
		"double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short")
	arith(0x90, Format23x, "")
	arith(0xb0, Format12x, "/2addr")

	fill(0xd0, Format22s, "add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16")
	fill(0xd8, Format22b, "add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8",
		"shl-int/lit8", "shr-int/lit8", "ushr-int/lit8")

	fill(0xe3, Format22c, "iget-quick", "iget-wide-quick", "iget-object-quick",
		"iput-quick", "iput-wide-quick", "iput-object-quick")
	fill(0xe9, Format35c, "invoke-virtual-quick")
	fill(0xea, Format3rc, "invoke-virtual/range-quick")
	fill(0xeb, Format22c, "iput-boolean-quick", "iput-byte-quick", "iput-char-quick", "iput-short-quick",
		"iget-boolean-quick", "iget-byte-quick", "iget-char-quick", "iget-short-quick")
	unused(0xf3, 0xf9)
	fill(0xfa, Format45cc, "invoke-polymorphic")
	fill(0xfb, Format4rcc, "invoke-polymorphic/range")
	fill(0xfc, Format35c, "invoke-custom")
	fill(0xfd, Format3rc, "invoke-custom/range")
	fill(0xfe, Format21c, "const-method-handle", "const-method-type")
}

func (op Opcode) String() string {
	return opcodeTable[op].name
}

// Format returns the instruction format of op
func (op Opcode) Format() Format {
	return opcodeTable[op].format
}

// Size returns the instruction length of op in code units
func (op Opcode) Size() uint32 {
	return opcodeTable[op].format.Size()
}
