package livepatch

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"unsafe"

	"golang.org/x/arch/arm64/arm64asm"
)

// movz x0, #imm; ret
var (
	returnOne = []uint32{0xd2800020, 0xd65f03c0}
	returnTwo = uint32(0xd2800040)
)

func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer

	baseAddr := uintptr(unsafe.Pointer(unsafe.SliceData(code)))

	for i := 0; i < len(code)&^3; i += 4 {
		instruction, err := arm64asm.Decode(code[i:])
		if err != nil {
			return "", fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+4]), instruction.String())
	}

	return buf.String(), nil
}
