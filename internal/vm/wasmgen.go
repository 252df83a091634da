package vm

// Exported names of generated modules.
const (
	ExportRun      = "run"
	ExportCallHost = "call_host"
	ExportMemory   = "memory"
	ImportDispatch = "dispatch"
)

const (
	sectionCustom   = 0x00
	sectionType     = 0x01
	sectionImport   = 0x02
	sectionFunction = 0x03
	sectionMemory   = 0x05
	sectionExport   = 0x07
	sectionCode     = 0x0a
	sectionData     = 0x0b

	valueI64   = 0x7e
	funcType   = 0x60
	kindFunc   = 0x00
	kindMemory = 0x02

	opEnd      = 0x0b
	opCall     = 0x10
	opI32Const = 0x41
	opI64Const = 0x42
	opI64Add   = 0x7c
)

// ModuleSpec describes a synthetic guest module.
type ModuleSpec struct {
	// Functions is the number of extra unexported functions.
	Functions int
	// Instructions is the number of i64.add steps in the exported run function.
	Instructions int
	// MemoryPages is the initial memory size; zero means no memory.
	MemoryPages uint32
	// Data is copied to offset 0 of memory at instantiation.
	Data []byte
	// ImportDispatch makes call_host forward to env.dispatch.
	ImportDispatch bool
	// Nonce is stored in a custom section so otherwise equal modules differ.
	Nonce []byte
}

// BuildModule encodes spec as a wasm binary. "run" returns the number of
// executed additions.
func BuildModule(spec ModuleSpec) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// t0: () -> i64, t1: (i64) -> i64
	types := vec(2,
		[]byte{funcType, 0x00, 0x01, valueI64},
		[]byte{funcType, 0x01, valueI64, 0x01, valueI64},
	)
	out = appendSection(out, sectionType, types)

	imported := 0
	if spec.ImportDispatch {
		imp := name(HostModuleName)
		imp = append(imp, name(ImportDispatch)...)
		imp = append(imp, kindFunc, 0x01)
		out = appendSection(out, sectionImport, vec(1, imp))
		imported = 1
	}

	bodies := [][]byte{runBody(spec.Instructions)}
	if spec.ImportDispatch {
		bodies = append(bodies, []byte{0x00, opI64Const, 0x07, opCall, 0x00, opEnd})
	}
	for range spec.Functions {
		bodies = append(bodies, []byte{0x00, opI64Const, 0x00, opEnd})
	}

	funcs := make([][]byte, len(bodies))
	for i := range funcs {
		funcs[i] = []byte{0x00}
	}
	out = appendSection(out, sectionFunction, vec(len(funcs), funcs...))

	if spec.MemoryPages > 0 {
		out = appendSection(out, sectionMemory, vec(1, append([]byte{0x00}, uleb(uint64(spec.MemoryPages))...)))
	}

	exports := [][]byte{exportEntry(ExportRun, kindFunc, imported)}
	if spec.ImportDispatch {
		exports = append(exports, exportEntry(ExportCallHost, kindFunc, imported+1))
	}
	if spec.MemoryPages > 0 {
		exports = append(exports, exportEntry(ExportMemory, kindMemory, 0))
	}
	out = appendSection(out, sectionExport, vec(len(exports), exports...))

	code := make([][]byte, len(bodies))
	for i, b := range bodies {
		code[i] = append(uleb(uint64(len(b))), b...)
	}
	out = appendSection(out, sectionCode, vec(len(code), code...))

	if spec.MemoryPages > 0 && len(spec.Data) > 0 {
		seg := []byte{0x00, opI32Const, 0x00, opEnd}
		seg = append(seg, uleb(uint64(len(spec.Data)))...)
		seg = append(seg, spec.Data...)
		out = appendSection(out, sectionData, vec(1, seg))
	}

	if len(spec.Nonce) > 0 {
		custom := name("nonce")
		custom = append(custom, spec.Nonce...)
		out = appendSection(out, sectionCustom, custom)
	}

	return out
}

func runBody(n int) []byte {
	body := make([]byte, 0, 4+3*n)
	body = append(body, 0x00, opI64Const, 0x00)
	for range n {
		body = append(body, opI64Const, 0x01, opI64Add)
	}
	return append(body, opEnd)
}

func exportEntry(field string, kind byte, index int) []byte {
	e := name(field)
	e = append(e, kind)
	return append(e, uleb(uint64(index))...)
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func vec(n int, items ...[]byte) []byte {
	out := uleb(uint64(n))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
