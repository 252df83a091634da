package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ProtocolVersion identifies a release of the cost taxonomy.
type ProtocolVersion uint32

const (
	// MinProtocolVersion is the first version with a released cost taxonomy.
	MinProtocolVersion ProtocolVersion = 20

	// CurrentProtocolVersion is the newest taxonomy this build knows about.
	CurrentProtocolVersion ProtocolVersion = 22
)

// Shape describes whether an operation's cost depends on an input size.
type Shape uint8

const (
	// ShapeConstant operations have no input dimension; their linear terms are zero.
	ShapeConstant Shape = iota
	// ShapeLinear operations scale with a declared input size.
	ShapeLinear
)

func (s Shape) String() string {
	if s == ShapeLinear {
		return "linear"
	}
	return "constant"
}

// CostType identifies one chargeable host operation.
//
// Values are append-only: new kinds go at the end of the list and existing
// kinds are never renumbered or removed, so historical tables keep decoding.
type CostType uint32

const (
	WasmInsnExec CostType = iota
	MemAlloc
	MemCpy
	MemCmp
	DispatchHostFunction
	VisitObject
	ValSer
	ValDeser
	ComputeSha256Hash
	ComputeEd25519PubKey
	VerifyEd25519Sig
	VmInstantiation
	VmCachedInstantiation
	InvokeVmFunction
	ComputeKeccak256Hash
	DecodeEcdsaCurve256Sig
	RecoverEcdsaSecp256k1Key
	Int256AddSub
	Int256Mul
	Int256Div
	Int256Pow
	Int256Shift
	ChaCha20DrawBytes
	ParseWasmModule
	VmMemRead
	VmMemWrite
	Sec1DecodePointUncompressed
	VerifyEcdsaSecp256r1Sig
	Bls12381G1Add
	Bls12381G1Mul
	Bls12381G1Msm
	Bls12381MapFpToG1
	Bls12381HashToG1
	Bls12381G2Add
	Bls12381G2Mul
	Bls12381G2Msm
	Bls12381HashToG2
	Bls12381Pairing
	ComputeBlake3Hash

	numCostTypes
)

// Descriptor carries the versioning metadata of a CostType.
type Descriptor struct {
	Type        CostType
	Name        string
	Shape       Shape
	Since       ProtocolVersion
	Description string
}

//nolint:gochecknoglobals // Static taxonomy table
var descriptors = [numCostTypes]Descriptor{
	{WasmInsnExec, "WasmInsnExec", ShapeConstant, 20, "execution of one wasm instruction"},
	{MemAlloc, "MemAlloc", ShapeLinear, 20, "host heap allocation of n bytes"},
	{MemCpy, "MemCpy", ShapeLinear, 20, "copy of n bytes between host buffers"},
	{MemCmp, "MemCmp", ShapeLinear, 20, "comparison of two n byte buffers"},
	{DispatchHostFunction, "DispatchHostFunction", ShapeConstant, 20, "dispatch of a guest call to a host function"},
	{VisitObject, "VisitObject", ShapeConstant, 20, "lookup of a host object by handle"},
	{ValSer, "ValSer", ShapeLinear, 20, "serialization of a host value into n bytes"},
	{ValDeser, "ValDeser", ShapeLinear, 20, "deserialization of n bytes into a host value"},
	{ComputeSha256Hash, "ComputeSha256Hash", ShapeLinear, 20, "sha256 over n bytes"},
	{ComputeEd25519PubKey, "ComputeEd25519PubKey", ShapeConstant, 20, "decoding of an ed25519 public key"},
	{VerifyEd25519Sig, "VerifyEd25519Sig", ShapeLinear, 20, "ed25519 verification of an n byte message"},
	{VmInstantiation, "VmInstantiation", ShapeLinear, 20, "parse and instantiate an n byte wasm module"},
	{VmCachedInstantiation, "VmCachedInstantiation", ShapeLinear, 20, "instantiate an already compiled n byte module"},
	{InvokeVmFunction, "InvokeVmFunction", ShapeConstant, 20, "call into a guest function"},
	{ComputeKeccak256Hash, "ComputeKeccak256Hash", ShapeLinear, 20, "keccak256 over n bytes"},
	{DecodeEcdsaCurve256Sig, "DecodeEcdsaCurve256Sig", ShapeConstant, 20, "decoding of a 64 byte ecdsa signature"},
	{RecoverEcdsaSecp256k1Key, "RecoverEcdsaSecp256k1Key", ShapeConstant, 20, "secp256k1 public key recovery"},
	{Int256AddSub, "Int256AddSub", ShapeConstant, 20, "256-bit addition or subtraction"},
	{Int256Mul, "Int256Mul", ShapeConstant, 20, "256-bit multiplication"},
	{Int256Div, "Int256Div", ShapeConstant, 20, "256-bit division or remainder"},
	{Int256Pow, "Int256Pow", ShapeConstant, 20, "256-bit exponentiation"},
	{Int256Shift, "Int256Shift", ShapeConstant, 20, "256-bit shift"},
	{ChaCha20DrawBytes, "ChaCha20DrawBytes", ShapeLinear, 20, "drawing n bytes from the chacha20 prng"},
	{ParseWasmModule, "ParseWasmModule", ShapeLinear, 21, "parsing and validating an n byte wasm module"},
	{VmMemRead, "VmMemRead", ShapeLinear, 21, "reading n bytes out of guest linear memory"},
	{VmMemWrite, "VmMemWrite", ShapeLinear, 21, "writing n bytes into guest linear memory"},
	{Sec1DecodePointUncompressed, "Sec1DecodePointUncompressed", ShapeConstant, 21, "decoding an uncompressed sec1 p-256 point"},
	{VerifyEcdsaSecp256r1Sig, "VerifyEcdsaSecp256r1Sig", ShapeConstant, 21, "p-256 ecdsa verification of a prehashed message"},
	{Bls12381G1Add, "Bls12381G1Add", ShapeConstant, 22, "bls12-381 g1 point addition"},
	{Bls12381G1Mul, "Bls12381G1Mul", ShapeConstant, 22, "bls12-381 g1 scalar multiplication"},
	{Bls12381G1Msm, "Bls12381G1Msm", ShapeLinear, 22, "bls12-381 g1 multi-scalar multiplication of n pairs"},
	{Bls12381MapFpToG1, "Bls12381MapFpToG1", ShapeConstant, 22, "bls12-381 map of a field element to g1"},
	{Bls12381HashToG1, "Bls12381HashToG1", ShapeLinear, 22, "bls12-381 hash of n bytes to g1"},
	{Bls12381G2Add, "Bls12381G2Add", ShapeConstant, 22, "bls12-381 g2 point addition"},
	{Bls12381G2Mul, "Bls12381G2Mul", ShapeConstant, 22, "bls12-381 g2 scalar multiplication"},
	{Bls12381G2Msm, "Bls12381G2Msm", ShapeLinear, 22, "bls12-381 g2 multi-scalar multiplication of n pairs"},
	{Bls12381HashToG2, "Bls12381HashToG2", ShapeLinear, 22, "bls12-381 hash of n bytes to g2"},
	{Bls12381Pairing, "Bls12381Pairing", ShapeLinear, 22, "bls12-381 pairing check over n pairs"},
	{ComputeBlake3Hash, "ComputeBlake3Hash", ShapeLinear, 22, "blake3 over n bytes"},
}

// Valid reports whether ct names a known CostType.
func (ct CostType) Valid() bool {
	return ct < numCostTypes
}

// Descriptor returns the metadata of ct.
func (ct CostType) Descriptor() Descriptor {
	if !ct.Valid() {
		return Descriptor{Type: ct, Name: fmt.Sprintf("CostType(%d)", uint32(ct))}
	}
	return descriptors[ct]
}

func (ct CostType) String() string {
	return ct.Descriptor().Name
}

// Shape returns whether ct has an input dimension.
func (ct CostType) Shape() Shape {
	return ct.Descriptor().Shape
}

// HasInput reports whether ct scales with an input size.
func (ct CostType) HasInput() bool {
	return ct.Shape() == ShapeLinear
}

// MarshalText encodes ct by name.
func (ct CostType) MarshalText() ([]byte, error) {
	if !ct.Valid() {
		return nil, fmt.Errorf("unknown cost type %d", uint32(ct))
	}
	return []byte(ct.String()), nil
}

// UnmarshalText decodes a CostType name.
func (ct *CostType) UnmarshalText(text []byte) error {
	parsed, err := ParseCostType(string(text))
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

// ParseCostType resolves a CostType by case-insensitive name.
func ParseCostType(name string) (CostType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("cost type name cannot be empty")
	}
	for _, d := range descriptors {
		if strings.EqualFold(d.Name, name) {
			return d.Type, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownCostType, name)
}

// AllCostTypes returns every CostType known to this build, in order.
func AllCostTypes() []CostType {
	return CostTypesFor(CurrentProtocolVersion)
}

// CostTypesFor returns the closed set of CostTypes released at or before version.
func CostTypesFor(version ProtocolVersion) []CostType {
	out := make([]CostType, 0, numCostTypes)
	for _, d := range descriptors {
		if d.Since <= version {
			out = append(out, d.Type)
		}
	}
	return out
}
