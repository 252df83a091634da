package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Params is a cost table mapping each CostType to its model.
type Params map[CostType]CostModel

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for ct, m := range p {
		out[ct] = m
	}
	return out
}

// Validate checks that p holds a model for every CostType released at version.
func (p Params) Validate(version ProtocolVersion) error {
	for ct := range p {
		if !ct.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownCostType, uint32(ct))
		}
	}
	for _, ct := range CostTypesFor(version) {
		if _, ok := p[ct]; !ok {
			return fmt.Errorf("%w: %s (protocol %d)", ErrUnconfiguredModel, ct, version)
		}
	}
	return nil
}

// Types returns the CostTypes in p in taxonomy order.
func (p Params) Types() []CostType {
	out := make([]CostType, 0, len(p))
	for ct := range p {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultParams returns the reference cost table for the current protocol.
func DefaultParams() Params {
	return Params{
		WasmInsnExec:                {CPUConst: 4},
		MemAlloc:                    {CPUConst: 434, CPULinear: 1, MemConst: 16, MemLinear: 1},
		MemCpy:                      {CPUConst: 42, CPULinear: 1},
		MemCmp:                      {CPUConst: 44, CPULinear: 1},
		DispatchHostFunction:        {CPUConst: 310},
		VisitObject:                 {CPUConst: 61},
		ValSer:                      {CPUConst: 230, CPULinear: 29, MemConst: 242, MemLinear: 3},
		ValDeser:                    {CPUConst: 59052, CPULinear: 4001, MemLinear: 3},
		ComputeSha256Hash:           {CPUConst: 3738, CPULinear: 7012},
		ComputeEd25519PubKey:        {CPUConst: 40253},
		VerifyEd25519Sig:            {CPUConst: 377524, CPULinear: 4068},
		VmInstantiation:             {CPUConst: 451626, CPULinear: 45405, MemConst: 130065, MemLinear: 5064},
		VmCachedInstantiation:       {CPUConst: 451626, CPULinear: 45405, MemConst: 130065, MemLinear: 5064},
		InvokeVmFunction:            {CPUConst: 1948, MemConst: 14},
		ComputeKeccak256Hash:        {CPUConst: 3766, CPULinear: 5969},
		DecodeEcdsaCurve256Sig:      {CPUConst: 710},
		RecoverEcdsaSecp256k1Key:    {CPUConst: 2315295, MemConst: 181},
		Int256AddSub:                {CPUConst: 4404, MemConst: 99},
		Int256Mul:                   {CPUConst: 4947, MemConst: 99},
		Int256Div:                   {CPUConst: 4911, MemConst: 99},
		Int256Pow:                   {CPUConst: 4286, MemConst: 99},
		Int256Shift:                 {CPUConst: 913, MemConst: 99},
		ChaCha20DrawBytes:           {CPUConst: 1058, CPULinear: 501},
		ParseWasmModule:             {CPUConst: 73077, CPULinear: 25410, MemConst: 17564, MemLinear: 6457},
		VmMemRead:                   {CPUConst: 48, CPULinear: 1},
		VmMemWrite:                  {CPUConst: 48, CPULinear: 1},
		Sec1DecodePointUncompressed: {CPUConst: 1882},
		VerifyEcdsaSecp256r1Sig:     {CPUConst: 3000906},
		Bls12381G1Add:               {CPUConst: 2958},
		Bls12381G1Mul:               {CPUConst: 2180055},
		Bls12381G1Msm:               {CPUConst: 10930, CPULinear: 1034002, MemConst: 1, MemLinear: 108},
		Bls12381MapFpToG1:           {CPUConst: 1514971, MemConst: 5552},
		Bls12381HashToG1:            {CPUConst: 3511004, CPULinear: 3220, MemConst: 9424, MemLinear: 1},
		Bls12381G2Add:               {CPUConst: 4766},
		Bls12381G2Mul:               {CPUConst: 8251055},
		Bls12381G2Msm:               {CPUConst: 19450, CPULinear: 3570128, MemConst: 1, MemLinear: 216},
		Bls12381HashToG2:            {CPUConst: 7021506, CPULinear: 7264, MemConst: 9484, MemLinear: 1},
		Bls12381Pairing:             {CPUConst: 10558948, CPULinear: 632860, MemConst: 2204, MemLinear: 9340},
		ComputeBlake3Hash:           {CPUConst: 1810, CPULinear: 1870},
	}
}

// ParamsSnapshot is a persisted calibration result.
type ParamsSnapshot struct {
	RunID     uuid.UUID       `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Protocol  ProtocolVersion `json:"protocol_version"`
	Seed      string          `json:"seed"`
	Models    []ModelEntry    `json:"models"`
}

// ModelEntry is one row of a snapshot.
type ModelEntry struct {
	CostType CostType  `json:"cost_type"`
	Model    CostModel `json:"model"`
}

// NewParamsSnapshot captures p under a fresh run id.
func NewParamsSnapshot(p Params, version ProtocolVersion, seed string, now time.Time) *ParamsSnapshot {
	snap := &ParamsSnapshot{
		RunID:     uuid.New(),
		CreatedAt: now.UTC(),
		Protocol:  version,
		Seed:      seed,
		Models:    make([]ModelEntry, 0, len(p)),
	}
	for _, ct := range p.Types() {
		snap.Models = append(snap.Models, ModelEntry{CostType: ct, Model: p[ct]})
	}
	return snap
}

// Params rebuilds the cost table held by the snapshot.
func (s *ParamsSnapshot) Params() Params {
	p := make(Params, len(s.Models))
	for _, e := range s.Models {
		p[e.CostType] = e.Model
	}
	return p
}
