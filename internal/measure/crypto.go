package measure

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/rand/v2"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/host"
)

const (
	signStep         = 256
	keyAttempts      = 16
	compactKeyBase   = 27 + 4
	cryptoIterations = 100
)

func computeEd25519PubKey(env *Env) calibration.Measurement {
	return newOp(domain.ComputeEd25519PubKey, cryptoIterations,
		fixedSize(func(rng *rand.Rand) ([]byte, error) {
			priv := ed25519.NewKeyFromSeed(randomBytes(rng, ed25519.SeedSize))
			return priv.Public().(ed25519.PublicKey), nil
		}),
		func(raw []byte) error {
			return ignore(func() (ed25519.PublicKey, error) { return env.host.Ed25519PubKey(raw) })
		})
}

type ed25519Input struct {
	pub ed25519.PublicKey
	msg []byte
	sig []byte
}

func verifyEd25519Sig(env *Env) calibration.Measurement {
	gen := func(_ calibration.Case, rng *rand.Rand, scale uint64) (*sample[ed25519Input], error) {
		priv := ed25519.NewKeyFromSeed(randomBytes(rng, ed25519.SeedSize))
		msg := randomBytes(rng, signStep*scale)
		in := ed25519Input{
			pub: priv.Public().(ed25519.PublicKey),
			msg: msg,
			sig: ed25519.Sign(priv, msg),
		}
		return newSample(in, domain.InputOf(uint64(len(msg)))), nil
	}
	return newOp(domain.VerifyEd25519Sig, cryptoIterations, gen,
		func(in ed25519Input) error {
			return env.host.VerifyEd25519Sig(in.pub, in.msg, in.sig)
		})
}

type secp256k1Input struct {
	hash       []byte
	compact    []byte
	sig        host.Secp256k1Signature
	recoveryID byte
}

// signSecp256k1 signs a random digest. Signing is deterministic (RFC 6979),
// so samples depend only on rng.
func signSecp256k1(rng *rand.Rand) (secp256k1Input, error) {
	priv, _ := btcec.PrivKeyFromBytes(randomBytes(rng, 32))
	hash := randomBytes(rng, sha256.Size)
	compact, err := btcecdsa.SignCompact(priv, hash, true)
	if err != nil {
		return secp256k1Input{}, err
	}

	in := secp256k1Input{hash: hash, compact: compact[1:], recoveryID: compact[0] - compactKeyBase}
	in.sig.R.SetByteSlice(compact[1:33])
	in.sig.S.SetByteSlice(compact[33:65])
	return in, nil
}

func decodeEcdsaCurve256Sig(env *Env) calibration.Measurement {
	return newOp(domain.DecodeEcdsaCurve256Sig, cryptoIterations,
		fixedSize(func(rng *rand.Rand) ([]byte, error) {
			in, err := signSecp256k1(rng)
			return in.compact, err
		}),
		func(raw []byte) error {
			return ignore(func() (*host.Secp256k1Signature, error) { return env.host.DecodeEcdsaCurve256Sig(raw) })
		})
}

func recoverEcdsaSecp256k1Key(env *Env) calibration.Measurement {
	return newOp(domain.RecoverEcdsaSecp256k1Key, cryptoIterations, fixedSize(signSecp256k1),
		func(in secp256k1Input) error {
			return ignore(func() ([]byte, error) {
				return env.host.RecoverEcdsaSecp256k1Key(in.hash, &in.sig, in.recoveryID)
			})
		})
}

// p256Key derives a p-256 key from rng, redrawing the rare scalars outside
// the group order.
func p256Key(rng *rand.Rand) (*ecdsa.PrivateKey, error) {
	for range keyAttempts {
		priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), randomBytes(rng, 32))
		if err == nil {
			return priv, nil
		}
	}
	return nil, fmt.Errorf("no valid p-256 scalar after %d attempts", keyAttempts)
}

func sec1DecodePointUncompressed(env *Env) calibration.Measurement {
	return newOp(domain.Sec1DecodePointUncompressed, cryptoIterations,
		fixedSize(func(rng *rand.Rand) ([]byte, error) {
			priv, err := p256Key(rng)
			if err != nil {
				return nil, err
			}
			return priv.PublicKey.Bytes()
		}),
		func(raw []byte) error {
			return ignore(func() (*ecdsa.PublicKey, error) { return env.host.Sec1DecodePointUncompressed(raw) })
		})
}

type p256Input struct {
	pub  *ecdsa.PublicKey
	hash []byte
	sig  []byte
}

// verifyEcdsaSecp256r1Sig signs with fresh randomness. Verification cost does
// not depend on the nonce, only the key and digest come from rng.
func verifyEcdsaSecp256r1Sig(env *Env) calibration.Measurement {
	return newOp(domain.VerifyEcdsaSecp256r1Sig, cryptoIterations,
		fixedSize(func(rng *rand.Rand) (p256Input, error) {
			priv, err := p256Key(rng)
			if err != nil {
				return p256Input{}, err
			}
			hash := randomBytes(rng, sha256.Size)
			r, s, err := ecdsa.Sign(cryptorand.Reader, priv, hash)
			if err != nil {
				return p256Input{}, err
			}
			sig := make([]byte, host.SignatureSize)
			r.FillBytes(sig[:32])
			s.FillBytes(sig[32:])
			return p256Input{pub: &priv.PublicKey, hash: hash, sig: sig}, nil
		}),
		func(in p256Input) error {
			return env.host.VerifyEcdsaSecp256r1Sig(in.pub, in.hash, in.sig)
		})
}
