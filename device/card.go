// Package device holds the contracts of the card collaborators: the
// command channel used by the operation runtime, the capability table and
// the readers and event sources used by the slot registry.
package device

import (
	"fmt"

	"github.com/niclabs/cardmw/objects"
)

// Algorithm is the family a capability entry or an environment refers to.
type Algorithm int

const (
	AlgorithmRSA Algorithm = iota + 1
	AlgorithmEC
	AlgorithmEdDSA
	AlgorithmXEdDSA
	AlgorithmGOST
	AlgorithmAES
	AlgorithmDES
	Algorithm3DES
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSA:
		return "RSA"
	case AlgorithmEC:
		return "EC"
	case AlgorithmEdDSA:
		return "EDDSA"
	case AlgorithmXEdDSA:
		return "XEDDSA"
	case AlgorithmGOST:
		return "GOSTR3410"
	case AlgorithmAES:
		return "AES"
	case AlgorithmDES:
		return "DES"
	case Algorithm3DES:
		return "3DES"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// AlgorithmInfo is one capability entry: the card can run Algorithm with
// keys of KeyLength bits using the options in Flags.
type AlgorithmInfo struct {
	Algorithm Algorithm
	KeyLength int
	Flags     AlgFlags
	Reference int
}

// Primitive is a single-shot card command.
type Primitive func(card Card, in []byte) ([]byte, error)

// Card is the command channel of one physical card. Implementations must
// make Lock exclusive between goroutines; the runtime holds it for the
// whole select, set environment and execute sequence.
type Card interface {
	Lock() error
	Unlock() error

	SelectFile(path objects.Path) error
	SetSecurityEnv(env *SecurityEnv) error

	Decipher(in []byte) ([]byte, error)
	ComputeSignature(in []byte) ([]byte, error)
	Wrap(in []byte) ([]byte, error)
	Unwrap(in []byte) ([]byte, error)
	EncryptSym(in []byte) ([]byte, error)
	DecryptSym(in []byte) ([]byte, error)

	// FindAlgorithm returns the first capability entry for alg and size.
	FindAlgorithm(alg Algorithm, keyLength int) (*AlgorithmInfo, bool)
}

// PINVerifier is implemented by cards that accept PIN verification.
type PINVerifier interface {
	VerifyPIN(reference int, pin []byte) error
}

// Canceller is implemented by cards whose pending exchanges can be aborted.
type Canceller interface {
	Cancel()
}

// TokenInitializer is implemented by cards that can be (re)initialized.
type TokenInitializer interface {
	InitToken(soPIN []byte, label string) error
}

// Decipher, ComputeSignature, Wrap, Unwrap, EncryptSym and DecryptSym as
// Primitive values.
var (
	Decipher         Primitive = func(c Card, in []byte) ([]byte, error) { return c.Decipher(in) }
	ComputeSignature Primitive = func(c Card, in []byte) ([]byte, error) { return c.ComputeSignature(in) }
	Wrap             Primitive = func(c Card, in []byte) ([]byte, error) { return c.Wrap(in) }
	Unwrap           Primitive = func(c Card, in []byte) ([]byte, error) { return c.Unwrap(in) }
	EncryptSym       Primitive = func(c Card, in []byte) ([]byte, error) { return c.EncryptSym(in) }
	DecryptSym       Primitive = func(c Card, in []byte) ([]byte, error) { return c.DecryptSym(in) }
)
