package device

import (
	"fmt"
	"slices"

	"github.com/niclabs/cardmw/objects"
)

// MaxEnvParams is the capacity of the auxiliary parameter list.
const MaxEnvParams = 10

// Operation is the kind of operation an environment is prepared for.
type Operation int

const (
	OpDecipher Operation = iota + 1
	OpSign
	OpDerive
	OpWrap
	OpUnwrap
	OpEncryptSym
	OpDecryptSym
)

var operationNames = map[Operation]string{
	OpDecipher:   "decipher",
	OpSign:       "sign",
	OpDerive:     "derive",
	OpWrap:       "wrap",
	OpUnwrap:     "unwrap",
	OpEncryptSym: "encrypt_sym",
	OpDecryptSym: "decrypt_sym",
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(op))
}

// EnvFlags mark which optional fields of a SecurityEnv are set.
type EnvFlags uint

const (
	EnvAlgPresent EnvFlags = 1 << iota
	EnvAlgRefPresent
	EnvFileRefPresent
	EnvKeyRefPresent
)

// ParamKind identifies an auxiliary environment parameter.
type ParamKind int

const (
	ParamIV ParamKind = iota + 1
	ParamTargetFile
)

// Param is an auxiliary environment parameter. TargetFile parameters carry
// the target location in Path, IV parameters carry the bytes in Value.
type Param struct {
	Kind  ParamKind
	Value []byte
	Path  objects.Path
}

// SecurityEnv is what the card must be told before running a primitive.
// It is built per call and zeroed when the call ends.
type SecurityEnv struct {
	Flags          EnvFlags
	Operation      Operation
	Algorithm      Algorithm
	KeySizeBits    int
	AlgorithmRef   uint
	KeyRef         []byte
	FileRef        objects.Path
	AlgorithmFlags AlgFlags
	Params         []Param
	Supported      objects.SupportedAlgorithms
}

// AddParam appends p. The list never grows past MaxEnvParams.
func (env *SecurityEnv) AddParam(p Param) error {
	if len(env.Params) >= MaxEnvParams {
		return objects.NewError("SecurityEnv.AddParam", "too many environment parameters", objects.InvalidArguments)
	}
	env.Params = append(env.Params, p)
	return nil
}

// Param returns the first parameter of the given kind.
func (env *SecurityEnv) Param(kind ParamKind) (Param, bool) {
	for _, p := range env.Params {
		if p.Kind == kind {
			return p, true
		}
	}
	return Param{}, false
}

// Has reports whether all of flags are set.
func (env *SecurityEnv) Has(flags EnvFlags) bool {
	return env.Flags&flags == flags
}

// SetFileRef records the file reference used to address the key.
func (env *SecurityEnv) SetFileRef(p objects.Path) {
	env.FileRef = p
	env.Flags |= EnvFileRefPresent
}

// Zero clears the environment, overwriting parameter bytes.
func (env *SecurityEnv) Zero() {
	for i := range env.Params {
		clear(env.Params[i].Value)
	}
	clear(env.KeyRef)
	*env = SecurityEnv{}
}

// Clone returns a deep copy of env that survives env.Zero.
func (env *SecurityEnv) Clone() *SecurityEnv {
	out := *env
	out.KeyRef = slices.Clone(env.KeyRef)
	out.FileRef = env.FileRef.Clone()
	out.Supported = env.Supported.Clone()
	out.Params = make([]Param, len(env.Params))
	for i, p := range env.Params {
		out.Params[i] = Param{
			Kind:  p.Kind,
			Value: slices.Clone(p.Value),
			Path:  p.Path.Clone(),
		}
	}
	return &out
}
