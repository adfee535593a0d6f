package objects

import "fmt"

// KeyClass separates private keys, secret keys and the rest. Only private
// and secret keys can be used by the operation runtime.
type KeyClass int

const (
	ClassPublic KeyClass = iota
	ClassPrivate
	ClassSecret
	ClassCertificate
)

func (c KeyClass) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassPrivate:
		return "private"
	case ClassSecret:
		return "secret"
	case ClassCertificate:
		return "certificate"
	default:
		return fmt.Sprintf("KeyClass(%d)", int(c))
	}
}

// KeyType is the algorithm family of a key.
type KeyType int

const (
	KeyRSA KeyType = iota
	KeyEC
	KeyEdDSA
	KeyXEdDSA
	KeyGOST
	KeyAES
	KeyDES
	Key3DES
	KeyGeneric
)

var keyTypeNames = map[KeyType]string{
	KeyRSA:     "rsa",
	KeyEC:      "ec",
	KeyEdDSA:   "eddsa",
	KeyXEdDSA:  "xeddsa",
	KeyGOST:    "gostr3410",
	KeyAES:     "aes",
	KeyDES:     "des",
	Key3DES:    "3des",
	KeyGeneric: "generic",
}

func (t KeyType) String() string {
	if name, ok := keyTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("KeyType(%d)", int(t))
}

// ParseKeyType is the inverse of KeyType.String.
func ParseKeyType(name string) (KeyType, error) {
	for t, n := range keyTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, NewError("objects.ParseKeyType", "unknown key type "+name, InvalidArguments)
}

// Usage is the key usage bitmask, in PKCS#15 bit order.
type Usage uint32

const (
	UsageEncrypt Usage = 1 << iota
	UsageDecrypt
	UsageSign
	UsageSignRecover
	UsageWrap
	UsageUnwrap
	UsageVerify
	UsageVerifyRecover
	UsageDerive
	UsageNonRepudiation
)

const (
	UsageAnySign     = UsageSign | UsageNonRepudiation
	UsageAnyDecipher = UsageDecrypt | UsageUnwrap
)

// Has reports whether any bit of mask is set.
func (u Usage) Has(mask Usage) bool {
	return u&mask != 0
}

// KeyHandle identifies a key enrolled in the token's key directory. The
// class tag decides how Size is read: modulus bits for RSA and GOST keys,
// field bits for EC, EdDSA and XEdDSA keys, and key bits for secret keys.
// Handles are only read by the runtime.
type KeyHandle struct {
	ID     string
	Label  string
	Class  KeyClass
	Type   KeyType
	Usage  Usage
	Path   Path
	Native bool
	Size   int
	KeyRef *int
}

// IsPrivate reports whether the handle is a private key.
func (k *KeyHandle) IsPrivate() bool {
	return k.Class == ClassPrivate
}

// IsSecret reports whether the handle is a secret key.
func (k *KeyHandle) IsSecret() bool {
	return k.Class == ClassSecret
}

// ModulusBits returns the modulus length of RSA and GOST private keys.
func (k *KeyHandle) ModulusBits() int {
	if k.IsPrivate() && (k.Type == KeyRSA || k.Type == KeyGOST) {
		return k.Size
	}
	return 0
}

// FieldBits returns the field length of EC family private keys.
func (k *KeyHandle) FieldBits() int {
	if k.IsPrivate() && (k.Type == KeyEC || k.Type == KeyEdDSA || k.Type == KeyXEdDSA) {
		return k.Size
	}
	return 0
}

// ValueBits returns the key length of secret keys.
func (k *KeyHandle) ValueBits() int {
	if k.IsSecret() {
		return k.Size
	}
	return 0
}

func (k *KeyHandle) String() string {
	return fmt.Sprintf("%s %s key %q (%d bits)", k.Class, k.Type, k.Label, k.Size)
}

// Ref returns a pointer to a key reference.
func Ref(ref int) *int {
	return &ref
}

// BytesForBits returns the number of bytes needed to hold bits.
func BytesForBits(bits int) int {
	return (bits + 7) / 8
}
