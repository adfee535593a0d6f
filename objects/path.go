package objects

import (
	"bytes"
	"encoding/hex"
)

// PathType tells how the device should interpret a path value.
type PathType int

const (
	PathTypeFileID PathType = iota
	PathTypePath
	PathTypeDFName
)

// FileIDLen is the length of a file identifier.
const FileIDLen = 2

// Path locates a file or an allocated object on the card. An empty Value
// with a non-empty AID designates an object allocated in an application DF.
type Path struct {
	Value []byte
	AID   []byte
	Type  PathType
}

// NewPath returns a path of type PathTypePath.
func NewPath(value ...byte) Path {
	return Path{Value: value, Type: PathTypePath}
}

// ParsePath decodes a hex path like "3F0050154401".
func ParsePath(s string) (Path, error) {
	v, err := hex.DecodeString(s)
	if err != nil {
		return Path{}, NewError("objects.ParsePath", err.Error(), InvalidArguments)
	}
	p := NewPath(v...)
	if len(v) == FileIDLen {
		p.Type = PathTypeFileID
	}
	return p, nil
}

// IsZero reports whether the path has neither value nor AID.
func (p Path) IsZero() bool {
	return len(p.Value) == 0 && len(p.AID) == 0
}

// IsAIDOnly reports whether the path designates an allocated object.
func (p Path) IsAIDOnly() bool {
	return len(p.Value) == 0 && len(p.AID) > 0
}

// Concat appends child to a copy of p.
func (p Path) Concat(child Path) Path {
	value := make([]byte, 0, len(p.Value)+len(child.Value))
	value = append(value, p.Value...)
	value = append(value, child.Value...)
	return Path{
		Value: value,
		AID:   p.AID,
		Type:  PathTypePath,
	}
}

// Clone returns a copy of p that shares no memory with it.
func (p Path) Clone() Path {
	return Path{
		Value: bytes.Clone(p.Value),
		AID:   bytes.Clone(p.AID),
		Type:  p.Type,
	}
}

// FileID returns the last file identifier of p.
func (p Path) FileID() Path {
	if len(p.Value) < FileIDLen {
		return Path{}
	}
	fid := make([]byte, FileIDLen)
	copy(fid, p.Value[len(p.Value)-FileIDLen:])
	return Path{Value: fid, Type: PathTypeFileID}
}

// Equals returns true if both paths are equal.
func (p Path) Equals(other Path) bool {
	return p.Type == other.Type &&
		bytes.Equal(p.Value, other.Value) &&
		bytes.Equal(p.AID, other.AID)
}

func (p Path) String() string {
	if p.IsAIDOnly() {
		return "aid:" + hex.EncodeToString(p.AID)
	}
	return hex.EncodeToString(p.Value)
}
