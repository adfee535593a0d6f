package criptoki

import (
	"context"

	"github.com/google/logger"
	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/objects"
)

// InterfaceName is the name of the standard Cryptoki interfaces.
const InterfaceName = "PKCS 11"

// CKF_INTERFACE_FORK_SAFE of Cryptoki 3.0, missing in pkcs11 v1.1.1.
const InterfaceForkSafe = 0x1

// MessageFunc is the shape of the message based functions, which this
// module does not implement.
type MessageFunc func(session uint, args ...any) error

// FunctionList is the Cryptoki 2.20 function table of a module.
type FunctionList struct {
	Version pkcs11.Version

	Initialize func(args *InitArgs) error
	Finalize   func() error
	GetInfo    func() (pkcs11.Info, error)

	GetSlotList      func(tokenPresent bool) ([]uint, error)
	GetSlotInfo      func(slot uint) (pkcs11.SlotInfo, error)
	GetTokenInfo     func(slot uint) (pkcs11.TokenInfo, error)
	GetMechanismList func(slot uint) ([]uint, error)
	InitToken        func(slot uint, soPIN []byte, label string) error
	WaitForSlotEvent func(ctx context.Context, flags uint) (uint, error)

	OpenSession      func(slot uint, flags uint) (uint, error)
	CloseSession     func(session uint) error
	CloseAllSessions func(slot uint) error
	GetSessionInfo   func(session uint) (pkcs11.SessionInfo, error)
	Login            func(session uint, userType uint, pin []byte) error
	Logout           func(session uint) error

	FindObjectsInit   func(session uint, template []*pkcs11.Attribute) error
	FindObjects       func(session uint, max int) ([]uint, error)
	FindObjectsFinal  func(session uint) error
	GetAttributeValue func(session, object uint, template []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)

	EncryptInit   func(session uint, mech *Mechanism, key uint) error
	Encrypt       func(session uint, data []byte) ([]byte, error)
	EncryptUpdate func(session uint, data []byte) ([]byte, error)
	EncryptFinal  func(session uint) ([]byte, error)
	DecryptInit   func(session uint, mech *Mechanism, key uint) error
	Decrypt       func(session uint, data []byte) ([]byte, error)
	DecryptUpdate func(session uint, data []byte) ([]byte, error)
	DecryptFinal  func(session uint) ([]byte, error)
	SignInit      func(session uint, mech *Mechanism, key uint) error
	Sign          func(session uint, data []byte) ([]byte, error)
	SignUpdate    func(session uint, data []byte) error
	SignFinal     func(session uint) ([]byte, error)

	DeriveKey func(session uint, mech *Mechanism, base uint) ([]byte, error)
	WrapKey   func(session uint, mech *Mechanism, wrapping, key uint) ([]byte, error)
	UnwrapKey func(session uint, mech *Mechanism, unwrapping uint, wrapped []byte, template []*pkcs11.Attribute) (uint, error)
}

// FunctionList3 is the Cryptoki 3.0 function table.
type FunctionList3 struct {
	FunctionList

	GetInterfaceList func(buf []Interface) (int, error)
	GetInterface     func(name string, version *pkcs11.Version, flags uint) (*Interface, error)
	LoginUser        func(session uint, userType uint, pin []byte, username string) error
	SessionCancel    func(session uint, flags uint) error

	MessageEncryptInit  MessageFunc
	EncryptMessage      MessageFunc
	EncryptMessageBegin MessageFunc
	EncryptMessageNext  MessageFunc
	MessageEncryptFinal MessageFunc
	MessageDecryptInit  MessageFunc
	DecryptMessage      MessageFunc
	DecryptMessageBegin MessageFunc
	DecryptMessageNext  MessageFunc
	MessageDecryptFinal MessageFunc
	MessageSignInit     MessageFunc
	SignMessage         MessageFunc
	SignMessageBegin    MessageFunc
	SignMessageNext     MessageFunc
	MessageSignFinal    MessageFunc
	MessageVerifyInit   MessageFunc
	VerifyMessage       MessageFunc
	VerifyMessageBegin  MessageFunc
	VerifyMessageNext   MessageFunc
	MessageVerifyFinal  MessageFunc
}

// Interface is a named function table. Functions is a *FunctionList3 or a
// *FunctionList.
type Interface struct {
	Name      string
	Functions any
	Flags     uint
}

// Version returns the Cryptoki version of the table of i.
func (i Interface) Version() pkcs11.Version {
	switch f := i.Functions.(type) {
	case *FunctionList3:
		return f.Version
	case *FunctionList:
		return f.Version
	default:
		return pkcs11.Version{}
	}
}

func notSupported(name string) MessageFunc {
	return func(uint, ...any) error {
		return objects.NewError("Module."+name, "message based functions are not supported", objects.NotSupported)
	}
}

func (m *Module) functionList(version pkcs11.Version, getInfo func() (pkcs11.Info, error)) FunctionList {
	return FunctionList{
		Version:           version,
		Initialize:        m.Initialize,
		Finalize:          m.Finalize,
		GetInfo:           getInfo,
		GetSlotList:       m.GetSlotList,
		GetSlotInfo:       m.GetSlotInfo,
		GetTokenInfo:      m.GetTokenInfo,
		GetMechanismList:  m.GetMechanismList,
		InitToken:         m.InitToken,
		WaitForSlotEvent:  m.WaitForSlotEvent,
		OpenSession:       m.OpenSession,
		CloseSession:      m.CloseSession,
		CloseAllSessions:  m.CloseAllSessions,
		GetSessionInfo:    m.GetSessionInfo,
		Login:             m.Login,
		Logout:            m.Logout,
		FindObjectsInit:   m.FindObjectsInit,
		FindObjects:       m.FindObjects,
		FindObjectsFinal:  m.FindObjectsFinal,
		GetAttributeValue: m.GetAttributeValue,
		EncryptInit:       m.EncryptInit,
		Encrypt:           m.Encrypt,
		EncryptUpdate:     m.EncryptUpdate,
		EncryptFinal:      m.EncryptFinal,
		DecryptInit:       m.DecryptInit,
		Decrypt:           m.Decrypt,
		DecryptUpdate:     m.DecryptUpdate,
		DecryptFinal:      m.DecryptFinal,
		SignInit:          m.SignInit,
		Sign:              m.Sign,
		SignUpdate:        m.SignUpdate,
		SignFinal:         m.SignFinal,
		DeriveKey:         m.DeriveKey,
		WrapKey:           m.WrapKey,
		UnwrapKey:         m.UnwrapKey,
	}
}

// interfaces builds the interface table of m. The first entry is the
// default interface.
func (m *Module) interfaces() []Interface {
	m.tablesOnce.Do(func() {
		v2 := m.functionList(pkcs11.Version{Major: 2, Minor: 20}, m.GetInfoV2)
		v3 := &FunctionList3{
			FunctionList:        m.functionList(pkcs11.Version{Major: 3, Minor: 0}, m.GetInfo),
			GetInterfaceList:    m.GetInterfaceList,
			GetInterface:        m.GetInterface,
			LoginUser:           m.LoginUser,
			SessionCancel:       m.SessionCancel,
			MessageEncryptInit:  notSupported("MessageEncryptInit"),
			EncryptMessage:      notSupported("EncryptMessage"),
			EncryptMessageBegin: notSupported("EncryptMessageBegin"),
			EncryptMessageNext:  notSupported("EncryptMessageNext"),
			MessageEncryptFinal: notSupported("MessageEncryptFinal"),
			MessageDecryptInit:  notSupported("MessageDecryptInit"),
			DecryptMessage:      notSupported("DecryptMessage"),
			DecryptMessageBegin: notSupported("DecryptMessageBegin"),
			DecryptMessageNext:  notSupported("DecryptMessageNext"),
			MessageDecryptFinal: notSupported("MessageDecryptFinal"),
			MessageSignInit:     notSupported("MessageSignInit"),
			SignMessage:         notSupported("SignMessage"),
			SignMessageBegin:    notSupported("SignMessageBegin"),
			SignMessageNext:     notSupported("SignMessageNext"),
			MessageSignFinal:    notSupported("MessageSignFinal"),
			MessageVerifyInit:   notSupported("MessageVerifyInit"),
			VerifyMessage:       notSupported("VerifyMessage"),
			VerifyMessageBegin:  notSupported("VerifyMessageBegin"),
			VerifyMessageNext:   notSupported("VerifyMessageNext"),
			MessageVerifyFinal:  notSupported("MessageVerifyFinal"),
		}
		m.tables = []Interface{
			{Name: InterfaceName, Functions: v3},
			{Name: InterfaceName, Functions: &v2},
		}
	})
	return m.tables
}

// GetFunctionList returns the Cryptoki 2.20 table.
func (m *Module) GetFunctionList() *FunctionList {
	return m.interfaces()[1].Functions.(*FunctionList)
}

// GetInterfaceList copies the interfaces of the module into buf and
// returns their number. A nil buf only asks for the number; a buf that is
// too short fails with CKR_BUFFER_TOO_SMALL.
func (m *Module) GetInterfaceList(buf []Interface) (int, error) {
	ifaces := m.interfaces()
	if buf == nil {
		return len(ifaces), nil
	}
	if len(buf) < len(ifaces) {
		return len(ifaces), logError(objects.NewBufferError("Module.GetInterfaceList", len(ifaces)))
	}
	return copy(buf, ifaces), nil
}

// GetInterface returns the first interface called name whose version is
// version, when given, and whose flags include flags. An empty name
// returns the default interface.
func (m *Module) GetInterface(name string, version *pkcs11.Version, flags uint) (*Interface, error) {
	ifaces := m.interfaces()
	if name == "" {
		return &ifaces[0], nil
	}
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Name != name {
			continue
		}
		if version != nil && *version != iface.Version() {
			continue
		}
		if flags&iface.Flags != flags {
			continue
		}
		return iface, nil
	}
	logger.Warningf("interface not found: %s, version %v, flags %d", name, version, flags)
	return nil, objects.NewError("Module.GetInterface", "interface not found", pkcs11.CKR_ARGUMENTS_BAD)
}
