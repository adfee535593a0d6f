package virtual

import (
	"crypto"
	"crypto/rsa"
	"math/big"

	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/tcrsa"
	"github.com/pkg/errors"
)

// rsaEngine applies the private exponent to a modulus sized block.
type rsaEngine interface {
	size() int
	private(in []byte) ([]byte, error)
}

func checkBlock(in []byte, n *big.Int) (*big.Int, error) {
	if len(in) != (n.BitLen()+7)/8 {
		return nil, objects.NewError("virtual.rsa", "input length does not match the modulus", pkcs11.CKR_DATA_LEN_RANGE)
	}
	m := new(big.Int).SetBytes(in)
	if m.Cmp(n) >= 0 {
		return nil, objects.NewError("virtual.rsa", "input is not smaller than the modulus", objects.InvalidData)
	}
	return m, nil
}

type plainRSA struct {
	key *rsa.PrivateKey
}

func (r *plainRSA) size() int {
	return r.key.Size()
}

func (r *plainRSA) private(in []byte) ([]byte, error) {
	m, err := checkBlock(in, r.key.N)
	if err != nil {
		return nil, err
	}
	c := new(big.Int).Exp(m, r.key.D, r.key.N)
	return c.FillBytes(make([]byte, r.size())), nil
}

// thresholdRSA signs with k of the key shares and joins the results.
type thresholdRSA struct {
	shares tcrsa.KeyShareList
	meta   *tcrsa.KeyMeta
	k      int
}

func (r *thresholdRSA) size() int {
	return r.meta.PublicKey.Size()
}

// private returns the joined signature as produced by tcrsa, without
// leading zero bytes.
func (r *thresholdRSA) private(in []byte) ([]byte, error) {
	if _, err := checkBlock(in, r.meta.PublicKey.N); err != nil {
		return nil, err
	}
	sigShares := make(tcrsa.SigShareList, 0, r.k)
	for i, share := range r.shares[:r.k] {
		sigShare, err := share.Sign(in, crypto.SHA256, r.meta)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot create signature share %d", i+1)
		}
		if err := sigShare.Verify(in, r.meta); err != nil {
			return nil, errors.Wrapf(err, "signature share %d is invalid", i+1)
		}
		sigShares = append(sigShares, sigShare)
	}
	sig, err := sigShares.Join(in, r.meta)
	if err != nil {
		return nil, errors.Wrap(err, "cannot join signature shares")
	}
	out := new(big.Int).SetBytes(sig)
	return out.Bytes(), nil
}
