package sec

import (
	"time"

	"github.com/google/logger"
	"github.com/niclabs/cardmw/device"
	"github.com/niclabs/cardmw/metrics"
	"github.com/niclabs/cardmw/objects"
)

// retryState is the state of an operation against the card. An operation
// starts in firstAttempt and moves to retried after one successful PIN
// revalidation; from retried every result is final.
type retryState int

const (
	firstAttempt retryState = iota
	retried
)

// keyPath returns the path to select for key, recording the file reference
// used into env. An AID-only path is selected as is, a 2-byte path is taken
// relative to the application DF and a longer path is selected as is with
// its last file id as the reference.
func (t *Token) keyPath(key *objects.KeyHandle, env *device.SecurityEnv) (objects.Path, error) {
	p := key.Path
	switch {
	case p.IsAIDOnly():
		return p, nil
	case len(p.Value) == objects.FileIDLen && t.AppDir != nil:
		env.SetFileRef(p)
		return t.AppDir.Concat(p), nil
	case len(p.Value) > objects.FileIDLen:
		env.SetFileRef(p.FileID())
		return p, nil
	default:
		return objects.Path{}, objects.NewError("sec.keyPath", "invalid private key path "+p.String(), objects.InvalidArguments)
	}
}

// targetPath resolves the location of the key being wrapped or unwrapped.
// A 2-byte path becomes the full path under the application DF and a
// longer path is reduced to its file id.
func (t *Token) targetPath(p objects.Path) (objects.Path, error) {
	switch {
	case p.IsAIDOnly():
		return p, nil
	case len(p.Value) == objects.FileIDLen && t.AppDir != nil:
		return t.AppDir.Concat(p), nil
	case len(p.Value) > objects.FileIDLen:
		return p.FileID(), nil
	default:
		return objects.Path{}, objects.NewError("sec.targetPath", "invalid target key path "+p.String(), objects.InvalidArguments)
	}
}

// prepare selects the key file when the key has a location and pushes env.
func (t *Token) prepare(key *objects.KeyHandle, env *device.SecurityEnv) error {
	if !key.Path.IsZero() {
		path, err := t.keyPath(key, env)
		if err != nil {
			return err
		}
		start := time.Now()
		err = t.Card.SelectFile(path)
		metrics.ObserveCall("select_file", start)
		if err != nil {
			logger.Warningf("unable to select key file %s: %s", path, err)
			return err
		}
	}
	start := time.Now()
	err := t.Card.SetSecurityEnv(env)
	metrics.ObserveCall("set_security_env", start)
	if err != nil {
		logger.Warningf("unable to set security environment: %s", err)
	}
	return err
}

func (t *Token) invoke(op device.Operation, prim device.Primitive, in []byte) ([]byte, error) {
	start := time.Now()
	out, err := prim(t.Card, in)
	metrics.ObserveCall(op.String(), start)
	return out, err
}

// withCard runs attempt with the card locked. A security status failure in
// the first attempt revalidates the cached PIN and runs attempt once more;
// the second result is returned as is. The card is unlocked on every path.
func (t *Token) withCard(op device.Operation, key *objects.KeyHandle, attempt func() ([]byte, error)) ([]byte, error) {
	if err := t.Card.Lock(); err != nil {
		return nil, err
	}
	defer t.Card.Unlock()

	state := firstAttempt
	for {
		out, err := attempt()
		if err == nil || state == retried || !objects.HasCode(err, objects.SecurityStatusNotSatisfied) {
			return out, err
		}
		if t.Pins == nil {
			return nil, err
		}
		if err := t.Pins.Revalidate(key); err != nil {
			return nil, err
		}
		metrics.RecordRetry(op.String())
		state = retried
	}
}

// execute selects the key, pushes env and runs prim over in. Every attempt
// repeats the whole sequence, so a retry never depends on what the failed
// attempt left behind on the card.
func (t *Token) execute(key *objects.KeyHandle, env *device.SecurityEnv, prim device.Primitive, in []byte) ([]byte, error) {
	return t.withCard(env.Operation, key, func() ([]byte, error) {
		if err := t.prepare(key, env); err != nil {
			return nil, err
		}
		return t.invoke(env.Operation, prim, in)
	})
}

// copyOut copies res into out and wipes res.
func copyOut(who string, out, res []byte) (int, error) {
	defer clear(res)
	if len(out) < len(res) {
		return 0, objects.NewBufferError(who, len(res))
	}
	return copy(out, res), nil
}
