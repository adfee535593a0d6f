package main

import (
	"crypto/elliptic"
	"encoding/hex"
	"fmt"

	"github.com/niclabs/cardmw/objects"
	"github.com/spf13/cobra"
)

type keygenOptions struct {
	token     string
	keyType   string
	label     string
	id        string
	bits      int
	threshold []uint
}

func newKeygenCmd(a *app) *cobra.Command {
	var opts keygenOptions
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key on a virtual token",
		Long: `Generate a key on the virtual token of a reader. The key is stored in the
application DF under the given file id and saved in the key directory.

Key types: rsa, ec, eddsa, xeddsa, aes.

Examples:
  cardmw keygen --token alpha --type ec --bits 256 --label ecdh --id 4402
  cardmw keygen --token alpha --type rsa --bits 1024 --threshold 2,3 --label shared --id 4403`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.keygen(cmd, &opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.token, "token", "", "token label (required)")
	f.StringVar(&opts.keyType, "type", "rsa", "key type")
	f.StringVar(&opts.label, "label", "", "key label (required)")
	f.StringVar(&opts.id, "id", "", "hex file id of the key (required)")
	f.IntVar(&opts.bits, "bits", 2048, "key size: modulus bits, curve bits or AES key bits")
	f.UintSliceVar(&opts.threshold, "threshold", nil, "k,l to split an RSA key in l shares, k of which sign")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

var curves = map[int]elliptic.Curve{
	256: elliptic.P256(),
	384: elliptic.P384(),
	521: elliptic.P521(),
}

func (a *app) keygen(cmd *cobra.Command, opts *keygenOptions) error {
	card, ok := a.env.Cards[opts.token]
	if !ok {
		return fmt.Errorf("token %q not found", opts.token)
	}
	path, err := a.keyPath(opts.id)
	if err != nil {
		return err
	}
	typ, err := objects.ParseKeyType(opts.keyType)
	if err != nil {
		return err
	}

	var key *objects.KeyHandle
	switch typ {
	case objects.KeyRSA:
		if len(opts.threshold) == 0 {
			key, err = card.GenerateRSA(opts.label, path, opts.bits)
			break
		}
		if len(opts.threshold) != 2 {
			return fmt.Errorf("threshold must be k,l")
		}
		key, err = card.GenerateThresholdRSA(opts.label, path, opts.bits, uint16(opts.threshold[0]), uint16(opts.threshold[1]))
	case objects.KeyEC:
		curve, ok := curves[opts.bits]
		if !ok {
			return fmt.Errorf("no curve of %d bits", opts.bits)
		}
		key, err = card.GenerateEC(opts.label, path, curve)
	case objects.KeyEdDSA:
		key, err = card.GenerateEd25519(opts.label, path)
	case objects.KeyXEdDSA:
		key, err = card.GenerateX25519(opts.label, path)
	case objects.KeyAES:
		key, err = card.GenerateAES(opts.label, path, opts.bits)
	default:
		return fmt.Errorf("cannot generate %s keys", typ)
	}
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	a.dirty = true
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %s at %s (id %s)\n", key, key.Path, key.ID)
	return nil
}

// keyPath places the file id hexID in the configured application DF.
func (a *app) keyPath(hexID string) (objects.Path, error) {
	fid, err := hex.DecodeString(hexID)
	if err != nil || len(fid) != objects.FileIDLen {
		return objects.Path{}, fmt.Errorf("invalid file id %q", hexID)
	}
	if a.conf.Criptoki.AppDir == "" {
		return objects.NewPath(fid...), nil
	}
	dir, err := objects.ParsePath(a.conf.Criptoki.AppDir)
	if err != nil {
		return objects.Path{}, err
	}
	return objects.NewPath(append(dir.Value, fid...)...), nil
}
