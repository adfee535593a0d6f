package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/miekg/pkcs11"
	"github.com/niclabs/cardmw/criptoki"
	"github.com/spf13/cobra"
)

var signMechanisms = map[string]uint{
	"rsa-pkcs":        pkcs11.CKM_RSA_PKCS,
	"sha1-rsa-pkcs":   pkcs11.CKM_SHA1_RSA_PKCS,
	"sha256-rsa-pkcs": pkcs11.CKM_SHA256_RSA_PKCS,
	"sha384-rsa-pkcs": pkcs11.CKM_SHA384_RSA_PKCS,
	"sha512-rsa-pkcs": pkcs11.CKM_SHA512_RSA_PKCS,
	"sha256-rsa-pss":  pkcs11.CKM_SHA256_RSA_PKCS_PSS,
	"sha384-rsa-pss":  pkcs11.CKM_SHA384_RSA_PKCS_PSS,
	"sha512-rsa-pss":  pkcs11.CKM_SHA512_RSA_PKCS_PSS,
	"ecdsa":           pkcs11.CKM_ECDSA,
	"ecdsa-sha256":    pkcs11.CKM_ECDSA_SHA256,
	"ecdsa-sha384":    pkcs11.CKM_ECDSA_SHA384,
	"ecdsa-sha512":    pkcs11.CKM_ECDSA_SHA512,
	"eddsa":           criptoki.MechanismEdDSA,
}

func mechanismNames() string {
	names := make([]string, 0, len(signMechanisms))
	for name := range signMechanisms {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

type signOptions struct {
	slot      uint
	pin       string
	label     string
	mechanism string
}

func newSignCmd(a *app) *cobra.Command {
	var opts signOptions
	cmd := &cobra.Command{
		Use:   "sign [flags] FILE",
		Short: "Sign a file with a token key",
		Long: `Sign FILE, or stdin when FILE is "-", with the private key labelled --label
and print the signature in hex.

Mechanisms: ` + mechanismNames(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.sign(cmd, args[0], &opts)
		},
	}
	f := cmd.Flags()
	f.UintVar(&opts.slot, "slot", 0, "slot id")
	f.StringVar(&opts.pin, "pin", "", "user PIN (required)")
	f.StringVar(&opts.label, "label", "", "key label (required)")
	f.StringVar(&opts.mechanism, "mechanism", "sha256-rsa-pkcs", "signature mechanism")
	_ = cmd.MarkFlagRequired("pin")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func (a *app) sign(cmd *cobra.Command, file string, opts *signOptions) error {
	mech, ok := signMechanisms[opts.mechanism]
	if !ok {
		return fmt.Errorf("unknown mechanism %q", opts.mechanism)
	}
	data, err := readInput(cmd, file)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	m := a.module
	h, err := m.OpenSession(opts.slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer m.CloseSession(h)
	if err := m.Login(h, pkcs11.CKU_USER, []byte(opts.pin)); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	key, err := findKey(m, h, opts.label)
	if err != nil {
		return err
	}
	if err := m.SignInit(h, criptoki.NewMechanism(mech, nil), key); err != nil {
		return fmt.Errorf("failed to start signature: %w", err)
	}
	sig, err := m.Sign(h, data)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sig))
	return nil
}

// findKey returns the handle of the private key labelled label.
func findKey(m *criptoki.Module, h uint, label string) (uint, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := m.FindObjectsInit(h, template); err != nil {
		return 0, err
	}
	found, err := m.FindObjects(h, 2)
	m.FindObjectsFinal(h)
	if err != nil {
		return 0, err
	}
	switch len(found) {
	case 0:
		return 0, fmt.Errorf("no private key labelled %q", label)
	case 1:
		return found[0], nil
	default:
		return 0, fmt.Errorf("more than one private key labelled %q", label)
	}
}
