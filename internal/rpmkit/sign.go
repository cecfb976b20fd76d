package rpmkit

import (
	"encoding/hex"
	"fmt"
	"os"

	"rpmkit/internal/pkgfile"
	"rpmkit/internal/rpmerr"
)

// keyRing is every <id>.pub under keyDir plus RPMKIT_PUBKEY, a hex public
// key trusted under the RPMKIT_SIGNKEY id.
func keyRing(cfg *Config) pkgfile.KeyRing {
	ring := pkgfile.LoadKeyRing(keyDir, keyDirUnderRoot())
	if hexKey := cfg.Values["RPMKIT_PUBKEY"]; hexKey != "" {
		pub, err := pkgfile.ParsePublicKey([]byte(hexKey))
		if err != nil {
			colWarn.Printf("warning: RPMKIT_PUBKEY: %v\n", err)
		} else {
			ring[signKeyID] = pub
		}
	}
	return ring
}

// keyDirUnderRoot is keyDir inside an alternate root.
func keyDirUnderRoot() string {
	if rootDir == "" || rootDir == "/" {
		return keyDir
	}
	return rootDir + keyDir
}

// loadSigner reads <keyDir>/<RPMKIT_SIGNKEY>.key.
func loadSigner() (*pkgfile.Signer, error) {
	s, err := pkgfile.LoadSigner(keyDir, signKeyID)
	if err != nil {
		return nil, rpmerr.Wrap(err, rpmerr.ErrSignature, "cannot load signing key")
	}
	return s, nil
}

// checkPackage verifies digests and, for signed packages, the signature.
func checkPackage(pkg *pkgfile.Package, keys pkgfile.KeyRing) error {
	signed, err := pkg.Verify(keys)
	if err != nil {
		return err
	}
	if !signed {
		debugf("=> %s is not signed\n", pkg.Path)
	}
	return nil
}

// checkSig handles -K.
func (env *cliEnv) checkSig(args []string) error {
	var c common
	fs := newFlagSet("checksig", &c, os.Stderr)
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	c.apply()
	if len(operands) == 0 {
		return rpmerr.New(rpmerr.ErrInvalidState, "no packages given for signature check")
	}

	keys := keyRing(env.cfg)
	failed := 0
	for _, path := range operands {
		pkg, err := pkgfile.Open(path)
		if err != nil {
			fmt.Fprintf(env.out, "%s: %v\n", path, err)
			failed++
			continue
		}
		signed, err := pkg.Verify(keys)
		switch {
		case err != nil:
			fmt.Fprintf(env.out, "%s: %s\n", path, colError.Sprintf("NOT OK (%v)", err))
			failed++
		case signed:
			fmt.Fprintf(env.out, "%s: digests signature(%s) %s\n", path, pkg.Signature.KeyID, colSuccess.Sprint("OK"))
		default:
			fmt.Fprintf(env.out, "%s: digests %s\n", path, colSuccess.Sprint("OK"))
		}
	}
	if failed > 0 {
		return rpmerr.Newf(rpmerr.ErrSignature, "%d package(s) failed verification", failed)
	}
	return nil
}

// addSign handles --addsign.
func (env *cliEnv) addSign(args []string) error {
	var c common
	fs := newFlagSet("addsign", &c, os.Stderr)
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	c.apply()
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	for _, path := range operands {
		if err := pkgfile.AddSign(path, signer); err != nil {
			return err
		}
		step("Signed %s with key %s", path, signer.KeyID)
	}
	return nil
}

// genKey handles --genkey.
func (env *cliEnv) genKey(args []string) error {
	var c common
	fs := newFlagSet("genkey", &c, os.Stderr)
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	c.apply()
	id := signKeyID
	if len(operands) > 0 {
		id = operands[0]
	}
	pub, err := pkgfile.GenerateKeyPair(keyDir, id)
	if err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot create key pair")
	}
	step("Generated key pair %s in %s", id, keyDir)
	colNote.Printf("Public key: %s\n", hex.EncodeToString(pub))
	return nil
}
