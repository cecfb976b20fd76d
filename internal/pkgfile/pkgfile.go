// Package pkgfile reads and writes package files.
//
// A package file is laid out as
//
//	"RPMK" | version byte | u32 len | zstd JSON header | u32 len | JSON signature | payload
//
// where the payload is whatever the archive codec produced (a zstd tar).
// The signature block carries blake3 digests of the header bytes and of the
// payload, and optionally an ed25519 signature over both.
package pkgfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rpmkit/internal/archive"
	"rpmkit/internal/checksum"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
)

// Magic starts every package file.
const Magic = "RPMK"

const formatVersion = 1

// maxBlock bounds the header and signature blocks.
const maxBlock = 64 << 20

// Signature is the block between header and payload.
type Signature struct {
	HeaderDigest  string `json:"headerDigest"`
	PayloadDigest string `json:"payloadDigest"`
	PayloadSize   int64  `json:"payloadSize"`
	KeyID         string `json:"keyId,omitempty"`
	Sig           string `json:"sig,omitempty"`
}

// Signed reports whether an ed25519 signature is present.
func (s *Signature) Signed() bool { return s.Sig != "" }

func (s *Signature) signedData() []byte {
	return []byte(s.HeaderDigest + ":" + s.PayloadDigest)
}

// Package is an opened package file. The payload stays on disk until
// Payload is called.
type Package struct {
	Path      string
	Header    *header.Header
	Signature Signature

	headerRaw     []byte
	payloadOffset int64
}

// IsSource reports whether p is a source package. Binary packages name
// the source package they were built from.
func (p *Package) IsSource() bool {
	return !p.Header.Has(header.TagSourceRPM)
}

func formatError(path string, format string, args ...any) error {
	return rpmerr.Newf(rpmerr.ErrParse, "%s: %s", path, fmt.Sprintf(format, args...)).WithDetail("path", path)
}

func readBlock(r io.Reader, path, what string) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, formatError(path, "truncated %s length", what)
	}
	if n > maxBlock {
		return nil, formatError(path, "%s block of %d bytes is too large", what, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, formatError(path, "truncated %s", what)
	}
	return buf, nil
}

func writeBlock(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Open reads the header and signature of the package at path.
func Open(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rpmerr.Wrapf(err, rpmerr.ErrNotFound, "cannot open package %s", path)
	}
	defer f.Close()
	return read(f, path)
}

func read(f *os.File, path string) (*Package, error) {
	br := bufio.NewReader(f)
	lead := make([]byte, len(Magic)+1)
	if _, err := io.ReadFull(br, lead); err != nil || string(lead[:len(Magic)]) != Magic {
		return nil, formatError(path, "not a package file")
	}
	if lead[len(Magic)] != formatVersion {
		return nil, formatError(path, "unsupported package format %d", lead[len(Magic)])
	}

	raw, err := readBlock(br, path, "header")
	if err != nil {
		return nil, err
	}
	plain, err := archive.ZstdDecompress(raw)
	if err != nil {
		return nil, formatError(path, "corrupt header: %v", err)
	}
	h, err := header.Decode(plain)
	if err != nil {
		return nil, formatError(path, "corrupt header: %v", err)
	}

	sigData, err := readBlock(br, path, "signature")
	if err != nil {
		return nil, err
	}
	p := &Package{Path: path, Header: h, headerRaw: raw}
	if err := json.Unmarshal(sigData, &p.Signature); err != nil {
		return nil, formatError(path, "corrupt signature block: %v", err)
	}
	p.payloadOffset = int64(len(lead) + 4 + len(raw) + 4 + len(sigData))
	return p, nil
}

type sectionCloser struct {
	*io.SectionReader
	f *os.File
}

func (s sectionCloser) Close() error { return s.f.Close() }

// Payload opens the payload for reading. It has the shape the transaction
// engine expects of a payload opener.
func (p *Package) Payload() (io.ReadCloser, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	size := p.Signature.PayloadSize
	if size <= 0 {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		size = st.Size() - p.payloadOffset
	}
	return sectionCloser{io.NewSectionReader(f, p.payloadOffset, size), f}, nil
}

// Write stores h and the payload read from payload as a package file at
// path. The payload is spooled next to path first so its digest can go
// into the signature block. A nil signer leaves the package unsigned.
func Write(path string, h *header.Header, payload io.Reader, signer *Signer) error {
	dir := filepath.Dir(path)
	spool, err := os.CreateTemp(dir, ".payload-*")
	if err != nil {
		return fmt.Errorf("failed to create payload spool: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hasher := checksum.NewHasher()
	size, err := io.Copy(io.MultiWriter(spool, hasher), payload)
	if err != nil {
		return fmt.Errorf("failed to spool payload: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return err
	}

	plain, err := header.Encode(h)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	raw, err := archive.ZstdCompress(plain)
	if err != nil {
		return fmt.Errorf("failed to compress header: %w", err)
	}

	sig := Signature{
		HeaderDigest:  checksum.HashBytes(raw),
		PayloadDigest: fmt.Sprintf("%x", hasher.Sum(nil)),
		PayloadSize:   size,
	}
	if signer != nil {
		signer.sign(&sig)
	}
	return writeFile(path, raw, sig, spool)
}

// writeFile assembles the package in a temp file and renames it into
// place.
func writeFile(path string, raw []byte, sig Signature, payload io.Reader) error {
	sigData, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pkg-*")
	if err != nil {
		return fmt.Errorf("failed to create package file: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	bw.WriteString(Magic)
	bw.WriteByte(formatVersion)
	if err := writeBlock(bw, raw); err != nil {
		return err
	}
	if err := writeBlock(bw, sigData); err != nil {
		return err
	}
	if _, err := io.Copy(bw, payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write package %s: %w", path, err)
	}
	ok = true
	return nil
}

// Verify recomputes both digests and, when the package is signed, checks
// the signature against keys. A signed package whose key is not in keys
// fails. It returns whether a signature was checked.
func (p *Package) Verify(keys KeyRing) (bool, error) {
	if got := checksum.HashBytes(p.headerRaw); got != p.Signature.HeaderDigest {
		return false, rpmerr.Newf(rpmerr.ErrSignature, "%s: header digest mismatch", p.Path).
			WithDetail("path", p.Path)
	}

	rc, err := p.Payload()
	if err != nil {
		return false, rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot read payload of %s", p.Path)
	}
	defer rc.Close()
	hasher := checksum.NewHasher()
	n, err := io.Copy(hasher, rc)
	if err != nil {
		return false, rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot read payload of %s", p.Path)
	}
	if n != p.Signature.PayloadSize || fmt.Sprintf("%x", hasher.Sum(nil)) != p.Signature.PayloadDigest {
		return false, rpmerr.Newf(rpmerr.ErrSignature, "%s: payload digest mismatch", p.Path).
			WithDetail("path", p.Path)
	}

	if !p.Signature.Signed() {
		return false, nil
	}
	if err := keys.verify(&p.Signature); err != nil {
		return false, rpmerr.Wrapf(err, rpmerr.ErrSignature, "%s: bad signature", p.Path).
			WithDetail("path", p.Path).WithDetail("keyId", p.Signature.KeyID)
	}
	return true, nil
}

// AddSign signs the package at path in place, replacing any earlier
// signature.
func AddSign(path string, signer *Signer) error {
	f, err := os.Open(path)
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrNotFound, "cannot open package %s", path)
	}
	defer f.Close()
	p, err := read(f, path)
	if err != nil {
		return err
	}
	if _, err := f.Seek(p.payloadOffset, io.SeekStart); err != nil {
		return err
	}
	sig := p.Signature
	signer.sign(&sig)
	return writeFile(path, p.headerRaw, sig, f)
}

// ReadHeader is Open for callers that only want the header.
func ReadHeader(path string) (*header.Header, error) {
	p, err := Open(path)
	if err != nil {
		return nil, err
	}
	return p.Header, nil
}

// Sniff reports whether data starts like a package file.
func Sniff(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}
