package common

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ZstdExtension marks compressed inputs and outputs.
const ZstdExtension = ".zst"

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// ErrInputTooLarge reports a compressed input that inflates past its limit.
var ErrInputTooLarge = errors.New("inflated input exceeds limit")

type Hasher struct {
	h hash.Hash
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

func Sha256OfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	stat, _ := f.Stat()
	h := sha256.New()
	_, err = io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), stat.Size(), nil
}

// Input is an opened capture. Zstandard-compressed files are inflated into
// memory so the scanner still gets a seekable stream.
type Input struct {
	io.ReadSeeker
	Path       string
	Size       int64
	ModTime    time.Time
	Compressed bool
	closer     io.Closer
}

func (in *Input) Close() error {
	if in == nil || in.closer == nil {
		return nil
	}
	return in.closer.Close()
}

// OpenInput opens path, detecting zstd by its frame magic rather than the
// file name.
func OpenInput(path string) (*Input, error) {
	return OpenInputLimit(path, 0)
}

// OpenInputLimit is OpenInput with a cap on the inflated size of compressed
// inputs; maxInflated <= 0 means no cap. Plain files are not limited.
func OpenInputLimit(path string, maxInflated int64) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	in := &Input{Path: path, Size: stat.Size(), ModTime: stat.ModTime()}
	var magic [4]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	if n < len(zstdMagic) || !bytes.Equal(magic[:], zstdMagic) {
		in.ReadSeeker = f
		in.closer = f
		return in, nil
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	var src io.Reader = dec
	if maxInflated > 0 {
		src = io.LimitReader(dec, maxInflated+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	if maxInflated > 0 && int64(len(data)) > maxInflated {
		return nil, fmt.Errorf("decompress %s: %w", path, ErrInputTooLarge)
	}
	in.ReadSeeker = bytes.NewReader(data)
	in.Size = int64(len(data))
	in.Compressed = true
	return in, nil
}

// Output is a text sink on disk. It hashes the uncompressed text as it is
// written so the digest does not depend on the compression level.
type Output struct {
	Path       string
	Compressed bool

	file   *os.File
	enc    *zstd.Encoder
	w      io.Writer
	hasher *Hasher
	n      int64
}

// CreateOutput creates path and its parent directory. Output is zstd
// compressed when compress is set or the path ends in .zst.
func CreateOutput(path string, compress bool) (*Output, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	out := &Output{Path: path, file: f, hasher: NewHasher()}
	var sink io.Writer = f
	if compress || strings.HasSuffix(path, ZstdExtension) {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		out.enc = enc
		out.Compressed = true
		sink = enc
	}
	out.w = io.MultiWriter(sink, out.hasher)
	return out, nil
}

func (o *Output) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.n += int64(n)
	return n, err
}

// Written is the number of uncompressed bytes accepted so far.
func (o *Output) Written() int64 {
	return o.n
}

// Sum is the SHA-256 of the uncompressed text.
func (o *Output) Sum() string {
	return o.hasher.Sum()
}

func (o *Output) Close() error {
	var encErr error
	if o.enc != nil {
		encErr = o.enc.Close()
	}
	if err := o.file.Close(); err != nil {
		return err
	}
	return encErr
}

// OutputPath derives the default text path for input: the extension is
// replaced by ext, and a trailing .zst on the input is dropped first.
func OutputPath(input, ext string) string {
	if ext == "" {
		ext = ".log"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := strings.TrimSuffix(input, ZstdExtension)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}
