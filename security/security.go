// Package security implements the standard security handler for reading.
// Documents are opened with the empty password; anything that needs a real
// password is reported as ErrPasswordRequired.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wudi/scanclean/ir/raw"
)

var (
	// ErrPasswordRequired is returned when the empty password opens neither
	// the user nor the owner entry.
	ErrPasswordRequired = errors.New("document needs a password")
	// ErrUnsupported is returned for security handlers other than /Standard
	// and for revisions this package does not implement.
	ErrUnsupported = errors.New("unsupported encryption")
)

type Permissions struct{ Print, Modify, Copy, ModifyAnnotations, FillForms, ExtractAccessible, Assemble, PrintHighQuality bool }

// DataClass identifies the kind of payload being decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
)

type Handler interface {
	Authenticate(password string) error
	Decrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
	// Describe names the cipher and key size, e.g. "AESV2/128".
	Describe() string
}

type HandlerBuilder struct {
	encryptDict *raw.DictObj
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder {
	b.encryptDict = d
	return b
}
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder { b.fileID = id; return b }

func (b *HandlerBuilder) Build() (Handler, error) {
	d := b.encryptDict
	if d == nil {
		return nil, errors.New("security handler needs an /Encrypt dictionary")
	}
	if name, ok := raw.NameValue(lookup(d, "Filter")); ok && name != "Standard" {
		return nil, fmt.Errorf("%w: filter %s", ErrUnsupported, name)
	}
	v, _ := raw.IntValue(lookup(d, "V"))
	if v == 0 {
		v = 1
	}
	r, ok := raw.IntValue(lookup(d, "R"))
	if !ok {
		r = 2
	}
	if v > 5 || r < 2 || r > 6 {
		return nil, fmt.Errorf("%w: V %d R %d", ErrUnsupported, v, r)
	}
	keyBits := 40
	if v >= 5 {
		keyBits = 256
	} else if n, ok := raw.IntValue(lookup(d, "Length")); ok && n > 0 {
		keyBits = n
	}
	if v == 4 && keyBits < 128 {
		keyBits = 128
	}
	if keyBits%8 != 0 || keyBits < 40 || keyBits > 256 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupported, keyBits)
	}
	p, _ := raw.IntValue(lookup(d, "P"))
	h := &standardHandler{
		v:           v,
		r:           r,
		keyBytes:    keyBits / 8,
		o:           stringBytes(d, "O"),
		u:           stringBytes(d, "U"),
		oe:          stringBytes(d, "OE"),
		ue:          stringBytes(d, "UE"),
		p:           int32(p),
		fileID:      b.fileID,
		encryptMeta: true,
	}
	if em, ok := lookup(d, "EncryptMetadata").(raw.BoolObj); ok {
		h.encryptMeta = em.V
	}
	if r <= 4 && len(h.o) < 32 {
		return nil, errors.New("/Encrypt /O entry is shorter than 32 bytes")
	}
	h.streamAlgo, h.stringAlgo = algoRC4, algoRC4
	if v >= 4 {
		filters, err := parseCryptFilters(d)
		if err != nil {
			return nil, err
		}
		if h.streamAlgo, err = resolveCryptFilter(d, "StmF", filters); err != nil {
			return nil, err
		}
		if h.stringAlgo, err = resolveCryptFilter(d, "StrF", filters); err != nil {
			return nil, err
		}
	}
	return h, nil
}

type cryptAlgo int

const (
	algoNone cryptAlgo = iota
	algoRC4
	algoAES
)

func (a cryptAlgo) String() string {
	switch a {
	case algoRC4:
		return "RC4"
	case algoAES:
		return "AES"
	}
	return "Identity"
}

type standardHandler struct {
	key         []byte
	v, r        int
	keyBytes    int
	o, u        []byte
	oe, ue      []byte
	p           int32
	fileID      []byte
	encryptMeta bool
	streamAlgo  cryptAlgo
	stringAlgo  cryptAlgo
}

func (h *standardHandler) EncryptMetadata() bool { return h.encryptMeta }

func (h *standardHandler) Describe() string {
	return fmt.Sprintf("%s/%d R%d", h.streamAlgo, h.keyBytes*8, h.r)
}

func (h *standardHandler) Permissions() Permissions {
	return Permissions{
		Print:             h.p&0x4 != 0,
		Modify:            h.p&0x8 != 0,
		Copy:              h.p&0x10 != 0,
		ModifyAnnotations: h.p&0x20 != 0,
		FillForms:         h.p&0x100 != 0,
		ExtractAccessible: h.p&0x200 != 0,
		Assemble:          h.p&0x400 != 0,
		PrintHighQuality:  h.p&0x800 != 0,
	}
}

// Authenticate tries password as the user password, then as the owner
// password.
func (h *standardHandler) Authenticate(password string) error {
	pwd := []byte(password)
	if h.r >= 5 {
		return h.authenticateAES256(pwd)
	}
	if key, ok := h.checkUser(padPassword(pwd)); ok {
		h.key = key
		return nil
	}
	if key, ok := h.checkUser(h.ownerToUser(pwd)); ok {
		h.key = key
		return nil
	}
	return ErrPasswordRequired
}

// checkUser derives the file key from a padded user password and validates
// it against /U.
func (h *standardHandler) checkUser(padded []byte) ([]byte, bool) {
	key := h.fileKey(padded)
	if h.r == 2 {
		got := rc4Crypt(key, passwordPadding)
		return key, len(h.u) >= 32 && bytes.Equal(got, h.u[:32])
	}
	sum := md5.Sum(append(append([]byte{}, passwordPadding...), h.fileID...))
	got := rc4Crypt(key, sum[:])
	for i := 1; i <= 19; i++ {
		got = rc4Crypt(xorKey(key, byte(i)), got)
	}
	return key, len(h.u) >= 16 && bytes.Equal(got, h.u[:16])
}

// fileKey computes the RC4/AES-128 file key from a padded password.
func (h *standardHandler) fileKey(padded []byte) []byte {
	md := md5.New()
	md.Write(padded)
	md.Write(h.o[:32])
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(h.p))
	md.Write(p[:])
	md.Write(h.fileID)
	if h.r >= 4 && !h.encryptMeta {
		md.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	key := md.Sum(nil)
	n := h.keyBytes
	if h.r == 2 {
		n = 5
	}
	if h.r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(key[:n])
			key = s[:]
		}
	}
	return key[:n]
}

// ownerToUser recovers the padded user password stored in /O.
func (h *standardHandler) ownerToUser(pwd []byte) []byte {
	sum := md5.Sum(padPassword(pwd))
	key := sum[:]
	n := 5
	if h.r >= 3 {
		n = h.keyBytes
		for i := 0; i < 50; i++ {
			s := md5.Sum(key)
			key = s[:]
		}
	}
	key = key[:n]
	if h.r == 2 {
		return rc4Crypt(key, h.o[:32])
	}
	out := append([]byte{}, h.o[:32]...)
	for i := 19; i >= 0; i-- {
		out = rc4Crypt(xorKey(key, byte(i)), out)
	}
	return out
}

func (h *standardHandler) authenticateAES256(pwd []byte) error {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	if len(h.u) >= 48 && len(h.ue) >= 32 {
		if bytes.Equal(hashR6(h.r, pwd, h.u[32:40], nil), h.u[:32]) {
			h.key = aesUnwrap(hashR6(h.r, pwd, h.u[40:48], nil), h.ue[:32])
			return nil
		}
	}
	if len(h.o) >= 48 && len(h.oe) >= 32 && len(h.u) >= 48 {
		udata := h.u[:48]
		if bytes.Equal(hashR6(h.r, pwd, h.o[32:40], udata), h.o[:32]) {
			h.key = aesUnwrap(hashR6(h.r, pwd, h.o[40:48], udata), h.oe[:32])
			return nil
		}
	}
	return ErrPasswordRequired
}

func (h *standardHandler) Decrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error) {
	if h.key == nil {
		return nil, ErrPasswordRequired
	}
	algo := h.streamAlgo
	if class == DataClassString {
		algo = h.stringAlgo
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := h.objectKey(ref, algo == algoAES)
	if algo == algoAES {
		return aesDecrypt(key, data)
	}
	return rc4Crypt(key, data), nil
}

// objectKey mixes the object number and generation into the file key.
// AES-256 uses the file key as is.
func (h *standardHandler) objectKey(ref raw.ObjectRef, useAES bool) []byte {
	if h.r >= 5 {
		return h.key
	}
	buf := make([]byte, 0, len(h.key)+9)
	buf = append(buf, h.key...)
	buf = append(buf, byte(ref.Num), byte(ref.Num>>8), byte(ref.Num>>16), byte(ref.Gen), byte(ref.Gen>>8))
	if useAES {
		buf = append(buf, "sAlT"...)
	}
	sum := md5.Sum(buf)
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

// hashR6 is the revision 5 and 6 password hash. Revision 5 is a single
// SHA-256; revision 6 iterates AES-128 and the SHA-2 family for at least
// 64 rounds.
func hashR6(r int, pwd, salt, udata []byte) []byte {
	first := sha256.Sum256(concat(pwd, salt, udata))
	k := first[:]
	if r == 5 {
		return k
	}
	var e []byte
	for i := 0; i < 64 || int(e[len(e)-1]) > i-32; i++ {
		k1 := bytes.Repeat(concat(pwd, k, udata), 64)
		block, _ := aes.NewCipher(k[:16])
		e = make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)
		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		switch sum % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
	}
	return k[:32]
}

// aesUnwrap decrypts /UE or /OE: AES-256-CBC, zero IV, no padding.
func aesUnwrap(key, data []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out
}

// aesDecrypt reads the IV from the first block and strips PKCS#7 padding.
// Bad padding is left in place.
func aesDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		if len(data) == aes.BlockSize {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("aes payload of %d bytes is not block aligned", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return out, nil
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return out, nil
		}
	}
	return out[:len(out)-pad], nil
}

func rc4Crypt(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

func parseCryptFilters(d *raw.DictObj) (map[string]cryptAlgo, error) {
	out := map[string]cryptAlgo{"Identity": algoNone}
	cf, ok := lookup(d, "CF").(*raw.DictObj)
	if !ok {
		return out, nil
	}
	for _, name := range cf.SortedKeys() {
		fd, ok := lookup(cf, name).(*raw.DictObj)
		if !ok {
			continue
		}
		cfm, _ := raw.NameValue(lookup(fd, "CFM"))
		switch cfm {
		case "V2":
			out[name] = algoRC4
		case "AESV2", "AESV3":
			out[name] = algoAES
		case "", "None":
			out[name] = algoNone
		default:
			return nil, fmt.Errorf("%w: crypt filter method %s", ErrUnsupported, cfm)
		}
	}
	return out, nil
}

func resolveCryptFilter(d *raw.DictObj, key string, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name, ok := raw.NameValue(lookup(d, key))
	if !ok {
		return algoNone, nil
	}
	algo, ok := filters[name]
	if !ok {
		return algoNone, fmt.Errorf("crypt filter %s not defined", name)
	}
	return algo, nil
}

var passwordPadding = []byte{
	0x28, 0xbf, 0x4e, 0x5e, 0x4e, 0x75, 0x8a, 0x41,
	0x64, 0x00, 0x4e, 0x56, 0xff, 0xfa, 0x01, 0x08,
	0x2e, 0x2e, 0x00, 0xb6, 0xd0, 0x68, 0x3e, 0x80,
	0x2f, 0x0c, 0xa9, 0xfe, 0x64, 0x53, 0x69, 0x7a,
}

func padPassword(pwd []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pwd)
	copy(out[n:], passwordPadding)
	return out
}

func xorKey(key []byte, x byte) []byte {
	out := make([]byte, len(key))
	for i, b := range key {
		out[i] = b ^ x
	}
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func lookup(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Lookup(key)
	return v
}

func stringBytes(d *raw.DictObj, key string) []byte {
	if s, ok := lookup(d, key).(raw.StringObj); ok {
		return s.Bytes
	}
	return nil
}
