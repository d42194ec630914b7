package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"errors"
	"testing"

	"github.com/wudi/scanclean/ir/raw"
)

var fileID = []byte("fileid0123456789")

func rc4Dict(r, bits int, owner []byte) *raw.DictObj {
	enc := raw.Dict()
	enc.SetKey("Filter", raw.NameLiteral("Standard"))
	v := 1
	if r >= 3 {
		v = 2
	}
	enc.SetKey("V", raw.NumberInt(int64(v)))
	enc.SetKey("R", raw.NumberInt(int64(r)))
	enc.SetKey("Length", raw.NumberInt(int64(bits)))
	enc.SetKey("P", raw.NumberInt(-3904))
	enc.SetKey("O", raw.Str(owner))
	return enc
}

func build(t *testing.T, enc *raw.DictObj) *standardHandler {
	t.Helper()
	h, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(fileID).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return h.(*standardHandler)
}

func TestRC4EmptyUserPassword(t *testing.T) {
	for _, tc := range []struct {
		name string
		r    int
		bits int
	}{
		{"r2-40", 2, 40},
		{"r3-128", 3, 128},
	} {
		t.Run(tc.name, func(t *testing.T) {
			owner := bytes.Repeat([]byte{0x5a}, 32)
			enc := rc4Dict(tc.r, tc.bits, owner)
			h := build(t, enc)
			key := h.fileKey(padPassword(nil))
			enc.SetKey("U", raw.Str(userDigest(h, key)))
			h = build(t, enc)

			if err := h.Authenticate(""); err != nil {
				t.Fatalf("authenticate: %v", err)
			}
			if !bytes.Equal(h.key, key) {
				t.Fatalf("file key %x, want %x", h.key, key)
			}
			ref := raw.ObjectRef{Num: 7}
			secret := []byte("page content")
			cipherText := rc4Crypt(h.objectKey(ref, false), secret)
			plain, err := h.Decrypt(ref, cipherText, DataClassStream)
			if err != nil || !bytes.Equal(plain, secret) {
				t.Fatalf("decrypt = %q, %v", plain, err)
			}
		})
	}
}

// userDigest builds /U the way a writer would for the given file key.
func userDigest(h *standardHandler, key []byte) []byte {
	if h.r == 2 {
		return rc4Crypt(key, passwordPadding)
	}
	return algorithm5(key, h.fileID)
}

func TestRC4OwnerPasswordOpensDocument(t *testing.T) {
	// user password "reader", empty owner password
	h := build(t, rc4Dict(3, 128, make([]byte, 32)))
	ownerKey := ownerRC4Key(h, nil)
	o := padPassword([]byte("reader"))
	for i := 0; i <= 19; i++ {
		o = rc4Crypt(xorKey(ownerKey, byte(i)), o)
	}
	enc := rc4Dict(3, 128, o)
	h = build(t, enc)
	key := h.fileKey(padPassword([]byte("reader")))
	enc.SetKey("U", raw.Str(algorithm5(key, fileID)))
	h = build(t, enc)

	if err := h.Authenticate(""); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !bytes.Equal(h.key, key) {
		t.Fatalf("owner path gave key %x, want %x", h.key, key)
	}
}

func TestRC4WrongPassword(t *testing.T) {
	enc := rc4Dict(2, 40, bytes.Repeat([]byte{0x11}, 32))
	h := build(t, enc)
	key := h.fileKey(padPassword([]byte("letmein")))
	enc.SetKey("U", raw.Str(rc4Crypt(key, passwordPadding)))
	h = build(t, enc)

	if err := h.Authenticate(""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := h.Decrypt(raw.ObjectRef{Num: 1}, []byte("x"), DataClassString); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("decrypt before authentication: %v", err)
	}
}

func TestAESV2CryptFilters(t *testing.T) {
	enc := raw.Dict()
	enc.SetKey("Filter", raw.NameLiteral("Standard"))
	enc.SetKey("V", raw.NumberInt(4))
	enc.SetKey("R", raw.NumberInt(4))
	enc.SetKey("P", raw.NumberInt(-4))
	enc.SetKey("O", raw.Str(bytes.Repeat([]byte{0x33}, 32)))
	stdCF := raw.Dict()
	stdCF.SetKey("CFM", raw.NameLiteral("AESV2"))
	cf := raw.Dict()
	cf.SetKey("StdCF", stdCF)
	enc.SetKey("CF", cf)
	enc.SetKey("StmF", raw.NameLiteral("StdCF"))
	enc.SetKey("StrF", raw.NameLiteral("Identity"))
	h := build(t, enc)
	key := h.fileKey(padPassword(nil))
	enc.SetKey("U", raw.Str(algorithm5(key, fileID)))
	h = build(t, enc)
	if err := h.Authenticate(""); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := h.Describe(); got != "AES/128 R4" {
		t.Fatalf("describe = %q", got)
	}

	ref := raw.ObjectRef{Num: 12}
	secret := []byte("q 1 0 0 1 0 0 cm Q")
	data := aesEncrypt(t, h.objectKey(ref, true), secret)
	plain, err := h.Decrypt(ref, data, DataClassStream)
	if err != nil || !bytes.Equal(plain, secret) {
		t.Fatalf("stream decrypt = %q, %v", plain, err)
	}
	// strings use the Identity filter
	plain, _ = h.Decrypt(ref, []byte("title"), DataClassString)
	if string(plain) != "title" {
		t.Fatalf("identity string changed: %q", plain)
	}
}

func TestAES256Revisions(t *testing.T) {
	fileKey := bytes.Repeat([]byte{0x42}, 32)
	for _, r := range []int{5, 6} {
		for _, ownerOnly := range []bool{false, true} {
			user, owner := "", "ignored"
			if ownerOnly {
				user, owner = "reader", ""
			}
			enc := aes256Dict(t, r, user, owner, fileKey)
			h := build(t, enc)
			if err := h.Authenticate(""); err != nil {
				t.Fatalf("R%d owner=%v: authenticate: %v", r, ownerOnly, err)
			}
			if !bytes.Equal(h.key, fileKey) {
				t.Fatalf("R%d owner=%v: wrong file key", r, ownerOnly)
			}
			ref := raw.ObjectRef{Num: 3}
			plain, err := h.Decrypt(ref, aesEncrypt(t, fileKey, []byte("(hello)")), DataClassString)
			if err != nil || string(plain) != "(hello)" {
				t.Fatalf("R%d: decrypt = %q, %v", r, plain, err)
			}
		}
	}

	enc := aes256Dict(t, 6, "reader", "writer", fileKey)
	if err := build(t, enc).Authenticate(""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
}

func TestBuildRejectsUnsupported(t *testing.T) {
	enc := raw.Dict()
	enc.SetKey("Filter", raw.NameLiteral("Adobe.PubSec"))
	if _, err := (&HandlerBuilder{}).WithEncryptDict(enc).Build(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	enc = raw.Dict()
	enc.SetKey("Filter", raw.NameLiteral("Standard"))
	enc.SetKey("V", raw.NumberInt(2))
	enc.SetKey("R", raw.NumberInt(3))
	if _, err := (&HandlerBuilder{}).WithEncryptDict(enc).Build(); err == nil {
		t.Fatalf("expected error for missing /O")
	}
}

func TestDecryptObjectSkipsClearStreams(t *testing.T) {
	enc := rc4Dict(2, 40, bytes.Repeat([]byte{0x77}, 32))
	h := build(t, enc)
	key := h.fileKey(padPassword(nil))
	enc.SetKey("U", raw.Str(rc4Crypt(key, passwordPadding)))
	h = build(t, enc)
	if err := h.Authenticate(""); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	ref := raw.ObjectRef{Num: 9}
	objKey := h.objectKey(ref, false)

	xrefDict := raw.Dict()
	xrefDict.SetKey("Type", raw.NameLiteral("XRef"))
	xs := raw.NewStream(xrefDict, []byte{1, 2, 3})
	if _, err := DecryptObject(h, ref, xs); err != nil {
		t.Fatalf("decrypt xref stream: %v", err)
	}
	if !bytes.Equal(xs.Data, []byte{1, 2, 3}) {
		t.Fatalf("xref stream was decrypted")
	}

	dict := raw.Dict()
	dict.SetKey("Title", raw.Str(rc4Crypt(objKey, []byte("Invoice"))))
	dict.SetKey("Kids", raw.NewArray(raw.Str(rc4Crypt(objKey, []byte("a"))), raw.NumberInt(4)))
	if _, err := DecryptObject(h, ref, dict); err != nil {
		t.Fatalf("decrypt dict: %v", err)
	}
	if s := lookup(dict, "Title").(raw.StringObj); string(s.Bytes) != "Invoice" {
		t.Fatalf("title = %q", s.Bytes)
	}
	kids := lookup(dict, "Kids").(*raw.ArrayObj)
	if s := kids.Items[0].(raw.StringObj); string(s.Bytes) != "a" {
		t.Fatalf("array string = %q", s.Bytes)
	}
}

func algorithm5(key, id []byte) []byte {
	seed := append(append([]byte{}, passwordPadding...), id...)
	sum := md5Sum(seed)
	out := rc4Crypt(key, sum)
	for i := 1; i <= 19; i++ {
		out = rc4Crypt(xorKey(key, byte(i)), out)
	}
	return append(out, make([]byte, 16)...)
}

func md5Sum(b []byte) []byte {
	s := md5.Sum(b)
	return s[:]
}

func ownerRC4Key(h *standardHandler, pwd []byte) []byte {
	key := md5Sum(padPassword(pwd))
	for i := 0; i < 50; i++ {
		key = md5Sum(key)
	}
	return key[:h.keyBytes]
}

func aes256Dict(t *testing.T, r int, user, owner string, fileKey []byte) *raw.DictObj {
	t.Helper()
	uSalt, ukSalt := []byte("uvalsalt"), []byte("ukeysalt")
	oSalt, okSalt := []byte("ovalsalt"), []byte("okeysalt")
	u := concat(hashR6(r, []byte(user), uSalt, nil), uSalt, ukSalt)
	ue := aesWrap(t, hashR6(r, []byte(user), ukSalt, nil), fileKey)
	o := concat(hashR6(r, []byte(owner), oSalt, u), oSalt, okSalt)
	oe := aesWrap(t, hashR6(r, []byte(owner), okSalt, u), fileKey)

	enc := raw.Dict()
	enc.SetKey("Filter", raw.NameLiteral("Standard"))
	enc.SetKey("V", raw.NumberInt(5))
	enc.SetKey("R", raw.NumberInt(int64(r)))
	enc.SetKey("P", raw.NumberInt(-4))
	enc.SetKey("U", raw.Str(u))
	enc.SetKey("UE", raw.Str(ue))
	enc.SetKey("O", raw.Str(o))
	enc.SetKey("OE", raw.Str(oe))
	stdCF := raw.Dict()
	stdCF.SetKey("CFM", raw.NameLiteral("AESV3"))
	cf := raw.Dict()
	cf.SetKey("StdCF", stdCF)
	enc.SetKey("CF", cf)
	enc.SetKey("StmF", raw.NameLiteral("StdCF"))
	enc.SetKey("StrF", raw.NameLiteral("StdCF"))
	return enc
}

func aesWrap(t *testing.T, key, data []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out
}

func aesEncrypt(t *testing.T, key, data []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	pad := aes.BlockSize - len(data)%aes.BlockSize
	padded := append(append([]byte{}, data...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	iv := bytes.Repeat([]byte{0x0f}, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return append(iv, out...)
}
