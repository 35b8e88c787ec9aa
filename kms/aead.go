package kms

import (
	"context"
	"sync"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// rootKeyID is the key id recorded in blobs encrypted with the root key.
const rootKeyID = "root"

// AEAD implements Service with an in-process AES-GCM root wrapper. Scoped
// data keys are derived from the root key with HKDF, so the same scope
// always yields a compatible cipher pair without persisting key material.
type AEAD struct {
	root *aead.Wrapper

	mu      sync.Mutex
	derived map[string]*aead.Wrapper
}

// NewAEAD returns an AEAD service keyed with the given root key. The key
// must be a valid AES key length (16, 24 or 32 bytes).
func NewAEAD(rootKey []byte) (*AEAD, error) {
	w := aead.NewWrapper()
	if _, err := w.SetConfig(context.Background(), wrapping.WithKeyId(rootKeyID)); err != nil {
		return nil, errors.Wrap(err, "error configuring root wrapper")
	}
	if err := w.SetAesGcmKeyBytes(rootKey); err != nil {
		return nil, errors.Wrap(err, "error setting root key")
	}
	return &AEAD{
		root:    w,
		derived: make(map[string]*aead.Wrapper),
	}, nil
}

// EncryptWithRootKey implements Service.
func (k *AEAD) EncryptWithRootKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	return encrypt(ctx, k.root, plaintext)
}

// DecryptWithRootKey implements Service.
func (k *AEAD) DecryptWithRootKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return decrypt(ctx, k.root, ciphertext)
}

// CreateCipherPairWithDataKey implements Service.
func (k *AEAD) CreateCipherPairWithDataKey(_ context.Context, scope Scope) (Encryptor, Decryptor, error) {
	w, err := k.scopeWrapper(scope)
	if err != nil {
		return nil, nil, err
	}
	c := &wrapperCipher{w: w}
	return c, c, nil
}

func (k *AEAD) scopeWrapper(scope Scope) (*aead.Wrapper, error) {
	id, err := scope.ID()
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.derived[id]; ok {
		return w, nil
	}

	w, err := k.root.NewDerivedWrapper(
		wrapping.WithKeyId(id),
		aead.WithSalt([]byte(id)),
		aead.WithInfo([]byte("data-key")),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error deriving data key for scope %q", id)
	}
	k.derived[id] = w
	return w, nil
}

// wrapperCipher adapts a wrapping.Wrapper to the Encryptor/Decryptor pair.
type wrapperCipher struct {
	w wrapping.Wrapper
}

func (c *wrapperCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return encrypt(ctx, c.w, plaintext)
}

func (c *wrapperCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return decrypt(ctx, c.w, ciphertext)
}

func encrypt(ctx context.Context, w wrapping.Wrapper, plaintext []byte) ([]byte, error) {
	blob, err := w.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "error encrypting blob")
	}
	b, err := proto.Marshal(blob)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling encrypted blob")
	}
	return b, nil
}

func decrypt(ctx context.Context, w wrapping.Wrapper, ciphertext []byte) ([]byte, error) {
	blob := new(wrapping.BlobInfo)
	if err := proto.Unmarshal(ciphertext, blob); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling encrypted blob")
	}
	pt, err := w.Decrypt(ctx, blob)
	if err != nil {
		return nil, errors.Wrap(err, "error decrypting blob")
	}
	return pt, nil
}
