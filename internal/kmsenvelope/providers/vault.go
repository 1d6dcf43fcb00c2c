package providers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
)

// VaultProvider stores wrapped DEKs as base64 fields in a Vault KV-v2 mount,
// one secret per object_key, grounded on the Rust original's vault provider
// (read via the KV-v2 API, 404 mapped to NotFoundErr).
type VaultProvider struct {
	client *vaultapi.Client
	mount  string
}

// NewVaultProvider wraps an already-authenticated Vault client (token,
// AppRole, or Kubernetes auth all happen before this call, matching the
// original's login-then-rebuild-client flow).
func NewVaultProvider(client *vaultapi.Client, mount string) *VaultProvider {
	return &VaultProvider{client: client, mount: mount}
}

func (p *VaultProvider) Tag() string { return "vault" }

func (p *VaultProvider) kvPath(keyID string) string {
	return fmt.Sprintf("data/%s", strings.TrimPrefix(keyID, "/"))
}

func (p *VaultProvider) GenerateDataKey(ctx context.Context, keyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	plaintext := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.Internal, "generate vault data key", err)
	}
	wrapped := []byte(base64.StdEncoding.EncodeToString(plaintext))
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"dek":         string(wrapped),
			"object_key":  encCtx.ObjectKey,
			"key_version": encCtx.KeyVersion,
		},
	}
	if _, err := p.client.Logical().WriteWithContext(ctx, p.mount+"/"+p.kvPath(keyID), data); err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.StorageError, "vault kv write", err)
	}
	return plaintext, wrapped, nil
}

func (p *VaultProvider) DecryptDataKey(ctx context.Context, keyID string, wrapped []byte, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	secret, err := p.client.Logical().ReadWithContext(ctx, p.mount+"/"+p.kvPath(keyID))
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return nil, &kmsenvelope.NotFoundErr{KeyID: keyID}
		}
		return nil, pkgerr.Wrap(pkgerr.StorageError, "vault kv read", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, &kmsenvelope.NotFoundErr{KeyID: keyID}
	}
	inner, _ := secret.Data["data"].(map[string]interface{})
	dekField, _ := inner["dek"].(string)
	if dekField == "" {
		return nil, pkgerr.New(pkgerr.DecryptionFailed, "vault secret missing dek field")
	}
	_ = wrapped // the caller's wrapped blob is the base64 DEK text itself, re-derived from Vault as the source of truth
	plaintext, err := base64.StdEncoding.DecodeString(dekField)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode vault dek", err)
	}
	return plaintext, nil
}

func (p *VaultProvider) ReEncrypt(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	plaintext, err := p.DecryptDataKey(ctx, oldKeyID, wrapped, encCtx)
	if err != nil {
		return nil, err
	}
	_, rewrapped, err := p.GenerateDataKey(ctx, newKeyID, encCtx)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"dek":         base64.StdEncoding.EncodeToString(plaintext),
			"object_key":  encCtx.ObjectKey,
			"key_version": encCtx.KeyVersion,
		},
	}
	if _, err := p.client.Logical().WriteWithContext(ctx, p.mount+"/"+p.kvPath(newKeyID), data); err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "vault kv rewrite", err)
	}
	for i := range plaintext {
		plaintext[i] = 0
	}
	return rewrapped, nil
}

func (p *VaultProvider) HealthCheck(ctx context.Context) error {
	health, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "vault health check", err)
	}
	if health.Sealed {
		return pkgerr.New(pkgerr.StorageError, "vault is sealed")
	}
	return nil
}
