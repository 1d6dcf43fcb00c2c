package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
)

// AzureKeyVaultProvider stores wrapped DEKs as Key Vault secrets via the
// plain REST data-plane API (no SDK in the pack — see resthelper.go and
// DESIGN.md). A secret named by keyID holds the base64 DEK plus its
// encryption context as a JSON value.
type AzureKeyVaultProvider struct {
	rest       *restClient
	apiVersion string
}

// NewAzureKeyVaultProvider builds a provider against a vault base URL such
// as "https://<vault-name>.vault.azure.net", authenticating each call with
// tokenFunc (typically an AAD client-credentials bearer token supplier
// owned by the caller).
func NewAzureKeyVaultProvider(vaultBaseURL string, tokenFunc func(ctx context.Context) (string, error)) *AzureKeyVaultProvider {
	return &AzureKeyVaultProvider{
		rest:       newRESTClient(strings.TrimSuffix(vaultBaseURL, "/"), tokenFunc),
		apiVersion: "7.4",
	}
}

type azureSecretValue struct {
	Value string `json:"value"`
}

type azureSecretBody struct {
	DEK        string `json:"dek"`
	ObjectKey  string `json:"object_key"`
	KeyVersion uint32 `json:"key_version"`
}

func (p *AzureKeyVaultProvider) Tag() string { return "azure-keyvault" }

func (p *AzureKeyVaultProvider) secretPath(keyID string) string {
	return fmt.Sprintf("/secrets/%s?api-version=%s", keyID, p.apiVersion)
}

func (p *AzureKeyVaultProvider) GenerateDataKey(ctx context.Context, keyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	plaintext, err := randomDataKey()
	if err != nil {
		return nil, nil, err
	}
	body := azureSecretBody{
		DEK:        base64.StdEncoding.EncodeToString(plaintext),
		ObjectKey:  encCtx.ObjectKey,
		KeyVersion: encCtx.KeyVersion,
	}
	wrapped, err := encodeJSON(body)
	if err != nil {
		return nil, nil, err
	}
	req := azureSecretValue{Value: string(wrapped)}
	if _, err := p.rest.do(ctx, "PUT", p.secretPath(keyID), req, nil); err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.StorageError, "azure key vault set secret", err)
	}
	return plaintext, wrapped, nil
}

func (p *AzureKeyVaultProvider) DecryptDataKey(ctx context.Context, keyID string, _ []byte, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	var out azureSecretValue
	status, err := p.rest.do(ctx, "GET", p.secretPath(keyID), nil, &out)
	if status == 404 {
		return nil, &kmsenvelope.NotFoundErr{KeyID: keyID}
	}
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "azure key vault get secret", err)
	}
	var body azureSecretBody
	if err := decodeJSON([]byte(out.Value), &body); err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode azure secret body", err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(body.DEK)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode azure dek", err)
	}
	return plaintext, nil
}

func (p *AzureKeyVaultProvider) ReEncrypt(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	plaintext, err := p.DecryptDataKey(ctx, oldKeyID, wrapped, encCtx)
	if err != nil {
		return nil, err
	}
	defer zero(plaintext)
	body := azureSecretBody{
		DEK:        base64.StdEncoding.EncodeToString(plaintext),
		ObjectKey:  encCtx.ObjectKey,
		KeyVersion: encCtx.KeyVersion,
	}
	newWrapped, err := encodeJSON(body)
	if err != nil {
		return nil, err
	}
	req := azureSecretValue{Value: string(newWrapped)}
	if _, err := p.rest.do(ctx, "PUT", p.secretPath(newKeyID), req, nil); err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "azure key vault rotate secret", err)
	}
	return newWrapped, nil
}

func (p *AzureKeyVaultProvider) HealthCheck(ctx context.Context) error {
	_, err := p.rest.do(ctx, "GET", "/secrets?api-version="+p.apiVersion+"&maxresults=1", nil, nil)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "azure key vault health check", err)
	}
	return nil
}
