package providers

import (
	"context"
	"encoding/base64"
	"fmt"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
)

// GCPSecretManagerProvider stores wrapped DEKs as Secret Manager secret
// versions through the plain REST API (no GCP SDK in the pack — see
// resthelper.go and DESIGN.md). Each GenerateDataKey call adds a new secret
// version rather than overwriting, mirroring Secret Manager's own
// version-per-write model.
type GCPSecretManagerProvider struct {
	rest      *restClient
	projectID string
}

// NewGCPSecretManagerProvider builds a provider against
// "https://secretmanager.googleapis.com/v1", authenticating each call with
// tokenFunc (an OAuth2 bearer token supplier owned by the caller).
func NewGCPSecretManagerProvider(projectID string, tokenFunc func(ctx context.Context) (string, error)) *GCPSecretManagerProvider {
	return &GCPSecretManagerProvider{
		rest:      newRESTClient("https://secretmanager.googleapis.com/v1", tokenFunc),
		projectID: projectID,
	}
}

type gcpAddVersionRequest struct {
	Payload gcpPayload `json:"payload"`
}

type gcpPayload struct {
	Data string `json:"data"`
}

type gcpAccessResponse struct {
	Payload gcpPayload `json:"payload"`
}

type gcpSecretBody struct {
	DEK        string `json:"dek"`
	ObjectKey  string `json:"object_key"`
	KeyVersion uint32 `json:"key_version"`
}

func (p *GCPSecretManagerProvider) Tag() string { return "gcp-secretmanager" }

func (p *GCPSecretManagerProvider) secretName(keyID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", p.projectID, keyID)
}

func (p *GCPSecretManagerProvider) GenerateDataKey(ctx context.Context, keyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	plaintext, err := randomDataKey()
	if err != nil {
		return nil, nil, err
	}
	body := gcpSecretBody{
		DEK:        base64.StdEncoding.EncodeToString(plaintext),
		ObjectKey:  encCtx.ObjectKey,
		KeyVersion: encCtx.KeyVersion,
	}
	wrapped, err := encodeJSON(body)
	if err != nil {
		return nil, nil, err
	}
	req := gcpAddVersionRequest{Payload: gcpPayload{Data: base64.StdEncoding.EncodeToString(wrapped)}}
	path := fmt.Sprintf("/%s:addVersion", p.secretName(keyID))
	if _, err := p.rest.do(ctx, "POST", path, req, nil); err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.StorageError, "gcp secret manager add version", err)
	}
	return plaintext, wrapped, nil
}

func (p *GCPSecretManagerProvider) DecryptDataKey(ctx context.Context, keyID string, _ []byte, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	var out gcpAccessResponse
	path := fmt.Sprintf("/%s/versions/latest:access", p.secretName(keyID))
	status, err := p.rest.do(ctx, "GET", path, nil, &out)
	if status == 404 {
		return nil, &kmsenvelope.NotFoundErr{KeyID: keyID}
	}
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "gcp secret manager access version", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.Payload.Data)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode gcp secret payload", err)
	}
	var body gcpSecretBody
	if err := decodeJSON(raw, &body); err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode gcp secret body", err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(body.DEK)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode gcp dek", err)
	}
	return plaintext, nil
}

func (p *GCPSecretManagerProvider) ReEncrypt(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	plaintext, err := p.DecryptDataKey(ctx, oldKeyID, wrapped, encCtx)
	if err != nil {
		return nil, err
	}
	defer zero(plaintext)
	_, newWrapped, err := p.GenerateDataKey(ctx, newKeyID, encCtx)
	return newWrapped, err
}

func (p *GCPSecretManagerProvider) HealthCheck(ctx context.Context) error {
	path := fmt.Sprintf("/projects/%s/secrets?pageSize=1", p.projectID)
	if _, err := p.rest.do(ctx, "GET", path, nil, nil); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "gcp secret manager health check", err)
	}
	return nil
}
