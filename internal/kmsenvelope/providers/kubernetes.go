package providers

import (
	"context"
	"encoding/base64"
	"fmt"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
)

// KubernetesSecretsProvider stores wrapped DEKs as opaque Secret objects
// against the API server's REST surface (no client-go in the pack — see
// resthelper.go and DESIGN.md; client-go's generated clientset and informer
// machinery has no SPEC_FULL.md component to exercise it, so it is named but
// not wired per the task's out-of-pack rule).
type KubernetesSecretsProvider struct {
	rest      *restClient
	namespace string
}

// NewKubernetesSecretsProvider builds a provider against the API server
// base URL (typically "https://kubernetes.default.svc"), authenticating
// each call with tokenFunc (the mounted service-account token by default).
func NewKubernetesSecretsProvider(apiServerURL, namespace string, tokenFunc func(ctx context.Context) (string, error)) *KubernetesSecretsProvider {
	return &KubernetesSecretsProvider{
		rest:      newRESTClient(apiServerURL, tokenFunc),
		namespace: namespace,
	}
}

type k8sSecret struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   k8sObjectMeta     `json:"metadata"`
	Data       map[string]string `json:"data"`
	Type       string            `json:"type"`
}

type k8sObjectMeta struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

func (p *KubernetesSecretsProvider) Tag() string { return "kubernetes" }

func (p *KubernetesSecretsProvider) secretPath(keyID string) string {
	return fmt.Sprintf("/api/v1/namespaces/%s/secrets/%s", p.namespace, sanitizeK8sName(keyID))
}

func sanitizeK8sName(keyID string) string {
	out := make([]rune, 0, len(keyID))
	for _, r := range keyID {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			out = append(out, r)
			continue
		}
		if r >= 'A' && r <= 'Z' {
			out = append(out, r-'A'+'a')
			continue
		}
		out = append(out, '-')
	}
	return string(out)
}

func (p *KubernetesSecretsProvider) GenerateDataKey(ctx context.Context, keyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	plaintext, err := randomDataKey()
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := encodeJSON(map[string]interface{}{
		"dek":         base64.StdEncoding.EncodeToString(plaintext),
		"object_key":  encCtx.ObjectKey,
		"key_version": encCtx.KeyVersion,
	})
	if err != nil {
		return nil, nil, err
	}
	name := sanitizeK8sName(keyID)
	secret := k8sSecret{
		APIVersion: "v1",
		Kind:       "Secret",
		Metadata:   k8sObjectMeta{Name: name, Namespace: p.namespace},
		Data:       map[string]string{"payload": base64.StdEncoding.EncodeToString(wrapped)},
		Type:       "Opaque",
	}
	if _, err := p.rest.do(ctx, "PUT", p.secretPath(keyID), secret, nil); err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.StorageError, "kubernetes secret write", err)
	}
	return plaintext, wrapped, nil
}

func (p *KubernetesSecretsProvider) DecryptDataKey(ctx context.Context, keyID string, _ []byte, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	var out k8sSecret
	status, err := p.rest.do(ctx, "GET", p.secretPath(keyID), nil, &out)
	if status == 404 {
		return nil, &kmsenvelope.NotFoundErr{KeyID: keyID}
	}
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "kubernetes secret read", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.Data["payload"])
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode kubernetes secret payload", err)
	}
	var body struct {
		DEK string `json:"dek"`
	}
	if err := decodeJSON(raw, &body); err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode kubernetes secret body", err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(body.DEK)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode kubernetes dek", err)
	}
	return plaintext, nil
}

func (p *KubernetesSecretsProvider) ReEncrypt(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	plaintext, err := p.DecryptDataKey(ctx, oldKeyID, wrapped, encCtx)
	if err != nil {
		return nil, err
	}
	defer zero(plaintext)
	_, newWrapped, err := p.GenerateDataKey(ctx, newKeyID, encCtx)
	return newWrapped, err
}

func (p *KubernetesSecretsProvider) HealthCheck(ctx context.Context) error {
	path := fmt.Sprintf("/api/v1/namespaces/%s/secrets?limit=1", p.namespace)
	if _, err := p.rest.do(ctx, "GET", path, nil, nil); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "kubernetes api health check", err)
	}
	return nil
}
