package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	smithy "github.com/aws/smithy-go"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
)

// AWSKMSProvider wraps/unwraps data keys through AWS KMS GenerateDataKey /
// Decrypt / ReEncrypt, matching the pattern in the pack's awskms encryption
// provider (AWS is used only to wrap/unwrap DEKs, never for per-object bulk
// encryption).
type AWSKMSProvider struct {
	client *kms.Client
}

// NewAWSKMSProvider wraps an already-configured KMS client (built by the
// caller via aws-sdk-go-v2's config.LoadDefaultConfig, mirroring the
// pack's awskms provider loader).
func NewAWSKMSProvider(client *kms.Client) *AWSKMSProvider {
	return &AWSKMSProvider{client: client}
}

func (p *AWSKMSProvider) Tag() string { return "aws-kms" }

func (p *AWSKMSProvider) GenerateDataKey(ctx context.Context, keyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	out, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(keyID),
		KeySpec:           types.DataKeySpecAes256,
		EncryptionContext: encryptionContextMap(encCtx),
	})
	if err != nil {
		return nil, nil, translateAWSErr(keyID, err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (p *AWSKMSProvider) DecryptDataKey(ctx context.Context, keyID string, wrapped []byte, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:     wrapped,
		KeyId:              aws.String(keyID),
		EncryptionContext:  encryptionContextMap(encCtx),
	})
	if err != nil {
		return nil, translateAWSErr(keyID, err)
	}
	return out.Plaintext, nil
}

func (p *AWSKMSProvider) ReEncrypt(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	out, err := p.client.ReEncrypt(ctx, &kms.ReEncryptInput{
		CiphertextBlob:               wrapped,
		SourceKeyId:                  aws.String(oldKeyID),
		DestinationKeyId:             aws.String(newKeyID),
		SourceEncryptionContext:      encryptionContextMap(encCtx),
		DestinationEncryptionContext: encryptionContextMap(encCtx),
	})
	if err != nil {
		return nil, translateAWSErr(newKeyID, err)
	}
	return out.CiphertextBlob, nil
}

func (p *AWSKMSProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListKeys(ctx, &kms.ListKeysInput{Limit: aws.Int32(1)})
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "aws kms health check", err)
	}
	return nil
}

func encryptionContextMap(encCtx kmsenvelope.EncryptionContext) map[string]string {
	b, _ := json.Marshal(encCtx)
	return map[string]string{"phicore_context": string(b)}
}

func translateAWSErr(keyID string, err error) error {
	var nf *types.NotFoundException
	if errors.As(err, &nf) {
		return &kmsenvelope.NotFoundErr{KeyID: keyID}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFoundException" {
		return &kmsenvelope.NotFoundErr{KeyID: keyID}
	}
	return pkgerr.Wrap(pkgerr.StorageError, "aws kms request", err)
}
