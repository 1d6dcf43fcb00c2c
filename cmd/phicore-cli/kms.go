package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/spf13/cobra"

	"phicore/internal/kmsenvelope"
	"phicore/internal/kmsenvelope/providers"
)

// buildProvider constructs the Provider named by cfg.KMS.Provider. Only
// variants that can be bootstrapped from this process's own environment
// without an external SDK config loader are supported here; env and vault
// cover local development and the common self-hosted deployment, matching
// what the CLI's own config can express without pulling in an SDK-specific
// bootstrap layer.
func buildProvider() (kmsenvelope.Provider, error) {
	switch cfg.KMS.Provider {
	case "", "env":
		key, err := envMasterKey()
		if err != nil {
			return nil, err
		}
		return providers.NewEnvProvider(key)
	case "vault":
		vc := vaultapi.DefaultConfig()
		if cfg.KMS.VaultAddr != "" {
			vc.Address = cfg.KMS.VaultAddr
		}
		client, err := vaultapi.NewClient(vc)
		if err != nil {
			return nil, fmt.Errorf("build vault client: %w", err)
		}
		return providers.NewVaultProvider(client, "secret"), nil
	default:
		return nil, fmt.Errorf("kms provider %q requires programmatic wiring (cloud SDK bootstrap) beyond phicore-cli", cfg.KMS.Provider)
	}
}

func envMasterKey() ([]byte, error) {
	encoded := os.Getenv("PHICORE_MASTER_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("PHICORE_MASTER_KEY must hold a base64-encoded 32-byte key for the env KMS provider")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode PHICORE_MASTER_KEY: %w", err)
	}
	return key, nil
}

func kmsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "kms", Short: "KMS data-key operations"}
	cmd.AddCommand(kmsGenerateKeyCmd(), kmsGenerateDEKCmd(), kmsDecryptDEKCmd())
	return cmd
}

func kmsGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-master-key",
		Short: "print a fresh base64-encoded 32-byte key suitable for PHICORE_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := io.ReadFull(rand.Reader, key); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

func kmsGenerateDEKCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-dek [object-key]",
		Short: "generate and print a wrapped DEK for an object key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := buildProvider()
			if err != nil {
				return err
			}
			orch := kmsenvelope.NewOrchestrator(provider, cfg.KMS.KeyID)
			holder, _, meta, err := orch.GenerateDEK(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			holder.Destroy()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
	return cmd
}

func kmsDecryptDEKCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt-dek [object-key] [metadata-json-file]",
		Short: "unwrap the DEK described by a metadata sidecar file and confirm it unwraps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read metadata file: %w", err)
			}
			var meta kmsenvelope.Metadata
			if err := json.Unmarshal(data, &meta); err != nil {
				return fmt.Errorf("decode metadata file: %w", err)
			}
			provider, err := buildProvider()
			if err != nil {
				return err
			}
			orch := kmsenvelope.NewOrchestrator(provider, cfg.KMS.KeyID)
			holder, err := orch.DecryptDEK(cmd.Context(), args[0], meta.EncryptedDEK, meta)
			if err != nil {
				return err
			}
			holder.Destroy()
			fmt.Fprintln(cmd.OutOrStdout(), "dek unwrapped successfully")
			return nil
		},
	}
	return cmd
}
