package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"phicore/internal/authz"
	"phicore/internal/tuplestore"
)

var (
	tupleOnce     sync.Once
	tupleSchema   *tuplestore.Schema
	tupleStore    *tuplestore.MemoryStore
	tupleEngine   *authz.Engine
	knownRelations = map[string]map[string]tuplestore.Rewrite{}
)

func tuplesFilePath() string {
	if cfg != nil && cfg.Database.DSN != "" {
		return cfg.Database.DSN
	}
	return "config/tuples.json"
}

// tupleInit lazily builds an in-memory store seeded from the snapshot file
// on disk, registering every (object type, relation) pair it encounters as
// a direct-tuple-only relation so admin-entered grants never fail schema
// validation (schema rewrite design is exercised by the engine's own
// tests, not by this tool).
func tupleInit(cmd *cobra.Command, _ []string) error {
	var err error
	tupleOnce.Do(func() {
		tupleSchema = tuplestore.NewSchema()
		tupleStore = tuplestore.NewMemoryStore(tupleSchema)

		tuples, loadErr := loadTupleSnapshot(tuplesFilePath())
		if loadErr != nil {
			err = loadErr
			return
		}
		for _, t := range tuples {
			registerRelation(t.Object.Type, t.Relation)
			if werr := tupleStore.WriteTuple(context.Background(), t); werr != nil {
				err = fmt.Errorf("seed tuple %s: %w", t.NaturalKey(), werr)
				return
			}
		}
		tupleEngine = authz.NewEngine(tupleStore, tupleSchema)
	})
	return err
}

// registerRelation declares (objectType, relation) as direct-tuple-only if
// it isn't already declared, merging into whatever relations this tool has
// already registered for objectType rather than overwriting them.
func registerRelation(objectType, relation string) {
	if _, ok := tupleSchema.Relation(objectType, relation); ok {
		return
	}
	relations, ok := knownRelations[objectType]
	if !ok {
		relations = map[string]tuplestore.Rewrite{}
		knownRelations[objectType] = relations
	}
	relations[relation] = tuplestore.Rewrite{Kind: tuplestore.This}
	tupleSchema.PutType(tuplestore.ObjectTypeSchema{Type: objectType, Relations: relations})
}

func loadTupleSnapshot(path string) ([]tuplestore.Tuple, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tuple snapshot: %w", err)
	}
	var tuples []tuplestore.Tuple
	if err := json.Unmarshal(data, &tuples); err != nil {
		return nil, fmt.Errorf("decode tuple snapshot: %w", err)
	}
	return tuples, nil
}

func saveTupleSnapshot(tenant string) error {
	tuples, err := tupleStore.ReadTuples(context.Background(), tuplestore.ReadFilter{Tenant: tenant})
	if err != nil {
		return fmt.Errorf("read tuples for snapshot: %w", err)
	}
	data, err := json.MarshalIndent(tuples, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tuple snapshot: %w", err)
	}
	return os.WriteFile(tuplesFilePath(), data, 0o600)
}

func tupleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tuple", Short: "administer relationship tuples", PersistentPreRunE: tupleInit}
	cmd.AddCommand(tupleWriteCmd(), tupleDeleteCmd(), tupleCheckCmd(), tupleListCmd())
	return cmd
}

func tupleFlags(cmd *cobra.Command) {
	cmd.Flags().String("tenant", "default", "tenant id")
	cmd.Flags().String("subject-type", "", "subject object type")
	cmd.Flags().String("subject-id", "", "subject object id")
	cmd.Flags().String("subject-relation", "", "subject userset relation (empty for a concrete principal)")
	cmd.Flags().String("relation", "", "relation being granted")
	cmd.Flags().String("object-type", "", "object type")
	cmd.Flags().String("object-id", "", "object id")
	cmd.Flags().Duration("ttl", 0, "optional expiry, 0 for no expiry")
}

func tupleFromFlags(cmd *cobra.Command) tuplestore.Tuple {
	tenant, _ := cmd.Flags().GetString("tenant")
	subjType, _ := cmd.Flags().GetString("subject-type")
	subjID, _ := cmd.Flags().GetString("subject-id")
	subjRel, _ := cmd.Flags().GetString("subject-relation")
	relation, _ := cmd.Flags().GetString("relation")
	objType, _ := cmd.Flags().GetString("object-type")
	objID, _ := cmd.Flags().GetString("object-id")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	t := tuplestore.Tuple{
		Tenant: tenant,
		Subject: tuplestore.Subject{
			Object:   tuplestore.Object{Type: subjType, ID: subjID},
			Relation: subjRel,
		},
		Relation:  relation,
		Object:    tuplestore.Object{Type: objType, ID: objID},
		CreatedAt: time.Now().UTC(),
	}
	if ttl > 0 {
		exp := t.CreatedAt.Add(ttl)
		t.ExpiresAt = &exp
	}
	return t
}

func tupleWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write",
		Short: "write a relationship tuple",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := tupleFromFlags(cmd)
			registerRelation(t.Object.Type, t.Relation)
			if err := tupleStore.WriteTuple(cmd.Context(), t); err != nil {
				return err
			}
			tupleEngine.InvalidateCache()
			if err := saveTupleSnapshot(t.Tenant); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	tupleFlags(cmd)
	return cmd
}

func tupleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "delete a relationship tuple",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := tupleFromFlags(cmd)
			if err := tupleStore.DeleteTuple(cmd.Context(), t); err != nil {
				return err
			}
			tupleEngine.InvalidateCache()
			if err := saveTupleSnapshot(t.Tenant); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	tupleFlags(cmd)
	return cmd
}

func tupleCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "check whether a subject holds a relation on an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := tupleFromFlags(cmd)
			allowed, err := tupleEngine.Check(cmd.Context(), t.Tenant, t.Subject, t.Relation, t.Object)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), allowed)
			return nil
		},
	}
	tupleFlags(cmd)
	return cmd
}

func tupleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list tuples matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			objType, _ := cmd.Flags().GetString("object-type")
			objID, _ := cmd.Flags().GetString("object-id")

			filter := tuplestore.ReadFilter{Tenant: tenant}
			if objType != "" || objID != "" {
				filter.Object = &tuplestore.Object{Type: objType, ID: objID}
			}
			tuples, err := tupleStore.ReadTuples(cmd.Context(), filter)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tuples)
		},
	}
	cmd.Flags().String("tenant", "default", "tenant id")
	cmd.Flags().String("object-type", "", "filter by object type")
	cmd.Flags().String("object-id", "", "filter by object id")
	return cmd
}
